package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/auth"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/search"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

func issueTestToken(t *testing.T, svc *Service, wallet, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Wallet: wallet,
		Role:   role,
		JTI:    "jti-test",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestSessionLoginReturnsContract(t *testing.T) {
	var upserted store.Member
	st := &fakeStore{
		upsertMemberFn: func(_ context.Context, member store.Member) error {
			upserted = member
			return nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewBufferString(`{"coopId":"coop-1","wallet":"w-abc"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	token, _ := payload["token"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if token == "" || refreshToken == "" {
		t.Fatalf("expected token and refreshToken, got %v", payload)
	}
	if payload["wallet"] != "w-abc" || payload["role"] != "member" {
		t.Fatalf("expected member session for w-abc, got %v", payload)
	}
	if upserted.CoopID != "coop-1" {
		t.Fatalf("first login should enroll the wallet, upserted=%+v", upserted)
	}
}

func TestSessionLoginRejectsInvalidBody(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewBufferString(`{"wallet":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %v", payload["code"])
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/coops/coop-1/config", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	assertUnauthorizedCode(t, rr)
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	server := NewHTTPServer(svc, "*")

	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Wallet: "w-abc",
		Role:   "member",
		JTI:    "jti-expired",
		Exp:    time.Now().Add(-1 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/coops/coop-1/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	assertUnauthorizedCode(t, rr)
}

func TestHealthIsPublic(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSubmitProposalOverHTTP(t *testing.T) {
	active := testCoopConfig()
	var inserted store.Proposal
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		insertProposalFn: func(_ context.Context, item store.Proposal, _ store.ProposalRevision, _ []store.GoalScore) error {
			inserted = item
			return nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return inserted, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)
	server := NewHTTPServer(svc, "*")

	body := `{"title":"Grocery co-op","rawText":"Open a grocery store","budget":{"amountRequested":1200}}`
	req := httptest.NewRequest(http.MethodPost, "/api/coops/coop-1/proposals", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "w-abc", "member"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Proposal store.Proposal `json:"proposal"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.Proposal.Status != store.StatusSubmitted {
		t.Fatalf("status = %s, want submitted", payload.Proposal.Status)
	}
	if payload.Proposal.Decision != store.DecisionAdvance {
		t.Fatalf("decision = %s, want advance", payload.Proposal.Decision)
	}
}

func TestSearchEndpointFiltersByType(t *testing.T) {
	svc, _, idx, _ := newTestService(&fakeStore{}, nil, nil)
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "w-abc", "member")

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=grocery&type=proposal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	idx.mu.Lock()
	got := idx.lastQuery
	idx.mu.Unlock()
	if got.FilterType != search.ResultProposal || got.Text != "grocery" {
		t.Fatalf("query = %+v, want proposal filter on %q", got, "grocery")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/search?q=grocery&type=wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected code VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestStatusEndpointRejectsNonAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/proposals/prop_1/status", bytes.NewBufferString(`{"status":"votable"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, svc, "w-abc", "member"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
	}
}

func assertUnauthorizedCode(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}
