package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/charter"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/config"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/scoring"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/search"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

type fakeStore struct {
	getActiveConfigFn      func(context.Context, string) (*store.CoopConfig, error)
	getConfigVersionFn     func(context.Context, string, int) (store.CoopConfig, error)
	insertConfigFn         func(context.Context, store.CoopConfig) error
	replaceActiveConfigFn  func(context.Context, store.CoopConfig, store.CoopConfigAudit) error
	listConfigAuditsFn     func(context.Context, string, int, int) ([]store.CoopConfigAudit, error)
	insertAmendmentFn      func(context.Context, store.Amendment) error
	getAmendmentFn         func(context.Context, string) (store.Amendment, error)
	resolveAmendmentFn     func(context.Context, string, string, string, *int) (bool, error)
	getProposalFn          func(context.Context, string) (store.Proposal, error)
	insertProposalFn       func(context.Context, store.Proposal, store.ProposalRevision, []store.GoalScore) error
	appendRevisionFn       func(context.Context, store.ProposalRevision, []store.GoalScore, store.Proposal) (int, error)
	latestRevisionFn       func(context.Context, string) (store.ProposalRevision, error)
	updateProposalStatusFn func(context.Context, string, string) error
	getGoalScoreFn         func(context.Context, string, int, string) (store.GoalScore, error)
	upsertExpertScoreFn    func(context.Context, string, int, string, string, float64, string) (bool, error)
	upsertCouncilVoteFn    func(context.Context, string, string, string) error
	councilVoteTallyFn     func(context.Context, string) (store.VoteTally, error)
	insertCommentFn        func(context.Context, store.Comment) error
	setCommentEvalFn       func(context.Context, string, store.CommentEvaluation) error
	toggleReactionFn       func(context.Context, string, string, string) (bool, error)
	reactionCountsFn       func(context.Context, string) (map[string]int, error)
	getMemberFn            func(context.Context, string, string) (store.Member, error)
	upsertMemberFn         func(context.Context, store.Member) error
	eligibleVotersFn       func(context.Context, string) (int, error)
}

func (f *fakeStore) GetActiveConfig(ctx context.Context, coopID string) (*store.CoopConfig, error) {
	if f.getActiveConfigFn != nil {
		return f.getActiveConfigFn(ctx, coopID)
	}
	return nil, nil
}
func (f *fakeStore) GetConfigVersion(ctx context.Context, coopID string, version int) (store.CoopConfig, error) {
	if f.getConfigVersionFn != nil {
		return f.getConfigVersionFn(ctx, coopID, version)
	}
	return store.CoopConfig{}, sql.ErrNoRows
}
func (f *fakeStore) ListConfigVersions(context.Context, string) ([]store.CoopConfig, error) {
	return nil, nil
}
func (f *fakeStore) InsertConfig(ctx context.Context, item store.CoopConfig) error {
	if f.insertConfigFn != nil {
		return f.insertConfigFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) ReplaceActiveConfig(ctx context.Context, next store.CoopConfig, audit store.CoopConfigAudit) error {
	if f.replaceActiveConfigFn != nil {
		return f.replaceActiveConfigFn(ctx, next, audit)
	}
	return nil
}
func (f *fakeStore) ListConfigAudits(ctx context.Context, coopID string, limit, offset int) ([]store.CoopConfigAudit, error) {
	if f.listConfigAuditsFn != nil {
		return f.listConfigAuditsFn(ctx, coopID, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) InsertAmendment(ctx context.Context, item store.Amendment) error {
	if f.insertAmendmentFn != nil {
		return f.insertAmendmentFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetAmendment(ctx context.Context, amendmentID string) (store.Amendment, error) {
	if f.getAmendmentFn != nil {
		return f.getAmendmentFn(ctx, amendmentID)
	}
	return store.Amendment{}, sql.ErrNoRows
}
func (f *fakeStore) ListPendingAmendments(context.Context, string, string) ([]store.Amendment, error) {
	return nil, nil
}
func (f *fakeStore) ListAmendments(context.Context, string) ([]store.Amendment, error) {
	return nil, nil
}
func (f *fakeStore) ResolveAmendment(ctx context.Context, amendmentID, status, reviewedBy string, appliedVersion *int) (bool, error) {
	if f.resolveAmendmentFn != nil {
		return f.resolveAmendmentFn(ctx, amendmentID, status, reviewedBy, appliedVersion)
	}
	return false, nil
}
func (f *fakeStore) GetProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	if f.getProposalFn != nil {
		return f.getProposalFn(ctx, proposalID)
	}
	return store.Proposal{}, sql.ErrNoRows
}
func (f *fakeStore) ListProposals(context.Context, string) ([]store.Proposal, error) {
	return nil, nil
}
func (f *fakeStore) InsertProposal(ctx context.Context, item store.Proposal, revision store.ProposalRevision, scores []store.GoalScore) error {
	if f.insertProposalFn != nil {
		return f.insertProposalFn(ctx, item, revision, scores)
	}
	return nil
}
func (f *fakeStore) AppendRevision(ctx context.Context, revision store.ProposalRevision, scores []store.GoalScore, view store.Proposal) (int, error) {
	if f.appendRevisionFn != nil {
		return f.appendRevisionFn(ctx, revision, scores, view)
	}
	return 0, nil
}
func (f *fakeStore) ListRevisions(context.Context, string) ([]store.ProposalRevision, error) {
	return nil, nil
}
func (f *fakeStore) LatestRevision(ctx context.Context, proposalID string) (store.ProposalRevision, error) {
	if f.latestRevisionFn != nil {
		return f.latestRevisionFn(ctx, proposalID)
	}
	return store.ProposalRevision{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	if f.updateProposalStatusFn != nil {
		return f.updateProposalStatusFn(ctx, proposalID, status)
	}
	return nil
}
func (f *fakeStore) ListGoalScores(context.Context, string, int) ([]store.GoalScore, error) {
	return nil, nil
}
func (f *fakeStore) GetGoalScore(ctx context.Context, proposalID string, revisionNumber int, goalID string) (store.GoalScore, error) {
	if f.getGoalScoreFn != nil {
		return f.getGoalScoreFn(ctx, proposalID, revisionNumber, goalID)
	}
	return store.GoalScore{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertExpertScore(ctx context.Context, proposalID string, revisionNumber int, goalID, wallet string, score float64, reason string) (bool, error) {
	if f.upsertExpertScoreFn != nil {
		return f.upsertExpertScoreFn(ctx, proposalID, revisionNumber, goalID, wallet, score, reason)
	}
	return false, nil
}
func (f *fakeStore) UpsertCouncilVote(ctx context.Context, proposalID, voterWallet, choice string) error {
	if f.upsertCouncilVoteFn != nil {
		return f.upsertCouncilVoteFn(ctx, proposalID, voterWallet, choice)
	}
	return nil
}
func (f *fakeStore) CouncilVoteTally(ctx context.Context, proposalID string) (store.VoteTally, error) {
	if f.councilVoteTallyFn != nil {
		return f.councilVoteTallyFn(ctx, proposalID)
	}
	return store.VoteTally{}, nil
}
func (f *fakeStore) ListCouncilVotes(context.Context, string) ([]store.CouncilVote, error) {
	return nil, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, item store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) SetCommentEvaluation(ctx context.Context, commentID string, eval store.CommentEvaluation) error {
	if f.setCommentEvalFn != nil {
		return f.setCommentEvalFn(ctx, commentID, eval)
	}
	return nil
}
func (f *fakeStore) ListComments(context.Context, string) ([]store.Comment, error) { return nil, nil }
func (f *fakeStore) ToggleReaction(ctx context.Context, proposalID, wallet, kind string) (bool, error) {
	if f.toggleReactionFn != nil {
		return f.toggleReactionFn(ctx, proposalID, wallet, kind)
	}
	return false, nil
}
func (f *fakeStore) ReactionCounts(ctx context.Context, proposalID string) (map[string]int, error) {
	if f.reactionCountsFn != nil {
		return f.reactionCountsFn(ctx, proposalID)
	}
	return map[string]int{}, nil
}
func (f *fakeStore) GetMember(ctx context.Context, coopID, wallet string) (store.Member, error) {
	if f.getMemberFn != nil {
		return f.getMemberFn(ctx, coopID, wallet)
	}
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertMember(ctx context.Context, member store.Member) error {
	if f.upsertMemberFn != nil {
		return f.upsertMemberFn(ctx, member)
	}
	return nil
}
func (f *fakeStore) EligibleVoters(ctx context.Context, coopID string) (int, error) {
	if f.eligibleVotersFn != nil {
		return f.eligibleVotersFn(ctx, coopID)
	}
	return 0, nil
}
func (f *fakeStore) UpsertVoterPool(context.Context, string, int) error { return nil }
func (f *fakeStore) Ping(context.Context) error                        { return nil }

type fakeCharter struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeCharter) Record(coopID string, doc charter.Document, author, message string) (charter.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return charter.CommitInfo{Hash: "abc1234", Message: message, Author: author}, nil
}
func (f *fakeCharter) Head(string) (charter.Document, charter.CommitInfo, error) {
	return charter.Document{}, charter.CommitInfo{}, nil
}
func (f *fakeCharter) At(string, string) (charter.Document, error) {
	return charter.Document{}, nil
}
func (f *fakeCharter) History(string, int) ([]charter.CommitInfo, error) { return nil, nil }

type fakeSearchIndex struct {
	mu        sync.Mutex
	lastQuery search.Query
	proposals []search.ProposalRecord
	comments  []search.CommentRecord
}

func (f *fakeSearchIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return search.Response{Query: q.Text}
}
func (f *fakeSearchIndex) IndexProposal(p search.ProposalRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals = append(f.proposals, p)
}
func (f *fakeSearchIndex) IndexComment(c search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, c)
}

type fakeSessions struct {
	mu      sync.Mutex
	wallets map[string]string
	revoked []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{wallets: make(map[string]string)}
}
func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, wallet string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[tokenHash] = wallet
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallet, ok := f.wallets[tokenHash]
	if !ok {
		return "", errors.New("token not found or expired")
	}
	return wallet, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wallets, tokenHash)
	f.revoked = append(f.revoked, tokenHash)
	return nil
}

type fakeEvaluator struct {
	scoreProposal func(ctx context.Context, text string, meta scoring.Metadata, cfg store.CoopConfig) (scoring.RawScores, error)
}

func (f *fakeEvaluator) ScoreProposal(ctx context.Context, text string, meta scoring.Metadata, cfg store.CoopConfig) (scoring.RawScores, error) {
	if f.scoreProposal != nil {
		return f.scoreProposal(ctx, text, meta, cfg)
	}
	return scoring.RawScores{
		GoalScores: map[string]float64{"local_jobs": 0.9, "income_stability": 0.8},
		StructuralScores: store.StructuralScores{
			Feasibility: 0.8, Risk: 0.7, Accountability: 0.9,
		},
	}, nil
}

type fakeCommentEval struct {
	fn func(ctx context.Context, body, summary string, cfg store.CoopConfig) (store.CommentEvaluation, error)
}

func (f *fakeCommentEval) EvaluateComment(ctx context.Context, body, summary string, cfg store.CoopConfig) (store.CommentEvaluation, error) {
	if f.fn != nil {
		return f.fn(ctx, body, summary, cfg)
	}
	return store.CommentEvaluation{Alignment: store.AlignmentAligned, Score: 0.9}, nil
}

func testCoopConfig() store.CoopConfig {
	return store.CoopConfig{
		CoopID:   "coop-1",
		Version:  1,
		IsActive: true,
		MissionGoals: []store.MissionGoal{
			{Key: "local_jobs", Label: "Local jobs", PriorityWeight: 2},
			{Key: "income_stability", Label: "Income stability", PriorityWeight: 1, Domain: "finance"},
		},
		StructuralWeights:       store.StructuralWeights{Feasibility: 0.4, Risk: 0.3, Accountability: 0.3},
		ScoreMix:                store.ScoreMix{MissionWeight: 0.6, StructuralWeight: 0.4},
		Thresholds:              store.Thresholds{ScreeningPass: 0.6, StrongGoal: 0.7, MissionMin: 0.4, StructuralGate: 0.3},
		Governance:              store.Governance{QuorumPercent: 50, ApprovalThresholdPercent: 50, VotingWindowDays: 7},
		ProposalCategories:      []string{"food", "housing"},
		CouncilVoteThresholdUSD: 5000,
		CharterText:             "We build member-owned businesses.",
	}
}

func newTestService(st dataStore, evaluator scoring.Evaluator, commentEval commentEvaluator) (*Service, *fakeCharter, *fakeSearchIndex, *fakeSessions) {
	charterSvc := &fakeCharter{}
	idx := &fakeSearchIndex{}
	sessions := newFakeSessions()
	if evaluator == nil {
		evaluator = &fakeEvaluator{}
	}
	if commentEval == nil {
		commentEval = &fakeCommentEval{}
	}
	svc := &Service{
		cfg: config.Config{
			JWTSecret:   "test-secret",
			AccessTTL:   time.Hour,
			RefreshTTL:  24 * time.Hour,
			EvalTimeout: time.Second,
		},
		store:         st,
		charter:       charterSvc,
		engine:        scoring.NewEngine(evaluator),
		comments:      commentEval,
		search:        idx,
		sessions:      sessions,
		proposalLocks: make(map[string]*sync.Mutex),
	}
	return svc, charterSvc, idx, sessions
}

func adminSession() Session  { return Session{Wallet: "w-admin", Role: "admin"} }
func memberSession() Session { return Session{Wallet: "w-member", Role: "member"} }

func wantDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("got %d %s, want %d %s", domainErr.Status, domainErr.Code, status, code)
	}
}

func TestCreateConfigRequiresAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	_, err := svc.CreateConfig(context.Background(), memberSession(), "coop-1", CreateConfigInput{})
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestCreateConfigConflictsWithActive(t *testing.T) {
	active := testCoopConfig()
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)
	_, err := svc.CreateConfig(context.Background(), adminSession(), "coop-1", CreateConfigInput{
		MissionGoals: active.MissionGoals,
	})
	wantDomainError(t, err, http.StatusConflict, "CONFIG_EXISTS")
}

func TestCreateConfigSeedsDefaultsAndRecordsCharter(t *testing.T) {
	var inserted store.CoopConfig
	first := true
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			if first {
				first = false
				return nil, nil
			}
			return &inserted, nil
		},
		insertConfigFn: func(_ context.Context, item store.CoopConfig) error {
			inserted = item
			return nil
		},
	}
	svc, charterSvc, _, _ := newTestService(st, nil, nil)

	created, err := svc.CreateConfig(context.Background(), adminSession(), "coop-1", CreateConfigInput{
		CharterText: "Charter v1",
	})
	if err != nil {
		t.Fatalf("CreateConfig() error = %v", err)
	}
	if created.Version != 1 || !created.IsActive {
		t.Fatalf("created = v%d active=%v, want v1 active", created.Version, created.IsActive)
	}
	if created.Thresholds.ScreeningPass != 0.6 || created.ScoreMix.MissionWeight != 0.6 {
		t.Errorf("defaults not seeded: %+v %+v", created.Thresholds, created.ScoreMix)
	}
	if len(created.MissionGoals) == 0 || len(created.ProposalCategories) == 0 {
		t.Errorf("omitted goals/categories should be seeded, got %+v", created)
	}
	if len(charterSvc.messages) != 1 {
		t.Errorf("charter commits = %d, want 1", len(charterSvc.messages))
	}
}

func TestUpdateConfigBumpsVersionWithDiff(t *testing.T) {
	active := testCoopConfig()
	active.Version = 3
	var gotNext store.CoopConfig
	var gotAudit store.CoopConfigAudit
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		replaceActiveConfigFn: func(_ context.Context, next store.CoopConfig, audit store.CoopConfigAudit) error {
			gotNext = next
			gotAudit = audit
			return nil
		},
	}
	svc, charterSvc, _, _ := newTestService(st, nil, nil)

	updated, err := svc.UpdateConfig(context.Background(), adminSession(), "coop-1", UpdateConfigInput{
		Changes: map[string]any{
			"thresholds": map[string]any{"screeningPassThreshold": 0.75},
		},
		Reason: "raise the screening bar",
	})
	if err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if updated.Version != 4 || gotNext.Version != 4 || gotAudit.Version != 4 {
		t.Fatalf("version = %d/%d/%d, want 4", updated.Version, gotNext.Version, gotAudit.Version)
	}
	if updated.Thresholds.ScreeningPass != 0.75 {
		t.Errorf("ScreeningPass = %v, want 0.75", updated.Thresholds.ScreeningPass)
	}
	// Partial patch: sibling threshold fields survive.
	if updated.Thresholds.StrongGoal != 0.7 {
		t.Errorf("StrongGoal = %v, want 0.7", updated.Thresholds.StrongGoal)
	}
	if len(gotAudit.Diff) != 1 || gotAudit.Diff[0].Field != "thresholds" {
		t.Errorf("diff = %+v, want single thresholds entry", gotAudit.Diff)
	}
	if len(charterSvc.messages) != 0 {
		t.Errorf("charter commits = %d, want 0 (text unchanged)", len(charterSvc.messages))
	}
}

func TestUpdateConfigRecordsCharterOnTextChange(t *testing.T) {
	active := testCoopConfig()
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
	}
	svc, charterSvc, _, _ := newTestService(st, nil, nil)

	_, err := svc.UpdateConfig(context.Background(), adminSession(), "coop-1", UpdateConfigInput{
		Changes: map[string]any{"charterText": "Revised charter"},
		Reason:  "charter refresh",
	})
	if err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if len(charterSvc.messages) != 1 {
		t.Fatalf("charter commits = %d, want 1", len(charterSvc.messages))
	}
}

func TestUpdateConfigConcurrentBumpConflicts(t *testing.T) {
	active := testCoopConfig()
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		replaceActiveConfigFn: func(context.Context, store.CoopConfig, store.CoopConfigAudit) error {
			return sql.ErrNoRows
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.UpdateConfig(context.Background(), adminSession(), "coop-1", UpdateConfigInput{
		Changes: map[string]any{"councilVoteThresholdUsd": 9000},
		Reason:  "bump threshold",
	})
	wantDomainError(t, err, http.StatusConflict, "VERSION_CONFLICT")
}

func TestUpdateConfigRejectsUnknownField(t *testing.T) {
	active := testCoopConfig()
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.UpdateConfig(context.Background(), adminSession(), "coop-1", UpdateConfigInput{
		Changes: map[string]any{"votingPower": 3},
		Reason:  "oops",
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestProposeAmendmentValidatesSectionAndKind(t *testing.T) {
	active := testCoopConfig()
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.ProposeAmendment(context.Background(), memberSession(), "coop-1", ProposeAmendmentInput{
		Section: "weather", Kind: "CONFIG", Reason: "x",
		ProposedChanges: map[string]any{"thresholds": map[string]any{}},
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.ProposeAmendment(context.Background(), memberSession(), "coop-1", ProposeAmendmentInput{
		Section: "charter", Kind: "WISH", Reason: "x", ProposedText: "text",
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestAcknowledgeAmendmentAppliesNextVersion(t *testing.T) {
	active := testCoopConfig()
	active.Version = 2
	amendment := store.Amendment{
		ID:      "amd_1",
		CoopID:  "coop-1",
		Section: "scoring",
		Kind:    store.AmendmentKindConfig,
		ProposedChanges: map[string]any{
			"scoreMix": map[string]any{"missionWeight": 0.7, "structuralWeight": 0.3},
		},
		Reason: "weight mission higher",
		Status: store.AmendmentPending,
	}
	var resolvedStatus string
	var appliedVersion *int
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		getAmendmentFn: func(context.Context, string) (store.Amendment, error) {
			return amendment, nil
		},
		resolveAmendmentFn: func(_ context.Context, _, status, _ string, applied *int) (bool, error) {
			resolvedStatus = status
			appliedVersion = applied
			return true, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, cfg, err := svc.AcknowledgeAmendment(context.Background(), adminSession(), "coop-1", "amd_1")
	if err != nil {
		t.Fatalf("AcknowledgeAmendment() error = %v", err)
	}
	if cfg.Version != 3 || cfg.ScoreMix.MissionWeight != 0.7 {
		t.Fatalf("config = v%d mix=%+v, want v3 with missionWeight 0.7", cfg.Version, cfg.ScoreMix)
	}
	if resolvedStatus != store.AmendmentAcknowledged {
		t.Errorf("resolved status = %s, want ACKNOWLEDGED", resolvedStatus)
	}
	if appliedVersion == nil || *appliedVersion != 3 {
		t.Errorf("appliedVersion = %v, want 3", appliedVersion)
	}
}

func TestAcknowledgeAmendmentRefusesResolved(t *testing.T) {
	amendment := store.Amendment{
		ID: "amd_1", CoopID: "coop-1", Status: store.AmendmentSuperseded,
	}
	st := &fakeStore{
		getAmendmentFn: func(context.Context, string) (store.Amendment, error) {
			return amendment, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, _, err := svc.AcknowledgeAmendment(context.Background(), adminSession(), "coop-1", "amd_1")
	wantDomainError(t, err, http.StatusConflict, "AMENDMENT_NOT_PENDING")
}

func TestSubmitProposalFailsClosed(t *testing.T) {
	active := testCoopConfig()
	inserted := false
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		insertProposalFn: func(context.Context, store.Proposal, store.ProposalRevision, []store.GoalScore) error {
			inserted = true
			return nil
		},
	}
	evaluator := &fakeEvaluator{
		scoreProposal: func(context.Context, string, scoring.Metadata, store.CoopConfig) (scoring.RawScores, error) {
			return scoring.RawScores{}, errors.New("model endpoint unreachable")
		},
	}
	svc, _, _, _ := newTestService(st, evaluator, nil)

	_, err := svc.SubmitProposal(context.Background(), memberSession(), "coop-1", SubmitProposalInput{
		Title:   "Grocery co-op",
		RawText: "Open a grocery store",
		Budget:  store.Budget{AmountRequested: 1000},
	})
	wantDomainError(t, err, http.StatusBadGateway, "EVALUATION_FAILED")
	if inserted {
		t.Error("proposal was written despite evaluator failure")
	}
}

func TestSubmitProposalSnapshotsCouncilGate(t *testing.T) {
	active := testCoopConfig()
	var inserted store.Proposal
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		insertProposalFn: func(_ context.Context, item store.Proposal, revision store.ProposalRevision, scores []store.GoalScore) error {
			if revision.RevisionNumber != 1 {
				t.Errorf("first revision number = %d, want 1", revision.RevisionNumber)
			}
			if len(scores) != 2 {
				t.Errorf("goal scores = %d, want 2", len(scores))
			}
			inserted = item
			return nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return inserted, nil
		},
	}
	svc, _, idx, _ := newTestService(st, nil, nil)

	big, err := svc.SubmitProposal(context.Background(), memberSession(), "coop-1", SubmitProposalInput{
		Title:   "Grocery co-op",
		RawText: "Open a grocery store",
		Budget:  store.Budget{AmountRequested: 8000},
	})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}
	if !big.CouncilRequired {
		t.Error("8000 USD advance proposal should require a council vote")
	}
	if big.Status != store.StatusSubmitted {
		t.Errorf("status = %s, want submitted", big.Status)
	}

	small, err := svc.SubmitProposal(context.Background(), memberSession(), "coop-1", SubmitProposalInput{
		Title:   "Tool library",
		RawText: "Buy shared tools",
		Budget:  store.Budget{AmountRequested: 300},
	})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}
	if small.CouncilRequired {
		t.Error("300 USD proposal should not require a council vote")
	}

	if len(idx.proposals) != 2 {
		t.Errorf("indexed proposals = %d, want 2", len(idx.proposals))
	}
}

func TestResubmitRequiresProposer(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", ProposerWallet: "w-owner", Status: store.StatusSubmitted}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.Resubmit(context.Background(), memberSession(), "prop_1", ResubmitInput{RawText: "new text"})
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestResubmitAppendsRevisionWithoutStatusChange(t *testing.T) {
	active := testCoopConfig()
	item := store.Proposal{
		ID: "prop_1", CoopID: "coop-1", ProposerWallet: "w-member",
		Status: store.StatusVotable, Title: "Grocery co-op",
		Budget: store.Budget{AmountRequested: 300},
	}
	var appended store.ProposalRevision
	statusChanged := false
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return item, nil
		},
		appendRevisionFn: func(_ context.Context, revision store.ProposalRevision, _ []store.GoalScore, view store.Proposal) (int, error) {
			appended = revision
			if view.Status != store.StatusVotable {
				t.Errorf("view status = %s, want votable untouched", view.Status)
			}
			return 2, nil
		},
		updateProposalStatusFn: func(context.Context, string, string) error {
			statusChanged = true
			return nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.Resubmit(context.Background(), memberSession(), "prop_1", ResubmitInput{RawText: "revised text"})
	if err != nil {
		t.Fatalf("Resubmit() error = %v", err)
	}
	if appended.RawText != "revised text" {
		t.Errorf("revision raw text = %q", appended.RawText)
	}
	if statusChanged {
		t.Error("resubmit must never change lifecycle status")
	}
}

func TestResubmitSerializesRevisionWrites(t *testing.T) {
	active := testCoopConfig()
	var inflight, overlaps int32
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", CoopID: "coop-1", ProposerWallet: "w-member", Status: store.StatusVotable}, nil
		},
		appendRevisionFn: func(context.Context, store.ProposalRevision, []store.GoalScore, store.Proposal) (int, error) {
			if !atomic.CompareAndSwapInt32(&inflight, 0, 1) {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.StoreInt32(&inflight, 0)
			return 2, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Resubmit(context.Background(), memberSession(), "prop_1", ResubmitInput{RawText: "revised text"}); err != nil {
				t.Errorf("Resubmit() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&overlaps); n != 0 {
		t.Fatalf("revision writes overlapped %d times", n)
	}
}

func TestResubmitLockedAfterTerminalStatus(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", ProposerWallet: "w-member", Status: store.StatusApproved}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.Resubmit(context.Background(), memberSession(), "prop_1", ResubmitInput{RawText: "late edit"})
	wantDomainError(t, err, http.StatusConflict, "STATUS_LOCKED")
}

func TestApplyAlternativeOutOfRange(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{
				ID: "prop_1", ProposerWallet: "w-member", Status: store.StatusSubmitted,
				Alternatives: []store.Alternative{{Label: "Smaller pilot"}},
			}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.ApplyAlternative(context.Background(), memberSession(), "prop_1", 3)
	wantDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestWithdrawRules(t *testing.T) {
	status := store.StatusSubmitted
	var newStatus string
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", ProposerWallet: "w-member", Status: status}, nil
		},
		updateProposalStatusFn: func(_ context.Context, _, target string) error {
			newStatus = target
			return nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.Withdraw(context.Background(), Session{Wallet: "w-other", Role: "member"}, "prop_1")
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = svc.Withdraw(context.Background(), memberSession(), "prop_1")
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if newStatus != store.StatusWithdrawn {
		t.Errorf("status = %s, want withdrawn", newStatus)
	}

	status = store.StatusFunded
	_, err = svc.Withdraw(context.Background(), memberSession(), "prop_1")
	wantDomainError(t, err, http.StatusConflict, "STATUS_LOCKED")
}

func TestUpdateStatusTransitionTable(t *testing.T) {
	tests := []struct {
		from, to string
		allowed  bool
	}{
		{store.StatusSubmitted, store.StatusVotable, true},
		{store.StatusSubmitted, store.StatusApproved, true},
		{store.StatusVotable, store.StatusRejected, true},
		{store.StatusApproved, store.StatusFunded, true},
		{store.StatusApproved, store.StatusVotable, false},
		{store.StatusRejected, store.StatusFailed, true},
		{store.StatusFunded, store.StatusFailed, true},
		{store.StatusFailed, store.StatusSubmitted, false},
		{store.StatusWithdrawn, store.StatusSubmitted, false},
	}
	for _, tt := range tests {
		if got := transitionAllowed(tt.from, tt.to); got != tt.allowed {
			t.Errorf("transitionAllowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestUpdateStatusAutoApprovesSmallAdvanceProposal(t *testing.T) {
	item := store.Proposal{
		ID: "prop_1", Status: store.StatusSubmitted,
		Decision: store.DecisionAdvance, CouncilRequired: false,
		Budget: store.Budget{AmountRequested: 300},
	}
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return item, nil
		},
		updateProposalStatusFn: func(_ context.Context, _, target string) error {
			item.Status = target
			return nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	saved, err := svc.UpdateStatus(context.Background(), adminSession(), "prop_1", store.StatusApproved)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if saved.Status != store.StatusApproved {
		t.Fatalf("status = %s, want approved", saved.Status)
	}
}

func TestUpdateStatusBlocksSubmittedApprovalWithoutAdvance(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{
				ID: "prop_1", Status: store.StatusSubmitted,
				Decision: store.DecisionNeedsInfo,
			}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), adminSession(), "prop_1", store.StatusApproved)
	wantDomainError(t, err, http.StatusConflict, "DECISION_NOT_ADVANCE")
}

func TestUpdateStatusBlocksDirectApprovalWhenCouncilRequired(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{
				ID: "prop_1", Status: store.StatusVotable,
				Decision: store.DecisionAdvance, CouncilRequired: true,
			}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), adminSession(), "prop_1", store.StatusApproved)
	wantDomainError(t, err, http.StatusConflict, "COUNCIL_VOTE_REQUIRED")
}

func TestUpdateStatusBlocksApprovalWithoutAdvance(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{
				ID: "prop_1", Status: store.StatusVotable,
				Decision: store.DecisionNeedsInfo,
			}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), adminSession(), "prop_1", store.StatusApproved)
	wantDomainError(t, err, http.StatusConflict, "DECISION_NOT_ADVANCE")
}

func TestCouncilVoteAutoApprovesOnDecidingVote(t *testing.T) {
	active := testCoopConfig()
	status := store.StatusVotable
	votes := map[string]string{}
	var mu sync.Mutex
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", CoopID: "coop-1", Status: status, CouncilRequired: true, Decision: store.DecisionAdvance}, nil
		},
		upsertCouncilVoteFn: func(_ context.Context, _, wallet, choice string) error {
			mu.Lock()
			defer mu.Unlock()
			votes[wallet] = choice
			return nil
		},
		councilVoteTallyFn: func(context.Context, string) (store.VoteTally, error) {
			mu.Lock()
			defer mu.Unlock()
			var tally store.VoteTally
			for _, choice := range votes {
				switch choice {
				case store.VoteFor:
					tally.For++
				case store.VoteAgainst:
					tally.Against++
				default:
					tally.Abstain++
				}
			}
			return tally, nil
		},
		eligibleVotersFn: func(context.Context, string) (int, error) { return 4, nil },
		updateProposalStatusFn: func(_ context.Context, _, target string) error {
			status = target
			return nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	council := func(wallet string) Session { return Session{Wallet: wallet, Role: "council"} }

	outcome, err := svc.CastCouncilVote(context.Background(), council("c1"), "prop_1", "FOR")
	if err != nil {
		t.Fatalf("vote 1 error = %v", err)
	}
	if outcome.Approved {
		t.Fatal("one FOR vote of four eligible should not approve (quorum is 2)")
	}

	outcome, err = svc.CastCouncilVote(context.Background(), council("c2"), "prop_1", "AGAINST")
	if err != nil {
		t.Fatalf("vote 2 error = %v", err)
	}
	if outcome.Approved {
		t.Fatal("tied tally must not approve")
	}

	outcome, err = svc.CastCouncilVote(context.Background(), council("c3"), "prop_1", "FOR")
	if err != nil {
		t.Fatalf("vote 3 error = %v", err)
	}
	if !outcome.Approved {
		t.Fatalf("deciding FOR vote should approve: tally=%+v quorum=%d", outcome.Tally, outcome.Quorum)
	}
	if status != store.StatusApproved {
		t.Errorf("status = %s, want approved", status)
	}

	// Proposal left votable; further votes refused once approved.
	_, err = svc.CastCouncilVote(context.Background(), council("c4"), "prop_1", "FOR")
	wantDomainError(t, err, http.StatusConflict, "NOT_VOTABLE")
}

func TestCouncilVoteRejectsMemberRole(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	_, err := svc.CastCouncilVote(context.Background(), memberSession(), "prop_1", "FOR")
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestQuorumVotes(t *testing.T) {
	tests := []struct {
		percent  float64
		eligible int
		want     int
	}{
		{50, 4, 2},
		{50, 5, 3},
		{66, 3, 2},
		{100, 7, 7},
		{50, 0, 0},
	}
	for _, tt := range tests {
		if got := quorumVotes(tt.percent, tt.eligible); got != tt.want {
			t.Errorf("quorumVotes(%v, %d) = %d, want %d", tt.percent, tt.eligible, got, tt.want)
		}
	}
}

func TestExpertScoreDomainGate(t *testing.T) {
	st := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", CoopID: "coop-1"}, nil
		},
		latestRevisionFn: func(context.Context, string) (store.ProposalRevision, error) {
			return store.ProposalRevision{RevisionNumber: 2}, nil
		},
		getGoalScoreFn: func(context.Context, string, int, string) (store.GoalScore, error) {
			return store.GoalScore{GoalID: "income_stability", Domain: "finance", AIScore: 0.6}, nil
		},
		getMemberFn: func(context.Context, string, string) (store.Member, error) {
			return store.Member{Role: "expert", Domains: []string{"health"}}, nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)
	expert := Session{Wallet: "w-expert", Role: "expert"}

	_, err := svc.OverrideGoalScore(context.Background(), expert, "prop_1", ExpertScoreInput{
		GoalID: "income_stability", Score: 0.4, Reason: "field audit found weaker demand",
	})
	wantDomainError(t, err, http.StatusForbidden, "DOMAIN_MISMATCH")
}

func TestExpertScoreValidation(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	expert := Session{Wallet: "w-expert", Role: "expert"}

	_, err := svc.OverrideGoalScore(context.Background(), expert, "prop_1", ExpertScoreInput{
		GoalID: "local_jobs", Score: 1.2, Reason: "score out of range either way",
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.OverrideGoalScore(context.Background(), expert, "prop_1", ExpertScoreInput{
		GoalID: "local_jobs", Score: 0.5, Reason: "short",
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.OverrideGoalScore(context.Background(), memberSession(), "prop_1", ExpertScoreInput{
		GoalID: "local_jobs", Score: 0.5, Reason: "members cannot override scores",
	})
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestCreateCommentSurvivesEvaluatorFailure(t *testing.T) {
	active := testCoopConfig()
	inserted := make(chan store.Comment, 1)
	evaluated := make(chan struct{}, 1)
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", CoopID: "coop-1", Summary: "grocery store"}, nil
		},
		insertCommentFn: func(_ context.Context, item store.Comment) error {
			inserted <- item
			return nil
		},
		setCommentEvalFn: func(context.Context, string, store.CommentEvaluation) error {
			evaluated <- struct{}{}
			return nil
		},
	}
	commentEval := &fakeCommentEval{
		fn: func(context.Context, string, string, store.CoopConfig) (store.CommentEvaluation, error) {
			return store.CommentEvaluation{}, errors.New("model timeout")
		},
	}
	svc, _, _, _ := newTestService(st, nil, commentEval)

	comment, err := svc.CreateComment(context.Background(), memberSession(), "prop_1", "What about parking?")
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	select {
	case got := <-inserted:
		if got.ID != comment.ID {
			t.Errorf("inserted comment %s, want %s", got.ID, comment.ID)
		}
	default:
		t.Fatal("comment was not written")
	}
	select {
	case <-evaluated:
		t.Fatal("evaluation result saved despite evaluator failure")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCreateCommentSavesAlignment(t *testing.T) {
	active := testCoopConfig()
	evaluated := make(chan store.CommentEvaluation, 1)
	st := &fakeStore{
		getActiveConfigFn: func(context.Context, string) (*store.CoopConfig, error) {
			return &active, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return store.Proposal{ID: "prop_1", CoopID: "coop-1"}, nil
		},
		setCommentEvalFn: func(_ context.Context, _ string, eval store.CommentEvaluation) error {
			evaluated <- eval
			return nil
		},
	}
	svc, _, idx, _ := newTestService(st, nil, nil)

	if _, err := svc.CreateComment(context.Background(), memberSession(), "prop_1", "Strong local hiring plan"); err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	select {
	case eval := <-evaluated:
		if eval.Alignment != store.AlignmentAligned {
			t.Errorf("alignment = %s, want ALIGNED", eval.Alignment)
		}
	case <-time.After(time.Second):
		t.Fatal("evaluation never saved")
	}

	deadline := time.After(time.Second)
	for {
		idx.mu.Lock()
		n := len(idx.comments)
		idx.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("comment never indexed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestToggleReactionValidatesKind(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{}, nil, nil)
	_, _, err := svc.ToggleReaction(context.Background(), memberSession(), "prop_1", "MEH")
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestLoginBootstrapsMembership(t *testing.T) {
	var upserted store.Member
	st := &fakeStore{
		upsertMemberFn: func(_ context.Context, member store.Member) error {
			upserted = member
			return nil
		},
	}
	svc, _, _, _ := newTestService(st, nil, nil)

	session, err := svc.Login(context.Background(), "coop-1", "w-new")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Role != "member" || session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("session = %+v, want member with tokens", session)
	}
	if upserted.Wallet != "w-new" || upserted.Role != "member" {
		t.Errorf("upserted member = %+v", upserted)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.Wallet != "w-new" {
		t.Errorf("parsed wallet = %s", parsed.Wallet)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	st := &fakeStore{
		getMemberFn: func(context.Context, string, string) (store.Member, error) {
			return store.Member{Role: "council"}, nil
		},
	}
	svc, _, _, sessions := newTestService(st, nil, nil)

	first, err := svc.Login(context.Background(), "coop-1", "w-council")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken, "coop-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.Role != "council" {
		t.Errorf("refreshed role = %s, want council", second.Role)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken, "coop-1"); err == nil {
		t.Error("replayed refresh token should fail")
	}
	if len(sessions.revoked) == 0 {
		t.Error("old refresh session was never revoked")
	}
}
