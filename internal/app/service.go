package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/auth"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/charter"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/config"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/export"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/rbac"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/scoring"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/search"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	Wallet       string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateConfigInput struct {
	CharterText               string                  `json:"charterText"`
	MissionGoals              []store.MissionGoal     `json:"missionGoals"`
	StructuralWeights         store.StructuralWeights `json:"structuralWeights"`
	ScoreMix                  store.ScoreMix          `json:"scoreMix"`
	Thresholds                store.Thresholds        `json:"thresholds"`
	Governance                store.Governance        `json:"governance"`
	ProposalCategories        []string                `json:"proposalCategories"`
	SectorExclusions          []store.SectorExclusion `json:"sectorExclusions"`
	ScorerAgents              []store.ScorerAgent     `json:"scorerAgents"`
	MinSCBalanceToSubmit      float64                 `json:"minScBalanceToSubmit"`
	AIAutoApproveThresholdUSD float64                 `json:"aiAutoApproveThresholdUsd"`
	CouncilVoteThresholdUSD   float64                 `json:"councilVoteThresholdUsd"`
}

type UpdateConfigInput struct {
	Changes map[string]any `json:"changes"`
	Reason  string         `json:"reason"`
}

type ProposeAmendmentInput struct {
	Section         string         `json:"section"`
	Kind            string         `json:"kind"`
	ProposedChanges map[string]any `json:"proposedChanges"`
	ProposedText    string         `json:"proposedText"`
	Reason          string         `json:"reason"`
}

type SubmitProposalInput struct {
	Title    string       `json:"title"`
	Summary  string       `json:"summary"`
	RawText  string       `json:"rawText"`
	Category string       `json:"category"`
	Budget   store.Budget `json:"budget"`
	Region   string       `json:"region"`
}

type ResubmitInput struct {
	RawText string `json:"rawText"`
	Summary string `json:"summary"`
}

type ExpertScoreInput struct {
	GoalID string  `json:"goalId"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Config fields that amendments and partial updates may target.
var allowedConfigFields = map[string]struct{}{
	"charterText":               {},
	"missionGoals":              {},
	"structuralWeights":         {},
	"scoreMix":                  {},
	"thresholds":                {},
	"governance":                {},
	"proposalCategories":        {},
	"sectorExclusions":          {},
	"scorerAgents":              {},
	"minScBalanceToSubmit":      {},
	"aiAutoApproveThresholdUsd": {},
	"councilVoteThresholdUsd":   {},
}

var allowedAmendmentSections = map[string]struct{}{
	"charter":      {},
	"mission":      {},
	"scoring":      {},
	"governance":   {},
	"compliance":   {},
	"funding":      {},
	"participants": {},
}

type dataStore interface {
	GetActiveConfig(context.Context, string) (*store.CoopConfig, error)
	GetConfigVersion(context.Context, string, int) (store.CoopConfig, error)
	ListConfigVersions(context.Context, string) ([]store.CoopConfig, error)
	InsertConfig(context.Context, store.CoopConfig) error
	ReplaceActiveConfig(context.Context, store.CoopConfig, store.CoopConfigAudit) error
	ListConfigAudits(context.Context, string, int, int) ([]store.CoopConfigAudit, error)
	InsertAmendment(context.Context, store.Amendment) error
	GetAmendment(context.Context, string) (store.Amendment, error)
	ListPendingAmendments(context.Context, string, string) ([]store.Amendment, error)
	ListAmendments(context.Context, string) ([]store.Amendment, error)
	ResolveAmendment(context.Context, string, string, string, *int) (bool, error)
	GetProposal(context.Context, string) (store.Proposal, error)
	ListProposals(context.Context, string) ([]store.Proposal, error)
	InsertProposal(context.Context, store.Proposal, store.ProposalRevision, []store.GoalScore) error
	AppendRevision(context.Context, store.ProposalRevision, []store.GoalScore, store.Proposal) (int, error)
	ListRevisions(context.Context, string) ([]store.ProposalRevision, error)
	LatestRevision(context.Context, string) (store.ProposalRevision, error)
	UpdateProposalStatus(context.Context, string, string) error
	ListGoalScores(context.Context, string, int) ([]store.GoalScore, error)
	GetGoalScore(context.Context, string, int, string) (store.GoalScore, error)
	UpsertExpertScore(context.Context, string, int, string, string, float64, string) (bool, error)
	UpsertCouncilVote(context.Context, string, string, string) error
	CouncilVoteTally(context.Context, string) (store.VoteTally, error)
	ListCouncilVotes(context.Context, string) ([]store.CouncilVote, error)
	InsertComment(context.Context, store.Comment) error
	SetCommentEvaluation(context.Context, string, store.CommentEvaluation) error
	ListComments(context.Context, string) ([]store.Comment, error)
	ToggleReaction(context.Context, string, string, string) (bool, error)
	ReactionCounts(context.Context, string) (map[string]int, error)
	GetMember(context.Context, string, string) (store.Member, error)
	UpsertMember(context.Context, store.Member) error
	EligibleVoters(context.Context, string) (int, error)
	UpsertVoterPool(context.Context, string, int) error
	Ping(ctx context.Context) error
}

type charterService interface {
	Record(coopID string, doc charter.Document, author, message string) (charter.CommitInfo, error)
	Head(coopID string) (charter.Document, charter.CommitInfo, error)
	At(coopID, hash string) (charter.Document, error)
	History(coopID string, limit int) ([]charter.CommitInfo, error)
}

type commentEvaluator interface {
	EvaluateComment(ctx context.Context, body, proposalSummary string, cfg store.CoopConfig) (store.CommentEvaluation, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexProposal(p search.ProposalRecord)
	IndexComment(c search.CommentRecord)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, wallet string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type reportExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	charter  charterService
	engine   *scoring.Engine
	comments commentEvaluator
	search   searchIndex
	sessions sessionStore
	exporter reportExporter

	proposalMu    sync.Mutex
	proposalLocks map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore, charterSvc *charter.Service, engine *scoring.Engine, commentEval commentEvaluator, searchSvc *search.Service, sessions sessionStore, exporter *export.Service) *Service {
	return &Service{
		cfg:           cfg,
		store:         dataStore,
		charter:       charterSvc,
		engine:        engine,
		comments:      commentEval,
		search:        searchSvc,
		sessions:      sessions,
		exporter:      exporter,
		proposalLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// proposalLock serializes vote tallying and status flips for one proposal.
func (s *Service) proposalLock(proposalID string) *sync.Mutex {
	s.proposalMu.Lock()
	defer s.proposalMu.Unlock()
	lock, ok := s.proposalLocks[proposalID]
	if !ok {
		lock = &sync.Mutex{}
		s.proposalLocks[proposalID] = lock
	}
	return lock
}

func (s *Service) Login(ctx context.Context, coopID, wallet string) (Session, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "wallet is required", nil)
	}

	role := string(rbac.RoleMember)
	if coopID != "" {
		member, err := s.store.GetMember(ctx, coopID, wallet)
		if errors.Is(err, sql.ErrNoRows) {
			member = store.Member{CoopID: coopID, Wallet: wallet, Role: role}
			if err := s.store.UpsertMember(ctx, member); err != nil {
				return Session{}, err
			}
		} else if err != nil {
			return Session{}, err
		}
		role = string(rbac.Normalize(member.Role))
	}

	return s.issueSession(ctx, wallet, role)
}

func (s *Service) Refresh(ctx context.Context, refreshToken, coopID string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	wallet, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	role := string(rbac.RoleMember)
	if coopID != "" {
		if member, err := s.store.GetMember(ctx, coopID, wallet); err == nil {
			role = string(rbac.Normalize(member.Role))
		}
	}
	return s.issueSession(ctx, wallet, role)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Wallet:    claims.Wallet,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) issueSession(ctx context.Context, wallet, role string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Wallet: wallet,
		Role:   role,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshToken := util.NewID("rft")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), wallet, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		Wallet:       wallet,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// ── Coop config ──

func (s *Service) CreateConfig(ctx context.Context, session Session, coopID string, input CreateConfigInput) (store.CoopConfig, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.CoopConfig{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	active, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.CoopConfig{}, err
	}
	if active != nil {
		return store.CoopConfig{}, domainError(http.StatusConflict, "CONFIG_EXISTS", "Coop already has an active config", nil)
	}

	next := store.CoopConfig{
		CoopID:                    coopID,
		Version:                   1,
		IsActive:                  true,
		CharterText:               strings.TrimSpace(input.CharterText),
		MissionGoals:              input.MissionGoals,
		StructuralWeights:         input.StructuralWeights,
		ScoreMix:                  input.ScoreMix,
		Thresholds:                input.Thresholds,
		Governance:                input.Governance,
		ProposalCategories:        input.ProposalCategories,
		SectorExclusions:          input.SectorExclusions,
		ScorerAgents:              input.ScorerAgents,
		MinSCBalanceToSubmit:      input.MinSCBalanceToSubmit,
		AIAutoApproveThresholdUSD: input.AIAutoApproveThresholdUSD,
		CouncilVoteThresholdUSD:   input.CouncilVoteThresholdUSD,
		CreatedBy:                 session.Wallet,
	}
	seedConfigDefaults(&next)
	if err := validateConfig(next); err != nil {
		return store.CoopConfig{}, err
	}

	if err := s.store.InsertConfig(ctx, next); err != nil {
		return store.CoopConfig{}, err
	}

	if next.CharterText != "" {
		if _, err := s.charter.Record(coopID, charter.Document{
			CharterText:   next.CharterText,
			ConfigVersion: next.Version,
			UpdatedBy:     session.Wallet,
		}, session.Wallet, "Initial charter"); err != nil {
			return store.CoopConfig{}, fmt.Errorf("record charter: %w", err)
		}
	}

	created, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.CoopConfig{}, err
	}
	if created == nil {
		return next, nil
	}
	return *created, nil
}

func (s *Service) UpdateConfig(ctx context.Context, session Session, coopID string, input UpdateConfigInput) (store.CoopConfig, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.CoopConfig{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if len(input.Changes) == 0 {
		return store.CoopConfig{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "changes is required", nil)
	}

	active, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.CoopConfig{}, err
	}
	if active == nil {
		return store.CoopConfig{}, domainError(http.StatusNotFound, "NOT_FOUND", "Coop has no active config", nil)
	}

	return s.bumpConfig(ctx, *active, input.Changes, session.Wallet, input.Reason, "Config update v%d")
}

// bumpConfig applies field changes on top of the active version, writes the
// next immutable version plus its audit diff, and records the charter when
// the text changed. Shared by UpdateConfig and AcknowledgeAmendment.
func (s *Service) bumpConfig(ctx context.Context, active store.CoopConfig, changes map[string]any, changedBy, reason, commitFormat string) (store.CoopConfig, error) {
	next, err := applyConfigChanges(active, changes)
	if err != nil {
		return store.CoopConfig{}, err
	}
	next.Version = active.Version + 1
	next.IsActive = true
	next.CreatedBy = changedBy

	if err := validateConfig(next); err != nil {
		return store.CoopConfig{}, err
	}

	diff := configDiff(active, next)
	if len(diff) == 0 {
		return store.CoopConfig{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "changes produce no difference from the active config", nil)
	}

	audit := store.CoopConfigAudit{
		CoopID:    active.CoopID,
		Version:   next.Version,
		ChangedBy: changedBy,
		Reason:    reason,
		Diff:      diff,
	}
	if err := s.store.ReplaceActiveConfig(ctx, next, audit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.CoopConfig{}, domainError(http.StatusConflict, "VERSION_CONFLICT", "Active config changed concurrently, retry", nil)
		}
		return store.CoopConfig{}, err
	}

	if next.CharterText != active.CharterText {
		if _, err := s.charter.Record(active.CoopID, charter.Document{
			CharterText:   next.CharterText,
			ConfigVersion: next.Version,
			UpdatedBy:     changedBy,
		}, changedBy, fmt.Sprintf(commitFormat, next.Version)); err != nil {
			return store.CoopConfig{}, fmt.Errorf("record charter: %w", err)
		}
	}

	return next, nil
}

func (s *Service) GetActiveConfig(ctx context.Context, coopID string) (store.CoopConfig, error) {
	active, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.CoopConfig{}, err
	}
	if active == nil {
		return store.CoopConfig{}, domainError(http.StatusNotFound, "NOT_FOUND", "Coop has no active config", nil)
	}
	return *active, nil
}

func (s *Service) GetConfigVersion(ctx context.Context, coopID string, version int) (store.CoopConfig, error) {
	return s.store.GetConfigVersion(ctx, coopID, version)
}

func (s *Service) ListConfigVersions(ctx context.Context, coopID string) ([]store.CoopConfig, error) {
	return s.store.ListConfigVersions(ctx, coopID)
}

func (s *Service) AuditTrail(ctx context.Context, coopID string, limit, offset int) ([]store.CoopConfigAudit, error) {
	return s.store.ListConfigAudits(ctx, coopID, limit, offset)
}

func (s *Service) CharterHistory(coopID string, limit int) ([]charter.CommitInfo, error) {
	return s.charter.History(coopID, limit)
}

func (s *Service) CharterAt(coopID, hash string) (charter.Document, error) {
	return s.charter.At(coopID, hash)
}

// ── Membership ──

func (s *Service) UpsertMember(ctx context.Context, session Session, member store.Member) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(member.Wallet) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "wallet is required", nil)
	}
	member.Role = string(rbac.Normalize(member.Role))
	return s.store.UpsertMember(ctx, member)
}

func (s *Service) SetVoterPool(ctx context.Context, session Session, coopID string, eligibleVoters int) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if eligibleVoters < 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "eligibleVoters must be >= 0", nil)
	}
	return s.store.UpsertVoterPool(ctx, coopID, eligibleVoters)
}

// ── Search ──

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// ── Config helpers ──

func seedConfigDefaults(cfg *store.CoopConfig) {
	if len(cfg.MissionGoals) == 0 {
		cfg.MissionGoals = []store.MissionGoal{
			{Key: "local_jobs", Label: "Local job creation", PriorityWeight: 3},
			{Key: "income_stability", Label: "Member income stability", PriorityWeight: 2, Domain: "finance"},
			{Key: "community_ownership", Label: "Community ownership", PriorityWeight: 2},
		}
	}
	if len(cfg.ProposalCategories) == 0 {
		cfg.ProposalCategories = []string{"food", "housing", "retail", "services", "manufacturing"}
	}
	if len(cfg.SectorExclusions) == 0 {
		cfg.SectorExclusions = []store.SectorExclusion{
			{Value: "gambling", Rationale: "extractive revenue model"},
			{Value: "predatory_lending", Rationale: "conflicts with income stability"},
		}
	}
	if cfg.CouncilVoteThresholdUSD == 0 {
		cfg.CouncilVoteThresholdUSD = 5000
	}
	if cfg.StructuralWeights == (store.StructuralWeights{}) {
		cfg.StructuralWeights = store.StructuralWeights{Feasibility: 0.4, Risk: 0.3, Accountability: 0.3}
	}
	if cfg.ScoreMix == (store.ScoreMix{}) {
		cfg.ScoreMix = store.ScoreMix{MissionWeight: 0.6, StructuralWeight: 0.4}
	}
	if cfg.Thresholds == (store.Thresholds{}) {
		cfg.Thresholds = store.Thresholds{ScreeningPass: 0.6, StrongGoal: 0.7, MissionMin: 0.4, StructuralGate: 0.3}
	}
	if cfg.Governance == (store.Governance{}) {
		cfg.Governance = store.Governance{QuorumPercent: 50, ApprovalThresholdPercent: 50, VotingWindowDays: 7}
	}
}

func validateConfig(cfg store.CoopConfig) error {
	if len(cfg.MissionGoals) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "missionGoals must not be empty", nil)
	}
	seen := make(map[string]struct{}, len(cfg.MissionGoals))
	for _, goal := range cfg.MissionGoals {
		if strings.TrimSpace(goal.Key) == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mission goal key is required", nil)
		}
		if goal.PriorityWeight <= 0 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mission goal priorityWeight must be > 0", map[string]any{"goal": goal.Key})
		}
		if _, dup := seen[goal.Key]; dup {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "duplicate mission goal key", map[string]any{"goal": goal.Key})
		}
		seen[goal.Key] = struct{}{}
	}
	if math.Abs(cfg.ScoreMix.MissionWeight+cfg.ScoreMix.StructuralWeight-1) > 1e-6 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scoreMix weights must sum to 1", nil)
	}
	for name, value := range map[string]float64{
		"screeningPassThreshold": cfg.Thresholds.ScreeningPass,
		"strongGoalThreshold":    cfg.Thresholds.StrongGoal,
		"missionMinThreshold":    cfg.Thresholds.MissionMin,
		"structuralGate":         cfg.Thresholds.StructuralGate,
	} {
		if value < 0 || value > 1 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "thresholds must be within [0,1]", map[string]any{"field": name})
		}
	}
	if cfg.Governance.QuorumPercent < 0 || cfg.Governance.QuorumPercent > 100 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "quorumPercent must be within [0,100]", nil)
	}
	return nil
}

// applyConfigChanges patches a copy of the config with field-level changes.
// Struct-valued fields merge key by key through JSON; list and scalar fields
// replace wholesale.
func applyConfigChanges(cfg store.CoopConfig, changes map[string]any) (store.CoopConfig, error) {
	next := cfg
	for field, value := range changes {
		if _, ok := allowedConfigFields[field]; !ok {
			return store.CoopConfig{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown config field", map[string]any{"field": field})
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return store.CoopConfig{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unencodable config value", map[string]any{"field": field})
		}

		var decodeErr error
		switch field {
		case "charterText":
			decodeErr = json.Unmarshal(raw, &next.CharterText)
		case "missionGoals":
			next.MissionGoals = nil
			decodeErr = json.Unmarshal(raw, &next.MissionGoals)
		case "structuralWeights":
			decodeErr = json.Unmarshal(raw, &next.StructuralWeights)
		case "scoreMix":
			decodeErr = json.Unmarshal(raw, &next.ScoreMix)
		case "thresholds":
			decodeErr = json.Unmarshal(raw, &next.Thresholds)
		case "governance":
			decodeErr = json.Unmarshal(raw, &next.Governance)
		case "proposalCategories":
			next.ProposalCategories = nil
			decodeErr = json.Unmarshal(raw, &next.ProposalCategories)
		case "sectorExclusions":
			next.SectorExclusions = nil
			decodeErr = json.Unmarshal(raw, &next.SectorExclusions)
		case "scorerAgents":
			next.ScorerAgents = nil
			decodeErr = json.Unmarshal(raw, &next.ScorerAgents)
		case "minScBalanceToSubmit":
			decodeErr = json.Unmarshal(raw, &next.MinSCBalanceToSubmit)
		case "aiAutoApproveThresholdUsd":
			decodeErr = json.Unmarshal(raw, &next.AIAutoApproveThresholdUSD)
		case "councilVoteThresholdUsd":
			decodeErr = json.Unmarshal(raw, &next.CouncilVoteThresholdUSD)
		}
		if decodeErr != nil {
			return store.CoopConfig{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed config value", map[string]any{"field": field})
		}
	}
	return next, nil
}

// configDiff compares two versions field by field. Values are compared via
// their JSON form so slices and structs diff without reflection on internals.
func configDiff(before, after store.CoopConfig) []store.FieldDiff {
	diff := make([]store.FieldDiff, 0)
	for _, field := range []string{
		"charterText", "missionGoals", "structuralWeights", "scoreMix",
		"thresholds", "governance", "proposalCategories", "sectorExclusions",
		"scorerAgents", "minScBalanceToSubmit", "aiAutoApproveThresholdUsd",
		"councilVoteThresholdUsd",
	} {
		b := configFieldValue(before, field)
		a := configFieldValue(after, field)
		bj, _ := json.Marshal(b)
		aj, _ := json.Marshal(a)
		if string(bj) != string(aj) {
			diff = append(diff, store.FieldDiff{Field: field, Before: b, After: a})
		}
	}
	return diff
}

func configFieldValue(cfg store.CoopConfig, field string) any {
	switch field {
	case "charterText":
		return cfg.CharterText
	case "missionGoals":
		return cfg.MissionGoals
	case "structuralWeights":
		return cfg.StructuralWeights
	case "scoreMix":
		return cfg.ScoreMix
	case "thresholds":
		return cfg.Thresholds
	case "governance":
		return cfg.Governance
	case "proposalCategories":
		return cfg.ProposalCategories
	case "sectorExclusions":
		return cfg.SectorExclusions
	case "scorerAgents":
		return cfg.ScorerAgents
	case "minScBalanceToSubmit":
		return cfg.MinSCBalanceToSubmit
	case "aiAutoApproveThresholdUsd":
		return cfg.AIAutoApproveThresholdUSD
	case "councilVoteThresholdUsd":
		return cfg.CouncilVoteThresholdUSD
	}
	return nil
}
