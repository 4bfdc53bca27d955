package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/export"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/rbac"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/scoring"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/search"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/util"
)

// Admin status transitions. Statuses not present are terminal.
var allowedStatusTransitions = map[string][]string{
	store.StatusSubmitted: {store.StatusVotable, store.StatusApproved, store.StatusRejected, store.StatusWithdrawn, store.StatusFailed},
	store.StatusVotable:   {store.StatusApproved, store.StatusRejected, store.StatusWithdrawn, store.StatusFailed},
	store.StatusApproved:  {store.StatusFunded, store.StatusWithdrawn, store.StatusFailed},
	store.StatusRejected:  {store.StatusFailed},
	store.StatusFunded:    {store.StatusFailed},
}

func transitionAllowed(from, to string) bool {
	for _, candidate := range allowedStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// SubmitProposal evaluates the text against the active config and persists the
// proposal with its first revision in one shot. When the evaluator is down
// nothing is written.
func (s *Service) SubmitProposal(ctx context.Context, session Session, coopID string, input SubmitProposalInput) (store.Proposal, error) {
	if !s.Can(session.Role, rbac.ActionSubmit) {
		return store.Proposal{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(input.RawText) == "" {
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rawText is required", nil)
	}
	if input.Budget.AmountRequested < 0 {
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "budget amount must be >= 0", nil)
	}
	if input.Budget.Currency == "" {
		input.Budget.Currency = "USD"
	}

	cfg, err := s.store.GetActiveConfig(ctx, coopID)
	if err != nil {
		return store.Proposal{}, err
	}
	if cfg == nil {
		return store.Proposal{}, domainError(http.StatusConflict, "COOP_NOT_CONFIGURED", "Coop has no active config", nil)
	}

	eval, err := s.evaluate(ctx, input.RawText, scoring.Metadata{
		Title:    input.Title,
		Category: input.Category,
		Region:   input.Region,
		Budget:   input.Budget,
	}, *cfg)
	if err != nil {
		return store.Proposal{}, err
	}

	item := store.Proposal{
		ID:                      util.NewID("prop"),
		CoopID:                  coopID,
		ProposerWallet:          session.Wallet,
		Title:                   input.Title,
		Summary:                 input.Summary,
		RawText:                 input.RawText,
		Category:                input.Category,
		Budget:                  input.Budget,
		Region:                  input.Region,
		Status:                  store.StatusSubmitted,
		Decision:                eval.Decision,
		DecisionReasons:         eval.DecisionReasons,
		MissingData:             eval.MissingData,
		Alternatives:            eval.Alternatives,
		AuditChecks:             eval.AuditChecks,
		CouncilRequired:         scoring.CouncilRequired(eval.Decision, input.Budget, cfg.CouncilVoteThresholdUSD),
		CouncilVoteThresholdUSD: cfg.CouncilVoteThresholdUSD,
	}

	revision, scores := revisionFromEvaluation(item.ID, 1, input.RawText, eval, cfg.Version)
	if err := s.store.InsertProposal(ctx, item, revision, scores); err != nil {
		return store.Proposal{}, err
	}

	saved, err := s.store.GetProposal(ctx, item.ID)
	if err != nil {
		return store.Proposal{}, err
	}
	s.indexProposal(saved)
	return saved, nil
}

// Resubmit appends a fresh revision evaluated against the current active
// config. The lifecycle status never changes here; only the evaluation view.
func (s *Service) Resubmit(ctx context.Context, session Session, proposalID string, input ResubmitInput) (store.Proposal, error) {
	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if item.ProposerWallet != session.Wallet {
		return store.Proposal{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the proposer can resubmit", nil)
	}
	if item.Status != store.StatusSubmitted && item.Status != store.StatusVotable {
		return store.Proposal{}, domainError(http.StatusConflict, "STATUS_LOCKED", "Proposal can no longer be revised", map[string]any{"status": item.Status})
	}
	if strings.TrimSpace(input.RawText) == "" {
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rawText is required", nil)
	}

	if input.Summary != "" {
		item.Summary = input.Summary
	}
	return s.appendEvaluatedRevision(ctx, item, input.RawText, item.BestAlternative)
}

// ApplyAlternative adopts one of the evaluator's suggested rewrites as a new
// revision. Suggestions stay unverified until this re-scoring happens.
func (s *Service) ApplyAlternative(ctx context.Context, session Session, proposalID string, index int) (store.Proposal, error) {
	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if item.ProposerWallet != session.Wallet {
		return store.Proposal{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the proposer can apply an alternative", nil)
	}
	if item.Status != store.StatusSubmitted && item.Status != store.StatusVotable {
		return store.Proposal{}, domainError(http.StatusConflict, "STATUS_LOCKED", "Proposal can no longer be revised", map[string]any{"status": item.Status})
	}
	if index < 0 || index >= len(item.Alternatives) {
		return store.Proposal{}, domainError(http.StatusNotFound, "NOT_FOUND", "Alternative not found", nil)
	}

	alt := item.Alternatives[index]
	rawText := item.RawText
	if replacement, ok := alt.FieldChanges["rawText"]; ok && strings.TrimSpace(replacement) != "" {
		rawText = replacement
	} else {
		rawText = item.RawText + "\n\nAdopted alternative: " + alt.Label + ". " + alt.Rationale
	}
	if category, ok := alt.FieldChanges["category"]; ok && category != "" {
		item.Category = category
	}

	best := index
	return s.appendEvaluatedRevision(ctx, item, rawText, &best)
}

// appendEvaluatedRevision holds the per-proposal lock so concurrent resubmits
// cannot race revision-number allocation against each other or against a
// status flip.
func (s *Service) appendEvaluatedRevision(ctx context.Context, item store.Proposal, rawText string, bestAlternative *int) (store.Proposal, error) {
	lock := s.proposalLock(item.ID)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := s.store.GetActiveConfig(ctx, item.CoopID)
	if err != nil {
		return store.Proposal{}, err
	}
	if cfg == nil {
		return store.Proposal{}, domainError(http.StatusConflict, "COOP_NOT_CONFIGURED", "Coop has no active config", nil)
	}

	eval, err := s.evaluate(ctx, rawText, scoring.Metadata{
		Title:    item.Title,
		Category: item.Category,
		Region:   item.Region,
		Budget:   item.Budget,
	}, *cfg)
	if err != nil {
		return store.Proposal{}, err
	}

	item.RawText = rawText
	item.Decision = eval.Decision
	item.DecisionReasons = eval.DecisionReasons
	item.MissingData = eval.MissingData
	item.Alternatives = eval.Alternatives
	item.AuditChecks = eval.AuditChecks
	item.BestAlternative = bestAlternative
	item.CouncilRequired = scoring.CouncilRequired(eval.Decision, item.Budget, cfg.CouncilVoteThresholdUSD)
	item.CouncilVoteThresholdUSD = cfg.CouncilVoteThresholdUSD

	revision, scores := revisionFromEvaluation(item.ID, 0, rawText, eval, cfg.Version)
	if _, err := s.store.AppendRevision(ctx, revision, scores, item); err != nil {
		return store.Proposal{}, err
	}

	saved, err := s.store.GetProposal(ctx, item.ID)
	if err != nil {
		return store.Proposal{}, err
	}
	s.indexProposal(saved)
	return saved, nil
}

func (s *Service) Withdraw(ctx context.Context, session Session, proposalID string) (store.Proposal, error) {
	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if item.ProposerWallet != session.Wallet {
		return store.Proposal{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the proposer can withdraw", nil)
	}
	if item.Status != store.StatusSubmitted && item.Status != store.StatusVotable {
		return store.Proposal{}, domainError(http.StatusConflict, "STATUS_LOCKED", "Proposal can no longer be withdrawn", map[string]any{"status": item.Status})
	}

	if err := s.store.UpdateProposalStatus(ctx, proposalID, store.StatusWithdrawn); err != nil {
		return store.Proposal{}, err
	}
	saved, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	s.indexProposal(saved)
	return saved, nil
}

// UpdateStatus is the admin lifecycle lever. Moving votable to approved
// directly is refused while a council vote is required or while the engine
// decision is not advance; those proposals approve through voting only.
func (s *Service) UpdateStatus(ctx context.Context, session Session, proposalID, target string) (store.Proposal, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Proposal{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if !transitionAllowed(item.Status, target) {
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_TRANSITION", "Status transition not allowed", map[string]any{"from": item.Status, "to": target})
	}
	if target == store.StatusApproved {
		if item.Decision != store.DecisionAdvance {
			return store.Proposal{}, domainError(http.StatusConflict, "DECISION_NOT_ADVANCE", "Proposal decision must be advance before approval", map[string]any{"decision": item.Decision})
		}
		if item.CouncilRequired {
			return store.Proposal{}, domainError(http.StatusConflict, "COUNCIL_VOTE_REQUIRED", "Approval requires a council vote", nil)
		}
	}

	if err := s.store.UpdateProposalStatus(ctx, proposalID, target); err != nil {
		return store.Proposal{}, err
	}
	saved, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	s.indexProposal(saved)
	return saved, nil
}

func (s *Service) GetProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	return s.store.GetProposal(ctx, proposalID)
}

func (s *Service) ListProposals(ctx context.Context, coopID string) ([]store.Proposal, error) {
	return s.store.ListProposals(ctx, coopID)
}

func (s *Service) ListRevisions(ctx context.Context, proposalID string) ([]store.ProposalRevision, error) {
	return s.store.ListRevisions(ctx, proposalID)
}

func (s *Service) ListGoalScores(ctx context.Context, proposalID string, revisionNumber int) ([]store.GoalScore, error) {
	if revisionNumber <= 0 {
		latest, err := s.store.LatestRevision(ctx, proposalID)
		if err != nil {
			return nil, err
		}
		revisionNumber = latest.RevisionNumber
	}
	return s.store.ListGoalScores(ctx, proposalID, revisionNumber)
}

// OverrideGoalScore records an expert's score next to the AI score on the
// latest revision. The AI score itself is never touched.
func (s *Service) OverrideGoalScore(ctx context.Context, session Session, proposalID string, input ExpertScoreInput) (store.GoalScore, error) {
	if !s.Can(session.Role, rbac.ActionOverride) {
		return store.GoalScore{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if input.Score < 0 || input.Score > 1 {
		return store.GoalScore{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "score must be within [0,1]", nil)
	}
	if len(strings.TrimSpace(input.Reason)) < 10 {
		return store.GoalScore{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason must be at least 10 characters", nil)
	}

	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.GoalScore{}, err
	}
	latest, err := s.store.LatestRevision(ctx, proposalID)
	if err != nil {
		return store.GoalScore{}, err
	}
	current, err := s.store.GetGoalScore(ctx, proposalID, latest.RevisionNumber, input.GoalID)
	if err != nil {
		return store.GoalScore{}, err
	}

	if current.Domain != "" && session.Role != string(rbac.RoleAdmin) {
		member, err := s.store.GetMember(ctx, item.CoopID, session.Wallet)
		if err != nil {
			return store.GoalScore{}, domainError(http.StatusForbidden, "FORBIDDEN", "Expert is not a member of this coop", nil)
		}
		if !containsFold(member.Domains, current.Domain) {
			return store.GoalScore{}, domainError(http.StatusForbidden, "DOMAIN_MISMATCH", "Expert domain does not cover this goal", map[string]any{"domain": current.Domain})
		}
	}

	updated, err := s.store.UpsertExpertScore(ctx, proposalID, latest.RevisionNumber, input.GoalID, session.Wallet, input.Score, input.Reason)
	if err != nil {
		return store.GoalScore{}, err
	}
	if !updated {
		return store.GoalScore{}, domainError(http.StatusNotFound, "NOT_FOUND", "Goal score not found", nil)
	}
	return s.store.GetGoalScore(ctx, proposalID, latest.RevisionNumber, input.GoalID)
}

// CreateComment writes the comment first and evaluates its mission alignment
// in the background. Evaluation failures are logged and never surface to the
// commenter.
func (s *Service) CreateComment(ctx context.Context, session Session, proposalID, body string) (store.Comment, error) {
	if !s.Can(session.Role, rbac.ActionComment) {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(body) == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Comment{}, err
	}

	comment := store.Comment{
		ID:           util.NewID("cmt"),
		ProposalID:   proposalID,
		AuthorWallet: session.Wallet,
		Body:         body,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	go s.evaluateCommentAsync(comment, item)
	return comment, nil
}

func (s *Service) evaluateCommentAsync(comment store.Comment, proposal store.Proposal) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EvalTimeout+10*time.Second)
	defer cancel()

	cfg, err := s.store.GetActiveConfig(ctx, proposal.CoopID)
	if err != nil || cfg == nil {
		log.Printf("comment %s alignment skipped: no active config for coop %s", comment.ID, proposal.CoopID)
		return
	}

	eval, err := s.comments.EvaluateComment(ctx, comment.Body, proposal.Summary, *cfg)
	if err != nil {
		log.Printf("comment %s alignment evaluation failed: %v", comment.ID, err)
		return
	}
	if err := s.store.SetCommentEvaluation(ctx, comment.ID, eval); err != nil {
		log.Printf("comment %s alignment save failed: %v", comment.ID, err)
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		Body:       comment.Body,
		ProposalID: comment.ProposalID,
		CoopID:     proposal.CoopID,
		Alignment:  eval.Alignment,
	})
}

func (s *Service) ListComments(ctx context.Context, proposalID string) ([]store.Comment, error) {
	return s.store.ListComments(ctx, proposalID)
}

// ToggleReaction flips a wallet's reaction. Posting the same kind again clears
// it; posting the other kind replaces it.
func (s *Service) ToggleReaction(ctx context.Context, session Session, proposalID, kind string) (bool, map[string]int, error) {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind != store.ReactionSupport && kind != store.ReactionConcern {
		return false, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be SUPPORT or CONCERN", nil)
	}
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return false, nil, err
	}

	active, err := s.store.ToggleReaction(ctx, proposalID, session.Wallet, kind)
	if err != nil {
		return false, nil, err
	}
	counts, err := s.store.ReactionCounts(ctx, proposalID)
	if err != nil {
		return false, nil, err
	}
	return active, counts, nil
}

func (s *Service) ReactionCounts(ctx context.Context, proposalID string) (map[string]int, error) {
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.store.ReactionCounts(ctx, proposalID)
}

func (s *Service) ExportReport(ctx context.Context, proposalID string) (*export.Result, error) {
	result, err := s.exporter.Export(ctx, export.Request{ProposalID: proposalID})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is not available on this host", nil)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, rawText string, meta scoring.Metadata, cfg store.CoopConfig) (scoring.Evaluation, error) {
	eval, err := s.engine.Evaluate(ctx, rawText, meta, cfg)
	if err != nil {
		return scoring.Evaluation{}, domainError(http.StatusBadGateway, "EVALUATION_FAILED", "Proposal evaluation is unavailable, try again later", map[string]any{"cause": err.Error()})
	}
	return eval, nil
}

func (s *Service) indexProposal(item store.Proposal) {
	s.search.IndexProposal(search.ProposalRecord{
		ID:       item.ID,
		Title:    item.Title,
		Summary:  item.Summary,
		CoopID:   item.CoopID,
		Status:   item.Status,
		Category: item.Category,
		Decision: item.Decision,
	})
}

func revisionFromEvaluation(proposalID string, revisionNumber int, rawText string, eval scoring.Evaluation, configVersion int) (store.ProposalRevision, []store.GoalScore) {
	revision := store.ProposalRevision{
		ProposalID:       proposalID,
		RevisionNumber:   revisionNumber,
		RawText:          rawText,
		Decision:         eval.Decision,
		DecisionReasons:  eval.DecisionReasons,
		MissingData:      eval.MissingData,
		Alternatives:     eval.Alternatives,
		AuditChecks:      eval.AuditChecks,
		CompositeScore:   eval.CompositeScore,
		MissionScore:     eval.MissionScore,
		StructuralScore:  eval.StructuralScore,
		StructuralScores: eval.StructuralScores,
		ConfigVersion:    configVersion,
		EngineVersion:    eval.EngineVersion,
	}

	scores := make([]store.GoalScore, 0, len(eval.GoalScores))
	for goalID, value := range eval.GoalScores {
		scores = append(scores, store.GoalScore{
			ProposalID:     proposalID,
			RevisionNumber: revisionNumber,
			GoalID:         goalID,
			Domain:         eval.GoalDomains[goalID],
			AIScore:        value,
		})
	}
	return revision, scores
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}
