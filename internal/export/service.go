package export

import (
	"context"
	"fmt"
	"time"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

// DataStore is the slice of the persistence layer the exporter needs.
type DataStore interface {
	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	ListRevisions(ctx context.Context, proposalID string) ([]store.ProposalRevision, error)
	ListGoalScores(ctx context.Context, proposalID string, revisionNumber int) ([]store.GoalScore, error)
	CouncilVoteTally(ctx context.Context, proposalID string) (store.VoteTally, error)
}

// Service assembles and renders proposal decision reports.
type Service struct {
	store DataStore
}

func NewService(dataStore DataStore) *Service {
	return &Service{store: dataStore}
}

// Export builds the decision report for a proposal and renders it to PDF.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	proposal, err := s.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}

	revisions, err := s.store.ListRevisions(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}

	tally, err := s.store.CouncilVoteTally(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}

	report := Report{
		CoopID:          proposal.CoopID,
		ProposalID:      proposal.ID,
		Title:           proposal.Title,
		Summary:         proposal.Summary,
		Category:        proposal.Category,
		BudgetCurrency:  proposal.Budget.Currency,
		BudgetAmount:    proposal.Budget.AmountRequested,
		Status:          proposal.Status,
		Decision:        proposal.Decision,
		DecisionReasons: proposal.DecisionReasons,
		CouncilRequired: proposal.CouncilRequired,
		VotesFor:        tally.For,
		VotesAgainst:    tally.Against,
		VotesAbstain:    tally.Abstain,
		GeneratedAt:     time.Now(),
	}

	for _, revision := range revisions {
		report.Revisions = append(report.Revisions, RevisionRow{
			Number:        revision.RevisionNumber,
			Decision:      revision.Decision,
			Composite:     revision.CompositeScore,
			ConfigVersion: revision.ConfigVersion,
			EngineVersion: revision.EngineVersion,
			SubmittedAt:   revision.SubmittedAt,
		})
	}

	if len(revisions) > 0 {
		latest := revisions[len(revisions)-1]
		report.CompositeScore = latest.CompositeScore
		report.MissionScore = latest.MissionScore
		report.StructuralScore = latest.StructuralScore

		scores, err := s.store.ListGoalScores(ctx, req.ProposalID, latest.RevisionNumber)
		if err != nil {
			return nil, fmt.Errorf("list goal scores: %w", err)
		}
		for _, score := range scores {
			report.GoalScores = append(report.GoalScores, GoalScoreRow{
				GoalID:      score.GoalID,
				Domain:      score.Domain,
				AIScore:     score.AIScore,
				ExpertScore: score.ExpertScore,
				ExpertNote:  score.ExpertReason,
			})
		}
	}

	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	return exportPDF(html, proposal.Title)
}
