package app

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/SoulaanRad/soulaan-coop-sub001/internal/rbac"
	"github.com/SoulaanRad/soulaan-coop-sub001/internal/store"
)

type VoteOutcome struct {
	Proposal store.Proposal  `json:"proposal"`
	Tally    store.VoteTally `json:"tally"`
	Quorum   int             `json:"quorum"`
	Approved bool            `json:"approved"`
}

// CastCouncilVote records one council member's vote and flips the proposal to
// approved on the deciding vote. One row per voter; re-voting overwrites the
// prior choice.
func (s *Service) CastCouncilVote(ctx context.Context, session Session, proposalID, choice string) (VoteOutcome, error) {
	if !s.Can(session.Role, rbac.ActionVote) {
		return VoteOutcome{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	choice = strings.ToUpper(strings.TrimSpace(choice))
	if choice != store.VoteFor && choice != store.VoteAgainst && choice != store.VoteAbstain {
		return VoteOutcome{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "choice must be FOR, AGAINST, or ABSTAIN", nil)
	}

	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return VoteOutcome{}, err
	}
	if item.Status != store.StatusVotable {
		return VoteOutcome{}, domainError(http.StatusConflict, "NOT_VOTABLE", "Proposal is not open for voting", map[string]any{"status": item.Status})
	}

	if err := s.store.UpsertCouncilVote(ctx, proposalID, session.Wallet, choice); err != nil {
		return VoteOutcome{}, err
	}

	tally, err := s.store.CouncilVoteTally(ctx, proposalID)
	if err != nil {
		return VoteOutcome{}, err
	}
	eligible, err := s.store.EligibleVoters(ctx, item.CoopID)
	if err != nil {
		return VoteOutcome{}, err
	}

	cfg, err := s.store.GetActiveConfig(ctx, item.CoopID)
	if err != nil {
		return VoteOutcome{}, err
	}
	quorumPercent := 50.0
	if cfg != nil && cfg.Governance.QuorumPercent > 0 {
		quorumPercent = cfg.Governance.QuorumPercent
	}
	quorum := quorumVotes(quorumPercent, eligible)

	outcome := VoteOutcome{Proposal: item, Tally: tally, Quorum: quorum}
	if eligible > 0 && tally.Total() >= quorum && tally.For > tally.Against {
		if err := s.store.UpdateProposalStatus(ctx, proposalID, store.StatusApproved); err != nil {
			return VoteOutcome{}, err
		}
		approved, err := s.store.GetProposal(ctx, proposalID)
		if err != nil {
			return VoteOutcome{}, err
		}
		outcome.Proposal = approved
		outcome.Approved = true
		s.indexProposal(approved)
	}
	return outcome, nil
}

func (s *Service) ListCouncilVotes(ctx context.Context, proposalID string) ([]store.CouncilVote, store.VoteTally, error) {
	votes, err := s.store.ListCouncilVotes(ctx, proposalID)
	if err != nil {
		return nil, store.VoteTally{}, err
	}
	tally, err := s.store.CouncilVoteTally(ctx, proposalID)
	if err != nil {
		return nil, store.VoteTally{}, err
	}
	return votes, tally, nil
}

// quorumVotes is the minimum vote count that satisfies the quorum percentage
// of the eligible pool, rounded up.
func quorumVotes(quorumPercent float64, eligible int) int {
	if eligible <= 0 {
		return 0
	}
	return int(math.Ceil(quorumPercent / 100 * float64(eligible)))
}
