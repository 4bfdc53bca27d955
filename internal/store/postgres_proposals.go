package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const proposalColumns = `
	id, coop_id, proposer_wallet, title, summary, raw_text, category,
	budget_currency, budget_amount, region, status, decision,
	decision_reasons, missing_data, alternatives, best_alternative, audit_checks,
	council_required, council_vote_threshold_usd, created_at, updated_at
`

func scanProposal(row rowScanner) (Proposal, error) {
	var item Proposal
	var reasons, missing, alternatives, checks []byte
	err := row.Scan(
		&item.ID,
		&item.CoopID,
		&item.ProposerWallet,
		&item.Title,
		&item.Summary,
		&item.RawText,
		&item.Category,
		&item.Budget.Currency,
		&item.Budget.AmountRequested,
		&item.Region,
		&item.Status,
		&item.Decision,
		&reasons,
		&missing,
		&alternatives,
		&item.BestAlternative,
		&checks,
		&item.CouncilRequired,
		&item.CouncilVoteThresholdUSD,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}
	_ = json.Unmarshal(reasons, &item.DecisionReasons)
	_ = json.Unmarshal(missing, &item.MissingData)
	_ = json.Unmarshal(alternatives, &item.Alternatives)
	_ = json.Unmarshal(checks, &item.AuditChecks)
	return item, nil
}

func proposalJSONFields(item Proposal) (reasons, missing, alternatives, checks []byte, err error) {
	if reasons, err = json.Marshal(item.DecisionReasons); err != nil {
		return
	}
	if missing, err = json.Marshal(item.MissingData); err != nil {
		return
	}
	if alternatives, err = json.Marshal(item.Alternatives); err != nil {
		return
	}
	checks, err = json.Marshal(item.AuditChecks)
	return
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE id=$1
	`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) ListProposals(ctx context.Context, coopID string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE coop_id=$1
		ORDER BY created_at DESC
	`, coopID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

// InsertProposal writes the proposal row, its first revision, and the
// revision's goal scores in one transaction. Nothing is written when any part
// fails, so a scoring failure never leaves a half-created proposal behind.
func (s *PostgresStore) InsertProposal(ctx context.Context, item Proposal, revision ProposalRevision, scores []GoalScore) error {
	reasons, missing, alternatives, checks, err := proposalJSONFields(item)
	if err != nil {
		return fmt.Errorf("marshal proposal fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin proposal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proposals (
			id, coop_id, proposer_wallet, title, summary, raw_text, category,
			budget_currency, budget_amount, region, status, decision,
			decision_reasons, missing_data, alternatives, best_alternative, audit_checks,
			council_required, council_vote_threshold_usd
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb, $15::jsonb, $16, $17::jsonb, $18, $19)
	`, item.ID, item.CoopID, item.ProposerWallet, item.Title, item.Summary, item.RawText, item.Category,
		item.Budget.Currency, item.Budget.AmountRequested, item.Region, item.Status, item.Decision,
		reasons, missing, alternatives, item.BestAlternative, checks,
		item.CouncilRequired, item.CouncilVoteThresholdUSD); err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	if err := insertRevisionTx(ctx, tx, revision, scores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit proposal tx: %w", err)
	}
	return nil
}

// AppendRevision allocates the next revision number, writes the revision and
// its goal scores, and overwrites the proposal's current-view fields, all in
// one transaction. The unique (proposal_id, revision_number) constraint keeps
// concurrent resubmits from both claiming the same number.
func (s *PostgresStore) AppendRevision(ctx context.Context, revision ProposalRevision, scores []GoalScore, view Proposal) (int, error) {
	reasons, missing, alternatives, checks, err := proposalJSONFields(view)
	if err != nil {
		return 0, fmt.Errorf("marshal proposal fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin revision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(revision_number), 0) + 1
		FROM proposal_revisions
		WHERE proposal_id=$1
	`, revision.ProposalID).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate revision number: %w", err)
	}
	revision.RevisionNumber = next
	for i := range scores {
		scores[i].RevisionNumber = next
	}

	if err := insertRevisionTx(ctx, tx, revision, scores); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE proposals
		SET raw_text=$2, summary=$3, decision=$4, decision_reasons=$5::jsonb, missing_data=$6::jsonb,
			alternatives=$7::jsonb, best_alternative=$8, audit_checks=$9::jsonb,
			council_required=$10, updated_at=NOW()
		WHERE id=$1
	`, view.ID, view.RawText, view.Summary, view.Decision, reasons, missing,
		alternatives, view.BestAlternative, checks, view.CouncilRequired); err != nil {
		return 0, fmt.Errorf("update proposal view: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit revision tx: %w", err)
	}
	return next, nil
}

func insertRevisionTx(ctx context.Context, tx *sql.Tx, revision ProposalRevision, scores []GoalScore) error {
	reasons, err := json.Marshal(revision.DecisionReasons)
	if err != nil {
		return fmt.Errorf("marshal revision reasons: %w", err)
	}
	missing, err := json.Marshal(revision.MissingData)
	if err != nil {
		return fmt.Errorf("marshal revision missing data: %w", err)
	}
	alternatives, err := json.Marshal(revision.Alternatives)
	if err != nil {
		return fmt.Errorf("marshal revision alternatives: %w", err)
	}
	checks, err := json.Marshal(revision.AuditChecks)
	if err != nil {
		return fmt.Errorf("marshal revision audit checks: %w", err)
	}
	structural, err := json.Marshal(revision.StructuralScores)
	if err != nil {
		return fmt.Errorf("marshal revision structural scores: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proposal_revisions (
			proposal_id, revision_number, raw_text, decision,
			decision_reasons, missing_data, alternatives, audit_checks,
			composite_score, mission_score, structural_score, structural_scores,
			config_version, engine_version
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb, $9, $10, $11, $12::jsonb, $13, $14)
	`, revision.ProposalID, revision.RevisionNumber, revision.RawText, revision.Decision,
		reasons, missing, alternatives, checks,
		revision.CompositeScore, revision.MissionScore, revision.StructuralScore, structural,
		revision.ConfigVersion, revision.EngineVersion); err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}

	for _, score := range scores {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goal_scores (proposal_id, revision_number, goal_id, domain, ai_score)
			VALUES ($1, $2, $3, $4, $5)
		`, score.ProposalID, score.RevisionNumber, score.GoalID, score.Domain, score.AIScore); err != nil {
			return fmt.Errorf("insert goal score: %w", err)
		}
	}
	return nil
}

const revisionColumns = `
	id, proposal_id, revision_number, raw_text, decision,
	decision_reasons, missing_data, alternatives, audit_checks,
	composite_score, mission_score, structural_score, structural_scores,
	config_version, engine_version, submitted_at
`

func scanRevision(row rowScanner) (ProposalRevision, error) {
	var item ProposalRevision
	var reasons, missing, alternatives, checks, structural []byte
	err := row.Scan(
		&item.ID,
		&item.ProposalID,
		&item.RevisionNumber,
		&item.RawText,
		&item.Decision,
		&reasons,
		&missing,
		&alternatives,
		&checks,
		&item.CompositeScore,
		&item.MissionScore,
		&item.StructuralScore,
		&structural,
		&item.ConfigVersion,
		&item.EngineVersion,
		&item.SubmittedAt,
	)
	if err != nil {
		return ProposalRevision{}, err
	}
	_ = json.Unmarshal(reasons, &item.DecisionReasons)
	_ = json.Unmarshal(missing, &item.MissingData)
	_ = json.Unmarshal(alternatives, &item.Alternatives)
	_ = json.Unmarshal(checks, &item.AuditChecks)
	_ = json.Unmarshal(structural, &item.StructuralScores)
	return item, nil
}

func (s *PostgresStore) ListRevisions(ctx context.Context, proposalID string) ([]ProposalRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+revisionColumns+`
		FROM proposal_revisions
		WHERE proposal_id=$1
		ORDER BY revision_number ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]ProposalRevision, 0)
	for rows.Next() {
		item, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) LatestRevision(ctx context.Context, proposalID string) (ProposalRevision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+revisionColumns+`
		FROM proposal_revisions
		WHERE proposal_id=$1
		ORDER BY revision_number DESC
		LIMIT 1
	`, proposalID)
	return scanRevision(row)
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE proposals SET status=$2, updated_at=NOW() WHERE id=$1`, proposalID, status)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGoalScores(ctx context.Context, proposalID string, revisionNumber int) ([]GoalScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, revision_number, goal_id, domain, ai_score,
			expert_score, COALESCE(expert_wallet, ''), COALESCE(expert_reason, ''), updated_at
		FROM goal_scores
		WHERE proposal_id=$1 AND revision_number=$2
		ORDER BY goal_id ASC
	`, proposalID, revisionNumber)
	if err != nil {
		return nil, fmt.Errorf("list goal scores: %w", err)
	}
	defer rows.Close()

	items := make([]GoalScore, 0)
	for rows.Next() {
		var item GoalScore
		if err := rows.Scan(
			&item.ID,
			&item.ProposalID,
			&item.RevisionNumber,
			&item.GoalID,
			&item.Domain,
			&item.AIScore,
			&item.ExpertScore,
			&item.ExpertWallet,
			&item.ExpertReason,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan goal score: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goal scores: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetGoalScore(ctx context.Context, proposalID string, revisionNumber int, goalID string) (GoalScore, error) {
	var item GoalScore
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, revision_number, goal_id, domain, ai_score,
			expert_score, COALESCE(expert_wallet, ''), COALESCE(expert_reason, ''), updated_at
		FROM goal_scores
		WHERE proposal_id=$1 AND revision_number=$2 AND goal_id=$3
	`, proposalID, revisionNumber, goalID).Scan(
		&item.ID,
		&item.ProposalID,
		&item.RevisionNumber,
		&item.GoalID,
		&item.Domain,
		&item.AIScore,
		&item.ExpertScore,
		&item.ExpertWallet,
		&item.ExpertReason,
		&item.UpdatedAt,
	)
	if err != nil {
		return GoalScore{}, err
	}
	return item, nil
}

// UpsertExpertScore only touches the expert override columns; the AI score is
// immutable once computed.
func (s *PostgresStore) UpsertExpertScore(ctx context.Context, proposalID string, revisionNumber int, goalID, wallet string, score float64, reason string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE goal_scores
		SET expert_score=$4, expert_wallet=$5, expert_reason=$6, updated_at=NOW()
		WHERE proposal_id=$1 AND revision_number=$2 AND goal_id=$3
	`, proposalID, revisionNumber, goalID, score, wallet, reason)
	if err != nil {
		return false, fmt.Errorf("upsert expert score: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert expert score rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpsertCouncilVote(ctx context.Context, proposalID, voterWallet, choice string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO council_votes (proposal_id, voter_wallet, choice)
		VALUES ($1, $2, $3)
		ON CONFLICT (proposal_id, voter_wallet)
		DO UPDATE SET choice=EXCLUDED.choice, cast_at=NOW()
	`, proposalID, voterWallet, choice)
	if err != nil {
		return fmt.Errorf("upsert council vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) CouncilVoteTally(ctx context.Context, proposalID string) (VoteTally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT choice, COUNT(*)::int
		FROM council_votes
		WHERE proposal_id=$1
		GROUP BY choice
	`, proposalID)
	if err != nil {
		return VoteTally{}, fmt.Errorf("tally council votes: %w", err)
	}
	defer rows.Close()

	var tally VoteTally
	for rows.Next() {
		var choice string
		var count int
		if err := rows.Scan(&choice, &count); err != nil {
			return VoteTally{}, fmt.Errorf("scan vote tally: %w", err)
		}
		switch choice {
		case VoteFor:
			tally.For = count
		case VoteAgainst:
			tally.Against = count
		case VoteAbstain:
			tally.Abstain = count
		}
	}
	if err := rows.Err(); err != nil {
		return VoteTally{}, fmt.Errorf("iterate vote tally: %w", err)
	}
	return tally, nil
}

func (s *PostgresStore) ListCouncilVotes(ctx context.Context, proposalID string) ([]CouncilVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, voter_wallet, choice, cast_at
		FROM council_votes
		WHERE proposal_id=$1
		ORDER BY cast_at ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list council votes: %w", err)
	}
	defer rows.Close()

	items := make([]CouncilVote, 0)
	for rows.Next() {
		var item CouncilVote
		if err := rows.Scan(&item.ProposalID, &item.VoterWallet, &item.Choice, &item.CastAt); err != nil {
			return nil, fmt.Errorf("scan council vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate council votes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, proposal_id, author_wallet, body)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.ProposalID, item.AuthorWallet, item.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCommentEvaluation(ctx context.Context, commentID string, eval CommentEvaluation) error {
	goals, err := json.Marshal(eval.GoalsImpacted)
	if err != nil {
		return fmt.Errorf("marshal goals impacted: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE comments
		SET alignment=$2, alignment_score=$3, alignment_analysis=$4, goals_impacted=$5::jsonb
		WHERE id=$1
	`, commentID, eval.Alignment, eval.Score, eval.Analysis, goals)
	if err != nil {
		return fmt.Errorf("set comment evaluation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, proposalID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, author_wallet, body, alignment, alignment_score, alignment_analysis, goals_impacted, created_at
		FROM comments
		WHERE proposal_id=$1
		ORDER BY created_at ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		var alignment, analysis *string
		var score *float64
		var goals []byte
		if err := rows.Scan(&item.ID, &item.ProposalID, &item.AuthorWallet, &item.Body, &alignment, &score, &analysis, &goals, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if alignment != nil {
			eval := CommentEvaluation{Alignment: *alignment}
			if score != nil {
				eval.Score = *score
			}
			if analysis != nil {
				eval.Analysis = *analysis
			}
			_ = json.Unmarshal(goals, &eval.GoalsImpacted)
			item.Evaluation = &eval
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ToggleReaction mirrors the one-reaction-per-wallet rule: the same kind twice
// removes the reaction, a different kind replaces it. Returns true when a
// reaction remains after the call.
func (s *PostgresStore) ToggleReaction(ctx context.Context, proposalID, wallet, kind string) (bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT kind
		FROM reactions
		WHERE proposal_id=$1 AND wallet=$2
	`, proposalID, wallet).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup reaction: %w", err)
	}
	if err == nil && existing == kind {
		if _, delErr := s.db.ExecContext(ctx, `
			DELETE FROM reactions
			WHERE proposal_id=$1 AND wallet=$2
		`, proposalID, wallet); delErr != nil {
			return false, fmt.Errorf("delete reaction: %w", delErr)
		}
		return false, nil
	}
	if _, upsertErr := s.db.ExecContext(ctx, `
		INSERT INTO reactions (proposal_id, wallet, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (proposal_id, wallet)
		DO UPDATE SET kind=EXCLUDED.kind, created_at=NOW()
	`, proposalID, wallet, kind); upsertErr != nil {
		return false, fmt.Errorf("upsert reaction: %w", upsertErr)
	}
	return true, nil
}

func (s *PostgresStore) ReactionCounts(ctx context.Context, proposalID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)::int
		FROM reactions
		WHERE proposal_id=$1
		GROUP BY kind
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("count reactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		counts[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction counts: %w", err)
	}
	return counts, nil
}
