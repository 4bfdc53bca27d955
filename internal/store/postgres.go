package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const configColumns = `
	id, coop_id, version, is_active, charter_text,
	mission_goals, structural_weights, score_mix, thresholds, governance,
	proposal_categories, sector_exclusions, scorer_agents,
	min_sc_balance_to_submit, ai_auto_approve_threshold_usd, council_vote_threshold_usd,
	created_by, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (CoopConfig, error) {
	var item CoopConfig
	var goals, weights, mix, thresholds, governance, categories, exclusions, agents []byte
	err := row.Scan(
		&item.ID,
		&item.CoopID,
		&item.Version,
		&item.IsActive,
		&item.CharterText,
		&goals,
		&weights,
		&mix,
		&thresholds,
		&governance,
		&categories,
		&exclusions,
		&agents,
		&item.MinSCBalanceToSubmit,
		&item.AIAutoApproveThresholdUSD,
		&item.CouncilVoteThresholdUSD,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return CoopConfig{}, err
	}
	_ = json.Unmarshal(goals, &item.MissionGoals)
	_ = json.Unmarshal(weights, &item.StructuralWeights)
	_ = json.Unmarshal(mix, &item.ScoreMix)
	_ = json.Unmarshal(thresholds, &item.Thresholds)
	_ = json.Unmarshal(governance, &item.Governance)
	_ = json.Unmarshal(categories, &item.ProposalCategories)
	_ = json.Unmarshal(exclusions, &item.SectorExclusions)
	_ = json.Unmarshal(agents, &item.ScorerAgents)
	return item, nil
}

func configJSONFields(item CoopConfig) (goals, weights, mix, thresholds, governance, categories, exclusions, agents []byte, err error) {
	if goals, err = json.Marshal(item.MissionGoals); err != nil {
		return
	}
	if weights, err = json.Marshal(item.StructuralWeights); err != nil {
		return
	}
	if mix, err = json.Marshal(item.ScoreMix); err != nil {
		return
	}
	if thresholds, err = json.Marshal(item.Thresholds); err != nil {
		return
	}
	if governance, err = json.Marshal(item.Governance); err != nil {
		return
	}
	if categories, err = json.Marshal(item.ProposalCategories); err != nil {
		return
	}
	if exclusions, err = json.Marshal(item.SectorExclusions); err != nil {
		return
	}
	agents, err = json.Marshal(item.ScorerAgents)
	return
}

func (s *PostgresStore) GetActiveConfig(ctx context.Context, coopID string) (*CoopConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM coop_configs
		WHERE coop_id=$1 AND is_active
	`, coopID)
	item, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active config: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) GetConfigVersion(ctx context.Context, coopID string, version int) (CoopConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM coop_configs
		WHERE coop_id=$1 AND version=$2
	`, coopID, version)
	item, err := scanConfig(row)
	if err != nil {
		return CoopConfig{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListConfigVersions(ctx context.Context, coopID string) ([]CoopConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configColumns+`
		FROM coop_configs
		WHERE coop_id=$1
		ORDER BY version DESC
	`, coopID)
	if err != nil {
		return nil, fmt.Errorf("list config versions: %w", err)
	}
	defer rows.Close()

	items := make([]CoopConfig, 0)
	for rows.Next() {
		item, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertConfig(ctx context.Context, item CoopConfig) error {
	goals, weights, mix, thresholds, governance, categories, exclusions, agents, err := configJSONFields(item)
	if err != nil {
		return fmt.Errorf("marshal config fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO coop_configs (
			coop_id, version, is_active, charter_text,
			mission_goals, structural_weights, score_mix, thresholds, governance,
			proposal_categories, sector_exclusions, scorer_agents,
			min_sc_balance_to_submit, ai_auto_approve_threshold_usd, council_vote_threshold_usd,
			created_by
		)
		VALUES ($1, $2, TRUE, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11::jsonb, $12, $13, $14, $15)
	`, item.CoopID, item.Version, item.CharterText,
		goals, weights, mix, thresholds, governance, categories, exclusions, agents,
		item.MinSCBalanceToSubmit, item.AIAutoApproveThresholdUSD, item.CouncilVoteThresholdUSD,
		item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

// ReplaceActiveConfig deactivates the current active version and inserts the
// next one together with its audit record in a single transaction. The unique
// partial index on (coop_id) WHERE is_active and the unique (coop_id, version)
// constraint make concurrent bumps fail rather than fork the version chain.
func (s *PostgresStore) ReplaceActiveConfig(ctx context.Context, next CoopConfig, audit CoopConfigAudit) error {
	goals, weights, mix, thresholds, governance, categories, exclusions, agents, err := configJSONFields(next)
	if err != nil {
		return fmt.Errorf("marshal config fields: %w", err)
	}
	diff, err := json.Marshal(audit.Diff)
	if err != nil {
		return fmt.Errorf("marshal config diff: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin config tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE coop_configs SET is_active=FALSE
		WHERE coop_id=$1 AND is_active AND version=$2
	`, next.CoopID, next.Version-1)
	if err != nil {
		return fmt.Errorf("deactivate config: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate config rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coop_configs (
			coop_id, version, is_active, charter_text,
			mission_goals, structural_weights, score_mix, thresholds, governance,
			proposal_categories, sector_exclusions, scorer_agents,
			min_sc_balance_to_submit, ai_auto_approve_threshold_usd, council_vote_threshold_usd,
			created_by
		)
		VALUES ($1, $2, TRUE, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11::jsonb, $12, $13, $14, $15)
	`, next.CoopID, next.Version, next.CharterText,
		goals, weights, mix, thresholds, governance, categories, exclusions, agents,
		next.MinSCBalanceToSubmit, next.AIAutoApproveThresholdUSD, next.CouncilVoteThresholdUSD,
		next.CreatedBy); err != nil {
		return fmt.Errorf("insert config version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coop_config_audits (coop_id, version, changed_by, reason, diff)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, audit.CoopID, audit.Version, audit.ChangedBy, audit.Reason, diff); err != nil {
		return fmt.Errorf("insert config audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit config tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConfigAudits(ctx context.Context, coopID string, limit, offset int) ([]CoopConfigAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, coop_id, version, changed_by, reason, diff, created_at
		FROM coop_config_audits
		WHERE coop_id=$1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`, coopID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list config audits: %w", err)
	}
	defer rows.Close()

	items := make([]CoopConfigAudit, 0)
	for rows.Next() {
		var item CoopConfigAudit
		var diff []byte
		if err := rows.Scan(&item.ID, &item.CoopID, &item.Version, &item.ChangedBy, &item.Reason, &diff, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan config audit: %w", err)
		}
		_ = json.Unmarshal(diff, &item.Diff)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config audits: %w", err)
	}
	return items, nil
}

// InsertAmendment marks any pending amendment for the same (coop, section)
// SUPERSEDED and inserts the new PENDING row in one transaction.
func (s *PostgresStore) InsertAmendment(ctx context.Context, item Amendment) error {
	changes, err := json.Marshal(item.ProposedChanges)
	if err != nil {
		return fmt.Errorf("marshal proposed changes: %w", err)
	}
	snapshot, err := json.Marshal(item.CurrentSnapshot)
	if err != nil {
		return fmt.Errorf("marshal amendment snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin amendment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE amendments
		SET status=$3, reviewed_by=$4, reviewed_at=NOW()
		WHERE coop_id=$1 AND section=$2 AND status=$5
	`, item.CoopID, item.Section, AmendmentSuperseded, item.ProposedBy, AmendmentPending); err != nil {
		return fmt.Errorf("supersede pending amendments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO amendments (id, coop_id, section, kind, proposed_changes, proposed_text, current_snapshot, reason, status, proposed_by)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7::jsonb, $8, $9, $10)
	`, item.ID, item.CoopID, item.Section, item.Kind, changes, item.ProposedText, snapshot, item.Reason, AmendmentPending, item.ProposedBy); err != nil {
		return fmt.Errorf("insert amendment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit amendment tx: %w", err)
	}
	return nil
}

const amendmentColumns = `
	id, coop_id, section, kind, proposed_changes, proposed_text, current_snapshot,
	reason, status, proposed_by, COALESCE(reviewed_by, ''), reviewed_at, applied_version, created_at
`

func scanAmendment(row rowScanner) (Amendment, error) {
	var item Amendment
	var changes, snapshot []byte
	err := row.Scan(
		&item.ID,
		&item.CoopID,
		&item.Section,
		&item.Kind,
		&changes,
		&item.ProposedText,
		&snapshot,
		&item.Reason,
		&item.Status,
		&item.ProposedBy,
		&item.ReviewedBy,
		&item.ReviewedAt,
		&item.AppliedVersion,
		&item.CreatedAt,
	)
	if err != nil {
		return Amendment{}, err
	}
	_ = json.Unmarshal(changes, &item.ProposedChanges)
	_ = json.Unmarshal(snapshot, &item.CurrentSnapshot)
	return item, nil
}

func (s *PostgresStore) GetAmendment(ctx context.Context, amendmentID string) (Amendment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+amendmentColumns+`
		FROM amendments
		WHERE id=$1
	`, amendmentID)
	return scanAmendment(row)
}

func (s *PostgresStore) ListPendingAmendments(ctx context.Context, coopID, section string) ([]Amendment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+amendmentColumns+`
		FROM amendments
		WHERE coop_id=$1 AND status=$2 AND ($3='' OR section=$3)
		ORDER BY created_at DESC
	`, coopID, AmendmentPending, section)
	if err != nil {
		return nil, fmt.Errorf("list pending amendments: %w", err)
	}
	defer rows.Close()

	items := make([]Amendment, 0)
	for rows.Next() {
		item, err := scanAmendment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan amendment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate amendments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAmendments(ctx context.Context, coopID string) ([]Amendment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+amendmentColumns+`
		FROM amendments
		WHERE coop_id=$1
		ORDER BY created_at DESC
	`, coopID)
	if err != nil {
		return nil, fmt.Errorf("list amendments: %w", err)
	}
	defer rows.Close()

	items := make([]Amendment, 0)
	for rows.Next() {
		item, err := scanAmendment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan amendment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate amendments: %w", err)
	}
	return items, nil
}

// ResolveAmendment moves a PENDING amendment to a terminal status. Returns
// false when the amendment was not pending anymore.
func (s *PostgresStore) ResolveAmendment(ctx context.Context, amendmentID, status, reviewedBy string, appliedVersion *int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE amendments
		SET status=$2, reviewed_by=$3, reviewed_at=NOW(), applied_version=$4
		WHERE id=$1 AND status=$5
	`, amendmentID, status, reviewedBy, appliedVersion, AmendmentPending)
	if err != nil {
		return false, fmt.Errorf("resolve amendment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve amendment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetMember(ctx context.Context, coopID, wallet string) (Member, error) {
	var item Member
	var domains []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT coop_id, wallet, role, domains, created_at
		FROM coop_members
		WHERE coop_id=$1 AND wallet=$2
	`, coopID, wallet).Scan(&item.CoopID, &item.Wallet, &item.Role, &domains, &item.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	_ = json.Unmarshal(domains, &item.Domains)
	return item, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, item Member) error {
	domains, err := json.Marshal(item.Domains)
	if err != nil {
		return fmt.Errorf("marshal member domains: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO coop_members (coop_id, wallet, role, domains)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (coop_id, wallet) DO UPDATE SET role=EXCLUDED.role, domains=EXCLUDED.domains
	`, item.CoopID, item.Wallet, item.Role, domains)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) EligibleVoters(ctx context.Context, coopID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT eligible_voters FROM coop_voter_pools WHERE coop_id=$1
	`, coopID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read voter pool: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpsertVoterPool(ctx context.Context, coopID string, eligibleVoters int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coop_voter_pools (coop_id, eligible_voters)
		VALUES ($1, $2)
		ON CONFLICT (coop_id) DO UPDATE SET eligible_voters=EXCLUDED.eligible_voters, updated_at=NOW()
	`, coopID, eligibleVoters)
	if err != nil {
		return fmt.Errorf("upsert voter pool: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, wallet string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, wallet, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET wallet=EXCLUDED.wallet, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, wallet, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var wallet string
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet
		FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&wallet)
	if err != nil {
		return "", err
	}
	return wallet, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
