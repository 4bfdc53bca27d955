package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across proposals and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProposal {
		propWhere := "p.fts @@ " + tsQuery
		if q.FilterCoopID != "" {
			propWhere += fmt.Sprintf(" AND p.coop_id = $%d", argN)
			args = append(args, q.FilterCoopID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS proposal_id, p.coop_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM proposals p
			WHERE %s`, tsQuery, tsQuery, propWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "c.fts @@ " + tsQuery
		if q.FilterCoopID != "" {
			commentWhere += fmt.Sprintf(" AND p.coop_id = $%d", argN)
			args = append(args, q.FilterCoopID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, coalesce(c.alignment, '') AS title,
				ts_headline('english', coalesce(c.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.proposal_id, p.coop_id, ''::text AS status,
				ts_rank(c.fts, %s) AS rank
			FROM comments c
			JOIN proposals p ON p.id = c.proposal_id
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, proposal_id, coop_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProposalID, &r.CoopID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProposalRecord, []CommentRecord, error) {
	propRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, summary, coop_id, status, category, decision
		FROM proposals
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposals: %w", err)
	}
	defer propRows.Close()

	proposals := make([]ProposalRecord, 0)
	for propRows.Next() {
		var record ProposalRecord
		if err := propRows.Scan(&record.ID, &record.Title, &record.Summary, &record.CoopID, &record.Status, &record.Category, &record.Decision); err != nil {
			return nil, nil, fmt.Errorf("scan proposal record: %w", err)
		}
		proposals = append(proposals, record)
	}
	if err := propRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proposal records: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.body, c.proposal_id, p.coop_id, coalesce(c.alignment, '')
		FROM comments c
		JOIN proposals p ON p.id = c.proposal_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var record CommentRecord
		if err := commentRows.Scan(&record.ID, &record.Body, &record.ProposalID, &record.CoopID, &record.Alignment); err != nil {
			return nil, nil, fmt.Errorf("scan comment record: %w", err)
		}
		comments = append(comments, record)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comment records: %w", err)
	}

	return proposals, comments, nil
}
