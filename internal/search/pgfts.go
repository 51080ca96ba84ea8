package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over collection_items.search_vector.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true: without Postgres the API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	where, args := pgftsWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, kind, scope_key,
			coalesce(fields->>'title', fields->>'name', fields->>'question', fields->>'label', id) AS label,
			ts_headline('simple', coalesce((SELECT string_agg(value, ' ') FROM jsonb_each_text(fields)), ''),
				plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM collection_items
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC, id
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Kind, &r.ScopeKey, &r.Label, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgftsWhere builds the filter clause; $1 is always the query text.
func pgftsWhere(q Query) (string, []any) {
	clauses := []string{"search_vector @@ plainto_tsquery('simple', $1)"}
	args := []any{q.Text}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("kind", q.Kind)
	add("scope_key", q.ScopeKey)
	add("owner_id", q.OwnerID)
	return strings.Join(clauses, " AND "), args
}
