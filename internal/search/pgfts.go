package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher with PostgreSQL full-text search over the tasks
// table. It only applies when tasks live in Postgres.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the task store is too.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]string, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []string{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id
		FROM tasks
		WHERE fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC, created_at DESC
		LIMIT $2
	`, q.Text, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
