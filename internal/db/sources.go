package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// SaveSources writes a job's source table. Rows already stored are left untouched, so a
// retried save is harmless.
func (db *DB) SaveSources(ctx context.Context, jobID uuid.UUID, sources []types.Source) error {
	if len(sources) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range sources {
		batch.Queue(
			`INSERT INTO sources (job_id, source_id, url, title, provider, published_date, snippet, fetched_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (job_id, source_id) DO NOTHING`,
			jobID, s.ID, nullIfEmpty(s.URL), s.Title, s.Provider, s.PublishedDate, s.Snippet, s.FetchedAt,
		)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save %d sources: %w", len(sources), err)
	}
	return nil
}

// ListSources returns a job's sources in id order
func (db *DB) ListSources(ctx context.Context, jobID uuid.UUID) ([]types.Source, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT source_id, url, title, provider, published_date, snippet, fetched_at
		 FROM sources WHERE job_id = $1 ORDER BY source_id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []types.Source
	for rows.Next() {
		var (
			s   types.Source
			url *string
		)
		if err := rows.Scan(&s.ID, &url, &s.Title, &s.Provider, &s.PublishedDate, &s.Snippet, &s.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		s.URL = derefString(url)
		out = append(out, s)
	}
	return out, rows.Err()
}
