package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetCachedResponse returns an unexpired provider response body. DB satisfies
// fetch.ResponseCache.
func (db *DB) GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	err := db.pool.QueryRow(ctx,
		`SELECT body FROM provider_cache WHERE cache_key = $1 AND expires_at > NOW()`, key,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached response: %w", err)
	}
	return body, true, nil
}

// PutCachedResponse stores a provider response for ttl
func (db *DB) PutCachedResponse(ctx context.Context, key, namespace string, body []byte, ttl time.Duration) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO provider_cache (cache_key, namespace, body, created_at, expires_at)
		 VALUES ($1, $2, $3, NOW(), NOW() + make_interval(secs => $4))
		 ON CONFLICT (cache_key) DO UPDATE SET
		     namespace = EXCLUDED.namespace, body = EXCLUDED.body,
		     created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		key, namespace, body, ttl.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

// PruneCache deletes expired cache rows and returns how many were removed
func (db *DB) PruneCache(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM provider_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune provider cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
