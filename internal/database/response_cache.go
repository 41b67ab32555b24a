package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
)

// DB is the part of *pgxpool.Pool the response cache uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const responseCacheSchema = `
	CREATE TABLE IF NOT EXISTS soda_responses (
		cache_key  TEXT PRIMARY KEY,
		body       BYTEA NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)
`

// ResponseCache stores dataset response bodies in Postgres so several API
// and worker instances share upstream results without Redis.
type ResponseCache struct {
	db    DB
	clock clockwork.Clock
}

// NewResponseCache creates a response cache over db.
func NewResponseCache(db DB, clock clockwork.Clock) *ResponseCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ResponseCache{db: db, clock: clock}
}

// EnsureSchema creates the cache table when it does not exist.
func (c *ResponseCache) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, responseCacheSchema); err != nil {
		return fmt.Errorf("create soda_responses: %w", err)
	}
	return nil
}

// Get returns the unexpired body stored under key.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `
		SELECT body
		FROM soda_responses
		WHERE cache_key = $1 AND expires_at > $2
	`

	var body []byte
	err := c.db.QueryRow(ctx, query, key, c.clock.Now().UTC()).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres get: %w", err)
	}
	return body, true, nil
}

// Set stores body under key for ttl, replacing any previous entry.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	query := `
		INSERT INTO soda_responses (cache_key, body, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE
		SET body = EXCLUDED.body, expires_at = EXCLUDED.expires_at
	`

	if _, err := c.db.Exec(ctx, query, key, body, c.clock.Now().UTC().Add(ttl)); err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

// Purge deletes expired entries and reports how many were removed.
func (c *ResponseCache) Purge(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, `DELETE FROM soda_responses WHERE expires_at <= $1`, c.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
