// Package idempotency implements the IdempotencyStore component (C6):
// a two-tier claim/commit of processed event keys.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	processingKeyPrefix = "processing:"
	processedKeyPrefix  = "processed:"

	// DefaultProcessingTTL is the advisory claim lock's lifetime.
	DefaultProcessingTTL = 5 * time.Minute
	// DefaultProcessedTTL is how long the fast-tier "already handled"
	// marker lives before the durable tier becomes the sole source of
	// truth for that key.
	DefaultProcessedTTL = 7 * 24 * time.Hour
	// DefaultRetentionDays is how long durable processed_events rows
	// are kept before scheduled cleanup purges them.
	DefaultRetentionDays = 7
)

// Cache is the fast tier: a TTL-keyed store. Satisfied by a thin
// wrapper over *redis.Client (see RedisCache).
type Cache interface {
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// DB is the durable tier. Satisfied directly by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the two-tier idempotency contract. The fast tier is
// a performance optimization only; correctness rests on the durable
// tier's insert-or-ignore semantics.
type Store struct {
	cache         Cache
	db            DB
	processingTTL time.Duration
	processedTTL  time.Duration
}

// New builds a Store with the default TTLs (override via WithTTLs).
func New(cache Cache, db DB) *Store {
	return &Store{cache: cache, db: db, processingTTL: DefaultProcessingTTL, processedTTL: DefaultProcessedTTL}
}

// WithTTLs overrides the default claim/processed TTLs, e.g. from the
// configured idempotency.processing_ttl_sec / processed_ttl_sec.
func (s *Store) WithTTLs(processingTTL, processedTTL time.Duration) *Store {
	s.processingTTL = processingTTL
	s.processedTTL = processedTTL
	return s
}

// IsProcessed reports whether key has already been committed, checking
// the fast tier first and falling back to the durable row.
func (s *Store) IsProcessed(ctx context.Context, key string) (bool, error) {
	cached, err := s.cache.Exists(ctx, processedKeyPrefix+key)
	if err != nil {
		return false, fmt.Errorf("idempotency: cache check: %w", err)
	}
	if cached {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE idempotency_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency: durable check: %w", err)
	}
	return exists, nil
}

// Claim sets the advisory processing lock. It is purely advisory: a
// crash between claim and commit leaves the TTL to expire and the
// message to redeliver.
func (s *Store) Claim(ctx context.Context, key string) error {
	if err := s.cache.SetTTL(ctx, processingKeyPrefix+key, s.processingTTL); err != nil {
		return fmt.Errorf("idempotency: claim: %w", err)
	}
	return nil
}

// Commit releases the processing lock, sets the processed marker, and
// inserts the durable row with insert-or-ignore semantics (a duplicate
// primary key is not an error).
func (s *Store) Commit(ctx context.Context, key, eventType, service string) error {
	if err := s.cache.Delete(ctx, processingKeyPrefix+key); err != nil {
		return fmt.Errorf("idempotency: commit: release processing lock: %w", err)
	}
	if err := s.cache.SetTTL(ctx, processedKeyPrefix+key, s.processedTTL); err != nil {
		return fmt.Errorf("idempotency: commit: set processed marker: %w", err)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (idempotency_key, event_type, service, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, eventType, service)
	if err != nil {
		return fmt.Errorf("idempotency: commit: durable insert: %w", err)
	}
	return nil
}

// Release clears the processing lock without committing; called after
// a post-CLAIM exception so the message can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, processingKeyPrefix+key); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// Cleanup deletes durable rows older than retentionDays and returns how
// many rows were removed.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	tag, err := s.db.Exec(ctx, `
		DELETE FROM processed_events
		WHERE processed_at < NOW() - ($1 * INTERVAL '1 day')
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Schema is the durable table's DDL (spec.md §6).
const Schema = `
CREATE TABLE IF NOT EXISTS processed_events (
	idempotency_key CHAR(64) PRIMARY KEY,
	event_type VARCHAR(100) NOT NULL,
	service VARCHAR(50) NOT NULL,
	processed_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at ON processed_events (processed_at);
`
