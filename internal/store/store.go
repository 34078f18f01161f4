package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the env-driven tunables from spec.md §6.3.
// ProRequestLimit and EphemeralTTLMS are applied at endpoint/owner
// creation time, which sits in the out-of-scope dashboard; they're
// carried here so the Store has one place to source them from once
// that surface exists, and so FreeRequestLimit's period-reset sibling
// isn't the only tunable in this struct.
type Config struct {
	FreeRequestLimit int64
	ProRequestLimit  int64
	EphemeralTTLMS   int64
	BillingPeriodMS  int64
}

// Store is the system of record: Postgres-backed persistence plus the
// deferred usage-increment scheduler. It's the concrete home for every
// Store-side operation in spec.md §4.5.
type Store struct {
	pool      *pgxpool.Pool
	cfg       Config
	Scheduler *IncrementScheduler
}

func New(pool *pgxpool.Pool, cfg Config) *Store {
	s := &Store{pool: pool, cfg: cfg}
	s.Scheduler = NewIncrementScheduler(s.incrementUsage)
	return s
}

// incrementUsage performs the atomic read-modify-write from spec.md
// §4.5; it runs on the owner's dedicated scheduler goroutine, never
// inline with a capture write, so it never contends with another
// endpoint's capture under the same owner.
func (s *Store) incrementUsage(ctx context.Context, ownerID string, count int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE owners
		SET requests_used = requests_used + $2, version = version + 1
		WHERE id = $1
	`, ownerID, count)
	return err
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

// errNotFound is returned by internal lookups; handlers translate it
// to the wire {error:"not_found"} shape.
var errNotFound = pgx.ErrNoRows
