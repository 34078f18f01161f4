package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. It is intentionally idempotent so the
// Store binary can run it on every boot in development without a
// separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS owners (
	id                   TEXT PRIMARY KEY,
	email                TEXT NOT NULL,
	plan                 TEXT NOT NULL,
	request_limit        BIGINT NOT NULL,
	requests_used        BIGINT NOT NULL DEFAULT 0,
	period_start         BIGINT,
	period_end           BIGINT,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
	subscription_status  TEXT,
	external_billing_id  TEXT,
	version              BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS owners_period_end_idx ON owners (period_end);
CREATE UNIQUE INDEX IF NOT EXISTS owners_external_billing_id_idx ON owners (external_billing_id) WHERE external_billing_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS endpoints (
	id             TEXT PRIMARY KEY,
	slug           TEXT NOT NULL,
	owner_id       TEXT REFERENCES owners (id),
	name           TEXT,
	mock_status    INTEGER,
	mock_body      TEXT,
	mock_headers   JSONB,
	is_ephemeral   BOOLEAN NOT NULL DEFAULT FALSE,
	expires_at     BIGINT,
	request_count  BIGINT NOT NULL DEFAULT 0,
	version        BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS endpoints_slug_idx ON endpoints (slug);
CREATE INDEX IF NOT EXISTS endpoints_expires_at_idx ON endpoints (expires_at);

CREATE TABLE IF NOT EXISTS requests (
	id            TEXT PRIMARY KEY,
	endpoint_id   TEXT NOT NULL REFERENCES endpoints (id),
	method        TEXT NOT NULL,
	path          TEXT NOT NULL,
	headers       JSONB NOT NULL,
	body          TEXT,
	query_params  JSONB NOT NULL,
	content_type  TEXT,
	ip            TEXT NOT NULL,
	size          INTEGER NOT NULL,
	received_at   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS requests_endpoint_received_idx ON requests (endpoint_id, received_at DESC);
`

// OpenPool connects to Postgres and applies schema. Callers own the
// returned pool and must Close it on shutdown.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}
