// Package store persists leads, connector configurations and sync run
// history in PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/logger"
)

// Store wraps a pgx connection pool with the application's queries.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid database URL")
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to ping database")
	}

	return &Store{
		pool:   pool,
		logger: logger.Get().With(zap.String("component", "store")),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS leads (
			id              UUID PRIMARY KEY,
			tenant_id       TEXT NOT NULL,
			external_id     TEXT,
			source          TEXT NOT NULL DEFAULT '',
			first_name      TEXT NOT NULL DEFAULT '',
			last_name       TEXT NOT NULL DEFAULT '',
			email           TEXT NOT NULL DEFAULT '',
			company         TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL DEFAULT '',
			phone           TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'new',
			score           INTEGER NOT NULL DEFAULT 0,
			estimated_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			owner_id        TEXT NOT NULL DEFAULT '',
			data            JSONB NOT NULL DEFAULT '{}',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_tenant_status ON leads (tenant_id, status)`,
		`CREATE TABLE IF NOT EXISTS connector_configs (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL,
			type         TEXT NOT NULL,
			config       JSONB NOT NULL DEFAULT '{}',
			status       TEXT NOT NULL DEFAULT 'disconnected',
			last_sync_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id                UUID PRIMARY KEY,
			connector_id      TEXT NOT NULL,
			tenant_id         TEXT NOT NULL,
			status            TEXT NOT NULL,
			records_processed INTEGER NOT NULL DEFAULT 0,
			records_failed    INTEGER NOT NULL DEFAULT 0,
			error             TEXT NOT NULL DEFAULT '',
			started_at        TIMESTAMPTZ NOT NULL,
			finished_at       TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_connector ON sync_logs (connector_id, started_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypePersistence, "migration failed")
		}
	}
	s.logger.Info("schema migrated")
	return nil
}
