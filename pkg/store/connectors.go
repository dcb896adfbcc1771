package store

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/errors"
)

// SaveConnector inserts or replaces a connector configuration. The full
// config document is kept as JSONB next to the columns used for lookups.
func (s *Store) SaveConnector(ctx context.Context, cfg *config.ConnectorConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid connector config")
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "failed to encode connector config")
	}
	var lastSync *time.Time
	if !cfg.LastSyncAt.IsZero() {
		lastSync = &cfg.LastSyncAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO connector_configs (id, tenant_id, type, config, status, last_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id    = EXCLUDED.tenant_id,
			type         = EXCLUDED.type,
			config       = EXCLUDED.config,
			status       = EXCLUDED.status,
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at   = now()`,
		cfg.ID, cfg.TenantID, cfg.Type, doc, cfg.Status, lastSync)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "failed to save connector config")
	}
	return nil
}

// GetConnector loads one connector configuration by id.
func (s *Store) GetConnector(ctx context.Context, id string) (*config.ConnectorConfig, error) {
	var (
		doc      []byte
		status   string
		lastSync *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT config, status, last_sync_at FROM connector_configs WHERE id = $1`, id).
		Scan(&doc, &status, &lastSync)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound,
			"connector config not found: "+id)
	}
	cfg := &config.ConnectorConfig{}
	if err := json.Unmarshal(doc, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to decode connector config")
	}
	// The columns are authoritative for mutable run state.
	cfg.Status = status
	if lastSync != nil {
		cfg.LastSyncAt = *lastSync
	}
	return cfg, nil
}

// ListConnectors returns the ids and types of all stored connectors.
func (s *Store) ListConnectors(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, type FROM connector_configs ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to list connectors")
	}
	defer rows.Close()

	connectors := make(map[string]string)
	for rows.Next() {
		var id, typeName string
		if err := rows.Scan(&id, &typeName); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to scan connector row")
		}
		connectors[id] = typeName
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to read connector rows")
	}
	return connectors, nil
}

// UpdateWatermark advances a connector's incremental-sync bound.
func (s *Store) UpdateWatermark(ctx context.Context, id string, watermark time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE connector_configs
		SET last_sync_at = $2, updated_at = now()
		WHERE id = $1`,
		id, watermark)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "failed to update watermark")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrorTypeNotFound, "connector config not found: "+id)
	}
	return nil
}

// UpdateConnectorStatus records the connector's last observed state.
func (s *Store) UpdateConnectorStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connector_configs SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "failed to update connector status")
	}
	return nil
}
