package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/models"
)

// StartSyncLog appends a running sync-log row and returns its id.
func (s *Store) StartSyncLog(ctx context.Context, connectorID, tenantID string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_logs (id, connector_id, tenant_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, connectorID, tenantID, string(models.SyncRunning), startedAt)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePersistence, "failed to start sync log")
	}
	return id, nil
}

// CompleteSyncLog finalizes a running row with the run's counters. Record
// failures do not demote the run; only a run-level error does.
func (s *Store) CompleteSyncLog(ctx context.Context, id string, processed, failed int, finishedAt time.Time) error {
	return s.finishSyncLog(ctx, id, models.SyncCompleted, processed, failed, "", finishedAt)
}

// FailSyncLog finalizes a running row with the run-level error, keeping
// whatever counters the run accumulated before it failed.
func (s *Store) FailSyncLog(ctx context.Context, id string, processed, failed int, errMsg string, finishedAt time.Time) error {
	return s.finishSyncLog(ctx, id, models.SyncFailed, processed, failed, errMsg, finishedAt)
}

func (s *Store) finishSyncLog(ctx context.Context, id string, status models.SyncRunStatus, processed, failed int, errMsg string, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_logs
		SET status = $2, records_processed = $3, records_failed = $4,
		    error = $5, finished_at = $6
		WHERE id = $1 AND status = $7`,
		id, string(status), processed, failed, errMsg, finishedAt,
		string(models.SyncRunning))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "failed to finish sync log")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrorTypeNotFound, "no running sync log with id "+id)
	}
	return nil
}

// RecentSyncLogs returns the latest runs for a connector, newest first.
func (s *Store) RecentSyncLogs(ctx context.Context, connectorID string, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, connector_id, tenant_id, status, records_processed,
		       records_failed, error, started_at, finished_at
		FROM sync_logs
		WHERE connector_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		connectorID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to query sync logs")
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		var (
			entry  models.SyncLog
			status string
		)
		if err := rows.Scan(&entry.ID, &entry.ConnectorID, &entry.TenantID,
			&status, &entry.RecordsProcessed, &entry.RecordsFailed,
			&entry.Error, &entry.StartedAt, &entry.FinishedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to scan sync log row")
		}
		entry.Status = models.SyncRunStatus(status)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to read sync log rows")
	}
	return logs, nil
}
