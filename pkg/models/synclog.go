package models

import "time"

// SyncRunStatus is the lifecycle state of one sync run.
type SyncRunStatus string

const (
	SyncRunning   SyncRunStatus = "running"
	SyncCompleted SyncRunStatus = "completed"
	SyncFailed    SyncRunStatus = "failed"
)

// SyncLog is one append-only record of a sync run. A row is written when the
// run starts and finalized exactly once when it completes or fails.
type SyncLog struct {
	ID               string        `json:"id"`
	ConnectorID      string        `json:"connector_id"`
	TenantID         string        `json:"tenant_id"`
	Status           SyncRunStatus `json:"status"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsFailed    int           `json:"records_failed"`
	Error            string        `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
}
