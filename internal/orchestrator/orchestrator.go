// Package orchestrator drives sync runs end to end: it loads the connector
// configuration, builds the connector, walks it through
// connect → sync → disconnect, records the run in the sync log and advances
// the incremental watermark.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/connector/registry"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/logger"
)

// ConfigStore loads and updates connector configurations.
type ConfigStore interface {
	GetConnector(ctx context.Context, id string) (*config.ConnectorConfig, error)
	UpdateWatermark(ctx context.Context, id string, watermark time.Time) error
	UpdateConnectorStatus(ctx context.Context, id, status string) error
}

// SyncLogStore appends and finalizes sync run records.
type SyncLogStore interface {
	StartSyncLog(ctx context.Context, connectorID, tenantID string, startedAt time.Time) (string, error)
	CompleteSyncLog(ctx context.Context, id string, processed, failed int, finishedAt time.Time) error
	FailSyncLog(ctx context.Context, id string, processed, failed int, errMsg string, finishedAt time.Time) error
}

// Store is the persistence surface the orchestrator needs: configs, run
// history and the lead sink handed to connectors.
type Store interface {
	ConfigStore
	SyncLogStore
	core.LeadSink
}

// Orchestrator runs syncs, one at a time per connector.
type Orchestrator struct {
	store    Store
	registry *registry.Registry
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// New builds an orchestrator on the given store and connector registry.
func New(store Store, reg *registry.Registry) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: reg,
		logger:   logger.Get().With(zap.String("component", "orchestrator")),
		now:      time.Now,
		running:  make(map[string]bool),
	}
}

// RunSync executes one sync run for a stored connector. Concurrent runs for
// the same connector are rejected; the sync log row always reaches a
// terminal state.
func (o *Orchestrator) RunSync(ctx context.Context, connectorID string, full bool) (*core.SyncResult, error) {
	if err := o.acquire(connectorID); err != nil {
		return nil, err
	}
	defer o.release(connectorID)

	cfg, err := o.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	conn, err := o.registry.Create(cfg, o.store)
	if err != nil {
		return nil, err
	}

	started := o.now()
	logID, err := o.store.StartSyncLog(ctx, connectorID, cfg.TenantID, started)
	if err != nil {
		return nil, err
	}

	// Tag the context so every layer below logs with the run's identity.
	ctx = context.WithValue(ctx, logger.TenantKey, cfg.TenantID)
	ctx = context.WithValue(ctx, logger.ConnectorKey, connectorID)
	ctx = context.WithValue(ctx, logger.SyncRunKey, logID)
	log := logger.WithContext(ctx)
	log.Info("sync run starting", zap.Bool("full", full))

	if err := conn.Connect(ctx, core.ConnectOptions{}); err != nil {
		return nil, o.fail(ctx, log, logID, connectorID, nil, err)
	}
	defer conn.Disconnect()

	result, err := conn.Sync(ctx, core.SyncOptions{FullSync: full})
	if err != nil {
		return nil, o.fail(ctx, log, logID, connectorID, result, err)
	}

	if err := o.store.CompleteSyncLog(ctx, logID, result.RecordsProcessed, result.RecordsFailed, o.now()); err != nil {
		log.Error("failed to finalize sync log", zap.Error(err))
	}
	if err := o.store.UpdateConnectorStatus(ctx, connectorID, string(core.StateConnected)); err != nil {
		log.Error("failed to update connector status", zap.Error(err))
	}
	// The watermark only moves after the run succeeded end to end.
	if err := o.store.UpdateWatermark(ctx, connectorID, conn.Watermark()); err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeOrchestration,
			"sync succeeded but watermark was not persisted")
	}

	log.Info("sync run finished",
		zap.Int("processed", result.RecordsProcessed),
		zap.Int("failed", result.RecordsFailed))
	return result, nil
}

// TestConnector connects, probes the external API and disconnects.
func (o *Orchestrator) TestConnector(ctx context.Context, connectorID string) (core.TestResult, error) {
	cfg, err := o.store.GetConnector(ctx, connectorID)
	if err != nil {
		return core.TestResult{}, err
	}
	conn, err := o.registry.Create(cfg, o.store)
	if err != nil {
		return core.TestResult{}, err
	}
	if err := conn.Connect(ctx, core.ConnectOptions{}); err != nil {
		return core.TestResult{Success: false, Message: err.Error()}, nil
	}
	defer conn.Disconnect()
	result := conn.TestConnection(ctx)
	o.logger.Info("connection test finished",
		zap.String("connector_id", connectorID),
		zap.Bool("success", result.Success))
	return result, nil
}

// fail finalizes the run as failed. A partial result, when the connector
// returned one alongside the error, keeps its counters in the sync log.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, logID, connectorID string, partial *core.SyncResult, cause error) error {
	log.Error("sync run failed",
		zap.Error(cause),
		zap.String("error_type", string(errors.TypeOf(cause))))
	var processed, failed int
	if partial != nil {
		processed = partial.RecordsProcessed
		failed = partial.RecordsFailed
	}
	if err := o.store.FailSyncLog(ctx, logID, processed, failed, cause.Error(), o.now()); err != nil {
		log.Error("failed to finalize sync log", zap.Error(err))
	}
	if err := o.store.UpdateConnectorStatus(ctx, connectorID, string(core.StateError)); err != nil {
		log.Error("failed to update connector status", zap.Error(err))
	}
	return cause
}

func (o *Orchestrator) acquire(connectorID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[connectorID] {
		return errors.Newf(errors.ErrorTypeOrchestration,
			"sync already running for connector %q", connectorID)
	}
	o.running[connectorID] = true
	return nil
}

func (o *Orchestrator) release(connectorID string) {
	o.mu.Lock()
	delete(o.running, connectorID)
	o.mu.Unlock()
}
