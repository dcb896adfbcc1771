// Package leadbridge synchronizes leads, contacts and accounts from external
// CRM systems into a local PostgreSQL store.
//
// The building blocks:
//
//   - pkg/connector/core defines the connector lifecycle (connect → sync/query
//     → disconnect), the lead sink and the schema types.
//   - pkg/connector/registry maps connector type names to factories.
//   - pkg/connector/salesforce implements the Salesforce connector: OAuth
//     session management, a retrying REST client, SOQL pagination and field
//     mapping into the internal lead model.
//   - pkg/store persists leads (atomic upsert on tenant and external id),
//     connector configurations with their incremental watermarks, and the
//     append-only sync run log.
//   - internal/orchestrator drives a run end to end and finalizes its audit
//     record whether it completes or fails.
//
// The leadbridge CLI under cmd/leadbridge registers connector configurations
// and runs syncs against the store.
package leadbridge
