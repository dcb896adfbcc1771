package core

import (
	"context"
	"time"

	"github.com/leadbridge/leadbridge/pkg/models"
)

// ConnState represents a connector's lifecycle state
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnected    ConnState = "connected"
	StateSyncing      ConnState = "syncing"
	StateError        ConnState = "error"
)

// ExternalRecord is one untyped row returned by the external system,
// tagged with its source object type. Field keys are the external
// system's field names.
type ExternalRecord struct {
	ObjectType string
	Fields     map[string]interface{}
}

// ID returns the record's external identifier, if present
func (r ExternalRecord) ID() string {
	if id, ok := r.Fields["Id"].(string); ok {
		return id
	}
	return ""
}

// QueryPage is one page of a paginated query result. Pages are produced
// by one query call and consumed immediately; they are never persisted.
type QueryPage struct {
	// TotalSize is the result set size reported by the server
	TotalSize int
	// Done is true when no continuation remains
	Done bool
	// NextRecordsURL is the continuation cursor, empty when Done
	NextRecordsURL string
	// Records holds the page's rows in server-returned order
	Records []map[string]interface{}
}

// FieldType classifies a schema field for display and mapping purposes
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeID       FieldType = "id"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeCurrency FieldType = "currency"
	FieldTypeEmail    FieldType = "email"
	FieldTypePhone    FieldType = "phone"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBool     FieldType = "bool"
)

// Field describes one field of an external object type
type Field struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Label      string    `json:"label,omitempty"`
	Length     int       `json:"length,omitempty"`
	Nullable   bool      `json:"nullable"`
	Createable bool      `json:"createable"`
	Updateable bool      `json:"updateable"`
	// ReferenceTo lists object types this field references, for lookups
	ReferenceTo []string `json:"reference_to,omitempty"`
}

// ObjectSchema is the field-level metadata for one external object type
type ObjectSchema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// SyncResult aggregates the outcome of one sync run. Every per-record
// failure is both counted and described; partial results are never
// discarded.
type SyncResult struct {
	RecordsProcessed int      `json:"records_processed"`
	RecordsFailed    int      `json:"records_failed"`
	Errors           []string `json:"errors"`
}

// Merge folds another result into this one
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	r.RecordsProcessed += other.RecordsProcessed
	r.RecordsFailed += other.RecordsFailed
	r.Errors = append(r.Errors, other.Errors...)
}

// SyncOptions controls one sync invocation
type SyncOptions struct {
	// FullSync ignores the stored watermark and fetches everything
	FullSync bool
}

// ConnectOptions carries runtime overrides for connection establishment
type ConnectOptions struct {
	// AuthorizationCode, when present, is exchanged for a fresh token set
	AuthorizationCode string
}

// TestResult is a success/message pair so callers can surface
// connectivity health without exception handling
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UpsertOutcome reports whether an upsert inserted or updated
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// LeadSink persists internal entities, matching on (tenant, external id):
// insert-if-absent, update-if-present. Implementations must make the
// match-then-write atomic, or callers must serialize syncs per
// (tenant, object type).
type LeadSink interface {
	Upsert(ctx context.Context, lead *models.Lead) (UpsertOutcome, error)
}

// Connector is the uniform lifecycle every external-system connector
// implements: connect → sync/query → disconnect, with schema
// introspection available in any state.
type Connector interface {
	// Name returns the connector instance id
	Name() string
	// Type returns the connector type name (registry key)
	Type() string
	// State returns the current lifecycle state
	State() ConnState

	// Connect builds an authenticated session from stored configuration.
	// A fresh authorization code, when supplied, is exchanged eagerly.
	Connect(ctx context.Context, opts ConnectOptions) error
	// Disconnect drops the session unconditionally
	Disconnect()
	// TestConnection issues one minimal, side-effect-free query
	TestConnection(ctx context.Context) TestResult

	// Sync runs the incremental or full synchronization of all configured
	// object types and reports the aggregated result
	Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error)
	// Query performs an ad-hoc read of one object type
	Query(ctx context.Context, objectType string, filters map[string]interface{}) ([]ExternalRecord, error)

	// Schema returns the static field lists with name-inferred types,
	// without requiring a live connection
	Schema() map[string]*ObjectSchema
	// Describe fetches live field-level metadata for one object type
	Describe(ctx context.Context, objectType string) (*ObjectSchema, error)

	// Watermark returns the instant to persist as the next incremental
	// bound; valid after a successful Sync
	Watermark() time.Time
}

// RecordWriter is an optional capability for connectors that can read and
// push individual records back to the external system. Callers discover it
// with a type assertion rather than relying on a wider base interface.
type RecordWriter interface {
	GetRecord(ctx context.Context, objectType, id string) (ExternalRecord, error)
	CreateRecord(ctx context.Context, objectType string, fields map[string]interface{}) (string, error)
	UpdateRecord(ctx context.Context, objectType, id string, fields map[string]interface{}) error
}
