// Package salesforce implements the Salesforce CRM connector: OAuth session
// management, a retrying REST client, SOQL pagination, field mapping and the
// incremental sync engine.
package salesforce

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/leadbridge/leadbridge/pkg/config"
	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/logger"
	"github.com/leadbridge/leadbridge/pkg/metrics"
)

const (
	// ConnectorType is the registry key for this connector.
	ConnectorType = "salesforce"

	apiVersion  = "v59.0"
	apiBasePath = "/services/data/" + apiVersion

	// soqlTimeLayout renders datetimes as SOQL literals (UTC, unquoted).
	soqlTimeLayout = "2006-01-02T15:04:05Z"

	defaultQueryLimit   = 200
	defaultQueryOrderBy = "LastModifiedDate DESC"
)

// Connector synchronizes Salesforce objects into the local lead store.
type Connector struct {
	cfg    *config.ConnectorConfig
	sink   core.LeadSink
	mapper *FieldMapper
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     core.ConnState
	session   *AuthSession
	client    *apiClient
	query     *queryExecutor
	watermark time.Time
}

// New builds a disconnected connector around the given config and sink.
func New(cfg *config.ConnectorConfig, sink core.LeadSink) (core.Connector, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "connector config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connector config")
	}
	if sink == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "lead sink is required")
	}
	c := &Connector{
		cfg:    cfg,
		sink:   sink,
		mapper: NewFieldMapper(),
		logger: logger.Get().With(
			zap.String("connector", cfg.ID),
			zap.String("connector_type", ConnectorType)),
		now:   time.Now,
		state: core.StateDisconnected,
	}
	c.watermark = cfg.LastSyncAt
	return c, nil
}

// Name returns the connector's configured id.
func (c *Connector) Name() string { return c.cfg.ID }

// Type returns the connector type key.
func (c *Connector) Type() string { return ConnectorType }

// State returns the current lifecycle state.
func (c *Connector) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watermark returns the lower bound of the next incremental sync.
func (c *Connector) Watermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Connect establishes an authenticated session. A fresh authorization code
// runs the code grant; otherwise a stored access token is trusted until it
// expires, and a stored refresh token is exchanged immediately.
func (c *Connector) Connect(ctx context.Context, opts core.ConnectOptions) error {
	c.mu.Lock()
	if c.state == core.StateSyncing {
		c.mu.Unlock()
		return errors.New(errors.ErrorTypeConnection, "cannot connect while a sync is running")
	}
	c.mu.Unlock()

	httpClient := newHTTPClient(c.cfg.Timeouts)
	session := newAuthSession(c.cfg.Auth, httpClient, c.logger)

	var err error
	switch {
	case opts.AuthorizationCode != "":
		err = session.Authenticate(ctx, opts.AuthorizationCode)
	case c.cfg.Auth.AccessToken != "":
		// Trust the stored token; the client refreshes lazily when it
		// expires.
	case c.cfg.Auth.RefreshToken != "":
		err = session.Refresh(ctx)
	default:
		err = errors.New(errors.ErrorTypeAuthentication, "no credentials configured")
	}
	if err != nil {
		c.setState(core.StateError)
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "connect failed")
	}

	client := newAPIClient(c.cfg.ID, session, httpClient, c.cfg.Reliability, c.logger)

	c.mu.Lock()
	c.session = session
	c.client = client
	c.query = newQueryExecutor(c.cfg.ID, client, c.logger)
	c.state = core.StateConnected
	c.mu.Unlock()

	c.logger.Info("connector connected",
		zap.String("instance_url", session.State().InstanceURL))
	return nil
}

// Disconnect drops the session and returns to the disconnected state.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.client = nil
	c.query = nil
	c.state = core.StateDisconnected
	c.logger.Info("connector disconnected")
}

// TestConnection probes the API with a minimal query. It reports the result
// instead of returning an error so callers can surface the message directly.
func (c *Connector) TestConnection(ctx context.Context) core.TestResult {
	query := c.executor()
	if query == nil {
		return core.TestResult{Success: false, Message: "not connected"}
	}
	page, err := query.Query(ctx, "SELECT Id FROM "+ObjectLead+" LIMIT 1")
	if err != nil {
		return core.TestResult{Success: false, Message: err.Error()}
	}
	return core.TestResult{
		Success: true,
		Message: fmt.Sprintf("connection ok, %d lead(s) visible", page.TotalSize),
	}
}

// Sync pulls changed records for every configured object type and upserts
// them through the sink. Object types run concurrently; records within one
// type are processed in order. Individual record failures are collected in
// the result. The watermark advances to the sync start time only when every
// object type was fetched; a batch that fails outright holds it back so the
// next incremental run re-covers the same window.
func (c *Connector) Sync(ctx context.Context, opts core.SyncOptions) (*core.SyncResult, error) {
	c.mu.Lock()
	if c.state != core.StateConnected {
		state := c.state
		c.mu.Unlock()
		return nil, errors.Newf(errors.ErrorTypeOrchestration,
			"cannot sync in state %q", state)
	}
	c.state = core.StateSyncing
	query := c.query
	since := c.watermark
	c.mu.Unlock()

	started := c.now()
	metrics.SyncsInFlight.Inc()
	timer := metrics.NewTimer("sync")
	defer func() {
		metrics.SyncsInFlight.Dec()
		metrics.SyncDuration.WithLabelValues(ConnectorType).Observe(timer.Stop().Seconds())
	}()

	c.logger.Info("sync started",
		zap.Bool("full", opts.FullSync),
		zap.Time("since", since),
		zap.Strings("object_types", c.cfg.ObjectTypes))

	result := &core.SyncResult{}
	var (
		wg            sync.WaitGroup
		rm            sync.Mutex
		failedBatches int
	)
	for _, objectType := range c.cfg.ObjectTypes {
		wg.Add(1)
		go func(objectType string) {
			defer wg.Done()
			partial, err := c.syncObjectType(ctx, query, objectType, since, opts.FullSync)
			rm.Lock()
			defer rm.Unlock()
			if err != nil {
				failedBatches++
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: %v", objectType, err))
				return
			}
			result.Merge(partial)
		}(objectType)
	}
	wg.Wait()

	if ctx.Err() != nil {
		c.setState(core.StateError)
		return result, errors.Wrap(ctx.Err(), errors.ErrorTypeOrchestration, "sync canceled")
	}

	c.mu.Lock()
	if failedBatches == 0 {
		c.watermark = started
	}
	c.state = core.StateConnected
	c.mu.Unlock()

	if failedBatches > 0 {
		c.logger.Warn("watermark held back, object types failed to sync",
			zap.Int("failed_object_types", failedBatches))
	}

	c.logger.Info("sync finished",
		zap.Int("processed", result.RecordsProcessed),
		zap.Int("failed", result.RecordsFailed),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (c *Connector) syncObjectType(ctx context.Context, query *queryExecutor, objectType string, since time.Time, full bool) (*core.SyncResult, error) {
	soql, err := c.buildSyncQuery(objectType, since, full)
	if err != nil {
		return nil, err
	}
	records, err := query.QueryAll(ctx, soql)
	if err != nil {
		return nil, err
	}

	result := &core.SyncResult{}
	for _, fields := range records {
		rec := core.ExternalRecord{ObjectType: objectType, Fields: fields}
		lead, err := c.mapper.ToInternal(rec, c.cfg.TenantID)
		if err != nil {
			result.RecordsFailed++
			result.Errors = append(result.Errors,
				fmt.Sprintf("map %s %s: %v", objectType, rec.ID(), err))
			metrics.RecordsSynced.WithLabelValues(ConnectorType, objectType, "failed").Inc()
			continue
		}
		outcome, err := c.sink.Upsert(ctx, lead)
		if err != nil {
			result.RecordsFailed++
			result.Errors = append(result.Errors,
				fmt.Sprintf("upsert %s %s: %v", objectType, rec.ID(), err))
			metrics.RecordsSynced.WithLabelValues(ConnectorType, objectType, "failed").Inc()
			continue
		}
		result.RecordsProcessed++
		metrics.RecordsSynced.WithLabelValues(ConnectorType, objectType, string(outcome)).Inc()
	}
	return result, nil
}

func (c *Connector) buildSyncQuery(objectType string, since time.Time, full bool) (string, error) {
	fields := c.mapper.DefaultFields(objectType)
	if fields == nil {
		return "", errors.Newf(errors.ErrorTypeQuery,
			"unsupported object type %q", objectType)
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(objectType)
	if !full && !since.IsZero() {
		b.WriteString(" WHERE LastModifiedDate > ")
		b.WriteString(since.UTC().Format(soqlTimeLayout))
	}
	return b.String(), nil
}

// Query runs an ad-hoc query against an object type. A "soql" filter is
// passed through verbatim; otherwise a statement is synthesized from the
// default projection, equality filters and the limit/offset/orderBy options.
func (c *Connector) Query(ctx context.Context, objectType string, filters map[string]interface{}) ([]core.ExternalRecord, error) {
	query := c.executor()
	if query == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}

	soql, err := c.buildQuery(objectType, filters)
	if err != nil {
		return nil, err
	}
	rows, err := query.QueryAll(ctx, soql)
	if err != nil {
		return nil, err
	}
	records := make([]core.ExternalRecord, 0, len(rows))
	for _, fields := range rows {
		records = append(records, core.ExternalRecord{ObjectType: objectType, Fields: fields})
	}
	return records, nil
}

func (c *Connector) buildQuery(objectType string, filters map[string]interface{}) (string, error) {
	if raw, ok := filters["soql"].(string); ok && raw != "" {
		return raw, nil
	}

	fields := c.mapper.DefaultFields(objectType)
	if fields == nil {
		return "", errors.Newf(errors.ErrorTypeQuery,
			"unsupported object type %q", objectType)
	}

	limit := defaultQueryLimit
	offset := 0
	orderBy := defaultQueryOrderBy
	var conditions []string
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := filters[key]
		switch key {
		case "limit":
			if n, ok := intValue(value); ok && n > 0 {
				limit = n
			}
		case "offset":
			if n, ok := intValue(value); ok && n > 0 {
				offset = n
			}
		case "orderBy":
			if s, ok := value.(string); ok && s != "" {
				orderBy = s
			}
		default:
			cond, err := equalityCondition(key, value)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, cond)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(objectType)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	fmt.Fprintf(&b, " LIMIT %d", limit)
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String(), nil
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// soqlEscaper escapes string literals for SOQL. Backslashes go first so an
// escaped quote is never double-escaped.
var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func equalityCondition(field string, value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%s = '%s'", field, soqlEscaper.Replace(v)), nil
	case bool:
		return fmt.Sprintf("%s = %t", field, v), nil
	case int:
		return fmt.Sprintf("%s = %d", field, v), nil
	case int64:
		return fmt.Sprintf("%s = %d", field, v), nil
	case float64:
		return fmt.Sprintf("%s = %v", field, v), nil
	default:
		return "", errors.Newf(errors.ErrorTypeQuery,
			"unsupported filter value for %q", field)
	}
}

// Schema returns the statically known schema for the supported object types,
// inferring field types from field names.
func (c *Connector) Schema() map[string]*core.ObjectSchema {
	schemas := make(map[string]*core.ObjectSchema)
	for _, objectType := range c.mapper.ObjectTypes() {
		names := c.mapper.DefaultFields(objectType)
		fields := make([]core.Field, 0, len(names))
		for _, name := range names {
			fields = append(fields, core.Field{
				Name: name,
				Type: inferFieldType(name),
			})
		}
		schemas[objectType] = &core.ObjectSchema{Name: objectType, Fields: fields}
	}
	return schemas
}

func inferFieldType(name string) core.FieldType {
	switch {
	case name == "Id" || strings.HasSuffix(name, "Id"):
		return core.FieldTypeID
	case strings.Contains(name, "Date") || strings.Contains(name, "Time"):
		return core.FieldTypeDatetime
	case strings.Contains(name, "Revenue") || strings.Contains(name, "Amount") || strings.Contains(name, "Value"):
		return core.FieldTypeCurrency
	case name == "Email":
		return core.FieldTypeEmail
	case strings.Contains(name, "Phone"):
		return core.FieldTypePhone
	default:
		return core.FieldTypeString
	}
}

type describeResponse struct {
	Name   string `json:"name"`
	Fields []struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Label       string   `json:"label"`
		Length      int      `json:"length"`
		Nillable    bool     `json:"nillable"`
		Createable  bool     `json:"createable"`
		Updateable  bool     `json:"updateable"`
		ReferenceTo []string `json:"referenceTo"`
	} `json:"fields"`
}

// Describe fetches the live schema of an object type from the API.
func (c *Connector) Describe(ctx context.Context, objectType string) (*core.ObjectSchema, error) {
	client := c.apiClient()
	if client == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	body, err := client.get(ctx, apiBasePath+"/sobjects/"+objectType+"/describe")
	if err != nil {
		return nil, err
	}
	var resp describeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to decode describe response")
	}
	schema := &core.ObjectSchema{
		Name:   resp.Name,
		Fields: make([]core.Field, 0, len(resp.Fields)),
	}
	for _, f := range resp.Fields {
		schema.Fields = append(schema.Fields, core.Field{
			Name:        f.Name,
			Type:        describeFieldType(f.Type),
			Label:       f.Label,
			Length:      f.Length,
			Nullable:    f.Nillable,
			Createable:  f.Createable,
			Updateable:  f.Updateable,
			ReferenceTo: f.ReferenceTo,
		})
	}
	return schema, nil
}

func describeFieldType(apiType string) core.FieldType {
	switch apiType {
	case "id", "reference":
		return core.FieldTypeID
	case "datetime", "date":
		return core.FieldTypeDatetime
	case "currency":
		return core.FieldTypeCurrency
	case "email":
		return core.FieldTypeEmail
	case "phone":
		return core.FieldTypePhone
	case "int", "double", "percent":
		return core.FieldTypeNumber
	case "boolean":
		return core.FieldTypeBool
	default:
		return core.FieldTypeString
	}
}

type createResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// CreateRecord pushes a new record and returns its external id.
func (c *Connector) CreateRecord(ctx context.Context, objectType string, fields map[string]interface{}) (string, error) {
	client := c.apiClient()
	if client == nil {
		return "", errors.New(errors.ErrorTypeConnection, "not connected")
	}
	body, err := client.post(ctx, apiBasePath+"/sobjects/"+objectType, fields)
	if err != nil {
		return "", err
	}
	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to decode create response")
	}
	if !resp.Success || resp.ID == "" {
		return "", errors.New(errors.ErrorTypeData, "create was not acknowledged")
	}
	return resp.ID, nil
}

// UpdateRecord patches an existing record. The API answers 204 on success.
func (c *Connector) UpdateRecord(ctx context.Context, objectType, id string, fields map[string]interface{}) error {
	client := c.apiClient()
	if client == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	_, err := client.patch(ctx, apiBasePath+"/sobjects/"+objectType+"/"+id, fields)
	return err
}

// GetRecord fetches a single record by external id.
func (c *Connector) GetRecord(ctx context.Context, objectType, id string) (core.ExternalRecord, error) {
	client := c.apiClient()
	if client == nil {
		return core.ExternalRecord{}, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	body, err := client.get(ctx, apiBasePath+"/sobjects/"+objectType+"/"+id)
	if err != nil {
		return core.ExternalRecord{}, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return core.ExternalRecord{}, errors.Wrap(err, errors.ErrorTypeData, "failed to decode record")
	}
	return core.ExternalRecord{ObjectType: objectType, Fields: fields}, nil
}

func (c *Connector) setState(state core.ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Connector) executor() *queryExecutor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

func (c *Connector) apiClient() *apiClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}
