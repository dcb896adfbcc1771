package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/models"
	"github.com/leadbridge/leadbridge/pkg/testutil"
)

// fakeSink collects upserted leads in memory, keyed by external id.
type fakeSink struct {
	mu     sync.Mutex
	leads  map[string]*models.Lead
	failOn map[string]bool
}

func newFakeSink(existing ...string) *fakeSink {
	s := &fakeSink{
		leads:  make(map[string]*models.Lead),
		failOn: make(map[string]bool),
	}
	for _, id := range existing {
		s.leads[id] = &models.Lead{ExternalID: id}
	}
	return s
}

func (s *fakeSink) Upsert(_ context.Context, lead *models.Lead) (core.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[lead.ExternalID] {
		return "", fmt.Errorf("sink rejected %s", lead.ExternalID)
	}
	_, exists := s.leads[lead.ExternalID]
	s.leads[lead.ExternalID] = lead
	if exists {
		return core.OutcomeUpdated, nil
	}
	return core.OutcomeCreated, nil
}

// leadServer fakes the subset of the REST API the connector touches and
// records every SOQL statement it receives.
type leadServer struct {
	*httptest.Server
	mu    sync.Mutex
	soql  []string
	leads []map[string]interface{}
}

func newLeadServer(t *testing.T, leads ...map[string]interface{}) *leadServer {
	t.Helper()
	ls := &leadServer{leads: leads}
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == tokenPath:
			fmt.Fprintf(w, `{"access_token": "token-1", "instance_url": %q}`, "http://"+r.Host)
		case r.URL.Path == apiBasePath+"/query":
			ls.mu.Lock()
			ls.soql = append(ls.soql, r.URL.Query().Get("q"))
			ls.mu.Unlock()
			resp := map[string]interface{}{
				"totalSize": len(ls.leads),
				"done":      true,
				"records":   ls.leads,
			}
			body, err := json.Marshal(resp)
			require.NoError(t, err)
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ls.Server.Close)
	return ls
}

func (ls *leadServer) queries() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]string, len(ls.soql))
	copy(out, ls.soql)
	return out
}

func newTestConnector(t *testing.T, serverURL string, sink core.LeadSink) *Connector {
	t.Helper()
	cfg := testutil.TestConnectorConfig(serverURL)
	conn, err := New(cfg, sink)
	require.NoError(t, err)
	return conn.(*Connector)
}

func sfLead(id, lastName string) map[string]interface{} {
	return map[string]interface{}{
		"Id":       id,
		"LastName": lastName,
		"Status":   "Open - Not Contacted",
		"Rating":   "Warm",
	}
}

func TestConnectorLifecycle(t *testing.T) {
	server := newLeadServer(t)
	conn := newTestConnector(t, server.URL, newFakeSink())

	assert.Equal(t, core.StateDisconnected, conn.State())
	assert.Equal(t, "sf-test", conn.Name())
	assert.Equal(t, "salesforce", conn.Type())

	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	assert.Equal(t, core.StateConnected, conn.State())

	conn.Disconnect()
	assert.Equal(t, core.StateDisconnected, conn.State())
}

func TestConnectorConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant"}`)
	}))
	defer server.Close()

	cfg := testutil.TestConnectorConfig(server.URL)
	cfg.Auth.AccessToken = ""
	conn, err := New(cfg, newFakeSink())
	require.NoError(t, err)

	require.Error(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	assert.Equal(t, core.StateError, conn.State())
}

func TestConnectorSyncRequiresConnection(t *testing.T) {
	server := newLeadServer(t)
	conn := newTestConnector(t, server.URL, newFakeSink())

	_, err := conn.Sync(context.Background(), core.SyncOptions{})
	require.Error(t, err)
}

func TestConnectorSyncUpsertsRecords(t *testing.T) {
	server := newLeadServer(t,
		sfLead("00Q1", "Existing"),
		sfLead("00Q2", "Brand New"),
	)
	sink := newFakeSink("00Q1")
	conn := newTestConnector(t, server.URL, sink)

	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	result, err := conn.Sync(context.Background(), core.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsProcessed)
	assert.Equal(t, 0, result.RecordsFailed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, core.StateConnected, conn.State(), "connector returns to connected after sync")
	assert.Len(t, sink.leads, 2)
	assert.Equal(t, "Brand New", sink.leads["00Q2"].LastName)
	assert.Equal(t, models.StatusNew, sink.leads["00Q1"].Status)
	assert.Equal(t, 60, sink.leads["00Q1"].Score)
	assert.False(t, conn.Watermark().IsZero(), "watermark advances on success")
}

func TestConnectorSyncPartialFailure(t *testing.T) {
	server := newLeadServer(t,
		sfLead("00Q1", "Good"),
		sfLead("00Q2", "Bad"),
		sfLead("00Q3", "Also Good"),
	)
	sink := newFakeSink()
	sink.failOn["00Q2"] = true
	conn := newTestConnector(t, server.URL, sink)

	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	result, err := conn.Sync(context.Background(), core.SyncOptions{})
	require.NoError(t, err, "record failures do not fail the run")

	assert.Equal(t, 2, result.RecordsProcessed)
	assert.Equal(t, 1, result.RecordsFailed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "00Q2")
}

func TestConnectorSyncIsIdempotent(t *testing.T) {
	server := newLeadServer(t, sfLead("00Q1", "Repeat"))
	sink := newFakeSink()
	conn := newTestConnector(t, server.URL, sink)

	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	for i := 0; i < 2; i++ {
		result, err := conn.Sync(context.Background(), core.SyncOptions{FullSync: true})
		require.NoError(t, err)
		assert.Equal(t, 1, result.RecordsProcessed)
	}
	assert.Len(t, sink.leads, 1, "replaying the same record must not duplicate it")
}

func TestConnectorIncrementalSyncFiltersByWatermark(t *testing.T) {
	server := newLeadServer(t)
	cfg := testutil.TestConnectorConfig(server.URL)
	cfg.LastSyncAt = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	conn, err := New(cfg, newFakeSink())
	require.NoError(t, err)

	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	_, err = conn.Sync(context.Background(), core.SyncOptions{})
	require.NoError(t, err)

	queries := server.queries()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "WHERE LastModifiedDate > 2026-03-01T12:30:45Z")

	// A full sync ignores the watermark entirely.
	_, err = conn.Sync(context.Background(), core.SyncOptions{FullSync: true})
	require.NoError(t, err)
	queries = server.queries()
	require.Len(t, queries, 2)
	assert.NotContains(t, queries[1], "WHERE")
}

func TestConnectorSyncBatchFailureHoldsWatermark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			fmt.Fprintf(w, `{"access_token": "token-1", "instance_url": %q}`, "http://"+r.Host)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `[{"message": "No such column", "errorCode": "INVALID_FIELD"}]`)
		}
	}))
	defer server.Close()

	watermark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testutil.TestConnectorConfig(server.URL)
	cfg.LastSyncAt = watermark
	conn, err := New(cfg, newFakeSink())
	require.NoError(t, err)
	sf := conn.(*Connector)

	require.NoError(t, sf.Connect(context.Background(), core.ConnectOptions{}))
	result, err := sf.Sync(context.Background(), core.SyncOptions{})
	require.NoError(t, err, "a failed object type is reported in the result, not as a run error")

	assert.Equal(t, 0, result.RecordsProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "INVALID_FIELD")
	assert.Equal(t, core.StateConnected, sf.State())
	assert.True(t, sf.Watermark().Equal(watermark),
		"the watermark must not move past a window that was never fetched")
}

func TestConnectorQuerySynthesis(t *testing.T) {
	conn := newTestConnector(t, "https://unused.example.com", newFakeSink())

	tests := []struct {
		name    string
		filters map[string]interface{}
		want    string
	}{
		{
			name:    "defaults",
			filters: nil,
			want: "SELECT Id, FirstName, LastName, Email, Company, Title, Phone, Status, Rating, AnnualRevenue, LeadSource, OwnerId, CreatedDate, LastModifiedDate FROM Lead" +
				" ORDER BY LastModifiedDate DESC LIMIT 200",
		},
		{
			name:    "soql passthrough",
			filters: map[string]interface{}{"soql": "SELECT Id FROM Lead WHERE Email != null"},
			want:    "SELECT Id FROM Lead WHERE Email != null",
		},
		{
			name: "equality filters sorted and quoted",
			filters: map[string]interface{}{
				"Status":  "Qualified",
				"Company": "O'Brien Ltd",
			},
			want: "SELECT Id, FirstName, LastName, Email, Company, Title, Phone, Status, Rating, AnnualRevenue, LeadSource, OwnerId, CreatedDate, LastModifiedDate FROM Lead" +
				` WHERE Company = 'O\'Brien Ltd' AND Status = 'Qualified'` +
				" ORDER BY LastModifiedDate DESC LIMIT 200",
		},
		{
			name: "backslash escaped before quote",
			filters: map[string]interface{}{
				"Company": `Acme\`,
			},
			want: "SELECT Id, FirstName, LastName, Email, Company, Title, Phone, Status, Rating, AnnualRevenue, LeadSource, OwnerId, CreatedDate, LastModifiedDate FROM Lead" +
				` WHERE Company = 'Acme\\'` +
				" ORDER BY LastModifiedDate DESC LIMIT 200",
		},
		{
			name: "limit offset and order",
			filters: map[string]interface{}{
				"limit":   50,
				"offset":  100,
				"orderBy": "CreatedDate ASC",
			},
			want: "SELECT Id, FirstName, LastName, Email, Company, Title, Phone, Status, Rating, AnnualRevenue, LeadSource, OwnerId, CreatedDate, LastModifiedDate FROM Lead" +
				" ORDER BY CreatedDate ASC LIMIT 50 OFFSET 100",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			soql, err := conn.buildQuery(ObjectLead, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, soql)
		})
	}

	_, err := conn.buildQuery("Opportunity", nil)
	require.Error(t, err)
}

func TestConnectorSchemaInference(t *testing.T) {
	conn := newTestConnector(t, "https://unused.example.com", newFakeSink())
	schemas := conn.Schema()
	require.Contains(t, schemas, ObjectLead)
	require.Contains(t, schemas, ObjectContact)
	require.Contains(t, schemas, ObjectAccount)

	types := make(map[string]core.FieldType)
	for _, field := range schemas[ObjectLead].Fields {
		types[field.Name] = field.Type
	}
	assert.Equal(t, core.FieldTypeID, types["Id"])
	assert.Equal(t, core.FieldTypeID, types["OwnerId"])
	assert.Equal(t, core.FieldTypeDatetime, types["LastModifiedDate"])
	assert.Equal(t, core.FieldTypeCurrency, types["AnnualRevenue"])
	assert.Equal(t, core.FieldTypeEmail, types["Email"])
	assert.Equal(t, core.FieldTypePhone, types["Phone"])
	assert.Equal(t, core.FieldTypeString, types["Company"])
}

func TestConnectorDescribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			fmt.Fprintf(w, `{"access_token": "token-1", "instance_url": %q}`, "http://"+r.Host)
		case apiBasePath + "/sobjects/Lead/describe":
			fmt.Fprint(w, `{
				"name": "Lead",
				"fields": [
					{"name": "Id", "type": "id", "label": "Lead ID"},
					{"name": "Email", "type": "email", "label": "Email", "length": 80, "nillable": true, "createable": true, "updateable": true},
					{"name": "OwnerId", "type": "reference", "referenceTo": ["User"]},
					{"name": "IsConverted", "type": "boolean"}
				]
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	conn := newTestConnector(t, server.URL, newFakeSink())
	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))

	schema, err := conn.Describe(context.Background(), "Lead")
	require.NoError(t, err)
	assert.Equal(t, "Lead", schema.Name)
	require.Len(t, schema.Fields, 4)
	assert.Equal(t, core.FieldTypeEmail, schema.Fields[1].Type)
	assert.Equal(t, 80, schema.Fields[1].Length)
	assert.Equal(t, []string{"User"}, schema.Fields[2].ReferenceTo)
	assert.Equal(t, core.FieldTypeBool, schema.Fields[3].Type)
}

func TestConnectorTestConnection(t *testing.T) {
	server := newLeadServer(t, sfLead("00Q1", "Probe"))
	conn := newTestConnector(t, server.URL, newFakeSink())

	result := conn.TestConnection(context.Background())
	assert.False(t, result.Success, "not connected yet")

	require.NoError(t, conn.Connect(context.Background(), core.ConnectOptions{}))
	result = conn.TestConnection(context.Background())
	assert.True(t, result.Success)
}

func TestConnectorImplementsRecordWriter(t *testing.T) {
	server := newLeadServer(t)
	cfg := testutil.TestConnectorConfig(server.URL)
	conn, err := New(cfg, newFakeSink())
	require.NoError(t, err)

	_, ok := conn.(core.RecordWriter)
	assert.True(t, ok)
}
