package salesforce

import (
	"context"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/metrics"
)

// queryExecutor runs SOQL queries and walks their server-driven cursors.
type queryExecutor struct {
	name   string
	client *apiClient
	logger *zap.Logger
}

func newQueryExecutor(name string, client *apiClient, logger *zap.Logger) *queryExecutor {
	return &queryExecutor{
		name:   name,
		client: client,
		logger: logger.With(zap.String("component", "query_executor")),
	}
}

type queryResponse struct {
	TotalSize      int                      `json:"totalSize"`
	Done           bool                     `json:"done"`
	NextRecordsURL string                   `json:"nextRecordsUrl"`
	Records        []map[string]interface{} `json:"records"`
}

// Query runs a SOQL statement and returns the first result page.
func (q *queryExecutor) Query(ctx context.Context, soql string) (*core.QueryPage, error) {
	path := apiBasePath + "/query?q=" + url.QueryEscape(soql)
	return q.fetch(ctx, path)
}

// QueryMore fetches the next page for a cursor returned by a previous page.
// The cursor may be an absolute URL or an instance-relative path.
func (q *queryExecutor) QueryMore(ctx context.Context, cursor string) (*core.QueryPage, error) {
	if cursor == "" {
		return nil, errors.New(errors.ErrorTypeQuery, "query cursor is empty")
	}
	return q.fetch(ctx, normalizeCursor(cursor))
}

// QueryAll runs a SOQL statement and follows cursors until the result set is
// exhausted, concatenating all records.
func (q *queryExecutor) QueryAll(ctx context.Context, soql string) ([]map[string]interface{}, error) {
	page, err := q.Query(ctx, soql)
	if err != nil {
		return nil, err
	}
	capacity := page.TotalSize
	if capacity < len(page.Records) {
		capacity = len(page.Records)
	}
	records := make([]map[string]interface{}, 0, capacity)
	records = append(records, page.Records...)
	for !page.Done && page.NextRecordsURL != "" {
		page, err = q.QueryMore(ctx, page.NextRecordsURL)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
	}
	return records, nil
}

func (q *queryExecutor) fetch(ctx context.Context, path string) (*core.QueryPage, error) {
	body, err := q.client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to decode query response")
	}
	metrics.QueryPagesFetched.WithLabelValues(q.name).Inc()
	q.logger.Debug("fetched query page",
		zap.Int("total_size", resp.TotalSize),
		zap.Int("records", len(resp.Records)),
		zap.Bool("done", resp.Done))
	return &core.QueryPage{
		TotalSize:      resp.TotalSize,
		Done:           resp.Done,
		NextRecordsURL: resp.NextRecordsURL,
		Records:        resp.Records,
	}, nil
}

// normalizeCursor reduces an absolute cursor URL to an instance-relative
// path so the client resolves it against the current instance URL.
func normalizeCursor(cursor string) string {
	if strings.HasPrefix(cursor, "http://") || strings.HasPrefix(cursor, "https://") {
		if u, err := url.Parse(cursor); err == nil {
			p := u.Path
			if u.RawQuery != "" {
				p += "?" + u.RawQuery
			}
			return p
		}
	}
	if !strings.HasPrefix(cursor, "/") {
		return "/" + cursor
	}
	return cursor
}
