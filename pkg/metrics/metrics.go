// Package metrics provides performance tracking and observability for
// Leadbridge using Prometheus metrics. It offers collectors for the sync
// path's key indicators: records synchronized, per-record failures, API
// request outcomes, retry and token-refresh counts, and sync durations.
//
// # Basic Usage
//
//	// Record synchronized records
//	metrics.RecordsSynced.WithLabelValues("salesforce", "Lead", "created").Inc()
//
//	// Track a sync run's duration
//	timer := metrics.NewTimer("sync_run")
//	runSync()
//	metrics.SyncDuration.WithLabelValues("salesforce").Observe(timer.Stop().Seconds())
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., total records synced)
// Gauge: Values that can go up or down (e.g., syncs in flight)
// Histogram: Distribution of values (e.g., sync duration percentiles)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsSynced tracks records written to the local store.
	// Labels: connector (type), object_type, outcome (created/updated/failed)
	RecordsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadbridge_records_synced_total",
			Help: "Total number of records processed by the sync engine",
		},
		[]string{"connector", "object_type", "outcome"},
	)

	// APIRequests tracks external API requests by method and status class.
	// Labels: connector (type), method, status_class (2xx/4xx/5xx/error)
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadbridge_api_requests_total",
			Help: "Total number of external API requests",
		},
		[]string{"connector", "method", "status_class"},
	)

	// APIRetries tracks backoff retries after 429/5xx responses.
	// Labels: connector (type)
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadbridge_api_retries_total",
			Help: "Total number of retried API requests",
		},
		[]string{"connector"},
	)

	// TokenRefreshes tracks OAuth token refreshes.
	// Labels: connector (type), trigger (proactive/reactive)
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadbridge_token_refreshes_total",
			Help: "Total number of OAuth token refreshes",
		},
		[]string{"connector", "trigger"},
	)

	// SyncDuration tracks the distribution of full sync run durations.
	// Labels: connector (type)
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "leadbridge_sync_duration_seconds",
			Help: "Sync run duration in seconds",
			Buckets: []float64{
				0.1, // trivial runs
				1,
				5,
				15,
				60,
				300,  // large incremental runs
				1800, // full resyncs
			},
		},
		[]string{"connector"},
	)

	// SyncsInFlight tracks concurrently running sync jobs.
	SyncsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadbridge_syncs_in_flight",
			Help: "Number of sync runs currently executing",
		},
	)

	// QueryPagesFetched tracks paginated query pages fetched.
	// Labels: connector
	QueryPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadbridge_query_pages_fetched_total",
			Help: "Total number of query result pages fetched",
		},
		[]string{"connector"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration since creation.
// The timer can be stopped multiple times, each returning the total
// elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// StatusClass buckets an HTTP status code for the APIRequests metric
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
