// Package metrics defines the Prometheus collectors for the neighbor
// pipeline and the serving API.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Nearest-neighbor pipeline
// =============================================================================

var (
	// NearestRunsTotal counts pipeline runs by outcome ("success", "empty", "error").
	NearestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papermap_nearest_runs_total",
			Help: "Total number of nearest-neighbor precomputation runs",
		},
		[]string{"outcome"},
	)

	// NearestStageDuration tracks the wall time of each pipeline stage.
	NearestStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papermap_nearest_stage_duration_seconds",
			Help:    "Duration of nearest-neighbor pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage"}, // load, compute, persist, index
	)

	// NearestBatchDuration tracks the time to compute one distance batch.
	NearestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "papermap_nearest_batch_duration_seconds",
			Help:    "Time to compute neighbors for one batch of query points",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	// NearestPointsProcessed reports the number of points in the last run.
	NearestPointsProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papermap_nearest_points_processed",
			Help: "Number of points processed by the last nearest-neighbor run",
		},
	)

	// NearestRowsPersisted counts neighbor lists written to storage.
	NearestRowsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "papermap_nearest_rows_persisted_total",
			Help: "Total number of neighbor lists written to storage",
		},
	)
)

// =============================================================================
// Serving API
// =============================================================================

var (
	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papermap_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"route", "code"},
	)

	// HTTPRequestDuration tracks request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papermap_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// HTTPRateLimitedTotal counts requests rejected by the rate limiter.
	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "papermap_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// NearestLookupsTotal counts nearest lookups by result ("hit", "missing").
	NearestLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papermap_nearest_lookups_total",
			Help: "Total number of precomputed neighbor lookups",
		},
		[]string{"result"},
	)
)

// =============================================================================
// Import and logging
// =============================================================================

var (
	// ImportRowsTotal counts parquet rows seen by the importer by outcome
	// ("retained", "no_summarization", "non_scientific").
	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papermap_import_rows_total",
			Help: "Total number of source rows processed by the importer",
		},
		[]string{"outcome"},
	)

	// LogEntriesTotal counts log entries by level.
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papermap_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)
)

// WriteTextfile dumps the default registry to path in the text exposition
// format, for pickup by a node-exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
