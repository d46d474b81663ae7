// Package metrics defines the Prometheus collectors used by the ingestion,
// indexer and searcher services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. Services use the subset they need.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	SearchClauses      prometheus.Histogram
	ShardLatency       *prometheus.HistogramVec
	ShardErrorsTotal   *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	DocsIngestedTotal   *prometheus.CounterVec
	DocsIndexedTotal    prometheus.Counter
	IndexFlushesTotal   *prometheus.CounterVec
	SegmentReloadsTotal prometheus.Counter
	ShardDocCount       *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, miss, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_results_count",
			Help:    "Number of matching documents per search query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 1000, 10000},
		}),
		SearchClauses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_dismax_clauses",
			Help:    "Sub-scorers merged by the disjunction-max scorer per shard query.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		ShardLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_shard_latency_seconds",
				Help:    "Per-shard query evaluation latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"shard_id"},
		),
		ShardErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_shard_errors_total",
				Help: "Per-shard query failures.",
			},
			[]string{"shard_id"},
		),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of query cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of query cache misses.",
		}),
		DocsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_ingested_total",
				Help: "Documents submitted for ingestion by result (accepted, invalid, error).",
			},
			[]string{"result"},
		),
		DocsIndexedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docs_indexed_total",
			Help: "Total documents indexed.",
		}),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total segment flushes by status.",
			},
			[]string{"status"},
		),
		SegmentReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_reloads_total",
			Help: "Segments picked up by searchers after an index.complete event.",
		}),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_document_count",
				Help: "Number of live documents per shard.",
			},
			[]string{"shard_id"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.SearchClauses,
		m.ShardLatency,
		m.ShardErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIngestedTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.SegmentReloadsTotal,
		m.ShardDocCount,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
