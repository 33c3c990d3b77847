package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Layout engine metrics
	LayoutRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "layout_runs_total",
			Help: "Total number of completed layout runs",
		},
	)

	LayoutRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "layout_run_duration_seconds",
			Help:    "Duration of full layout runs in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	LayoutIterationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "layout_iteration_duration_seconds",
			Help:    "Duration of single simulation iterations in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	LayoutTreeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "layout_tree_nodes",
			Help: "Spatial index node count of the most recent iteration",
		},
	)

	LayoutPairs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layout_pairs",
			Help: "Pair list sizes of the most recent iteration",
		},
		[]string{"kind"}, // kind: well_separated, direct
	)

	// HTTP API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Result cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "layout_cache_hits_total",
			Help: "Total number of layout result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "layout_cache_misses_total",
			Help: "Total number of layout result cache misses",
		},
	)

	// Persistence metrics
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	DBOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)
)
