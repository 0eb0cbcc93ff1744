// Package metrics holds the prometheus collectors for analytics source calls
// and report generation. Collectors are registered on the default registry
// and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceQueries counts report requests sent to the analytics source.
	SourceQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlens_source_queries_total",
			Help: "Total number of analytics source queries by query name and result",
		},
		[]string{"query", "result"}, // result: "success", "failure", "schema_mismatch"
	)

	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitorlens_source_query_duration_seconds",
			Help:    "Latency of analytics source queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	SourceRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlens_source_rows_total",
			Help: "Rows returned by the analytics source",
		},
		[]string{"query"},
	)

	// FallbackVariants counts which variant of a fallback chain produced the result.
	FallbackVariants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlens_fallback_variant_total",
			Help: "Fallback chain outcomes by chain and variant (\"failed\" when every variant failed)",
		},
		[]string{"chain", "variant"},
	)

	DegradedReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlens_degraded_subreports_total",
			Help: "Optional sub-reports that failed and were left empty",
		},
		[]string{"subreport"},
	)

	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitorlens_report_duration_seconds",
			Help:    "End-to-end duration of report operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visitorlens_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlens_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
