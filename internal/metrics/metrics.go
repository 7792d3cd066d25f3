package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Streaming phase
	GroundingSpansEncoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grounding_spans_encoded_total",
			Help: "Total number of grounded spans encoded as inline sentinel markup",
		},
	)

	GroundingSupportsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_supports_skipped_total",
			Help: "Grounding supports dropped during extraction",
		},
		[]string{"reason"}, // reason: no_segment, empty_text, no_links
	)

	// Reconciliation phase
	SegmentsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_segments_reconciled_total",
			Help: "Total number of tagged segments rewritten into inline citations",
		},
		[]string{"mode"},
	)

	SourcesListed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citation_sources_listed",
			Help:    "Number of unique sources appended per reconciled message",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	MarkupDiagnostics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_markup_diagnostics_total",
			Help: "Unmatched sentinel tags left in reconciled messages",
		},
		[]string{"tag"},
	)

	ReconcileErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_reconcile_errors_total",
			Help: "Reconciliation failures that left the message unchanged",
		},
		[]string{"reason"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citation_reconcile_duration_seconds",
			Help:    "Time spent reconciling one assistant message",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// Inlet
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_rate_limit_decisions_total",
			Help: "Rate limit inlet decisions",
		},
		[]string{"backend", "decision"}, // decision: allowed, limited, error
	)

	// Provider
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_provider_requests_total",
			Help: "Generation requests sent to the model provider",
		},
		[]string{"model", "status"},
	)
)

// RecordReconcile records the outcome of one successful reconciliation.
func RecordReconcile(mode string, segments, sources int, durationSeconds float64) {
	SegmentsReconciled.WithLabelValues(mode).Add(float64(segments))
	if sources > 0 {
		SourcesListed.Observe(float64(sources))
	}
	ReconcileDuration.Observe(durationSeconds)
}

// RecordDiagnostic counts one stray sentinel tag.
func RecordDiagnostic(tag string) {
	MarkupDiagnostics.WithLabelValues(tag).Inc()
}

// RecordRateLimit counts one inlet decision.
func RecordRateLimit(backend, decision string) {
	RateLimitDecisions.WithLabelValues(backend, decision).Inc()
}
