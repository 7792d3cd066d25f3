package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_gateway_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"model", "endpoint", "status"}, // status: success, error, rate_limited
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grounding_gateway_latency_seconds",
			Help:    "Gateway request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model", "endpoint", "stream"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_gateway_errors_total",
			Help: "Total number of gateway errors",
		},
		[]string{"model", "error_type", "error_code"},
	)

	StreamChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_gateway_stream_chunks_total",
			Help: "Total number of SSE chunks sent",
		},
		[]string{"model"},
	)

	StreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_gateway_stream_errors_total",
			Help: "Total number of streams ended by an upstream error",
		},
		[]string{"model", "error_type"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grounding_gateway_time_to_first_token_seconds",
			Help:    "Time from request start to first streamed fragment",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)
)

// MetricsRecorder records per-request gateway metrics.
type MetricsRecorder struct {
	startTime time.Time
	model     string
	endpoint  string
	stream    bool
	firstSent bool
}

// NewMetricsRecorder starts timing a request.
func NewMetricsRecorder(model, endpoint string, stream bool) *MetricsRecorder {
	return &MetricsRecorder{startTime: time.Now(), model: model, endpoint: endpoint, stream: stream}
}

func (m *MetricsRecorder) observe(status string) {
	RequestsTotal.WithLabelValues(m.model, m.endpoint, status).Inc()
	RequestLatency.WithLabelValues(m.model, m.endpoint, strconv.FormatBool(m.stream)).
		Observe(time.Since(m.startTime).Seconds())
}

// RecordSuccess records a successful request
func (m *MetricsRecorder) RecordSuccess() {
	m.observe("success")
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType, errorCode string) {
	m.observe("error")
	ErrorsTotal.WithLabelValues(m.model, errorType, errorCode).Inc()
}

// RecordRateLimited records a rejected request.
func (m *MetricsRecorder) RecordRateLimited() {
	m.observe("rate_limited")
}

// RecordStreamChunk records one content chunk and, the first time, the time
// to first token.
func (m *MetricsRecorder) RecordStreamChunk() {
	if !m.firstSent {
		m.firstSent = true
		TimeToFirstToken.WithLabelValues(m.model).Observe(time.Since(m.startTime).Seconds())
	}
	StreamChunksTotal.WithLabelValues(m.model).Inc()
}

// RecordStreamError records a stream that ended with an upstream error.
func (m *MetricsRecorder) RecordStreamError(errorType string) {
	StreamErrors.WithLabelValues(m.model, errorType).Inc()
}
