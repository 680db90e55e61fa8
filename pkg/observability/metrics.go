// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the alpha chat server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alpha_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks active SSE and WebSocket streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alpha_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ProviderRequestsTotal counts provider turns by outcome.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records provider turn latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alpha_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens reported by providers (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// StreamFramesTotal counts stream frames by event type and direction
	// (sent/received).
	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_stream_frames_total",
			Help: "Stream frames",
		},
		[]string{"type", "direction"},
	)

	// StreamFramesSkippedTotal counts received frames that were skipped
	// (malformed, unknown, oversized).
	StreamFramesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_stream_frames_skipped_total",
			Help: "Skipped stream frames",
		},
		[]string{"reason"},
	)

	// TranscriptMessagesTotal counts finalized transcript messages by role.
	TranscriptMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_transcript_messages_total",
			Help: "Finalized transcript messages",
		},
		[]string{"role"},
	)

	// StreamOutcomesTotal counts finished exchanges by outcome
	// (completed, failed, cancelled, transport_error).
	StreamOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_stream_outcomes_total",
			Help: "Exchange outcomes",
		},
		[]string{"outcome"},
	)

	// StorageOperationsTotal counts persistence operations by backend,
	// operation and outcome.
	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_storage_operations_total",
			Help: "Storage operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		ToolExecutionsTotal,
		StreamFramesTotal,
		StreamFramesSkippedTotal,
		TranscriptMessagesTotal,
		StreamOutcomesTotal,
		StorageOperationsTotal,
	)
}

// Status returns the outcome label for err.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// TrackStream increments StreamingConnections and returns the matching
// decrement, for use with defer.
func TrackStream() func() {
	StreamingConnections.Inc()
	return StreamingConnections.Dec
}
