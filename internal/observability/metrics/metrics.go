// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "concierge_widget"

// Metrics holds all Prometheus metrics for the widget.
type Metrics struct {
	// Activation metrics
	ActivationsTotal *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	StateTransitions *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Credential metrics
	CredentialFetchTotal   *prometheus.CounterVec
	CredentialFetchLatency prometheus.Histogram

	// Transcript metrics
	SegmentsApplied  *prometheus.CounterVec
	SegmentsRejected *prometheus.CounterVec
	LogRecomputes    prometheus.Counter
	LogLength        prometheus.Gauge

	// Presence metrics
	TrackSelectionChanges *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Token issuance metrics
	TokensIssued *prometheus.CounterVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
	GRPCLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Total number of widget activations by outcome",
		}, []string{"outcome"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected sessions",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Total number of session state transitions",
		}, []string{"from", "to"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of connected sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		CredentialFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_fetch_total",
			Help:      "Total number of credential fetches by outcome",
		}, []string{"outcome"}),
		CredentialFetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_fetch_latency_seconds",
			Help:      "Credential fetch latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		SegmentsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_segments_applied_total",
			Help:      "Total number of transcript segment updates applied",
		}, []string{"speaker", "kind"}),
		SegmentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_segments_rejected_total",
			Help:      "Total number of transcript segment updates rejected",
		}, []string{"speaker", "reason"}),
		LogRecomputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_log_recomputes_total",
			Help:      "Total number of conversation log recomputations",
		}),
		LogLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_log_length",
			Help:      "Number of entries in the latest conversation log",
		}),

		TrackSelectionChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_selection_changes_total",
			Help:      "Total number of remote video selection changes",
		}, []string{"result"}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of session tokens issued by outcome",
		}, []string{"outcome"}),

		GRPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordActivation records the outcome of one widget activation.
func (m *Metrics) RecordActivation(outcome string) {
	m.ActivationsTotal.WithLabelValues(outcome).Inc()
}

// RecordStateTransition records a session state change.
func (m *Metrics) RecordStateTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordSessionStart records a session reaching connected.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a connected session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordCredentialFetch records a credential fetch attempt.
func (m *Metrics) RecordCredentialFetch(err error, latencySeconds float64) {
	m.CredentialFetchLatency.Observe(latencySeconds)
	if err != nil {
		m.CredentialFetchTotal.WithLabelValues("unavailable").Inc()
		return
	}
	m.CredentialFetchTotal.WithLabelValues("ok").Inc()
}

// RecordSegmentApplied records an accepted segment update.
// kind is "new", "revision" or "final".
func (m *Metrics) RecordSegmentApplied(speaker, kind string) {
	m.SegmentsApplied.WithLabelValues(speaker, kind).Inc()
}

// RecordSegmentRejected records a rejected segment update.
func (m *Metrics) RecordSegmentRejected(speaker, reason string) {
	m.SegmentsRejected.WithLabelValues(speaker, reason).Inc()
}

// RecordLogRecompute records a conversation log recomputation.
func (m *Metrics) RecordLogRecompute(length int) {
	m.LogRecomputes.Inc()
	m.LogLength.Set(float64(length))
}

// RecordTrackSelection records a change in the selected remote video.
func (m *Metrics) RecordTrackSelection(found bool) {
	if found {
		m.TrackSelectionChanges.WithLabelValues("selected").Inc()
		return
	}
	m.TrackSelectionChanges.WithLabelValues("none").Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordTokenIssued records a token issuance attempt.
func (m *Metrics) RecordTokenIssued(err error) {
	if err != nil {
		m.TokensIssued.WithLabelValues("error").Inc()
		return
	}
	m.TokensIssued.WithLabelValues("ok").Inc()
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string, durationSeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(durationSeconds)
}
