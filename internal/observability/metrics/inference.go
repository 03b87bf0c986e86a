package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InferenceMetrics tracks calls to the external classification service
// and fallbacks to the colorimetric path.
type InferenceMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   prometheus.Histogram
	fallbacksTotal    *prometheus.CounterVec
	modelInfoFailures prometheus.Counter

	collectors []prometheus.Collector
}

// NewInferenceMetrics creates and registers inference service metrics.
func NewInferenceMetrics(registry *prometheus.Registry) (*InferenceMetrics, error) {
	m := &InferenceMetrics{}
	m.initMetrics()
	if err := register(registry, m.collectors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *InferenceMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Requests to the classification service by status",
		},
		[]string{"status"}, // status: success, error, timeout
	)

	m.requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_request_duration_seconds",
		Help:    "Round trip time of classification requests",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	m.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_fallbacks_total",
			Help: "Classifications served by the colorimetric fallback",
		},
		[]string{"reason"}, // reason: unavailable, timeout, error
	)

	m.modelInfoFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_model_info_failures_total",
		Help: "Failed model-info probes",
	})

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.fallbacksTotal,
		m.modelInfoFailures,
	}
}

// RecordRequest counts one service call and its duration.
func (m *InferenceMetrics) RecordRequest(status string, seconds float64) {
	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.Observe(seconds)
}

// RecordFallback counts one colorimetric fallback.
func (m *InferenceMetrics) RecordFallback(reason string) {
	m.fallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordModelInfoFailure counts a failed model-info probe.
func (m *InferenceMetrics) RecordModelInfoFailure() {
	m.modelInfoFailures.Inc()
}
