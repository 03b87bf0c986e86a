// Package metrics provides Prometheus collectors for the inspection
// pipeline and its supporting services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IntakeMetrics tracks the image intake pipeline.
type IntakeMetrics struct {
	uploadsTotal        *prometheus.CounterVec
	duplicateUploads    prometheus.Counter
	classificationTotal *prometheus.CounterVec
	pipelineDuration    *prometheus.HistogramVec
	uploadSizeBytes     prometheus.Histogram

	collectors []prometheus.Collector
}

// NewIntakeMetrics creates and registers intake pipeline metrics.
func NewIntakeMetrics(registry *prometheus.Registry) (*IntakeMetrics, error) {
	m := &IntakeMetrics{}
	m.initMetrics()
	if err := register(registry, m.collectors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *IntakeMetrics) initMetrics() {
	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_uploads_total",
			Help: "Total number of image uploads by outcome",
		},
		[]string{"status"}, // status: accepted, rejected, error
	)

	m.duplicateUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intake_duplicate_uploads_total",
		Help: "Uploads whose checksum matched an existing image in the batch",
	})

	m.classificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_classifications_total",
			Help: "Classification outcomes by method and result",
		},
		[]string{"method", "result"}, // method: yolo, classical; result: good, reject
	)

	m.pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_pipeline_duration_seconds",
			Help:    "End to end time for one classify-and-save run",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"method"},
	)

	m.uploadSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intake_upload_size_bytes",
		Help:    "Size distribution of uploaded images",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	m.collectors = []prometheus.Collector{
		m.uploadsTotal,
		m.duplicateUploads,
		m.classificationTotal,
		m.pipelineDuration,
		m.uploadSizeBytes,
	}
}

// RecordUpload counts one upload with its final status.
func (m *IntakeMetrics) RecordUpload(status string) {
	m.uploadsTotal.WithLabelValues(status).Inc()
}

// RecordDuplicate counts a checksum-deduplicated re-upload.
func (m *IntakeMetrics) RecordDuplicate() {
	m.duplicateUploads.Inc()
}

// RecordClassification counts one classification outcome.
func (m *IntakeMetrics) RecordClassification(method, result string) {
	m.classificationTotal.WithLabelValues(method, result).Inc()
}

// RecordPipelineDuration observes one pipeline run.
func (m *IntakeMetrics) RecordPipelineDuration(method string, seconds float64) {
	m.pipelineDuration.WithLabelValues(method).Observe(seconds)
}

// RecordUploadSize observes an upload's byte size.
func (m *IntakeMetrics) RecordUploadSize(bytes float64) {
	m.uploadSizeBytes.Observe(bytes)
}

func register(registry *prometheus.Registry, collectors []prometheus.Collector) error {
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
