// Package observability provides metric collectors and the /metrics
// endpoint for the ConeScan service.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/observability/metrics"
)

// Metrics holds all metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Intake    *metrics.IntakeMetrics
	Inference *metrics.InferenceMetrics
	HTTP      *metrics.HTTPMetrics
}

// NewMetrics creates a registry with all collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	intakeMetrics, err := metrics.NewIntakeMetrics(registry)
	if err != nil {
		return nil, wrapInitError(err, "intake")
	}
	inferenceMetrics, err := metrics.NewInferenceMetrics(registry)
	if err != nil {
		return nil, wrapInitError(err, "inference")
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, wrapInitError(err, "http")
	}

	return &Metrics{
		registry:  registry,
		Intake:    intakeMetrics,
		Inference: inferenceMetrics,
		HTTP:      httpMetrics,
	}, nil
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func wrapInitError(err error, collector string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategoryConfiguration).
		Context("collector", collector).
		Build()
}
