// Package metrics provides Prometheus metrics for the forecast service:
// forecast throughput and failures, model inference latency, artifact
// health and run persistence.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// Forecast metrics
	ForecastsTotal   prometheus.Counter   // Completed forecast invocations
	ForecastFailures prometheus.Counter   // Failed forecast invocations
	ForecastDuration prometheus.Histogram // End-to-end forecast duration
	InferenceLatency prometheus.Histogram // Per-step model inference latency

	// Artifact metrics
	ModelAge             prometheus.Gauge   // Age of the model artifact in seconds
	ArtifactLoadFailures prometheus.Counter // Artifact load failures

	// Persistence and API metrics
	RunsStored  prometheus.Counter // Forecast runs persisted
	WSClients   prometheus.Gauge   // Connected websocket clients
	ErrorsTotal prometheus.Counter // Total errors encountered
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ForecastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecasts_total",
			Help: "Total number of completed forecast invocations",
		}),
		ForecastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_failures_total",
			Help: "Total number of failed forecast invocations",
		}),
		ForecastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_duration_seconds",
			Help:    "End-to-end forecast invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_inference_latency_seconds",
			Help:    "Per-step sequence model inference latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		ArtifactLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "artifact_load_failures_total",
			Help: "Total number of artifact load failures",
		}),
		RunsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_runs_stored_total",
			Help: "Total number of forecast runs persisted",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected websocket clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// ForecastsInc implements forecast.MetricsInterface.
func (m *Metrics) ForecastsInc() { m.ForecastsTotal.Inc() }

// ForecastFailuresInc implements forecast.MetricsInterface.
func (m *Metrics) ForecastFailuresInc() {
	m.ForecastFailures.Inc()
	m.ErrorsTotal.Inc()
}

// ForecastDurationObserve implements forecast.MetricsInterface.
func (m *Metrics) ForecastDurationObserve(v float64) { m.ForecastDuration.Observe(v) }

// InferenceLatencyObserve implements forecast.MetricsInterface.
func (m *Metrics) InferenceLatencyObserve(v float64) { m.InferenceLatency.Observe(v) }

// ModelAgeSet records the model artifact age in seconds.
func (m *Metrics) ModelAgeSet(v float64) { m.ModelAge.Set(v) }

// ArtifactLoadFailuresInc counts a failed artifact load.
func (m *Metrics) ArtifactLoadFailuresInc() {
	m.ArtifactLoadFailures.Inc()
	m.ErrorsTotal.Inc()
}

// RunsStoredInc counts a persisted forecast run.
func (m *Metrics) RunsStoredInc() { m.RunsStored.Inc() }

// WSClientsSet records the number of connected websocket clients.
func (m *Metrics) WSClientsSet(v float64) { m.WSClients.Set(v) }
