// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects loop counters. All methods are safe on a nil receiver so
// callers never need to check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	runsTotal        *prometheus.CounterVec
	interruptsTotal  prometheus.Counter
	annotateFailures prometheus.Counter
	predictions      *prometheus.CounterVec
	predictDuration  prometheus.Histogram
}

// NewMetrics registers every collector on a private registry, which keeps
// parallel tests from colliding on the default one.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Dispatched actions by action and outcome.",
		}, []string{"action", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of a perceive-predict-act iteration.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"action"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
		interruptsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Times the loop suspended for an operator.",
		}),
		annotateFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotate_failures_total",
			Help:      "Annotation passes that exhausted their attempts.",
		}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictor calls by outcome.",
		}, []string{"outcome"}),
		predictDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_duration_seconds",
			Help:      "Latency of predictor calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) ObserveStep(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(action, status).Inc()
	m.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) ObservePrediction(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(outcome).Inc()
	m.predictDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncInterrupt() {
	if m == nil {
		return
	}
	m.interruptsTotal.Inc()
}

func (m *Metrics) IncAnnotateFailure() {
	if m == nil {
		return
	}
	m.annotateFailures.Inc()
}

// Registry exposes the underlying registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
