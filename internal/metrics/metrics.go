// Package metrics exposes moderation counters and latency histograms on a
// private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// Latency buckets in seconds; the pipeline budget is a few seconds at most.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025,
	0.05, 0.1, 0.25, 0.5,
	1, 2.5, 5,
}

// Recorder owns the registry and every moderation metric.
type Recorder struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	actions          *prometheus.CounterVec
	classifierErrors *prometheus.CounterVec
	latency          prometheus.Histogram
	reloads          *prometheus.CounterVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modguard_decisions_total",
			Help: "Moderation decisions by risk level",
		}, []string{"level"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modguard_actions_total",
			Help: "Moderation actions emitted",
		}, []string{"action"}),
		classifierErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modguard_classifier_errors_total",
			Help: "Classifier failures and timeouts",
		}, []string{"classifier"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "modguard_decision_latency_seconds",
			Help:    "End-to-end moderation latency",
			Buckets: latencyBuckets,
		}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modguard_policy_reloads_total",
			Help: "Policy file reload attempts by result",
		}, []string{"result"}),
	}
}

// ObserveDecision records one pipeline decision.
func (r *Recorder) ObserveDecision(d *engine.Decision) {
	if r == nil || d == nil {
		return
	}
	if d.Risk != nil {
		r.decisions.WithLabelValues(d.Risk.Level.String()).Inc()
	}
	if d.Action != nil {
		for _, a := range d.Action.Actions {
			r.actions.WithLabelValues(a).Inc()
		}
	}
	for _, c := range d.Classifiers {
		if c.Err != "" {
			r.classifierErrors.WithLabelValues(c.Name).Inc()
		}
	}
	r.latency.Observe(d.Latency.Seconds())
}

// ObserveReload records a policy reload outcome.
func (r *Recorder) ObserveReload(err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.reloads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
