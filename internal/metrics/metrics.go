// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/edged/internal/model"
)

// Metrics holds the daemon's collectors on a private registry so tests can
// create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	deployments   *prometheus.CounterVec
	componentsUp  prometheus.GaugeFunc
	restartsTotal prometheus.Counter
}

// New creates the collectors. componentCount supplies the live registry size
// for the gauge; pass nil to omit it.
func New(componentCount func() int) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edged",
			Name:      "state_transitions_total",
			Help:      "Component state transitions by target state.",
		}, []string{"component", "to"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edged",
			Name:      "lifecycle_step_duration_seconds",
			Help:      "Duration of lifecycle step executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"step"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edged",
			Name:      "deployments_total",
			Help:      "Completed deployment activations by outcome.",
		}, []string{"status"}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edged",
			Name:      "bootstrap_restarts_total",
			Help:      "Restarts requested by bootstrap tasks.",
		}),
	}
	reg.MustRegister(m.transitions, m.stepDuration, m.deployments, m.restartsTotal)

	if componentCount != nil {
		m.componentsUp = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "edged",
			Name:      "components_registered",
			Help:      "Components currently held in the registry.",
		}, func() float64 { return float64(componentCount()) })
		reg.MustRegister(m.componentsUp)
	}
	return m
}

// Transition records a component state change.
func (m *Metrics) Transition(component string, to model.State) {
	m.transitions.WithLabelValues(component, string(to)).Inc()
}

// StepObserved records the duration of one lifecycle step.
func (m *Metrics) StepObserved(step string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// DeploymentCompleted records a terminal deployment outcome.
func (m *Metrics) DeploymentCompleted(status model.DeploymentStatus) {
	m.deployments.WithLabelValues(string(status)).Inc()
}

// RestartRequested counts a bootstrap-driven restart.
func (m *Metrics) RestartRequested() {
	m.restartsTotal.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
