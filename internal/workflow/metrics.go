package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for workflow actions.
type Metrics struct {
	Transitions    *prometheus.CounterVec
	ActionFailures *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_workflow_transitions_total",
			Help: "Committed workflow transitions",
		}, []string{"kind", "from", "to"}),

		ActionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_workflow_action_failures_total",
			Help: "Workflow actions that failed, by the phase that failed",
		}, []string{"kind", "state", "phase"}),

		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_workflow_phase_duration_seconds",
			Help:    "Duration of the execute and commit phases",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "phase"}),
	}
}

func (m *Metrics) IncTransition(kind Kind, from, to StateTag) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(kind), string(from), string(to)).Inc()
}

func (m *Metrics) IncActionFailure(kind Kind, state StateTag, phase string) {
	if m == nil {
		return
	}
	m.ActionFailures.WithLabelValues(string(kind), string(state), phase).Inc()
}

func (m *Metrics) ObservePhase(kind Kind, phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(string(kind), phase).Observe(d.Seconds())
}
