package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for decision commits.
type Metrics struct {
	// Decision outcomes by flow kind and verdict
	Decisions *prometheus.CounterVec

	// Commits whose verdict came from a sandbox fixture
	FixtureOverrides prometheus.Counter
}

// NewMetrics registers the decision metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_decisions_total",
			Help: "Total decisions by workflow kind and verdict",
		}, []string{"kind", "verdict"}),

		FixtureOverrides: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_decision_fixture_overrides_total",
			Help: "Decisions whose verdict was forced by a sandbox fixture",
		}),
	}
}

// IncrementDecision records a committed verdict.
func (m *Metrics) IncrementDecision(kind string, v Verdict, fixture bool) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(kind, string(v)).Inc()
	if fixture {
		m.FixtureOverrides.Inc()
	}
}
