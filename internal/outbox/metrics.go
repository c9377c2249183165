package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_outbox_published_total",
			Help: "Outbox events published downstream",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_outbox_publish_failures_total",
			Help: "Outbox batches that failed to publish",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) IncFailures() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}
