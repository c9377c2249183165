package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Emitted      prometheus.Counter
	Dropped      prometheus.Counter
	SinkFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_telemetry_emitted_total",
			Help: "Telemetry events accepted into the buffer",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_telemetry_dropped_total",
			Help: "Telemetry events dropped because the buffer was full",
		}),
		SinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_telemetry_sink_failures_total",
			Help: "Telemetry events lost to sink write errors",
		}),
	}
}

func (m *Metrics) IncEmitted() {
	if m == nil {
		return
	}
	m.Emitted.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) AddSinkFailures(n int) {
	if m == nil {
		return
	}
	m.SinkFailures.Add(float64(n))
}
