package waterfall

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for vendor calls made by the waterfall.
type Metrics struct {
	VendorCalls    *prometheus.CounterVec
	VendorDuration *prometheus.HistogramVec
	Exhausted      *prometheus.CounterVec
}

// NewMetrics registers the waterfall metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VendorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_vendor_calls_total",
			Help: "Vendor calls made by the waterfall by vendor API and outcome",
		}, []string{"vendor_api", "outcome"}), // outcome: "success", "pending", or an error category

		VendorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_vendor_call_duration_seconds",
			Help:    "Duration of vendor calls by vendor API",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"vendor_api"}),

		Exhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_waterfall_exhausted_total",
			Help: "Waterfall runs that ended without a successful vendor result",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveCall(api, outcome string, d time.Duration) {
	if m != nil {
		m.VendorCalls.WithLabelValues(api, outcome).Inc()
		m.VendorDuration.WithLabelValues(api).Observe(d.Seconds())
	}
}

func (m *Metrics) IncExhausted(kind string) {
	if m != nil {
		m.Exhausted.WithLabelValues(kind).Inc()
	}
}
