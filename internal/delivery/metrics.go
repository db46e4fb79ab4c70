package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records delivery outcomes.
type Metrics struct {
	Deliveries *prometheus.CounterVec
	Bytes      prometheus.Counter
}

// NewMetrics creates the delivery collectors and registers them with reg. A nil reg skips
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "deliveries_total",
				Help:      "Deliveries by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		Bytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "delivered_bytes_total",
				Help:      "Bytes streamed to clients",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Deliveries, m.Bytes)
	}
	return m
}

func (m *Metrics) observeDelivery(strategy, outcome string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.Deliveries.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) addBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.Add(float64(n))
}
