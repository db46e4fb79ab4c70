package race

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records race outcomes.
type Metrics struct {
	Duration    prometheus.Histogram
	Settlements *prometheus.CounterVec
	Candidates  *prometheus.CounterVec
}

// NewMetrics creates the race collectors and registers them with reg. A nil reg skips
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "nexstream",
				Name:      "race_duration_seconds",
				Help:      "Time from race start to settlement",
				Buckets:   []float64{0.5, 1, 2, 4, 8, 12, 16, 24, 32, 45},
			},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "race_settlements_total",
				Help:      "Race settlements by reason and winning candidate",
			},
			[]string{"reason", "winner"},
		),
		Candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "race_candidate_results_total",
				Help:      "Candidate results by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Duration, m.Settlements, m.Candidates)
	}
	return m
}

func (m *Metrics) observeSettlement(reason, winner string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Duration.Observe(elapsed.Seconds())
	m.Settlements.WithLabelValues(strings.ReplaceAll(reason, " ", "_"), winner).Inc()
}

func (m *Metrics) observeCandidate(typ, outcome string) {
	if m == nil {
		return
	}
	m.Candidates.WithLabelValues(typ, outcome).Inc()
}
