package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts resolution service activity.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	Resolutions  *prometheus.CounterVec
	SeededTracks *prometheus.CounterVec
}

// NewMetrics creates the service collectors and registers them with reg. A nil reg skips
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "resolutions_total",
				Help:      "Resolve calls by link kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		SeededTracks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "seeded_tracks_total",
				Help:      "Seeded tracks by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.Resolutions, m.SeededTracks)
	}
	return m
}

func (m *Metrics) cacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) resolution(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorLabel(err)
	}
	m.Resolutions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) seeded(result string) {
	if m == nil {
		return
	}
	m.SeededTracks.WithLabelValues(result).Inc()
}
