package core

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Limiter.Capacity != 2 {
		t.Errorf("Expected default limiter capacity 2, got %d", config.Limiter.Capacity)
	}

	if config.Cache.ResolutionTTL != 15*time.Second {
		t.Errorf("Expected resolution TTL 15s, got %v", config.Cache.ResolutionTTL)
	}

	if config.Race.Ceiling != 45*time.Second {
		t.Errorf("Expected race ceiling 45s, got %v", config.Race.Ceiling)
	}

	if config.LLM.Provider != "none" {
		t.Errorf("Expected default LLM provider none, got %s", config.LLM.Provider)
	}

	if config.Store.Backend != "sqlite" {
		t.Errorf("Expected default store backend sqlite, got %s", config.Store.Backend)
	}
}

func TestDefaultRaceTimings(t *testing.T) {
	race := DefaultConfig().Race

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"link aggregate stagger", race.LinkAggregateStagger, 1500 * time.Millisecond},
		{"semantic stagger", race.SemanticStagger, 6 * time.Second},
		{"heuristic stagger", race.HeuristicStagger, 8500 * time.Millisecond},
		{"exact grace", race.ExactGrace, 15 * time.Second},
		{"perfect grace", race.PerfectGrace, 2 * time.Second},
		{"semantic grace", race.SemanticGrace, 3 * time.Second},
		{"default grace", race.DefaultGrace, 1500 * time.Millisecond},
		{"strict tolerance", race.StrictTolerance, 15 * time.Second},
		{"loose tolerance", race.LooseTolerance, 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}
