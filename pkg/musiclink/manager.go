package musiclink

import (
	"context"
	"errors"
)

// Manager coordinates multiple music link resolvers to handle various provider URLs.
type Manager struct {
	resolvers []Resolver
}

// NewManager creates a new music link manager over the given resolvers, in priority order.
func NewManager(resolvers ...Resolver) *Manager {
	return &Manager{resolvers: resolvers}
}

// Resolve attempts to resolve a music link using the first resolver that accepts it.
func (m *Manager) Resolve(ctx context.Context, url string) (*TrackInfo, error) {
	for _, resolver := range m.resolvers {
		if resolver.CanResolve(url) {
			return resolver.Resolve(ctx, url)
		}
	}

	return nil, errors.New("no resolver found for URL")
}

// ResolversFor returns every resolver that accepts url.
func (m *Manager) ResolversFor(url string) []Resolver {
	var matched []Resolver
	for _, resolver := range m.resolvers {
		if resolver.CanResolve(url) {
			matched = append(matched, resolver)
		}
	}
	return matched
}

// CanResolve checks if any resolver can handle the given URL.
func (m *Manager) CanResolve(url string) bool {
	for _, resolver := range m.resolvers {
		if resolver.CanResolve(url) {
			return true
		}
	}
	return false
}
