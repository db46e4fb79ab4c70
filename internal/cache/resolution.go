// Package cache provides the short-lived in-memory resolution cache.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nexstream/internal/core"
)

// ResolutionCache holds recent resolutions keyed by source URL. Entries expire after a fixed TTL
// and the least recently used entry is evicted once the cache is full.
type ResolutionCache struct {
	lru *expirable.LRU[string, *core.Resolution]
}

// NewResolutionCache creates a cache holding at most size entries for ttl each.
func NewResolutionCache(size int, ttl time.Duration) *ResolutionCache {
	return &ResolutionCache{
		lru: expirable.NewLRU[string, *core.Resolution](size, nil, ttl),
	}
}

// Get returns the cached resolution for key, if present and not expired.
func (c *ResolutionCache) Get(key string) (*core.Resolution, bool) {
	return c.lru.Get(key)
}

// Put stores res under key, replacing any previous entry.
func (c *ResolutionCache) Put(key string, res *core.Resolution) {
	if res == nil {
		return
	}
	c.lru.Add(key, res)
}

// Len returns the number of live entries.
func (c *ResolutionCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *ResolutionCache) Purge() {
	c.lru.Purge()
}
