// Package flood limits how often a single client may hit the expensive endpoints.
package flood

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the sliding window used when none is configured
	DefaultWindow = time.Minute
	// cleanupInterval is how often expired entries are removed
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long before an idle client entry is removed
	idleTimeout = 10 * time.Minute
)

// Floodgate provides per-client, per-route sliding window rate limiting.
type Floodgate struct {
	limit       int
	window      time.Duration
	entries     map[string]*clientEntry // Key: "route:client"
	mutex       sync.RWMutex
	stopCleanup chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// clientEntry tracks request timestamps for one client on one route
type clientEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Floodgate allowing limit requests per window. A zero window uses DefaultWindow.
func New(limit int, window time.Duration) *Floodgate {
	if window <= 0 {
		window = DefaultWindow
	}
	fg := &Floodgate{
		limit:       limit,
		window:      window,
		entries:     make(map[string]*clientEntry),
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	go fg.cleanup()

	return fg
}

// Stop stops the background cleanup goroutine. It is safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Allow reports whether a request from client on route fits in the window, and records it if so.
func (fg *Floodgate) Allow(route, client string) bool {
	key := route + ":" + client
	now := fg.now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[key]
	if !exists {
		entry = &clientEntry{
			timestamps: make([]time.Time, 0, fg.limit+1),
		}
		fg.entries[key] = entry
	}

	entry.lastSeen = now

	windowStart := now.Add(-fg.window)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limit {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// RetryAfter returns how long client must wait before route accepts another request.
func (fg *Floodgate) RetryAfter(route, client string) time.Duration {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	entry, ok := fg.entries[route+":"+client]
	if !ok || len(entry.timestamps) < fg.limit || len(entry.timestamps) == 0 {
		return 0
	}
	wait := entry.timestamps[0].Add(fg.window).Sub(fg.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (fg *Floodgate) cleanup() {
	fg.performCleanup()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

// performCleanup removes entries that have been idle for too long
func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := fg.now().Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring/debugging
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveClients: len(fg.entries),
		Limit:         fg.limit,
		WindowSeconds: int(fg.window.Seconds()),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveClients int `json:"active_clients"`
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}
