// Package progress fans progress events out to Server-Sent Event clients.
package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexstream/internal/core"
)

const (
	DefaultBuffer    = 64
	DefaultHeartbeat = 20 * time.Second
)

type client struct {
	events chan core.ProgressEvent
}

// Hub keeps one buffered channel per connected client id. Sends never block: when a client's
// buffer is full the event is dropped.
type Hub struct {
	logger    *zap.Logger
	buffer    int
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[string]*client
	dropped atomic.Int64
}

// NewHub creates a hub. Non-positive buffer and heartbeat values fall back to the defaults.
func NewHub(logger *zap.Logger, buffer int, heartbeat time.Duration) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		logger:    logger,
		buffer:    buffer,
		heartbeat: heartbeat,
		clients:   make(map[string]*client),
	}
}

// NewID returns a fresh client id.
func NewID() string {
	return uuid.NewString()
}

// Subscribe registers id and returns its event channel plus a function that unregisters it. A
// second subscription for the same id replaces the first, whose channel is closed.
func (h *Hub) Subscribe(id string) (<-chan core.ProgressEvent, func()) {
	c := &client{events: make(chan core.ProgressEvent, h.buffer)}

	h.mu.Lock()
	if old, ok := h.clients[id]; ok {
		close(old.events)
	}
	h.clients[id] = c
	h.mu.Unlock()

	var once sync.Once
	return c.events, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if current, ok := h.clients[id]; ok && current == c {
				delete(h.clients, id)
				close(c.events)
			}
		})
	}
}

// Send delivers e to id if it is connected.
func (h *Hub) Send(id string, e core.ProgressEvent) {
	if id == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	select {
	case c.events <- e:
	default:
		h.dropped.Add(1)
		h.logger.Debug("Progress event dropped, client buffer full", zap.String("client", id))
	}
}

// Sink returns a ProgressSink bound to id.
func (h *Hub) Sink(id string) core.ProgressSink {
	if id == "" {
		return core.NopSink{}
	}
	return core.SinkFunc(func(e core.ProgressEvent) { h.Send(id, e) })
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because a client fell behind.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ServeHTTP streams events for the client named by the "id" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		id = NewID()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := h.Subscribe(id)
	defer unsubscribe()

	if _, err := fmt.Fprint(w, ": ok\n\n"); err != nil {
		return
	}
	flusher.Flush()

	h.logger.Debug("Progress client connected", zap.String("client", id))
	defer h.logger.Debug("Progress client disconnected", zap.String("client", id))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Warn("Failed to encode progress event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
