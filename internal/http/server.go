package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/internal/flood"
)

const shutdownTimeout = 10 * time.Second

// Resolver is the part of the resolution service the HTTP layer drives.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, sink core.ProgressSink) (*core.Resolution, error)
	Deliver(ctx context.Context, req core.DeliveryRequest, sink core.ProgressSink) (*core.Delivery, error)
	SeedTargets(ctx context.Context, rawURL string) ([]string, error)
	SeedTracks(ctx context.Context, urls []string, sink core.ProgressSink) core.SeedReport
}

// EventHub fans progress events out to subscribed clients.
type EventHub interface {
	http.Handler
	Sink(id string) core.ProgressSink
	Clients() int
}

// LoadGauge exposes the shared limiter state.
type LoadGauge interface {
	Held() int64
	Capacity() int64
}

// Deps groups what the server needs from the rest of the process.
type Deps struct {
	Service  Resolver
	Events   EventHub
	Load     LoadGauge
	Ready    func(ctx context.Context) error
	Registry *prometheus.Registry
}

type Server struct {
	config     *core.ServerConfig
	logger     *zap.Logger
	server     *http.Server
	metrics    *Metrics
	deps       Deps
	floodgate  *flood.Floodgate
	baseCtx    context.Context
	cancelBase context.CancelFunc
	background sync.WaitGroup
}

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Throttled       *prometheus.CounterVec
	BytesStreamed   *prometheus.CounterVec
}

func newMetrics(deps Deps) *Metrics {
	metrics := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "http_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"route", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nexstream",
				Name:      "http_request_duration_seconds",
				Help:      "Time spent serving API requests",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),
		Throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "http_throttled_total",
				Help:      "Requests rejected by the per-client flood limit",
			},
			[]string{"route"},
		),
		BytesStreamed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexstream",
				Name:      "http_streamed_bytes_total",
				Help:      "Bytes written to download clients",
			},
			[]string{"format"},
		),
	}

	if deps.Registry == nil {
		return metrics
	}

	deps.Registry.MustRegister(
		metrics.RequestsTotal,
		metrics.RequestDuration,
		metrics.Throttled,
		metrics.BytesStreamed,
	)
	if deps.Load != nil {
		load := deps.Load
		deps.Registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace: "nexstream",
					Name:      "limiter_held_weight",
					Help:      "Weight currently held on the shared subprocess limiter",
				},
				func() float64 { return float64(load.Held()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace: "nexstream",
					Name:      "limiter_capacity",
					Help:      "Capacity of the shared subprocess limiter",
				},
				func() float64 { return float64(load.Capacity()) },
			),
		)
	}
	if deps.Events != nil {
		events := deps.Events
		deps.Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "nexstream",
				Name:      "event_clients",
				Help:      "Connected progress event subscribers",
			},
			func() float64 { return float64(events.Clients()) },
		))
	}
	return metrics
}

func NewServer(config *core.ServerConfig, logger *zap.Logger, deps Deps) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		logger:     logger,
		metrics:    newMetrics(deps),
		deps:       deps,
		floodgate:  flood.New(config.FloodLimit, config.FloodWindow),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	if deps.Registry != nil {
		deps.Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "nexstream",
				Name:      "flood_tracked_clients",
				Help:      "Clients with an open flood limit window",
			},
			func() float64 { return float64(s.floodgate.GetStats().ActiveClients) },
		))
	}

	mux := setupRoutes(logger, s)
	s.server = createHTTPServer(config, otelhttp.NewHandler(mux, "nexstream"))
	return s
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

// setupRoutes registers the operational endpoints and, when s is non-nil, the API.
func setupRoutes(logger *zap.Logger, s *Server) *http.ServeMux {
	mux := http.NewServeMux()

	var ready func(ctx context.Context) error
	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if s != nil {
		ready = s.deps.Ready
		if s.deps.Registry != nil {
			gatherer = s.deps.Registry
		}
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(logger, w, http.StatusOK, map[string]string{"status": "ok", "service": "nexstream"})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				logger.Warn("Readiness check failed", zap.Error(err))
				writeJSON(logger, w, http.StatusServiceUnavailable,
					map[string]string{"status": "unavailable", "service": "nexstream"})
				return
			}
		}
		writeJSON(logger, w, http.StatusOK, map[string]string{"status": "ready", "service": "nexstream"})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if s != nil {
		mux.Handle("/api/info", s.instrument("info", s.throttle("info", http.HandlerFunc(s.handleInfo))))
		mux.Handle("/api/convert", s.instrument("convert", s.throttle("convert", http.HandlerFunc(s.handleConvert))))
		mux.Handle("/api/seed", s.instrument("seed", http.HandlerFunc(s.handleSeed)))
		if s.deps.Events != nil {
			mux.Handle("/api/events", s.deps.Events)
		}
	}

	mux.HandleFunc("/", homeHandler(logger))

	return mux
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(homePage)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>nexstream</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">nexstream</h1>
    <p>Music link and video resolver</p>

    <h2>API</h2>
    <div class="endpoint"><code>GET /api/info?url=...&amp;id=...</code> - Resolve a link</div>
    <div class="endpoint"><code>GET|POST /api/convert</code> - Stream a download</div>
    <div class="endpoint"><code>GET /api/events?id=...</code> - Progress events</div>
    <div class="endpoint"><code>GET|POST /api/seed?url=...&amp;id=...</code> - Seed the cache from a track or collection</div>

    <h2>Operations</h2>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
		s.Close()
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Close cancels background seeding jobs and waits for them to stop.
func (s *Server) Close() {
	s.cancelBase()
	s.background.Wait()
	s.floodgate.Stop()
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) recordRequest(route string, code int, duration time.Duration) {
	s.metrics.RequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", code)).Inc()
	s.metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
