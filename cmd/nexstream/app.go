package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"nexstream/internal/cache"
	"nexstream/internal/core"
	"nexstream/internal/delivery"
	"nexstream/internal/limiter"
	"nexstream/internal/llm"
	"nexstream/internal/metadata"
	"nexstream/internal/platform"
	"nexstream/internal/progress"
	"nexstream/internal/race"
	"nexstream/internal/spotify"
	"nexstream/internal/store"
	"nexstream/internal/telemetry"
	"nexstream/pkg/musiclink"
)

// app holds the wired services shared by every command.
type app struct {
	logger     *zap.Logger
	service    *core.Service
	hub        *progress.Hub
	limiter    *limiter.Limiter
	brain      *store.Brain
	aggregator *metadata.Aggregator
	registry   *prometheus.Registry
	shutdown   telemetry.Shutdown
}

func newApp(ctx context.Context, cfg *core.Config, log *zap.Logger) (*app, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, log.Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	brain, err := store.Open(cfg.Store, log.Named("store"))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := brain.Warm(ctx); err != nil {
		_ = brain.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to warm store index: %w", err)
	}

	llmProvider, err := llm.NewProvider(&cfg.LLM, log.Named("llm"))
	if err != nil {
		_ = brain.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	catalogue := musiclink.NewHTTPClient(telemetry.Transport())
	catalogue.Timeout = cfg.Providers.HTTPTimeout
	embed := musiclink.NewSpotifyEmbedResolver(catalogue, cfg.Providers.SpotifyEmbedURL)
	apple := musiclink.NewAppleMusicResolver(catalogue, cfg.Providers.ITunesBaseURL)
	deezer := musiclink.NewDeezerClient(catalogue, cfg.Providers.DeezerBaseURL)
	musicBrainz := musiclink.NewMusicBrainzClient(catalogue, cfg.Providers.MusicBrainzURL)
	odesli := musiclink.NewOdesliClient(catalogue, cfg.Providers.OdesliBaseURL)

	spotifyClient := spotify.NewClient(&cfg.Spotify, log.Named("spotify"), telemetry.HTTPClient(cfg.Providers.HTTPTimeout))
	if spotifyClient.Enabled() {
		if err := spotifyClient.Authenticate(ctx); err != nil {
			// Metadata still resolves through the embed and catalogue providers.
			log.Warn("Spotify authentication failed, API features degraded", zap.Error(err))
		}
	}

	lim := limiter.New(cfg.Limiter.Capacity)
	ytdlp := platform.NewYtDlp(&cfg.Platform, log.Named("platform"), lim,
		cfg.Cache.InfoSize, cfg.Cache.InfoTTL, telemetry.HTTPClient(cfg.Providers.HTTPTimeout))

	aggregator := metadata.NewAggregator(log.Named("metadata"),
		[]musiclink.Resolver{spotifyClient, embed, apple, deezer},
		metadata.Extras{Covers: embed, Previews: embed, Years: musicBrainz})

	engines := race.Engines{
		Searcher:   ytdlp,
		Inspector:  ytdlp,
		ISRC:       metadata.NewISRCFinder(log.Named("isrc"), deezer, apple),
		Aggregator: metadata.NewLinkAggregator(odesli),
	}
	if llmProvider.Enabled() {
		engines.Semantic = llmProvider
	}

	service := core.NewService(cfg, core.ServiceDeps{
		Brain:    brain,
		Cache:    cache.NewResolutionCache(cfg.Cache.ResolutionSize, cfg.Cache.ResolutionTTL),
		Metadata: aggregator,
		Racer:    race.NewResolver(cfg.Race, engines, log.Named("race"), race.NewMetrics(registry)),
		Platform: ytdlp,
		Previews: metadata.NewPreviewRefresher(log.Named("previews"), embed, deezer, apple),
		Delivery: delivery.NewPipeline(&cfg.Delivery, log.Named("delivery"), lim, ytdlp, delivery.NewMetrics(registry)),
		Tracks:   spotifyClient,
		Links:    spotifyClient,
	}, log.Named("service"), core.NewMetrics(registry))

	log.Info("Services wired",
		zap.Int("stored_tracks", brain.Size()),
		zap.Bool("semantic_search", llmProvider.Enabled()),
		zap.Bool("spotify_api", spotifyClient.Enabled()))

	return &app{
		logger:     log,
		service:    service,
		hub:        progress.NewHub(log.Named("progress"), 0, 0),
		limiter:    lim,
		brain:      brain,
		aggregator: aggregator,
		registry:   registry,
		shutdown:   shutdown,
	}, nil
}

// Close waits for background work, then releases the store and flushes traces.
func (a *app) Close() {
	a.service.Wait()
	a.aggregator.Wait()

	if err := a.brain.Close(); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("Failed to flush traces", zap.Error(err))
	}
	_ = a.logger.Sync()
}
