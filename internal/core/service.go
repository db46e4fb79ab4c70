package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"nexstream/pkg/text"
)

const (
	// FallbackCover is shown for stored tracks that lost their image.
	FallbackCover = "/logo.webp"

	flightTimeout     = 2 * time.Minute
	healTimeout       = time.Minute
	filenameSeparator = " — "
)

const (
	TierBrain  = "brain"
	TierMemory = "memory"
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

var mimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
	"mp4":  "video/mp4",
	"opus": "audio/opus",
	"ogg":  "audio/ogg",
}

// ServiceDeps are the collaborators of a Service. Brain, Cache, Previews, Tracks and Links may be
// nil.
type ServiceDeps struct {
	Brain    PersistentCache
	Cache    ResolutionCache
	Metadata MetadataFetcher
	Racer    CandidateRacer
	Platform MediaDescriber
	Previews PreviewRefresher
	Delivery Deliverer
	Tracks   TrackLister
	Links    LinkExpander
}

// Delivery is a started stream plus the response headers it needs.
type Delivery struct {
	Stream   MediaStream
	Filename string
	MIME     string
}

// SeedReport summarizes a seeding run.
type SeedReport struct {
	Total   int `json:"total"`
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Service resolves source links to playable targets and hands them to the delivery pipeline.
type Service struct {
	config  *Config
	deps    ServiceDeps
	logger  *zap.Logger
	metrics *Metrics
	parser  *text.Parser
	tracer  trace.Tracer

	flights    singleflight.Group
	background sync.WaitGroup
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewService creates a service. metrics may be nil.
func NewService(config *Config, deps ServiceDeps, logger *zap.Logger, metrics *Metrics) *Service {
	return &Service{
		config:  config,
		deps:    deps,
		logger:  logger,
		metrics: metrics,
		parser:  text.NewParser(),
		tracer:  otel.Tracer("nexstream/core"),
		sleep:   sleepContext,
	}
}

// Resolve turns a pasted link into a playable target and its formats. Music links go through the
// brain, the resolution cache and finally the candidate race; other links are described directly.
func (s *Service) Resolve(ctx context.Context, rawURL string, sink ProgressSink) (*Resolution, error) {
	sink = SinkOrNop(sink)

	link, err := s.parseLink(s.expand(ctx, rawURL))
	if err != nil {
		s.metrics.resolution("invalid", err)
		return nil, err
	}
	if link.Kind == text.KindSpotifyCollection {
		err := fmt.Errorf("%w: collections can only be seeded: %s", ErrUnsupportedSource, link.URL)
		s.metrics.resolution("collection", err)
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "service.resolve", trace.WithAttributes(
		attribute.String("source.url", link.URL),
		attribute.String("source.service", link.Service),
	))
	defer span.End()

	sink.Emit(ProgressEvent{
		Status:    StatusFetchingInfo,
		Progress:  5,
		SubStatus: "Initializing Session...",
		Details:   "SESSION: STARTING_SECURE_CONTEXT",
	})

	kind := "media"
	var res *Resolution
	if link.IsMusicSource() {
		kind = "music"
		res, err = s.resolveMusic(ctx, link, sink)
	} else {
		res, err = s.resolveMedia(ctx, link, sink)
	}
	s.metrics.resolution(kind, err)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Resolution failed",
			zap.String("url", link.URL),
			zap.String("kind", kind),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("target.url", res.TargetURL),
		attribute.String("cache.tier", res.CacheTier),
	)
	return res, nil
}

func (s *Service) expand(ctx context.Context, rawURL string) string {
	if s.deps.Links == nil {
		return rawURL
	}
	return s.deps.Links.Expand(ctx, strings.TrimSpace(rawURL))
}

func (s *Service) parseLink(rawURL string) (text.Link, error) {
	link, err := s.parser.ParseLink(rawURL)
	if err != nil {
		return text.Link{}, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	if link.Kind == text.KindUnsupported {
		return text.Link{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, link.URL)
	}
	return link, nil
}

func (s *Service) resolveMedia(ctx context.Context, link text.Link, sink ProgressSink) (*Resolution, error) {
	sink.Emit(ProgressEvent{
		Status:    StatusFetchingInfo,
		Progress:  20,
		SubStatus: fmt.Sprintf("Extracting %s Metadata...", link.Service),
		Details:   "ENGINE_YTDLP: INITIATING_CORE_EXTRACTION",
	})

	info, err := s.deps.Platform.Info(ctx, link.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", link.URL, err)
	}
	sink.Emit(ProgressEvent{Status: StatusFetchingInfo, Progress: 85, SubStatus: "Resolving Target Data..."})

	desc := s.deps.Platform.Describe(info)
	return &Resolution{
		SourceURL:    link.URL,
		Service:      link.Service,
		Title:        desc.Title,
		Artist:       info.Uploader,
		Cover:        desc.Thumbnail,
		Thumbnail:    desc.Thumbnail,
		Duration:     info.DurationSeconds(),
		TargetURL:    link.URL,
		Formats:      desc.Formats,
		AudioFormats: desc.AudioFormats,
	}, nil
}

func (s *Service) resolveMusic(ctx context.Context, link text.Link, sink ProgressSink) (*Resolution, error) {
	key := text.CacheKey(link.URL)

	if res := s.fromBrain(ctx, key, link, sink); res != nil {
		return res, nil
	}

	if s.deps.Cache != nil {
		cached, ok := s.deps.Cache.Get(key)
		s.metrics.cacheLookup(TierMemory, ok)
		if ok {
			sink.Emit(ProgressEvent{Status: StatusFetchingInfo, Progress: 90, SubStatus: "Found in local cache."})
			res := *cached
			res.CacheTier = TierMemory
			return &res, nil
		}
	}

	// The flight is detached from the caller because concurrent callers share it.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		return s.race(flightCtx, key, link, sink)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Resolution)
		return &res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) race(ctx context.Context, key string, link text.Link, sink ProgressSink) (*Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, flightTimeout)
	defer cancel()

	sink.Emit(ProgressEvent{
		Status:    StatusFetchingInfo,
		Progress:  15,
		SubStatus: "Synchronizing with Global Registry...",
		Details:   "UPLINK: SYNCHRONIZING_METADATA_STREAM",
	})

	meta, err := s.deps.Metadata.FetchInitial(ctx, link.URL, sink)
	if err != nil {
		return nil, err
	}

	outcome, err := s.deps.Racer.Race(ctx, link.URL, meta, sink)
	if err != nil {
		return nil, err
	}
	if outcome == nil || outcome.Match == nil {
		return nil, ErrNoMatchFound
	}

	target := outcome.Match.ResolvedURL
	sink.Emit(ProgressEvent{Status: StatusFetchingInfo, Progress: 85, SubStatus: "Resolving Target Data..."})

	info := outcome.Match.Info
	if info == nil || len(info.Formats) == 0 {
		info, err = s.deps.Platform.Info(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to describe %s: %w", target, err)
		}
	}
	desc := s.deps.Platform.Describe(info)

	snap := meta.Snapshot()
	cover := snap.ImageURL
	if cover == "" {
		cover = desc.Thumbnail
	}
	duration := info.DurationSeconds()
	if duration == 0 {
		duration = float64(snap.DurationMs) / 1000
	}

	res := &Resolution{
		SourceURL:    link.URL,
		Service:      link.Service,
		Title:        snap.Title,
		Artist:       snap.Artist,
		Album:        snap.Album,
		Cover:        cover,
		Thumbnail:    cover,
		Duration:     duration,
		PreviewURL:   snap.PreviewURL,
		ISRC:         snap.ISRC,
		Year:         snap.Year,
		TargetURL:    target,
		IsExactMatch: outcome.IsExactMatch,
		Formats:      desc.Formats,
		AudioFormats: desc.AudioFormats,
		Metadata:     &snap,
	}

	s.logger.Info("Track resolved",
		zap.String("url", link.URL),
		zap.String("target", target),
		zap.String("winner", outcome.Type.String()),
		zap.Bool("exact", outcome.IsExactMatch),
		zap.Int64("driftMs", outcome.Match.DriftMs))

	if outcome.IsExactMatch {
		s.persist(ctx, key, res)
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Put(key, res)
	}
	return res, nil
}

// fromBrain returns the stored resolution for key. Records without formats are treated as misses.
func (s *Service) fromBrain(ctx context.Context, key string, link text.Link, sink ProgressSink) *Resolution {
	if s.deps.Brain == nil {
		return nil
	}

	record, err := s.deps.Brain.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Brain lookup failed", zap.String("url", key), zap.Error(err))
		return nil
	}
	hit := record != nil && len(record.Formats) > 0
	s.metrics.cacheLookup(TierBrain, hit)
	if !hit {
		return nil
	}

	s.logger.Info("Brain hit", zap.String("url", key), zap.String("title", record.Title))

	meta := record.Metadata()
	if meta.ImageURL == "" {
		meta.ImageURL = FallbackCover
	}
	details := "REGISTRY_HIT: LOCAL_CACHE"
	if record.ISRC != "" {
		details = "REGISTRY_HIT: " + record.ISRC
	}
	update := meta
	sink.Emit(ProgressEvent{
		Status:         StatusFetchingInfo,
		Progress:       95,
		SubStatus:      "Synchronizing with Global Registry...",
		Details:        details,
		MetadataUpdate: &update,
	})

	if s.deps.Previews != nil {
		if preview := s.deps.Previews.Refresh(ctx, link.URL, meta); preview != "" {
			meta.PreviewURL = preview
		}
	}

	if record.ImageURL == "" || record.ImageURL == FallbackCover {
		s.heal(ctx, record, sink)
	}

	return &Resolution{
		SourceURL:    link.URL,
		Service:      link.Service,
		Title:        meta.Title,
		Artist:       meta.Artist,
		Album:        meta.Album,
		Cover:        meta.ImageURL,
		Thumbnail:    meta.ImageURL,
		Duration:     float64(meta.DurationMs) / 1000,
		PreviewURL:   meta.PreviewURL,
		ISRC:         meta.ISRC,
		Year:         meta.Year,
		TargetURL:    record.ResolvedURL,
		IsExactMatch: true,
		CacheTier:    TierBrain,
		Formats:      record.Formats,
		AudioFormats: record.AudioFormats,
		Metadata:     &meta,
	}
}

// heal replaces a missing image with the platform thumbnail in the background.
func (s *Service) heal(ctx context.Context, record *CacheRecord, sink ProgressSink) {
	if record.ResolvedURL == "" {
		return
	}
	s.logger.Info("Healing missing image", zap.String("url", record.SourceURL), zap.String("title", record.Title))

	healed := *record
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healTimeout)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()

		info, err := s.deps.Platform.Info(ctx, healed.ResolvedURL)
		if err != nil {
			s.logger.Warn("Healing failed", zap.String("url", healed.SourceURL), zap.Error(err))
			return
		}
		thumb := s.deps.Platform.Describe(info).Thumbnail
		if thumb == "" {
			return
		}

		healed.ImageURL = thumb
		sink.Emit(ProgressEvent{
			Status: StatusFetchingInfo,
			MetadataUpdate: &TrackMetadata{
				Title:    healed.Title,
				Artist:   healed.Artist,
				ImageURL: thumb,
			},
		})
		if err := s.deps.Brain.Put(ctx, &healed); err != nil {
			s.logger.Warn("Failed to save healed record", zap.String("url", healed.SourceURL), zap.Error(err))
		}
	}()
}

func (s *Service) persist(ctx context.Context, key string, res *Resolution) {
	if s.deps.Brain == nil {
		return
	}
	record := &CacheRecord{
		SourceURL:    key,
		Title:        res.Title,
		Artist:       res.Artist,
		Album:        res.Album,
		ImageURL:     res.Cover,
		DurationMs:   int64(res.Duration * 1000),
		ISRC:         res.ISRC,
		PreviewURL:   res.PreviewURL,
		ResolvedURL:  res.TargetURL,
		Year:         res.Year,
		Formats:      res.Formats,
		AudioFormats: res.AudioFormats,
		Timestamp:    time.Now(),
	}
	if res.Metadata != nil && res.Metadata.DurationMs > 0 {
		record.DurationMs = res.Metadata.DurationMs
	}
	if err := s.deps.Brain.Put(ctx, record); err != nil {
		s.logger.Warn("Failed to save to brain", zap.String("url", key), zap.Error(err))
	}
}

// Deliver starts streaming req. The target is resolved first when the caller did not pass one.
func (s *Service) Deliver(ctx context.Context, req DeliveryRequest, sink ProgressSink) (*Delivery, error) {
	sink = SinkOrNop(sink)

	link, err := s.parseLink(s.expand(ctx, req.SourceURL))
	if err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = "mp4"
	}

	switch {
	case req.TargetURL != "":
		if !text.IsSupported(req.TargetURL) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, req.TargetURL)
		}
	case link.IsMusicSource():
		res, err := s.Resolve(ctx, link.URL, sink)
		if err != nil {
			return nil, err
		}
		req.TargetURL = res.TargetURL
		if req.Title == "" {
			req.Title = res.Title
		}
		if req.Artist == "" {
			req.Artist = res.Artist
		}
	default:
		req.TargetURL = link.URL
	}
	req.SourceURL = link.URL

	stream, err := s.deps.Delivery.Stream(ctx, req, sink)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			sink.Emit(ProgressEvent{Status: StatusError, Message: "Stream failed to initialize"})
		}
		return nil, err
	}

	return &Delivery{
		Stream:   stream,
		Filename: SanitizeFilename(req.Title, req.Artist, req.Format, link.IsMusicSource()),
		MIME:     MIMEType(req.Format),
	}, nil
}

// SeedTargets lists the track links a seeding run for rawURL would process.
func (s *Service) SeedTargets(ctx context.Context, rawURL string) ([]string, error) {
	link, err := s.parseLink(s.expand(ctx, rawURL))
	if err != nil {
		return nil, err
	}

	switch link.Kind {
	case text.KindSpotifyTrack:
		return []string{link.URL}, nil
	case text.KindSpotifyCollection:
		if s.deps.Tracks == nil {
			return nil, errors.New("track listing is not configured")
		}
		urls, err := s.deps.Tracks.ListTrackURLs(ctx, link.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to list tracks: %w", err)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("no tracks found in %s", link.URL)
		}
		return urls, nil
	}
	return nil, fmt.Errorf("%w: only Spotify links can be seeded: %s", ErrUnsupportedSource, link.URL)
}

// SeedTracks resolves every track one at a time, pausing between tracks, and stores the exact
// matches the brain did not know yet.
func (s *Service) SeedTracks(ctx context.Context, urls []string, sink ProgressSink) SeedReport {
	sink = SinkOrNop(sink)
	report := SeedReport{Total: len(urls)}
	s.logger.Info("Seeding started", zap.Int("tracks", len(urls)))

	for i, trackURL := range urls {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := s.sleep(ctx, s.config.App.SeedPause); err != nil {
				break
			}
		}

		sink.Emit(ProgressEvent{
			Status:    StatusSeeding,
			Progress:  i * 100 / len(urls),
			SubStatus: fmt.Sprintf("Scanning: %s", trackURL),
			Details:   fmt.Sprintf("SEEDER: %d/%d", i+1, len(urls)),
		})

		res, err := s.Resolve(ctx, trackURL, nil)
		switch {
		case err != nil:
			report.Failed++
			s.metrics.seeded("failed")
			s.logger.Warn("Seeding track failed", zap.String("url", trackURL), zap.Error(err))
		case res.CacheTier == TierBrain:
			report.Skipped++
			s.metrics.seeded("known")
			s.logger.Info("Seeding skipped track", zap.String("title", res.Title), zap.String("reason", "already in brain"))
		case !res.IsExactMatch:
			report.Skipped++
			s.metrics.seeded("inexact")
			s.logger.Info("Seeding skipped track", zap.String("title", res.Title), zap.String("reason", "no exact match"))
		default:
			report.Added++
			s.metrics.seeded("added")
			sink.Emit(ProgressEvent{
				Status:    StatusSeeding,
				Progress:  (i + 1) * 100 / len(urls),
				SubStatus: fmt.Sprintf("Locked: %q by %s", res.Title, res.Artist),
				Details:   "SEEDER: LOCKED_INTO_MEMORY",
			})
		}
	}

	s.logger.Info("Seeding completed",
		zap.Int("added", report.Added),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report
}

// Seed lists and processes the tracks of rawURL.
func (s *Service) Seed(ctx context.Context, rawURL string, sink ProgressSink) (SeedReport, error) {
	urls, err := s.SeedTargets(ctx, rawURL)
	if err != nil {
		return SeedReport{}, err
	}
	return s.SeedTracks(ctx, urls, sink), nil
}

// Wait blocks until background healing passes finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// SanitizeFilename builds the attachment name. Music sources are named "Artist — Title".
func SanitizeFilename(title, artist, format string, music bool) string {
	if title == "" {
		title = "video"
	}
	display := title
	if music && artist != "" {
		display = artist + filenameSeparator + title
	}
	name := strings.TrimSpace(unsafeFilenameChars.ReplaceAllString(display, ""))
	if name == "" {
		name = "video"
	}
	if format == "" {
		format = "mp4"
	}
	return name + "." + format
}

// MIMEType returns the content type for an output format.
func MIMEType(format string) string {
	if t, ok := mimeTypes[format]; ok {
		return t
	}
	return "application/octet-stream"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
