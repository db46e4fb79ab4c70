// Package metadata gathers track metadata for music links from several catalogue providers.
package metadata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/pkg/musiclink"
)

const (
	// DefaultBackgroundTimeout bounds providers and side tasks that outlive FetchInitial.
	DefaultBackgroundTimeout = 20 * time.Second

	progressFetching = 10
	progressLocked   = 20
)

// CoverSource returns a higher resolution cover for a track link.
type CoverSource interface {
	CoverURL(ctx context.Context, url string) (string, error)
}

// PreviewSource returns a preview clip URL for a track link.
type PreviewSource interface {
	PreviewURL(ctx context.Context, url string) (string, error)
}

// YearSource returns the release year of a recording.
type YearSource interface {
	ReleaseYear(ctx context.Context, isrc string) (string, error)
}

// Extras are the optional side tasks run after the metadata lock.
type Extras struct {
	Covers   CoverSource
	Previews PreviewSource
	Years    YearSource
}

// Aggregator races the primary providers that accept a link and merges the late answers.
type Aggregator struct {
	logger            *zap.Logger
	providers         *musiclink.Manager
	extras            Extras
	backgroundTimeout time.Duration

	wg sync.WaitGroup
}

// NewAggregator creates an aggregator over providers, in no particular order.
func NewAggregator(logger *zap.Logger, providers []musiclink.Resolver, extras Extras) *Aggregator {
	return &Aggregator{
		logger:            logger,
		providers:         musiclink.NewManager(providers...),
		extras:            extras,
		backgroundTimeout: DefaultBackgroundTimeout,
	}
}

// SetBackgroundTimeout changes how long late providers and side tasks may run.
func (a *Aggregator) SetBackgroundTimeout(d time.Duration) {
	a.backgroundTimeout = d
}

type providerResult struct {
	name string
	info *musiclink.TrackInfo
	err  error
}

// FetchInitial returns as soon as one provider produced metadata. The returned accumulator keeps
// improving in the background and every improvement is emitted to sink.
func (a *Aggregator) FetchInitial(ctx context.Context, sourceURL string, sink core.ProgressSink) (*core.Metadata, error) {
	sink = core.SinkOrNop(sink)

	providers := a.providers.ResolversFor(sourceURL)
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no provider accepts %s", core.ErrMetadataUnavailable, sourceURL)
	}

	sink.Emit(core.ProgressEvent{
		Status:    core.StatusFetchingInfo,
		Progress:  progressFetching,
		SubStatus: "Fetching metadata...",
	})

	// Late providers keep running after we return.
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.backgroundTimeout)
	results := make(chan providerResult, len(providers))
	for _, p := range providers {
		go func(p musiclink.Resolver) {
			info, err := p.Resolve(bgCtx, sourceURL)
			results <- providerResult{name: p.Name(), info: info, err: err}
		}(p)
	}

	pending := len(providers)
	for pending > 0 {
		select {
		case <-ctx.Done():
			a.drain(bgCtx, cancel, results, pending, nil, sourceURL, sink)
			return nil, ctx.Err()
		case res := <-results:
			pending--
			if res.err != nil || res.info == nil || res.info.Title == "" {
				a.logger.Debug("Metadata provider failed",
					zap.String("provider", res.name),
					zap.String("url", sourceURL),
					zap.Error(res.err))
				continue
			}

			meta := core.NewMetadata(toTrackMetadata(res.info))
			a.logger.Info("Metadata locked",
				zap.String("provider", res.name),
				zap.String("title", res.info.Title),
				zap.String("artist", res.info.Artist))

			snapshot := meta.Snapshot()
			sink.Emit(core.ProgressEvent{
				Status:         core.StatusFetchingInfo,
				Progress:       progressLocked,
				SubStatus:      "Metadata locked.",
				Details:        fmt.Sprintf("Source: %s", res.name),
				MetadataUpdate: &snapshot,
			})

			a.drain(bgCtx, cancel, results, pending, meta, sourceURL, sink)
			return meta, nil
		}
	}

	cancel()
	return nil, fmt.Errorf("%w: every provider failed for %s", core.ErrMetadataUnavailable, sourceURL)
}

// drain merges the remaining provider answers into meta and then runs the side tasks. A nil meta
// only waits for the providers to finish.
func (a *Aggregator) drain(
	ctx context.Context,
	cancel context.CancelFunc,
	results <-chan providerResult,
	pending int,
	meta *core.Metadata,
	sourceURL string,
	sink core.ProgressSink,
) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()

		for ; pending > 0; pending-- {
			res := <-results
			if meta == nil || res.err != nil || res.info == nil {
				continue
			}
			if meta.Merge(toTrackMetadata(res.info)) {
				a.emitUpdate(meta, sink, "Metadata refined from "+res.name)
			}
		}

		if meta != nil {
			a.runExtras(ctx, meta, sourceURL, sink)
		}
	}()
}

func (a *Aggregator) runExtras(ctx context.Context, meta *core.Metadata, sourceURL string, sink core.ProgressSink) {
	if a.extras.Covers != nil {
		if cover, err := a.extras.Covers.CoverURL(ctx, sourceURL); err == nil && cover != "" {
			current := meta.Snapshot().ImageURL
			if cover != current {
				meta.Update(func(m *core.TrackMetadata) { m.ImageURL = cover })
				a.emitUpdate(meta, sink, "Cover upgraded")
			}
		} else if err != nil {
			a.logger.Debug("Cover upgrade failed", zap.String("url", sourceURL), zap.Error(err))
		}
	}

	if a.extras.Previews != nil && meta.Snapshot().PreviewURL == "" {
		if preview, err := a.extras.Previews.PreviewURL(ctx, sourceURL); err == nil &&
			meta.Merge(core.TrackMetadata{PreviewURL: preview}) {
			a.emitUpdate(meta, sink, "Preview found")
		}
	}

	if snap := meta.Snapshot(); a.extras.Years != nil && snap.Year == "" && snap.ISRC != "" {
		if year, err := a.extras.Years.ReleaseYear(ctx, snap.ISRC); err == nil &&
			meta.Merge(core.TrackMetadata{Year: year}) {
			a.emitUpdate(meta, sink, "Release year found")
		}
	}
}

func (a *Aggregator) emitUpdate(meta *core.Metadata, sink core.ProgressSink, details string) {
	snapshot := meta.Snapshot()
	sink.Emit(core.ProgressEvent{
		Status:         core.StatusFetchingInfo,
		Details:        details,
		MetadataUpdate: &snapshot,
	})
}

// Wait blocks until every background merge and side task has finished.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

func toTrackMetadata(info *musiclink.TrackInfo) core.TrackMetadata {
	return core.TrackMetadata{
		Title:      info.Title,
		Artist:     info.Artist,
		Album:      info.Album,
		DurationMs: info.DurationMs,
		ISRC:       info.ISRC,
		PreviewURL: info.PreviewURL,
		ImageURL:   info.ImageURL,
		Year:       info.Year,
		Source:     info.Provider,
	}
}
