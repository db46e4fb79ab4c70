package metadata

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/pkg/fuzzy"
	"nexstream/pkg/musiclink"
)

// ISRCFinder looks the recording up in catalogues that expose ISRCs, in order.
type ISRCFinder struct {
	logger     *zap.Logger
	searchers  []musiclink.Searcher
	normalizer *fuzzy.Normalizer
}

// NewISRCFinder creates a finder over searchers, tried in order.
func NewISRCFinder(logger *zap.Logger, searchers ...musiclink.Searcher) *ISRCFinder {
	return &ISRCFinder{logger: logger, searchers: searchers, normalizer: fuzzy.NewNormalizer()}
}

// FindISRC returns the ISRC and a preview URL for meta. A known ISRC is confirmed rather than
// replaced.
func (f *ISRCFinder) FindISRC(ctx context.Context, meta core.TrackMetadata) (isrc, previewURL string, err error) {
	for _, s := range f.searchers {
		match, err := s.Search(ctx, meta.Title, meta.Artist, meta.ISRC, meta.DurationMs)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			f.logger.Debug("ISRC search failed",
				zap.String("provider", s.Name()),
				zap.String("title", meta.Title),
				zap.Error(err))
			continue
		}
		if match.ISRC == "" && meta.ISRC == "" {
			continue
		}
		// Title searches can return a cover or a different song by the same artist.
		if meta.ISRC == "" && match.Title != "" &&
			!f.normalizer.SameTrack(meta.Title, meta.Artist, match.Title, match.Artist) {
			f.logger.Debug("Discarding ISRC search hit for a different recording",
				zap.String("provider", s.Name()),
				zap.String("want", meta.Title),
				zap.String("got", match.Title))
			continue
		}

		isrc = match.ISRC
		if isrc == "" {
			isrc = meta.ISRC
		}
		f.logger.Debug("ISRC found",
			zap.String("provider", s.Name()),
			zap.String("isrc", isrc))
		return isrc, match.PreviewURL, nil
	}
	return "", "", musiclink.ErrNotFound
}

// PreviewRefresher finds a current preview URL. Preview URLs are signed and expire, so stored
// records need a fresh one.
type PreviewRefresher struct {
	logger    *zap.Logger
	embed     PreviewSource
	searchers []musiclink.Searcher
}

// NewPreviewRefresher creates a refresher that asks embed first and then searchers in order.
// embed may be nil.
func NewPreviewRefresher(logger *zap.Logger, embed PreviewSource, searchers ...musiclink.Searcher) *PreviewRefresher {
	return &PreviewRefresher{logger: logger, embed: embed, searchers: searchers}
}

// Refresh returns a preview URL for the track, or "" when none of the sources has one.
func (r *PreviewRefresher) Refresh(ctx context.Context, sourceURL string, meta core.TrackMetadata) string {
	if r.embed != nil {
		if preview, err := r.embed.PreviewURL(ctx, sourceURL); err == nil && preview != "" {
			return preview
		}
	}

	for _, s := range r.searchers {
		match, err := s.Search(ctx, meta.Title, meta.Artist, meta.ISRC, meta.DurationMs)
		if err != nil {
			if !errors.Is(err, musiclink.ErrNotFound) {
				r.logger.Debug("Preview refresh failed", zap.String("provider", s.Name()), zap.Error(err))
			}
			continue
		}
		if match.PreviewURL != "" {
			return match.PreviewURL
		}
	}
	return ""
}

// LinkAggregator adapts the Odesli client to the race's cross-platform lookup.
type LinkAggregator struct {
	client *musiclink.OdesliClient
}

// NewLinkAggregator wraps client.
func NewLinkAggregator(client *musiclink.OdesliClient) *LinkAggregator {
	return &LinkAggregator{client: client}
}

// Lookup returns the YouTube equivalent of sourceURL.
func (l *LinkAggregator) Lookup(ctx context.Context, sourceURL string) (*core.AggregateLink, error) {
	link, err := l.client.YouTubeLink(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return &core.AggregateLink{URL: link.URL, Thumbnail: link.ThumbnailURL}, nil
}
