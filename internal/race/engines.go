package race

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/pkg/fuzzy"
)

// Engines are the collaborators candidates call into. Nil engines disable the candidates that
// need them.
type Engines struct {
	Searcher   core.PlatformSearcher
	Inspector  core.PlatformInspector
	ISRC       core.ISRCFinder
	Aggregator core.LinkAggregator
	Semantic   core.SemanticQueryGenerator
}

type runFunc func(ctx context.Context) (*core.MatchResult, error)

type candidate struct {
	typ      core.CandidateType
	priority int
	stagger  time.Duration
	run      runFunc
}

// candidates builds the engines that take part in a race for sourceURL. The heuristic
// candidate is left out when the metadata has no usable artist.
func (r *Resolver) candidates(sourceURL string, meta *core.Metadata, sink core.ProgressSink) []candidate {
	var list []candidate

	if r.engines.Searcher != nil {
		list = append(list, candidate{
			typ:      core.CandidateExactID,
			priority: 0,
			run: func(ctx context.Context) (*core.MatchResult, error) {
				return r.runExactID(ctx, meta, sink)
			},
		})
	}

	if r.engines.Aggregator != nil && r.engines.Inspector != nil && sourceURL != "" {
		list = append(list, candidate{
			typ:      core.CandidateLinkAggregate,
			priority: 1,
			stagger:  r.config.LinkAggregateStagger,
			run: func(ctx context.Context) (*core.MatchResult, error) {
				return r.runLinkAggregate(ctx, sourceURL, meta, sink)
			},
		})
	}

	if r.engines.Semantic != nil && r.engines.Searcher != nil {
		list = append(list, candidate{
			typ:      core.CandidateSemantic,
			priority: 2,
			stagger:  r.config.SemanticStagger,
			run: func(ctx context.Context) (*core.MatchResult, error) {
				return r.runSemantic(ctx, meta, sink)
			},
		})
	}

	snap := meta.Snapshot()
	if query := fuzzy.HeuristicQuery(snap.Title, snap.Artist); query != "" && r.engines.Searcher != nil {
		list = append(list, candidate{
			typ:      core.CandidateHeuristic,
			priority: 2,
			stagger:  r.config.HeuristicStagger,
			run: func(ctx context.Context) (*core.MatchResult, error) {
				return r.runHeuristic(ctx, query, meta, sink)
			},
		})
	}

	return list
}

func (r *Resolver) runExactID(ctx context.Context, meta *core.Metadata, sink core.ProgressSink) (*core.MatchResult, error) {
	snap := meta.Snapshot()
	isrc := snap.ISRC

	if (isrc == "" || snap.PreviewURL == "") && r.engines.ISRC != nil {
		found, preview, err := r.engines.ISRC.FindISRC(ctx, snap)
		if err != nil {
			r.logger.Debug("ISRC backfill failed", zap.Error(err))
		}
		if preview != "" && snap.PreviewURL == "" && meta.Merge(core.TrackMetadata{PreviewURL: preview}) {
			sink.Emit(core.ProgressEvent{
				Status:         core.StatusFetchingInfo,
				Progress:       25,
				MetadataUpdate: &core.TrackMetadata{PreviewURL: preview},
			})
		}
		if isrc == "" && found != "" {
			isrc = found
			meta.Merge(core.TrackMetadata{ISRC: isrc})
		}
	}

	if isrc == "" || ctx.Err() != nil {
		return nil, nil
	}

	sink.Emit(core.ProgressEvent{
		Status:   core.StatusFetchingInfo,
		Progress: 40,
		Details:  "ISRC_IDENTIFIED: " + isrc,
	})

	return r.engines.Searcher.Search(ctx, `"`+isrc+`"`, snap.DurationMs, core.SearchOptions{SkipPlayerArgs: true})
}

func (r *Resolver) runLinkAggregate(
	ctx context.Context,
	sourceURL string,
	meta *core.Metadata,
	sink core.ProgressSink,
) (*core.MatchResult, error) {
	link, err := r.engines.Aggregator.Lookup(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if link == nil || link.URL == "" {
		return nil, nil
	}

	snap := meta.Snapshot()
	cover := snap.ImageURL
	if cover == "" {
		cover = link.Thumbnail
	}
	sink.Emit(core.ProgressEvent{
		Status:   core.StatusFetchingInfo,
		Progress: 30,
		Details:  "LINKER: CONSULTING_LINK_AGGREGATOR",
		MetadataUpdate: &core.TrackMetadata{
			Title:    snap.Title,
			Artist:   snap.Artist,
			ImageURL: cover,
		},
	})

	info, err := r.engines.Inspector.Info(ctx, link.URL)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.New("empty page description")
	}

	return &core.MatchResult{
		ResolvedURL: link.URL,
		Info:        info,
		DriftMs:     fuzzy.DriftMs(snap.DurationMs, info.Duration),
	}, nil
}

func (r *Resolver) runSemantic(ctx context.Context, meta *core.Metadata, sink core.ProgressSink) (*core.MatchResult, error) {
	snap := meta.Snapshot()
	query, err := r.engines.Semantic.GenerateQuery(ctx, snap)
	if err != nil {
		return nil, err
	}
	if query == "" || ctx.Err() != nil {
		return nil, nil
	}

	sink.Emit(core.ProgressEvent{
		Status:   core.StatusFetchingInfo,
		Progress: 50,
		Details:  "SEMANTIC_ENGINE: SYNTHESIZING_SEARCH_VECTORS",
	})
	return r.engines.Searcher.Search(ctx, query, snap.DurationMs, core.SearchOptions{})
}

func (r *Resolver) runHeuristic(
	ctx context.Context,
	query string,
	meta *core.Metadata,
	sink core.ProgressSink,
) (*core.MatchResult, error) {
	res, err := r.engines.Searcher.Search(ctx, query, meta.Snapshot().DurationMs, core.SearchOptions{})
	if err != nil {
		return nil, err
	}
	if res != nil {
		sink.Emit(core.ProgressEvent{
			Status:   core.StatusFetchingInfo,
			Progress: 55,
			Details:  "ENGINE: BROAD_SPECTRUM_MATCH",
		})
	}
	return res, nil
}
