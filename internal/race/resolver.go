// Package race resolves a music track to a playable platform URL by racing several search
// engines against each other.
package race

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"nexstream/internal/core"
)

// State is the lifecycle of a single race.
type State int

const (
	// StateRacing means no candidate has produced an acceptable result yet
	StateRacing State = iota
	// StateGraceWaiting means a best result is held while better ones may still arrive
	StateGraceWaiting
	// StateSettled means the outcome is final
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateRacing:
		return "racing"
	case StateGraceWaiting:
		return "grace_waiting"
	case StateSettled:
		return "settled"
	}
	return "unknown"
}

// Settlement reasons.
const (
	ReasonPerfect     = "perfect match"
	ReasonExact       = "exact id match"
	ReasonGrace       = "grace expired"
	ReasonAllFinished = "all finished"
	ReasonConsensus   = "consensus reached"
	ReasonNoMatch     = "no match"
	ReasonTimeout     = "timeout"
	ReasonCancelled   = "cancelled"
)

type candidateResult struct {
	typ      core.CandidateType
	priority int
	match    *core.MatchResult
	err      error
}

// better reports whether r should replace best: lower priority wins, then smaller drift.
func (r *candidateResult) better(best *candidateResult) bool {
	if best == nil {
		return true
	}
	if r.priority != best.priority {
		return r.priority < best.priority
	}
	return r.match.DriftMs < best.match.DriftMs
}

// Resolver runs candidate races.
type Resolver struct {
	config  core.RaceConfig
	engines Engines
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewResolver creates a resolver. metrics may be nil.
func NewResolver(config core.RaceConfig, engines Engines, logger *zap.Logger, metrics *Metrics) *Resolver {
	return &Resolver{
		config:  config,
		engines: engines,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("nexstream/race"),
	}
}

// Race starts every candidate and returns the settled outcome. It returns core.ErrNoMatchFound
// when every candidate finished without an acceptable result and core.ErrRaceTimeout when the
// ceiling elapsed first. Pending candidates are cancelled once the race settles.
func (r *Resolver) Race(ctx context.Context, sourceURL string, meta *core.Metadata, sink core.ProgressSink) (*core.RaceOutcome, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: no metadata", core.ErrMetadataUnavailable)
	}

	sink = core.SinkOrNop(sink)
	start := time.Now()

	var settled atomic.Bool
	guarded := core.SinkFunc(func(e core.ProgressEvent) {
		if !settled.Load() {
			sink.Emit(e)
		}
	})

	r.logger.Info("Starting race", zap.String("url", sourceURL))
	sink.Emit(core.ProgressEvent{
		Status:    core.StatusFetchingInfo,
		Progress:  25,
		SubStatus: "Staging Multi-Source Search...",
		Details:   "THREADS: ISRC_FIRST_STRATEGY_ACTIVE",
	})

	candidates := r.candidates(sourceURL, meta, guarded)
	if len(candidates) == 0 {
		r.finish(sink, ReasonNoMatch, nil, start)
		return nil, core.ErrNoMatchFound
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan candidateResult, len(candidates))
	exactRaw := make(chan *core.MatchResult, 1)
	hasExact := false
	for _, c := range candidates {
		if c.typ == core.CandidateExactID {
			hasExact = true
		}
		go r.runCandidate(raceCtx, c, results, exactRaw)
	}

	best, reason, err := r.settle(ctx, meta, candidates, hasExact, results, guarded)
	settled.Store(true)
	cancel()

	if err != nil {
		r.finish(sink, reason, nil, start)
		return nil, err
	}

	outcome := &core.RaceOutcome{
		Match:    best.match,
		Type:     best.typ,
		Priority: best.priority,
		Reason:   reason,
	}

	if hasExact && best.typ != core.CandidateExactID {
		// Engines that ignore cancellation get at most one exact grace window.
		wait := time.NewTimer(r.config.ExactGrace)
		select {
		case raw := <-exactRaw:
			if raw != nil && r.isPerfect(raw) {
				r.logger.Info("Exact id result arrived after settlement, switching",
					zap.String("previous", best.typ.String()),
					zap.Int64("driftMs", raw.DriftMs))
				outcome.Match = raw
				outcome.Type = core.CandidateExactID
				outcome.Priority = 0
			}
		case <-wait.C:
			r.logger.Debug("Exact id result did not arrive after settlement")
		case <-ctx.Done():
		}
		wait.Stop()
	}
	outcome.IsExactMatch = outcome.Type == core.CandidateExactID

	r.finish(sink, reason, outcome, start)
	return outcome, nil
}

// settle owns every piece of race state. It returns exactly once.
func (r *Resolver) settle(
	ctx context.Context,
	meta *core.Metadata,
	candidates []candidate,
	hasExact bool,
	results <-chan candidateResult,
	sink core.ProgressSink,
) (*candidateResult, string, error) {
	var (
		best      *candidateResult
		finished  int
		lastErr   bool
		exactOpen = hasExact
		state     = StateRacing
		grace     *time.Timer
		graceC    <-chan time.Time
	)

	ceiling := time.NewTimer(r.config.Ceiling)
	defer ceiling.Stop()
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	transition := func(next State) {
		if state != next {
			r.logger.Debug("Race state changed", zap.Stringer("from", state), zap.Stringer("to", next))
			state = next
		}
	}

	for {
		select {
		case res := <-results:
			finished++
			lastErr = res.err != nil
			if res.typ == core.CandidateExactID {
				exactOpen = false
			}

			if res.match != nil {
				snap := meta.Snapshot()
				sink.Emit(core.ProgressEvent{
					Status:         core.StatusFetchingInfo,
					Progress:       85,
					SubStatus:      "Mapping Authoritative Stream...",
					Details:        "PRE_SYNC: " + strings.ToUpper(res.typ.String()) + "_ENGINE_MATCH_FOUND",
					MetadataUpdate: &core.TrackMetadata{
						Title:    snap.Title,
						Artist:   snap.Artist,
						ImageURL: snap.ImageURL,
					},
				})

				perfect := r.isPerfect(res.match)
				if perfect {
					transition(StateSettled)
					return &res, ReasonPerfect, nil
				}
				if res.priority == 0 {
					transition(StateSettled)
					return &res, ReasonExact, nil
				}

				if res.better(best) {
					best = &res
					wait := r.graceFor(exactOpen, perfect, res.priority)
					if grace == nil {
						grace = time.NewTimer(wait)
					} else {
						grace.Stop()
						grace.Reset(wait)
					}
					graceC = grace.C
					transition(StateGraceWaiting)
				}
			}

			if finished == len(candidates) {
				transition(StateSettled)
				if best == nil {
					return nil, ReasonNoMatch, core.ErrNoMatchFound
				}
				if lastErr {
					return best, ReasonConsensus, nil
				}
				return best, ReasonAllFinished, nil
			}

		case <-graceC:
			transition(StateSettled)
			return best, ReasonGrace, nil

		case <-ceiling.C:
			transition(StateSettled)
			return nil, ReasonTimeout, core.ErrRaceTimeout

		case <-ctx.Done():
			transition(StateSettled)
			return nil, ReasonCancelled, ctx.Err()
		}
	}
}

// graceFor returns how long a new best result is held before settling.
func (r *Resolver) graceFor(exactOpen, perfect bool, priority int) time.Duration {
	switch {
	case exactOpen:
		return r.config.ExactGrace
	case perfect:
		return r.config.PerfectGrace
	case priority == 2:
		return r.config.SemanticGrace
	}
	return r.config.DefaultGrace
}

func (r *Resolver) isPerfect(m *core.MatchResult) bool {
	return time.Duration(m.DriftMs)*time.Millisecond < r.config.PerfectDrift
}

func (r *Resolver) tolerance(priority int) time.Duration {
	if priority <= 1 {
		return r.config.LooseTolerance
	}
	return r.config.StrictTolerance
}

// runCandidate waits out the stagger, runs c and reports exactly one result. Results drifting
// beyond the candidate's tolerance are reported as nil.
func (r *Resolver) runCandidate(ctx context.Context, c candidate, results chan<- candidateResult, exactRaw chan<- *core.MatchResult) {
	res := candidateResult{typ: c.typ, priority: c.priority}
	var raw *core.MatchResult
	defer func() {
		if c.typ == core.CandidateExactID {
			exactRaw <- raw
		}
		results <- res
	}()

	if c.stagger > 0 {
		timer := time.NewTimer(c.stagger)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	ctx, span := r.tracer.Start(ctx, "race.candidate",
		trace.WithAttributes(
			attribute.String("candidate.type", c.typ.String()),
			attribute.Int("candidate.priority", c.priority),
		))
	defer span.End()

	logger := r.logger.With(zap.Stringer("candidate", c.typ))

	match, err := c.run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Debug("Candidate failed", zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.metrics.observeCandidate(c.typ.String(), "error")
		res.err = err
		return
	}
	if match == nil {
		r.metrics.observeCandidate(c.typ.String(), "empty")
		return
	}

	raw = match
	span.SetAttributes(attribute.Int64("candidate.drift_ms", match.DriftMs))

	if limit := r.tolerance(c.priority); time.Duration(match.DriftMs)*time.Millisecond > limit {
		logger.Debug("Candidate rejected, drift too high",
			zap.Int64("driftMs", match.DriftMs),
			zap.Duration("tolerance", limit))
		r.metrics.observeCandidate(c.typ.String(), "rejected")
		return
	}

	r.metrics.observeCandidate(c.typ.String(), "match")
	res.match = match
}

func (r *Resolver) finish(sink core.ProgressSink, reason string, outcome *core.RaceOutcome, start time.Time) {
	elapsed := time.Since(start)
	winner := "none"
	fields := []zap.Field{zap.String("reason", reason), zap.Duration("elapsed", elapsed)}
	if outcome != nil {
		winner = outcome.Type.String()
		fields = append(fields,
			zap.String("winner", winner),
			zap.String("target", outcome.Match.ResolvedURL),
			zap.Int64("driftMs", outcome.Match.DriftMs))
	}

	r.logger.Info("Race settled: "+reason, fields...)
	r.metrics.observeSettlement(reason, winner, elapsed)

	first := strings.ToUpper(strings.SplitN(reason, " ", 2)[0])
	sink.Emit(core.ProgressEvent{
		Status:    core.StatusFetchingInfo,
		Progress:  80,
		SubStatus: "Race Completed.",
		Details:   "SETTLED: " + first,
	})
}
