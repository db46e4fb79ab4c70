// Package delivery turns a resolved media page into a byte stream by driving yt-dlp and ffmpeg.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"nexstream/internal/core"
)

// Source describes media pages and builds yt-dlp stream processes.
type Source interface {
	Info(ctx context.Context, url string) (*core.ProviderInfo, error)
	StreamCommand(ctx context.Context, targetURL, format string) *exec.Cmd
	CookieHeader(url string) string
}

// Limiter bounds concurrently running processes.
type Limiter interface {
	Acquire(ctx context.Context, weight int64) error
	Release(weight int64)
	Capacity() int64
}

// CommandFunc builds an external process.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Pipeline starts delivery process topologies.
type Pipeline struct {
	config  *core.DeliveryConfig
	logger  *zap.Logger
	limiter Limiter
	source  Source
	metrics *Metrics
	command CommandFunc
}

// NewPipeline creates a pipeline. metrics may be nil.
func NewPipeline(config *core.DeliveryConfig, logger *zap.Logger, limiter Limiter, source Source, metrics *Metrics) *Pipeline {
	return &Pipeline{
		config:  config,
		logger:  logger,
		limiter: limiter,
		source:  source,
		metrics: metrics,
		command: exec.CommandContext,
	}
}

// plan is a process topology ready to start. The last process writes the output.
type plan struct {
	strategy Strategy
	procs    []*exec.Cmd
	// ffmpeg is the process that reports progress on fd 3, if any.
	ffmpeg *exec.Cmd
	// piped connects procs[0] stdout to procs[1] stdin.
	piped bool
}

// Stream starts delivering req. Errors before the processes start are returned directly; later
// failures surface from Read.
func (p *Pipeline) Stream(ctx context.Context, req core.DeliveryRequest, sink core.ProgressSink) (core.MediaStream, error) {
	sink = core.SinkOrNop(sink)
	if req.TargetURL == "" {
		return nil, errors.New("no target URL")
	}
	if req.Format == "" {
		req.Format = "mp4"
	}

	if req.Format == "mp3" {
		sink.Emit(core.ProgressEvent{
			Status:    core.StatusInitializing,
			Progress:  5,
			SubStatus: "Lightning Engine Active: Starting Stream...",
			Details:   "HYBRID_ENGINE: INSTANT_MP3_DISPATCH",
		})
	} else {
		sink.Emit(core.ProgressEvent{
			Status:    core.StatusInitializing,
			Progress:  5,
			SubStatus: "Analyzing Stream Extensions...",
			Details:   "MUXER: PREPARING_VIRTUAL_CONTAINER",
		})
	}

	streamCtx, cancel := context.WithCancel(ctx)

	pl, err := p.plan(streamCtx, req)
	if err != nil {
		cancel()
		p.metrics.observeDelivery("", "setup_error")
		return nil, err
	}

	logger := p.logger.With(zap.String("strategy", string(pl.strategy)), zap.String("target", req.TargetURL))
	logger.Info("Starting delivery", zap.String("format", req.Format), zap.String("formatId", req.FormatID))

	res, err := p.start(ctx, streamCtx, cancel, pl, sink, logger)
	if err != nil {
		cancel()
		p.metrics.observeDelivery(string(pl.strategy), "start_error")
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) plan(ctx context.Context, req core.DeliveryRequest) (*plan, error) {
	audio := IsAudioRequest(req.Format, req.FormatID)
	info := req.Info
	if info == nil && (req.Format == "mp3" || !audio) {
		var err error
		info, err = p.source.Info(ctx, req.TargetURL)
		if err != nil {
			return nil, fmt.Errorf("failed to describe target: %w", err)
		}
	}

	var video *core.RawFormat
	if !audio {
		video = pickVideoFormat(info, req.FormatID)
		if video == nil {
			return nil, errors.New("no direct video URL available for streaming")
		}
	}

	strategy := selectStrategy(req, video, p.config.DoublePipeDomains)
	cookies := p.source.CookieHeader(req.TargetURL)
	ffmpegPath := p.config.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	switch strategy {
	case StrategyAudioTranscode:
		a := pickAudioFormat(info, req.FormatID)
		if a == nil {
			return nil, errors.New("no audio URL available")
		}
		in := input{url: a.URL, referer: referer(info, a), cookies: cookies}
		cmd := p.command(ctx, ffmpegPath, mp3Args(in, p.config.MP3Bitrate)...)
		return &plan{strategy: strategy, procs: []*exec.Cmd{cmd}, ffmpeg: cmd}, nil

	case StrategyAudioDirect:
		selector := req.FormatID
		if selector == "" {
			selector = defaultAudioSelector
		}
		cmd := p.source.StreamCommand(ctx, WithRateBypass(req.TargetURL), selector)
		return &plan{strategy: strategy, procs: []*exec.Cmd{cmd}}, nil

	case StrategyDoublePipe:
		container := outputContainer(req.Format, video)
		upstream := p.source.StreamCommand(ctx, WithRateBypass(req.TargetURL), cleanFormatID(video.FormatID))
		ffmpeg := p.command(ctx, ffmpegPath, doublePipeArgs(container, isAAC(video.ACodec))...)
		return &plan{strategy: strategy, procs: []*exec.Cmd{upstream, ffmpeg}, ffmpeg: ffmpeg, piped: true}, nil
	}

	container := outputContainer(req.Format, video)
	videoIn := input{url: video.URL, referer: referer(info, video), cookies: cookies}

	var audioIn *input
	aac := false
	if video.HasAudio() {
		aac = isAAC(video.ACodec)
	} else if a := bestSeparateAudio(info, container == "webm"); a != nil {
		audioIn = &input{url: a.URL, referer: referer(info, a), cookies: cookies}
		aac = isAAC(a.ACodec)
	}

	cmd := p.command(ctx, ffmpegPath, muxArgs(videoIn, audioIn, video.HasAudio(), container, aac)...)
	return &plan{strategy: StrategyDualMux, procs: []*exec.Cmd{cmd}, ffmpeg: cmd}, nil
}

func (p *Pipeline) start(
	ctx context.Context,
	streamCtx context.Context,
	cancel context.CancelFunc,
	pl *plan,
	sink core.ProgressSink,
	logger *zap.Logger,
) (*Result, error) {
	// One unit per process, capped so a piped topology still runs on a single-slot limiter.
	weight := min(int64(len(pl.procs)), p.limiter.Capacity())
	if err := p.limiter.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("failed to acquire process slot: %w", err)
	}

	res := &Result{
		procs:    pl.procs,
		cancel:   cancel,
		strategy: pl.strategy,
		done:     make(chan struct{}),
	}

	// Parent copies of child-side descriptors, closed once the children own them.
	var childEnds []*os.File
	closeChildEnds := func() {
		for _, f := range childEnds {
			_ = f.Close()
		}
		childEnds = nil
	}
	var progressRead *os.File

	fail := func(err error) (*Result, error) {
		closeChildEnds()
		if progressRead != nil {
			_ = progressRead.Close()
		}
		res.Cancel()
		for _, cmd := range pl.procs {
			if cmd.Process != nil {
				_ = cmd.Wait()
			}
		}
		p.limiter.Release(weight)
		return nil, err
	}

	stderr := newTailBuffer(stderrTailSize)
	for _, cmd := range pl.procs {
		cmd.Stderr = stderr
	}

	final := pl.procs[len(pl.procs)-1]
	final.Stdout = nil
	stdout, err := final.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("creating stdout pipe: %w", err))
	}

	if pl.piped {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("creating process pipe: %w", err))
		}
		childEnds = append(childEnds, r, w)
		pl.procs[0].Stdout = w
		pl.procs[1].Stdin = r
	}

	if pl.ffmpeg != nil {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("creating progress pipe: %w", err))
		}
		progressRead = r
		childEnds = append(childEnds, w)
		pl.ffmpeg.ExtraFiles = []*os.File{w}
	}

	for _, cmd := range pl.procs {
		if err := cmd.Start(); err != nil {
			return fail(fmt.Errorf("starting %s: %w", cmd.Path, err))
		}
	}
	closeChildEnds()
	if progressRead != nil {
		res.progress.Add(1)
		go func() {
			defer res.progress.Done()
			res.readProgress(progressRead)
		}()
	}

	reader, writer := io.Pipe()
	res.reader = reader

	go func() {
		out := &countingWriter{w: writer, n: &res.bytes, onFirst: func() {
			sink.Emit(core.ProgressEvent{
				Status:    core.StatusDownloading,
				Progress:  100,
				SubStatus: "STREAM ESTABLISHED: Check Downloads",
			})
		}}
		_, copyErr := io.Copy(out, stdout)
		if copyErr != nil {
			// The reader went away; nothing downstream wants the rest.
			res.Cancel()
		}

		var runErr error
		for i := len(pl.procs) - 1; i >= 0; i-- {
			if err := pl.procs[i].Wait(); err != nil && runErr == nil {
				runErr = err
			}
		}
		p.limiter.Release(weight)
		res.progress.Wait()

		err := p.classify(streamCtx, runErr, copyErr, res.bytes.Load(), stderr.String(), sink)
		cancel()

		outcome := "ok"
		switch {
		case errors.Is(err, core.ErrStreamInterrupted):
			outcome = "interrupted"
		case errors.Is(err, context.Canceled):
			outcome = "cancelled"
		case err != nil:
			outcome = "failed"
		}
		p.metrics.observeDelivery(string(pl.strategy), outcome)
		p.metrics.addBytes(res.bytes.Load())
		logger.Info("Delivery finished",
			zap.String("outcome", outcome),
			zap.Int64("bytes", res.bytes.Load()),
			zap.Duration("position", res.Position()),
			zap.Error(err))

		res.err = err
		close(res.done)
		writer.CloseWithError(err)
	}()

	return res, nil
}

func (p *Pipeline) classify(
	ctx context.Context,
	runErr error,
	copyErr error,
	sent int64,
	stderr string,
	sink core.ProgressSink,
) error {
	switch {
	case runErr == nil && copyErr == nil:
		return nil
	case ctx.Err() != nil || copyErr != nil:
		return fmt.Errorf("delivery cancelled: %w", context.Canceled)
	case sent > 0:
		sink.Emit(core.ProgressEvent{Status: core.StatusError, Message: "Stream interrupted"})
		return fmt.Errorf("%w: %v", core.ErrStreamInterrupted, runErr)
	}
	if stderr != "" {
		return fmt.Errorf("stream failed to initialize: %w: %s", runErr, stderr)
	}
	return fmt.Errorf("stream failed to initialize: %w", runErr)
}

// referer returns the referer a format's host expects.
func referer(info *core.ProviderInfo, f *core.RawFormat) string {
	if f != nil {
		if r := f.HTTPHeaders["Referer"]; r != "" {
			return r
		}
	}
	if info != nil {
		return info.WebpageURL
	}
	return ""
}
