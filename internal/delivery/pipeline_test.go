package delivery

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/internal/limiter"
)

type fakeSource struct {
	info    *core.ProviderInfo
	script  string
	cookies string

	mu      sync.Mutex
	formats []string
	targets []string
}

func (f *fakeSource) Info(context.Context, string) (*core.ProviderInfo, error) {
	if f.info == nil {
		return nil, errors.New("no info")
	}
	return f.info, nil
}

func (f *fakeSource) StreamCommand(ctx context.Context, targetURL, format string) *exec.Cmd {
	f.mu.Lock()
	f.formats = append(f.formats, format)
	f.targets = append(f.targets, targetURL)
	f.mu.Unlock()
	return exec.CommandContext(ctx, "sh", "-c", f.script)
}

func (f *fakeSource) CookieHeader(string) string { return f.cookies }

type recordingSink struct {
	mu     sync.Mutex
	events []core.ProgressEvent
}

func (s *recordingSink) Emit(e core.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) has(status string, progress int, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Status == status && e.Progress == progress && (message == "" || e.Message == message) {
			return true
		}
	}
	return false
}

// newTestPipeline replaces ffmpeg with a shell script and records its arguments.
func newTestPipeline(src *fakeSource, lim *limiter.Limiter, ffmpegScript string) (*Pipeline, *[]string) {
	config := core.DefaultConfig().Delivery
	p := NewPipeline(&config, zap.NewNop(), lim, src, nil)

	var args []string
	p.command = func(ctx context.Context, _ string, a ...string) *exec.Cmd {
		args = a
		return exec.CommandContext(ctx, "sh", "-c", ffmpegScript)
	}
	return p, &args
}

func waitDone(t *testing.T, s core.MediaStream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
}

func youtubeInfo() *core.ProviderInfo {
	return &core.ProviderInfo{
		WebpageURL: "https://www.youtube.com/watch?v=abc",
		Formats: []core.RawFormat{
			{FormatID: "140", URL: "https://media/140", ACodec: "mp4a.40.2", VCodec: "none", ABR: 129},
			{FormatID: "251", URL: "https://media/251", ACodec: "opus", VCodec: "none", ABR: 135},
			{FormatID: "137", URL: "https://media/137", VCodec: "avc1.640028", ACodec: "none", Height: 1080},
			{FormatID: "248", URL: "https://media/248", VCodec: "vp9", ACodec: "none", Height: 1080},
			{FormatID: "18", URL: "https://media/18", VCodec: "avc1.42001E", ACodec: "mp4a.40.2", Height: 360},
		},
	}
}

func TestStream_DirectAudio(t *testing.T) {
	src := &fakeSource{script: "printf hello"}
	lim := limiter.New(2)
	p, _ := newTestPipeline(src, lim, "")
	sink := &recordingSink{}

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.youtube.com/watch?v=abc",
		Format:    "m4a",
	}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want hello", data)
	}
	waitDone(t, stream)

	if stream.Strategy() != string(StrategyAudioDirect) {
		t.Errorf("Strategy() = %q", stream.Strategy())
	}
	if stream.Err() != nil || stream.BytesSent() != 5 {
		t.Errorf("Err() = %v, BytesSent() = %d", stream.Err(), stream.BytesSent())
	}
	if lim.Held() != 0 {
		t.Errorf("limiter still holds %d", lim.Held())
	}
	if !sink.has(core.StatusDownloading, 100, "") {
		t.Error("missing stream established event")
	}
	if src.formats[0] != defaultAudioSelector {
		t.Errorf("format selector = %q", src.formats[0])
	}
	if !strings.HasSuffix(src.targets[0], "&ratebypass=yes") {
		t.Errorf("target = %q, want ratebypass appended", src.targets[0])
	}
}

func TestStream_MP3TranscodeReportsProgress(t *testing.T) {
	src := &fakeSource{info: youtubeInfo(), cookies: "SID=1"}
	lim := limiter.New(2)
	p, args := newTestPipeline(src, lim, "echo out_time_us=1500000 >&3; printf mp3data")

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.youtube.com/watch?v=abc",
		Format:    "mp3",
	}, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil || string(data) != "mp3data" {
		t.Fatalf("ReadAll() = %q, %v", data, err)
	}
	waitDone(t, stream)

	if stream.Strategy() != string(StrategyAudioTranscode) {
		t.Errorf("Strategy() = %q", stream.Strategy())
	}
	res := stream.(*Result)
	if res.Position() != 1500*time.Millisecond {
		t.Errorf("Position() = %v, want 1.5s", res.Position())
	}

	joined := strings.Join(*args, " ")
	for _, want := range []string{"-i https://media/251", "-c:a libmp3lame", "-b:a 192k", "-cookies SID=1", "-progress pipe:3"} {
		if !strings.Contains(joined, want) {
			t.Errorf("ffmpeg args missing %q: %s", want, joined)
		}
	}
}

func TestStream_InterruptedAfterBytes(t *testing.T) {
	src := &fakeSource{script: "printf abc; exit 3"}
	lim := limiter.New(2)
	p, _ := newTestPipeline(src, lim, "")
	sink := &recordingSink{}

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.youtube.com/watch?v=abc",
		Format:    "m4a",
	}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	data, err := io.ReadAll(stream)
	if string(data) != "abc" {
		t.Errorf("data = %q, want abc", data)
	}
	if !errors.Is(err, core.ErrStreamInterrupted) {
		t.Errorf("ReadAll() error = %v, want ErrStreamInterrupted", err)
	}
	waitDone(t, stream)
	if !errors.Is(stream.Err(), core.ErrStreamInterrupted) {
		t.Errorf("Err() = %v", stream.Err())
	}
	if !sink.has(core.StatusError, 0, "Stream interrupted") {
		t.Error("missing stream interrupted event")
	}
	if lim.Held() != 0 {
		t.Errorf("limiter still holds %d", lim.Held())
	}
}

func TestStream_FailsBeforeBytes(t *testing.T) {
	src := &fakeSource{script: "echo 'ERROR: video unavailable' >&2; exit 2"}
	p, _ := newTestPipeline(src, limiter.New(2), "")
	sink := &recordingSink{}

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.youtube.com/watch?v=abc",
		Format:    "opus",
	}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	_, err = stream.Read(make([]byte, 16))
	if err == nil || errors.Is(err, core.ErrStreamInterrupted) || err == io.EOF {
		t.Fatalf("Read() error = %v, want a setup failure", err)
	}
	if !strings.Contains(err.Error(), "video unavailable") {
		t.Errorf("error %q should carry stderr", err)
	}
	if sink.has(core.StatusError, 0, "Stream interrupted") {
		t.Error("no interrupted event expected before any bytes")
	}
}

func TestStream_CancelKillsProcesses(t *testing.T) {
	src := &fakeSource{script: "printf x; exec sleep 10"}
	lim := limiter.New(2)
	p, _ := newTestPipeline(src, lim, "")

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.youtube.com/watch?v=abc",
		Format:    "m4a",
	}, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	buf := make([]byte, 1)
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if lim.Held() != 1 {
		t.Errorf("limiter holds %d while streaming, want 1", lim.Held())
	}

	stream.Cancel()
	stream.Cancel()
	waitDone(t, stream)

	if !errors.Is(stream.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want cancelled", stream.Err())
	}
	if lim.Held() != 0 {
		t.Errorf("limiter still holds %d", lim.Held())
	}
}

func TestStream_DoublePipe(t *testing.T) {
	info := &core.ProviderInfo{
		WebpageURL: "https://www.facebook.com/watch?v=1",
		Formats: []core.RawFormat{
			{FormatID: "hd-1", URL: "https://fb/hd", VCodec: "avc1", ACodec: "mp4a.40.2", Height: 720},
		},
	}
	src := &fakeSource{info: info, script: "printf muxed"}
	lim := limiter.New(2)
	p, args := newTestPipeline(src, lim, "cat")

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.facebook.com/watch?v=1",
		Format:    "mp4",
	}, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil || string(data) != "muxed" {
		t.Fatalf("ReadAll() = %q, %v", data, err)
	}
	waitDone(t, stream)

	if stream.Strategy() != string(StrategyDoublePipe) {
		t.Errorf("Strategy() = %q", stream.Strategy())
	}
	if src.formats[0] != "hd-1" {
		t.Errorf("yt-dlp format = %q", src.formats[0])
	}
	if !slices.Contains(*args, "pipe:0") || !slices.Contains(*args, "0:a:0") {
		t.Errorf("ffmpeg args = %v", *args)
	}
	if lim.Held() != 0 {
		t.Errorf("limiter still holds %d", lim.Held())
	}
}

func TestStream_DoublePipeSingleSlot(t *testing.T) {
	info := &core.ProviderInfo{
		WebpageURL: "https://www.facebook.com/watch?v=1",
		Formats: []core.RawFormat{
			{FormatID: "hd", URL: "https://fb/hd", VCodec: "avc1", ACodec: "mp4a.40.2", Height: 720},
		},
	}
	lim := limiter.New(1)
	p, _ := newTestPipeline(&fakeSource{info: info, script: "printf muxed"}, lim, "cat")

	stream, err := p.Stream(context.Background(), core.DeliveryRequest{
		TargetURL: "https://www.facebook.com/watch?v=1",
		Format:    "mp4",
	}, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil || string(data) != "muxed" {
		t.Fatalf("ReadAll() = %q, %v", data, err)
	}
	waitDone(t, stream)

	if stream.Strategy() != string(StrategyDoublePipe) {
		t.Errorf("Strategy() = %q", stream.Strategy())
	}
	if lim.Held() != 0 {
		t.Errorf("limiter still holds %d", lim.Held())
	}
}

func TestStream_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		lim  *limiter.Limiter
		req  core.DeliveryRequest
	}{
		{
			name: "missing target",
			src:  &fakeSource{},
			lim:  limiter.New(2),
			req:  core.DeliveryRequest{Format: "mp4"},
		},
		{
			name: "info failure",
			src:  &fakeSource{},
			lim:  limiter.New(2),
			req:  core.DeliveryRequest{TargetURL: "https://www.youtube.com/watch?v=abc", Format: "mp4"},
		},
		{
			name: "no video format",
			src: &fakeSource{info: &core.ProviderInfo{Formats: []core.RawFormat{
				{FormatID: "140", URL: "https://media/140", ACodec: "mp4a.40.2", VCodec: "none"},
			}}},
			lim: limiter.New(2),
			req: core.DeliveryRequest{TargetURL: "https://www.youtube.com/watch?v=abc", Format: "mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(tt.src, tt.lim, "true")
			if _, err := p.Stream(context.Background(), tt.req, nil); err == nil {
				t.Fatal("Stream() expected an error")
			}
			if tt.lim.Held() != 0 {
				t.Errorf("limiter holds %d after a failed start", tt.lim.Held())
			}
		})
	}
}
