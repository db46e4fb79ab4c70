package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/internal/limiter"
)

func newTestYtDlp(t *testing.T, cfg *core.PlatformConfig, client *http.Client) *YtDlp {
	t.Helper()
	if cfg == nil {
		cfg = &core.PlatformConfig{}
	}
	return NewYtDlp(cfg, zap.NewNop(), limiter.New(2), 16, time.Hour, client)
}

func TestCommonArgs(t *testing.T) {
	y := newTestYtDlp(t, &core.PlatformConfig{SocketTimeoutSecs: 15}, nil)
	args := strings.Join(y.CommonArgs(), " ")

	for _, want := range []string{"--ignore-config", "--no-playlist", "--force-ipv4", "--no-check-formats",
		"--socket-timeout 15", "--retries 3", "--no-colors"} {
		if !strings.Contains(args, want) {
			t.Errorf("CommonArgs() = %q, missing %q", args, want)
		}
	}
}

func TestTargetArgs(t *testing.T) {
	y := newTestYtDlp(t, nil, nil)

	tests := []struct {
		name    string
		url     string
		full    bool
		want    []string
		notWant []string
	}{
		{
			name:    "youtube uses player skip",
			url:     "https://www.youtube.com/watch?v=abc",
			want:    []string{"--user-agent", YouTubeExtractorArgs},
			notWant: []string{"--referer", "--cookies"},
		},
		{
			name: "youtube full player",
			url:  "https://youtu.be/abc",
			full: true,
			want: []string{YouTubeFullPlayerArgs},
		},
		{
			name:    "facebook referer",
			url:     "https://www.facebook.com/watch/?v=1",
			want:    []string{"--referer", "https://www.facebook.com/"},
			notWant: []string{"--extractor-args"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := strings.Join(y.TargetArgs(tt.url, tt.full), " ")
			for _, w := range tt.want {
				if !strings.Contains(args, w) {
					t.Errorf("TargetArgs() = %q, missing %q", args, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(args, nw) {
					t.Errorf("TargetArgs() = %q, should not contain %q", args, nw)
				}
			}
		})
	}
}

func TestInfo_CacheAndValidation(t *testing.T) {
	y := newTestYtDlp(t, nil, nil)
	ctx := context.Background()

	cached := &core.ProviderInfo{Title: "cached", Duration: 200}
	y.cacheInfo("https://www.youtube.com/watch?v=abc", cached)

	info, err := y.Info(ctx, "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info != cached {
		t.Error("Info() did not return the cached description")
	}

	if _, err := y.Info(ctx, "https://evil.example.com/video"); !errors.Is(err, core.ErrUnsupportedSource) {
		t.Errorf("Info() error = %v, want ErrUnsupportedSource", err)
	}
}

func TestFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		switch r.URL.Path {
		case "/share/abc":
			http.Redirect(w, r, "/watch/123", http.StatusMovedPermanently)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	y := newTestYtDlp(t, nil, server.Client())
	ctx := context.Background()

	if got := y.followRedirects(ctx, server.URL+"/share/abc", "fallback"); got != server.URL+"/watch/123" {
		t.Errorf("followRedirects() = %q", got)
	}
	if got := y.followRedirects(ctx, server.URL+"/loop", "fallback"); got != server.URL+"/loop" {
		t.Errorf("followRedirects() with redirect loop = %q, want last response URL", got)
	}
	if got := y.followRedirects(ctx, "http://127.0.0.1:1/unreachable", "fallback"); got != "fallback" {
		t.Errorf("followRedirects() on failure = %q, want fallback", got)
	}
}

func TestCookieJar(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "yt.txt")
	invalid := filepath.Join(dir, "fb.txt")

	content := "# Netscape HTTP Cookie File\n" +
		".youtube.com\tTRUE\t/\tTRUE\t0\tSID\tabc\n" +
		"#HttpOnly_.youtube.com\tTRUE\t/\tTRUE\t0\tHSID\tdef\n" +
		"malformed line\n"
	if err := os.WriteFile(valid, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(invalid, []byte("not cookies"), 0o600); err != nil {
		t.Fatal(err)
	}

	jar := NewCookieJar(valid, invalid)

	if got := jar.Args("https://www.youtube.com/watch?v=1"); len(got) != 2 || got[1] != valid {
		t.Errorf("Args(youtube) = %v", got)
	}
	if got := jar.Args("https://www.facebook.com/video"); got != nil {
		t.Errorf("Args(facebook) = %v, want nil for invalid file", got)
	}
	if got := jar.Args("https://www.tiktok.com/@x/video/1"); got != nil {
		t.Errorf("Args(tiktok) = %v, want nil", got)
	}
	if got := jar.Header("https://youtu.be/1"); got != "SID=abc; HSID=def" {
		t.Errorf("Header() = %q", got)
	}
}

func TestReferer(t *testing.T) {
	tests := map[string]string{
		"https://www.bilibili.com/video/BV1": "https://www.bilibili.com/",
		"https://x.com/user/status/1":        "https://x.com/",
		"https://www.youtube.com/watch?v=1":  "",
	}
	for url, want := range tests {
		if got := Referer(url); got != want {
			t.Errorf("Referer(%q) = %q, want %q", url, got, want)
		}
	}
}
