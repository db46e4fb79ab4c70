// Package platform drives yt-dlp to search media platforms and read media page descriptions.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/pkg/fuzzy"
	"nexstream/pkg/text"
)

const (
	// YouTubeExtractorArgs selects fast player clients and skips pages a search does not need.
	YouTubeExtractorArgs = "youtube:player_client=web_safari,android_vr,tv;player_skip=configs,webpage,js-variables"
	// YouTubeFullPlayerArgs keeps the full player response. Exact-id searches need it.
	YouTubeFullPlayerArgs = "youtube:player_client=web_safari,android_vr,tv"

	shortURLRedirects = 5
	shortURLTimeout   = 10 * time.Second
)

// RefererMap maps a domain to the referer its media hosts expect.
var RefererMap = map[string]string{
	"facebook.com": "https://www.facebook.com/",
	"bilibili.com": "https://www.bilibili.com/",
	"x.com":        "https://x.com/",
}

var (
	// ErrNoResult is returned when a search produced no entry.
	ErrNoResult = errors.New("no search result")

	safePathRegex  = regexp.MustCompile(`^[a-zA-Z0-9/\-_]+$`)
	safeQueryRegex = regexp.MustCompile(`^[a-zA-Z0-9?&=%\-_]+$`)
)

// Limiter gates every yt-dlp process.
type Limiter interface {
	Do(ctx context.Context, weight int64, fn func(ctx context.Context) error) error
}

// YtDlp searches and inspects media pages through the yt-dlp binary.
type YtDlp struct {
	config     *core.PlatformConfig
	logger     *zap.Logger
	limiter    Limiter
	cookies    *CookieJar
	infoCache  *expirable.LRU[string, *core.ProviderInfo]
	httpClient *http.Client
}

// NewYtDlp creates the adapter. Info results are cached for infoTTL.
func NewYtDlp(
	config *core.PlatformConfig,
	logger *zap.Logger,
	limiter Limiter,
	infoSize int,
	infoTTL time.Duration,
	httpClient *http.Client,
) *YtDlp {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: shortURLTimeout}
	}
	return &YtDlp{
		config:     config,
		logger:     logger,
		limiter:    limiter,
		cookies:    NewCookieJar(config.YouTubeCookies, config.FacebookCookies),
		infoCache:  expirable.NewLRU[string, *core.ProviderInfo](infoSize, nil, infoTTL),
		httpClient: httpClient,
	}
}

// CookieHeader returns the cookies for targetURL as a single header value.
func (y *YtDlp) CookieHeader(targetURL string) string {
	return y.cookies.Header(targetURL)
}

func (y *YtDlp) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if y.config.YtDlpPath != "" {
		cmd.SetExecutable(y.config.YtDlpPath)
	}
	if y.config.Proxy != "" {
		cmd.Proxy(y.config.Proxy)
	}
	return cmd
}

// CommonArgs returns the flags every yt-dlp invocation carries.
func (y *YtDlp) CommonArgs() []string {
	socketTimeout := y.config.SocketTimeoutSecs
	if socketTimeout <= 0 {
		socketTimeout = 30
	}
	retries := y.config.Retries
	if retries <= 0 {
		retries = 3
	}
	return []string{
		"--ignore-config",
		"--no-playlist",
		"--force-ipv4",
		"--no-check-certificates",
		"--no-check-formats",
		"--no-warnings",
		"--socket-timeout", strconv.Itoa(socketTimeout),
		"--retries", strconv.Itoa(retries),
		"--no-colors",
	}
}

// TargetArgs returns the per-URL flags: cookies, user agent, referer and YouTube extractor
// arguments.
func (y *YtDlp) TargetArgs(targetURL string, fullPlayer bool) []string {
	args := y.cookies.Args(targetURL)
	args = append(args, "--user-agent", core.BrowserUserAgent)
	if referer := Referer(targetURL); referer != "" {
		args = append(args, "--referer", referer)
	}
	if isYouTube(targetURL) {
		extractorArgs := YouTubeExtractorArgs
		if fullPlayer {
			extractorArgs = YouTubeFullPlayerArgs
		}
		args = append(args, "--extractor-args", extractorArgs)
	}
	return args
}

// Search runs a single-result platform search and reports the drift from targetMs.
func (y *YtDlp) Search(ctx context.Context, query string, targetMs int64, opts core.SearchOptions) (*core.MatchResult, error) {
	cleanQuery := fuzzy.CleanSearchQuery(query)
	if cleanQuery == "" {
		return nil, errors.New("empty search query")
	}

	extractorArgs := YouTubeExtractorArgs
	if opts.SkipPlayerArgs {
		extractorArgs = YouTubeFullPlayerArgs
	}

	args := y.cookies.Args("https://www.youtube.com/")
	args = append(args, "--dump-json", "--quiet")
	args = append(args, y.CommonArgs()...)
	args = append(args, "--extractor-args", extractorArgs, "ytsearch1:"+cleanQuery)

	info, err := y.dumpJSON(ctx, args)
	if err != nil {
		return nil, err
	}
	if info.WebpageURL == "" {
		return nil, ErrNoResult
	}

	drift := fuzzy.DriftMs(targetMs, info.Duration)
	y.logger.Debug("Platform search result",
		zap.String("query", cleanQuery),
		zap.String("title", info.Title),
		zap.Int64("driftMs", drift))

	// The search already described the page; spare the later Info call.
	y.infoCache.Add(y.infoKey(info.WebpageURL), info)

	return &core.MatchResult{
		ResolvedURL: info.WebpageURL,
		Info:        info,
		DriftMs:     drift,
	}, nil
}

// Info describes a media page. Results are cached.
func (y *YtDlp) Info(ctx context.Context, rawURL string) (*core.ProviderInfo, error) {
	key := y.infoKey(rawURL)
	if info, ok := y.infoCache.Get(key); ok {
		return info, nil
	}
	if !text.IsSupported(rawURL) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedSource, rawURL)
	}

	targetURL := rawURL
	if needsExpansion(rawURL) {
		targetURL = y.ExpandShortURL(ctx, rawURL)
	}

	args := []string{"--dump-json"}
	args = append(args, y.TargetArgs(targetURL, false)...)
	args = append(args, y.CommonArgs()...)
	args = append(args, targetURL)

	info, err := y.dumpJSON(ctx, args)
	if err != nil {
		return nil, err
	}

	y.infoCache.Add(key, info)
	return info, nil
}

func (y *YtDlp) cacheInfo(rawURL string, info *core.ProviderInfo) {
	if info != nil {
		y.infoCache.Add(y.infoKey(rawURL), info)
	}
}

func (y *YtDlp) infoKey(rawURL string) string {
	return rawURL + "_" + text.CookieType(rawURL)
}

func (y *YtDlp) dumpJSON(ctx context.Context, args []string) (*core.ProviderInfo, error) {
	var stdout string
	err := y.limiter.Do(ctx, 1, func(ctx context.Context) error {
		res, err := y.command().Run(ctx, args...)
		if err != nil {
			if res != nil && res.Stderr != "" {
				return fmt.Errorf("yt-dlp failed: %w: %s", err, lastLine(res.Stderr))
			}
			return fmt.Errorf("yt-dlp failed: %w", err)
		}
		stdout = res.Stdout
		return nil
	})
	if err != nil {
		return nil, err
	}

	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil, ErrNoResult
	}
	// Only the first document matters when a search returns several lines.
	if i := strings.IndexByte(stdout, '\n'); i >= 0 {
		stdout = stdout[:i]
	}

	var info core.ProviderInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}
	return &info, nil
}

// StreamCommand builds a yt-dlp process that writes the selected format to stdout.
func (y *YtDlp) StreamCommand(ctx context.Context, targetURL, format string) *exec.Cmd {
	args := []string{"-f", format, "-o", "-"}
	args = append(args, y.TargetArgs(targetURL, false)...)
	args = append(args, y.CommonArgs()...)
	args = append(args, targetURL)
	return y.command().BuildCommand(ctx, args...)
}

// ExpandShortURL follows a share link to its canonical page. The original URL is returned when
// expansion fails.
func (y *YtDlp) ExpandShortURL(ctx context.Context, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	base := "https://www.facebook.com"
	if strings.EqualFold(u.Hostname(), "bili.im") {
		base = "https://bili.im"
	}
	path := "/"
	if safePathRegex.MatchString(u.Path) {
		path = u.Path
	}
	query := ""
	if u.RawQuery != "" && safeQueryRegex.MatchString("?"+u.RawQuery) {
		query = "?" + u.RawQuery
	}

	return y.followRedirects(ctx, base+path+query, rawURL)
}

func (y *YtDlp) followRedirects(ctx context.Context, target, fallback string) string {
	ctx, cancel := context.WithTimeout(ctx, shortURLTimeout)
	defer cancel()

	client := *y.httpClient
	client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) >= shortURLRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, http.NoBody)
	if err != nil {
		return fallback
	}
	req.Header.Set("User-Agent", core.BrowserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		y.logger.Debug("Short URL expansion failed", zap.String("url", fallback), zap.Error(err))
		return fallback
	}
	_ = resp.Body.Close()
	return resp.Request.URL.String()
}

// Referer returns the referer a domain's media hosts expect, or "".
func Referer(rawURL string) string {
	for domain, referer := range RefererMap {
		if strings.Contains(rawURL, domain) {
			return referer
		}
	}
	return ""
}

func needsExpansion(rawURL string) bool {
	return strings.Contains(rawURL, "bili.im") || strings.Contains(rawURL, "facebook.com/share")
}

func isYouTube(rawURL string) bool {
	return strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
