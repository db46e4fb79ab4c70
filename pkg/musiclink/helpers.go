package musiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"nexstream/pkg/fuzzy"
)

const (
	// commonUserAgent is the user agent string used for all HTTP requests.
	commonUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	// commonAcceptHeader is the accept header used for HTML requests.
	commonAcceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	// minTitleTagMatches is the minimum number of regex matches expected for title tag extraction.
	minTitleTagMatches = 2
	// expectedSplitParts is the expected number of parts when splitting title/artist strings.
	expectedSplitParts = 2
	// defaultHTTPTimeout is the default timeout for HTTP requests.
	defaultHTTPTimeout = 10 * time.Second
	// maxHTTPRedirects is the maximum number of HTTP redirects to follow.
	maxHTTPRedirects = 3
	// maxHTMLSize bounds how much of an HTML page is read.
	maxHTMLSize = 2 << 20
	// backfillTolerance is the largest duration difference accepted for a title search match.
	backfillTolerance = 10 * time.Second
)

var (
	// ErrTooManyRedirects is returned when too many redirects are encountered.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrNotFound is returned when a catalogue has no matching recording.
	ErrNotFound = errors.New("no matching track")

	titleTagRegex = regexp.MustCompile(`<title>([^<]+)</title>`)
	ogImageRegex  = regexp.MustCompile(`<meta[^>]+property="og:image"[^>]+content="([^"]+)"`)
)

// NewHTTPClient creates a new HTTP client with standard settings and redirect validation.
// transport may be nil.
func NewHTTPClient(transport http.RoundTripper) *http.Client {
	return &http.Client{
		Timeout:   defaultHTTPTimeout,
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

func clientOrDefault(client *http.Client) *http.Client {
	if client == nil {
		return NewHTTPClient(nil)
	}
	return client
}

// fetchHTMLFromURL fetches HTML content from a URL with a size limit.
func fetchHTMLFromURL(
	ctx context.Context,
	client *http.Client,
	pageURL string,
	serviceName string,
	maxReadSize int64,
) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", err
	}

	// Set realistic browser headers.
	req.Header.Set("User-Agent", commonUserAgent)
	req.Header.Set("Accept", commonAcceptHeader)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", serviceName, resp.StatusCode)
	}

	limitedReader := io.LimitReader(resp.Body, maxReadSize)
	bodyBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	return string(bodyBytes), nil
}

// getJSON issues a GET request and decodes the JSON body into dest. A non-nil limiter is waited
// on before the request is sent.
func getJSON(
	ctx context.Context,
	client *http.Client,
	limiter *rate.Limiter,
	reqURL string,
	serviceName string,
	dest interface{},
) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", commonUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", serviceName, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", serviceName, err)
	}
	return nil
}

// fetchOEmbedJSON fetches and decodes JSON from an oEmbed API endpoint.
func fetchOEmbedJSON(
	ctx context.Context,
	client *http.Client,
	oembedURL string,
	targetURL string,
	dest interface{},
) error {
	reqURL := fmt.Sprintf("%s?url=%s&format=json", oembedURL, url.QueryEscape(targetURL))
	return getJSON(ctx, client, nil, reqURL, "oEmbed API", dest)
}

// extractTitleAndArtistFromTitleTag extracts track info from HTML <title> tag.
// This handles the common pattern of "Track Title by Artist on Service" format.
func extractTitleAndArtistFromTitleTag(html, serviceSuffix, separator string) (title, artist string) {
	matches := titleTagRegex.FindStringSubmatch(html)
	if len(matches) < minTitleTagMatches {
		return "", ""
	}

	titleText := matches[1]

	if serviceSuffix != "" {
		titleText = strings.TrimSuffix(titleText, serviceSuffix)
		titleText = strings.TrimSpace(titleText)
	}

	if separator != "" && strings.Contains(titleText, separator) {
		parts := strings.SplitN(titleText, separator, expectedSplitParts)
		if len(parts) == expectedSplitParts {
			title = strings.TrimSpace(parts[0])
			artist = strings.TrimSpace(parts[1])
			return title, artist
		}
	}

	return titleText, ""
}

// extractOGImage returns the og:image content of an HTML page.
func extractOGImage(html string) string {
	matches := ogImageRegex.FindStringSubmatch(html)
	if len(matches) < minTitleTagMatches {
		return ""
	}
	return strings.ReplaceAll(matches[1], "&amp;", "&")
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

func withinTolerance(targetMs, candidateMs int64) bool {
	return fuzzy.WithinDrift(targetMs, candidateMs, backfillTolerance)
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}
