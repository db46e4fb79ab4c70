package musiclink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MusicBrainzBaseURL is the MusicBrainz web service root.
	MusicBrainzBaseURL = "https://musicbrainz.org/ws/2"
	// musicBrainzUserAgent identifies us, as MusicBrainz requires.
	musicBrainzUserAgent = "nexstream/1.0 ( https://github.com/nexstream/nexstream )"
	// musicBrainzRateLimit is the documented anonymous limit of one request per second.
	musicBrainzRateLimit = time.Second
)

type musicBrainzISRCResponse struct {
	Recordings []struct {
		Title    string `json:"title"`
		Length   int64  `json:"length"`
		Releases []struct {
			Title string `json:"title"`
			Date  string `json:"date"`
		} `json:"releases"`
	} `json:"recordings"`
}

// MusicBrainzClient looks up release details for an ISRC.
type MusicBrainzClient struct {
	client      *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
}

// NewMusicBrainzClient creates a new client. baseURL defaults to MusicBrainzBaseURL.
func NewMusicBrainzClient(client *http.Client, baseURL string) *MusicBrainzClient {
	if baseURL == "" {
		baseURL = MusicBrainzBaseURL
	}
	return &MusicBrainzClient{
		client:      clientOrDefault(client),
		baseURL:     strings.TrimRight(baseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Every(musicBrainzRateLimit), 1),
	}
}

// ReleaseYear returns the earliest release year of the recordings carrying isrc.
func (c *MusicBrainzClient) ReleaseYear(ctx context.Context, isrc string) (string, error) {
	if isrc == "" {
		return "", ErrNotFound
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	reqURL := fmt.Sprintf("%s/isrc/%s?inc=releases&fmt=json", c.baseURL, url.PathEscape(isrc))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", musicBrainzUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("MusicBrainz API returned status %d", resp.StatusCode)
	}

	var body musicBrainzISRCResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode MusicBrainz response: %w", err)
	}

	earliest := ""
	for _, recording := range body.Recordings {
		for _, release := range recording.Releases {
			year := yearOf(release.Date)
			if year != "" && (earliest == "" || year < earliest) {
				earliest = year
			}
		}
	}
	if earliest == "" {
		return "", ErrNotFound
	}
	return earliest, nil
}
