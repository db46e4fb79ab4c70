// Package spotify provides Spotify Web API integration for track metadata and collection listing.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"nexstream/internal/core"
	"nexstream/pkg/musiclink"
	"nexstream/pkg/text"
)

const (
	// ReleaseDateYearLength is the expected length of a release date year string
	ReleaseDateYearLength = 4
	// CollectionPageSize is the page size used when listing album and playlist items
	CollectionPageSize = 50
	// TopTracksMarket is the market used for artist top tracks
	TopTracksMarket = "US"
	// SpotifyAppLinkDomain is the host of the Spotify app deep links
	SpotifyAppLinkDomain = "spotify.app.link"

	shortLinkTimeout   = 10 * time.Second
	shortLinkRedirects = 5
	shortLinkReadLimit = 64 << 10
	trackURLPrefix     = "https://open.spotify.com/track/"
)

var (
	// ErrNotConfigured is returned when no client credentials are set.
	ErrNotConfigured = errors.New("spotify credentials not configured")

	spotifyURLRegex = regexp.MustCompile(`https://open\.spotify\.com/(?:intl-[a-z]+/)?(?:track|album|playlist|artist)/[a-zA-Z0-9]+`)
)

// Client reads track metadata and collections from the Spotify Web API using the client
// credentials flow.
type Client struct {
	config     *core.SpotifyConfig
	logger     *zap.Logger
	httpClient *http.Client

	mu     sync.Mutex
	client *spotify.Client
}

// NewClient creates a client. httpClient is used for short-link expansion and may be nil.
func NewClient(config *core.SpotifyConfig, logger *zap.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: shortLinkTimeout}
	}
	return &Client{
		config:     config,
		logger:     logger,
		httpClient: httpClient,
	}
}

// Enabled reports whether client credentials are configured.
func (c *Client) Enabled() bool {
	return c.config != nil && c.config.ClientID != "" && c.config.ClientSecret != ""
}

// Authenticate fetches an app token. The returned http client refreshes it when it expires.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.api(ctx)
	return err
}

func (c *Client) api(ctx context.Context) (*spotify.Client, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	cfg := &clientcredentials.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := cfg.Token(ctx); err != nil {
		return nil, fmt.Errorf("failed to obtain Spotify token: %w", err)
	}

	// The token source must outlive the request context.
	c.client = spotify.New(cfg.Client(context.Background()), spotify.WithRetry(true))
	c.logger.Info("Spotify client authenticated")
	return c.client, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "spotify-api"
}

// CanResolve reports whether rawURL is a Spotify track link and credentials are present.
func (c *Client) CanResolve(rawURL string) bool {
	if !c.Enabled() {
		return false
	}
	id, err := text.ExtractSpotifyID(rawURL, "track")
	return err == nil && id != ""
}

// Resolve reads a track from the Web API.
func (c *Client) Resolve(ctx context.Context, rawURL string) (*musiclink.TrackInfo, error) {
	trackID, err := text.ExtractSpotifyID(rawURL, "track")
	if err != nil {
		return nil, err
	}

	client, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	track, err := client.GetTrack(ctx, spotify.ID(trackID))
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return c.convertSpotifyTrack(track), nil
}

func (c *Client) convertSpotifyTrack(track *spotify.FullTrack) *musiclink.TrackInfo {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	info := &musiclink.TrackInfo{
		Title:      track.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      track.Album.Name,
		DurationMs: int64(track.Duration),
		PreviewURL: track.PreviewURL,
		Provider:   c.Name(),
	}
	if len(track.Album.ReleaseDate) >= ReleaseDateYearLength {
		info.Year = track.Album.ReleaseDate[:ReleaseDateYearLength]
	}
	// Spotify lists album images widest first.
	if len(track.Album.Images) > 0 {
		info.ImageURL = track.Album.Images[0].URL
	}
	return info
}

// ListTrackURLs returns the track URLs of an album, playlist or artist link. Artists yield their
// top tracks.
func (c *Client) ListTrackURLs(ctx context.Context, collectionURL string) ([]string, error) {
	client, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	if id, err := text.ExtractSpotifyID(collectionURL, "playlist"); err == nil {
		return c.playlistTracks(ctx, client, spotify.ID(id))
	}
	if id, err := text.ExtractSpotifyID(collectionURL, "album"); err == nil {
		return c.albumTracks(ctx, client, spotify.ID(id))
	}
	if id, err := text.ExtractSpotifyID(collectionURL, "artist"); err == nil {
		tracks, err := client.GetArtistsTopTracks(ctx, spotify.ID(id), TopTracksMarket)
		if err != nil {
			return nil, fmt.Errorf("failed to get artist top tracks: %w", err)
		}
		urls := make([]string, 0, len(tracks))
		for i := range tracks {
			urls = append(urls, trackURLPrefix+string(tracks[i].ID))
		}
		return urls, nil
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedSource, collectionURL)
}

func (c *Client) playlistTracks(ctx context.Context, client *spotify.Client, playlistID spotify.ID) ([]string, error) {
	var urls []string
	offset := 0

	for {
		items, err := client.GetPlaylistItems(ctx, playlistID,
			spotify.Limit(CollectionPageSize), spotify.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("failed to get playlist items: %w", err)
		}

		for i := range items.Items {
			// Only process tracks (not episodes or null items)
			if items.Items[i].Track.Track != nil {
				urls = append(urls, trackURLPrefix+string(items.Items[i].Track.Track.ID))
			}
		}

		if len(items.Items) < CollectionPageSize {
			break
		}
		offset += CollectionPageSize
	}

	c.logger.Info("Retrieved playlist tracks",
		zap.String("playlistID", string(playlistID)),
		zap.Int("count", len(urls)))
	return urls, nil
}

func (c *Client) albumTracks(ctx context.Context, client *spotify.Client, albumID spotify.ID) ([]string, error) {
	var urls []string
	offset := 0

	for {
		page, err := client.GetAlbumTracks(ctx, albumID,
			spotify.Limit(CollectionPageSize), spotify.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("failed to get album tracks: %w", err)
		}

		for i := range page.Tracks {
			urls = append(urls, trackURLPrefix+string(page.Tracks[i].ID))
		}

		if len(page.Tracks) < CollectionPageSize {
			break
		}
		offset += CollectionPageSize
	}

	c.logger.Info("Retrieved album tracks",
		zap.String("albumID", string(albumID)),
		zap.Int("count", len(urls)))
	return urls, nil
}

// IsShortLink reports whether rawURL is a spotify.link or app deep link.
func IsShortLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "spotify.link" || host == SpotifyAppLinkDomain
}

// Expand returns the open.spotify.com form of a short link and any other link unchanged. Failed
// expansions keep the short link.
func (c *Client) Expand(ctx context.Context, rawURL string) string {
	if !IsShortLink(rawURL) {
		return rawURL
	}
	expanded, err := c.ExpandShortLink(ctx, rawURL)
	if err != nil || expanded == "" {
		c.logger.Debug("Failed to expand short link", zap.String("url", rawURL), zap.Error(err))
		return rawURL
	}
	return expanded
}

// ExpandShortLink follows a shortened Spotify link to its open.spotify.com destination.
func (c *Client) ExpandShortLink(ctx context.Context, shortURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, shortLinkTimeout)
	defer cancel()

	client := *c.httpClient
	client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) >= shortLinkRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", core.BrowserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	_ = resp.Body.Close()

	final := resp.Request.URL
	if strings.EqualFold(final.Hostname(), "open.spotify.com") {
		return text.CleanURL(final.String()), nil
	}

	// App links land on an interstitial page that embeds the destination.
	return c.resolveWithPageContent(ctx, &client, shortURL)
}

func (c *Client) resolveWithPageContent(ctx context.Context, client *http.Client, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", core.BrowserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, shortLinkReadLimit))
	if err != nil {
		return "", err
	}

	if match := spotifyURLRegex.Find(body); match != nil {
		return string(match), nil
	}
	return "", errors.New("could not find Spotify URL in page content")
}
