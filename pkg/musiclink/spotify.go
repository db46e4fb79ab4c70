package musiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	// SpotifyBaseURL is the public Spotify web host.
	SpotifyBaseURL = "https://open.spotify.com"
	// spotifyTitleSuffix is appended to every Spotify track page title.
	spotifyTitleSuffix = "| Spotify"
	// spotifyTitleSeparator separates the title from the artist in a track page title.
	spotifyTitleSeparator = " - song and lyrics by "
)

var (
	nextDataRegex       = regexp.MustCompile(`(?s)<script id="__NEXT_DATA__" type="application/json">(.+?)</script>`)
	previewURLRegex     = regexp.MustCompile(`"(?:preview_url|audioPreview)":\s*(?:\{"url":)?"(https:[^"]+)"`)
	spotifyTrackIDRegex = regexp.MustCompile(`/track/([A-Za-z0-9]{22})`)
)

// spotifyEmbedData mirrors the part of the embed page's __NEXT_DATA__ document we read.
type spotifyEmbedData struct {
	Props struct {
		PageProps struct {
			State struct {
				Data struct {
					Entity spotifyEmbedEntity `json:"entity"`
				} `json:"data"`
			} `json:"state"`
		} `json:"pageProps"`
	} `json:"props"`
}

type spotifyEmbedEntity struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Duration int64  `json:"duration"`
	Artists  []struct {
		Name string `json:"name"`
	} `json:"artists"`
	ReleaseDate struct {
		IsoString string `json:"isoString"`
	} `json:"releaseDate"`
	AudioPreview struct {
		URL string `json:"url"`
	} `json:"audioPreview"`
	VisualIdentity struct {
		Image []struct {
			URL      string `json:"url"`
			MaxWidth int    `json:"maxWidth"`
		} `json:"image"`
	} `json:"visualIdentity"`
}

// spotifyOEmbedResponse represents the response from Spotify's oEmbed API.
type spotifyOEmbedResponse struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// SpotifyEmbedResolver reads track metadata from Spotify's public embed and track pages. It needs
// no API credentials.
type SpotifyEmbedResolver struct {
	client  *http.Client
	baseURL string
}

// NewSpotifyEmbedResolver creates a new resolver. baseURL defaults to SpotifyBaseURL.
func NewSpotifyEmbedResolver(client *http.Client, baseURL string) *SpotifyEmbedResolver {
	if baseURL == "" {
		baseURL = SpotifyBaseURL
	}
	return &SpotifyEmbedResolver{
		client:  clientOrDefault(client),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider name.
func (r *SpotifyEmbedResolver) Name() string {
	return "spotify-embed"
}

// CanResolve checks if the URL is a Spotify track link.
func (r *SpotifyEmbedResolver) CanResolve(rawURL string) bool {
	return spotifyTrackID(rawURL) != ""
}

// Resolve extracts track information from the embed page, falling back to oEmbed.
func (r *SpotifyEmbedResolver) Resolve(ctx context.Context, rawURL string) (*TrackInfo, error) {
	trackID := spotifyTrackID(rawURL)
	if trackID == "" {
		return nil, errors.New("not a Spotify track URL")
	}

	info, embedErr := r.resolveEmbed(ctx, trackID)
	if embedErr == nil {
		return info, nil
	}

	info, err := r.resolveOEmbed(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("embed: %w; oembed: %w", embedErr, err)
	}
	return info, nil
}

// PreviewURL returns the 30 second preview URL from the embed page.
func (r *SpotifyEmbedResolver) PreviewURL(ctx context.Context, rawURL string) (string, error) {
	trackID := spotifyTrackID(rawURL)
	if trackID == "" {
		return "", errors.New("not a Spotify track URL")
	}

	html, err := fetchHTMLFromURL(ctx, r.client, r.baseURL+"/embed/track/"+trackID, "Spotify embed", maxHTMLSize)
	if err != nil {
		return "", err
	}

	if entity, err := parseEmbedEntity(html); err == nil && entity.AudioPreview.URL != "" {
		return entity.AudioPreview.URL, nil
	}
	if m := previewURLRegex.FindStringSubmatch(html); len(m) == 2 {
		return strings.ReplaceAll(m[1], `\/`, "/"), nil
	}
	return "", ErrNotFound
}

// CoverURL returns the og:image of the public track page, which is usually the 640px cover.
func (r *SpotifyEmbedResolver) CoverURL(ctx context.Context, rawURL string) (string, error) {
	trackID := spotifyTrackID(rawURL)
	if trackID == "" {
		return "", errors.New("not a Spotify track URL")
	}

	html, err := fetchHTMLFromURL(ctx, r.client, r.baseURL+"/track/"+trackID, "Spotify", maxHTMLSize)
	if err != nil {
		return "", err
	}
	if cover := extractOGImage(html); cover != "" {
		return cover, nil
	}
	return "", ErrNotFound
}

func (r *SpotifyEmbedResolver) resolveEmbed(ctx context.Context, trackID string) (*TrackInfo, error) {
	html, err := fetchHTMLFromURL(ctx, r.client, r.baseURL+"/embed/track/"+trackID, "Spotify embed", maxHTMLSize)
	if err != nil {
		return nil, err
	}

	entity, err := parseEmbedEntity(html)
	if err != nil {
		return nil, err
	}

	info := &TrackInfo{
		Title:      entity.Name,
		DurationMs: entity.Duration,
		PreviewURL: entity.AudioPreview.URL,
		Year:       yearOf(entity.ReleaseDate.IsoString),
		Provider:   r.Name(),
	}
	if info.Title == "" {
		info.Title = entity.Title
	}
	if len(entity.Artists) > 0 {
		info.Artist = entity.Artists[0].Name
	}

	bestWidth := -1
	for _, img := range entity.VisualIdentity.Image {
		if img.MaxWidth > bestWidth {
			bestWidth = img.MaxWidth
			info.ImageURL = img.URL
		}
	}

	if info.Title == "" {
		return nil, errors.New("embed page has no track title")
	}
	return info, nil
}

func (r *SpotifyEmbedResolver) resolveOEmbed(ctx context.Context, trackID string) (*TrackInfo, error) {
	var resp spotifyOEmbedResponse
	trackURL := r.baseURL + "/track/" + trackID
	if err := fetchOEmbedJSON(ctx, r.client, r.baseURL+"/oembed", trackURL, &resp); err != nil {
		return nil, err
	}
	if resp.Title == "" {
		return nil, errors.New("oEmbed response has no title")
	}

	// oEmbed carries no artist; the track page title does.
	info := &TrackInfo{
		Title:    resp.Title,
		Artist:   "Unknown Artist",
		ImageURL: resp.ThumbnailURL,
		Provider: r.Name(),
	}
	if html, err := fetchHTMLFromURL(ctx, r.client, trackURL, "Spotify", maxHTMLSize); err == nil {
		if _, artist := extractTitleAndArtistFromTitleTag(html, spotifyTitleSuffix, spotifyTitleSeparator); artist != "" {
			info.Artist = artist
		}
	}
	return info, nil
}

func parseEmbedEntity(html string) (*spotifyEmbedEntity, error) {
	m := nextDataRegex.FindStringSubmatch(html)
	if len(m) != 2 {
		return nil, errors.New("embed page has no __NEXT_DATA__ document")
	}
	var data spotifyEmbedData
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		return nil, fmt.Errorf("failed to decode embed data: %w", err)
	}
	return &data.Props.PageProps.State.Data.Entity, nil
}

func spotifyTrackID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host != "open.spotify.com" && host != "spotify.com" && !strings.HasSuffix(host, ".spotify.com") {
		return ""
	}
	m := spotifyTrackIDRegex.FindStringSubmatch(u.Path)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}
