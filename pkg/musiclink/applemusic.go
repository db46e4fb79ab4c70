package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	// ITunesBaseURL is the iTunes/Apple Music API host.
	ITunesBaseURL = "https://itunes.apple.com"
	// iTunesSearchLimit is the number of search results considered.
	iTunesSearchLimit = 5
)

// iTunesResponse represents the response from the iTunes lookup and search APIs.
type iTunesResponse struct {
	ResultCount int                 `json:"resultCount"`
	Results     []iTunesTrackResult `json:"results"`
}

// iTunesTrackResult represents a track result from iTunes API.
type iTunesTrackResult struct {
	WrapperType     string `json:"wrapperType"`
	TrackID         int64  `json:"trackId"`
	TrackName       string `json:"trackName"`
	ArtistName      string `json:"artistName"`
	CollectionName  string `json:"collectionName"`
	TrackTimeMillis int64  `json:"trackTimeMillis"`
	PreviewURL      string `json:"previewUrl"`
	ArtworkURL100   string `json:"artworkUrl100"`
	ReleaseDate     string `json:"releaseDate"`
	ISRC            string `json:"isrc"`
}

// AppleMusicResolver resolves Apple Music links through the iTunes API and searches its catalogue.
type AppleMusicResolver struct {
	client  *http.Client
	baseURL string
}

// NewAppleMusicResolver creates a new Apple Music resolver. baseURL defaults to ITunesBaseURL.
func NewAppleMusicResolver(client *http.Client, baseURL string) *AppleMusicResolver {
	if baseURL == "" {
		baseURL = ITunesBaseURL
	}
	return &AppleMusicResolver{
		client:  clientOrDefault(client),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider name.
func (r *AppleMusicResolver) Name() string {
	return "itunes"
}

// CanResolve checks if the URL is an Apple Music link.
func (r *AppleMusicResolver) CanResolve(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	hostname := strings.ToLower(u.Hostname())
	// Support both music.apple.com and legacy itunes.apple.com.
	return hostname == "music.apple.com" || hostname == "itunes.apple.com"
}

// Resolve extracts track information from an Apple Music URL using iTunes API.
func (r *AppleMusicResolver) Resolve(ctx context.Context, rawURL string) (*TrackInfo, error) {
	if !r.CanResolve(rawURL) {
		return nil, errors.New("not an Apple Music URL")
	}

	trackID, err := r.extractTrackID(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract track ID: %w", err)
	}

	var resp iTunesResponse
	reqURL := fmt.Sprintf("%s/lookup?id=%s&entity=song", r.baseURL, url.QueryEscape(trackID))
	if err := getJSON(ctx, r.client, nil, reqURL, "iTunes API", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch track data: %w", err)
	}

	for _, result := range resp.Results {
		if result.TrackName != "" {
			return r.toTrackInfo(&result), nil
		}
	}
	return nil, ErrNotFound
}

// Search finds a recording by ISRC or "title artist" and picks the result closest to targetMs.
func (r *AppleMusicResolver) Search(ctx context.Context, title, artist, isrc string, targetMs int64) (*Match, error) {
	term := isrc
	if term == "" {
		term = strings.TrimSpace(title + " " + artist)
	}
	if term == "" {
		return nil, ErrNotFound
	}

	var resp iTunesResponse
	reqURL := fmt.Sprintf("%s/search?term=%s&limit=%d&entity=song", r.baseURL, url.QueryEscape(term), iTunesSearchLimit)
	if err := getJSON(ctx, r.client, nil, reqURL, "iTunes API", &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, ErrNotFound
	}

	results := resp.Results
	if targetMs > 0 {
		sort.SliceStable(results, func(i, j int) bool {
			return absDiff(results[i].TrackTimeMillis, targetMs) < absDiff(results[j].TrackTimeMillis, targetMs)
		})
	}
	best := results[0]
	if !withinTolerance(targetMs, best.TrackTimeMillis) {
		return nil, ErrNotFound
	}

	return &Match{
		ISRC:       best.ISRC,
		Title:      best.TrackName,
		Artist:     best.ArtistName,
		PreviewURL: best.PreviewURL,
		DurationMs: best.TrackTimeMillis,
	}, nil
}

// extractTrackID extracts the track ID from an Apple Music URL.
func (r *AppleMusicResolver) extractTrackID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	// Check for track ID in query parameter ?i=<trackId>.
	trackID := u.Query().Get("i")
	if trackID != "" {
		return trackID, nil
	}

	// Path format: /us/song/<song-name>/<song-id>
	if strings.Contains(u.Path, "/song/") {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) > 0 {
			songID := parts[len(parts)-1]
			if songID != "" {
				return songID, nil
			}
		}
	}

	return "", errors.New("no track ID found in Apple Music URL (album links without ?i= are not supported)")
}

func (r *AppleMusicResolver) toTrackInfo(result *iTunesTrackResult) *TrackInfo {
	return &TrackInfo{
		Title:      result.TrackName,
		Artist:     result.ArtistName,
		Album:      result.CollectionName,
		DurationMs: result.TrackTimeMillis,
		ISRC:       result.ISRC,
		PreviewURL: result.PreviewURL,
		ImageURL:   strings.Replace(result.ArtworkURL100, "100x100bb", "600x600bb", 1),
		Year:       yearOf(result.ReleaseDate),
		Provider:   r.Name(),
	}
}
