package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DeezerBaseURL is the public Deezer API endpoint.
	DeezerBaseURL = "https://api.deezer.com"
	// deezerRequestInterval keeps us under Deezer's 50 requests per 5 seconds quota.
	deezerRequestInterval = 100 * time.Millisecond
	deezerBurst           = 5
	// deezerPreferredDrift is the duration difference under which a search hit is preferred.
	deezerPreferredDrift = 5 * time.Second
)

var (
	deezerTrackRegex   = regexp.MustCompile(`/track/(\d+)`)
	bracketedTextRegex = regexp.MustCompile(`\s*[\[(].*?[\])]`)
)

type deezerTrack struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ISRC        string `json:"isrc"`
	Duration    int64  `json:"duration"`
	Preview     string `json:"preview"`
	ReleaseDate string `json:"release_date"`
	Artist      struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		Title    string `json:"title"`
		CoverXL  string `json:"cover_xl"`
		CoverBig string `json:"cover_big"`
	} `json:"album"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type deezerSearchResponse struct {
	Data []deezerTrack `json:"data"`
}

// DeezerClient reads tracks from the Deezer API and finds recordings by ISRC or title.
type DeezerClient struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewDeezerClient creates a new Deezer client. baseURL defaults to DeezerBaseURL.
func NewDeezerClient(client *http.Client, baseURL string) *DeezerClient {
	if baseURL == "" {
		baseURL = DeezerBaseURL
	}
	return &DeezerClient{
		client:  clientOrDefault(client),
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Every(deezerRequestInterval), deezerBurst),
	}
}

// Name returns the provider name.
func (d *DeezerClient) Name() string {
	return "deezer"
}

// CanResolve checks if the URL is a Deezer track link.
func (d *DeezerClient) CanResolve(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "deezer.com" && !strings.HasSuffix(host, ".deezer.com") {
		return false
	}
	return deezerTrackRegex.MatchString(u.Path)
}

// Resolve extracts track information from a Deezer track URL.
func (d *DeezerClient) Resolve(ctx context.Context, rawURL string) (*TrackInfo, error) {
	if !d.CanResolve(rawURL) {
		return nil, errors.New("not a Deezer track URL")
	}
	u, _ := url.Parse(rawURL)
	m := deezerTrackRegex.FindStringSubmatch(u.Path)

	track, err := d.track(ctx, m[1])
	if err != nil {
		return nil, err
	}
	return d.toTrackInfo(track), nil
}

// Search finds a recording, by ISRC first and by artist/title search after that. A title match
// whose duration is more than ten seconds from targetMs is rejected.
func (d *DeezerClient) Search(ctx context.Context, title, artist, isrc string, targetMs int64) (*Match, error) {
	if isrc != "" {
		track, err := d.track(ctx, "isrc:"+isrc)
		if err == nil && track.Preview != "" {
			found := track.ISRC
			if found == "" {
				found = isrc
			}
			return &Match{
				ISRC:       found,
				Title:      track.Title,
				Artist:     track.Artist.Name,
				PreviewURL: track.Preview,
				DurationMs: track.Duration * 1000,
			}, nil
		}
	}

	if title == "" {
		return nil, ErrNotFound
	}

	results, err := d.search(ctx, fmt.Sprintf(`artist:"%s" track:"%s"`, artist, title))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		results, err = d.search(ctx, title+" "+artist)
		if err != nil {
			return nil, err
		}
	}
	if cleanTitle := strings.TrimSpace(bracketedTextRegex.ReplaceAllString(title, "")); len(results) == 0 && cleanTitle != title {
		results, err = d.search(ctx, cleanTitle+" "+artist)
		if err != nil {
			return nil, err
		}
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	best := pickDeezerResult(results, artist, targetMs)
	if !withinTolerance(targetMs, best.Duration*1000) {
		return nil, ErrNotFound
	}

	// Search results omit the ISRC; the track endpoint has it.
	detail, err := d.track(ctx, fmt.Sprintf("%d", best.ID))
	if err != nil {
		return nil, err
	}
	return &Match{
		ISRC:       detail.ISRC,
		Title:      best.Title,
		Artist:     best.Artist.Name,
		PreviewURL: best.Preview,
		DurationMs: best.Duration * 1000,
	}, nil
}

func pickDeezerResult(results []deezerTrack, artist string, targetMs int64) deezerTrack {
	wantArtist := strings.ToLower(artist)
	for _, t := range results {
		gotArtist := strings.ToLower(t.Artist.Name)
		artistMatch := strings.Contains(gotArtist, wantArtist) || strings.Contains(wantArtist, gotArtist)
		durationMatch := targetMs <= 0 ||
			time.Duration(absDiff(t.Duration*1000, targetMs))*time.Millisecond < deezerPreferredDrift
		if artistMatch && durationMatch {
			return t
		}
	}
	return results[0]
}

func (d *DeezerClient) track(ctx context.Context, id string) (*deezerTrack, error) {
	var track deezerTrack
	if err := getJSON(ctx, d.client, d.limiter, d.baseURL+"/track/"+id, "Deezer API", &track); err != nil {
		return nil, err
	}
	// Deezer reports missing tracks with a 200 and an error object.
	if track.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, track.Error.Message)
	}
	return &track, nil
}

func (d *DeezerClient) search(ctx context.Context, query string) ([]deezerTrack, error) {
	var resp deezerSearchResponse
	reqURL := d.baseURL + "/search?q=" + url.QueryEscape(query)
	if err := getJSON(ctx, d.client, d.limiter, reqURL, "Deezer API", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (d *DeezerClient) toTrackInfo(track *deezerTrack) *TrackInfo {
	image := track.Album.CoverXL
	if image == "" {
		image = track.Album.CoverBig
	}
	return &TrackInfo{
		Title:      track.Title,
		Artist:     track.Artist.Name,
		Album:      track.Album.Title,
		DurationMs: track.Duration * 1000,
		ISRC:       track.ISRC,
		PreviewURL: track.Preview,
		ImageURL:   image,
		Year:       yearOf(track.ReleaseDate),
		Provider:   d.Name(),
	}
}
