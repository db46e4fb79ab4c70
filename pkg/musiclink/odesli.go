package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// OdesliBaseURL is the song.link API root.
const OdesliBaseURL = "https://api.odesli.co/v1-alpha.1"

type odesliPlatformLink struct {
	URL            string `json:"url"`
	EntityUniqueID string `json:"entityUniqueId"`
}

type odesliEntity struct {
	Title        string `json:"title"`
	ArtistName   string `json:"artistName"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

type odesliResponse struct {
	LinksByPlatform    map[string]odesliPlatformLink `json:"linksByPlatform"`
	EntitiesByUniqueID map[string]odesliEntity       `json:"entitiesByUniqueId"`
}

// CrossLink is a link to the same recording on another platform.
type CrossLink struct {
	URL          string
	Title        string
	Artist       string
	ThumbnailURL string
}

// OdesliClient maps a music link to its equivalents on other platforms.
type OdesliClient struct {
	client  *http.Client
	baseURL string
}

// NewOdesliClient creates a new client. baseURL defaults to OdesliBaseURL.
func NewOdesliClient(client *http.Client, baseURL string) *OdesliClient {
	if baseURL == "" {
		baseURL = OdesliBaseURL
	}
	return &OdesliClient{
		client:  clientOrDefault(client),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// YouTubeLink returns the YouTube (or YouTube Music) link for sourceURL.
func (c *OdesliClient) YouTubeLink(ctx context.Context, sourceURL string) (*CrossLink, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return nil, errors.New("invalid source URL")
	}
	u.Fragment = ""

	var resp odesliResponse
	reqURL := fmt.Sprintf("%s/links?url=%s", c.baseURL, url.QueryEscape(u.String()))
	if err := getJSON(ctx, c.client, nil, reqURL, "Odesli API", &resp); err != nil {
		return nil, err
	}

	link, ok := resp.LinksByPlatform["youtube"]
	if !ok || link.URL == "" {
		link, ok = resp.LinksByPlatform["youtubeMusic"]
	}
	if !ok || link.URL == "" {
		return nil, ErrNotFound
	}

	entity := resp.EntitiesByUniqueID[link.EntityUniqueID]
	return &CrossLink{
		URL:          link.URL,
		Title:        entity.Title,
		Artist:       entity.ArtistName,
		ThumbnailURL: entity.ThumbnailURL,
	}, nil
}
