package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"nexstream/internal/core"
)

func TestClient_Disabled(t *testing.T) {
	client := NewClient(&core.SpotifyConfig{}, zap.NewNop(), nil)

	if client.Enabled() {
		t.Fatal("Enabled() = true without credentials")
	}
	if client.CanResolve("https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC") {
		t.Error("CanResolve() should be false without credentials")
	}
	if _, err := client.ListTrackURLs(context.Background(), "https://open.spotify.com/album/x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ListTrackURLs() error = %v, want ErrNotConfigured", err)
	}
}

func TestClient_CanResolve(t *testing.T) {
	client := NewClient(&core.SpotifyConfig{ClientID: "id", ClientSecret: "secret"}, zap.NewNop(), nil)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", true},
		{"spotify:track:4uLU6hMCjMI75M1A2tKUQC", true},
		{"https://open.spotify.com/album/4uLU6hMCjMI75M1A2tKUQC", false},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := client.CanResolve(tt.url); got != tt.want {
				t.Errorf("CanResolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertSpotifyTrack(t *testing.T) {
	client := NewClient(&core.SpotifyConfig{}, zap.NewNop(), nil)

	track := &spotify.FullTrack{}
	track.Name = "One More Time"
	track.Artists = []spotify.SimpleArtist{{Name: "Daft Punk"}, {Name: "Romanthony"}}
	track.Duration = 320357
	track.Album.Name = "Discovery"
	track.Album.ReleaseDate = "2001-03-12"
	track.Album.Images = []spotify.Image{{URL: "https://i.scdn.co/image/640"}, {URL: "https://i.scdn.co/image/64"}}

	info := client.convertSpotifyTrack(track)

	if info.Artist != "Daft Punk, Romanthony" {
		t.Errorf("Artist = %q", info.Artist)
	}
	if info.DurationMs != 320357 || info.Year != "2001" || info.Album != "Discovery" {
		t.Errorf("convertSpotifyTrack() = %+v", info)
	}
	if info.ImageURL != "https://i.scdn.co/image/640" {
		t.Errorf("ImageURL = %q, want the first (widest) image", info.ImageURL)
	}
	if info.Provider != "spotify-api" {
		t.Errorf("Provider = %q", info.Provider)
	}
}

func TestIsShortLink(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://spotify.link/abc123", true},
		{"https://spotify.app.link/abc123", true},
		{"https://open.spotify.com/track/abc", false},
		{"::", false},
	}
	for _, tt := range tests {
		if got := IsShortLink(tt.url); got != tt.want {
			t.Errorf("IsShortLink(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestExpand_LeavesCanonicalLinks(t *testing.T) {
	c := NewClient(&core.SpotifyConfig{}, zap.NewNop(), nil)
	url := "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT"
	if got := c.Expand(context.Background(), url); got != url {
		t.Errorf("Expand() = %q, want unchanged", got)
	}
}

func TestExpandShortLink_PageContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/short":
			http.Redirect(w, r, "/interstitial", http.StatusFound)
		case "/interstitial":
			fmt.Fprint(w, `<html><a href="https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=x">Open</a></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(&core.SpotifyConfig{}, zap.NewNop(), server.Client())
	got, err := client.ExpandShortLink(context.Background(), server.URL+"/short")
	if err != nil {
		t.Fatalf("ExpandShortLink() error = %v", err)
	}
	if got != "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("ExpandShortLink() = %q", got)
	}
}
