package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

//nolint:dupl // CanResolve tests intentionally follow same pattern across all resolvers for consistency.
func TestAppleMusicResolver_CanResolve(t *testing.T) {
	t.Helper()

	resolver := NewAppleMusicResolver(nil, "")

	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{
			name:     "Valid music.apple.com URL",
			url:      "https://music.apple.com/us/album/never-gonna-give-you-up/123456?i=789",
			expected: true,
		},
		{
			name:     "Valid itunes.apple.com URL (legacy)",
			url:      "https://itunes.apple.com/us/album/some-album/id123",
			expected: true,
		},
		{
			name:     "Valid with different country code",
			url:      "https://music.apple.com/gb/album/track/123",
			expected: true,
		},
		{
			name:     "Valid direct song link",
			url:      "https://music.apple.com/us/song/track-name/123456789",
			expected: true,
		},
		{
			name:     "Invalid - regular apple.com",
			url:      "https://apple.com",
			expected: false,
		},
		{
			name:     "Invalid - www.apple.com",
			url:      "https://www.apple.com/music",
			expected: false,
		},
		{
			name:     "Invalid - non-Apple URL",
			url:      "https://example.com",
			expected: false,
		},
		{
			name:     "Invalid - Spotify URL",
			url:      "https://open.spotify.com/track/123",
			expected: false,
		},
		{
			name:     "Invalid - malformed URL",
			url:      "not-a-valid-url",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := resolver.CanResolve(tt.url)
			if result != tt.expected {
				t.Errorf("CanResolve() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestAppleMusicResolver_extractTrackID(t *testing.T) {
	t.Helper()

	resolver := NewAppleMusicResolver(nil, "")

	tests := []struct {
		name       string
		url        string
		expectedID string
		wantError  bool
	}{
		{
			name:       "Query parameter format with i=",
			url:        "https://music.apple.com/us/album/album-name/123456?i=789012345",
			expectedID: "789012345",
			wantError:  false,
		},
		{
			name:       "Direct song link format",
			url:        "https://music.apple.com/us/song/track-name/987654321",
			expectedID: "987654321",
			wantError:  false,
		},
		{
			name:       "Song link with multiple path segments",
			url:        "https://music.apple.com/gb/song/artist-song-title/555666777",
			expectedID: "555666777",
			wantError:  false,
		},
		{
			name:       "Query parameter with other params",
			url:        "https://music.apple.com/us/album/test/123?app=music&i=456789",
			expectedID: "456789",
			wantError:  false,
		},
		{
			name:      "Album link without i= parameter",
			url:       "https://music.apple.com/us/album/album-name/123456",
			wantError: true,
		},
		{
			name:      "No track ID in URL",
			url:       "https://music.apple.com/us/browse",
			wantError: true,
		},
		{
			name:      "Empty query parameter",
			url:       "https://music.apple.com/us/album/test/123?i=",
			wantError: true,
		},
		{
			name:       "Song path extracts last segment",
			url:        "https://music.apple.com/us/song/",
			expectedID: "song",
			wantError:  false,
		},
		{
			name:      "Malformed URL",
			url:       "not-a-url",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trackID, err := resolver.extractTrackID(tt.url)
			if tt.wantError {
				if err == nil {
					t.Errorf("extractTrackID() expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("extractTrackID() unexpected error: %v", err)
				}
				if trackID != tt.expectedID {
					t.Errorf("extractTrackID() = %v, want %v", trackID, tt.expectedID)
				}
			}
		})
	}
}

func TestAppleMusicResolver_Resolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lookup" || r.URL.Query().Get("id") != "1440806768" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"resultCount":1,"results":[{"wrapperType":"track","trackId":1440806768,
			"trackName":"Bohemian Rhapsody","artistName":"Queen","collectionName":"A Night at the Opera",
			"trackTimeMillis":354947,"previewUrl":"https://audio.example/preview.m4a",
			"artworkUrl100":"https://is1.example/100x100bb.jpg","releaseDate":"1975-10-31T12:00:00Z"}]}`)
	}))
	defer server.Close()

	resolver := NewAppleMusicResolver(server.Client(), server.URL)
	info, err := resolver.Resolve(context.Background(),
		"https://music.apple.com/us/album/bohemian-rhapsody/1440806041?i=1440806768")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if info.Title != "Bohemian Rhapsody" || info.Artist != "Queen" {
		t.Errorf("Resolve() = %q by %q", info.Title, info.Artist)
	}
	if info.DurationMs != 354947 {
		t.Errorf("DurationMs = %d, want 354947", info.DurationMs)
	}
	if info.ImageURL != "https://is1.example/600x600bb.jpg" {
		t.Errorf("ImageURL = %q, want upgraded artwork", info.ImageURL)
	}
	if info.Year != "1975" {
		t.Errorf("Year = %q, want 1975", info.Year)
	}
}

func TestAppleMusicResolver_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultCount":2,"results":[
			{"trackName":"Song (Live)","trackTimeMillis":260000,"previewUrl":"https://audio.example/live.m4a"},
			{"trackName":"Song","trackTimeMillis":201000,"previewUrl":"https://audio.example/studio.m4a","isrc":"USUM71703861"}]}`)
	}))
	defer server.Close()

	resolver := NewAppleMusicResolver(server.Client(), server.URL)

	tests := []struct {
		name        string
		targetMs    int64
		wantPreview string
		wantErr     error
	}{
		{"closest duration wins", 200000, "https://audio.example/studio.m4a", nil},
		{"no target takes first", 0, "https://audio.example/live.m4a", nil},
		{"all too far", 100000, "", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := resolver.Search(context.Background(), "Song", "Artist", "", tt.targetMs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Search() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && match.PreviewURL != tt.wantPreview {
				t.Errorf("PreviewURL = %q, want %q", match.PreviewURL, tt.wantPreview)
			}
		})
	}
}
