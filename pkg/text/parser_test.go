package text

import (
	"errors"
	"testing"
)

// runStringTransformationTest is a helper to run tests for string transformation functions.
func runStringTransformationTest(t *testing.T, testName string,
	transformFunc func(string) string, testCases []struct {
		name     string
		input    string
		expected string
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := transformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", testName, result, tt.expected)
			}
		})
	}
}

// runBooleanTest is a helper to run tests for boolean functions.
func runBooleanTest(t *testing.T, testName string,
	testFunc func(string) bool, testCases []struct {
		name     string
		input    string
		expected bool
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := testFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %v, want %v", testName, result, tt.expected)
			}
		})
	}
}

func TestParser_ParseLink(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name     string
		input    string
		kind     LinkKind
		url      string
		service  string
		wantErr  error
	}{
		{
			"Spotify track link in text",
			"Check this out: https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc",
			KindSpotifyTrack,
			"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			"Spotify Music",
			nil,
		},
		{
			"Spotify URI",
			"spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			KindSpotifyTrack,
			"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			"Spotify Music",
			nil,
		},
		{
			"Spotify album",
			"https://open.spotify.com/album/1DFixLWuPkv3KT3TnV35m3",
			KindSpotifyCollection,
			"https://open.spotify.com/album/1DFixLWuPkv3KT3TnV35m3",
			"Spotify Music",
			nil,
		},
		{
			"Apple Music song",
			"https://music.apple.com/us/album/bohemian-rhapsody/1440806041?i=1440806768",
			KindMusicTrack,
			"https://music.apple.com/us/album/bohemian-rhapsody/1440806041?i=1440806768",
			"Apple Music",
			nil,
		},
		{
			"Deezer track",
			"https://www.deezer.com/track/3135556",
			KindMusicTrack,
			"https://www.deezer.com/track/3135556",
			"Deezer",
			nil,
		},
		{
			"YouTube video with trailing punctuation",
			"look https://www.youtube.com/watch?v=dQw4w9WgXcQ!",
			KindMedia,
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			"YouTube",
			nil,
		},
		{
			"Unsupported host",
			"https://example.com/video.mp4",
			KindUnsupported,
			"https://example.com/video.mp4",
			"YouTube",
			nil,
		},
		{
			"No URL",
			"just some words",
			KindUnsupported,
			"",
			"",
			ErrNoURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := parser.ParseLink(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseLink() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if link.Kind != tt.kind {
				t.Errorf("ParseLink() kind = %v, want %v", link.Kind, tt.kind)
			}
			if link.URL != tt.url {
				t.Errorf("ParseLink() url = %q, want %q", link.URL, tt.url)
			}
			if link.Service != tt.service {
				t.Errorf("ParseLink() service = %q, want %q", link.Service, tt.service)
			}
		})
	}
}

func TestIsSupported(t *testing.T) {
	runBooleanTest(t, "IsSupported", IsSupported, []struct {
		name     string
		input    string
		expected bool
	}{
		{"exact domain", "https://youtube.com/watch?v=x", true},
		{"subdomain", "https://m.youtube.com/watch?v=x", true},
		{"short link", "https://youtu.be/x", true},
		{"instagram reel", "https://www.instagram.com/reel/abc/", true},
		{"lookalike domain", "https://notyoutube.com/watch", false},
		{"non http scheme", "ftp://youtube.com/x", false},
		{"empty", "", false},
	})
}

func TestCookieType(t *testing.T) {
	runStringTransformationTest(t, "CookieType", CookieType, []struct {
		name     string
		input    string
		expected string
	}{
		{"facebook", "https://www.facebook.com/watch?v=1", "facebook"},
		{"fb.watch", "https://fb.watch/abc", "facebook"},
		{"youtube", "https://www.youtube.com/watch?v=1", "youtube"},
		{"spotify uses youtube jar", "https://open.spotify.com/track/1", "youtube"},
		{"tiktok has none", "https://www.tiktok.com/@a/video/1", ""},
	})
}

func TestCacheKey(t *testing.T) {
	runStringTransformationTest(t, "CacheKey", CacheKey, []struct {
		name     string
		input    string
		expected string
	}{
		{"strips query", "https://open.spotify.com/track/abc?si=123", "https://open.spotify.com/track/abc"},
		{"strips fragment", "https://open.spotify.com/track/abc#x", "https://open.spotify.com/track/abc"},
		{"unchanged", "https://open.spotify.com/track/abc", "https://open.spotify.com/track/abc"},
	})
}

func TestExtractSpotifyID(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		kind    string
		want    string
		wantErr bool
	}{
		{"track url", "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=x", "track", "4uLU6hMCjMI75M1A2tKUQC", false},
		{"intl track url", "https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC", false},
		{"playlist url", "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "playlist", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"track uri", "spotify:track:4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC", false},
		{"wrong kind", "https://open.spotify.com/album/abc", "track", "", true},
		{"not a url", "hello", "track", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSpotifyID(tt.url, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractSpotifyID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractSpotifyID() = %q, want %q", got, tt.want)
			}
		})
	}
}
