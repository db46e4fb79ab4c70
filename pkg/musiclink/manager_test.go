package musiclink

import (
	"context"
	"strings"
	"testing"
)

func newTestManager() *Manager {
	return NewManager(
		NewSpotifyEmbedResolver(nil, ""),
		NewDeezerClient(nil, ""),
		NewAppleMusicResolver(nil, ""),
	)
}

func TestManager_CanResolve(t *testing.T) {
	t.Helper()

	manager := newTestManager()

	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{
			name:     "Spotify track URL",
			url:      "https://open.spotify.com/track/" + testTrackID,
			expected: true,
		},
		{
			name:     "Apple Music URL",
			url:      "https://music.apple.com/us/album/test/123?i=456",
			expected: true,
		},
		{
			name:     "Deezer URL",
			url:      "https://www.deezer.com/track/3135556",
			expected: true,
		},
		{
			name:     "YouTube URL - media, not music",
			url:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			expected: false,
		},
		{
			name:     "Unknown URL",
			url:      "https://example.com",
			expected: false,
		},
		{
			name:     "Empty string",
			url:      "",
			expected: false,
		},
		{
			name:     "Malformed URL",
			url:      "not-a-url",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := manager.CanResolve(tt.url)
			if result != tt.expected {
				t.Errorf("CanResolve() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestManager_ResolversFor(t *testing.T) {
	manager := newTestManager()

	got := manager.ResolversFor("https://www.deezer.com/track/3135556")
	if len(got) != 1 || got[0].Name() != "deezer" {
		t.Errorf("ResolversFor() = %v, want the deezer resolver only", got)
	}
	if got := manager.ResolversFor("https://example.com"); len(got) != 0 {
		t.Errorf("ResolversFor() = %v, want none", got)
	}
}

func TestManager_Resolve_NoResolverFound(t *testing.T) {
	t.Helper()

	manager := newTestManager()
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{
			name: "YouTube URL",
			url:  "https://youtu.be/dQw4w9WgXcQ",
		},
		{
			name: "Unknown domain",
			url:  "https://example.com",
		},
		{
			name: "Malformed URL",
			url:  "not-a-url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.Resolve(ctx, tt.url)
			if err == nil {
				t.Fatal("Resolve() expected error but got none")
			}
			if !strings.Contains(err.Error(), "no resolver found") {
				t.Errorf("Resolve() error = %v, want error containing 'no resolver found'", err)
			}
		})
	}
}
