package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractTitleAndArtistFromTitleTag_StandardCases(t *testing.T) {
	t.Helper()

	tests := []struct {
		name           string
		html           string
		serviceSuffix  string
		separator      string
		expectedTitle  string
		expectedArtist string
	}{
		{
			name:           "Standard format with suffix and separator",
			html:           `<title>Never Gonna Give You Up by Rick Astley on YouTube</title>`,
			serviceSuffix:  " on YouTube",
			separator:      " by ",
			expectedTitle:  "Never Gonna Give You Up",
			expectedArtist: "Rick Astley",
		},
		{
			name:           "With service suffix but no separator",
			html:           `<title>Some Track Name on Spotify</title>`,
			serviceSuffix:  " on Spotify",
			separator:      " by ",
			expectedTitle:  "Some Track Name",
			expectedArtist: "",
		},
		{
			name:           "No service suffix",
			html:           `<title>Track Title by Artist Name</title>`,
			serviceSuffix:  "",
			separator:      " by ",
			expectedTitle:  "Track Title",
			expectedArtist: "Artist Name",
		},
		{
			name:           "No separator provided",
			html:           `<title>Just a Title</title>`,
			serviceSuffix:  "",
			separator:      "",
			expectedTitle:  "Just a Title",
			expectedArtist: "",
		},
		{
			name:           "Multiple spaces should be trimmed",
			html:           `<title>  Track Name  by  Artist Name  on Service  </title>`,
			serviceSuffix:  "  on Service  ",
			separator:      " by ",
			expectedTitle:  "Track Name",
			expectedArtist: "Artist Name",
		},
		{
			name:           "Title tag with multiple separators",
			html:           `<title>Artist by Someone by Another on Service</title>`,
			serviceSuffix:  " on Service",
			separator:      " by ",
			expectedTitle:  "Artist",
			expectedArtist: "Someone by Another",
		},
		{
			name:           "Separator not present in title",
			html:           `<title>Track Title on Service</title>`,
			serviceSuffix:  " on Service",
			separator:      " by ",
			expectedTitle:  "Track Title",
			expectedArtist: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, artist := extractTitleAndArtistFromTitleTag(tt.html, tt.serviceSuffix, tt.separator)
			if title != tt.expectedTitle {
				t.Errorf("extractTitleAndArtistFromTitleTag() title = %q, want %q", title, tt.expectedTitle)
			}
			if artist != tt.expectedArtist {
				t.Errorf("extractTitleAndArtistFromTitleTag() artist = %q, want %q", artist, tt.expectedArtist)
			}
		})
	}
}

func TestExtractTitleAndArtistFromTitleTag_EdgeCases(t *testing.T) {
	t.Helper()

	tests := []struct {
		name           string
		html           string
		serviceSuffix  string
		separator      string
		expectedTitle  string
		expectedArtist string
	}{
		{
			name:           "No title tag found",
			html:           `<html><body>No title here</body></html>`,
			serviceSuffix:  " on Service",
			separator:      " by ",
			expectedTitle:  "",
			expectedArtist: "",
		},
		{
			name:           "Empty HTML",
			html:           ``,
			serviceSuffix:  " on Service",
			separator:      " by ",
			expectedTitle:  "",
			expectedArtist: "",
		},
		{
			name:           "Multiple title tags takes first",
			html:           `<title>First Title by First Artist</title><title>Second Title</title>`,
			serviceSuffix:  "",
			separator:      " by ",
			expectedTitle:  "First Title",
			expectedArtist: "First Artist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, artist := extractTitleAndArtistFromTitleTag(tt.html, tt.serviceSuffix, tt.separator)
			if title != tt.expectedTitle {
				t.Errorf("extractTitleAndArtistFromTitleTag() title = %q, want %q", title, tt.expectedTitle)
			}
			if artist != tt.expectedArtist {
				t.Errorf("extractTitleAndArtistFromTitleTag() artist = %q, want %q", artist, tt.expectedArtist)
			}
		})
	}
}

func TestExtractOGImage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"plain", `<meta property="og:image" content="https://img/a.jpg">`, "https://img/a.jpg"},
		{"escaped query", `<meta property="og:image" content="https://img/a.jpg?w=640&amp;h=640" />`, "https://img/a.jpg?w=640&h=640"},
		{"missing", `<meta property="og:title" content="Song">`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractOGImage(tt.html); got != tt.want {
				t.Errorf("extractOGImage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, `{"name":"value"}`)
		case "/broken":
			fmt.Fprint(w, `{`)
		case "/fail":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	var dest struct {
		Name string `json:"name"`
	}

	if err := getJSON(ctx, server.Client(), nil, server.URL+"/ok", "test", &dest); err != nil || dest.Name != "value" {
		t.Errorf("getJSON(/ok) = %v, %+v", err, dest)
	}
	if err := getJSON(ctx, server.Client(), nil, server.URL+"/missing", "test", &dest); !errors.Is(err, ErrNotFound) {
		t.Errorf("getJSON(/missing) error = %v, want ErrNotFound", err)
	}
	if err := getJSON(ctx, server.Client(), nil, server.URL+"/fail", "test", &dest); err == nil {
		t.Error("getJSON(/fail) expected error")
	}
	if err := getJSON(ctx, server.Client(), nil, server.URL+"/broken", "test", &dest); err == nil {
		t.Error("getJSON(/broken) expected decode error")
	}
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		target, candidate int64
		want              bool
	}{
		{0, 500000, true},
		{200000, 209000, true},
		{200000, 210000, true},
		{200000, 210001, false},
		{200000, 185000, false},
	}
	for _, tt := range tests {
		if got := withinTolerance(tt.target, tt.candidate); got != tt.want {
			t.Errorf("withinTolerance(%d, %d) = %v, want %v", tt.target, tt.candidate, got, tt.want)
		}
	}
}
