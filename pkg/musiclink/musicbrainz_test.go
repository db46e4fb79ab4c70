package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMusicBrainzClient_ReleaseYear(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/isrc/GBDUW0000059":
			fmt.Fprint(w, `{"recordings":[
{"title":"Harder, Better, Faster, Stronger","releases":[{"date":"2005-01-24"},{"date":""}]},
{"title":"Harder, Better, Faster, Stronger","releases":[{"date":"2001-03-12"}]}]}`)
		case "/isrc/NODATES":
			fmt.Fprint(w, `{"recordings":[{"releases":[{"date":""}]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewMusicBrainzClient(server.Client(), server.URL)
	ctx := context.Background()

	year, err := client.ReleaseYear(ctx, "GBDUW0000059")
	if err != nil {
		t.Fatalf("ReleaseYear() error = %v", err)
	}
	if year != "2001" {
		t.Errorf("ReleaseYear() = %q, want earliest year 2001", year)
	}
	if !strings.HasPrefix(userAgent, "nexstream/") {
		t.Errorf("User-Agent = %q, want application identifier", userAgent)
	}

	for _, isrc := range []string{"", "NODATES", "MISSING"} {
		if _, err := client.ReleaseYear(ctx, isrc); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReleaseYear(%q) error = %v, want ErrNotFound", isrc, err)
		}
	}
}
