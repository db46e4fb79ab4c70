package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOdesliClient_YouTubeLink(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantURL string
		wantErr error
	}{
		{
			name: "prefers youtube",
			body: `{"linksByPlatform":{
"youtube":{"url":"https://www.youtube.com/watch?v=yt","entityUniqueId":"YOUTUBE_VIDEO::yt"},
"youtubeMusic":{"url":"https://music.youtube.com/watch?v=ytm","entityUniqueId":"YOUTUBE_VIDEO::yt"}},
"entitiesByUniqueId":{"YOUTUBE_VIDEO::yt":{"title":"Song","artistName":"Artist","thumbnailUrl":"https://i.ytimg.com/t.jpg"}}}`,
			wantURL: "https://www.youtube.com/watch?v=yt",
		},
		{
			name: "falls back to youtube music",
			body: `{"linksByPlatform":{
"youtubeMusic":{"url":"https://music.youtube.com/watch?v=ytm","entityUniqueId":"YOUTUBE_VIDEO::ytm"}},
"entitiesByUniqueId":{}}`,
			wantURL: "https://music.youtube.com/watch?v=ytm",
		},
		{
			name:    "no youtube link",
			body:    `{"linksByPlatform":{"deezer":{"url":"https://www.deezer.com/track/1"}}}`,
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.Query().Get("url")
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewOdesliClient(server.Client(), server.URL)
			link, err := client.YouTubeLink(context.Background(), "https://open.spotify.com/track/"+testTrackID+"#frag")

			if gotQuery != "https://open.spotify.com/track/"+testTrackID {
				t.Errorf("query url = %q, want fragment stripped", gotQuery)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("YouTubeLink() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("YouTubeLink() error = %v", err)
			}
			if link.URL != tt.wantURL {
				t.Errorf("YouTubeLink() URL = %q, want %q", link.URL, tt.wantURL)
			}
		})
	}
}

func TestOdesliClient_InvalidURL(t *testing.T) {
	client := NewOdesliClient(nil, "http://127.0.0.1:0")
	if _, err := client.YouTubeLink(context.Background(), "not a url"); err == nil {
		t.Error("YouTubeLink() should reject a URL without host")
	}
}
