package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMetadata_MergeNeverOverwrites(t *testing.T) {
	meta := NewMetadata(TrackMetadata{Title: "Original", Artist: "Artist", Source: "spotify"})

	changed := meta.Merge(TrackMetadata{
		Title:      "Replacement",
		Album:      "Album",
		DurationMs: 180000,
		ISRC:       "GBUM71029604",
		Source:     "deezer",
	})
	if !changed {
		t.Fatal("Merge should report a change when empty fields are filled")
	}

	got := meta.Snapshot()
	if got.Title != "Original" {
		t.Errorf("Title = %q, want Original", got.Title)
	}
	if got.Album != "Album" || got.ISRC != "GBUM71029604" || got.DurationMs != 180000 {
		t.Errorf("empty fields were not filled: %+v", got)
	}
	if got.Source != "spotify" {
		t.Errorf("Source = %q, want spotify", got.Source)
	}

	if meta.Merge(TrackMetadata{Title: "Other"}) {
		t.Error("Merge should report no change when nothing new was filled")
	}
}

func TestMetadata_UpdateReplaces(t *testing.T) {
	meta := NewMetadata(TrackMetadata{ImageURL: "small.jpg"})
	meta.Update(func(m *TrackMetadata) { m.ImageURL = "large.jpg" })

	if got := meta.Snapshot().ImageURL; got != "large.jpg" {
		t.Errorf("ImageURL = %q, want large.jpg", got)
	}
}

func TestMetadata_ConcurrentMerge(t *testing.T) {
	meta := NewMetadata(TrackMetadata{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta.Merge(TrackMetadata{Title: fmt.Sprintf("title-%d", i)})
			_ = meta.Snapshot()
		}(i)
	}
	wg.Wait()

	if meta.Snapshot().Title == "" {
		t.Error("one of the concurrent merges should have set the title")
	}
}

func TestCandidateType_String(t *testing.T) {
	tests := []struct {
		candidate CandidateType
		expected  string
	}{
		{CandidateExactID, "exact_id"},
		{CandidateLinkAggregate, "link_aggregate"},
		{CandidateSemantic, "semantic"},
		{CandidateHeuristic, "heuristic"},
		{CandidateType(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.candidate.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRawFormat_Tracks(t *testing.T) {
	video := RawFormat{VCodec: "avc1.64001F", ACodec: "none"}
	if !video.HasVideo() || video.HasAudio() {
		t.Errorf("video-only format misclassified: video=%v audio=%v", video.HasVideo(), video.HasAudio())
	}

	audio := RawFormat{VCodec: "none", ACodec: "opus"}
	if audio.HasVideo() || !audio.HasAudio() {
		t.Errorf("audio-only format misclassified: video=%v audio=%v", audio.HasVideo(), audio.HasAudio())
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"unsupported", ErrUnsupportedSource, "No valid URL provided"},
		{"wrapped no match", fmt.Errorf("race: %w", ErrNoMatchFound), "No playable match found for this track"},
		{"timeout", ErrRaceTimeout, "Resolution timed out"},
		{"interrupted", ErrStreamInterrupted, "Stream interrupted"},
		{"unknown", errors.New("boom"), "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %q, want %q", got, tt.expected)
			}
		})
	}
}
