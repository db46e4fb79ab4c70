// Package musiclink provides music catalogue clients that read track metadata from links and
// look up recordings by ISRC or title.
package musiclink

import (
	"context"
)

// TrackInfo holds extracted track information from various music providers.
type TrackInfo struct {
	Title      string // Track title.
	Artist     string // Primary artist name.
	Album      string // Album or release title.
	DurationMs int64  // Track length in milliseconds, 0 if unknown.
	ISRC       string // International Standard Recording Code (if available).
	PreviewURL string // Short audio preview URL (if available).
	ImageURL   string // Largest cover art URL found.
	Year       string // Release year (if available).
	Provider   string // Name of the provider that produced this info.
}

// Resolver defines the interface for resolving music links from various providers to track information.
type Resolver interface {
	// Resolve extracts track information from a music provider URL.
	Resolve(ctx context.Context, url string) (*TrackInfo, error)

	// CanResolve checks if this resolver can handle the given URL.
	CanResolve(url string) bool

	// Name identifies the provider in logs and metadata.
	Name() string
}

// Match is the outcome of a catalogue search by ISRC or title.
type Match struct {
	ISRC       string
	Title      string
	Artist     string
	PreviewURL string
	DurationMs int64
}

// Searcher finds a recording in a catalogue. isrc may be empty. A targetMs of 0 disables the
// duration check.
type Searcher interface {
	Search(ctx context.Context, title, artist, isrc string, targetMs int64) (*Match, error)
	Name() string
}
