package core

import (
	"context"
	"errors"
)

var (
	// ErrMetadataUnavailable is returned when no metadata provider produced a result.
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	// ErrNoMatchFound is returned when every race candidate finished without a match.
	ErrNoMatchFound = errors.New("no match found")
	// ErrRaceTimeout is returned when a race hit its hard ceiling.
	ErrRaceTimeout = errors.New("race timed out")
	// ErrStreamInterrupted is returned when a delivery failed after bytes were sent.
	ErrStreamInterrupted = errors.New("stream interrupted")
	// ErrUnsupportedSource is returned for URLs outside the supported domain list.
	ErrUnsupportedSource = errors.New("unsupported source")
)

// UserMessage returns a stable client-facing message for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedSource):
		return "No valid URL provided"
	case errors.Is(err, ErrMetadataUnavailable):
		return "Could not read track metadata"
	case errors.Is(err, ErrNoMatchFound):
		return "No playable match found for this track"
	case errors.Is(err, ErrRaceTimeout):
		return "Resolution timed out"
	case errors.Is(err, ErrStreamInterrupted):
		return "Stream interrupted"
	}
	return "Internal server error"
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedSource):
		return "unsupported"
	case errors.Is(err, ErrMetadataUnavailable):
		return "metadata_unavailable"
	case errors.Is(err, ErrNoMatchFound):
		return "no_match"
	case errors.Is(err, ErrRaceTimeout):
		return "timeout"
	case errors.Is(err, ErrStreamInterrupted):
		return "interrupted"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error"
}
