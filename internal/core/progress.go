package core

// Progress statuses sent to clients.
const (
	StatusFetchingInfo = "fetching_info"
	StatusInitializing = "initializing"
	StatusDownloading  = "downloading"
	StatusSeeding      = "seeding"
	StatusError        = "error"
)

// ProgressEvent is one advisory update for a client. Progress values are hints and may arrive
// out of order.
type ProgressEvent struct {
	Status         string         `json:"status"`
	Progress       int            `json:"progress,omitempty"`
	SubStatus      string         `json:"subStatus,omitempty"`
	Details        string         `json:"details,omitempty"`
	Message        string         `json:"message,omitempty"`
	MetadataUpdate *TrackMetadata `json:"metadata_update,omitempty"`
}

// ProgressSink receives progress events. Emit must not block.
type ProgressSink interface {
	Emit(event ProgressEvent)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(ProgressEvent) {}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ProgressEvent)

func (f SinkFunc) Emit(event ProgressEvent) { f(event) }

// SinkOrNop returns sink, or a NopSink when sink is nil.
func SinkOrNop(sink ProgressSink) ProgressSink {
	if sink == nil {
		return NopSink{}
	}
	return sink
}
