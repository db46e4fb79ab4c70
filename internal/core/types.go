package core

import (
	"context"
	"io"
	"sync"
	"time"
)

// BrowserUserAgent is sent on every outbound request that imitates a desktop browser.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

type CandidateType int

const (
	// CandidateExactID represents a platform search keyed by ISRC
	CandidateExactID CandidateType = iota
	// CandidateLinkAggregate represents a cross-platform link lookup
	CandidateLinkAggregate
	// CandidateSemantic represents an LLM generated search query
	CandidateSemantic
	// CandidateHeuristic represents a plain "title artist" search
	CandidateHeuristic
)

var candidateTypeNames = [...]string{"exact_id", "link_aggregate", "semantic", "heuristic"}

func (c CandidateType) String() string {
	if int(c) < 0 || int(c) >= len(candidateTypeNames) {
		return "unknown"
	}
	return candidateTypeNames[c]
}

// TrackMetadata is a point-in-time copy of what is known about a music track.
type TrackMetadata struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMs int64  `json:"duration"`
	ISRC       string `json:"isrc,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Year       string `json:"year,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Metadata accumulates TrackMetadata from several providers. It is safe for concurrent use.
type Metadata struct {
	mu   sync.RWMutex
	data TrackMetadata
}

// NewMetadata creates an accumulator seeded with initial.
func NewMetadata(initial TrackMetadata) *Metadata {
	return &Metadata{data: initial}
}

// Snapshot returns a copy of the current metadata.
func (m *Metadata) Snapshot() TrackMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Merge fills empty fields from patch and reports whether anything changed. Populated fields are
// never overwritten.
func (m *Metadata) Merge(patch TrackMetadata) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}

	fill(&m.data.Title, patch.Title)
	fill(&m.data.Artist, patch.Artist)
	fill(&m.data.Album, patch.Album)
	fill(&m.data.ISRC, patch.ISRC)
	fill(&m.data.PreviewURL, patch.PreviewURL)
	fill(&m.data.ImageURL, patch.ImageURL)
	fill(&m.data.Year, patch.Year)
	fill(&m.data.Source, patch.Source)
	if m.data.DurationMs == 0 && patch.DurationMs > 0 {
		m.data.DurationMs = patch.DurationMs
		changed = true
	}

	return changed
}

// Update applies fn under the write lock. It is used for upgrades that replace a populated field,
// such as a higher resolution cover.
func (m *Metadata) Update(fn func(*TrackMetadata)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.data)
}

// RawFormat is a single format entry as reported by the media platform extractor.
type RawFormat struct {
	FormatID       string            `json:"format_id"`
	Ext            string            `json:"ext"`
	URL            string            `json:"url"`
	Protocol       string            `json:"protocol"`
	VCodec         string            `json:"vcodec"`
	ACodec         string            `json:"acodec"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Resolution     string            `json:"resolution"`
	FormatNote     string            `json:"format_note"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	TBR            float64           `json:"tbr"`
	ABR            float64           `json:"abr"`
	FPS            float64           `json:"fps"`
	HTTPHeaders    map[string]string `json:"http_headers,omitempty"`
}

// HasVideo reports whether the format carries a video track.
func (f RawFormat) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the format carries an audio track.
func (f RawFormat) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

type Thumbnail struct {
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Preference int    `json:"preference"`
}

// ProviderInfo is the extractor's description of a media page.
type ProviderInfo struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Uploader    string      `json:"uploader"`
	Channel     string      `json:"channel"`
	Artist      string      `json:"artist"`
	Track       string      `json:"track"`
	Album       string      `json:"album"`
	WebpageURL  string      `json:"webpage_url"`
	URL         string      `json:"url"`
	Extractor   string      `json:"extractor_key"`
	Duration    float64     `json:"duration"`
	Timestamp   int64       `json:"timestamp"`
	Thumbnail   string      `json:"thumbnail"`
	Thumbnails  []Thumbnail `json:"thumbnails"`
	Formats     []RawFormat `json:"formats"`
}

// DurationSeconds returns the media duration in seconds.
func (p *ProviderInfo) DurationSeconds() float64 {
	if p == nil {
		return 0
	}
	return p.Duration
}

// MatchResult is a candidate's answer to "which platform URL plays this track".
type MatchResult struct {
	ResolvedURL string
	Info        *ProviderInfo
	DriftMs     int64
}

// RaceOutcome is the settled result of a candidate race.
type RaceOutcome struct {
	Match        *MatchResult
	Type         CandidateType
	Priority     int
	IsExactMatch bool
	Reason       string
}

type VideoFormat struct {
	FormatID  string  `json:"formatId"`
	Extension string  `json:"extension"`
	Quality   string  `json:"quality"`
	Filesize  int64   `json:"filesize,omitempty"`
	FPS       float64 `json:"fps,omitempty"`
	Height    int     `json:"height,omitempty"`
	VCodec    string  `json:"vcodec,omitempty"`
	HasAudio  bool    `json:"hasAudio"`
}

type AudioFormat struct {
	FormatID  string  `json:"formatId"`
	Extension string  `json:"extension"`
	Quality   string  `json:"quality"`
	Filesize  int64   `json:"filesize,omitempty"`
	ABR       float64 `json:"abr,omitempty"`
	VCodec    string  `json:"vcodec,omitempty"`
	AudioOnly bool    `json:"audioOnly"`
}

// CacheRecord is the durable record of a resolved music source.
type CacheRecord struct {
	SourceURL    string        `json:"url"`
	Title        string        `json:"title"`
	Artist       string        `json:"artist"`
	Album        string        `json:"album"`
	ImageURL     string        `json:"imageUrl"`
	DurationMs   int64         `json:"duration"`
	ISRC         string        `json:"isrc"`
	PreviewURL   string        `json:"previewUrl"`
	ResolvedURL  string        `json:"youtubeUrl"`
	Year         string        `json:"year"`
	Formats      []VideoFormat `json:"formats"`
	AudioFormats []AudioFormat `json:"audioFormats"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Metadata returns the track metadata stored in the record.
func (r *CacheRecord) Metadata() TrackMetadata {
	return TrackMetadata{
		Title:      r.Title,
		Artist:     r.Artist,
		Album:      r.Album,
		DurationMs: r.DurationMs,
		ISRC:       r.ISRC,
		PreviewURL: r.PreviewURL,
		ImageURL:   r.ImageURL,
		Year:       r.Year,
		Source:     "brain",
	}
}

// Resolution is the answer returned to clients for an info request.
type Resolution struct {
	SourceURL    string         `json:"sourceUrl"`
	Service      string         `json:"service"`
	Title        string         `json:"title"`
	Artist       string         `json:"artist"`
	Album        string         `json:"album"`
	Cover        string         `json:"cover"`
	Thumbnail    string         `json:"thumbnail"`
	Duration     float64        `json:"duration"`
	PreviewURL   string         `json:"previewUrl,omitempty"`
	ISRC         string         `json:"isrc,omitempty"`
	Year         string         `json:"year,omitempty"`
	TargetURL    string         `json:"targetUrl"`
	IsExactMatch bool           `json:"isIsrcMatch"`
	CacheTier    string         `json:"cacheTier,omitempty"`
	Formats      []VideoFormat  `json:"formats"`
	AudioFormats []AudioFormat  `json:"audioFormats"`
	Metadata     *TrackMetadata `json:"spotifyMetadata,omitempty"`
}

// AggregateLink is a cross-platform lookup result.
type AggregateLink struct {
	URL       string
	Thumbnail string
}

// SearchOptions tunes a platform search.
type SearchOptions struct {
	// SkipPlayerArgs omits the player-skip extractor arguments. Exact-id searches need the full
	// player response.
	SkipPlayerArgs bool
}

// DeliveryRequest describes what a client wants streamed.
type DeliveryRequest struct {
	SourceURL string
	TargetURL string
	Format    string
	FormatID  string
	Title     string
	Artist    string
	Info      *ProviderInfo
}

// MediaStream is a running delivery. Reading yields the muxed bytes.
type MediaStream interface {
	io.ReadCloser
	Cancel()
	Done() <-chan struct{}
	Err() error
	Strategy() string
	BytesSent() int64
}

type PlatformSearcher interface {
	Search(ctx context.Context, query string, targetMs int64, opts SearchOptions) (*MatchResult, error)
}

type PlatformInspector interface {
	Info(ctx context.Context, url string) (*ProviderInfo, error)
}

// MediaDescription is the client-facing summary of a media page.
type MediaDescription struct {
	Title        string
	Thumbnail    string
	Formats      []VideoFormat
	AudioFormats []AudioFormat
}

// MediaDescriber inspects media pages and summarizes them for clients.
type MediaDescriber interface {
	PlatformInspector
	Describe(info *ProviderInfo) MediaDescription
}

type ISRCFinder interface {
	FindISRC(ctx context.Context, meta TrackMetadata) (isrc, previewURL string, err error)
}

type LinkAggregator interface {
	Lookup(ctx context.Context, sourceURL string) (*AggregateLink, error)
}

type SemanticQueryGenerator interface {
	GenerateQuery(ctx context.Context, meta TrackMetadata) (string, error)
}

type PersistentCache interface {
	Get(ctx context.Context, sourceURL string) (*CacheRecord, error)
	Put(ctx context.Context, record *CacheRecord) error
}

type ResolutionCache interface {
	Get(key string) (*Resolution, bool)
	Put(key string, res *Resolution)
}

type MetadataFetcher interface {
	FetchInitial(ctx context.Context, sourceURL string, sink ProgressSink) (*Metadata, error)
}

type PreviewRefresher interface {
	Refresh(ctx context.Context, sourceURL string, meta TrackMetadata) string
}

type CandidateRacer interface {
	Race(ctx context.Context, sourceURL string, meta *Metadata, sink ProgressSink) (*RaceOutcome, error)
}

type Deliverer interface {
	Stream(ctx context.Context, req DeliveryRequest, sink ProgressSink) (MediaStream, error)
}

// LinkExpander rewrites share links to their canonical form.
type LinkExpander interface {
	Expand(ctx context.Context, rawURL string) string
}

type TrackLister interface {
	ListTrackURLs(ctx context.Context, collectionURL string) ([]string, error)
}
