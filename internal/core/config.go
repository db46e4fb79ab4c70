package core

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Spotify   SpotifyConfig
	LLM       LLMConfig
	Limiter   LimiterConfig
	Cache     CacheConfig
	Store     StoreConfig
	Race      RaceConfig
	Platform  PlatformConfig
	Delivery  DeliveryConfig
	Providers ProvidersConfig
	Telemetry TelemetryConfig
	App       AppConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FloodLimit   int
	FloodWindow  time.Duration
	TrustProxy   bool
}

type LogConfig struct {
	Level  string
	Format string
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

type LimiterConfig struct {
	Capacity int64
}

type CacheConfig struct {
	ResolutionTTL  time.Duration
	ResolutionSize int
	InfoTTL        time.Duration
	InfoSize       int
}

type StoreConfig struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	IndexCapacity int
	BloomFPRate   float64
}

type RaceConfig struct {
	LinkAggregateStagger time.Duration
	SemanticStagger      time.Duration
	HeuristicStagger     time.Duration
	PerfectDrift         time.Duration
	ExactGrace           time.Duration
	PerfectGrace         time.Duration
	SemanticGrace        time.Duration
	DefaultGrace         time.Duration
	Ceiling              time.Duration
	StrictTolerance      time.Duration
	LooseTolerance       time.Duration
}

type PlatformConfig struct {
	YtDlpPath         string
	Proxy             string
	YouTubeCookies    string
	FacebookCookies   string
	SocketTimeoutSecs int
	Retries           int
}

type DeliveryConfig struct {
	FFmpegPath        string
	DoublePipeDomains []string
	MP3Bitrate        string
}

type ProvidersConfig struct {
	HTTPTimeout       time.Duration
	OdesliBaseURL     string
	DeezerBaseURL     string
	ITunesBaseURL     string
	MusicBrainzURL    string
	SpotifyEmbedURL   string
	BackfillTolerance time.Duration
}

type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

type AppConfig struct {
	SeedPause time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0,
			FloodLimit:   30,
			FloodWindow:  time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		LLM: LLMConfig{
			Provider: "none",
			Timeout:  8 * time.Second,
		},
		Limiter: LimiterConfig{
			Capacity: 2,
		},
		Cache: CacheConfig{
			ResolutionTTL:  15 * time.Second,
			ResolutionSize: 512,
			InfoTTL:        2 * time.Hour,
			InfoSize:       256,
		},
		Store: StoreConfig{
			Backend:       "sqlite",
			Path:          "./nexstream_brain.db",
			RedisAddr:     "localhost:6379",
			RedisPrefix:   "nexstream:brain:",
			IndexCapacity: 100000,
			BloomFPRate:   0.001,
		},
		Race: RaceConfig{
			LinkAggregateStagger: 1500 * time.Millisecond,
			SemanticStagger:      6000 * time.Millisecond,
			HeuristicStagger:     8500 * time.Millisecond,
			PerfectDrift:         2000 * time.Millisecond,
			ExactGrace:           15000 * time.Millisecond,
			PerfectGrace:         2000 * time.Millisecond,
			SemanticGrace:        3000 * time.Millisecond,
			DefaultGrace:         1500 * time.Millisecond,
			Ceiling:              45 * time.Second,
			StrictTolerance:      15 * time.Second,
			LooseTolerance:       120 * time.Second,
		},
		Platform: PlatformConfig{
			YtDlpPath:         "yt-dlp",
			SocketTimeoutSecs: 30,
			Retries:           3,
		},
		Delivery: DeliveryConfig{
			FFmpegPath: "ffmpeg",
			DoublePipeDomains: []string{
				"facebook.com", "fb.watch", "instagram.com", "tiktok.com",
				"bilibili.com", "x.com", "twitter.com",
			},
			MP3Bitrate: "192k",
		},
		Providers: ProvidersConfig{
			HTTPTimeout:       10 * time.Second,
			OdesliBaseURL:     "https://api.odesli.co/v1-alpha.1",
			DeezerBaseURL:     "https://api.deezer.com",
			ITunesBaseURL:     "https://itunes.apple.com",
			MusicBrainzURL:    "https://musicbrainz.org/ws/2",
			SpotifyEmbedURL:   "https://open.spotify.com",
			BackfillTolerance: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "nexstream",
		},
		App: AppConfig{
			SeedPause: 5 * time.Second,
		},
	}
}
