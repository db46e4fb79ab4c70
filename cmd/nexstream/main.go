// Package main provides the nexstream CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"nexstream/internal/core"
	httpserver "nexstream/internal/http"
)

const (
	defaultServerHost = "0.0.0.0"
	envPrefix         = "NEXSTREAM"
	noneProvider      = "none"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nexstream",
	Short: "nexstream - music link and video resolver",
	Long: `nexstream resolves music links (Spotify, Apple Music, Deezer, ...) to a playable video
target, describes media links from supported platforms, and streams either as a download.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, console)")

	flags.String("server-host", defaults.Server.Host, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")
	flags.Duration("server-read-timeout", defaults.Server.ReadTimeout, "HTTP read timeout")
	flags.Duration("server-write-timeout", defaults.Server.WriteTimeout, "HTTP write timeout (0 keeps long downloads open)")
	flags.Int("flood-limit", defaults.Server.FloodLimit, "Maximum info/convert requests per client per window")
	flags.Duration("flood-window", defaults.Server.FloodWindow, "Flood limit window")
	flags.Bool("trust-proxy", defaults.Server.TrustProxy, "Use X-Forwarded-For for client addresses")

	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")

	flags.String("llm-provider", defaults.LLM.Provider, "LLM provider (openai, anthropic, ollama, none)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM base URL (ollama or compatible endpoints)")
	flags.Duration("llm-timeout", defaults.LLM.Timeout, "LLM request timeout")

	flags.Int64("limiter-capacity", defaults.Limiter.Capacity, "Weight of concurrently running yt-dlp/ffmpeg jobs")

	flags.Duration("cache-resolution-ttl", defaults.Cache.ResolutionTTL, "In-memory resolution cache TTL")
	flags.Int("cache-resolution-size", defaults.Cache.ResolutionSize, "In-memory resolution cache entries")
	flags.Duration("cache-info-ttl", defaults.Cache.InfoTTL, "yt-dlp info cache TTL")
	flags.Int("cache-info-size", defaults.Cache.InfoSize, "yt-dlp info cache entries")

	flags.String("store-backend", defaults.Store.Backend, "Persistent store backend (sqlite, redis)")
	flags.String("store-path", defaults.Store.Path, "SQLite database path")
	flags.String("store-redis-addr", defaults.Store.RedisAddr, "Redis address")
	flags.String("store-redis-password", "", "Redis password")
	flags.Int("store-redis-db", defaults.Store.RedisDB, "Redis database")
	flags.String("store-redis-prefix", defaults.Store.RedisPrefix, "Redis key prefix")
	flags.Int("store-index-capacity", defaults.Store.IndexCapacity, "Expected number of stored tracks")
	flags.Float64("store-bloom-fp-rate", defaults.Store.BloomFPRate, "Key index bloom filter false positive rate")

	flags.Duration("race-ceiling", defaults.Race.Ceiling, "Hard limit for a candidate race")
	flags.Duration("race-exact-grace", defaults.Race.ExactGrace, "How long a strong match waits for the exact ISRC candidate")
	flags.Duration("race-strict-tolerance", defaults.Race.StrictTolerance, "Duration tolerance for search candidates")
	flags.Duration("race-loose-tolerance", defaults.Race.LooseTolerance, "Duration tolerance for exact candidates")

	flags.String("ytdlp-path", defaults.Platform.YtDlpPath, "yt-dlp binary")
	flags.String("ytdlp-proxy", "", "Proxy passed to yt-dlp")
	flags.Int("ytdlp-socket-timeout", defaults.Platform.SocketTimeoutSecs, "yt-dlp socket timeout in seconds")
	flags.Int("ytdlp-retries", defaults.Platform.Retries, "yt-dlp retries")
	flags.String("youtube-cookies", "", "Netscape cookie file for YouTube")
	flags.String("facebook-cookies", "", "Netscape cookie file for Facebook and Instagram")

	flags.String("ffmpeg-path", defaults.Delivery.FFmpegPath, "ffmpeg binary")
	flags.String("mp3-bitrate", defaults.Delivery.MP3Bitrate, "MP3 transcode bitrate")
	flags.StringSlice("double-pipe-domains", defaults.Delivery.DoublePipeDomains, "Domains streamed through yt-dlp instead of direct URLs")

	flags.Duration("provider-http-timeout", defaults.Providers.HTTPTimeout, "Timeout for catalogue API requests")
	flags.String("odesli-url", defaults.Providers.OdesliBaseURL, "Odesli API base URL")
	flags.String("deezer-url", defaults.Providers.DeezerBaseURL, "Deezer API base URL")
	flags.String("itunes-url", defaults.Providers.ITunesBaseURL, "iTunes API base URL")
	flags.String("musicbrainz-url", defaults.Providers.MusicBrainzURL, "MusicBrainz API base URL")
	flags.String("spotify-embed-url", defaults.Providers.SpotifyEmbedURL, "Spotify embed base URL")

	flags.Bool("telemetry-enabled", defaults.Telemetry.Enabled, "Export traces over OTLP/HTTP")
	flags.String("telemetry-endpoint", "", "OTLP/HTTP collector endpoint")
	flags.String("telemetry-service-name", defaults.Telemetry.ServiceName, "Service name reported in traces")

	flags.Duration("seed-pause", defaults.App.SeedPause, "Pause between tracks while seeding")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(serveCmd, resolveCmd, downloadCmd, seedCmd)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureLLM(cfg)
	configureCaches(cfg)
	configureStore(cfg)
	configureRace(cfg)
	configurePlatform(cfg)
	configureProviders(cfg)
	configureTelemetry(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.ReadTimeout = viper.GetDuration("server-read-timeout")
	cfg.Server.WriteTimeout = viper.GetDuration("server-write-timeout")
	cfg.Server.FloodLimit = viper.GetInt("flood-limit")
	cfg.Server.FloodWindow = viper.GetDuration("flood-window")
	cfg.Server.TrustProxy = viper.GetBool("trust-proxy")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
}

func configureLLM(cfg *core.Config) {
	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
	cfg.LLM.Timeout = viper.GetDuration("llm-timeout")
}

func configureCaches(cfg *core.Config) {
	cfg.Limiter.Capacity = viper.GetInt64("limiter-capacity")
	cfg.Cache.ResolutionTTL = viper.GetDuration("cache-resolution-ttl")
	cfg.Cache.ResolutionSize = viper.GetInt("cache-resolution-size")
	cfg.Cache.InfoTTL = viper.GetDuration("cache-info-ttl")
	cfg.Cache.InfoSize = viper.GetInt("cache-info-size")
}

func configureStore(cfg *core.Config) {
	cfg.Store.Backend = viper.GetString("store-backend")
	cfg.Store.Path = viper.GetString("store-path")
	cfg.Store.RedisAddr = viper.GetString("store-redis-addr")
	cfg.Store.RedisPassword = viper.GetString("store-redis-password")
	cfg.Store.RedisDB = viper.GetInt("store-redis-db")
	cfg.Store.RedisPrefix = viper.GetString("store-redis-prefix")
	cfg.Store.IndexCapacity = viper.GetInt("store-index-capacity")
	cfg.Store.BloomFPRate = viper.GetFloat64("store-bloom-fp-rate")
}

func configureRace(cfg *core.Config) {
	cfg.Race.Ceiling = viper.GetDuration("race-ceiling")
	cfg.Race.ExactGrace = viper.GetDuration("race-exact-grace")
	cfg.Race.StrictTolerance = viper.GetDuration("race-strict-tolerance")
	cfg.Race.LooseTolerance = viper.GetDuration("race-loose-tolerance")
}

func configurePlatform(cfg *core.Config) {
	cfg.Platform.YtDlpPath = viper.GetString("ytdlp-path")
	cfg.Platform.Proxy = viper.GetString("ytdlp-proxy")
	cfg.Platform.SocketTimeoutSecs = viper.GetInt("ytdlp-socket-timeout")
	cfg.Platform.Retries = viper.GetInt("ytdlp-retries")
	cfg.Platform.YouTubeCookies = viper.GetString("youtube-cookies")
	cfg.Platform.FacebookCookies = viper.GetString("facebook-cookies")

	cfg.Delivery.FFmpegPath = viper.GetString("ffmpeg-path")
	cfg.Delivery.MP3Bitrate = viper.GetString("mp3-bitrate")
	if domains := splitList(viper.GetStringSlice("double-pipe-domains")); len(domains) > 0 {
		cfg.Delivery.DoublePipeDomains = domains
	}
}

// splitList flattens comma separated values, which is how lists arrive from the environment.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func configureProviders(cfg *core.Config) {
	cfg.Providers.HTTPTimeout = viper.GetDuration("provider-http-timeout")
	cfg.Providers.OdesliBaseURL = viper.GetString("odesli-url")
	cfg.Providers.DeezerBaseURL = viper.GetString("deezer-url")
	cfg.Providers.ITunesBaseURL = viper.GetString("itunes-url")
	cfg.Providers.MusicBrainzURL = viper.GetString("musicbrainz-url")
	cfg.Providers.SpotifyEmbedURL = viper.GetString("spotify-embed-url")
}

func configureTelemetry(cfg *core.Config) {
	cfg.Telemetry.Enabled = viper.GetBool("telemetry-enabled")
	cfg.Telemetry.Endpoint = viper.GetString("telemetry-endpoint")
	cfg.Telemetry.ServiceName = viper.GetString("telemetry-service-name")
	if cfg.Telemetry.Endpoint != "" && !viper.IsSet("telemetry-enabled") {
		cfg.Telemetry.Enabled = true
	}
}

func configureApp(cfg *core.Config) {
	cfg.App.SeedPause = viper.GetDuration("seed-pause")
	if cfg.App.SeedPause < 0 {
		cfg.App.SeedPause = 0
	}
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig(cfg *core.Config) error {
	if err := validateServerConfig(cfg); err != nil {
		return err
	}

	if err := validateStoreConfig(cfg); err != nil {
		return err
	}

	if err := validateLLMConfig(cfg); err != nil {
		return err
	}

	if cfg.Limiter.Capacity < 1 {
		return fmt.Errorf("limiter capacity must be at least 1, got %d", cfg.Limiter.Capacity)
	}

	if (cfg.Spotify.ClientID == "") != (cfg.Spotify.ClientSecret == "") {
		return fmt.Errorf("spotify client ID and secret must be set together")
	}

	return nil
}

func validateServerConfig(cfg *core.Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.FloodLimit < 1 {
		return fmt.Errorf("flood limit must be at least 1, got %d", cfg.Server.FloodLimit)
	}
	return nil
}

func validateStoreConfig(cfg *core.Config) error {
	switch cfg.Store.Backend {
	case "sqlite", "":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite backend")
		}
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
	if cfg.Store.BloomFPRate <= 0 || cfg.Store.BloomFPRate >= 1 {
		return fmt.Errorf("bloom false positive rate must be between 0 and 1, got %v", cfg.Store.BloomFPRate)
	}
	return nil
}

func validateLLMConfig(cfg *core.Config) error {
	if cfg.LLM.Provider != noneProvider && cfg.LLM.Provider != "" {
		if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
			return fmt.Errorf("LLM API key is required for provider: %s", cfg.LLM.Provider)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting nexstream",
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("store_backend", config.Store.Backend),
		zap.Int64("limiter_capacity", config.Limiter.Capacity),
		zap.Bool("spotify_api", config.Spotify.ClientID != ""),
		zap.Bool("tracing", config.Telemetry.Enabled))

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"), httpserver.Deps{
		Service:  a.service,
		Events:   a.hub,
		Load:     a.limiter,
		Ready:    a.brain.Ping,
		Registry: a.registry,
	})

	return runServices(ctx, httpServer)
}

func runServices(ctx context.Context, httpServer *httpserver.Server) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	logger.Info("nexstream started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("nexstream stopped with error", zap.Error(err))
		return err
	}

	logger.Info("nexstream stopped gracefully")
	return nil
}

// commandContext returns a context cancelled on SIGINT/SIGTERM for the one-shot commands.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

const closeTimeout = 30 * time.Second
