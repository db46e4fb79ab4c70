package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// envSection is one block of the generated .env.example.
type envSection struct {
	title   string
	note    string
	entries []envEntry
}

// envEntry documents one flag. An empty example means the flag default is used; commented entries
// are optional.
type envEntry struct {
	flag      string
	example   string
	comment   string
	commented bool
}

var envSections = []envSection{
	{
		title: "HTTP Server Configuration",
		entries: []envEntry{
			{flag: "server-host", comment: "Server bind address"},
			{flag: "server-port", comment: "Server port"},
			{flag: "server-read-timeout", comment: "Request read timeout"},
			{flag: "server-write-timeout", comment: "Response write timeout, 0 keeps long downloads open"},
			{flag: "flood-limit", comment: "Max info/convert requests per client per window"},
			{flag: "flood-window", comment: "Flood limit window"},
			{flag: "trust-proxy", comment: "Take client addresses from X-Forwarded-For"},
		},
	},
	{
		title: "Spotify Configuration - Optional",
		note:  "Get these from https://developer.spotify.com/dashboard. Required for seeding collections.",
		entries: []envEntry{
			{flag: "spotify-client-id", example: "your_spotify_client_id_here", comment: "Spotify app client ID"},
			{flag: "spotify-client-secret", example: "your_spotify_client_secret_here", comment: "Spotify app client secret"},
		},
	},
	{
		title: "AI/LLM Configuration - Optional semantic search candidate",
		entries: []envEntry{
			{flag: "llm-provider", comment: "Provider: none, openai, anthropic, ollama"},
			{flag: "llm-api-key", example: "sk-...", comment: "API key (not needed for ollama)", commented: true},
			{flag: "llm-model", example: "gpt-4o-mini", comment: "Model name", commented: true},
			{flag: "llm-base-url", example: "http://localhost:11434", comment: "Ollama server URL", commented: true},
			{flag: "llm-timeout", comment: "Per-request timeout"},
		},
	},
	{
		title: "Persistent Store",
		entries: []envEntry{
			{flag: "store-backend", comment: "sqlite or redis"},
			{flag: "store-path", comment: "SQLite database path"},
			{flag: "store-redis-addr", comment: "Redis address", commented: true},
			{flag: "store-redis-password", example: "secret", comment: "Redis password", commented: true},
			{flag: "store-redis-db", comment: "Redis database", commented: true},
			{flag: "store-redis-prefix", comment: "Redis key prefix", commented: true},
			{flag: "store-index-capacity", comment: "Expected number of stored tracks"},
			{flag: "store-bloom-fp-rate", comment: "Key index bloom filter false positive rate"},
		},
	},
	{
		title: "Caches and Limits",
		entries: []envEntry{
			{flag: "limiter-capacity", comment: "Weight of concurrent yt-dlp/ffmpeg jobs (double-pipe downloads weigh up to 2)"},
			{flag: "cache-resolution-ttl", comment: "In-memory resolution cache TTL"},
			{flag: "cache-resolution-size", comment: "In-memory resolution cache entries"},
			{flag: "cache-info-ttl", comment: "yt-dlp info cache TTL"},
			{flag: "cache-info-size", comment: "yt-dlp info cache entries"},
		},
	},
	{
		title: "Candidate Race",
		entries: []envEntry{
			{flag: "race-ceiling", comment: "Hard limit for a race"},
			{flag: "race-exact-grace", comment: "How long a strong match waits for the ISRC candidate"},
			{flag: "race-strict-tolerance", comment: "Duration tolerance for search candidates"},
			{flag: "race-loose-tolerance", comment: "Duration tolerance for exact candidates"},
		},
	},
	{
		title: "yt-dlp and ffmpeg",
		entries: []envEntry{
			{flag: "ytdlp-path", comment: "yt-dlp binary"},
			{flag: "ytdlp-proxy", example: "http://proxy:3128", comment: "Proxy for yt-dlp", commented: true},
			{flag: "ytdlp-socket-timeout", comment: "Socket timeout in seconds"},
			{flag: "ytdlp-retries", comment: "Retries"},
			{flag: "youtube-cookies", example: "./cookies/youtube.txt", comment: "Netscape cookie file", commented: true},
			{flag: "facebook-cookies", example: "./cookies/facebook.txt", comment: "Netscape cookie file", commented: true},
			{flag: "ffmpeg-path", comment: "ffmpeg binary"},
			{flag: "mp3-bitrate", comment: "MP3 transcode bitrate"},
			{flag: "double-pipe-domains", comment: "Domains streamed through yt-dlp"},
		},
	},
	{
		title: "Catalogue Providers",
		entries: []envEntry{
			{flag: "provider-http-timeout", comment: "Timeout for catalogue API requests"},
			{flag: "odesli-url", comment: "Odesli API", commented: true},
			{flag: "deezer-url", comment: "Deezer API", commented: true},
			{flag: "itunes-url", comment: "iTunes API", commented: true},
			{flag: "musicbrainz-url", comment: "MusicBrainz API", commented: true},
			{flag: "spotify-embed-url", comment: "Spotify embed pages", commented: true},
		},
	},
	{
		title: "Tracing",
		entries: []envEntry{
			{flag: "telemetry-enabled", comment: "Export traces over OTLP/HTTP"},
			{flag: "telemetry-endpoint", example: "localhost:4318", comment: "Collector endpoint, enables tracing when set", commented: true},
			{flag: "telemetry-service-name", comment: "Service name in traces"},
		},
	},
	{
		title: "Application Settings",
		entries: []envEntry{
			{flag: "seed-pause", comment: "Pause between tracks while seeding"},
			{flag: "log-level", comment: "Log level: debug, info, warn, error"},
			{flag: "log-format", comment: "Log format: json, console"},
		},
	},
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# nexstream Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}
	generateQuickSetupGuide(&content)

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", section.title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	if section.note != "" {
		fmt.Fprintf(content, "# %s\n", section.note)
	}

	flagNames := make([]string, 0, len(section.entries))
	for _, e := range section.entries {
		flagNames = append(flagNames, "--"+e.flag)
	}
	fmt.Fprintf(content, "# CLI: %s\n", strings.Join(flagNames, ", "))

	for _, e := range section.entries {
		def := getDefaultValueString(cmd, e.flag)
		value := e.example
		if value == "" {
			value = strings.Trim(def, "[]")
		}
		prefix := ""
		if e.commented {
			prefix = "# "
		}
		line := fmt.Sprintf("%s%s=%s", prefix, flagToEnvVar(e.flag), value)
		if def != "" && def != "[]" {
			fmt.Fprintf(content, "%-60s # %s (default: %s)\n", line, e.comment, def)
		} else {
			fmt.Fprintf(content, "%-60s # %s\n", line, e.comment)
		}
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	if f := cmd.Root().PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

func generateQuickSetupGuide(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("\n")
	content.WriteString("# 1. Install yt-dlp and ffmpeg and make sure both are on PATH (or set the paths above)\n")
	content.WriteString("# 2. Optional: add Spotify API credentials to seed albums, playlists and artists\n")
	content.WriteString("# 3. Optional: configure an LLM provider for the semantic search candidate\n")
	content.WriteString("# 4. Try it:\n")
	content.WriteString("#    go run ./cmd/nexstream resolve https://open.spotify.com/track/<id>\n")
	content.WriteString("#    go run ./cmd/nexstream download -f mp3 https://open.spotify.com/track/<id>\n")
	content.WriteString("#    go run ./cmd/nexstream serve --log-level=debug\n")
	content.WriteString("\n")
	content.WriteString("# Issue: \"No playable match found\"\n")
	content.WriteString("# - Check that yt-dlp is recent: yt-dlp -U\n")
	fmt.Fprintf(content, "# - Run with %s=debug to see every race candidate\n", flagToEnvVar("log-level"))
	content.WriteString("# Issue: \"Stream failed to initialize\" for YouTube or Facebook\n")
	content.WriteString("# - Provide a cookie file exported from a logged-in browser session\n")
}
