// Package text provides text parsing and URL classification for pasted media links.
package text

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// MinPartsForSpotifyURI represents the minimum number of parts in a spotify:kind:id URI
	MinPartsForSpotifyURI = 3

	// UnknownArtist is the placeholder some providers return when the artist is missing
	UnknownArtist = "unknown artist"
)

// LinkKind classifies a pasted link.
type LinkKind int

const (
	// KindUnsupported represents a link outside the supported domain list
	KindUnsupported LinkKind = iota
	// KindSpotifyTrack represents a Spotify track link
	KindSpotifyTrack
	// KindSpotifyCollection represents a Spotify album, playlist or artist link
	KindSpotifyCollection
	// KindMusicTrack represents a non-Spotify music catalogue track (Apple Music, Deezer)
	KindMusicTrack
	// KindMedia represents a generic video/audio platform link
	KindMedia
)

// ErrNoURL is returned when the input text contains no usable URL.
var ErrNoURL = errors.New("no URL found in input")

var (
	urlRegex        = regexp.MustCompile(`https?://\S+`)
	spotifyURIRegex = regexp.MustCompile(`spotify:(track|album|playlist|artist):([A-Za-z0-9]+)`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	// SupportedDomains lists the hosts accepted for resolution. A host matches when it equals an
	// entry or ends with "." + entry.
	SupportedDomains = []string{
		"youtube.com",
		"youtu.be",
		"spotify.com",
		"open.spotify.com",
		"spotify.link",
		"facebook.com",
		"fb.watch",
		"instagram.com",
		"tiktok.com",
		"twitter.com",
		"x.com",
		"soundcloud.com",
		"reddit.com",
		"bilibili.com",
		"bili.im",
		"music.apple.com",
		"deezer.com",
		"deezer.page.link",
	}

	trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "si", "feature"}
)

// Link is the classified form of a pasted URL.
type Link struct {
	Kind    LinkKind
	URL     string
	Service string
}

// Parser extracts and classifies links from free text.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseLink extracts the first URL (or Spotify URI) from text and classifies it.
func (p *Parser) ParseLink(text string) (Link, error) {
	text = p.normalizeText(text)

	if m := spotifyURIRegex.FindStringSubmatch(text); m != nil {
		u := "https://open.spotify.com/" + m[1] + "/" + m[2]
		return Link{Kind: p.classify(u), URL: u, Service: DetectService(u)}, nil
	}

	urls := p.extractURLs(text)
	if len(urls) == 0 {
		return Link{}, ErrNoURL
	}

	u := urls[0]
	return Link{Kind: p.classify(u), URL: u, Service: DetectService(u)}, nil
}

func (p *Parser) normalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = norm.NFKC.String(text)
	return whitespaceRegex.ReplaceAllString(text, " ")
}

func (p *Parser) extractURLs(text string) []string {
	matches := urlRegex.FindAllString(text, -1)
	var cleanURLs []string

	for _, match := range matches {
		cleanURL := CleanURL(match)
		if cleanURL != "" {
			cleanURLs = append(cleanURLs, cleanURL)
		}
	}

	return cleanURLs
}

// CleanURL trims trailing punctuation and drops tracking parameters. It returns "" for anything
// that is not an absolute http(s) URL.
func CleanURL(rawURL string) string {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), ".,!?;")

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	q := u.Query()
	for _, param := range trackingParams {
		q.Del(param)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// CacheKey returns the durable cache key for a source URL: the URL with its query and fragment
// removed.
func CacheKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func (p *Parser) classify(rawURL string) LinkKind {
	if !IsSupported(rawURL) {
		return KindUnsupported
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return KindUnsupported
	}
	host := strings.ToLower(u.Hostname())
	path := u.Path

	switch {
	case hostMatches(host, "spotify.com") || hostMatches(host, "spotify.link"):
		if strings.Contains(path, "/track/") || hostMatches(host, "spotify.link") {
			return KindSpotifyTrack
		}
		if strings.Contains(path, "/album/") || strings.Contains(path, "/playlist/") ||
			strings.Contains(path, "/artist/") {
			return KindSpotifyCollection
		}
		return KindUnsupported
	case hostMatches(host, "music.apple.com"):
		if u.Query().Get("i") != "" || strings.Contains(path, "/song/") {
			return KindMusicTrack
		}
		return KindUnsupported
	case hostMatches(host, "deezer.com"), hostMatches(host, "deezer.page.link"):
		if strings.Contains(path, "/track/") || hostMatches(host, "deezer.page.link") {
			return KindMusicTrack
		}
		return KindUnsupported
	}

	return KindMedia
}

// IsSupported reports whether rawURL is an absolute URL on an allow-listed host.
func IsSupported(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range SupportedDomains {
		if hostMatches(host, domain) {
			return true
		}
	}
	return false
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DetectService returns a human readable service name for rawURL.
func DetectService(rawURL string) string {
	host := hostOf(rawURL)
	switch {
	case hostMatches(host, "spotify.com"), hostMatches(host, "spotify.link"):
		return "Spotify Music"
	case hostMatches(host, "music.apple.com"):
		return "Apple Music"
	case hostMatches(host, "deezer.com"), hostMatches(host, "deezer.page.link"):
		return "Deezer"
	case hostMatches(host, "facebook.com"), hostMatches(host, "fb.watch"):
		return "Facebook"
	case hostMatches(host, "instagram.com"):
		return "Instagram"
	case hostMatches(host, "tiktok.com"):
		return "TikTok"
	case hostMatches(host, "twitter.com"), hostMatches(host, "x.com"):
		return "X (Twitter)"
	case hostMatches(host, "soundcloud.com"):
		return "SoundCloud"
	case hostMatches(host, "reddit.com"):
		return "Reddit"
	case hostMatches(host, "bilibili.com"), hostMatches(host, "bili.im"):
		return "Bilibili"
	}
	return "YouTube"
}

// CookieType returns the cookie jar name a URL needs ("youtube", "facebook") or "" for none.
func CookieType(rawURL string) string {
	host := hostOf(rawURL)
	switch {
	case hostMatches(host, "facebook.com"), hostMatches(host, "fb.watch"):
		return "facebook"
	case hostMatches(host, "youtube.com"), hostMatches(host, "youtu.be"), hostMatches(host, "spotify.com"):
		return "youtube"
	}
	return ""
}

// IsMusicSource reports whether the link goes through metadata aggregation and the candidate race.
func (l Link) IsMusicSource() bool {
	return l.Kind == KindSpotifyTrack || l.Kind == KindMusicTrack
}

// ExtractSpotifyID returns the id following /<kind>/ in a Spotify URL, or the id of a spotify:
// URI.
func ExtractSpotifyID(rawURL, kind string) (string, error) {
	if strings.HasPrefix(rawURL, "spotify:"+kind+":") {
		parts := strings.Split(rawURL, ":")
		if len(parts) >= MinPartsForSpotifyURI {
			return parts[2], nil
		}
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", errors.New("invalid URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == kind && i+1 < len(pathParts) {
			return pathParts[i+1], nil
		}
	}

	return "", errors.New("no " + kind + " id in URL")
}
