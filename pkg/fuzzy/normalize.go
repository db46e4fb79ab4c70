package fuzzy

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*\b(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?`)
	bracketTagRegex = regexp.MustCompile(`(?i)\s*[\(\[][^\)\]]*\b(?:` + versionTags + `)\b[^\)\]]*[\)\]]`)
	dashTagRegex    = regexp.MustCompile(`(?i)\s+-\s+.*\b(?:` + versionTags + `)\b.*$`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	artistSuffixRegex = regexp.MustCompile(`(?i)\s+(Music|Band|Official|Topic|TV)\s*$`)
	onSpotifyRegex    = regexp.MustCompile(`(?i)\s*on Spotify`)
)

const (
	sameTrackThreshold = 0.6

	// versionTags mark release variants. They are only stripped from bracketed or " - " suffixes,
	// so a title that merely contains one of the words keeps it.
	versionTags = `remix|remaster|remastered|deluxe|extended|radio edit|clean|explicit`
)

// Normalizer compares track titles and artist names across catalogues.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.basicNormalize(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.ReplaceAll(artist, " vs ", " vs. ")
	artist = strings.ReplaceAll(artist, " feat ", " feat. ")
	artist = strings.ReplaceAll(artist, " ft ", " ft. ")

	return artist
}

func (n *Normalizer) NormalizeTitle(title string) string {
	title = featRegex.ReplaceAllString(title, "")
	title = bracketTagRegex.ReplaceAllString(title, "")
	title = dashTagRegex.ReplaceAllString(title, "")

	return n.basicNormalize(title)
}

func (n *Normalizer) basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	text = strings.TrimSpace(text)

	return text
}

func (n *Normalizer) CalculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	return float64(n.longestCommonSubsequence(s1, s2)) / float64(max(len(s1), len(s2)))
}

func (norm *Normalizer) longestCommonSubsequence(s1, s2 string) int {
	m, n := len(s1), len(s2)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if s1[i-1] == s2[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	return dp[m][n]
}

// DriftMs returns the absolute difference between a target duration in milliseconds and a
// candidate duration in seconds. A zero target yields zero drift.
func DriftMs(targetMs int64, candidateSeconds float64) int64 {
	if targetMs <= 0 {
		return 0
	}
	return abs(targetMs - int64(candidateSeconds*1000))
}

// WithinDrift reports whether a catalogue duration is close enough to the target to be the same
// recording.
func WithinDrift(targetMs, candidateMs int64, tolerance time.Duration) bool {
	if targetMs <= 0 || candidateMs <= 0 {
		return true
	}
	return time.Duration(abs(targetMs-candidateMs))*time.Millisecond <= tolerance
}

// CleanArtist strips channel-style suffixes such as "Official" or "Topic" from an artist name.
func CleanArtist(artist string) string {
	return strings.TrimSpace(artistSuffixRegex.ReplaceAllString(artist, ""))
}

// HeuristicQuery builds a plain "title artist" search query. It returns "" when the artist is
// missing or a placeholder, since a title alone matches too many uploads.
func HeuristicQuery(title, artist string) string {
	clean := CleanArtist(artist)
	if clean == "" || strings.EqualFold(clean, "unknown artist") {
		return ""
	}
	return strings.TrimSpace(title + " " + clean)
}

// CleanSearchQuery prepares free text for a platform search.
func CleanSearchQuery(q string) string {
	q = onSpotifyRegex.ReplaceAllString(q, "")
	q = strings.ReplaceAll(q, "-", " ")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(q, " "))
}

// SameTrack reports whether two title/artist pairs likely describe the same recording.
func (n *Normalizer) SameTrack(title1, artist1, title2, artist2 string) bool {
	norm1, norm2 := n.NormalizeTitle(title1), n.NormalizeTitle(title2)
	if norm1 == "" || norm2 == "" {
		return false
	}
	titleScore := n.CalculateSimilarity(norm1, norm2)
	if artist1 == "" || artist2 == "" {
		return titleScore >= sameTrackThreshold
	}
	artistScore := n.CalculateSimilarity(n.NormalizeArtist(artist1), n.NormalizeArtist(artist2))
	return titleScore >= sameTrackThreshold && artistScore >= sameTrackThreshold
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}