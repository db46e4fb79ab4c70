package platform

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"nexstream/internal/core"
)

const (
	minTitleLength    = 2
	maxFallbackTitle  = 80
	shortSuffixLength = 15
	// hqMuxedFormatID is YouTube's muxed 360p format whose audio track is 128kbps AAC.
	hqMuxedFormatID = "18"
)

var (
	resolutionPRegex = regexp.MustCompile(`(?i)(\d+)p`)
	resolutionXRegex = regexp.MustCompile(`x(\d+)`)
	digitsRegex      = regexp.MustCompile(`^\d+$`)
	socialCountRegex = regexp.MustCompile(`(?i)\d+(?:\.\d+)?[KkM]?\s+(?:views|reactions|shares|likes)\b`)
	hashtagRegex     = regexp.MustCompile(`#\w+`)
	leadingJunkRegex = regexp.MustCompile(`^[\s\-|]+`)
	trailingJunk     = regexp.MustCompile(`[\s\-|]+$`)
)

// ProcessVideoFormats turns raw formats into one entry per quality, tallest first. Storyboards are
// dropped.
func ProcessVideoFormats(info *core.ProviderInfo) []core.VideoFormat {
	if info == nil {
		return nil
	}

	var formats []core.VideoFormat
	for _, f := range info.Formats {
		if strings.HasPrefix(f.FormatID, "sb") {
			continue
		}
		if !f.HasVideo() && f.Height == 0 && f.Width == 0 {
			continue
		}

		height := f.Height
		if height == 0 && f.Resolution != "" {
			height = parseHeight(f.Resolution)
		}

		quality := ""
		if height > 0 {
			quality = fmt.Sprintf("%dp", height)
		} else {
			quality = f.FormatNote
			if quality == "" {
				quality = f.Resolution
			}
			if digitsRegex.MatchString(quality) {
				quality += "p"
			}
			if quality == "" {
				quality = "Unknown"
			}
		}
		if height == 0 && quality == "Unknown" {
			continue
		}

		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		if size == 0 && f.TBR > 0 && info.Duration > 0 {
			size = int64(f.TBR * 1000 * info.Duration / 8)
		}

		formats = append(formats, core.VideoFormat{
			FormatID:  f.FormatID,
			Extension: f.Ext,
			Quality:   quality,
			Filesize:  size,
			FPS:       f.FPS,
			Height:    height,
			VCodec:    f.VCodec,
			HasAudio:  f.HasAudio(),
		})
	}

	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].Height > formats[j].Height
	})

	seen := make(map[string]bool, len(formats))
	unique := formats[:0]
	for _, f := range formats {
		if seen[f.Quality] {
			continue
		}
		seen[f.Quality] = true
		unique = append(unique, f)
	}
	return unique
}

// ProcessAudioFormats returns one entry per audio quality. Audio-only formats come first, then
// higher bitrates.
func ProcessAudioFormats(info *core.ProviderInfo) []core.AudioFormat {
	if info == nil {
		return nil
	}

	var formats []core.AudioFormat
	for _, f := range info.Formats {
		if !f.HasAudio() {
			continue
		}

		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}

		formats = append(formats, core.AudioFormat{
			FormatID:  f.FormatID,
			Extension: f.Ext,
			Quality:   audioQuality(f),
			Filesize:  size,
			ABR:       f.ABR,
			VCodec:    f.VCodec,
			AudioOnly: !f.HasVideo(),
		})
	}

	sort.SliceStable(formats, func(i, j int) bool {
		if formats[i].AudioOnly != formats[j].AudioOnly {
			return formats[i].AudioOnly
		}
		return formats[i].ABR > formats[j].ABR
	})

	seen := make(map[string]bool, len(formats))
	unique := formats[:0]
	for _, f := range formats {
		if seen[f.Quality] {
			continue
		}
		seen[f.Quality] = true
		unique = append(unique, f)
	}
	return unique
}

func audioQuality(f core.RawFormat) string {
	switch {
	case f.ABR > 0:
		return fmt.Sprintf("%.0fkbps", math.Round(f.ABR))
	case f.TBR > 0 && !f.HasVideo():
		return fmt.Sprintf("%.0fkbps", math.Round(f.TBR))
	case strings.Contains(f.FormatNote, "kbps"):
		return f.FormatNote
	case f.FormatID == hqMuxedFormatID:
		return "128kbps (HQ)"
	case f.FormatNote != "":
		return f.FormatNote
	}
	return "Medium Quality"
}

func parseHeight(resolution string) int {
	m := resolutionPRegex.FindStringSubmatch(resolution)
	if m == nil {
		m = resolutionXRegex.FindStringSubmatch(resolution)
	}
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	return h
}

// BestThumbnail returns the page thumbnail, or the widest listed thumbnail.
func BestThumbnail(info *core.ProviderInfo) string {
	if info == nil {
		return ""
	}
	if info.Thumbnail != "" {
		return info.Thumbnail
	}
	best := -1
	thumb := ""
	for _, t := range info.Thumbnails {
		if t.Width > best {
			best = t.Width
			thumb = t.URL
		}
	}
	return thumb
}

// NormalizeTitle cleans social media titles: generic "Video by" titles fall back to the first
// description line, and view counts and hashtags are removed.
func NormalizeTitle(info *core.ProviderInfo) string {
	title := ""
	if info != nil {
		title = smartFallback(info)
	}
	if title != "" {
		title = purgeSocialMetadata(title)
	}
	if len(title) < minTitleLength {
		title = fmt.Sprintf("Video_%d", time.Now().UnixMilli())
	}
	return title
}

func smartFallback(info *core.ProviderInfo) string {
	title := info.Title
	lower := strings.ToLower(title)
	generic := title == "" ||
		strings.HasPrefix(title, "Video by") ||
		strings.HasPrefix(title, "Reel by") ||
		lower == "instagram" ||
		strings.Contains(lower, "reactions") ||
		strings.Contains(lower, "views")
	if generic && info.Description != "" {
		line := strings.SplitN(info.Description, "\n", 2)[0]
		if runes := []rune(line); len(runes) > maxFallbackTitle {
			line = string(runes[:maxFallbackTitle])
		}
		title = strings.TrimSpace(line)
	}
	return title
}

func purgeSocialMetadata(title string) string {
	title = socialCountRegex.ReplaceAllString(title, "")
	title = hashtagRegex.ReplaceAllString(title, "")

	if strings.Contains(title, "|") {
		parts := strings.Split(title, "|")
		title = strings.TrimSpace(parts[len(parts)-1])
	}
	if strings.Contains(title, " - ") {
		parts := strings.Split(title, " - ")
		if len(parts[1]) < shortSuffixLength {
			title = strings.TrimSpace(parts[0])
		}
	}

	title = leadingJunkRegex.ReplaceAllString(title, "")
	title = trailingJunk.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// Describe summarizes a page description for clients.
func (y *YtDlp) Describe(info *core.ProviderInfo) core.MediaDescription {
	return core.MediaDescription{
		Title:        NormalizeTitle(info),
		Thumbnail:    BestThumbnail(info),
		Formats:      ProcessVideoFormats(info),
		AudioFormats: ProcessAudioFormats(info),
	}
}
