package delivery

import (
	"sort"
	"strings"

	"nexstream/internal/core"
)

// Strategy names a process topology.
type Strategy string

const (
	// StrategyAudioTranscode encodes a direct audio URL to mp3 with ffmpeg
	StrategyAudioTranscode Strategy = "audio_transcode"
	// StrategyAudioDirect streams an audio format straight out of yt-dlp
	StrategyAudioDirect Strategy = "audio_direct"
	// StrategyDoublePipe pipes yt-dlp output into ffmpeg for remuxing
	StrategyDoublePipe Strategy = "double_pipe"
	// StrategyDualMux feeds separate video and audio URLs to ffmpeg
	StrategyDualMux Strategy = "dual_mux"
)

const (
	defaultAudioSelector = "bestaudio[ext=m4a]/bestaudio"
	fragmentedMovFlags   = "frag_keyframe+empty_moov+default_base_moof"
)

var audioRequestFormats = map[string]bool{
	"mp3":   true,
	"m4a":   true,
	"opus":  true,
	"ogg":   true,
	"audio": true,
}

// IsAudioRequest reports whether a format/format id pair asks for audio only.
func IsAudioRequest(format, formatID string) bool {
	if audioRequestFormats[format] {
		return true
	}
	return format == "webm" && (formatID == "251" || strings.Contains(formatID, "audio"))
}

// isFlaggedDomain reports whether targetURL belongs to a domain whose direct media URLs cannot be
// fetched by ffmpeg and must be piped through yt-dlp.
func isFlaggedDomain(targetURL string, domains []string) bool {
	for _, d := range domains {
		if strings.Contains(targetURL, d) {
			return true
		}
	}
	return false
}

// selectStrategy picks the topology for a request. video is the format chosen for video
// requests and may be nil for audio.
func selectStrategy(req core.DeliveryRequest, video *core.RawFormat, domains []string) Strategy {
	if IsAudioRequest(req.Format, req.FormatID) {
		if req.Format == "mp3" {
			return StrategyAudioTranscode
		}
		return StrategyAudioDirect
	}
	if video != nil && video.HasAudio() && isFlaggedDomain(req.TargetURL, domains) {
		return StrategyDoublePipe
	}
	return StrategyDualMux
}

// WithRateBypass appends ratebypass=yes unless it is already present.
func WithRateBypass(rawURL string) string {
	if rawURL == "" || strings.Contains(rawURL, "ratebypass=yes") {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "ratebypass=yes"
}

// pickVideoFormat returns the requested format when it has a direct URL, otherwise the tallest
// progressive video format.
func pickVideoFormat(info *core.ProviderInfo, formatID string) *core.RawFormat {
	if info == nil {
		return nil
	}
	if formatID != "" {
		for i := range info.Formats {
			f := &info.Formats[i]
			if f.FormatID == formatID && f.URL != "" {
				return f
			}
		}
	}

	var best *core.RawFormat
	for i := range info.Formats {
		f := &info.Formats[i]
		if !f.HasVideo() || f.URL == "" || strings.Contains(f.URL, ".m3u8") {
			continue
		}
		if best == nil || f.Height > best.Height {
			best = f
		}
	}
	return best
}

// pickAudioFormat returns the requested audio format, or the one with the highest bitrate.
func pickAudioFormat(info *core.ProviderInfo, formatID string) *core.RawFormat {
	if info == nil {
		return nil
	}
	if formatID != "" {
		for i := range info.Formats {
			f := &info.Formats[i]
			if f.FormatID == formatID && f.URL != "" {
				return f
			}
		}
	}

	var best *core.RawFormat
	for i := range info.Formats {
		f := &info.Formats[i]
		if !f.HasAudio() || f.URL == "" {
			continue
		}
		if best == nil || f.ABR > best.ABR {
			best = f
		}
	}
	return best
}

// bestSeparateAudio returns the best audio-only format. AAC is preferred for mp4 output and
// Opus for webm.
func bestSeparateAudio(info *core.ProviderInfo, preferOpus bool) *core.RawFormat {
	if info == nil {
		return nil
	}
	var candidates []*core.RawFormat
	for i := range info.Formats {
		f := &info.Formats[i]
		if f.HasAudio() && !f.HasVideo() && f.URL != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	preferred := func(f *core.RawFormat) bool {
		if preferOpus {
			return strings.Contains(f.ACodec, "opus")
		}
		return isAAC(f.ACodec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := preferred(candidates[i]), preferred(candidates[j])
		if pi != pj {
			return pi
		}
		return candidates[i].ABR > candidates[j].ABR
	})
	return candidates[0]
}

func isAAC(codec string) bool {
	return strings.HasPrefix(codec, "mp4a") || strings.Contains(codec, "aac")
}

func isAVC(codec string) bool {
	return strings.HasPrefix(codec, "avc1") || strings.HasPrefix(codec, "h264")
}

// outputContainer returns the muxer for a video request. Non-mp4 requests stay mp4 only when the
// video is AVC.
func outputContainer(requested string, video *core.RawFormat) string {
	if requested == "mp4" || (video != nil && isAVC(video.VCodec)) {
		return "mp4"
	}
	return "webm"
}

// input describes one ffmpeg network input.
type input struct {
	url     string
	referer string
	cookies string
}

func (in input) args() []string {
	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-user_agent", core.BrowserUserAgent,
	}
	if in.referer != "" {
		args = append(args, "-referer", in.referer)
	}
	if in.cookies != "" {
		args = append(args, "-cookies", in.cookies)
	}
	return append(args, "-i", in.url)
}

func ffmpegPrelude() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-progress", "pipe:3"}
}

// mp3Args transcodes one audio input to mp3 on stdout.
func mp3Args(in input, bitrate string) []string {
	if bitrate == "" {
		bitrate = "192k"
	}
	args := ffmpegPrelude()
	args = append(args, in.args()...)
	return append(args, "-c:a", "libmp3lame", "-b:a", bitrate, "-f", "mp3", "pipe:1")
}

// containerArgs returns the muxer flags for container. aac enables the ADTS to ASC bitstream
// filter that fragmented mp4 needs.
func containerArgs(container string, aac bool) []string {
	if container != "mp4" {
		return []string{"-f", "webm", "pipe:1"}
	}
	var args []string
	if aac {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	return append(args, "-movflags", fragmentedMovFlags, "-f", "mp4", "pipe:1")
}

// muxArgs remuxes a video input and an optional separate audio input. When audio is nil the
// video's own audio track is used.
func muxArgs(video input, audio *input, videoHasAudio bool, container string, aac bool) []string {
	args := ffmpegPrelude()
	args = append(args, video.args()...)
	if audio != nil {
		args = append(args, audio.args()...)
	}

	args = append(args, "-c", "copy", "-map", "0:v:0")
	switch {
	case audio != nil:
		args = append(args, "-map", "1:a:0")
	case videoHasAudio:
		args = append(args, "-map", "0:a:0")
	default:
		args = append(args, "-map", "0:a?")
	}
	args = append(args, "-shortest")
	return append(args, containerArgs(container, aac)...)
}

// doublePipeArgs remuxes a muxed stream read from stdin.
func doublePipeArgs(container string, aac bool) []string {
	args := ffmpegPrelude()
	args = append(args, "-i", "pipe:0", "-c", "copy", "-map", "0:v:0", "-map", "0:a:0")
	return append(args, containerArgs(container, aac)...)
}

// cleanFormatID strips the variant suffix from numeric format ids, such as "251-drc".
func cleanFormatID(id string) string {
	i := strings.IndexByte(id, '-')
	if i <= 0 {
		return id
	}
	for _, r := range id[:i] {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:i]
}
