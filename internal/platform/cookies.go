package platform

import (
	"bufio"
	"os"
	"strings"

	"nexstream/pkg/text"
)

const (
	netscapeHeader   = "# Netscape"
	httpOnlyPrefix   = "#HttpOnly_"
	netscapeFields   = 7
	cookieNameField  = 5
	cookieValueField = 6
)

// CookieJar maps a cookie type to its Netscape cookie file.
type CookieJar struct {
	paths map[string]string
}

// NewCookieJar creates a jar from the YouTube and Facebook cookie file paths. Empty paths are
// ignored.
func NewCookieJar(youtubePath, facebookPath string) *CookieJar {
	paths := make(map[string]string)
	if youtubePath != "" {
		paths["youtube"] = youtubePath
	}
	if facebookPath != "" {
		paths["facebook"] = facebookPath
	}
	return &CookieJar{paths: paths}
}

// Path returns the valid cookie file for targetURL, or "".
func (j *CookieJar) Path(targetURL string) string {
	if j == nil {
		return ""
	}
	path, ok := j.paths[text.CookieType(targetURL)]
	if !ok || !isValidCookieFile(path) {
		return ""
	}
	return path
}

// Args returns the yt-dlp cookie flags for targetURL.
func (j *CookieJar) Args(targetURL string) []string {
	if path := j.Path(targetURL); path != "" {
		return []string{"--cookies", path}
	}
	return nil
}

// Header returns the cookies for targetURL as a "name=value; ..." header, as ffmpeg expects.
func (j *CookieJar) Header(targetURL string) string {
	path := j.Path(targetURL)
	if path == "" {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var pairs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, httpOnlyPrefix)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < netscapeFields {
			continue
		}
		pairs = append(pairs, fields[cookieNameField]+"="+fields[cookieValueField])
	}
	return strings.Join(pairs, "; ")
}

func isValidCookieFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	return strings.Contains(content, netscapeHeader) || strings.Contains(content, "HttpOnly_")
}
