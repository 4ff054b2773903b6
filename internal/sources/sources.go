// Package sources turns user input into the ordered list of video URLs a batch runs.
package sources

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// ErrInvalidSource marks input that is not a supported video or playlist URL.
var ErrInvalidSource = errors.New("invalid source")

const watchURLTemplate = "https://www.youtube.com/watch?v=%s"

// ValidateURL reports whether raw points at a YouTube video, short or playlist.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%q is not a URL: %w", raw, ErrInvalidSource)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: unsupported scheme %q: %w", raw, u.Scheme, ErrInvalidSource)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.TrimSuffix(u.Path, "/")
	switch host {
	case "youtu.be":
		if len(path) > 1 {
			return nil
		}
	case "music.youtube.com":
		return nil
	case "youtube.com", "m.youtube.com":
		switch {
		case path == "/watch" && u.Query().Get("v") != "":
			return nil
		case strings.HasPrefix(path, "/shorts/"), strings.HasPrefix(path, "/live/"):
			return nil
		case path == "/playlist" && u.Query().Get("list") != "":
			return nil
		}
	}
	return fmt.Errorf("%q is not a YouTube video or playlist URL: %w", raw, ErrInvalidSource)
}

// PlaylistID returns the list id of a playlist URL, or "" for anything else.
func PlaylistID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}

// IsPlaylistURL reports whether raw names a playlist page. Watch URLs that carry a list
// parameter still name a single video.
func IsPlaylistURL(raw string) bool {
	if ValidateURL(raw) != nil {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.TrimSuffix(u.Path, "/") == "/playlist" && u.Query().Get("list") != ""
}

// VideoURL builds the canonical watch URL for a video id.
func VideoURL(videoID string) string {
	return fmt.Sprintf(watchURLTemplate, videoID)
}

// Entry is one URL read from a list file.
type Entry struct {
	Line int
	URL  string
}

// ParseList reads one URL per line. Blank lines and lines starting with '#' are ignored.
func ParseList(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		entries = append(entries, Entry{Line: line, URL: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return entries, nil
}

// ReadListFile parses the list file at path.
func ReadListFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()
	return ParseList(f)
}
