package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"ytaudio/internal/logging"
)

// DefaultPlaylistTimeout bounds one playlist listing.
const DefaultPlaylistTimeout = 60 * time.Second

// PlaylistItem is one video of a playlist.
type PlaylistItem struct {
	VideoID string
	Title   string
}

// PlaylistLister lists every video in a playlist.
type PlaylistLister interface {
	ListPlaylist(ctx context.Context, playlistID string) ([]PlaylistItem, error)
}

// YtdlpLister lists playlists through the ytdlp library without spawning a process.
type YtdlpLister struct{}

// ListPlaylist fetches all items of playlistID.
func (YtdlpLister) ListPlaylist(ctx context.Context, playlistID string) ([]PlaylistItem, error) {
	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("get playlist items: %w", err)
	}
	out := make([]PlaylistItem, 0, len(items))
	for _, it := range items {
		out = append(out, PlaylistItem{VideoID: it.VideoID, Title: it.Title})
	}
	return out, nil
}

// Resolver expands batch input into video URLs.
type Resolver struct {
	lister  PlaylistLister
	timeout time.Duration
	logger  *slog.Logger
	stat    func(name string) (os.FileInfo, error)
}

// NewResolver creates a resolver backed by lister. A nil lister uses YtdlpLister.
func NewResolver(lister PlaylistLister, logger *slog.Logger) *Resolver {
	if lister == nil {
		lister = YtdlpLister{}
	}
	return &Resolver{
		lister:  lister,
		timeout: DefaultPlaylistTimeout,
		logger:  logging.OrDefault(logger),
		stat:    os.Stat,
	}
}

// Resolve accepts a list file path, a playlist URL or a single video URL and returns the
// URLs to run in order. Invalid entries are all reported together.
func (r *Resolver) Resolve(ctx context.Context, input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("input is required: %w", ErrInvalidSource)
	}

	if looksLikeURL(input) {
		if _, err := r.stat(input); err != nil {
			return r.expand(ctx, input)
		}
	}

	entries, err := ReadListFile(input)
	if err != nil {
		return nil, err
	}

	var urls []string
	var errs []error
	for _, entry := range entries {
		if err := ValidateURL(entry.URL); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", entry.Line, err))
			continue
		}
		expanded, err := r.expand(ctx, entry.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", entry.Line, err))
			continue
		}
		urls = append(urls, expanded...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return urls, nil
}

// expand returns the video URLs behind one URL. Playlists are listed; videos pass through.
func (r *Resolver) expand(ctx context.Context, raw string) ([]string, error) {
	if err := ValidateURL(raw); err != nil {
		return nil, err
	}
	if !IsPlaylistURL(raw) {
		return []string{raw}, nil
	}

	id := PlaylistID(raw)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	items, err := r.lister.ListPlaylist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("expand playlist %s: %w", id, err)
	}

	urls := make([]string, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		urls = append(urls, VideoURL(it.VideoID))
	}
	r.logger.Info("playlist expanded", "playlist", id, "videos", len(urls))
	if len(urls) == 0 {
		return nil, fmt.Errorf("playlist %s has no videos: %w", id, ErrInvalidSource)
	}
	return urls, nil
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
