package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
)

var (
	audioExtensions     = []string{".opus", ".m4a", ".webm", ".mp3", ".ogg", ".aac", ".flac", ".wav"}
	thumbnailExtensions = []string{".jpg", ".png", ".webp"}

	// downloadFatalMarkers are yt-dlp errors that no retry can fix.
	downloadFatalMarkers = []string{
		"Video unavailable",
		"Private video",
		"is not a valid URL",
		"Unsupported URL",
		"Sign in to confirm your age",
		"members-only content",
		"This live event will begin",
	}
)

// VideoInfo is the subset of yt-dlp's info json used for tagging.
type VideoInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Track      string  `json:"track"`
	UploadDate string  `json:"upload_date"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

// downloaded is the artifact set produced by the download stage.
type downloaded struct {
	Audio     string
	Thumbnail string
	Info      VideoInfo
}

func buildDownloadArgs(source, outputTemplate, ffmpegPath string) []string {
	args := []string{
		"-f", "bestaudio[acodec=opus]/bestaudio[acodec=aac]/bestaudio",
		"--no-playlist",
		"--newline",
		"--no-colors",
		"--no-overwrites",
		"--write-info-json",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"-o", outputTemplate,
	}
	if ffmpegPath != "" && ffmpegPath != "ffmpeg" {
		args = append(args, "--ffmpeg-location", ffmpegPath)
	}
	return append(args, "--", source)
}

func (e *Executor) download(ctx context.Context, run *jobRun) error {
	template := run.ws.path("%(id)s.%(ext)s")
	cmd := stage.Command{
		Name:     e.settings.Paths.YtDlp,
		Args:     buildDownloadArgs(run.job.Source, template, e.settings.Paths.FFmpeg),
		Progress: stage.PercentExtractor(),
		Classify: stage.WithFatalMarkers(stage.DefaultClassifier, downloadFatalMarkers...),
	}

	_, err := e.withRetry(ctx, run, domain.StageDownloading, func(onProgress stage.ProgressFunc) stage.Outcome {
		return e.runner.Run(ctx, stage.Invocation{
			Command: cmd,
			Output:  template,
			Timeout: e.settings.Stages.DownloadTimeout.Std(),
		}, onProgress)
	})
	if err != nil {
		return err
	}

	result, err := e.collectDownload(run.ws)
	if err != nil {
		return stageFailure(domain.StageDownloading, err, "%v", err)
	}
	run.media = result
	run.result.Title = result.Info.Title
	return nil
}

// collectDownload locates the audio file, thumbnail and info json yt-dlp wrote.
func (e *Executor) collectDownload(ws workspace) (downloaded, error) {
	entries, err := e.readDir(ws.dir)
	if err != nil {
		return downloaded{}, fmt.Errorf("read workspace: %w", err)
	}

	var out downloaded
	var infoPath string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, ".info.json"):
			infoPath = ws.path(name)
		case strings.HasSuffix(lower, ".part"), strings.HasSuffix(lower, ".ytdl"):
		case hasExtension(lower, thumbnailExtensions):
			if out.Thumbnail == "" || strings.HasSuffix(lower, ".jpg") {
				out.Thumbnail = ws.path(name)
			}
		case hasExtension(lower, audioExtensions):
			out.Audio = ws.path(name)
		}
	}

	if out.Audio == "" {
		return downloaded{}, fmt.Errorf("downloaded audio file not found in %s", ws.dir)
	}

	if infoPath != "" {
		data, err := e.readFile(infoPath)
		if err != nil {
			return downloaded{}, fmt.Errorf("read info json: %w", err)
		}
		if err := json.Unmarshal(data, &out.Info); err != nil {
			return downloaded{}, fmt.Errorf("parse info json: %w", err)
		}
	}
	if out.Info.ID == "" {
		base := filepath.Base(out.Audio)
		out.Info.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return out, nil
}

func hasExtension(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, want := range exts {
		if ext == want {
			return true
		}
	}
	return false
}
