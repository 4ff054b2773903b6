package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
)

const (
	maxFilenameRunes = 180
	maxNameAttempts  = 1000
)

// Tags are the text fields written into the output container.
type Tags struct {
	Title   string
	Artist  string
	Album   string
	Date    string
	Comment string
}

// tagsFromInfo maps yt-dlp metadata onto container tags.
func tagsFromInfo(info VideoInfo) Tags {
	title := firstNonEmpty(info.Track, info.Title)
	return Tags{
		Title:   title,
		Artist:  firstNonEmpty(info.Artist, info.Uploader, info.Channel),
		Album:   info.Album,
		Date:    formatUploadDate(info.UploadDate),
		Comment: youtubeComment(info.ID),
	}
}

func youtubeComment(id string) string {
	if id == "" {
		return ""
	}
	return "YouTube: " + id
}

// formatUploadDate turns YYYYMMDD into YYYY-MM-DD and leaves anything else untouched.
func formatUploadDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) != 8 {
		return raw
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return raw
		}
	}
	return raw[:4] + "-" + raw[4:6] + "-" + raw[6:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (t Tags) args() []string {
	var args []string
	add := func(key, value string) {
		if value != "" {
			args = append(args, "-metadata", key+"="+value)
		}
	}
	add("title", t.Title)
	add("artist", t.Artist)
	add("album", t.Album)
	add("date", t.Date)
	add("comment", t.Comment)
	return args
}

// buildMetadataArgs remuxes input with tags and, when given, a cover image. Audio is
// stream-copied.
func buildMetadataArgs(input, cover, output string, format domain.OutputFormat, tags Tags) []string {
	args := ffmpegBase(input)
	if cover != "" {
		args = append(args, "-i", cover, "-map", "0:a", "-map", "1:v", "-c:v", "mjpeg", "-disposition:v:0", "attached_pic")
	} else {
		args = append(args, "-map", "0:a")
	}
	args = append(args, "-c:a", "copy")
	if format == domain.FormatMP3 {
		args = append(args, "-id3v2_version", "3")
	}
	args = append(args, tags.args()...)
	return append(args, output)
}

func (e *Executor) embedMetadata(ctx context.Context, run *jobRun, input string) (string, error) {
	format := run.job.Options.Format
	tagged := run.ws.path("tagged." + format.Extension())

	cover := ""
	if format.SupportsArtwork() && run.media.Thumbnail != "" {
		if _, err := e.stat(run.media.Thumbnail); err == nil {
			cover = run.media.Thumbnail
		}
	}
	tags := tagsFromInfo(run.media.Info)
	cmd := stage.Command{
		Name:     e.settings.Paths.FFmpeg,
		Args:     buildMetadataArgs(input, cover, tagged, format, tags),
		Progress: stage.FFmpegExtractor(e.mediaDuration(run)),
	}

	outcome, err := e.withRetry(ctx, run, domain.StageEmbeddingMetadata, func(onProgress stage.ProgressFunc) stage.Outcome {
		return e.runner.Run(ctx, stage.Invocation{
			Command: cmd,
			Input:   input,
			Output:  tagged,
			Timeout: e.settings.Stages.MetadataTimeout.Std(),
		}, onProgress)
	})
	if err != nil {
		return "", err
	}

	name := sanitizeFilename(firstNonEmpty(tags.Title, run.media.Info.ID)) + "." + format.Extension()
	dest, err := e.placeOutput(outcome.Artifact, run.job.Options.OutputDir, name)
	if err != nil {
		return "", stageFailure(domain.StageEmbeddingMetadata, err, "move output to %s: %v", run.job.Options.OutputDir, err)
	}
	return dest, nil
}

// sanitizeFilename makes title safe as a file name on every supported platform.
func sanitizeFilename(title string) string {
	var b strings.Builder
	space := false
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
			}
			space = true
			continue
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			r = '_'
		}
		space = false
		b.WriteRune(r)
	}

	name := strings.Trim(b.String(), " .")
	if utf8.RuneCountInString(name) > maxFilenameRunes {
		name = strings.TrimRight(string([]rune(name)[:maxFilenameRunes]), " .")
	}
	if name == "" {
		return "audio"
	}
	return name
}

// placeOutput moves src into dir as name, appending " (n)" until a free name is claimed.
// A name is claimed with a hard link, or with an O_EXCL copy when linking is not possible,
// so concurrent jobs never end up with the same file.
func (e *Executor) placeOutput(src, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	canLink := true
	for i := 0; i < maxNameAttempts; i++ {
		candidate := filepath.Join(dir, name)
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		}

		if canLink {
			err := e.link(src, candidate)
			if err == nil {
				_ = e.removeAll(src)
				return candidate, nil
			}
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			// cross-device workspace or a filesystem without hard links
			canLink = false
		}

		err := e.copyFile(src, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("too many files named %q in %s", name, dir)
}

// copyFile copies src to a new file dst and removes src. It fails with fs.ErrExist if
// dst already exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
