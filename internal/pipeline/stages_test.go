package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytaudio/internal/domain"
)

func TestBuildDownloadArgsEndsWithSource(t *testing.T) {
	args := buildDownloadArgs("-rf", "/ws/%(id)s.%(ext)s", "/opt/ffmpeg/bin/ffmpeg")

	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{"--", "-rf"}, args[len(args)-2:])
	assert.Contains(t, args, "--no-playlist")
	assert.Contains(t, args, "--write-info-json")
	assert.Contains(t, strings.Join(args, " "), "--ffmpeg-location /opt/ffmpeg/bin/ffmpeg")

	plain := buildDownloadArgs("https://youtu.be/x", "/ws/t", "ffmpeg")
	assert.NotContains(t, plain, "--ffmpeg-location")
}

func TestCodecArgs(t *testing.T) {
	cases := map[domain.OutputFormat]string{
		domain.FormatFLAC: "-c:a flac -compression_level 12",
		domain.FormatWAV:  "-c:a pcm_s24le",
		domain.FormatMP3:  "-c:a libmp3lame -q:a 0",
		domain.FormatAAC:  "-c:a aac -b:a 256k",
		domain.FormatOpus: "-c:a libopus -b:a 192k",
	}
	for format, want := range cases {
		assert.Equal(t, want, strings.Join(codecArgs(format), " "), format)
	}
}

func TestBuildDecodeArgs(t *testing.T) {
	args := strings.Join(buildDecodeArgs("/in.opus", "/ws/decoded.wav"), " ")
	assert.Contains(t, args, "-progress pipe:1")
	assert.Contains(t, args, "-c:a pcm_s24le -ar 48000 /ws/decoded.wav")
}

func TestParseLoudnessStats(t *testing.T) {
	stats, err := parseLoudnessStats(loudnormOutput)
	require.NoError(t, err)
	assert.Equal(t, "-23.54", stats.InputI)
	assert.Equal(t, "0.02", stats.TargetOffset)

	_, err = parseLoudnessStats("no stats here")
	assert.Error(t, err)

	_, err = parseLoudnessStats(`{"input_i":"-inf","input_tp":"-inf","input_lra":"0","input_thresh":"-70","target_offset":"0"}`)
	assert.ErrorContains(t, err, "silent")
}

func TestBuildApplyArgsUsesMeasuredValues(t *testing.T) {
	stats, err := parseLoudnessStats(loudnormOutput)
	require.NoError(t, err)

	args := buildApplyArgs("/in.wav", "/out.wav", LoudnessTarget{Integrated: -14, TruePeak: -1, LRA: 11}, stats)
	filter := args[len(args)-6]
	assert.True(t, strings.HasPrefix(filter, "loudnorm=I=-14:TP=-1:LRA=11:measured_I=-23.54"), filter)
	assert.Contains(t, filter, "linear=true")
}

func TestFormatUploadDate(t *testing.T) {
	assert.Equal(t, "2024-01-02", formatUploadDate("20240102"))
	assert.Equal(t, "2024", formatUploadDate("2024"))
	assert.Equal(t, "2024010x", formatUploadDate("2024010x"))
}

func TestTagsFromInfoFallsBackToUploader(t *testing.T) {
	tags := tagsFromInfo(VideoInfo{ID: "abc", Title: "T", Channel: "Chan", UploadDate: "19991231"})
	assert.Equal(t, Tags{Title: "T", Artist: "Chan", Date: "1999-12-31", Comment: "YouTube: abc"}, tags)

	tags = tagsFromInfo(VideoInfo{Title: "Video", Track: "Track", Artist: "A", Uploader: "U"})
	assert.Equal(t, "Track", tags.Title)
	assert.Equal(t, "A", tags.Artist)
	assert.Empty(t, tags.Comment)
}

func TestBuildMetadataArgsArtwork(t *testing.T) {
	tags := Tags{Title: "T", Comment: "YouTube: x"}

	withCover := strings.Join(buildMetadataArgs("/in.mp3", "/c.jpg", "/out.mp3", domain.FormatMP3, tags), " ")
	assert.Contains(t, withCover, "-i /c.jpg -map 0:a -map 1:v")
	assert.Contains(t, withCover, "attached_pic")
	assert.Contains(t, withCover, "-id3v2_version 3")
	assert.Contains(t, withCover, "-metadata comment=YouTube: x")

	noCover := strings.Join(buildMetadataArgs("/in.opus", "", "/out.opus", domain.FormatOpus, tags), " ")
	assert.NotContains(t, noCover, "attached_pic")
	assert.NotContains(t, noCover, "-metadata artist=")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "AC_DC - Back In Black", sanitizeFilename("AC/DC -  Back\tIn Black"))
	assert.Equal(t, "audio", sanitizeFilename(" ... "))
	assert.Equal(t, "a_b", sanitizeFilename("a\x00b"))

	long := sanitizeFilename(strings.Repeat("é", 400))
	assert.Equal(t, maxFilenameRunes, len([]rune(long)))
}

func TestCopyFileMovesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.flac")
	dst := filepath.Join(dir, "dst.flac")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	require.NoError(t, copyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.NoFileExists(t, src)
	assert.Error(t, copyFile(dst, dst))
}
