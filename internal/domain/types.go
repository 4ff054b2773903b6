package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one step of a job's pipeline.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageDownloading       Stage = "downloading"
	StageDecoding          Stage = "decoding"
	StageUpscaling         Stage = "upscaling"
	StageNormalizing       Stage = "normalizing"
	StageEncoding          Stage = "encoding"
	StageEmbeddingMetadata Stage = "embedding_metadata"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageQueued:            0,
	StageDownloading:       1,
	StageDecoding:          2,
	StageUpscaling:         3,
	StageNormalizing:       4,
	StageEncoding:          5,
	StageEmbeddingMetadata: 6,
	StageCompleted:         7,
	StageFailed:            7,
}

// Order returns the position of the stage in the fixed pipeline order, or -1.
func (s Stage) Order() int {
	order, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return order
}

// IsTerminal reports whether no further stage may follow s.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsRunning reports whether s is an active pipeline stage.
func (s Stage) IsRunning() bool {
	switch s {
	case StageDownloading, StageDecoding, StageUpscaling, StageNormalizing, StageEncoding, StageEmbeddingMetadata:
		return true
	default:
		return false
	}
}

// Label is the human form used by renderers.
func (s Stage) Label() string {
	switch s {
	case StageEmbeddingMetadata:
		return "Embedding metadata"
	case "":
		return ""
	default:
		return strings.ToUpper(string(s[:1])) + string(s[1:])
	}
}

// OutputFormat is the final audio container/codec.
type OutputFormat string

const (
	FormatFLAC OutputFormat = "flac"
	FormatWAV  OutputFormat = "wav"
	FormatMP3  OutputFormat = "mp3"
	FormatAAC  OutputFormat = "aac"
	FormatOpus OutputFormat = "opus"
)

// OutputFormats lists every supported format.
var OutputFormats = []OutputFormat{FormatFLAC, FormatWAV, FormatMP3, FormatAAC, FormatOpus}

// ParseOutputFormat accepts a case-insensitive format name.
func ParseOutputFormat(raw string) (OutputFormat, error) {
	value := OutputFormat(strings.ToLower(strings.TrimSpace(raw)))
	for _, f := range OutputFormats {
		if f == value {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (want flac, wav, mp3, aac or opus)", raw)
}

// Extension returns the file extension without a dot.
func (f OutputFormat) Extension() string {
	if f == FormatAAC {
		return "m4a"
	}
	return string(f)
}

// SupportsArtwork reports whether cover art can be attached to the container.
func (f OutputFormat) SupportsArtwork() bool {
	switch f {
	case FormatFLAC, FormatMP3, FormatAAC:
		return true
	default:
		return false
	}
}

// Quality selects the enhancement model tier.
type Quality string

const (
	QualityFast Quality = "fast"
	QualityBest Quality = "best"
)

// ParseQuality accepts "fast" or "best".
func ParseQuality(raw string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(raw))) {
	case QualityFast:
		return QualityFast, nil
	case QualityBest:
		return QualityBest, nil
	default:
		return "", fmt.Errorf("unknown quality %q (want fast or best)", raw)
	}
}

// JobOptions are the resolved per-job choices.
type JobOptions struct {
	Format     OutputFormat `json:"format"`
	OutputDir  string       `json:"outputDir"`
	Enhance    bool         `json:"enhance"`
	Quality    Quality      `json:"quality"`
	Normalize  bool         `json:"normalize"`
	TargetLUFS float64      `json:"targetLufs"`
	KeepTemp   bool         `json:"keepTemp"`
}

// Job is one source-to-output conversion request.
type Job struct {
	ID       string     `json:"id"`
	Source   string     `json:"source"`
	Position int        `json:"position"`
	Options  JobOptions `json:"options"`
}

// Duration is a time.Duration that reads and writes as "90s" in config files.
type Duration time.Duration

// Std converts d to time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
