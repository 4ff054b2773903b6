package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
	"ytaudio/internal/upscale"
)

const (
	workSampleRate = "48000"
	workCodec      = "pcm_s24le"
)

// ffmpegBase is shared by every ffmpeg invocation: quiet banner, no stdin, overwrite, and
// machine-readable progress on stdout.
func ffmpegBase(input string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-nostats",
		"-progress", "pipe:1",
		"-i", input,
	}
}

func buildDecodeArgs(input, output string) []string {
	args := ffmpegBase(input)
	return append(args,
		"-vn",
		"-c:a", workCodec,
		"-ar", workSampleRate,
		output,
	)
}

// codecArgs maps an output format to its encoder settings.
func codecArgs(format domain.OutputFormat) []string {
	switch format {
	case domain.FormatWAV:
		return []string{"-c:a", "pcm_s24le"}
	case domain.FormatMP3:
		return []string{"-c:a", "libmp3lame", "-q:a", "0"}
	case domain.FormatAAC:
		return []string{"-c:a", "aac", "-b:a", "256k"}
	case domain.FormatOpus:
		return []string{"-c:a", "libopus", "-b:a", "192k"}
	default:
		return []string{"-c:a", "flac", "-compression_level", "12"}
	}
}

func buildEncodeArgs(input, output string, format domain.OutputFormat) []string {
	args := ffmpegBase(input)
	args = append(args, "-vn")
	args = append(args, codecArgs(format)...)
	return append(args, output)
}

// LoudnessTarget is an EBU R128 target.
type LoudnessTarget struct {
	Integrated float64
	TruePeak   float64
	LRA        float64
}

// LoudnessStats are the first-pass measurements printed by loudnorm.
type LoudnessStats struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	TargetOffset string `json:"target_offset"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (t LoudnessTarget) filter() string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s", formatFloat(t.Integrated), formatFloat(t.TruePeak), formatFloat(t.LRA))
}

func buildMeasureArgs(input string, target LoudnessTarget) []string {
	args := ffmpegBase(input)
	return append(args,
		"-af", target.filter()+":print_format=json",
		"-f", "null",
		"-",
	)
}

func buildApplyArgs(input, output string, target LoudnessTarget, stats LoudnessStats) []string {
	filter := fmt.Sprintf(
		"%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true:print_format=summary",
		target.filter(),
		stats.InputI,
		stats.InputTP,
		stats.InputLRA,
		stats.InputThresh,
		stats.TargetOffset,
	)
	args := ffmpegBase(input)
	return append(args,
		"-af", filter,
		"-c:a", workCodec,
		"-ar", workSampleRate,
		output,
	)
}

// parseLoudnessStats extracts the JSON block loudnorm prints at the end of stderr.
func parseLoudnessStats(stderr string) (LoudnessStats, error) {
	start := strings.Index(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start < 0 || end < start {
		return LoudnessStats{}, fmt.Errorf("loudnorm statistics not found in ffmpeg output")
	}

	var stats LoudnessStats
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &stats); err != nil {
		return LoudnessStats{}, fmt.Errorf("parse loudnorm statistics: %w", err)
	}
	if stats.InputI == "" || stats.InputTP == "" || stats.InputLRA == "" || stats.InputThresh == "" || stats.TargetOffset == "" {
		return LoudnessStats{}, fmt.Errorf("loudnorm statistics incomplete")
	}
	if strings.Contains(stats.InputI, "inf") {
		return LoudnessStats{}, fmt.Errorf("input is silent (integrated loudness %s)", stats.InputI)
	}
	return stats, nil
}

func (e *Executor) ffmpegCommand(args []string, progress stage.Extractor) stage.Command {
	return stage.Command{
		Name:     e.settings.Paths.FFmpeg,
		Args:     args,
		Progress: progress,
	}
}

func (e *Executor) mediaDuration(run *jobRun) time.Duration {
	return time.Duration(run.media.Info.Duration * float64(time.Second))
}

func (e *Executor) decode(ctx context.Context, run *jobRun, input string) (string, error) {
	output := run.ws.path("decoded.wav")
	cmd := e.ffmpegCommand(buildDecodeArgs(input, output), stage.FFmpegExtractor(e.mediaDuration(run)))

	outcome, err := e.withRetry(ctx, run, domain.StageDecoding, func(onProgress stage.ProgressFunc) stage.Outcome {
		return e.runner.Run(ctx, stage.Invocation{
			Command: cmd,
			Input:   input,
			Output:  output,
			Timeout: e.settings.Stages.DecodeTimeout.Std(),
		}, onProgress)
	})
	if err != nil {
		return "", err
	}
	return outcome.Artifact, nil
}

func (e *Executor) enhance(ctx context.Context, run *jobRun, input string) (string, error) {
	output := run.ws.path("upscaled.wav")
	sr := e.settings.Upscale.AudioSR
	req := upscale.Request{
		Input:   input,
		Output:  output,
		Quality: run.job.Options.Quality,
		Params: upscale.Params{
			Steps:    sr.Steps,
			Guidance: sr.Guidance,
			Model:    sr.Model,
			Seed:     sr.Seed,
		},
	}

	outcome, err := e.withRetry(ctx, run, domain.StageUpscaling, func(onProgress stage.ProgressFunc) stage.Outcome {
		outcome := e.enhancer.Enhance(ctx, req, onProgress)
		if !outcome.OK() {
			discardPartial(e.removeAll, output)
		}
		return outcome
	})
	if err != nil {
		return "", err
	}
	return outcome.Artifact, nil
}

func (e *Executor) normalize(ctx context.Context, run *jobRun, input string) (string, error) {
	target := LoudnessTarget{
		Integrated: run.job.Options.TargetLUFS,
		TruePeak:   e.settings.Normalize.TruePeak,
		LRA:        e.settings.Normalize.LRA,
	}
	timeout := e.settings.Stages.NormalizeTimeout.Std()
	duration := e.mediaDuration(run)

	measure, err := e.withRetry(ctx, run, domain.StageNormalizing, func(onProgress stage.ProgressFunc) stage.Outcome {
		return e.runner.Run(ctx, stage.Invocation{
			Command: e.ffmpegCommand(buildMeasureArgs(input, target), stage.FFmpegExtractor(duration)),
			Input:   input,
			Timeout: timeout,
		}, scaleProgress(onProgress, 0, 0.5))
	})
	if err != nil {
		return "", err
	}

	stats, err := parseLoudnessStats(measure.Log.Stderr)
	if err != nil {
		return "", &StageError{
			Stage:      domain.StageNormalizing,
			Kind:       domain.ErrorKindNormalize,
			Message:    err.Error(),
			CommandLog: measure.Log,
			Err:        err,
		}
	}
	e.logger.Debug("loudness measured", "job", run.job.ID, "input_i", stats.InputI, "input_tp", stats.InputTP)

	output := run.ws.path("normalized.wav")
	apply, err := e.withRetry(ctx, run, domain.StageNormalizing, func(onProgress stage.ProgressFunc) stage.Outcome {
		return e.runner.Run(ctx, stage.Invocation{
			Command: e.ffmpegCommand(buildApplyArgs(input, output, target, stats), stage.FFmpegExtractor(duration)),
			Input:   input,
			Output:  output,
			Timeout: timeout,
		}, scaleProgress(onProgress, 0.5, 1))
	})
	if err != nil {
		return "", err
	}
	return apply.Artifact, nil
}

func (e *Executor) encode(ctx context.Context, run *jobRun, input string) (string, error) {
	format := run.job.Options.Format
	output := run.ws.path("encoded." + format.Extension())
	cmd := e.ffmpegCommand(buildEncodeArgs(input, output, format), stage.FFmpegExtractor(e.mediaDuration(run)))

	outcome, err := e.withRetry(ctx, run, domain.StageEncoding, func(onProgress stage.ProgressFunc) stage.Outcome {
		return e.runner.Run(ctx, stage.Invocation{
			Command: cmd,
			Input:   input,
			Output:  output,
			Timeout: e.settings.Stages.EncodeTimeout.Std(),
		}, onProgress)
	})
	if err != nil {
		return "", err
	}
	return outcome.Artifact, nil
}

// scaleProgress maps [0,1] onto [from,to] for multi-pass stages.
func scaleProgress(next stage.ProgressFunc, from, to float64) stage.ProgressFunc {
	if next == nil {
		return nil
	}
	return func(v float64) {
		next(from + v*(to-from))
	}
}
