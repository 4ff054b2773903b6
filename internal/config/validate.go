package config

import (
	"errors"
	"fmt"
	"strings"

	"ytaudio/internal/domain"
)

// ErrInvalid marks configuration problems found before any job starts.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalid) match.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks every field the pipeline relies on and joins all problems.
func Validate(s domain.Settings) error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if _, err := domain.ParseOutputFormat(string(s.Output.Format)); err != nil {
		fail("output.format", "%v", err)
	}
	if strings.TrimSpace(s.Output.Directory) == "" {
		fail("output.directory", "must not be empty")
	}
	if _, err := domain.ParseQuality(string(s.Upscale.Quality)); err != nil {
		fail("upscale.quality", "%v", err)
	}
	if s.Upscale.AudioSR.Steps < 1 {
		fail("upscale.audiosr.ddim_steps", "must be at least 1, got %d", s.Upscale.AudioSR.Steps)
	}
	if s.Upscale.AudioSR.Guidance <= 0 {
		fail("upscale.audiosr.guidance_scale", "must be positive, got %g", s.Upscale.AudioSR.Guidance)
	}
	if err := ValidateLUFS(s.Normalize.TargetLUFS); err != nil {
		fail("normalize.target_lufs", "%v", err)
	}
	if s.Normalize.TruePeak < -9 || s.Normalize.TruePeak > 0 {
		fail("normalize.true_peak", "must be within [-9, 0], got %g", s.Normalize.TruePeak)
	}
	if s.Normalize.LRA < 1 || s.Normalize.LRA > 50 {
		fail("normalize.lra", "must be within [1, 50], got %g", s.Normalize.LRA)
	}
	if s.Batch.MaxParallel < 1 {
		fail("batch.max_parallel", "must be at least 1, got %d", s.Batch.MaxParallel)
	}
	if s.Stages.RetryLimit < 0 {
		fail("stages.retry_limit", "must not be negative, got %d", s.Stages.RetryLimit)
	}

	timeouts := map[string]domain.Duration{
		"stages.download_timeout":     s.Stages.DownloadTimeout,
		"stages.decode_timeout":       s.Stages.DecodeTimeout,
		"stages.upscale_fast_timeout": s.Stages.UpscaleFastTimeout,
		"stages.upscale_best_timeout": s.Stages.UpscaleBestTimeout,
		"stages.normalize_timeout":    s.Stages.NormalizeTimeout,
		"stages.encode_timeout":       s.Stages.EncodeTimeout,
		"stages.metadata_timeout":     s.Stages.MetadataTimeout,
		"stages.kill_grace":           s.Stages.KillGrace,
	}
	for field, value := range timeouts {
		if value <= 0 {
			fail(field, "must be positive, got %s", value)
		}
	}
	if s.Stages.BackoffInitial < 0 || s.Stages.BackoffMax < s.Stages.BackoffInitial {
		fail("stages.backoff", "need 0 <= backoff_initial <= backoff_max")
	}

	return errors.Join(errs...)
}

// ValidateLUFS bounds a loudness target to the range loudnorm accepts.
func ValidateLUFS(lufs float64) error {
	if lufs < -70 || lufs > -5 {
		return fmt.Errorf("target loudness must be within [-70, -5] LUFS, got %g", lufs)
	}
	return nil
}

// ValidateParallelism rejects a batch bound below one.
func ValidateParallelism(n int) error {
	if n < 1 {
		return &ValidationError{Field: "parallel", Reason: fmt.Sprintf("must be at least 1, got %d", n)}
	}
	return nil
}
