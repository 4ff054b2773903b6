package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ytaudio/internal/domain"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "YTAUDIO_"

// LoadEnvFile loads a .env file into the process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	return nil
}

// ApplyEnv overlays YTAUDIO_* variables onto s. Unparseable values leave the field unchanged.
func ApplyEnv(s domain.Settings, lookup func(string) (string, bool)) domain.Settings {
	env := envReader{lookup: lookup}

	s.Paths.YtDlp = env.str("PATHS_YT_DLP", s.Paths.YtDlp)
	s.Paths.FFmpeg = env.str("PATHS_FFMPEG", s.Paths.FFmpeg)
	s.Paths.Python = env.str("PATHS_PYTHON", s.Paths.Python)

	s.Output.Format = domain.OutputFormat(strings.ToLower(env.str("OUTPUT_FORMAT", string(s.Output.Format))))
	s.Output.Directory = env.str("OUTPUT_DIRECTORY", s.Output.Directory)

	s.Upscale.Enabled = env.boolean("UPSCALE_ENABLED", s.Upscale.Enabled)
	s.Upscale.Quality = domain.Quality(strings.ToLower(env.str("UPSCALE_QUALITY", string(s.Upscale.Quality))))
	s.Upscale.ModelDir = env.str("UPSCALE_MODEL_DIR", s.Upscale.ModelDir)
	s.Upscale.AudioSR.Steps = env.integer("UPSCALE_AUDIOSR_DDIM_STEPS", s.Upscale.AudioSR.Steps)
	s.Upscale.AudioSR.Guidance = env.float("UPSCALE_AUDIOSR_GUIDANCE_SCALE", s.Upscale.AudioSR.Guidance)

	s.Normalize.Enabled = env.boolean("NORMALIZE_ENABLED", s.Normalize.Enabled)
	s.Normalize.TargetLUFS = env.float("NORMALIZE_TARGET_LUFS", s.Normalize.TargetLUFS)
	s.Normalize.TruePeak = env.float("NORMALIZE_TRUE_PEAK", s.Normalize.TruePeak)
	s.Normalize.LRA = env.float("NORMALIZE_LRA", s.Normalize.LRA)

	s.Batch.MaxParallel = env.integer("BATCH_MAX_PARALLEL", s.Batch.MaxParallel)
	s.Batch.ContinueOnError = env.boolean("BATCH_CONTINUE_ON_ERROR", s.Batch.ContinueOnError)

	s.Stages.RetryLimit = env.integer("STAGES_RETRY_LIMIT", s.Stages.RetryLimit)
	s.Stages.DownloadTimeout = env.duration("STAGES_DOWNLOAD_TIMEOUT", s.Stages.DownloadTimeout)
	s.Stages.UpscaleBestTimeout = env.duration("STAGES_UPSCALE_BEST_TIMEOUT", s.Stages.UpscaleBestTimeout)
	s.Stages.KillGrace = env.duration("STAGES_KILL_GRACE", s.Stages.KillGrace)

	s.Temp.Cleanup = env.boolean("TEMP_CLEANUP", s.Temp.Cleanup)
	s.Temp.Directory = env.str("TEMP_DIRECTORY", s.Temp.Directory)

	s.History.Enabled = env.boolean("HISTORY_ENABLED", s.History.Enabled)
	s.History.Path = env.str("HISTORY_PATH", s.History.Path)

	return s
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) raw(key string) (string, bool) {
	value, ok := e.lookup(EnvPrefix + key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (e envReader) str(key, fallback string) string {
	if value, ok := e.raw(key); ok {
		return value
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e envReader) float(key string, fallback float64) float64 {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e envReader) boolean(key string, fallback bool) bool {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e envReader) duration(key string, fallback domain.Duration) domain.Duration {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return domain.Duration(parsed)
}
