package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"ytaudio/internal/domain"
)

const appName = "ytaudio"

// DefaultSettings returns the baseline configuration used when no file or
// environment override is present.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		Paths: domain.PathSettings{
			YtDlp:  "yt-dlp",
			FFmpeg: "ffmpeg",
		},
		Output: domain.OutputSettings{
			Format:    domain.FormatFLAC,
			Directory: ".",
		},
		Upscale: domain.UpscaleSettings{
			Enabled:  false,
			Quality:  domain.QualityFast,
			ModelDir: filepath.Join(DataDir(), "models"),
			AudioSR: domain.AudioSRSettings{
				Steps:    50,
				Guidance: 3.5,
				Model:    "basic",
				Seed:     42,
			},
		},
		Normalize: domain.NormalizeSettings{
			Enabled:    false,
			TargetLUFS: -14,
			TruePeak:   -1,
			LRA:        11,
		},
		Batch: domain.BatchSettings{
			MaxParallel:     4,
			ContinueOnError: true,
		},
		Stages: domain.StageSettings{
			DownloadTimeout:    domain.Duration(10 * time.Minute),
			DecodeTimeout:      domain.Duration(5 * time.Minute),
			UpscaleFastTimeout: domain.Duration(10 * time.Minute),
			UpscaleBestTimeout: domain.Duration(45 * time.Minute),
			NormalizeTimeout:   domain.Duration(5 * time.Minute),
			EncodeTimeout:      domain.Duration(5 * time.Minute),
			MetadataTimeout:    domain.Duration(2 * time.Minute),
			RetryLimit:         3,
			BackoffInitial:     domain.Duration(2 * time.Second),
			BackoffMax:         domain.Duration(30 * time.Second),
			KillGrace:          domain.Duration(5 * time.Second),
		},
		Temp: domain.TempSettings{
			Cleanup: true,
		},
		History: domain.HistorySettings{
			Enabled: true,
			Path:    filepath.Join(DataDir(), "history.db"),
		},
	}
}

// ConfigDir is the directory holding config.toml.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(".", "."+appName)
}

// DefaultConfigPath is used when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir holds the python environment, models and run history.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+appName)
	}
	return filepath.Join(homeDir, ".local", "share", appName)
}

// VenvDir is the managed python virtual environment.
func VenvDir() string {
	return filepath.Join(DataDir(), "venv")
}

// VenvPython returns the interpreter inside the managed virtual environment.
func VenvPython() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(VenvDir(), "Scripts", "python.exe")
	}
	return filepath.Join(VenvDir(), "bin", "python")
}

// resolvePython prefers the managed venv and falls back to python3 on PATH.
func resolvePython(stat func(string) (os.FileInfo, error)) string {
	venv := VenvPython()
	if _, err := stat(venv); err == nil {
		return venv
	}
	return "python3"
}
