package config

import (
	"os"
	"strings"

	"ytaudio/internal/domain"
)

// Source records where the resolved settings came from.
type Source struct {
	ConfigPath string
	EnvFile    string
	FileFound  bool
}

// Resolve layers defaults, the TOML file, the .env file and YTAUDIO_* variables,
// then validates the result.
func Resolve(configPath, envFile string) (domain.Settings, Source, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = DefaultConfigPath()
	}
	src := Source{ConfigPath: configPath, EnvFile: envFile}

	if err := LoadEnvFile(envFile); err != nil {
		return domain.Settings{}, src, err
	}

	settings, err := NewTOMLStore(configPath).Load()
	if err != nil {
		return domain.Settings{}, src, err
	}
	if _, err := os.Stat(configPath); err == nil {
		src.FileFound = true
	}

	settings = ApplyEnv(settings, os.LookupEnv)
	settings = fillDerived(settings, os.Stat)

	if err := Validate(settings); err != nil {
		return domain.Settings{}, src, err
	}
	return settings, src, nil
}

func fillDerived(s domain.Settings, stat func(string) (os.FileInfo, error)) domain.Settings {
	if strings.TrimSpace(s.Paths.Python) == "" {
		s.Paths.Python = resolvePython(stat)
	}
	if strings.TrimSpace(s.Paths.YtDlp) == "" {
		s.Paths.YtDlp = "yt-dlp"
	}
	if strings.TrimSpace(s.Paths.FFmpeg) == "" {
		s.Paths.FFmpeg = "ffmpeg"
	}
	return s
}
