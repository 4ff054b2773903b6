package commands

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"ytaudio/internal/bootstrap"
	"ytaudio/internal/domain"
	"ytaudio/internal/logging"
)

// errFailed sets exit status 1 without printing anything more; the command output
// already describes the failure.
var errFailed = cli.Exit("", 1)

// GlobalFlags are accepted by every command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "config file path (default $XDG_CONFIG_HOME/ytaudio/config.toml)",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "environment file path",
			Value: ".env",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase log verbosity (repeatable)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log format: text or json",
			Value: "text",
			Validator: func(v string) error {
				if v != "text" && v != "json" {
					return fmt.Errorf("log format must be text or json, got %q", v)
				}
				return nil
			},
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "write machine-readable NDJSON to stdout",
		},
	}
}

// JobFlags override the configured job defaults.
func JobFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "enhance",
			Aliases: []string{"e"},
			Usage:   "run neural bandwidth enhancement",
		},
		&cli.StringFlag{
			Name:    "quality",
			Aliases: []string{"q"},
			Usage:   "enhancement tier: fast or best",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "output format: flac, wav, mp3, aac or opus",
		},
		&cli.BoolFlag{
			Name:    "normalize",
			Aliases: []string{"n"},
			Usage:   "normalize loudness",
		},
		&cli.FloatFlag{
			Name:  "lufs",
			Usage: "integrated loudness target in LUFS",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output directory",
		},
		&cli.BoolFlag{
			Name:  "keep-temp",
			Usage: "keep the job workspace after the job ends",
		},
	}
}

func newLogger(cmd *cli.Command) *slog.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelFromVerbosity(cmd.Count("verbose"))
	cfg.Format = cmd.String("log-format")
	return logging.New(cfg)
}

func openApp(cmd *cli.Command) (*bootstrap.App, *slog.Logger, error) {
	logger := newLogger(cmd)
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cmd.String("config"),
		EnvFile:    cmd.String("env"),
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return app, logger, nil
}

// jobOverrides collects only the job flags that were given on the command line.
func jobOverrides(cmd *cli.Command) (bootstrap.JobOverrides, error) {
	var o bootstrap.JobOverrides
	if cmd.IsSet("format") {
		format, err := domain.ParseOutputFormat(cmd.String("format"))
		if err != nil {
			return o, err
		}
		o.Format = &format
	}
	if cmd.IsSet("quality") {
		quality, err := domain.ParseQuality(cmd.String("quality"))
		if err != nil {
			return o, err
		}
		o.Quality = &quality
	}
	if cmd.IsSet("output") {
		dir := cmd.String("output")
		o.OutputDir = &dir
	}
	if cmd.IsSet("enhance") {
		enhance := cmd.Bool("enhance")
		o.Enhance = &enhance
	}
	if cmd.IsSet("normalize") {
		normalize := cmd.Bool("normalize")
		o.Normalize = &normalize
	}
	if cmd.IsSet("lufs") {
		lufs := cmd.Float("lufs")
		o.LUFS = &lufs
	}
	if cmd.IsSet("keep-temp") {
		keep := cmd.Bool("keep-temp")
		o.KeepTemp = &keep
	}
	return o, nil
}
