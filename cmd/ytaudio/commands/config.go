package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v3"

	"ytaudio/internal/config"
)

// ConfigAction prints the resolved configuration and, with --write, saves it.
func ConfigAction(ctx context.Context, cmd *cli.Command) error {
	app, _, err := openApp(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("write") {
		if err := app.SaveSettings(); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", app.Source.ConfigPath)
	}

	if cmd.Bool("json") {
		return writeJSON(os.Stdout, app.Settings)
	}
	writeSource(os.Stdout, app.Source)
	return toml.NewEncoder(os.Stdout).Encode(app.Settings)
}

func writeSource(w io.Writer, src config.Source) {
	state := "not found, using defaults"
	if src.FileFound {
		state = "loaded"
	}
	fmt.Fprintf(w, "# config file: %s (%s)\n", src.ConfigPath, state)
	if src.EnvFile != "" {
		fmt.Fprintf(w, "# env file: %s\n", src.EnvFile)
	}
	fmt.Fprintf(w, "# data dir: %s\n\n", config.DataDir())
}
