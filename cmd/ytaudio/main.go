package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"ytaudio/cmd/ytaudio/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:                   "ytaudio",
		Usage:                  "extract, enhance and normalize audio from YouTube videos",
		UseShortOptionHandling: true,
		Flags:                  commands.GlobalFlags(),
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "extract audio from a single video",
				ArgsUsage: "<url>",
				Flags:     commands.JobFlags(),
				Action:    commands.ExtractAction,
			},
			{
				Name:  "batch",
				Usage: "process a URL list file or a playlist",
				Flags: append(commands.JobFlags(),
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "file with one URL per line, or a playlist URL",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "parallel",
						Aliases: []string{"p"},
						Usage:   "maximum concurrent jobs (default from config)",
					},
				),
				Action: commands.BatchAction,
			},
			{
				Name:   "doctor",
				Usage:  "check external tools, python modules and models",
				Action: commands.DoctorAction,
			},
			{
				Name:   "update-models",
				Usage:  "set up the python environment and download enhancement models",
				Action: commands.UpdateModelsAction,
			},
			{
				Name:  "config",
				Usage: "show the resolved configuration",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "write",
						Usage: "write the resolved configuration to the config file",
					},
				},
				Action: commands.ConfigAction,
			},
			{
				Name:  "history",
				Usage: "list recent jobs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "number of records to show",
						Value: 20,
					},
				},
				Action: commands.HistoryAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
