package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"ytaudio/internal/bootstrap"
	"ytaudio/internal/jobs"
	"ytaudio/internal/sources"
)

// ExtractAction runs one video through the pipeline.
func ExtractAction(ctx context.Context, cmd *cli.Command) error {
	url := strings.TrimSpace(cmd.Args().First())
	if url == "" {
		return errors.New("extract requires a video URL")
	}
	if err := sources.ValidateURL(url); err != nil {
		return err
	}

	app, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	return runJobs(ctx, cmd, app, []string{url}, 1)
}

// BatchAction runs every URL from a list file or playlist.
func BatchAction(ctx context.Context, cmd *cli.Command) error {
	app, logger, err := openApp(cmd)
	if err != nil {
		return err
	}

	input := cmd.String("input")
	urls, err := app.ResolveSources(ctx, input)
	if err != nil {
		return fmt.Errorf("read batch input: %w", err)
	}
	logger.Info("batch input resolved", "input", input, "jobs", len(urls))

	parallel := app.Settings.Batch.MaxParallel
	if cmd.IsSet("parallel") {
		parallel = cmd.Int("parallel")
	}
	return runJobs(ctx, cmd, app, urls, parallel)
}

func runJobs(ctx context.Context, cmd *cli.Command, app *bootstrap.App, urls []string, parallel int) error {
	overrides, err := jobOverrides(cmd)
	if err != nil {
		return err
	}
	opts, err := app.JobOptions(overrides)
	if err != nil {
		return err
	}

	var (
		jsonOut  = cmd.Bool("json")
		jsonRend *jsonRenderer
		onEvent  func(jobs.Event)
	)
	if jsonOut {
		jsonRend = newJSONRenderer(os.Stdout)
		onEvent = jsonRend.Render
	} else {
		onEvent = newTextRenderer(os.Stderr).Render
	}

	result, err := app.RunBatch(ctx, bootstrap.BatchRequest{
		Sources:     urls,
		Options:     opts,
		MaxParallel: parallel,
		OnEvent:     onEvent,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		jsonRend.Summary(result)
	} else {
		writeSummary(os.Stdout, result)
	}
	if result.Status() != jobs.BatchSucceeded {
		return errFailed
	}
	return nil
}
