package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"ytaudio/internal/domain"
	"ytaudio/internal/models"
)

// UpdateModelsAction provisions the python environment and enhancement models.
func UpdateModelsAction(ctx context.Context, cmd *cli.Command) error {
	app, _, err := openApp(cmd)
	if err != nil {
		return err
	}

	jsonOut := cmd.Bool("json")
	report, err := app.UpdateModels(ctx, func(step models.Step) {
		if !jsonOut {
			writeStep(os.Stderr, step)
		}
	})
	if err != nil {
		return err
	}

	if jsonOut {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(os.Stdout, "python: %s\nmodels: %s\n\n", report.Python, report.ModelDir)
		writeModels(os.Stdout, app.Models())
	}

	if report.Failed() {
		return errFailed
	}
	return nil
}

func writeStep(w io.Writer, step models.Step) {
	if step.Detail == "" {
		fmt.Fprintf(w, "%-7s %s\n", step.Status, step.Name)
		return
	}
	fmt.Fprintf(w, "%-7s %s: %s\n", step.Status, step.Name, step.Detail)
}

func writeModels(w io.Writer, assets []domain.ModelAsset) {
	table := tablewriter.NewWriter(w)
	table.Header("Model", "Tier", "Size", "Installed", "Path")
	for _, a := range assets {
		installed := "no"
		if a.Downloaded {
			installed = "yes"
		}
		table.Append(a.Name, string(a.Tier), a.SizeLabel, installed, a.LocalPath)
	}
	table.Render()
}
