package commands

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"ytaudio/internal/history"
)

// HistoryAction lists the most recent jobs, newest first.
func HistoryAction(ctx context.Context, cmd *cli.Command) error {
	app, _, err := openApp(cmd)
	if err != nil {
		return err
	}

	records, err := app.History(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return writeJSON(os.Stdout, records)
	}
	writeHistory(os.Stdout, records)
	return nil
}

func writeHistory(w io.Writer, records []history.Record) {
	table := tablewriter.NewWriter(w)
	table.Header("Finished", "Title", "Format", "Status", "Time", "Result")
	for _, r := range records {
		title := r.Title
		if title == "" {
			title = r.Source
		}
		status := "ok"
		result := r.OutputPath
		if !r.Succeeded() {
			status = string(r.ErrorKind)
			result = r.Error
		}
		table.Append(
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			title,
			string(r.Format),
			status,
			r.Duration().Round(time.Second).String(),
			result,
		)
	}
	table.Render()
}
