package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"ytaudio/internal/domain"
)

// DoctorAction checks every external dependency and exits 1 if a required one fails.
func DoctorAction(ctx context.Context, cmd *cli.Command) error {
	app, _, err := openApp(cmd)
	if err != nil {
		return err
	}

	report := app.Doctor(ctx)
	if cmd.Bool("json") {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		writeDiagnostics(os.Stdout, report)
	}

	if len(report.Failed()) > 0 {
		return errFailed
	}
	return nil
}

func writeDiagnostics(w io.Writer, report domain.DiagnosticReport) {
	table := tablewriter.NewWriter(w)
	table.Header("Check", "Status", "Detail")
	for _, item := range report.Items {
		status := string(item.Status)
		if item.Optional && item.Status != domain.DiagnosticStatusPass {
			status += " (optional)"
		}
		table.Append(item.Name, status, item.Message)
	}
	table.Render()

	var hints []domain.DiagnosticItem
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass && item.Hint != "" {
			hints = append(hints, item)
		}
	}
	if len(hints) == 0 {
		return
	}
	fmt.Fprintln(w, "\nHow to fix:")
	for _, item := range hints {
		fmt.Fprintf(w, "  %s: %s\n", item.Name, item.Hint)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
