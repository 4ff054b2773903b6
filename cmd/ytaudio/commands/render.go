package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"ytaudio/internal/domain"
	"ytaudio/internal/jobs"
)

// progressStep is the granularity of human progress lines.
const progressStep = 10

// textRenderer prints one line per transition, retry and terminal event, and a progress
// line every progressStep percent.
type textRenderer struct {
	w        io.Writer
	lastTick map[string]int
}

func newTextRenderer(w io.Writer) *textRenderer {
	return &textRenderer{w: w, lastTick: make(map[string]int)}
}

func (r *textRenderer) Render(e jobs.Event) {
	id := jobs.ShortID(e.JobID)
	switch e.Kind {
	case jobs.EventKindTransition:
		r.lastTick[e.JobID] = 0
		fmt.Fprintf(r.w, "[%s] %s\n", id, e.Stage.Label())
	case jobs.EventKindProgress:
		if e.Progress < 0 || !e.Stage.IsRunning() {
			return
		}
		pct := int(e.Progress*100) / progressStep * progressStep
		if pct <= r.lastTick[e.JobID] {
			return
		}
		r.lastTick[e.JobID] = pct
		fmt.Fprintf(r.w, "[%s] %s %d%%\n", id, e.Stage.Label(), pct)
	case jobs.EventKindRetry:
		fmt.Fprintf(r.w, "[%s] %s: retrying (attempt %d): %s\n", id, e.Stage.Label(), e.Attempt, e.Message)
	case jobs.EventKindTerminal:
		delete(r.lastTick, e.JobID)
		if e.Stage == domain.StageCompleted {
			fmt.Fprintf(r.w, "[%s] done: %s\n", id, e.OutputPath)
			return
		}
		fmt.Fprintf(r.w, "[%s] failed (%s): %s\n", id, e.ErrorKind, e.Error)
	}
}

// jsonRenderer writes each event as one JSON line.
type jsonRenderer struct {
	enc *json.Encoder
}

func newJSONRenderer(w io.Writer) *jsonRenderer {
	return &jsonRenderer{enc: json.NewEncoder(w)}
}

func (r *jsonRenderer) Render(e jobs.Event) {
	_ = r.enc.Encode(e)
}

type summaryJob struct {
	JobID      string           `json:"jobId"`
	Source     string           `json:"source"`
	Stage      domain.Stage     `json:"stage"`
	OutputPath string           `json:"outputPath,omitempty"`
	ErrorKind  domain.ErrorKind `json:"errorKind,omitempty"`
	Error      string           `json:"error,omitempty"`
	FailedAt   domain.Stage     `json:"failedAt,omitempty"`
	Stages     []domain.Stage   `json:"stages,omitempty"`
	DurationMS int64            `json:"durationMs"`
}

type summary struct {
	Kind      string           `json:"kind"`
	Status    jobs.BatchStatus `json:"status"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Jobs      []summaryJob     `json:"jobs"`
}

func (r *jsonRenderer) Summary(result jobs.BatchResult) {
	s := summary{
		Kind:      "summary",
		Status:    result.Status(),
		Total:     result.Len(),
		Succeeded: result.Succeeded(),
		Failed:    result.Failed(),
		Jobs:      []summaryJob{},
	}
	for _, job := range result.Ordered() {
		s.Jobs = append(s.Jobs, summaryJob{
			JobID:      job.JobID,
			Source:     job.Source,
			Stage:      job.Stage,
			OutputPath: job.OutputPath,
			ErrorKind:  job.ErrorKind,
			Error:      job.ErrorMessage(),
			FailedAt:   job.FailedAt,
			Stages:     job.Stages,
			DurationMS: job.Duration().Milliseconds(),
		})
	}
	_ = r.enc.Encode(s)
}

// writeSummary prints the batch table followed by the sources that failed.
func writeSummary(w io.Writer, result jobs.BatchResult) {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Source", "Status", "Result", "Time")
	for _, job := range result.Ordered() {
		status := "ok"
		detail := job.OutputPath
		if !job.Succeeded() {
			status = string(job.ErrorKind)
			detail = job.ErrorMessage()
		}
		table.Append(
			fmt.Sprintf("%d", job.Position),
			job.Source,
			status,
			detail,
			job.Duration().Round(time.Second).String(),
		)
	}
	table.Render()

	fmt.Fprintf(w, "\n%d succeeded, %d failed (%s)\n", result.Succeeded(), result.Failed(), result.Status())

	failed := failedSources(result)
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w, "\nFailed URLs:")
	for _, src := range failed {
		fmt.Fprintf(w, "  %s\n", src)
	}
}

func failedSources(result jobs.BatchResult) []string {
	var out []string
	for _, job := range result.Ordered() {
		if !job.Succeeded() {
			out = append(out, job.Source)
		}
	}
	return out
}
