package jobs

import (
	"time"

	"ytaudio/internal/domain"
)

// JobResult is the terminal record of one job.
type JobResult struct {
	JobID      string               `json:"jobId"`
	Source     string               `json:"source"`
	Position   int                  `json:"position"`
	Stage      domain.Stage         `json:"stage"`
	Title      string               `json:"title,omitempty"`
	OutputPath string               `json:"outputPath,omitempty"`
	Err        error                `json:"-"`
	ErrorKind  domain.ErrorKind     `json:"errorKind,omitempty"`
	FailedAt   domain.Stage         `json:"failedAt,omitempty"`
	Attempts   map[domain.Stage]int `json:"attempts,omitempty"`
	Stages     []domain.Stage       `json:"stages,omitempty"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
}

// Succeeded reports whether the job completed.
func (r JobResult) Succeeded() bool {
	return r.Stage == domain.StageCompleted
}

// Duration is the wall time between start and finish.
func (r JobResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorMessage returns the failure text, or "".
func (r JobResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchStatus summarizes a batch for exit codes and reports.
type BatchStatus string

const (
	BatchEmpty     BatchStatus = "empty"
	BatchSucceeded BatchStatus = "succeeded"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// BatchResult maps job ids to terminal results. It is immutable once RunBatch returns.
type BatchResult struct {
	order      []string
	results    map[string]JobResult
	Cancelled  bool
	Peak       int
	StartedAt  time.Time
	FinishedAt time.Time
}

func newBatchResult(jobs []domain.Job) BatchResult {
	order := make([]string, 0, len(jobs))
	for _, job := range jobs {
		order = append(order, job.ID)
	}
	return BatchResult{
		order:     order,
		results:   make(map[string]JobResult, len(jobs)),
		StartedAt: time.Now().UTC(),
	}
}

// Get returns the result for jobID.
func (b BatchResult) Get(jobID string) (JobResult, bool) {
	r, ok := b.results[jobID]
	return r, ok
}

// Len is the number of recorded results.
func (b BatchResult) Len() int {
	return len(b.results)
}

// Ordered returns results in submission order.
func (b BatchResult) Ordered() []JobResult {
	out := make([]JobResult, 0, len(b.order))
	for _, id := range b.order {
		if r, ok := b.results[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Succeeded counts completed jobs.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

// Failed counts jobs that did not complete.
func (b BatchResult) Failed() int {
	return len(b.results) - b.Succeeded()
}

// Status distinguishes full success, partial success and total failure.
func (b BatchResult) Status() BatchStatus {
	switch ok := b.Succeeded(); {
	case len(b.results) == 0:
		return BatchEmpty
	case b.Cancelled:
		return BatchCancelled
	case ok == len(b.results):
		return BatchSucceeded
	case ok == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}
