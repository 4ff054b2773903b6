package jobs

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ytaudio/internal/domain"
)

const jobIDPrefix = "job-"

// NewJob creates an immutable job with a time-ordered id.
func NewJob(source string, position int, opts domain.JobOptions) (domain.Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	return domain.Job{
		ID:       jobIDPrefix + id.String(),
		Source:   strings.TrimSpace(source),
		Position: position,
		Options:  opts,
	}, nil
}

// NewJobs creates one job per source, numbered from 1 in submission order.
func NewJobs(sources []string, opts domain.JobOptions) ([]domain.Job, error) {
	out := make([]domain.Job, 0, len(sources))
	for i, source := range sources {
		job, err := NewJob(source, i+1, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// ShortID trims the prefix and keeps the random tail for display.
func ShortID(jobID string) string {
	id := strings.TrimPrefix(jobID, jobIDPrefix)
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
