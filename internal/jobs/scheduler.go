package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ytaudio/internal/domain"
	"ytaudio/internal/logging"
)

// ErrInvalidParallelism rejects a batch bound below one.
var ErrInvalidParallelism = errors.New("max parallel must be at least 1")

// ErrNotAdmitted is recorded for jobs left in the queue when admission stopped.
var ErrNotAdmitted = errors.New("not started")

// JobRunner drives one job to a terminal state. It must return promptly once ctx is done.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) JobResult
}

// JobRunnerFunc adapts a function to JobRunner.
type JobRunnerFunc func(ctx context.Context, job domain.Job) JobResult

// Run calls f.
func (f JobRunnerFunc) Run(ctx context.Context, job domain.Job) JobResult {
	return f(ctx, job)
}

// SchedulerOptions configure batch policy.
type SchedulerOptions struct {
	// ContinueOnError keeps admitting queued jobs after a failure.
	ContinueOnError bool
	Publisher       Publisher
	Logger          *slog.Logger
}

// Scheduler runs jobs with bounded concurrency and FIFO admission.
type Scheduler struct {
	runner          JobRunner
	continueOnError bool
	publisher       Publisher
	logger          *slog.Logger

	mu      sync.Mutex
	active  int
	peak    int
	cancels map[string]context.CancelFunc
}

// NewScheduler creates a scheduler that hands admitted jobs to runner.
func NewScheduler(runner JobRunner, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		runner:          runner,
		continueOnError: opts.ContinueOnError,
		publisher:       opts.Publisher,
		logger:          logging.OrDefault(opts.Logger),
		cancels:         make(map[string]context.CancelFunc),
	}
}

// Active returns the number of admitted jobs that have not finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Peak returns the highest concurrency observed.
func (s *Scheduler) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// RunBatch runs jobs with at most maxParallel in flight. A job failure never aborts its
// siblings. Cancelling ctx cancels running jobs and stops admission; results of finished
// jobs are kept and unadmitted jobs are recorded as failed.
func (s *Scheduler) RunBatch(ctx context.Context, jobs []domain.Job, maxParallel int) (BatchResult, error) {
	if maxParallel < 1 {
		return BatchResult{}, fmt.Errorf("%w, got %d", ErrInvalidParallelism, maxParallel)
	}

	result := newBatchResult(jobs)
	if len(jobs) == 0 {
		result.FinishedAt = result.StartedAt
		return result, nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.peak = 0
	s.mu.Unlock()

	done := make(chan JobResult)
	ctxDone := batchCtx.Done()
	next := 0
	inflight := 0
	admitting := true

	for {
		if admitting && batchCtx.Err() != nil {
			admitting = false
			result.Cancelled = true
		}
		for admitting && next < len(jobs) && s.tryAdmit(maxParallel) {
			job := jobs[next]
			next++
			inflight++
			s.logger.Info("job admitted", "job", job.ID, "position", job.Position, "source", job.Source)
			jobCtx := s.track(batchCtx, job.ID)
			go func(job domain.Job) {
				r := s.runner.Run(jobCtx, job)
				s.untrack(job.ID)
				s.release()
				done <- r
			}(job)
		}

		if inflight == 0 {
			break
		}

		select {
		case r := <-done:
			inflight--
			result.results[r.JobID] = r
			if !r.Succeeded() {
				s.logger.Warn("job failed", "job", r.JobID, "stage", r.FailedAt, "kind", r.ErrorKind, "error", r.ErrorMessage())
				if !s.continueOnError && admitting {
					admitting = false
					s.logger.Info("stopping admission after failure", "remaining", len(jobs)-next)
				}
			}
		case <-ctxDone:
			ctxDone = nil
			admitting = false
			result.Cancelled = true
			s.logger.Info("batch cancelled", "running", inflight, "queued", len(jobs)-next)
		}
	}

	kind := domain.ErrorKindNotAdmitted
	cause := ErrNotAdmitted
	if result.Cancelled {
		kind = domain.ErrorKindCancelled
		cause = fmt.Errorf("%w: batch cancelled", ErrNotAdmitted)
	}
	now := time.Now().UTC()
	for _, job := range jobs[next:] {
		r := JobResult{
			JobID:      job.ID,
			Source:     job.Source,
			Position:   job.Position,
			Stage:      domain.StageFailed,
			FailedAt:   domain.StageQueued,
			Err:        cause,
			ErrorKind:  kind,
			StartedAt:  now,
			FinishedAt: now,
		}
		result.results[job.ID] = r
		s.publishSkipped(r)
	}

	result.Peak = s.Peak()
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// tryAdmit reserves a slot when fewer than maxParallel jobs are active.
func (s *Scheduler) tryAdmit(maxParallel int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= maxParallel {
		return false
	}
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	return true
}

// Cancel cancels one running job without touching its siblings. It reports false when the
// job is not running.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		s.logger.Info("job cancel requested", "job", jobID)
		cancel()
	}
	return ok
}

func (s *Scheduler) track(parent context.Context, jobID string) context.Context {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
	return ctx
}

func (s *Scheduler) untrack(jobID string) {
	s.mu.Lock()
	cancel := s.cancels[jobID]
	delete(s.cancels, jobID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
}

// publishSkipped emits the terminal event for a job that never ran.
func (s *Scheduler) publishSkipped(r JobResult) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(Event{
		JobID:     r.JobID,
		Source:    r.Source,
		Kind:      EventKindTerminal,
		Stage:     domain.StageFailed,
		Progress:  Indeterminate,
		Message:   "not started",
		Error:     r.ErrorMessage(),
		ErrorKind: r.ErrorKind,
	})
}
