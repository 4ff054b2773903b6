package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ytaudio/internal/domain"
	"ytaudio/internal/jobs"
	"ytaudio/internal/logging"
	"ytaudio/internal/stage"
	"ytaudio/internal/upscale"
)

// Options wire an Executor.
type Options struct {
	Settings  domain.Settings
	Runner    stage.Runner
	Enhancer  upscale.Enhancer
	Publisher jobs.Publisher
	Logger    *slog.Logger
}

// Executor drives one job through the ordered stages. It is safe for concurrent use by
// many jobs; all per-job state lives in jobRun.
type Executor struct {
	settings  domain.Settings
	runner    stage.Runner
	enhancer  upscale.Enhancer
	publisher jobs.Publisher
	logger    *slog.Logger
	retry     RetryPolicy

	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
	mkdirAll  func(path string, perm os.FileMode) error
	readFile  func(name string) ([]byte, error)
	readDir   func(name string) ([]os.DirEntry, error)
	link      func(oldname, newname string) error
	copyFile  func(src, dst string) error
}

// New constructs the production executor with OS dependencies.
func New(opts Options) *Executor {
	return &Executor{
		settings:  opts.Settings,
		runner:    opts.Runner,
		enhancer:  opts.Enhancer,
		publisher: opts.Publisher,
		logger:    logging.OrDefault(opts.Logger),
		retry:     RetryPolicyFrom(opts.Settings.Stages),
		sleep:     sleepContext,
		now:       func() time.Time { return time.Now().UTC() },
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
		mkdirAll:  os.MkdirAll,
		readFile:  os.ReadFile,
		readDir:   os.ReadDir,
		link:      os.Link,
		copyFile:  copyFile,
	}
}

// jobRun is the mutable state of one execution.
type jobRun struct {
	exec     *Executor
	job      domain.Job
	ws       workspace
	machine  *jobs.StateMachine
	attempts map[domain.Stage]int
	media    downloaded
	result   jobs.JobResult
	finished bool
}

func (run *jobRun) publish(event jobs.Event) {
	if run.exec.publisher == nil {
		return
	}
	event.JobID = run.job.ID
	event.Source = run.job.Source
	run.exec.publisher.Publish(event)
}

// progressFunc forwards runner fractions as progress ticks for st.
func (run *jobRun) progressFunc(st domain.Stage) stage.ProgressFunc {
	return func(fraction float64) {
		run.publish(jobs.Event{
			Kind:     jobs.EventKindProgress,
			Stage:    st,
			Progress: fraction,
		})
	}
}

func (run *jobRun) enter(st domain.Stage) error {
	if err := run.machine.Transition(st); err != nil {
		return err
	}
	run.result.Stage = st
	run.exec.logger.Debug("stage started", "job", run.job.ID, "stage", st)
	run.publish(jobs.Event{
		Kind:     jobs.EventKindTransition,
		Stage:    st,
		Progress: 0,
		Message:  st.Label(),
	})
	return nil
}

// fail records err and emits the single terminal event for a failed job.
func (run *jobRun) fail(err error) {
	if run.finished {
		return
	}
	run.finished = true

	failedAt := run.machine.Current()
	kind := domain.ErrorKindForStage(failedAt)
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		kind = stageErr.Kind
		failedAt = stageErr.Stage
	}
	if kind == domain.ErrorKindNone {
		kind = domain.ErrorKindConfigInvalid
	}

	_ = run.machine.Transition(domain.StageFailed)
	run.result.Stage = domain.StageFailed
	run.result.Err = err
	run.result.ErrorKind = kind
	run.result.FailedAt = failedAt
	run.result.Stages = run.machine.History()
	run.result.FinishedAt = run.exec.now()

	log := run.exec.logger.Error
	if kind == domain.ErrorKindCancelled {
		log = run.exec.logger.Warn
	}
	log("job failed", "job", run.job.ID, "stage", failedAt, "kind", kind, "error", err)

	run.publish(jobs.Event{
		Kind:      jobs.EventKindTerminal,
		Stage:     domain.StageFailed,
		Progress:  jobs.Indeterminate,
		Message:   fmt.Sprintf("failed during %s", failedAt),
		Error:     err.Error(),
		ErrorKind: kind,
	})
}

func (run *jobRun) complete(outputPath string) {
	if run.finished {
		return
	}
	run.finished = true

	_ = run.machine.Transition(domain.StageCompleted)
	run.result.Stage = domain.StageCompleted
	run.result.OutputPath = outputPath
	run.result.Stages = run.machine.History()
	run.result.FinishedAt = run.exec.now()

	run.exec.logger.Info("job completed",
		"job", run.job.ID,
		"output", outputPath,
		"duration", run.result.Duration().Round(time.Millisecond),
	)
	run.publish(jobs.Event{
		Kind:       jobs.EventKindTerminal,
		Stage:      domain.StageCompleted,
		Progress:   1,
		OutputPath: outputPath,
		Message:    "completed",
	})
}

// stageFunc transforms the previous artifact into the next.
type stageFunc func(ctx context.Context, run *jobRun, input string) (string, error)

type step struct {
	stage   domain.Stage
	enabled bool
	run     stageFunc
}

// Run executes job to a terminal state and emits exactly one terminal event. It never
// returns an error; failures are reported in the result.
func (e *Executor) Run(ctx context.Context, job domain.Job) jobs.JobResult {
	run := &jobRun{
		exec:     e,
		job:      job,
		machine:  jobs.NewStateMachine(job.ID),
		attempts: make(map[domain.Stage]int),
	}
	run.result = jobs.JobResult{
		JobID:     job.ID,
		Source:    job.Source,
		Position:  job.Position,
		Stage:     domain.StageQueued,
		Attempts:  run.attempts,
		StartedAt: e.now(),
	}

	e.logger.Info("job started", "job", job.ID, "source", job.Source, "format", job.Options.Format)

	if err := e.prepare(run); err != nil {
		run.fail(err)
		return run.result
	}
	defer e.releaseWorkspace(run, run.ws)

	e.execute(ctx, run)
	return run.result
}

// prepare validates the output location and creates the job workspace.
func (e *Executor) prepare(run *jobRun) error {
	outputDir := strings.TrimSpace(run.job.Options.OutputDir)
	if outputDir == "" {
		return &StageError{
			Stage:   domain.StageQueued,
			Kind:    domain.ErrorKindConfigInvalid,
			Message: "output directory is required",
		}
	}
	if err := e.mkdirAll(outputDir, 0o755); err != nil {
		return &StageError{
			Stage:   domain.StageQueued,
			Kind:    domain.ErrorKindConfigInvalid,
			Message: fmt.Sprintf("cannot create output directory: %s", outputDir),
			Err:     err,
		}
	}

	ws, err := e.createWorkspace(run)
	if err != nil {
		return &StageError{
			Stage:   domain.StageQueued,
			Kind:    domain.ErrorKindConfigInvalid,
			Message: "cannot create temporary workspace",
			Err:     err,
		}
	}
	run.ws = ws
	return nil
}

func (e *Executor) execute(ctx context.Context, run *jobRun) {
	if err := e.checkCancelled(ctx, run); err != nil {
		run.fail(err)
		return
	}
	if err := run.enter(domain.StageDownloading); err != nil {
		run.fail(err)
		return
	}
	if err := e.download(ctx, run); err != nil {
		run.fail(err)
		return
	}

	steps := []step{
		{stage: domain.StageDecoding, enabled: true, run: e.decode},
		{stage: domain.StageUpscaling, enabled: run.job.Options.Enhance, run: e.enhanceStage},
		{stage: domain.StageNormalizing, enabled: run.job.Options.Normalize, run: e.normalize},
		{stage: domain.StageEncoding, enabled: true, run: e.encode},
		{stage: domain.StageEmbeddingMetadata, enabled: true, run: e.embedMetadata},
	}

	artifact := run.media.Audio
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if err := e.checkCancelled(ctx, run); err != nil {
			run.fail(err)
			return
		}
		if err := run.enter(s.stage); err != nil {
			run.fail(err)
			return
		}
		next, err := s.run(ctx, run, artifact)
		if err != nil {
			run.fail(err)
			return
		}
		artifact = next
	}

	run.complete(artifact)
}

// checkCancelled stops the job between stages once ctx is done.
func (e *Executor) checkCancelled(ctx context.Context, run *jobRun) error {
	if ctx.Err() == nil {
		return nil
	}
	current := run.machine.Current()
	return newStageError(current, stage.Cancelled(), run.attempts[current])
}

// enhanceStage guards the optional enhancer before running it.
func (e *Executor) enhanceStage(ctx context.Context, run *jobRun, input string) (string, error) {
	if e.enhancer == nil {
		run.attempts[domain.StageUpscaling]++
		outcome := stage.DependencyMissing("enhancement is not configured")
		return "", newStageError(domain.StageUpscaling, outcome, 1)
	}
	return e.enhance(ctx, run, input)
}
