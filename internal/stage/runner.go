package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ytaudio/internal/logging"
)

const (
	defaultKillGrace = 5 * time.Second
	defaultTailLines = 50
)

// ExecRunner runs invocations as child processes.
type ExecRunner struct {
	killGrace time.Duration
	tailLines int
	logger    *slog.Logger
	lookPath  func(string) (string, error)
	stat      func(string) (os.FileInfo, error)
}

// NewExecRunner builds a runner that sends a termination signal on cancel or timeout and
// kills the process if it is still alive after killGrace.
func NewExecRunner(killGrace time.Duration, logger *slog.Logger) *ExecRunner {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	return &ExecRunner{
		killGrace: killGrace,
		tailLines: defaultTailLines,
		logger:    logging.OrDefault(logger),
		lookPath:  exec.LookPath,
		stat:      os.Stat,
	}
}

// Run executes inv and classifies its result.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation, onProgress ProgressFunc) Outcome {
	spec := inv.Command
	log := CommandLog{Command: spec.Name, Args: spec.Args, ExitCode: -1}

	if outcome, ok := r.checkPreconditions(inv); !ok {
		return outcome.WithLog(log)
	}

	path, err := r.lookPath(spec.Name)
	if err != nil {
		return DependencyMissing("%s not found", spec.Name).WithLog(log)
	}

	if ctx.Err() != nil {
		return Cancelled().WithLog(log)
	}

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureTermination(cmd, r.killGrace)
	cmd.WaitDelay = r.killGrace

	// stdout and stderr are copied on separate goroutines; mu serializes extractor state.
	var (
		mu         sync.Mutex
		last       = -1.0
		stdoutTail = newTail(r.tailLines)
		stderrTail = newTail(r.tailLines)
	)
	handle := func(t *tail) func(string) {
		return func(line string) {
			mu.Lock()
			defer mu.Unlock()
			if spec.Progress != nil && onProgress != nil {
				if v, ok := spec.Progress.Extract(line); ok {
					v = clamp(v)
					if v != last {
						last = v
						onProgress(v)
					}
					return
				}
			}
			t.Add(line)
		}
	}
	stdout := newLineWriter(handle(stdoutTail))
	stderr := newLineWriter(handle(stderrTail))
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	r.logger.Debug("stage command start", "command", spec.Name, "args", spec.Args)
	runErr := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	mu.Lock()
	report := ExitReport{ExitCode: -1, Stdout: stdoutTail.Lines(), Stderr: stderrTail.Lines()}
	mu.Unlock()
	if cmd.ProcessState != nil {
		report.ExitCode = cmd.ProcessState.ExitCode()
	}
	log.ExitCode = report.ExitCode
	log.Stdout = joinLines(report.Stdout)
	log.Stderr = joinLines(report.Stderr)

	r.logger.Debug("stage command exit",
		"command", spec.Name,
		"exit", report.ExitCode,
		"duration", time.Since(started).Round(time.Millisecond),
	)

	switch {
	case ctx.Err() != nil:
		return Cancelled().WithLog(log)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return Retryable(fmt.Errorf("%s exceeded %s: %w", spec.Name, inv.Timeout, ErrTimeout)).WithLog(log)
	case runErr == nil:
		return Success(inv.Output).WithLog(log)
	case errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success():
		// The process exited cleanly but a descendant kept its output open.
		return Success(inv.Output).WithLog(log)
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		if errors.Is(runErr, fs.ErrNotExist) || errors.Is(runErr, exec.ErrNotFound) {
			return DependencyMissing("%s cannot be started", spec.Name).WithLog(log)
		}
		return Fatal(fmt.Errorf("start %s: %w", spec.Name, runErr)).WithLog(log)
	}

	classify := spec.Classify
	if classify == nil {
		classify = DefaultClassifier
	}
	kind, cause := classify(report)
	if kind == KindSuccess {
		return Success(inv.Output).WithLog(log)
	}
	if kind != KindRetryable {
		kind = KindFatal
	}
	return Outcome{Kind: kind, Err: fmt.Errorf("%s: %w", spec.Name, cause), Log: log}
}

func (r *ExecRunner) checkPreconditions(inv Invocation) (Outcome, bool) {
	if inv.Input != "" {
		info, err := r.stat(inv.Input)
		if err != nil {
			return Fatal(fmt.Errorf("input artifact: %w", err)), false
		}
		if info.IsDir() {
			return Fatal(fmt.Errorf("input artifact %s is a directory", inv.Input)), false
		}
	}
	if inv.Output != "" {
		dir := filepath.Dir(inv.Output)
		info, err := r.stat(dir)
		if err != nil {
			return Fatal(fmt.Errorf("output directory: %w", err)), false
		}
		if !info.IsDir() {
			return Fatal(fmt.Errorf("output parent %s is not a directory", dir)), false
		}
	}
	return Outcome{}, true
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// NewExecRunnerForTests builds a runner with injectable lookups.
func NewExecRunnerForTests(
	killGrace time.Duration,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
) *ExecRunner {
	r := NewExecRunner(killGrace, logging.Discard())
	if lookPath != nil {
		r.lookPath = lookPath
	}
	if stat != nil {
		r.stat = stat
	}
	return r
}
