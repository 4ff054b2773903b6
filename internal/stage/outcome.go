package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout is the cause of a Retryable outcome when an invocation exceeds its timeout.
	ErrTimeout = errors.New("timed out")
	// ErrCancelled is the cause of every Cancelled outcome.
	ErrCancelled = errors.New("cancelled")
	// ErrDependencyMissing marks a Fatal outcome caused by an absent tool or runtime.
	ErrDependencyMissing = errors.New("dependency missing")
)

// Kind classifies one invocation.
type Kind string

const (
	KindSuccess   Kind = "success"
	KindRetryable Kind = "retryable"
	KindFatal     Kind = "fatal"
	KindCancelled Kind = "cancelled"
)

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// String renders the command line for diagnostics.
func (l CommandLog) String() string {
	if l.Command == "" {
		return ""
	}
	return strings.TrimSpace(l.Command + " " + strings.Join(l.Args, " "))
}

// Outcome is the classified result of one invocation. Artifact is set only on success.
type Outcome struct {
	Kind     Kind
	Artifact string
	Err      error
	Log      CommandLog
}

// Success builds a successful outcome producing artifact.
func Success(artifact string) Outcome {
	return Outcome{Kind: KindSuccess, Artifact: artifact}
}

// Retryable builds a transient failure.
func Retryable(err error) Outcome {
	return Outcome{Kind: KindRetryable, Err: err}
}

// Fatal builds a failure that must not be retried.
func Fatal(err error) Outcome {
	return Outcome{Kind: KindFatal, Err: err}
}

// Cancelled builds a cancellation outcome.
func Cancelled() Outcome {
	return Outcome{Kind: KindCancelled, Err: ErrCancelled}
}

// DependencyMissing builds a Fatal outcome wrapping ErrDependencyMissing.
func DependencyMissing(format string, args ...any) Outcome {
	return Fatal(fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrDependencyMissing))
}

// OK reports whether the invocation succeeded.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// WithLog attaches command diagnostics.
func (o Outcome) WithLog(log CommandLog) Outcome {
	o.Log = log
	return o
}
