package pipeline

import (
	"errors"
	"fmt"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
)

// StageError is a stage-aware failure with optional command context.
type StageError struct {
	Stage      domain.Stage     `json:"stage"`
	Kind       domain.ErrorKind `json:"kind"`
	Message    string           `json:"message"`
	Attempts   int              `json:"attempts"`
	CommandLog stage.CommandLog `json:"commandLog"`
	Err        error            `json:"-"`
}

// Error formats stage failures for logs and the terminal event.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" || e.CommandLog.ExitCode < 0 {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// kindOf maps an outcome cause onto the failure taxonomy.
func kindOf(st domain.Stage, outcome stage.Outcome) domain.ErrorKind {
	switch {
	case outcome.Kind == stage.KindCancelled || errors.Is(outcome.Err, stage.ErrCancelled):
		return domain.ErrorKindCancelled
	case errors.Is(outcome.Err, stage.ErrDependencyMissing):
		return domain.ErrorKindDependencyMissing
	case errors.Is(outcome.Err, stage.ErrTimeout):
		return domain.ErrorKindTimeout
	default:
		return domain.ErrorKindForStage(st)
	}
}

func newStageError(st domain.Stage, outcome stage.Outcome, attempts int) *StageError {
	kind := kindOf(st, outcome)
	msg := "failed"
	if outcome.Err != nil {
		msg = outcome.Err.Error()
	}
	if kind == domain.ErrorKindCancelled {
		msg = "cancelled"
	} else if outcome.Kind == stage.KindRetryable && attempts > 1 {
		msg = fmt.Sprintf("%s (gave up after %d attempts)", msg, attempts)
	}
	return &StageError{
		Stage:      st,
		Kind:       kind,
		Message:    msg,
		Attempts:   attempts,
		CommandLog: outcome.Log,
		Err:        outcome.Err,
	}
}

// stageFailure builds an error for a failure that did not come from a process.
func stageFailure(st domain.Stage, err error, format string, args ...any) *StageError {
	return &StageError{
		Stage:   st,
		Kind:    domain.ErrorKindForStage(st),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
