package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ytaudio/internal/domain"
	"ytaudio/internal/jobs"
	"ytaudio/internal/stage"
)

// RetryPolicy bounds retries of Retryable outcomes. Limit counts retries, so a stage runs
// at most Limit+1 times.
type RetryPolicy struct {
	Limit   int
	Initial time.Duration
	Max     time.Duration
}

// RetryPolicyFrom reads the policy from settings.
func RetryPolicyFrom(s domain.StageSettings) RetryPolicy {
	return RetryPolicy{
		Limit:   s.RetryLimit,
		Initial: s.BackoffInitial.Std(),
		Max:     s.BackoffMax.Std(),
	}
}

// newBackOff returns a deterministic exponential schedule capped at Max and Limit retries.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	limit := p.Limit
	if limit < 0 {
		limit = 0
	}
	return backoff.WithMaxRetries(b, uint64(limit))
}

// invokeFunc performs one attempt of a stage.
type invokeFunc func(onProgress stage.ProgressFunc) stage.Outcome

// withRetry runs invoke until it succeeds, fails fatally, is cancelled or exhausts the policy.
func (e *Executor) withRetry(ctx context.Context, run *jobRun, st domain.Stage, invoke invokeFunc) (stage.Outcome, error) {
	bo := e.retry.newBackOff()
	attempts := 0

	for {
		if ctx.Err() != nil {
			outcome := stage.Cancelled()
			return outcome, newStageError(st, outcome, attempts)
		}

		attempts++
		run.attempts[st]++
		outcome := invoke(run.progressFunc(st))

		switch outcome.Kind {
		case stage.KindSuccess:
			return outcome, nil
		case stage.KindRetryable:
		default:
			return outcome, newStageError(st, outcome, attempts)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return outcome, newStageError(st, outcome, attempts)
		}

		e.logger.Info("stage retry scheduled",
			"job", run.job.ID,
			"stage", st,
			"attempt", attempts+1,
			"wait", wait,
			"error", outcome.Err,
		)
		run.publish(jobs.Event{
			Kind:     jobs.EventKindRetry,
			Stage:    st,
			Progress: jobs.Indeterminate,
			Attempt:  attempts + 1,
			Message:  retryMessage(outcome, wait),
		})

		if err := e.sleep(ctx, wait); err != nil {
			cancelled := stage.Cancelled()
			return cancelled, newStageError(st, cancelled, attempts)
		}
	}
}

func retryMessage(outcome stage.Outcome, wait time.Duration) string {
	cause := "transient failure"
	if outcome.Err != nil {
		cause = outcome.Err.Error()
	}
	return cause + "; retrying in " + wait.Round(time.Millisecond).String()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
