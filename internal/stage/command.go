package stage

import (
	"context"
	"time"
)

// ProgressFunc receives fractional completion in [0,1].
type ProgressFunc func(fraction float64)

// Command describes one external tool invocation.
type Command struct {
	Name     string
	Args     []string
	Dir      string
	Env      []string
	Progress Extractor
	Classify Classifier
}

// Invocation binds a command to its artifacts and time budget.
// Input may be empty for stages whose source is not a local file.
type Invocation struct {
	Command Command
	Input   string
	Output  string
	Timeout time.Duration
}

// Runner executes one invocation and classifies the result. Implementations must not
// block after ctx is done beyond their termination grace period.
type Runner interface {
	Run(ctx context.Context, inv Invocation, onProgress ProgressFunc) Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inv Invocation, onProgress ProgressFunc) Outcome

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, inv Invocation, onProgress ProgressFunc) Outcome {
	return f(ctx, inv, onProgress)
}
