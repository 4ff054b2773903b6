package stage

import (
	"errors"
	"fmt"
	"strings"
)

// ExitReport is what a classifier sees of a failed process.
type ExitReport struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
}

// LastLine returns the last non-empty stderr line, or stdout when stderr is empty.
func (r ExitReport) LastLine() string {
	for _, lines := range [][]string{r.Stderr, r.Stdout} {
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
	}
	return ""
}

func (r ExitReport) find(patterns []string) (string, bool) {
	for _, lines := range [][]string{r.Stderr, r.Stdout} {
		for _, line := range lines {
			lower := strings.ToLower(line)
			for _, pattern := range patterns {
				if strings.Contains(lower, strings.ToLower(pattern)) {
					return strings.TrimSpace(line), true
				}
			}
		}
	}
	return "", false
}

// Classifier maps a non-zero exit to Retryable or Fatal and a cause.
type Classifier func(report ExitReport) (Kind, error)

// TransientMarkers are diagnostic fragments that indicate a temporary condition.
var TransientMarkers = []string{
	"connection reset",
	"connection refused",
	"timed out",
	"temporary failure in name resolution",
	"resource temporarily unavailable",
	"http error 429",
	"http error 500",
	"http error 502",
	"http error 503",
	"http error 504",
	"network is unreachable",
	"remote end closed connection",
	"incompleteread",
}

// DefaultClassifier treats known transient markers as Retryable and everything else as Fatal.
func DefaultClassifier(report ExitReport) (Kind, error) {
	if line, ok := report.find(TransientMarkers); ok {
		return KindRetryable, fmt.Errorf("transient failure (exit %d): %s", report.ExitCode, line)
	}
	return KindFatal, exitError(report)
}

// WithFatalMarkers returns a classifier that reports Fatal when any marker is present,
// before consulting next.
func WithFatalMarkers(next Classifier, markers ...string) Classifier {
	if next == nil {
		next = DefaultClassifier
	}
	return func(report ExitReport) (Kind, error) {
		if line, ok := report.find(markers); ok {
			return KindFatal, errors.New(line)
		}
		return next(report)
	}
}

// FatalExitCodes returns a classifier that reports Fatal with the mapped cause for listed exit codes.
func FatalExitCodes(codes map[int]error, next Classifier) Classifier {
	if next == nil {
		next = DefaultClassifier
	}
	return func(report ExitReport) (Kind, error) {
		if cause, ok := codes[report.ExitCode]; ok {
			if line := report.LastLine(); line != "" {
				return KindFatal, fmt.Errorf("%s: %w", line, cause)
			}
			return KindFatal, cause
		}
		return next(report)
	}
}

func exitError(report ExitReport) error {
	if line := report.LastLine(); line != "" {
		return fmt.Errorf("exit status %d: %s", report.ExitCode, line)
	}
	return fmt.Errorf("exit status %d", report.ExitCode)
}
