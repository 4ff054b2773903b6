package domain

import "time"

// DiagnosticStatus is the outcome of one dependency check.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusWarn DiagnosticStatus = "warn"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// DiagnosticItem is one check result. Hint tells the user how to fix a failure.
type DiagnosticItem struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Status   DiagnosticStatus `json:"status"`
	Message  string           `json:"message"`
	Hint     string           `json:"hint,omitempty"`
	Optional bool             `json:"optional,omitempty"`
}

// DiagnosticReport aggregates the doctor checks.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}

// Failed returns the items that did not pass and are required.
func (r DiagnosticReport) Failed() []DiagnosticItem {
	var out []DiagnosticItem
	for _, item := range r.Items {
		if item.Status == DiagnosticStatusFail && !item.Optional {
			out = append(out, item)
		}
	}
	return out
}
