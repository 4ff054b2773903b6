package jobs

import (
	"errors"
	"fmt"
	"sync"

	"ytaudio/internal/domain"
)

// ErrJobTerminal is returned when a finished job is asked to move again.
var ErrJobTerminal = errors.New("job already terminal")

// StateMachine tracks the current stage of one job and rejects out-of-order moves.
type StateMachine struct {
	mu      sync.RWMutex
	jobID   string
	current domain.Stage
	history []domain.Stage
}

// NewStateMachine creates a machine for jobID in the queued stage.
func NewStateMachine(jobID string) *StateMachine {
	return &StateMachine{
		jobID:   jobID,
		current: domain.StageQueued,
		history: []domain.Stage{domain.StageQueued},
	}
}

// Transition validates and applies a move to stage.
func (m *StateMachine) Transition(stage domain.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.IsTerminal() {
		return fmt.Errorf("%s: %s -> %s: %w", m.jobID, m.current, stage, ErrJobTerminal)
	}
	if !isValidTransition(m.current, stage) {
		return fmt.Errorf("%s: invalid transition: %s -> %s", m.jobID, m.current, stage)
	}

	m.current = stage
	m.history = append(m.history, stage)
	return nil
}

// Current returns the current stage.
func (m *StateMachine) Current() domain.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns every stage entered, in order.
func (m *StateMachine) History() []domain.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Stage(nil), m.history...)
}

// isValidTransition enforces the fixed stage order. Optional stages may be skipped, and
// any non-terminal stage may fail.
func isValidTransition(from, to domain.Stage) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case domain.StageFailed:
		return true
	case domain.StageQueued:
		return false
	}

	fromOrder, toOrder := from.Order(), to.Order()
	if fromOrder < 0 || toOrder < 0 || toOrder <= fromOrder {
		return false
	}
	for _, skipped := range stagesBetween(fromOrder, toOrder) {
		if !isSkippable(skipped) {
			return false
		}
	}
	return true
}

var orderedStages = []domain.Stage{
	domain.StageQueued,
	domain.StageDownloading,
	domain.StageDecoding,
	domain.StageUpscaling,
	domain.StageNormalizing,
	domain.StageEncoding,
	domain.StageEmbeddingMetadata,
	domain.StageCompleted,
}

func stagesBetween(fromOrder, toOrder int) []domain.Stage {
	var out []domain.Stage
	for _, s := range orderedStages {
		if o := s.Order(); o > fromOrder && o < toOrder {
			out = append(out, s)
		}
	}
	return out
}

func isSkippable(s domain.Stage) bool {
	return s == domain.StageUpscaling || s == domain.StageNormalizing
}
