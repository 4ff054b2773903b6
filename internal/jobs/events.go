package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"ytaudio/internal/domain"
)

// EventKind classifies messages emitted during job execution.
type EventKind string

const (
	EventKindTransition EventKind = "transition"
	EventKindProgress   EventKind = "progress"
	EventKindRetry      EventKind = "retry"
	EventKindTerminal   EventKind = "terminal"
)

// Indeterminate marks an event without a known completion fraction.
const Indeterminate = -1.0

// Event is a sequenced progress payload. Events are values; consumers never mutate them.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId"`
	Source     string           `json:"source,omitempty"`
	Kind       EventKind        `json:"kind"`
	Stage      domain.Stage     `json:"stage"`
	Progress   float64          `json:"progress"`
	Message    string           `json:"message,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  domain.ErrorKind `json:"errorKind,omitempty"`
}

// Droppable reports whether the bus may discard e under pressure.
func (e Event) Droppable() bool {
	return e.Kind == EventKindProgress
}

// Publisher accepts events from executors.
type Publisher interface {
	Publish(event Event) Event
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(event Event)

// Publish calls f and returns event unchanged.
func (f PublisherFunc) Publish(event Event) Event {
	f(event)
	return event
}

// Bus fans events from many executors into one bounded channel and numbers them in order.
// Transition, retry and terminal events wait for the consumer; progress ticks are dropped
// when the channel is full so a slow consumer never stalls a subprocess reader.
type Bus struct {
	mu      sync.Mutex
	nextSeq int64

	ch      chan Event
	done    chan struct{}
	sendMu  sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Int64
}

// NewBus creates a bus with the given channel capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}

	return &Bus{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Events is the consumer side. It is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Publish assigns sequence and timestamp and delivers the event.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.Unlock()

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return event
	}

	if event.Droppable() {
		select {
		case b.ch <- event:
		default:
			b.dropped.Add(1)
		}
		return event
	}

	select {
	case b.ch <- event:
	case <-b.done:
	}
	return event
}

// Dropped counts progress ticks discarded because the consumer fell behind.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close releases blocked publishers and closes the event channel. Later publishes are
// discarded.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.done)
		b.sendMu.Lock()
		b.closed = true
		close(b.ch)
		b.sendMu.Unlock()
	})
}
