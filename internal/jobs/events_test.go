package jobs

import (
	"sync"
	"testing"
	"time"

	"ytaudio/internal/domain"
)

// TestBusSequencesEvents verifies sequence numbers and timestamps are assigned in order.
func TestBusSequencesEvents(t *testing.T) {
	bus := NewBus(8)
	first := bus.Publish(Event{Kind: EventKindTransition, Message: "1"})
	second := bus.Publish(Event{Kind: EventKindTransition, Message: "2"})

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
	if got := <-bus.Events(); got.Message != "1" || got.Seq != 1 {
		t.Fatalf("delivered %+v, want the first event", got)
	}
}

// TestBusDropsProgressTicksWhenFull checks ticks never block a publisher.
func TestBusDropsProgressTicksWhenFull(t *testing.T) {
	bus := NewBus(1)
	bus.Publish(Event{Kind: EventKindProgress, Progress: 0.1})

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Kind: EventKindProgress, Progress: 0.2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("progress publish blocked on a full channel")
	}
	if bus.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", bus.Dropped())
	}
}

// TestBusDeliversTransitionsUnderPressure checks critical events wait for the consumer.
func TestBusDeliversTransitionsUnderPressure(t *testing.T) {
	bus := NewBus(1)
	const critical = 20

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < critical; i++ {
			bus.Publish(Event{JobID: "job-a", Kind: EventKindProgress, Progress: 0.5})
			bus.Publish(Event{JobID: "job-a", Kind: EventKindTransition, Stage: domain.StageDecoding})
		}
		bus.Publish(Event{JobID: "job-a", Kind: EventKindTerminal, Stage: domain.StageCompleted})
		bus.Close()
	}()

	transitions, terminals := 0, 0
	var lastSeq int64
	for event := range bus.Events() {
		time.Sleep(time.Millisecond)
		if event.Seq <= lastSeq {
			t.Fatalf("seq %d after %d: per-job order broken", event.Seq, lastSeq)
		}
		lastSeq = event.Seq
		switch event.Kind {
		case EventKindTransition:
			transitions++
		case EventKindTerminal:
			terminals++
		}
	}
	wg.Wait()

	if transitions != critical || terminals != 1 {
		t.Fatalf("transitions = %d terminals = %d, want %d and 1", transitions, terminals, critical)
	}
}

// TestBusCloseReleasesBlockedPublisher checks Close never leaves a producer stuck.
func TestBusCloseReleasesBlockedPublisher(t *testing.T) {
	bus := NewBus(1)
	bus.Publish(Event{Kind: EventKindTransition})

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Kind: EventKindTerminal})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}

	late := bus.Publish(Event{Kind: EventKindTerminal})
	if late.Seq != 3 {
		t.Fatalf("late seq = %d, want 3", late.Seq)
	}
}
