package dispatch

import (
	"sync"

	"github.com/roach88/tally/internal/rules"
)

// Event asks for one transaction to be run through the rules of a trigger.
type Event struct {
	TransactionID int64
	Trigger       rules.TriggerType
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so that a bulk import can report every changed
// transaction without blocking on the engine.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TakeBatch removes up to limit events from the front of the queue that share
// the trigger of the first one. Returns nil if the queue is empty.
func (q *eventQueue) TakeBatch(limit int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}

	trigger := q.events[0].Trigger
	n := 0
	for n < len(q.events) && n < limit && q.events[n].Trigger == trigger {
		n++
	}

	batch := make([]Event, n)
	copy(batch, q.events[:n])

	if n == len(q.events) {
		// Reset to empty slice with original capacity.
		q.events = q.events[:0]
	} else {
		q.events = q.events[n:]
	}
	return batch
}

// Wait returns a channel that signals when events may be available. The
// channel is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
