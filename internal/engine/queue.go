package engine

import (
	"sync"

	"github.com/roach88/relq/internal/ir"
)

// deltaQueue is a thread-safe FIFO of deltas awaiting evaluation.
//
// The queue is unbounded so a burst from the live transport never blocks
// the producer. Producers may enqueue from any goroutine; the Run loop is
// the only consumer.
//
// A buffered signal channel (size 1) lets the consumer wait with select
// alongside context cancellation.
type deltaQueue struct {
	mu     sync.Mutex
	deltas []ir.Delta
	closed bool
	signal chan struct{}
}

func newDeltaQueue() *deltaQueue {
	return &deltaQueue{
		deltas: make([]ir.Delta, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a delta to the back of the queue. Returns false if the
// queue is closed.
func (q *deltaQueue) Enqueue(d ir.Delta) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.deltas = append(q.deltas, d)

	// Buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front delta without blocking.
func (q *deltaQueue) TryDequeue() (ir.Delta, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.deltas) == 0 {
		return nil, false
	}

	d := q.deltas[0]
	// Release the slot so the backing array does not pin delivered rows.
	q.deltas[0] = nil

	if len(q.deltas) == 1 {
		q.deltas = q.deltas[:0]
	} else {
		q.deltas = q.deltas[1:]
	}

	return d, true
}

// Wait returns a channel that signals when deltas may be available. The
// channel is closed when the queue is closed.
func (q *deltaQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *deltaQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deltas)
}

// Close stops accepting deltas and wakes the consumer. Deltas already
// queued are still delivered.
func (q *deltaQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

func (q *deltaQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
