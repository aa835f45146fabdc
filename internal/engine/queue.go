package engine

import (
	"sync"

	"github.com/spnflow/spnflow/internal/ident"
)

// arrival is one unit of router work: a token bound for a node.
type arrival struct {
	tok  ident.Token
	node string
}

// arrivalQueue is a thread-safe FIFO for injected arrivals.
//
// The queue is unbounded so that external injection never blocks; the
// capacity pressure point is the places themselves, not the intake.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type arrivalQueue struct {
	mu       sync.Mutex
	arrivals []arrival
	closed   bool
	signal   chan struct{} // buffered size 1, coalesces signals
}

func newArrivalQueue() *arrivalQueue {
	return &arrivalQueue{
		arrivals: make([]arrival, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an arrival to the back of the queue.
// Returns false if the queue is closed.
func (q *arrivalQueue) Enqueue(a arrival) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.arrivals = append(q.arrivals, a)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *arrivalQueue) TryDequeue() (arrival, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.arrivals) == 0 {
		return arrival{}, false
	}

	a := q.arrivals[0]

	// Nil out the slot so the token's attribute map is collectable while
	// the backing array lives on.
	q.arrivals[0] = arrival{}

	if len(q.arrivals) == 1 {
		q.arrivals = q.arrivals[:0]
	} else {
		q.arrivals = q.arrivals[1:]
	}

	return a, true
}

// Wait returns a channel that signals when arrivals may be available.
// The channel closes when the queue is closed, waking all waiters.
func (q *arrivalQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *arrivalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.arrivals)
}

// Closed reports whether Close has been called.
func (q *arrivalQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more arrivals will be enqueued.
func (q *arrivalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
