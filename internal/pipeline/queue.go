package pipeline

import (
	"sync"

	"github.com/roach88/punchsync/internal/punch"
)

// txnQueue is a thread-safe FIFO of transactions awaiting processing.
//
// The queue is unbounded so ingestion adapters never block on a slow worker
// pool: Enqueue only takes a mutex.
//
// The queue uses a channel for signaling to enable context-aware waiting in
// the worker loop.
type txnQueue struct {
	mu     sync.Mutex
	items  []punch.RawTransaction
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

func newTxnQueue() *txnQueue {
	return &txnQueue{
		items:  make([]punch.RawTransaction, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a transaction to the back of the queue.
// Returns false if the queue is closed.
func (q *txnQueue) Enqueue(t punch.RawTransaction) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	q.notifyLocked()
	return true
}

// TryDequeue removes the front transaction without blocking.
func (q *txnQueue) TryDequeue() (punch.RawTransaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return punch.RawTransaction{}, false
	}

	t := q.items[0]
	// Clear the slot so the payload string can be collected.
	q.items[0] = punch.RawTransaction{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
		// Wake another worker for the remaining items.
		q.notifyLocked()
	}
	return t, true
}

// notifyLocked signals without blocking; the buffer of 1 coalesces signals.
func (q *txnQueue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when items may be available.
// The channel is closed once the queue is closed.
func (q *txnQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *txnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drained reports whether the queue is closed and empty.
func (q *txnQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close stops further enqueues and wakes every waiter.
func (q *txnQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
