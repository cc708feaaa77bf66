package pipeline

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueClosed is returned by Get once the queue is closed and drained,
	// and by puts after Close.
	ErrQueueClosed = errors.New("queue closed")

	// ErrPollTimeout is returned by Get when nothing arrived in time.
	ErrPollTimeout = errors.New("queue poll timed out")
)

// Queue is a bounded FIFO between two stages. Only the producing stage may
// call Close.
type Queue[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPut enqueues item without blocking and reports whether there was room.
func (q *Queue[T]) TryPut(item T) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false, ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return true, nil
	default:
		return false, nil
	}
}

// PutWait retries TryPut, sleeping backoff between attempts, until the item
// is accepted. It never drops an item.
func (q *Queue[T]) PutWait(item T, backoff time.Duration) error {
	for {
		ok, err := q.TryPut(item)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		time.Sleep(backoff)
	}
}

// Get waits up to timeout for the next item.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return item, nil
	case <-timer.C:
		return zero, ErrPollTimeout
	}
}

// Close stops further puts. Items already queued can still be read.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
