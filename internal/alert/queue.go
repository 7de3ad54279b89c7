package alert

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("alert queue full")
	ErrQueueClosed = errors.New("alert queue closed")
)

// delivery is an alert paired with the subscriptions that matched it when
// it was published.
type delivery struct {
	alert   Alert
	targets []subscription
}

// Queue is a bounded, non-blocking alert queue.
type Queue struct {
	mu     sync.RWMutex
	ch     chan delivery
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan delivery, capacity)}
}

// TryPublish enqueues a delivery without blocking.
func (q *Queue) TryPublish(d delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new alerts. Queued alerts are still
// handed to Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued alerts.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run consumes alerts until the context is done or the queue is closed and drained.
func (q *Queue) Run(ctx context.Context, handler func(delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-q.ch:
			if !ok {
				return
			}
			handler(d)
		}
	}
}
