package ingress

import (
	"context"
	"sync"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

// Queue is a FIFO of samples between producers and the single consumer.
// Push never blocks. With a non-zero capacity the oldest sample is evicted
// to make room for a new one.
type Queue struct {
	mu       sync.Mutex
	items    []imu.Sample
	head     int
	capacity int
	closed   bool
	notify   chan struct{}
}

// NewQueue returns an empty queue. capacity 0 means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends s. It reports whether an older sample had to be evicted and
// whether the queue accepted s at all (false once closed).
func (q *Queue) Push(s imu.Sample) (evicted, ok bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.items[q.head] = imu.Sample{}
		q.head++
		evicted = true
	}
	q.items = append(q.items, s)
	q.compactLocked()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted, true
}

// Next blocks until a sample is available, the queue is closed and empty, or
// ctx is done. The boolean is false in the latter two cases.
func (q *Queue) Next(ctx context.Context) (imu.Sample, bool) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			s := q.popLocked()
			q.mu.Unlock()
			return s, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return imu.Sample{}, false
		}

		select {
		case <-ctx.Done():
			return imu.Sample{}, false
		case <-q.notify:
		}
	}
}

// TryNext returns the oldest queued sample without blocking.
func (q *Queue) TryNext() (imu.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return imu.Sample{}, false
	}
	return q.popLocked(), true
}

// Drain removes and returns every queued sample in arrival order.
func (q *Queue) Drain() []imu.Sample {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]imu.Sample, q.lenLocked())
	copy(out, q.items[q.head:])
	q.items = q.items[:0]
	q.head = 0
	return out
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Ready is signalled after a Push or Close. It is meant for the single
// consumer, which must re-check the queue after every wake-up.
func (q *Queue) Ready() <-chan struct{} { return q.notify }

// Close ends the sequence. Queued samples stay available to Next and Drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) lenLocked() int { return len(q.items) - q.head }

func (q *Queue) popLocked() imu.Sample {
	s := q.items[q.head]
	q.items[q.head] = imu.Sample{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return s
}

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (q *Queue) compactLocked() {
	if q.head > 0 && q.head >= len(q.items)/2 {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}
