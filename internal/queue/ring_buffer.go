// Package queue provides a bounded thread-safe ring buffer decoupling the
// source watchers from the event processor.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"netsentry/internal/schema"
)

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when attempting to pop from an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// RingBuffer is a thread-safe circular buffer of network events. Producers
// may push concurrently; FIFO order is preserved across the buffer as a
// whole.
type RingBuffer struct {
	buffer []*schema.NetworkEvent
	size   int
	head   int
	tail   int
	count  int
	closed bool
	mu     sync.Mutex
	// notEmpty wakes consumers, notFull wakes producers blocked in PushWait.
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// Metrics (accessed atomically)
	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10000 // Default size
	}

	rb := &RingBuffer{
		buffer: make([]*schema.NetworkEvent, size),
		size:   size,
	}
	rb.notEmpty = sync.NewCond(&rb.mu)
	rb.notFull = sync.NewCond(&rb.mu)
	return rb
}

// Push adds an event to the queue.
// Returns ErrQueueFull if the queue is at capacity.
func (rb *RingBuffer) Push(event *schema.NetworkEvent) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}

	if rb.count == rb.size {
		atomic.AddUint64(&rb.totalDropped, 1)
		return ErrQueueFull
	}

	rb.pushLocked(event)
	return nil
}

// PushWait adds an event to the queue, blocking the producer up to wait when
// the queue is full. On timeout the event is dropped and counted, per the
// lossy-under-overload backpressure policy.
func (rb *RingBuffer) PushWait(event *schema.NetworkEvent, wait time.Duration) error {
	deadline := time.Now().Add(wait)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == rb.size && !rb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			atomic.AddUint64(&rb.totalDropped, 1)
			return ErrQueueFull
		}
		rb.waitWithTimeout(rb.notFull, remaining)
	}

	if rb.closed {
		return ErrQueueClosed
	}

	rb.pushLocked(event)
	return nil
}

// pushLocked appends the event. Caller must hold the lock and have verified
// capacity.
func (rb *RingBuffer) pushLocked(event *schema.NetworkEvent) {
	rb.buffer[rb.tail] = event
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	atomic.AddUint64(&rb.totalPushed, 1)
	rb.notEmpty.Signal()
}

// Pop removes and returns an event from the queue.
// Returns ErrQueueEmpty if the queue is empty.
func (rb *RingBuffer) Pop() (*schema.NetworkEvent, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}

	return rb.popLocked(), nil
}

// PopWithTimeout removes and returns an event from the queue.
// Returns ErrQueueEmpty if no event is available within the timeout.
func (rb *RingBuffer) PopWithTimeout(timeout time.Duration) (*schema.NetworkEvent, error) {
	deadline := time.Now().Add(timeout)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}
		rb.waitWithTimeout(rb.notEmpty, remaining)
	}

	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}

	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}

	return rb.popLocked(), nil
}

// popLocked removes the head event. Caller must hold the lock and have
// verified the buffer is non-empty.
func (rb *RingBuffer) popLocked() *schema.NetworkEvent {
	event := rb.buffer[rb.head]
	rb.buffer[rb.head] = nil // Allow GC
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	atomic.AddUint64(&rb.totalPopped, 1)
	rb.notFull.Signal()
	return event
}

// waitWithTimeout waits on cond up to the given duration. Caller must hold
// the lock. May wake spuriously; callers re-check their predicate.
func (rb *RingBuffer) waitWithTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		rb.mu.Lock()
		cond.Broadcast()
		rb.mu.Unlock()
	})
	cond.Wait()
	timer.Stop()
}

// Len returns the current number of events in the queue.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the capacity of the queue.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// IsEmpty returns true if the queue is empty.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == 0
}

// Close closes the queue and wakes up any waiting producers and consumers.
// Events already queued may still be popped.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notEmpty.Broadcast()
	rb.notFull.Broadcast()
}

// Metrics returns queue statistics.
func (rb *RingBuffer) Metrics() QueueMetrics {
	return QueueMetrics{
		Pushed:   atomic.LoadUint64(&rb.totalPushed),
		Popped:   atomic.LoadUint64(&rb.totalPopped),
		Dropped:  atomic.LoadUint64(&rb.totalDropped),
		Depth:    rb.Len(),
		Capacity: rb.size,
	}
}

// QueueMetrics holds statistics about queue operations.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
