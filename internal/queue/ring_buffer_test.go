package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

func newTestEvent() *schema.NetworkEvent {
	return &schema.NetworkEvent{
		EventID:      uuid.New(),
		Timestamp:    time.Now().UTC(),
		SourceIP:     "192.168.1.100",
		DestIP:       "10.0.0.1",
		Protocol:     "tcp",
		EventType:    schema.EventIDSAlert,
		SeverityHint: schema.SeverityMedium,
	}
}

func TestNewRingBuffer(t *testing.T) {
	t.Run("with valid size", func(t *testing.T) {
		rb := NewRingBuffer(100)
		if rb.Cap() != 100 {
			t.Errorf("Cap() = %d, want 100", rb.Cap())
		}
		if rb.Len() != 0 {
			t.Errorf("Len() = %d, want 0", rb.Len())
		}
	})

	t.Run("with zero size uses default", func(t *testing.T) {
		rb := NewRingBuffer(0)
		if rb.Cap() != 10000 {
			t.Errorf("Cap() = %d, want 10000 (default)", rb.Cap())
		}
	})
}

func TestRingBuffer_FIFO(t *testing.T) {
	rb := NewRingBuffer(10)

	ids := make([]uuid.UUID, 5)
	for i := 0; i < 5; i++ {
		event := newTestEvent()
		ids[i] = event.EventID
		if err := rb.Push(event); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		event, err := rb.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if event.EventID != ids[i] {
			t.Errorf("Pop() returned event with ID %v, want %v", event.EventID, ids[i])
		}
	}

	if _, err := rb.Pop(); err != ErrQueueEmpty {
		t.Errorf("Pop() error = %v, want ErrQueueEmpty", err)
	}
}

func TestRingBuffer_Full(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 3; i++ {
		if err := rb.Push(newTestEvent()); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	if err := rb.Push(newTestEvent()); err != ErrQueueFull {
		t.Errorf("Push() error = %v, want ErrQueueFull", err)
	}

	metrics := rb.Metrics()
	if metrics.Dropped != 1 {
		t.Errorf("Metrics().Dropped = %d, want 1", metrics.Dropped)
	}
	if rb.Len() != rb.Cap() {
		t.Errorf("Len() = %d, want %d", rb.Len(), rb.Cap())
	}
}

func TestRingBuffer_Wrap(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 3; i++ {
		rb.Push(newTestEvent())
	}
	rb.Pop()
	rb.Pop()

	for i := 0; i < 2; i++ {
		if err := rb.Push(newTestEvent()); err != nil {
			t.Errorf("Push() error = %v after wrap", err)
		}
	}

	if rb.Len() != 3 {
		t.Errorf("Len() = %d, want 3", rb.Len())
	}
}

func TestRingBuffer_PushWait(t *testing.T) {
	t.Run("drops and counts after bounded wait", func(t *testing.T) {
		rb := NewRingBuffer(1)
		rb.Push(newTestEvent())

		start := time.Now()
		err := rb.PushWait(newTestEvent(), 50*time.Millisecond)
		elapsed := time.Since(start)

		if err != ErrQueueFull {
			t.Errorf("PushWait() error = %v, want ErrQueueFull", err)
		}
		if elapsed < 40*time.Millisecond {
			t.Errorf("PushWait() returned too quickly: %v", elapsed)
		}
		if rb.Metrics().Dropped != 1 {
			t.Errorf("Dropped = %d, want 1", rb.Metrics().Dropped)
		}
	})

	t.Run("unblocks when a consumer frees capacity", func(t *testing.T) {
		rb := NewRingBuffer(1)
		rb.Push(newTestEvent())

		go func() {
			time.Sleep(20 * time.Millisecond)
			rb.Pop()
		}()

		if err := rb.PushWait(newTestEvent(), 500*time.Millisecond); err != nil {
			t.Errorf("PushWait() error = %v, want nil", err)
		}
		if rb.Metrics().Dropped != 0 {
			t.Errorf("Dropped = %d, want 0", rb.Metrics().Dropped)
		}
	})

	t.Run("returns ErrQueueClosed on closed queue", func(t *testing.T) {
		rb := NewRingBuffer(1)
		rb.Close()
		if err := rb.PushWait(newTestEvent(), 10*time.Millisecond); err != ErrQueueClosed {
			t.Errorf("PushWait() error = %v, want ErrQueueClosed", err)
		}
	})
}

func TestRingBuffer_PopWithTimeout(t *testing.T) {
	rb := NewRingBuffer(10)

	t.Run("timeout on empty queue", func(t *testing.T) {
		start := time.Now()
		_, err := rb.PopWithTimeout(50 * time.Millisecond)
		elapsed := time.Since(start)

		if err != ErrQueueEmpty {
			t.Errorf("PopWithTimeout() error = %v, want ErrQueueEmpty", err)
		}
		if elapsed < 40*time.Millisecond {
			t.Errorf("PopWithTimeout() returned too quickly: %v", elapsed)
		}
	})

	t.Run("returns event if available", func(t *testing.T) {
		rb.Push(newTestEvent())

		event, err := rb.PopWithTimeout(100 * time.Millisecond)
		if err != nil {
			t.Errorf("PopWithTimeout() error = %v", err)
		}
		if event == nil {
			t.Error("PopWithTimeout() returned nil")
		}
	})

	t.Run("wakes on push from another goroutine", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			rb.Push(newTestEvent())
		}()

		event, err := rb.PopWithTimeout(500 * time.Millisecond)
		if err != nil {
			t.Errorf("PopWithTimeout() error = %v", err)
		}
		if event == nil {
			t.Error("PopWithTimeout() returned nil")
		}
	})
}

func TestRingBuffer_Close(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Push(newTestEvent())

	rb.Close()

	if err := rb.Push(newTestEvent()); err != ErrQueueClosed {
		t.Errorf("Push() error = %v, want ErrQueueClosed", err)
	}

	// Queued events remain poppable after close
	event, err := rb.Pop()
	if err != nil {
		t.Errorf("Pop() error = %v", err)
	}
	if event == nil {
		t.Error("Pop() returned nil")
	}

	if _, err := rb.PopWithTimeout(10 * time.Millisecond); err != ErrQueueClosed {
		t.Errorf("PopWithTimeout() error = %v, want ErrQueueClosed", err)
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(100)

	const numProducers = 5
	const eventsPerProducer = 100

	var wg sync.WaitGroup
	var consumed uint64

	for i := 0; i < numProducers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerProducer; j++ {
				// Drops are expected when the queue is full.
				rb.Push(newTestEvent())
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				for {
					if _, err := rb.Pop(); err != nil {
						return
					}
					atomic.AddUint64(&consumed, 1)
				}
			default:
				if _, err := rb.Pop(); err == nil {
					atomic.AddUint64(&consumed, 1)
				} else {
					time.Sleep(time.Microsecond)
				}
			}
		}
	}()

	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	close(done)
	time.Sleep(50 * time.Millisecond)

	metrics := rb.Metrics()
	totalExpected := uint64(numProducers * eventsPerProducer)

	// Capacity is never exceeded: everything produced was either queued or
	// counted as dropped.
	if metrics.Pushed+metrics.Dropped != totalExpected {
		t.Errorf("Pushed(%d) + Dropped(%d) = %d, want %d",
			metrics.Pushed, metrics.Dropped, metrics.Pushed+metrics.Dropped, totalExpected)
	}
}
