package frames

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity holds 3 s of audio.
const DefaultQueueCapacity = 150

// EgressQueue is a bounded FIFO of frames awaiting transmission.
// Many goroutines may Push; a single pacer Pops. When full, Push evicts the
// oldest frame so latency stays bounded.
type EgressQueue struct {
	mu      sync.Mutex
	buf     []Frame
	head    int
	count   int
	dropped atomic.Uint64
}

// NewEgressQueue creates a queue holding at most capacity frames.
func NewEgressQueue(capacity int) *EgressQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &EgressQueue{buf: make([]Frame, capacity)}
}

// Push appends f. It never blocks and reports whether an older frame was evicted.
func (q *EgressQueue) Push(f Frame) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped.Add(1)
		evicted = true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = f
	q.count++
	return evicted
}

// PushAll appends frames in order and returns how many older frames were evicted.
func (q *EgressQueue) PushAll(fs []Frame) int {
	n := 0
	for _, f := range fs {
		if q.Push(f) {
			n++
		}
	}
	return n
}

// Pop removes the oldest frame.
func (q *EgressQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Frame{}, false
	}
	f := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return f, true
}

// Clear discards all queued frames and returns how many were removed.
func (q *EgressQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	q.head, q.count = 0, 0
	return n
}

// Len returns the number of queued frames.
func (q *EgressQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *EgressQueue) Cap() int {
	return len(q.buf)
}

// Dropped returns the number of frames evicted by overflow.
func (q *EgressQueue) Dropped() uint64 {
	return q.dropped.Load()
}
