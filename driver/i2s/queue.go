package i2s

import "sync"

// Queue is a bounded FIFO of blocks exchanged between a completion
// handler and an application goroutine. Put and Get never block; the
// lock covers only the ring indices and block contents are never
// touched.
type Queue struct {
	mu sync.Mutex
	// entries has one slot more than the capacity, so that a full
	// ring is distinguishable from an empty one.
	entries    []queueEntry
	head, tail int
}

type queueEntry struct {
	block []byte
	size  int
}

// NewQueue returns an empty queue holding up to capacity blocks.
func NewQueue(capacity int) *Queue {
	return &Queue{entries: make([]queueEntry, capacity+1)}
}

// Put appends a block. It returns ErrQueueFull and leaves the queue
// unchanged if no slot is free.
func (q *Queue) Put(block []byte, size int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := (q.head + 1) % len(q.entries)
	if next == q.tail {
		return ErrQueueFull
	}
	q.entries[q.head] = queueEntry{block: block, size: size}
	q.head = next
	return nil
}

// Get removes the oldest block. It returns ErrQueueEmpty and leaves
// the queue unchanged if there is none.
func (q *Queue) Get() ([]byte, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == q.head {
		return nil, 0, ErrQueueEmpty
	}
	e := q.entries[q.tail]
	q.entries[q.tail] = queueEntry{}
	q.tail = (q.tail + 1) % len(q.entries)
	return e.block, e.size, nil
}

// Len returns the number of queued blocks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	return (q.head - q.tail + n) % n
}

func (q *Queue) Cap() int {
	return len(q.entries) - 1
}
