package queue

import (
	"sync"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// MemQueue is a bounded FIFO ring of readings waiting to be projected.
type MemQueue struct {
	mu    sync.Mutex
	buf   []ports.QueuedReading
	head  int
	n     int
	ready chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MemQueue{
		buf:   make([]ports.QueuedReading, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue reports false when the queue is full.
func (q *MemQueue) Enqueue(id ports.WALEntryID, r *domain.Reading) bool {
	q.mu.Lock()
	if q.n == len(q.buf) {
		q.mu.Unlock()
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = ports.QueuedReading{ID: id, Reading: r}
	q.n++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// DequeueBatch removes up to max readings; max <= 0 takes everything.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedReading {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil
	}
	if max <= 0 || max > q.n {
		max = q.n
	}
	out := make([]ports.QueuedReading, max)
	for i := range out {
		slot := (q.head + i) % len(q.buf)
		out[i] = q.buf[slot]
		q.buf[slot] = ports.QueuedReading{}
	}
	q.head = (q.head + max) % len(q.buf)
	q.n -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *MemQueue) Ready() <-chan struct{} { return q.ready }

var _ ports.ReadingQueue = (*MemQueue)(nil)
