// Package ring implements the many-writer, single-consumer delivery queue.
// Writers serialize on one mutex and publish a write cursor; the consumer
// owns the read cursor and caches the write cursor so an empty check in the
// steady state touches no shared cache line. Cursors grow monotonically and
// are masked into the power-of-two slot array on access.
package ring

import (
	"sync"
	"sync/atomic"
)

// Entry is what the queue carries. The queue stamps each entry with a
// delivery sequence at enqueue time; replay uses the sequence to restore
// submission order.
type Entry interface {
	SetSequence(uint64)
	Sequence() uint64
}

// Queue is a fixed-capacity ring. Any goroutine may Enqueue; Pending, Peek,
// Advance, BoundarySequence and Requeue belong to the single consumer.
type Queue struct {
	mask  uint64
	slots []Entry

	wmu    sync.Mutex
	wRead  uint64 // writer's cached copy of the read cursor
	wSeq   uint64 // next delivery sequence
	wWrite atomic.Uint64

	rWrite uint64 // consumer's cached copy of the write cursor
	rRead  atomic.Uint64
}

// New creates a queue with the given capacity, which must be a power of two.
func New(capacity uint64) *Queue {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two")
	}
	return &Queue{
		mask:  capacity - 1,
		slots: make([]Entry, capacity),
		wSeq:  1,
	}
}

// Capacity returns the slot count.
func (q *Queue) Capacity() uint64 {
	return q.mask + 1
}

// Enqueue stamps e with the next sequence and publishes it. The channel's
// outstanding-request bound keeps the ring from filling; an overrun is a
// sizing bug and panics.
func (q *Queue) Enqueue(e Entry) {
	q.wmu.Lock()
	w := q.wWrite.Load()
	if w-q.wRead > q.mask {
		// Full against the cached cursor; the consumer may have moved on.
		q.wRead = q.rRead.Load()
		if w-q.wRead > q.mask {
			q.wmu.Unlock()
			panic("ring: queue overrun")
		}
	}
	e.SetSequence(q.wSeq)
	q.wSeq++
	q.slots[w&q.mask] = e
	q.wWrite.Store(w + 1)
	q.wmu.Unlock()
}

// Pending reports whether an entry is ready. It consults the cached write
// cursor first and re-reads the published one only when the cache is drained.
func (q *Queue) Pending() bool {
	r := q.rRead.Load()
	if q.rWrite != r {
		return true
	}
	q.rWrite = q.wWrite.Load()
	return q.rWrite != r
}

// Peek returns the entry at the read cursor without consuming it.
func (q *Queue) Peek() (Entry, bool) {
	if !q.Pending() {
		return nil, false
	}
	return q.slots[q.rRead.Load()&q.mask], true
}

// Advance consumes the entry at the read cursor.
func (q *Queue) Advance() {
	r := q.rRead.Load()
	q.slots[r&q.mask] = nil
	q.rRead.Store(r + 1)
}

// BoundarySequence returns the sequence of the oldest still-queued entry, or
// the next sequence to be assigned when the ring is drained. Entries with an
// older sequence have already been consumed.
func (q *Queue) BoundarySequence() uint64 {
	if e, ok := q.Peek(); ok {
		return e.Sequence()
	}
	q.wmu.Lock()
	seq := q.wSeq
	q.wmu.Unlock()
	return seq
}

// Requeue re-injects entries ahead of the read cursor so they are delivered
// before anything still queued. entries must be sorted by ascending sequence
// and the caller must have quiesced the consumer side.
func (q *Queue) Requeue(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	q.wmu.Lock()
	r := q.rRead.Load()
	for i := len(entries) - 1; i >= 0; i-- {
		r--
		q.slots[r&q.mask] = entries[i]
	}
	if q.wWrite.Load()-r > q.mask+1 {
		q.wmu.Unlock()
		panic("ring: queue overrun during replay")
	}
	q.rRead.Store(r)
	// The writer's cached read cursor must never sit ahead of the real one
	// or the full check loses entries.
	q.wRead = r
	q.wmu.Unlock()
}
