package deque

import (
	"runtime"
	"sync/atomic"
)

// ring is a bounded multi-producer multi-consumer lock-free queue using
// per-slot sequence numbers (Vyukov).
type ring[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue atomic.Uint64
	_pad2   [64]byte
	dequeue atomic.Uint64
	_pad3   [64]byte
	cells   []cell[T]
}

type cell[T any] struct {
	seq  atomic.Uint64
	_pad [56]byte
	val  T
}

// newRing creates a ring holding at least capacity values (rounded up to a
// power of two).
func newRing[T any](capacity uint64) *ring[T] {
	n := uint64(2)
	for n < capacity {
		n <<= 1
	}
	q := &ring[T]{mask: n - 1, cells: make([]cell[T], n)}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// put appends v, reporting false if the ring is full.
func (q *ring[T]) put(v T) bool {
	for {
		pos := q.enqueue.Load()
		c := &q.cells[pos&q.mask]
		dif := int64(c.seq.Load()) - int64(pos)
		switch {
		case dif == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// get removes the oldest value, reporting false if the ring is empty.
func (q *ring[T]) get() (T, bool) {
	for {
		pos := q.dequeue.Load()
		c := &q.cells[pos&q.mask]
		dif := int64(c.seq.Load()) - int64(pos+1)
		switch {
		case dif == 0:
			if q.dequeue.CompareAndSwap(pos, pos+1) {
				v := c.val
				var zero T
				c.val = zero
				c.seq.Store(pos + q.mask + 1)
				return v, true
			}
		case dif < 0:
			var zero T
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

// size returns the number of values, exact only when no put or get is in
// flight.
func (q *ring[T]) size() int {
	return int(q.enqueue.Load() - q.dequeue.Load())
}
