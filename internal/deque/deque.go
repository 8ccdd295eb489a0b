// Package deque provides the collector's work queues: thread-local buffers
// of addresses or references that overflow into a shared pool, with
// termination detection for parallel closures.
//
// A Local is owned by one thread. It shares work by flushing whole
// buffers into its Pool, where idle threads pick them up. When the pool's
// ring is full a buffer simply stays local, so no entry is ever lost.
package deque

import (
	"runtime"
	"sync/atomic"
)

const (
	// BufferEntries is the size of one shared buffer.
	BufferEntries = 256
	// DefaultPoolBuffers is the capacity of a pool's ring in buffers.
	DefaultPoolBuffers = 4096
)

// Pool is the shared half of a set of Locals.
type Pool[T any] struct {
	ring    *ring[[]T]
	workers atomic.Int32
	idle    atomic.Int32
}

// NewPool creates a pool with room for buffers shared buffers.
func NewPool[T any](buffers int) *Pool[T] {
	if buffers <= 0 {
		buffers = DefaultPoolBuffers
	}
	p := &Pool[T]{ring: newRing[[]T](uint64(buffers))}
	p.workers.Store(1)
	return p
}

// Reset prepares termination detection for a closure run by workers
// threads. It must be called by one thread between rendezvous.
func (p *Pool[T]) Reset(workers int) {
	p.workers.Store(int32(workers))
	p.idle.Store(0)
}

// Empty reports whether no buffer is shared.
func (p *Pool[T]) Empty() bool { return p.ring.size() == 0 }

// Buffers returns the number of shared buffers.
func (p *Pool[T]) Buffers() int { return p.ring.size() }

func (p *Pool[T]) put(b []T) bool { return p.ring.put(b) }

func (p *Pool[T]) get() ([]T, bool) { return p.ring.get() }

// Local is a thread-local work queue. Values pop in LIFO order locally;
// shared buffers are taken in FIFO order.
type Local[T any] struct {
	pool  *Pool[T]
	work  []T
	spill [][]T
	stole int
}

// NewLocal creates a local queue sharing through pool.
func NewLocal[T any](pool *Pool[T]) *Local[T] {
	return &Local[T]{pool: pool, work: make([]T, 0, BufferEntries)}
}

// Pool returns the shared pool.
func (l *Local[T]) Pool() *Pool[T] { return l.pool }

// Push adds v. Once the working buffer fills, it is offered to the pool.
func (l *Local[T]) Push(v T) {
	if len(l.work) == BufferEntries {
		l.share(l.work)
		l.work = make([]T, 0, BufferEntries)
	}
	l.work = append(l.work, v)
}

func (l *Local[T]) share(b []T) {
	if !l.pool.put(b) {
		l.spill = append(l.spill, b)
	}
}

// Pop removes a value from the local buffers only.
func (l *Local[T]) Pop() (T, bool) {
	for len(l.work) == 0 {
		if len(l.spill) == 0 {
			var zero T
			return zero, false
		}
		last := len(l.spill) - 1
		l.work = l.spill[last]
		l.spill = l.spill[:last]
	}
	last := len(l.work) - 1
	v := l.work[last]
	l.work = l.work[:last]
	return v, true
}

// Len returns the number of locally held values.
func (l *Local[T]) Len() int {
	n := len(l.work)
	for _, b := range l.spill {
		n += len(b)
	}
	return n
}

// IsEmpty reports whether nothing is held locally.
func (l *Local[T]) IsEmpty() bool { return l.Len() == 0 }

// Flush shares every locally held value with the pool. Values that do not
// fit in the pool stay local.
func (l *Local[T]) Flush() {
	if len(l.work) > 0 {
		l.share(l.work)
		l.work = make([]T, 0, BufferEntries)
	}
	spill := l.spill
	l.spill = nil
	for _, b := range spill {
		l.share(b)
	}
}

// Steal takes one shared buffer into the local queue.
func (l *Local[T]) Steal() bool {
	b, ok := l.pool.get()
	if !ok {
		return false
	}
	l.stole++
	if len(l.work) == 0 {
		l.work = b
	} else {
		l.spill = append(l.spill, b)
	}
	return true
}

// Next returns the next value, taking shared work when the local buffers
// are empty.
func (l *Local[T]) Next() (T, bool) {
	if v, ok := l.Pop(); ok {
		return v, true
	}
	if l.Steal() {
		return l.Pop()
	}
	var zero T
	return zero, false
}

// Await blocks until shared work is available (true) or every worker of
// the pool is waiting and nothing is shared (false, the closure is
// complete). The caller's local queue must be empty.
func (l *Local[T]) Await() bool {
	p := l.pool
	p.idle.Add(1)
	for {
		if !p.Empty() {
			p.idle.Add(-1)
			if l.Steal() {
				return true
			}
			p.idle.Add(1)
		}
		if p.idle.Load() >= p.workers.Load() && p.Empty() {
			return false
		}
		runtime.Gosched()
	}
}

// Leave withdraws the caller from the closure without draining it: the
// remaining workers can terminate without it. Values it still holds stay
// local.
func (l *Local[T]) Leave() { l.pool.workers.Add(-1) }

// Reset drops every locally held value.
func (l *Local[T]) Reset() {
	l.work = l.work[:0]
	l.spill = nil
}

// Stolen returns how many shared buffers this queue has taken.
func (l *Local[T]) Stolen() int { return l.stole }
