package policy

import (
	"fmt"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// LargeObjectSpace gives every object its own run of pages in a free-list
// space. Objects never move; unmarked ones are released after a trace.
type LargeObjectSpace struct {
	markState
	space   *space.Space
	lock    *lock.Lock
	objects map[heap.Address]int
}

// NewLargeObjectSpace wraps s, which must be a free-list space.
func NewLargeObjectSpace(s *space.Space, om vm.ObjectModel, lockOpts ...lock.Option) *LargeObjectSpace {
	return &LargeObjectSpace{
		markState: markState{om: om},
		space:     s,
		lock:      lock.New(fmt.Sprintf("%s.objects", s.Name()), lockOpts...),
		objects:   make(map[heap.Address]int),
	}
}

// Space returns the underlying space.
func (los *LargeObjectSpace) Space() *space.Space { return los.space }

// Alloc returns zeroed pages for an object of bytes, or zero if the space
// refused to grow.
func (los *LargeObjectSpace) Alloc(owner int, bytes heap.Extent) heap.Address {
	pages := heap.BytesToPages(bytes)
	a := los.space.Acquire(owner, pages)
	if a.IsZero() {
		return 0
	}
	los.lock.Acquire(owner)
	los.objects[a] = pages
	los.lock.Release()
	return a
}

// TraceObject marks ref and enqueues it on first visit.
func (los *LargeObjectSpace) TraceObject(q Enqueuer, ref heap.ObjectReference) heap.ObjectReference {
	if los.testAndMark(ref) {
		q.Enqueue(ref)
	}
	return ref
}

// Sweep releases every object left unmarked by the last trace. It must
// run on one thread.
func (los *LargeObjectSpace) Sweep(owner int) (objects int, pages int) {
	los.lock.Acquire(owner)
	var dead []heap.Address
	for a := range los.objects {
		if !los.IsLive(los.om.AddressToRef(a)) {
			dead = append(dead, a)
		}
	}
	for _, a := range dead {
		n := los.objects[a]
		delete(los.objects, a)
		los.space.ReleasePages(owner, a, n)
		objects++
		pages += n
	}
	los.lock.Release()
	return objects, pages
}

// Free releases ref's pages immediately.
func (los *LargeObjectSpace) Free(owner int, ref heap.ObjectReference) {
	a := los.om.RefToAddress(ref)
	los.lock.Acquire(owner)
	pages, ok := los.objects[a]
	delete(los.objects, a)
	los.lock.Release()
	if !ok {
		gcerr.Failf("LOS_FREE_UNKNOWN", "free of %s, which is not a large object", ref)
		return
	}
	los.space.ReleasePages(owner, a, pages)
}

// Allocated reports whether ref is a large object that has not been
// released.
func (los *LargeObjectSpace) Allocated(ref heap.ObjectReference) bool {
	los.lock.Acquire(0)
	_, ok := los.objects[los.om.RefToAddress(ref)]
	los.lock.Release()
	return ok
}

// Objects returns the number of live large objects.
func (los *LargeObjectSpace) Objects() int {
	los.lock.Acquire(0)
	defer los.lock.Release()
	return len(los.objects)
}

// Each calls fn with every large object. The heap must be quiescent.
func (los *LargeObjectSpace) Each(fn func(ref heap.ObjectReference)) {
	for a := range los.objects {
		fn(los.om.AddressToRef(a))
	}
}
