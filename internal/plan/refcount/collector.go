package refcount

import (
	"time"

	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/deque"
	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Collector is one thread's allocators and reference count buffers.
type Collector struct {
	plan.Identity
	plan *Plan
	om   vm.ObjectModel
	mem  *heap.Memory

	sfl      *alloc.SegregatedFreeList
	immortal *alloc.BumpPointer

	incs  *deque.Local[heap.ObjectReference]
	decs  *deque.Local[heap.ObjectReference]
	roots *deque.Local[heap.ObjectReference]

	// purple collects the candidates this thread buffered during one
	// decrement pass.
	purple []heap.ObjectReference
}

var _ plan.Collector = (*Collector)(nil)

func (c *Collector) route(bytes heap.Extent, a plan.AllocatorID) plan.AllocatorID {
	if a == plan.Default || a == plan.Mature {
		if bytes > c.plan.opts.LOSThreshold {
			return plan.LOS
		}
		return plan.Default
	}
	return a
}

// Alloc routes a request to its allocator. Mature requests share the
// counted space with default ones.
func (c *Collector) Alloc(bytes, align, offset heap.Extent, a plan.AllocatorID) heap.Address {
	b := c.plan.base
	switch c.route(bytes, a) {
	case plan.Default:
		return b.Retry(c.plan.rcSpace, bytes, func() heap.Address {
			return c.sfl.Alloc(bytes, align, offset)
		})
	case plan.LOS:
		return b.Retry(b.LOS().Space(), bytes, func() heap.Address {
			return b.LOS().Alloc(c.Thread(), bytes)
		})
	case plan.Immortal:
		return b.Retry(c.immortal.Space(), bytes, func() heap.Address {
			return c.immortal.Alloc(bytes, align, offset)
		})
	}
	gcerr.Failf("NO_SUCH_ALLOCATOR", "%s has no allocator %v", b.Name(), a)
	return 0
}

// PostAlloc gives a counted object a count of one, balanced by a deferred
// decrement that the next collection applies.
func (c *Collector) PostAlloc(ref heap.ObjectReference, bytes heap.Extent, a plan.AllocatorID) {
	if c.route(bytes, a) == plan.Immortal {
		if s := c.plan.sanity; s != nil {
			s.noteImmortal(c.Thread(), ref)
		}
		return
	}
	c.plan.hdr.init(ref)
	c.decs.Push(ref)
}

// OnStore logs an increment of value and a decrement of the slot's old
// referent, then performs the store.
func (c *Collector) OnStore(_ heap.ObjectReference, slot heap.Address, value heap.ObjectReference) {
	c.log(c.mem.LoadReference(slot), value)
	c.mem.StoreReference(slot, value)
}

func (c *Collector) log(old, value heap.ObjectReference) {
	if c.plan.isRC(value) {
		c.incs.Push(value)
	}
	if c.plan.isRC(old) {
		c.decs.Push(old)
	}
}

// OnArrayCopy copies n slots, logging each overwritten and each copied
// reference.
func (c *Collector) OnArrayCopy(_ heap.ObjectReference, srcSlot heap.Address, _ heap.ObjectReference, dstSlot heap.Address, n int) {
	if dstSlot > srcSlot {
		for i := n - 1; i >= 0; i-- {
			c.OnStore(heap.Null, dstSlot.PlusWords(i), c.mem.LoadReference(srcSlot.PlusWords(i)))
		}
		return
	}
	for i := 0; i < n; i++ {
		c.OnStore(heap.Null, dstSlot.PlusWords(i), c.mem.LoadReference(srcSlot.PlusWords(i)))
	}
}

// Exit shares every pending buffer with the plan. The thread's root
// buffer still has to be decremented by the next collection.
func (c *Collector) Exit() {
	for _, l := range []*deque.Local[heap.ObjectReference]{c.incs, c.decs, c.roots} {
		l.Flush()
		if !l.IsEmpty() {
			gcerr.Failf("RC_BUFFER_OVERFLOW", "thread %d exits with %d buffered references the pool cannot take", c.Thread(), l.Len())
		}
	}
	c.sfl.Flush()
	c.plan.base.Leave()
}

// prepare returns the free-list blocks so that dead cells can be freed
// into them, and turns last collection's root buffer into decrements.
func (c *Collector) prepare() {
	c.sfl.Flush()
	for ref, ok := c.roots.Next(); ok; ref, ok = c.roots.Next() {
		c.decs.Push(ref)
	}
}

func (c *Collector) globalRoots() {
	c.plan.base.Host().EnumerateGlobalRoots(c.root)
}

func (c *Collector) threadRoots() {
	c.plan.base.Host().EnumerateRoots(c.Thread(), c.root)
}

func (c *Collector) root(slot heap.Address) {
	ref := c.mem.LoadReference(slot)
	if !c.plan.isRC(ref) {
		return
	}
	c.incs.Push(ref)
	c.roots.Push(ref)
	c.plan.nRoots.Add(1)
	if s := c.plan.sanity; s != nil {
		s.noteRoot(c.Thread(), ref)
	}
}

func (c *Collector) processIncs() {
	n := 0
	for {
		for ref, ok := c.incs.Next(); ok; ref, ok = c.incs.Next() {
			c.plan.hdr.increment(ref)
			n++
		}
		if !c.incs.Await() {
			break
		}
	}
	c.plan.nIncs.Add(int64(n))
}

// processDecs applies decrements in quanta until the buffers drain or the
// pause budget for decrements runs out. Decrements left over are kept for
// the next collection.
func (c *Collector) processDecs() {
	p := c.plan
	deadline := p.decDeadline()
	quanta := p.opts.DecQuanta
	n := 0
drain:
	for {
		for ref, ok := c.decs.Next(); ok; ref, ok = c.decs.Next() {
			c.decrement(ref)
			n++
			if n%quanta == 0 && !deadline.IsZero() && time.Now().After(deadline) {
				c.decs.Flush()
				c.decs.Leave()
				p.deferred.Store(true)
				break drain
			}
		}
		if !c.decs.Await() {
			break
		}
	}
	p.nDecs.Add(int64(n))
	p.sharePurple(c.Thread(), c.purple)
	c.purple = c.purple[:0]
}

// decrement applies one decrement. An object whose count drops to zero is
// released; any other becomes a cycle candidate when cycle detection is
// on. The colour and buffered flag change in the same update as the count,
// so no other thread sees a released object again.
func (c *Collector) decrement(ref heap.ObjectReference) {
	cycles := c.plan.opts.CycleDetection
	prev, next := c.plan.hdr.update(ref, func(w rcWord) rcWord {
		switch {
		case w.sticky():
			return w
		case w.count() == 0:
			gcerr.Failf("RC_UNDERFLOW", "decrement of %s with %s", ref, w)
		}
		w = w.withCount(w.count() - 1)
		switch {
		case w.count() == 0:
			w = w.withColour(black)
		case cycles:
			w = w.withColour(purple).withBuffered(true)
		}
		return w
	})
	switch {
	case next.sticky():
	case next.count() == 0:
		c.release(ref, next.buffered())
	case next.buffered() && !prev.buffered():
		c.purple = append(c.purple, ref)
	}
}

// release decrements the children of a dead object and frees it, unless
// the cycle detector holds it in a candidate buffer.
func (c *Collector) release(ref heap.ObjectReference, buffered bool) {
	c.om.Scan(ref, func(slot heap.Address) {
		if child := c.mem.LoadReference(slot); c.plan.isRC(child) {
			c.decs.Push(child)
		}
	})
	if !buffered {
		c.plan.free(c.Thread(), ref)
	}
}
