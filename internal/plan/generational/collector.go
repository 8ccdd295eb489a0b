package generational

import (
	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/trace"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Collector is one thread's nursery allocator, remembered set and trace
// state.
type Collector struct {
	plan.Identity
	plan *Plan
	om   vm.ObjectModel
	mem  *heap.Memory

	nursery  *alloc.BumpPointer
	immortal *alloc.BumpPointer
	mature   MatureCollector

	// trace's slot queue doubles as the remembered set between
	// collections.
	trace  *trace.Local
	reason vm.Reason
}

var _ plan.Collector = (*Collector)(nil)

func newLocal(c *Collector) *trace.Local {
	return trace.NewLocal(c.om, c, c.plan.objects, c.plan.remset)
}

// Mature returns the thread's mature allocation state.
func (c *Collector) Mature() MatureCollector { return c.mature }

// Trace returns the thread's trace state.
func (c *Collector) Trace() *trace.Local { return c.trace }

// route sends requests above the large object threshold to the large
// object space.
func (c *Collector) route(bytes heap.Extent, a plan.AllocatorID) plan.AllocatorID {
	if (a == plan.Nursery || a == plan.Mature) && bytes > c.plan.opts.LOSThreshold && c.plan.base.LOS() != nil {
		return plan.LOS
	}
	return a
}

// Alloc routes a request to its allocator.
func (c *Collector) Alloc(bytes, align, offset heap.Extent, a plan.AllocatorID) heap.Address {
	b := c.plan.base
	switch c.route(bytes, a) {
	case plan.Nursery:
		return b.Retry(c.nursery.Space(), bytes, func() heap.Address {
			return c.nursery.Alloc(bytes, align, offset)
		})
	case plan.Mature:
		return b.Retry(c.mature.Space(), bytes, func() heap.Address {
			return c.mature.Alloc(bytes, align, offset)
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

// PostAlloc marks objects of the non-moving spaces live for the current
// collection cycle.
func (c *Collector) PostAlloc(ref heap.ObjectReference, bytes heap.Extent, a plan.AllocatorID) {
	switch c.route(bytes, a) {
	case plan.Immortal:
		c.plan.base.Immortal().InitializeHeader(ref)
	case plan.LOS:
		c.plan.base.LOS().InitializeHeader(ref)
	}
}

// OnStore records slot in the remembered set when it lies outside the
// nursery and value inside it, then performs the store.
func (c *Collector) OnStore(_ heap.ObjectReference, slot heap.Address, value heap.ObjectReference) {
	c.barrier(slot, value)
	c.mem.StoreReference(slot, value)
}

func (c *Collector) barrier(slot heap.Address, value heap.ObjectReference) {
	start := c.plan.NurseryStart
	if slot < start && !value.IsNull() && c.om.RefToAddress(value) >= start {
		c.plan.barrierSlow.Inc()
		c.trace.Slots().Push(slot)
		return
	}
	c.plan.barrierFast.Inc()
}

// OnArrayCopy copies n slots and applies the barrier to each destination
// slot.
func (c *Collector) OnArrayCopy(_ heap.ObjectReference, srcSlot heap.Address, _ heap.ObjectReference, dstSlot heap.Address, n int) {
	words := heap.Extent(n) * heap.BytesInWord
	c.mem.Copy(dstSlot, srcSlot, words)
	for i := 0; i < n; i++ {
		slot := dstSlot.PlusWords(i)
		c.barrier(slot, c.mem.LoadReference(slot))
	}
}

// Exit shares the thread's remembered set and retires its allocators.
func (c *Collector) Exit() {
	slots := c.trace.Slots()
	slots.Flush()
	if !slots.IsEmpty() {
		gcerr.Failf("REMSET_OVERFLOW", "thread %d exits with %d remembered slots the pool cannot take", c.Thread(), slots.Len())
	}
	c.mature.Exit()
	c.plan.base.Leave()
}

// TraceObject routes ref to the policy of its space. Only nursery objects
// are traced by a minor collection.
func (c *Collector) TraceObject(t *trace.Local, ref heap.ObjectReference) heap.ObjectReference {
	p := c.plan
	a := c.om.RefToAddress(ref)
	if a >= p.NurseryStart {
		return p.nursery.TraceObject(t, c, ref)
	}
	if !p.major {
		return ref
	}
	b := p.base
	switch s := b.SpaceMap().SpaceOf(a); {
	case s == nil:
		gcerr.Failf("TRACE_OUTSIDE_HEAP", "%s is not in any space", ref)
	case p.mature.Owns(s):
		return p.mature.TraceObject(t, c, ref)
	case b.LOS() != nil && s == b.LOS().Space():
		return b.LOS().TraceObject(t, ref)
	case s == b.Immortal().Space():
		return b.Immortal().TraceObject(t, ref)
	}
	return ref
}

// AllocCopy takes storage for an evacuated object from the mature
// generation. Running out of space during a collection is fatal.
func (c *Collector) AllocCopy(_ heap.ObjectReference, bytes heap.Extent) heap.Address {
	a := c.mature.AllocCopy(bytes)
	if a.IsZero() {
		c.plan.base.OutOfMemory(c.mature.Space(), bytes)
	}
	c.plan.copyBytes.Add(int64(bytes))
	return a
}

func (c *Collector) PostCopy(ref heap.ObjectReference, bytes heap.Extent) {
	c.plan.copied.Inc()
	c.mature.PostCopy(ref, bytes, c.plan.major)
}

func (c *Collector) prepare() {
	slots := c.trace.Slots()
	if c.plan.major {
		slots.Reset()
		c.mature.Prepare()
		return
	}
	slots.Flush()
}

func (c *Collector) globalRoots() {
	c.plan.base.Host().EnumerateGlobalRoots(c.trace.ProcessEdge)
}

func (c *Collector) threadRoots() {
	c.plan.base.Host().EnumerateRoots(c.Thread(), c.trace.ProcessEdge)
}

func (c *Collector) closure() {
	if c.plan.major {
		// Remembered slots are dropped by full-heap collections.
		for {
			if _, ok := c.trace.Slots().Next(); !ok {
				break
			}
		}
	} else {
		c.trace.ProcessSlots()
	}
	c.trace.CompleteTrace()
}

func (c *Collector) release() {
	c.nursery.Reset()
	if c.plan.major {
		c.mature.Release()
	}
	c.plan.scanned.Add(int64(c.trace.Scanned()))
	c.trace.Reset()
}
