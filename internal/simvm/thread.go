package simvm

import (
	"fmt"

	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/simvm/object"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Thread is a mutator, or a collector-only thread created by the VM. A
// mutator must only be used from one goroutine at a time.
type Thread struct {
	vm      *VM
	id      int
	c       plan.Collector
	mutator bool
	parked  bool

	stack int
	base  heap.Address
	sp    int
	cap   int
}

// ID returns the thread id the plan knows the thread by.
func (t *Thread) ID() int { return t.id }

// Collector returns the thread's plan state.
func (t *Thread) Collector() plan.Collector { return t.c }

func (t *Thread) slot(i int) heap.Address { return t.base.PlusWords(i) }

// Alloc allocates an object with refs reference slots and payload bytes
// from the default allocator. The result is not a root.
func (t *Thread) Alloc(refs int, payload heap.Extent) heap.ObjectReference {
	return t.AllocWith(refs, payload, plan.Default)
}

// AllocWith allocates from allocator a.
func (t *Thread) AllocWith(refs int, payload heap.Extent, a plan.AllocatorID) heap.ObjectReference {
	bytes := object.BytesFor(refs, payload)
	addr := t.c.Alloc(bytes, heap.MinAlignment, 0, a)
	ref := t.vm.Initialize(addr, refs, bytes)
	t.c.PostAlloc(ref, bytes, a)
	return ref
}

// AllocPush allocates an object and pushes it, returning its stack slot.
func (t *Thread) AllocPush(refs int, payload heap.Extent) int {
	return t.Push(t.Alloc(refs, payload))
}

// Store writes value into reference slot i of src through the barrier.
func (t *Thread) Store(src heap.ObjectReference, i int, value heap.ObjectReference) {
	t.c.OnStore(src, t.vm.Slot(src, i), value)
}

// Load reads reference slot i of src.
func (t *Thread) Load(src heap.ObjectReference, i int) heap.ObjectReference {
	return t.vm.Load(src, i)
}

// ArrayCopy copies n reference slots from src starting at srcIndex to dst
// starting at dstIndex through the barrier.
func (t *Thread) ArrayCopy(src heap.ObjectReference, srcIndex int, dst heap.ObjectReference, dstIndex, n int) {
	t.c.OnArrayCopy(src, t.vm.Slot(src, srcIndex), dst, t.vm.Slot(dst, dstIndex), n)
}

// Push stores ref in a new stack slot and returns its index.
func (t *Thread) Push(ref heap.ObjectReference) int {
	if t.sp == t.cap {
		panic(fmt.Sprintf("simvm: thread %d stack overflow (%d slots)", t.id, t.cap))
	}
	t.vm.mem.StoreReference(t.slot(t.sp), ref)
	t.sp++
	return t.sp - 1
}

// Pop removes the top stack slot and returns what it held.
func (t *Thread) Pop() heap.ObjectReference {
	if t.sp == 0 {
		panic(fmt.Sprintf("simvm: thread %d stack underflow", t.id))
	}
	t.sp--
	ref := t.vm.mem.LoadReference(t.slot(t.sp))
	t.vm.mem.StoreReference(t.slot(t.sp), heap.Null)
	return ref
}

func (t *Thread) check(i int) {
	if i < 0 || i >= t.sp {
		panic(fmt.Sprintf("simvm: thread %d slot %d out of range [0, %d)", t.id, i, t.sp))
	}
}

// Root loads stack slot i.
func (t *Thread) Root(i int) heap.ObjectReference {
	t.check(i)
	return t.vm.mem.LoadReference(t.slot(i))
}

// SetRoot stores ref in stack slot i. Roots are not barriered.
func (t *Thread) SetRoot(i int, ref heap.ObjectReference) {
	t.check(i)
	t.vm.mem.StoreReference(t.slot(i), ref)
}

// Depth returns the number of used stack slots.
func (t *Thread) Depth() int { return t.sp }

// Truncate pops slots until n remain.
func (t *Thread) Truncate(n int) {
	for t.sp > n {
		t.Pop()
	}
}

// Collect requests a system collection.
func (t *Thread) Collect() { t.vm.TriggerCollection(vm.External) }

// Safepoint stops the thread if a collection is pending.
func (t *Thread) Safepoint() {
	v := t.vm
	v.mu.Lock()
	if v.requested {
		v.stop()
	}
	v.mu.Unlock()
}

// Park lets collections proceed without this thread reaching a
// safepoint, for example while it blocks outside the VM.
func (t *Thread) Park() {
	v := t.vm
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.parked {
		return
	}
	t.parked = true
	v.running--
	v.cond.Broadcast()
}

// Unpark resumes a parked thread once no collection is pending.
func (t *Thread) Unpark() {
	v := t.vm
	v.mu.Lock()
	defer v.mu.Unlock()
	if !t.parked {
		return
	}
	v.awaitCollection()
	t.parked = false
	v.running++
}

// Exit retires the thread. Its stack slots stop being roots.
func (t *Thread) Exit() {
	v := t.vm
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.parked {
		v.awaitCollection()
		t.parked = false
		v.running++
	} else if v.requested {
		v.stop()
	}
	t.sp = 0
	v.detach(t)
}
