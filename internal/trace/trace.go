// Package trace runs the transitive closure of a collection on one
// collector thread. Work is shared between collectors through deque
// pools; a closure ends when every collector is idle and nothing is
// shared.
package trace

import (
	"github.com/orizon-lang/gckit/internal/deque"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Tracer routes an object to the policy of its space.
type Tracer interface {
	// TraceObject visits ref on behalf of t and returns the reference the
	// slot holding ref must be updated to.
	TraceObject(t *Local, ref heap.ObjectReference) heap.ObjectReference
}

// Local is one collector's view of a closure.
type Local struct {
	om      vm.ObjectModel
	tracer  Tracer
	objects *deque.Local[heap.ObjectReference]
	slots   *deque.Local[heap.Address]
	scanned int
	edges   int
}

// NewLocal creates a closure engine. objects must be shared by every
// collector taking part in the closure; slots holds precise slots such as
// remembered set entries to process first.
func NewLocal(om vm.ObjectModel, tracer Tracer, objects *deque.Pool[heap.ObjectReference], slots *deque.Pool[heap.Address]) *Local {
	return &Local{
		om:      om,
		tracer:  tracer,
		objects: deque.NewLocal(objects),
		slots:   deque.NewLocal(slots),
	}
}

// Enqueue schedules ref for scanning.
func (t *Local) Enqueue(ref heap.ObjectReference) { t.objects.Push(ref) }

// Objects returns the queue of objects to scan.
func (t *Local) Objects() *deque.Local[heap.ObjectReference] { return t.objects }

// Slots returns the queue of slots to process.
func (t *Local) Slots() *deque.Local[heap.Address] { return t.slots }

// TraceObject traces ref directly. Null references are returned as is.
func (t *Local) TraceObject(ref heap.ObjectReference) heap.ObjectReference {
	if ref.IsNull() {
		return ref
	}
	return t.tracer.TraceObject(t, ref)
}

// ProcessEdge traces the object referenced from slot and updates the slot
// if the object moved.
func (t *Local) ProcessEdge(slot heap.Address) {
	mem := t.om.Memory()
	ref := mem.LoadReference(slot)
	if ref.IsNull() {
		return
	}
	t.edges++
	if moved := t.tracer.TraceObject(t, ref); moved != ref {
		mem.StoreReference(slot, moved)
	}
}

// ProcessSlots drains the slot queue and, through stealing, the slot
// pool. Slots are only produced before the closure starts, so no
// termination protocol is needed.
func (t *Local) ProcessSlots() {
	for {
		slot, ok := t.slots.Next()
		if !ok {
			return
		}
		t.ProcessEdge(slot)
	}
}

// CompleteTrace scans enqueued objects until the closure is complete
// across every collector sharing the object pool.
func (t *Local) CompleteTrace() {
	for {
		for {
			ref, ok := t.objects.Pop()
			if !ok {
				break
			}
			t.scanned++
			t.om.Scan(ref, t.ProcessEdge)
		}
		if !t.objects.Await() {
			return
		}
	}
}

// Scanned returns the objects scanned since the last Reset.
func (t *Local) Scanned() int { return t.scanned }

// Edges returns the non-null edges processed since the last Reset.
func (t *Local) Edges() int { return t.edges }

// Reset drops queued work and counters.
func (t *Local) Reset() {
	t.objects.Reset()
	t.slots.Reset()
	t.scanned = 0
	t.edges = 0
}
