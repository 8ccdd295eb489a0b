// Package plan defines what a collection policy offers its host and the
// machinery shared by every policy: space layout, the stop-the-world
// phase skeleton, allocation retry and the out-of-memory rule, and
// per-collection statistics.
//
// A Plan is constructed once per heap. Each host thread, mutator or
// collector-only, gets its own Collector from NewCollector and uses it
// only from that thread, except that every Collector takes part in every
// collection.
package plan

import (
	"fmt"

	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/phase"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// AllocatorID selects the allocator serving a request.
type AllocatorID int

const (
	// Default is the allocator for ordinary objects: the nursery in
	// generational plans.
	Default AllocatorID = iota
	Mature
	LOS
	Immortal
)

// Nursery is the default allocator of generational plans.
const Nursery = Default

func (a AllocatorID) String() string {
	switch a {
	case Default:
		return "default"
	case Mature:
		return "mature"
	case LOS:
		return "los"
	case Immortal:
		return "immortal"
	}
	return fmt.Sprintf("AllocatorID(%d)", int(a))
}

// Context is a thread taking part in a collection.
type Context interface {
	phase.Worker
	// Thread returns the host thread id.
	Thread() int
}

// Collector is one thread's allocation, barrier and collection state.
type Collector interface {
	Context

	// Alloc returns zeroed storage for an object. It never returns zero:
	// when the heap cannot satisfy the request after a collection, the
	// process fails with an out-of-memory error.
	Alloc(bytes, align, offset heap.Extent, a AllocatorID) heap.Address
	// PostAlloc initializes the collector's view of a newly formatted
	// object.
	PostAlloc(ref heap.ObjectReference, bytes heap.Extent, a AllocatorID)

	// OnStore stores value into slot of src, maintaining the plan's
	// barrier invariants.
	OnStore(src heap.ObjectReference, slot heap.Address, value heap.ObjectReference)
	// OnArrayCopy copies n reference slots starting at srcSlot of src to
	// dstSlot of dst, applying the barrier to each destination slot.
	OnArrayCopy(src heap.ObjectReference, srcSlot heap.Address, dst heap.ObjectReference, dstSlot heap.Address, n int)

	// Exit hands the thread's pending barrier state to the plan before
	// the thread stops taking part in collections.
	Exit()
}

// Plan is a collection policy.
type Plan interface {
	space.Poller

	// Name returns the plan's short name.
	Name() string
	// Base returns the state shared by every plan.
	Base() *Base
	// Bind attaches the host. It must be called once, before any
	// Collector is created.
	Bind(host vm.Binding) error
	// NewCollector creates the state of host thread id.
	NewCollector(thread int) Collector
	// Collect runs one collection. Every participating Collector calls
	// it, with the same reason, once the world has stopped.
	Collect(c Collector, reason vm.Reason)

	// IsLive reports whether ref survived the last collection.
	IsLive(ref heap.ObjectReference) bool
	// WillNotMove reports whether ref stays put in the next collection.
	WillNotMove(ref heap.ObjectReference) bool
	// ForwardedReference returns the current location of ref, which is
	// ref itself unless it was moved by the collection in progress.
	ForwardedReference(ref heap.ObjectReference) heap.ObjectReference
}

// Identity is the host thread identity embedded by every Collector.
type Identity struct {
	id   int
	host vm.Collection
}

// NewIdentity creates the identity of host thread id.
func NewIdentity(id int, host vm.Collection) Identity { return Identity{id: id, host: host} }

// Thread returns the host thread id.
func (t *Identity) Thread() int { return t.id }

// Rendezvous waits for every thread of the collection.
func (t *Identity) Rendezvous(tag int) int { return t.host.Rendezvous(tag) }
