// Package vm declares what the collector needs from its host runtime:
// object layout and scanning, root reporting, thread rendezvous, and the
// ability to stop the world.
package vm

import "github.com/orizon-lang/gckit/internal/heap"

//go:generate mockgen -destination=vmmock/vmmock.go -package=vmmock github.com/orizon-lang/gckit/internal/vm ObjectModel,Scanning,Collection

// ObjectModel exposes object layout to the collector.
type ObjectModel interface {
	// Scan calls fn with the address of every reference slot in ref.
	Scan(ref heap.ObjectReference, fn func(slot heap.Address))
	// Size returns the number of bytes ref occupies, header included.
	Size(ref heap.ObjectReference) heap.Extent
	// RefToAddress returns the first byte of ref's storage.
	RefToAddress(ref heap.ObjectReference) heap.Address
	// AddressToRef is the inverse of RefToAddress.
	AddressToRef(addr heap.Address) heap.ObjectReference
	// CopyTo copies ref into storage starting at to and returns the new
	// reference. The collector has already reserved Size(ref) bytes.
	CopyTo(ref heap.ObjectReference, to heap.Address) heap.ObjectReference

	// GCWord, SetGCWord and CASGCWord access the header word reserved for
	// the collector.
	GCWord(ref heap.ObjectReference) uint64
	SetGCWord(ref heap.ObjectReference, v uint64)
	CASGCWord(ref heap.ObjectReference, old, new uint64) bool

	// Memory is the storage objects live in.
	Memory() *heap.Memory
}

// Scanning reports roots.
type Scanning interface {
	// EnumerateRoots calls fn with every root slot of one thread.
	EnumerateRoots(thread int, fn func(slot heap.Address))
	// EnumerateGlobalRoots calls fn with every root slot not owned by a
	// thread (statics).
	EnumerateGlobalRoots(fn func(slot heap.Address))
}

// Reason says why a collection was requested.
type Reason int

const (
	// ResourceExhausted: a space could not satisfy an allocation.
	ResourceExhausted Reason = iota
	// Internal: the plan asked for a collection (nursery full).
	Internal
	// External: the host requested one (a system GC).
	External
)

func (r Reason) String() string {
	switch r {
	case ResourceExhausted:
		return "exhausted"
	case Internal:
		return "internal"
	case External:
		return "external"
	}
	return "unknown"
}

// Collection controls thread coordination.
type Collection interface {
	// Rendezvous blocks until every participating thread arrives and
	// returns the caller's arrival order starting at 1.
	Rendezvous(tag int) int
	// TriggerCollection stops the world and runs a collection. It returns
	// once the collection has finished.
	TriggerCollection(reason Reason)
}

// Binding bundles the host collaborators.
type Binding interface {
	ObjectModel
	Scanning
	Collection
}
