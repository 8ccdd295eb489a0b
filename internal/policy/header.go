// Package policy implements the per-space collection policies: copying,
// mark-sweep, immortal and large objects. Plans combine them and route
// each traced object to the policy of the space holding it.
//
// All policies share the low bits of the object's GC word:
//
//	bits 0-1  forwarding state (copy spaces)
//	bit  2    mark bit (immortal and large object spaces)
//
// A forwarded object's GC word holds the new reference with the state in
// the low bits; references are word aligned, so the bits are free.
package policy

import "github.com/orizon-lang/gckit/internal/heap"

const (
	forwardingMask = 0x3
	unforwarded    = 0x0
	beingForwarded = 0x1
	forwarded      = 0x2

	markBit = 0x4
	// GCBits covers every bit owned by the policies.
	GCBits = forwardingMask | markBit
)

// Enqueuer receives objects a policy has newly marked or copied; their
// fields still have to be scanned.
type Enqueuer interface {
	Enqueue(ref heap.ObjectReference)
}

// Copier provides storage for objects evacuated by a copy space.
type Copier interface {
	// AllocCopy returns storage for a copy of ref of the given size.
	AllocCopy(ref heap.ObjectReference, bytes heap.Extent) heap.Address
	// PostCopy runs after the copy has been made and its GC word reset.
	PostCopy(ref heap.ObjectReference, bytes heap.Extent)
}
