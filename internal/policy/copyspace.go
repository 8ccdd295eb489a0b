package policy

import (
	"runtime"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// CopySpace evacuates reachable objects out of a monotone space. Racing
// collectors agree on a single copy through a CAS on the GC word.
type CopySpace struct {
	space *space.Space
	om    vm.ObjectModel
}

// NewCopySpace wraps s, which must be movable.
func NewCopySpace(s *space.Space, om vm.ObjectModel) *CopySpace {
	if gcerr.VerifyAssertions {
		gcerr.Assert(s.Movable(), "copy space %s is not movable", s.Name())
	}
	return &CopySpace{space: s, om: om}
}

// Space returns the underlying space.
func (cs *CopySpace) Space() *space.Space { return cs.space }

// TraceObject copies ref on first visit, enqueuing the copy, and returns
// the copy's reference on every visit.
func (cs *CopySpace) TraceObject(q Enqueuer, c Copier, ref heap.ObjectReference) heap.ObjectReference {
	var old uint64
	for {
		old = cs.om.GCWord(ref)
		switch old & forwardingMask {
		case forwarded:
			return heap.ObjectReference(old &^ GCBits)
		case beingForwarded:
			runtime.Gosched()
			continue
		}
		if cs.om.CASGCWord(ref, old, old|beingForwarded) {
			break
		}
	}

	bytes := cs.om.Size(ref)
	to := c.AllocCopy(ref, bytes)
	moved := cs.om.CopyTo(ref, to)
	cs.om.SetGCWord(moved, old)
	c.PostCopy(moved, bytes)
	cs.om.SetGCWord(ref, uint64(moved)|forwarded)
	q.Enqueue(moved)
	return moved
}

// IsForwarded reports whether ref has been copied.
func (cs *CopySpace) IsForwarded(ref heap.ObjectReference) bool {
	return cs.om.GCWord(ref)&forwardingMask == forwarded
}

// IsLive reports whether ref survived the collection in progress.
func (cs *CopySpace) IsLive(ref heap.ObjectReference) bool { return cs.IsForwarded(ref) }

// ForwardedReference returns where ref was copied to, or ref itself.
func (cs *CopySpace) ForwardedReference(ref heap.ObjectReference) heap.ObjectReference {
	w := cs.om.GCWord(ref)
	if w&forwardingMask == forwarded {
		return heap.ObjectReference(w &^ GCBits)
	}
	return ref
}

// Release recycles the whole space once its survivors have been copied.
func (cs *CopySpace) Release() { cs.space.Reset() }
