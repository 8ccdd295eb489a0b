package policy

import (
	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// MarkSweepSpace keeps objects in size-segregated cells and reclaims
// unmarked cells after a trace. Mark bits live in the block side table.
type MarkSweepSpace struct {
	shared *alloc.Shared
	om     vm.ObjectModel
}

// NewMarkSweepSpace wraps the free-list state of a space.
func NewMarkSweepSpace(sh *alloc.Shared, om vm.ObjectModel) *MarkSweepSpace {
	return &MarkSweepSpace{shared: sh, om: om}
}

// Space returns the underlying space.
func (ms *MarkSweepSpace) Space() *space.Space { return ms.shared.Space() }

// Shared returns the free-list state allocators draw from.
func (ms *MarkSweepSpace) Shared() *alloc.Shared { return ms.shared }

func (ms *MarkSweepSpace) cell(ref heap.ObjectReference) (*alloc.Block, int) {
	a := ms.om.RefToAddress(ref)
	b := ms.shared.Blocks().BlockOf(a)
	if b == nil {
		gcerr.Failf("MS_NO_BLOCK", "%s is not in a block of %s", ref, ms.Space().Name())
		return nil, 0
	}
	return b, b.CellIndex(a)
}

// Mark sets ref's mark bit, returning false if it was already marked.
func (ms *MarkSweepSpace) Mark(ref heap.ObjectReference) bool {
	b, i := ms.cell(ref)
	return b.Mark(i)
}

// TraceObject marks ref and enqueues it on first visit. Objects never move.
func (ms *MarkSweepSpace) TraceObject(q Enqueuer, ref heap.ObjectReference) heap.ObjectReference {
	if ms.Mark(ref) {
		q.Enqueue(ref)
	}
	return ref
}

// IsLive reports whether ref has been marked.
func (ms *MarkSweepSpace) IsLive(ref heap.ObjectReference) bool {
	b, i := ms.cell(ref)
	return b.Marked(i)
}

// Sweep frees the unmarked cells of worker's share of the size classes.
func (ms *MarkSweepSpace) Sweep(owner, worker, workers int) (cells int, bytes heap.Extent) {
	return ms.shared.Sweep(owner, worker, workers)
}

// Free returns ref's cell immediately.
func (ms *MarkSweepSpace) Free(owner int, ref heap.ObjectReference) {
	ms.shared.Free(owner, ms.om.RefToAddress(ref))
}

// Allocated reports whether ref's cell is handed out.
func (ms *MarkSweepSpace) Allocated(ref heap.ObjectReference) bool {
	b := ms.shared.Blocks().BlockOf(ms.om.RefToAddress(ref))
	return b != nil && b.Allocated(b.CellIndex(ms.om.RefToAddress(ref)))
}
