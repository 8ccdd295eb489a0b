package alloc

import (
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/space"
)

// BumpPointer allocates by advancing a cursor through runs of pages taken
// from a space. Consecutive runs that happen to be contiguous are merged,
// so objects may straddle run boundaries.
type BumpPointer struct {
	owner      int
	space      *space.Space
	cursor     heap.Address
	limit      heap.Address
	chunkPages int
}

// NewBumpPointer creates a bump pointer over s for the thread owner.
func NewBumpPointer(owner int, s *space.Space, opts ...Option) *BumpPointer {
	c := newConfig(opts)
	return &BumpPointer{owner: owner, space: s, chunkPages: c.ChunkPages}
}

// Alloc implements Allocator.
func (b *BumpPointer) Alloc(bytes, align, offset heap.Extent) heap.Address {
	start := AlignAllocation(b.cursor, align, offset)
	end := start.Plus(bytes)
	if b.cursor.IsZero() || end > b.limit {
		return b.allocSlow(bytes, align, offset)
	}
	b.cursor = end
	return start
}

func (b *BumpPointer) allocSlow(bytes, align, offset heap.Extent) heap.Address {
	pages := max(heap.BytesToPages(bytes+align), b.chunkPages)
	start := b.space.Acquire(b.owner, pages)
	if start.IsZero() {
		return 0
	}
	if b.cursor.IsZero() || start != b.limit {
		b.cursor = start
	}
	b.limit = start.Plus(heap.PagesToBytes(pages))
	return b.Alloc(bytes, align, offset)
}

// Rebind points the allocator at s and drops the current region.
func (b *BumpPointer) Rebind(s *space.Space) {
	b.space = s
	b.Reset()
}

// Reset drops the current region. It must be called once the space has
// been recycled.
func (b *BumpPointer) Reset() {
	b.cursor = 0
	b.limit = 0
}

// Space returns the space the allocator draws from.
func (b *BumpPointer) Space() *space.Space { return b.space }

// Cursor returns the next free address, or zero with no current region.
func (b *BumpPointer) Cursor() heap.Address { return b.cursor }

// Limit returns the end of the current region.
func (b *BumpPointer) Limit() heap.Address { return b.limit }
