package alloc

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/space"
)

// Block is a run of pages divided into equal cells of one size class. Its
// metadata lives off heap: a free list threaded through freed cells, a
// count of never-used cells, an allocation bitmap and a mark bitmap.
type Block struct {
	start    heap.Address
	pages    int
	class    int
	cellSize heap.Extent
	cells    int

	mem   *heap.Memory
	free  heap.Address
	fresh int
	inUse int
	alloc []uint64
	marks []atomic.Uint64

	owned    bool
	listed   bool
	released bool
	slot     int
}

func newBlock(mem *heap.Memory, start heap.Address, pages, class int, cellSize heap.Extent) *Block {
	cells := int(heap.PagesToBytes(pages) / cellSize)
	words := (cells + 63) / 64
	return &Block{
		start:    start,
		pages:    pages,
		class:    class,
		cellSize: cellSize,
		cells:    cells,
		mem:      mem,
		alloc:    make([]uint64, words),
		marks:    make([]atomic.Uint64, words),
	}
}

// Start returns the block's first cell.
func (b *Block) Start() heap.Address { return b.start }

// Pages returns the block's length in pages.
func (b *Block) Pages() int { return b.pages }

// Class returns the block's size class.
func (b *Block) Class() int { return b.class }

// CellSize returns the size of each cell.
func (b *Block) CellSize() heap.Extent { return b.cellSize }

// Cells returns the number of cells in the block.
func (b *Block) Cells() int { return b.cells }

// InUse returns the number of allocated cells.
func (b *Block) InUse() int { return b.inUse }

// CellIndex returns the cell containing a.
func (b *Block) CellIndex(a heap.Address) int { return int(a.Diff(b.start) / b.cellSize) }

// Cell returns the address of cell i.
func (b *Block) Cell(i int) heap.Address { return b.start.Plus(heap.Extent(i) * b.cellSize) }

// Allocated reports whether cell i is handed out.
func (b *Block) Allocated(i int) bool { return b.alloc[i>>6]&(1<<(i&63)) != 0 }

// Mark sets the mark bit of cell i, returning false if it was already set.
func (b *Block) Mark(i int) bool {
	bit := uint64(1) << (i & 63)
	return b.marks[i>>6].Or(bit)&bit == 0
}

// Marked reports whether cell i is marked.
func (b *Block) Marked(i int) bool { return b.marks[i>>6].Load()&(1<<(i&63)) != 0 }

// ClearMarks unmarks every cell.
func (b *Block) ClearMarks() {
	for i := range b.marks {
		b.marks[i].Store(0)
	}
}

// EachAllocated calls fn with every allocated cell.
func (b *Block) EachAllocated(fn func(cell heap.Address)) {
	for w, word := range b.alloc {
		for word != 0 {
			i := w<<6 | bits.TrailingZeros64(word)
			word &= word - 1
			fn(b.Cell(i))
		}
	}
}

func (b *Block) hasFree() bool { return !b.free.IsZero() || b.fresh < b.cells }

// pop takes a zeroed cell, or returns zero when the block is full.
func (b *Block) pop() heap.Address {
	var cell heap.Address
	var i int
	switch {
	case !b.free.IsZero():
		cell = b.free
		b.free = b.mem.LoadAddress(cell)
		b.mem.Zero(cell, b.cellSize)
		i = b.CellIndex(cell)
	case b.fresh < b.cells:
		i = b.fresh
		b.fresh++
		cell = b.Cell(i)
	default:
		return 0
	}
	b.alloc[i>>6] |= 1 << (i & 63)
	b.inUse++
	return cell
}

// push returns cell i to the free list.
func (b *Block) push(i int) {
	cell := b.Cell(i)
	b.alloc[i>>6] &^= 1 << (i & 63)
	b.mem.StoreAddress(cell, b.free)
	b.free = cell
	b.inUse--
}

func (b *Block) String() string {
	return fmt.Sprintf("block %s+%dp class %d (%d/%d cells)", b.start, b.pages, b.class, b.inUse, b.cells)
}

// BlockAllocator carves blocks out of a free-list space and maps every
// page of the space back to the block covering it.
type BlockAllocator struct {
	space *space.Space
	pages []atomic.Pointer[Block]
}

// NewBlockAllocator creates a block allocator over s.
func NewBlockAllocator(s *space.Space) *BlockAllocator {
	n := heap.BytesToPages(s.Region().Extent)
	return &BlockAllocator{space: s, pages: make([]atomic.Pointer[Block], n)}
}

// Space returns the underlying space.
func (ba *BlockAllocator) Space() *space.Space { return ba.space }

// Alloc takes a block of blk's size for cells of class, or nil if the
// space refused to grow.
func (ba *BlockAllocator) Alloc(owner, blk, class int, cellSize heap.Extent) *Block {
	pages := BlockPages(blk)
	start := ba.space.Acquire(owner, pages)
	if start.IsZero() {
		return nil
	}
	b := newBlock(ba.space.Memory(), start, pages, class, cellSize)
	first := ba.page(start)
	for p := first; p < first+pages; p++ {
		ba.pages[p].Store(b)
	}
	return b
}

// Free returns b's pages to the space.
func (ba *BlockAllocator) Free(owner int, b *Block) {
	first := ba.page(b.start)
	for p := first; p < first+b.pages; p++ {
		ba.pages[p].Store(nil)
	}
	b.released = true
	ba.space.ReleasePages(owner, b.start, b.pages)
}

// BlockOf returns the block covering a, or nil.
func (ba *BlockAllocator) BlockOf(a heap.Address) *Block {
	if !ba.space.Contains(a) {
		return nil
	}
	return ba.pages[ba.page(a)].Load()
}

func (ba *BlockAllocator) page(a heap.Address) int {
	return int(a.Diff(ba.space.Start()) >> heap.LogBytesInPage)
}
