package alloc

import (
	"fmt"
	"math/bits"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/space"
)

// Shared is the state of a free-list space common to all its allocators:
// the size classes and, per class, every block together with the blocks
// that have free cells and no owning allocator.
//
// Blocks are owned by at most one SegregatedFreeList; only the owner takes
// cells from an owned block. Free and Sweep require that no block of the
// class is owned, which holds during a collection once every allocator has
// been flushed.
type Shared struct {
	classes *SizeClasses
	blocks  *BlockAllocator
	lists   []classList
}

type classList struct {
	lock    *lock.Lock
	all     []*Block
	partial []*Block
}

// NewShared creates the shared free-list state over s.
func NewShared(s *space.Space, lockOpts []lock.Option, opts ...Option) *Shared {
	c := newConfig(opts)
	sh := &Shared{
		classes: NewSizeClasses(c.MaxCellBytes, c.MinCells, c.MaxCells),
		blocks:  NewBlockAllocator(s),
	}
	sh.lists = make([]classList, sh.classes.Len())
	for i := range sh.lists {
		sh.lists[i].lock = lock.New(fmt.Sprintf("%s.class%d", s.Name(), i), lockOpts...)
	}
	return sh
}

// Classes returns the size class table.
func (sh *Shared) Classes() *SizeClasses { return sh.classes }

// Blocks returns the block allocator.
func (sh *Shared) Blocks() *BlockAllocator { return sh.blocks }

// Space returns the underlying space.
func (sh *Shared) Space() *space.Space { return sh.blocks.space }

// take hands owner a block of class with at least one free cell, or nil if
// the space refused to grow.
func (sh *Shared) take(owner, class int) *Block {
	l := &sh.lists[class]
	l.lock.Acquire(owner)
	for len(l.partial) > 0 {
		b := l.partial[len(l.partial)-1]
		l.partial = l.partial[:len(l.partial)-1]
		b.listed = false
		if !b.released && b.hasFree() {
			b.owned = true
			l.lock.Release()
			return b
		}
	}
	l.lock.Release()

	// Acquiring pages may run a collection, which takes class locks.
	b := sh.blocks.Alloc(owner, sh.classes.BlockClass(class), class, sh.classes.CellSize(class))
	if b == nil {
		return nil
	}
	b.owned = true
	l.lock.Acquire(owner)
	b.slot = len(l.all)
	l.all = append(l.all, b)
	l.lock.Release()
	return b
}

// retire gives up ownership of b.
func (sh *Shared) retire(owner int, b *Block) {
	l := &sh.lists[b.class]
	l.lock.Acquire(owner)
	b.owned = false
	if b.hasFree() && !b.listed {
		b.listed = true
		l.partial = append(l.partial, b)
	}
	l.lock.Release()
}

// Free returns the cell containing a to its block. Empty blocks go back
// to the space.
func (sh *Shared) Free(owner int, a heap.Address) {
	b := sh.blocks.BlockOf(a)
	if b == nil {
		gcerr.Failf("FREE_UNMAPPED", "free of %s outside any block", a)
		return
	}
	l := &sh.lists[b.class]
	l.lock.Acquire(owner)
	i := b.CellIndex(a)
	if !b.Allocated(i) {
		l.lock.Release()
		gcerr.Failf("DOUBLE_FREE", "free of unallocated cell %s in %s", b.Cell(i), b)
		return
	}
	if gcerr.VerifyAssertions {
		gcerr.Assert(!b.owned, "free into owned %s", b)
	}
	b.push(i)
	sh.settle(owner, l, b)
	l.lock.Release()
}

// settle files an unowned block after cells were freed. Call with the
// class lock held.
func (sh *Shared) settle(owner int, l *classList, b *Block) {
	if b.inUse == 0 {
		last := l.all[len(l.all)-1]
		l.all[b.slot] = last
		last.slot = b.slot
		l.all = l.all[:len(l.all)-1]
		sh.blocks.Free(owner, b)
		return
	}
	if !b.listed {
		b.listed = true
		l.partial = append(l.partial, b)
	}
}

// Sweep frees every allocated, unmarked cell in the classes assigned to
// worker (class % workers == worker) and clears the mark bits. It returns
// the number of cells freed and their bytes.
func (sh *Shared) Sweep(owner, worker, workers int) (cells int, bytes heap.Extent) {
	for class := worker; class < len(sh.lists); class += workers {
		l := &sh.lists[class]
		l.lock.Acquire(owner)
		blocks := append([]*Block(nil), l.all...)
		for _, b := range blocks {
			freed := 0
			for w, word := range b.alloc {
				dead := word &^ b.marks[w].Load()
				for dead != 0 {
					i := w<<6 | bits.TrailingZeros64(dead)
					dead &= dead - 1
					b.push(i)
					freed++
				}
			}
			b.ClearMarks()
			if freed > 0 {
				cells += freed
				bytes += heap.Extent(freed) * b.cellSize
				sh.settle(owner, l, b)
			}
		}
		l.lock.Release()
	}
	return cells, bytes
}

// Each calls fn with every allocated cell. The heap must be quiescent.
func (sh *Shared) Each(fn func(b *Block, cell heap.Address)) {
	for i := range sh.lists {
		for _, b := range sh.lists[i].all {
			b.EachAllocated(func(cell heap.Address) { fn(b, cell) })
		}
	}
}

// LiveCells counts allocated cells over every block.
func (sh *Shared) LiveCells() int {
	n := 0
	for i := range sh.lists {
		for _, b := range sh.lists[i].all {
			n += b.inUse
		}
	}
	return n
}

// SegregatedFreeList allocates cells from a current block per size class.
type SegregatedFreeList struct {
	owner   int
	shared  *Shared
	current []*Block
}

// NewSegregatedFreeList creates owner's allocator over sh.
func NewSegregatedFreeList(owner int, sh *Shared) *SegregatedFreeList {
	return &SegregatedFreeList{owner: owner, shared: sh, current: make([]*Block, sh.classes.Len())}
}

// Shared returns the shared state the allocator draws from.
func (f *SegregatedFreeList) Shared() *Shared { return f.shared }

// Alloc implements Allocator. Requests larger than the biggest cell are a
// fatal error; the plan routes them to the large object space.
func (f *SegregatedFreeList) Alloc(bytes, align, offset heap.Extent) heap.Address {
	need := bytes
	if align > heap.MinAlignment {
		need += align - heap.MinAlignment
	}
	class, ok := f.shared.classes.Of(need)
	if !ok {
		gcerr.Failf("CELL_TOO_LARGE", "request of %d bytes exceeds largest cell %d", bytes, f.shared.classes.Max())
		return 0
	}
	cell := heap.Address(0)
	if b := f.current[class]; b != nil {
		cell = b.pop()
	}
	if cell.IsZero() {
		cell = f.allocSlow(class)
		if cell.IsZero() {
			return 0
		}
	}
	return AlignAllocation(cell, align, offset)
}

func (f *SegregatedFreeList) allocSlow(class int) heap.Address {
	if b := f.current[class]; b != nil {
		f.current[class] = nil
		f.shared.retire(f.owner, b)
	}
	b := f.shared.take(f.owner, class)
	if b == nil {
		return 0
	}
	f.current[class] = b
	return b.pop()
}

// Flush gives every current block back to the shared lists. Collections
// flush all allocators before freeing or sweeping.
func (f *SegregatedFreeList) Flush() {
	for class, b := range f.current {
		if b != nil {
			f.current[class] = nil
			f.shared.retire(f.owner, b)
		}
	}
}
