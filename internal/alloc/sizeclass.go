package alloc

import (
	"fmt"
	"sort"

	"github.com/orizon-lang/gckit/internal/heap"
)

// BlockSizeClasses is the number of block sizes: 1, 2, 4, 8 and 16 pages.
const BlockSizeClasses = 5

// BlockPages returns the pages in a block of block size class blk.
func BlockPages(blk int) int { return 1 << blk }

// SizeClasses maps request sizes to cell sizes and each cell size to the
// block size it is carved from.
type SizeClasses struct {
	cellSize   []heap.Extent
	blockClass []int
	cells      []int
}

// NewSizeClasses builds the table for cells up to maxBytes: 8-byte steps to
// 64 bytes, 16-byte steps to 128 bytes, then steps of an eighth.
func NewSizeClasses(maxBytes heap.Extent, minCells, maxCells int) *SizeClasses {
	maxBytes = heap.AlignExtent(maxBytes, heap.BytesInWord)
	sc := &SizeClasses{}
	for sz := heap.Extent(heap.BytesInWord); ; {
		sc.cellSize = append(sc.cellSize, min(sz, maxBytes))
		if sz >= maxBytes {
			break
		}
		switch {
		case sz < 64:
			sz += 8
		case sz < 128:
			sz += 16
		default:
			sz = heap.AlignExtent(sz+sz/8, 2*heap.BytesInWord)
		}
	}
	sc.blockClass = make([]int, len(sc.cellSize))
	sc.cells = make([]int, len(sc.cellSize))
	for i, cell := range sc.cellSize {
		// Blocks are at least a page, so a block only stops growing once
		// it holds more than minCells cells.
		for blk := 0; blk < BlockSizeClasses; blk++ {
			avail := heap.PagesToBytes(BlockPages(blk))
			cells := int(avail / cell)
			sc.blockClass[i] = blk
			sc.cells[i] = cells
			if (avail < heap.BytesInPage && cells*2 > maxCells) ||
				(avail > heap.BytesInPage>>1 && cells > minCells) {
				break
			}
		}
	}
	return sc
}

// Len returns the number of size classes.
func (sc *SizeClasses) Len() int { return len(sc.cellSize) }

// Of returns the smallest size class whose cells hold bytes.
func (sc *SizeClasses) Of(bytes heap.Extent) (int, bool) {
	i := sort.Search(len(sc.cellSize), func(i int) bool { return sc.cellSize[i] >= bytes })
	return i, i < len(sc.cellSize)
}

// CellSize returns the cell size of class.
func (sc *SizeClasses) CellSize(class int) heap.Extent { return sc.cellSize[class] }

// BlockClass returns the block size class used for class.
func (sc *SizeClasses) BlockClass(class int) int { return sc.blockClass[class] }

// CellsInBlock returns how many cells of class fit one block.
func (sc *SizeClasses) CellsInBlock(class int) int { return sc.cells[class] }

// Max returns the largest cell size.
func (sc *SizeClasses) Max() heap.Extent { return sc.cellSize[len(sc.cellSize)-1] }

func (sc *SizeClasses) String() string {
	return fmt.Sprintf("%d size classes up to %d bytes", len(sc.cellSize), sc.Max())
}
