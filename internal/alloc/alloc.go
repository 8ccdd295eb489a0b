// Package alloc implements the thread-local allocators that carve objects
// out of space pages: a bump pointer for spaces that are recycled
// wholesale, and a segregated free list for spaces whose objects are
// freed one at a time.
//
// Allocators are not safe for concurrent use; each mutator or collector
// thread owns its own. Shared state (size-class block lists) is guarded by
// ticket locks.
package alloc

import "github.com/orizon-lang/gckit/internal/heap"

// Allocator hands out zeroed memory for objects.
type Allocator interface {
	// Alloc returns bytes of zeroed memory such that the returned address
	// plus offset is a multiple of align. It returns the zero address if
	// the space refused to grow because a collection ran; the caller may
	// retry.
	Alloc(bytes, align, offset heap.Extent) heap.Address
}

// AlignAllocation returns the lowest address at or above a whose sum with
// offset is a multiple of align.
func AlignAllocation(a heap.Address, align, offset heap.Extent) heap.Address {
	if align <= heap.MinAlignment {
		return a
	}
	return a.Plus(offset).AlignUp(align).Minus(offset)
}

// Config carries allocator tuning.
type Config struct {
	// ChunkPages is the minimum run a bump pointer requests from its space.
	ChunkPages int
	// MaxCellBytes is the largest request a free list serves.
	MaxCellBytes heap.Extent
	// MinCells and MaxCells bound the cells per block when choosing a
	// block size for a size class.
	MinCells int
	MaxCells int
}

// Option configures an allocator.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		ChunkPages:   heap.PagesInChunk / 16,
		MaxCellBytes: 16 << 10,
		MinCells:     8,
		MaxCells:     1024,
	}
}

// WithChunkPages sets the bump pointer's minimum acquisition.
func WithChunkPages(n int) Option {
	return func(c *Config) { c.ChunkPages = max(n, 1) }
}

// WithMaxCellBytes sets the largest cell of a free list, normally the
// large object threshold.
func WithMaxCellBytes(n heap.Extent) Option {
	return func(c *Config) { c.MaxCellBytes = heap.AlignExtent(n, heap.BytesInWord) }
}

// WithCellBounds sets the cell count bounds used to size blocks.
func WithCellBounds(minCells, maxCells int) Option {
	return func(c *Config) {
		c.MinCells = minCells
		c.MaxCells = maxCells
	}
}

func newConfig(opts []Option) Config {
	c := defaultConfig()
	for _, o := range opts {
		o(&c)
	}
	return c
}
