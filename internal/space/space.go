package space

import (
	"fmt"

	"github.com/orizon-lang/gckit/internal/heap"
)

// Space is a named address range with its own page accounting.
type Space struct {
	name    string
	index   int
	region  heap.Region
	movable bool

	mr   MemoryResource
	vmr  VMResource
	acct *Accountant
	mem  *heap.Memory
}

// Kind selects the VM resource of a new space.
type Kind int

const (
	// Monotone spaces hand out pages by bumping a cursor and are recycled
	// wholesale.
	Monotone Kind = iota
	// FreeList spaces hand out and take back individual page runs.
	FreeList
)

// Config describes a space to create.
type Config struct {
	Name    string
	Region  heap.Region
	Kind    Kind
	Movable bool
	// PollFrequency is how many pages may be acquired between polls.
	PollFrequency int
}

// New creates a space over cfg.Region and registers it with a. The region
// must lie inside mem.
func New(a *Accountant, mem *heap.Memory, cfg Config) *Space {
	r := cfg.Region
	if !mem.Contains(r.Start) || !mem.Contains(r.End().Minus(1)) {
		panic(fmt.Sprintf("space: region %s outside memory [%s, %s)", r, mem.Start(), mem.End()))
	}
	s := &Space{
		name:    cfg.Name,
		index:   len(a.spaces),
		region:  r,
		movable: cfg.Movable,
		acct:    a,
		mem:     mem,
	}
	s.mr.pollPages = max(cfg.PollFrequency, 1)
	switch cfg.Kind {
	case Monotone:
		s.vmr = NewMonotone(mem, r)
	case FreeList:
		s.vmr = NewFreeList(mem, r)
	default:
		panic(fmt.Sprintf("space: unknown kind %d", cfg.Kind))
	}
	a.spaces = append(a.spaces, s)
	return s
}

// Name returns the space's name.
func (s *Space) Name() string { return s.name }

// Index returns the space's descriptor, its position in the accountant.
func (s *Space) Index() int { return s.index }

// Region returns the space's address range.
func (s *Space) Region() heap.Region { return s.region }

// Start returns the first address of the space.
func (s *Space) Start() heap.Address { return s.region.Start }

// End returns the first address past the space.
func (s *Space) End() heap.Address { return s.region.End() }

// Contains reports whether a lies in the space.
func (s *Space) Contains(a heap.Address) bool { return s.region.Contains(a) }

// Movable reports whether objects in the space may be moved.
func (s *Space) Movable() bool { return s.movable }

// Reserved returns the space's reserved pages.
func (s *Space) Reserved() int { return s.mr.Reserved() }

// Committed returns the space's committed pages.
func (s *Space) Committed() int { return s.mr.Committed() }

// VM returns the space's page allocator.
func (s *Space) VM() VMResource { return s.vmr }

// Memory returns the storage of the space.
func (s *Space) Memory() *heap.Memory { return s.mem }

// Acquire obtains a zeroed run of pages for owner. It returns the zero
// address if the plan asked for a collection instead; the caller may retry
// once the collection has finished.
func (s *Space) Acquire(owner, pages int) heap.Address {
	return s.acct.acquire(owner, s, pages)
}

// ReleasePages returns a run previously obtained with Acquire. Only
// free-list spaces support it.
func (s *Space) ReleasePages(owner int, start heap.Address, pages int) {
	s.acct.release(owner, s, start, pages)
}

// Reset recycles the whole space: every page returns to the VM resource
// and the budget.
func (s *Space) Reset() {
	s.vmr.Reset()
	s.mr.Reset()
}

func (s *Space) String() string {
	return fmt.Sprintf("%s %s reserved=%d committed=%d", s.name, s.region, s.mr.Reserved(), s.mr.Committed())
}

// Map resolves addresses to spaces through a chunk table.
type Map struct {
	base   heap.Address
	chunks []*Space
}

// NewMap creates a map covering every space registered with a.
func NewMap(a *Accountant) *Map {
	var lo, hi heap.Address
	for i, s := range a.spaces {
		if i == 0 || s.Start() < lo {
			lo = s.Start()
		}
		if s.End() > hi {
			hi = s.End()
		}
	}
	m := &Map{base: lo, chunks: make([]*Space, hi.Diff(lo)>>heap.LogBytesInChunk)}
	for _, s := range a.spaces {
		first := s.Start().Diff(lo) >> heap.LogBytesInChunk
		last := (s.End().Diff(lo) - 1) >> heap.LogBytesInChunk
		for c := first; c <= last; c++ {
			if m.chunks[c] != nil {
				panic(fmt.Sprintf("space: %s overlaps %s", s.name, m.chunks[c].name))
			}
			m.chunks[c] = s
		}
	}
	return m
}

// SpaceOf returns the space containing a, or nil.
func (m *Map) SpaceOf(a heap.Address) *Space {
	if a < m.base {
		return nil
	}
	c := int(a.Diff(m.base) >> heap.LogBytesInChunk)
	if c >= len(m.chunks) {
		return nil
	}
	return m.chunks[c]
}
