// Package gencopy is the generational copying plan: survivors of the
// nursery are copied into one of two mature semispaces, and a full-heap
// collection evacuates the current semispace into the other.
package gencopy

import (
	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/generational"
	"github.com/orizon-lang/gckit/internal/policy"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Names of the semispaces.
const (
	LowSpaceName  = "mature-lo"
	HighSpaceName = "mature-hi"
)

// New creates a generational copying plan.
func New(opts options.Options, log *gclog.Logger) (*generational.Plan, error) {
	return generational.New(opts, log, generational.Config{
		Name: string(options.GenCopy),
		Spaces: []plan.SpaceSpec{
			{Name: LowSpaceName, Kind: space.Monotone, Movable: true},
			{Name: HighSpaceName, Kind: space.Monotone, Movable: true},
		},
		Mature: &mature{},
	})
}

// mature holds two semispaces. Objects live in the current one; a
// full-heap collection flips hi and copies survivors out of the other.
type mature struct {
	g      *generational.Plan
	om     vm.ObjectModel
	spaces [2]*space.Space
	copies [2]*policy.CopySpace
	hi     bool
}

func (m *mature) Init(g *generational.Plan) error {
	m.g = g
	m.spaces[0] = g.Base().Space(LowSpaceName)
	m.spaces[1] = g.Base().Space(HighSpaceName)
	return nil
}

func (m *mature) Bind(host vm.Binding) {
	m.om = host
	for i, s := range m.spaces {
		m.copies[i] = policy.NewCopySpace(s, host)
	}
}

// current is the semispace allocations go to; during a full-heap
// collection it is the to-space.
func (m *mature) current() int {
	if m.hi {
		return 1
	}
	return 0
}

func (m *mature) other() int { return 1 - m.current() }

func (m *mature) in(i int, ref heap.ObjectReference) bool {
	return m.spaces[i].Contains(m.om.RefToAddress(ref))
}

func (m *mature) Owns(s *space.Space) bool { return s == m.spaces[0] || s == m.spaces[1] }

func (m *mature) CopyReserve() bool { return true }

func (m *mature) used() int { return m.spaces[0].Reserved() + m.spaces[1].Reserved() }

func (m *mature) ReservedPages() int { return m.used() * 2 }

func (m *mature) PagesAvail(free, nursery int) int {
	return free/2 - m.used() - nursery
}

// Prepare flips the semispaces.
func (m *mature) Prepare() { m.hi = !m.hi }

// Release recycles the evacuated semispace.
func (m *mature) Release() { m.copies[m.other()].Release() }

func (m *mature) TraceObject(q policy.Enqueuer, c policy.Copier, ref heap.ObjectReference) heap.ObjectReference {
	from := m.other()
	if m.in(from, ref) {
		return m.copies[from].TraceObject(q, c, ref)
	}
	return ref
}

func (m *mature) IsLive(ref heap.ObjectReference) bool {
	from := m.other()
	if m.in(from, ref) {
		return m.copies[from].IsLive(ref)
	}
	return true
}

// WillNotMove reports false for objects of the semispace a full-heap
// collection evacuates: the current one before the flip, the other one
// once the collection has started.
func (m *mature) WillNotMove(ref heap.ObjectReference, fullHeap bool) bool {
	if !fullHeap {
		return true
	}
	evacuated := m.current()
	if m.g.Base().InProgress() {
		evacuated = m.other()
	}
	return !m.in(evacuated, ref)
}

func (m *mature) ForwardedReference(ref heap.ObjectReference) heap.ObjectReference {
	from := m.other()
	if m.in(from, ref) {
		return m.copies[from].ForwardedReference(ref)
	}
	return ref
}

func (m *mature) NewCollector(thread int) generational.MatureCollector {
	return &collector{m: m, bp: alloc.NewBumpPointer(thread, m.spaces[m.current()])}
}

// collector bump allocates into the current semispace, for mutator
// requests and evacuation alike.
type collector struct {
	m  *mature
	bp *alloc.BumpPointer
}

func (c *collector) Space() *space.Space { return c.bp.Space() }

func (c *collector) Alloc(bytes, align, offset heap.Extent) heap.Address {
	return c.bp.Alloc(bytes, align, offset)
}

func (c *collector) AllocCopy(bytes heap.Extent) heap.Address {
	return c.bp.Alloc(bytes, heap.MinAlignment, 0)
}

func (c *collector) PostCopy(heap.ObjectReference, heap.Extent, bool) {}

// Prepare moves the allocator to the new to-space.
func (c *collector) Prepare() { c.bp.Rebind(c.m.spaces[c.m.current()]) }

func (c *collector) Release() {}

func (c *collector) Exit() {}
