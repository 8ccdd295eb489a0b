// Package genms is the generational mark-sweep plan: nursery survivors
// are copied into a segregated free-list space, which full-heap
// collections mark in place and sweep.
package genms

import (
	"sync/atomic"

	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/phase"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/generational"
	"github.com/orizon-lang/gckit/internal/policy"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/stats"
	"github.com/orizon-lang/gckit/internal/vm"
)

// MatureSpaceName names the mark-sweep space.
const MatureSpaceName = "ms"

// New creates a generational mark-sweep plan.
func New(opts options.Options, log *gclog.Logger) (*generational.Plan, error) {
	return generational.New(opts, log, generational.Config{
		Name:   string(options.GenMS),
		Spaces: []plan.SpaceSpec{{Name: MatureSpaceName, Kind: space.FreeList}},
		Mature: &mature{},
	})
}

type mature struct {
	g      *generational.Plan
	space  *space.Space
	shared *alloc.Shared
	ms     *policy.MarkSweepSpace

	// sweepers hands out sweep shares to the collectors.
	sweepers atomic.Int32
	// unmarked is set once the last major collection's sweep has cleared
	// its marks. Survivors are then the allocated cells.
	unmarked bool

	swept      *stats.Counter
	sweptBytes *stats.Counter
}

// Init creates the free-list state and installs the sweep in place of the
// mature placeholder phase:
//
//	mature = mature-flush (per collector), mature-sweep (per collector)
func (m *mature) Init(g *generational.Plan) error {
	b := g.Base()
	m.g = g
	m.space = b.Space(MatureSpaceName)
	m.shared = alloc.NewShared(m.space, b.LockOptions(),
		alloc.WithMaxCellBytes(max(heap.Extent(16<<10), b.Options().LOSThreshold)))
	m.swept = b.Stats().Counter("sweep.cells")
	m.sweptBytes = b.Stats().Counter("sweep.bytes")

	reg := b.Phases()
	flush := reg.Simple("mature-flush", phase.PerCollector, phase.Step[plan.Context]{
		Collector: generational.Each(func(_ *generational.Collector, mc generational.MatureCollector) {
			if g.Major() {
				mc.(*collector).sfl.Flush()
			}
		}),
	})
	sweep := reg.Simple("mature-sweep", phase.PerCollector, phase.Step[plan.Context]{
		Collector: generational.Each(func(c *generational.Collector, _ generational.MatureCollector) {
			if g.Major() {
				m.sweep(c.Thread())
			}
		}),
	})
	id, err := reg.Complex("mature", b.Stats().Timer("phase.mature"), flush, sweep)
	if err != nil {
		return err
	}
	return reg.ReplacePhase(g.CollectionPhase(), g.MaturePhase(), id)
}

func (m *mature) sweep(owner int) {
	worker := int(m.sweepers.Add(1)) - 1
	cells, bytes := m.ms.Sweep(owner, worker, m.g.Base().Workers())
	m.swept.Add(int64(cells))
	m.sweptBytes.Add(int64(bytes))
}

func (m *mature) Bind(host vm.Binding) { m.ms = policy.NewMarkSweepSpace(m.shared, host) }

func (m *mature) Owns(s *space.Space) bool { return s == m.space }

func (m *mature) CopyReserve() bool { return false }

func (m *mature) ReservedPages() int { return m.space.Reserved() }

// PagesAvail leaves room for every nursery object to survive.
func (m *mature) PagesAvail(free, nursery int) int {
	return free - m.space.Reserved() - nursery*2
}

func (m *mature) Prepare() {
	m.sweepers.Store(0)
	m.unmarked = false
}

func (m *mature) Release() { m.unmarked = true }

func (m *mature) TraceObject(q policy.Enqueuer, _ policy.Copier, ref heap.ObjectReference) heap.ObjectReference {
	return m.ms.TraceObject(q, ref)
}

func (m *mature) IsLive(ref heap.ObjectReference) bool {
	if m.unmarked {
		return m.ms.Allocated(ref)
	}
	return m.ms.IsLive(ref)
}

func (m *mature) WillNotMove(heap.ObjectReference, bool) bool { return true }

func (m *mature) ForwardedReference(ref heap.ObjectReference) heap.ObjectReference { return ref }

func (m *mature) NewCollector(thread int) generational.MatureCollector {
	return &collector{m: m, sfl: alloc.NewSegregatedFreeList(thread, m.shared)}
}

type collector struct {
	m   *mature
	sfl *alloc.SegregatedFreeList
}

func (c *collector) Space() *space.Space { return c.m.space }

func (c *collector) Alloc(bytes, align, offset heap.Extent) heap.Address {
	return c.sfl.Alloc(bytes, align, offset)
}

func (c *collector) AllocCopy(bytes heap.Extent) heap.Address {
	return c.sfl.Alloc(bytes, heap.MinAlignment, 0)
}

// PostCopy marks survivors copied by a full-heap collection so that the
// sweep keeps them.
func (c *collector) PostCopy(ref heap.ObjectReference, _ heap.Extent, fullHeap bool) {
	if fullHeap {
		c.m.ms.Mark(ref)
	}
}

func (c *collector) Prepare() {}

func (c *collector) Release() {}

func (c *collector) Exit() { c.sfl.Flush() }
