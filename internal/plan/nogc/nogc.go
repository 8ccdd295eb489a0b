// Package nogc is the allocate-only plan: objects are bump allocated and
// never reclaimed. Any collection request is fatal unless explicit
// requests are ignored.
package nogc

import (
	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// DefaultSpaceName names the only collected-never space.
const DefaultSpaceName = "default"

// Plan never collects.
type Plan struct {
	base *plan.Base
	def  *space.Space
}

var _ plan.Plan = (*Plan)(nil)

// New lays out a heap with a default and an immortal space. There is no
// large object space; large requests go to the default space.
func New(opts options.Options, log *gclog.Logger) (*Plan, error) {
	b, err := plan.NewBase(opts, plan.Config{
		Name:   string(options.NoGC),
		Spaces: []plan.SpaceSpec{{Name: DefaultSpaceName, Kind: space.Monotone}},
		NoLOS:  true,
	}, log)
	if err != nil {
		return nil, err
	}
	return &Plan{base: b, def: b.Space(DefaultSpaceName)}, nil
}

func (p *Plan) Name() string               { return p.base.Name() }
func (p *Plan) Base() *plan.Base           { return p.base }
func (p *Plan) Bind(host vm.Binding) error { return p.base.Bind(p, host) }

// Poll fails once the heap is overcommitted and never asks for a
// collection.
func (p *Plan) Poll(mustCollect bool, s *space.Space) bool {
	if p.base.Accountant().ReservedPages() > p.base.TotalPages() {
		p.base.OutOfMemory(s, heap.PagesToBytes(s.Reserved()-s.Committed()))
	}
	return false
}

// Collect fails: a NoGC heap cannot be collected. Explicit requests are
// dropped when the plan is configured to ignore them.
func (p *Plan) Collect(c plan.Collector, reason vm.Reason) {
	if reason == vm.External && p.base.Options().IgnoreSystemGC {
		return
	}
	if c.Rendezvous(1) == 1 {
		gcerr.Failf("NOGC_COLLECTION", "GC Triggered in NoGC Plan. Have you set -X:gc:ignoreSystemGC=true?")
	}
	c.Rendezvous(2)
}

func (p *Plan) IsLive(ref heap.ObjectReference) bool { return !ref.IsNull() }

func (p *Plan) WillNotMove(heap.ObjectReference) bool { return true }

func (p *Plan) ForwardedReference(ref heap.ObjectReference) heap.ObjectReference { return ref }

// NewCollector creates the bump allocators of thread id.
func (p *Plan) NewCollector(thread int) plan.Collector {
	p.base.Join()
	return &Collector{
		Identity: plan.NewIdentity(thread, p.base.Host()),
		plan:     p,
		mem:      p.base.Memory(),
		def:      alloc.NewBumpPointer(thread, p.def),
		immortal: alloc.NewBumpPointer(thread, p.base.Immortal().Space()),
	}
}

// Collector is one thread's allocation state.
type Collector struct {
	plan.Identity
	plan     *Plan
	mem      *heap.Memory
	def      *alloc.BumpPointer
	immortal *alloc.BumpPointer
}

func (c *Collector) Alloc(bytes, align, offset heap.Extent, a plan.AllocatorID) heap.Address {
	bp := c.def
	switch a {
	case plan.Default, plan.LOS, plan.Mature:
	case plan.Immortal:
		bp = c.immortal
	default:
		gcerr.Failf("NO_SUCH_ALLOCATOR", "nogc has no allocator %v", a)
	}
	return c.plan.base.Retry(bp.Space(), bytes, func() heap.Address {
		return bp.Alloc(bytes, align, offset)
	})
}

func (c *Collector) PostAlloc(ref heap.ObjectReference, _ heap.Extent, a plan.AllocatorID) {
	if a == plan.Immortal {
		c.plan.base.Immortal().InitializeHeader(ref)
	}
}

func (c *Collector) OnStore(_ heap.ObjectReference, slot heap.Address, value heap.ObjectReference) {
	c.mem.StoreReference(slot, value)
}

func (c *Collector) OnArrayCopy(_ heap.ObjectReference, srcSlot heap.Address, _ heap.ObjectReference, dstSlot heap.Address, n int) {
	c.mem.Copy(dstSlot, srcSlot, heap.Extent(n)*heap.BytesInWord)
}

func (c *Collector) Exit() { c.plan.base.Leave() }
