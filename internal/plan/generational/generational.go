// Package generational implements the nursery half of the generational
// plans: a copying nursery in the highest part of the heap, per-thread
// remembered sets filled by a write barrier, and the minor/major policy.
// The mature generation is supplied by another package through Mature.
//
// Every space other than the nursery lies below NurseryStart, so the
// barrier only has to compare addresses: a store of a nursery reference
// into a slot below the nursery is remembered.
package generational

import (
	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/deque"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/phase"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/policy"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/stats"
	"github.com/orizon-lang/gckit/internal/vm"
)

// NurserySpaceName names the nursery space.
const NurserySpaceName = "nursery"

// Mature is the old generation of a generational plan. Global methods run
// on one thread between rendezvous; Prepare and Release only run for
// full-heap collections.
type Mature interface {
	// Init creates the mature generation's state once the heap is laid
	// out. It may register phases and replace MaturePhase.
	Init(g *Plan) error
	// Bind creates the policies that need the object model.
	Bind(host vm.Binding)
	// Owns reports whether s belongs to the mature generation.
	Owns(s *space.Space) bool
	// CopyReserve reports whether mature pages need an equal reserve to
	// be copied into.
	CopyReserve() bool
	// ReservedPages returns the pages the generation holds, copy reserve
	// included.
	ReservedPages() int
	// PagesAvail returns how many pages the nursery and mature generation
	// can still grow by, given the pages free of every other space and the
	// pages the nursery holds.
	PagesAvail(free, nursery int) int

	Prepare()
	Release()

	// TraceObject visits a mature object during a full-heap collection.
	TraceObject(q policy.Enqueuer, c policy.Copier, ref heap.ObjectReference) heap.ObjectReference
	// IsLive reports whether a mature object survived a full-heap
	// collection.
	IsLive(ref heap.ObjectReference) bool
	// WillNotMove reports whether a mature object stays put in the
	// current collection.
	WillNotMove(ref heap.ObjectReference, fullHeap bool) bool
	ForwardedReference(ref heap.ObjectReference) heap.ObjectReference

	NewCollector(thread int) MatureCollector
}

// MatureCollector is one thread's mature allocation state.
type MatureCollector interface {
	// Space returns the space allocations currently come from.
	Space() *space.Space
	// Alloc serves a mutator request; zero means the space refused.
	Alloc(bytes, align, offset heap.Extent) heap.Address
	// AllocCopy serves an evacuation during a collection.
	AllocCopy(bytes heap.Extent) heap.Address
	// PostCopy runs on every object copied into the generation.
	PostCopy(ref heap.ObjectReference, bytes heap.Extent, fullHeap bool)
	Prepare()
	Release()
	// Exit returns the thread's cached storage to the generation.
	Exit()
}

// Config describes a generational plan.
type Config struct {
	Name string
	// Spaces are the mature spaces, laid out below the nursery.
	Spaces []plan.SpaceSpec
	Mature Mature
}

// Plan is a generational collection policy.
type Plan struct {
	base    *plan.Base
	opts    options.Options
	mature  Mature
	nursery *policy.CopySpace
	nspace  *space.Space

	// NurseryStart is the lowest nursery address.
	NurseryStart heap.Address

	objects *deque.Pool[heap.ObjectReference]
	remset  *deque.Pool[heap.Address]

	fullHeap bool
	major    bool

	nurseryChunk   int
	thresholdPages int

	collection  phase.ID
	maturePhase phase.ID

	minor, majorGCs   *stats.Counter
	barrierFast       *stats.Counter
	barrierSlow       *stats.Counter
	copied, copyBytes *stats.Counter
	scanned           *stats.Counter
}

var _ plan.Plan = (*Plan)(nil)

// nurseryShares is the number of thread chunks a bounded nursery holds.
const nurseryShares = 4

// New lays out the heap and registers the collection phases.
func New(opts options.Options, log *gclog.Logger, cfg Config) (*Plan, error) {
	specs := append(append([]plan.SpaceSpec(nil), cfg.Spaces...),
		plan.SpaceSpec{Name: NurserySpaceName, Kind: space.Monotone, Movable: true})
	b, err := plan.NewBase(opts, plan.Config{Name: cfg.Name, Spaces: specs}, log)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		base:           b,
		opts:           opts,
		mature:         cfg.Mature,
		nspace:         b.Space(NurserySpaceName),
		objects:        deque.NewPool[heap.ObjectReference](0),
		remset:         deque.NewPool[heap.Address](0),
		nurseryChunk:   heap.PagesInChunk / 16,
		thresholdPages: heap.BytesToPages(opts.FullHeapThreshold),
	}
	p.NurseryStart = p.nspace.Start()
	if np := opts.NurseryPages(); np > 0 {
		// Several threads must fit a bounded nursery at once.
		p.nurseryChunk = max(1, min(p.nurseryChunk, np/nurseryShares))
	}

	st := b.Stats()
	p.minor = st.Counter("gc.minor")
	p.majorGCs = st.Counter("gc.major")
	p.barrierFast = st.Counter("barrier.fast")
	p.barrierSlow = st.Counter("barrier.slow")
	p.copied = st.Counter("copy.objects")
	p.copyBytes = st.Counter("copy.bytes")
	p.scanned = st.Counter("trace.scanned")

	p.registerPhases()
	if err := p.mature.Init(p); err != nil {
		_ = b.Close()
		return nil, err
	}
	return p, nil
}

func (p *Plan) registerPhases() {
	reg := p.base.Phases()
	initiate := reg.Simple("initiate", phase.Global, phase.Step[plan.Context]{Global: p.initiate})
	prepare := reg.Simple("prepare", phase.GlobalThenCollector, phase.Step[plan.Context]{
		Global:    p.prepare,
		Collector: each((*Collector).prepare),
	})
	roots := reg.Simple("roots", phase.GlobalThenCollector, phase.Step[plan.Context]{
		Global:    each((*Collector).globalRoots),
		Collector: each((*Collector).threadRoots),
	})
	closure := reg.Simple("closure", phase.PerCollector, phase.Step[plan.Context]{
		Collector: each((*Collector).closure),
	})
	p.maturePhase = reg.Placeholder("mature")
	release := reg.Simple("release", phase.CollectorThenGlobal, phase.Step[plan.Context]{
		Global:    p.release,
		Collector: each((*Collector).release),
	})
	p.collection = p.base.Compose("collection", initiate, prepare, roots, closure, p.maturePhase, release)
}

// each adapts a Collector method to a phase step.
func each(fn func(c *Collector)) func(plan.Context) {
	return func(w plan.Context) { fn(w.(*Collector)) }
}

// Each adapts a step over the mature half of a Collector.
func Each(fn func(c *Collector, mc MatureCollector)) func(plan.Context) {
	return func(w plan.Context) {
		c := w.(*Collector)
		fn(c, c.mature)
	}
}

func (p *Plan) Name() string                      { return p.base.Name() }
func (p *Plan) Base() *plan.Base                  { return p.base }
func (p *Plan) Options() options.Options          { return p.opts }
func (p *Plan) Nursery() *policy.CopySpace        { return p.nursery }
func (p *Plan) Mature() Mature                    { return p.mature }
func (p *Plan) CollectionPhase() phase.ID         { return p.collection }
func (p *Plan) MaturePhase() phase.ID             { return p.maturePhase }
func (p *Plan) Remset() *deque.Pool[heap.Address] { return p.remset }

// FullHeap reports whether the collection in progress, or the next one,
// collects the mature generation.
func (p *Plan) FullHeap() bool { return p.fullHeap }

// Major reports whether the last collection that started was full-heap.
func (p *Plan) Major() bool { return p.major }

// Bind attaches the host and creates the policies over its object model.
func (p *Plan) Bind(host vm.Binding) error {
	if err := p.base.Bind(p, host); err != nil {
		return err
	}
	p.nursery = policy.NewCopySpace(p.nspace, host)
	p.mature.Bind(host)
	return nil
}

// pagesReserved counts every reserved page plus the reserve the copying
// spaces need to be evacuated into.
func (p *Plan) pagesReserved() int {
	n := p.nspace.Reserved()*2 + p.mature.ReservedPages() + p.opts.CopyFudgePages
	n += p.base.Immortal().Space().Reserved()
	if los := p.base.LOS(); los != nil {
		n += los.Space().Reserved()
	}
	return n
}

func (p *Plan) pagesAvail() int {
	free := p.base.TotalPages() - p.base.Immortal().Space().Reserved()
	if los := p.base.LOS(); los != nil {
		free -= los.Space().Reserved()
	}
	return p.mature.PagesAvail(free, p.nspace.Reserved())
}

func (p *Plan) nurseryFull() bool {
	np := p.opts.NurseryPages()
	return np >= 0 && p.nspace.Reserved() > np
}

// Poll asks for a collection when the heap, copy reserves included, would
// be overcommitted or the nursery is over its bound. A forced poll makes
// the collection full-heap.
func (p *Plan) Poll(mustCollect bool, s *space.Space) bool {
	if p.base.InProgress() {
		return false
	}
	if mustCollect || p.pagesReserved() > p.base.TotalPages() || p.nurseryFull() {
		p.base.NoteRequired(s, s == p.nspace || (p.mature.CopyReserve() && p.mature.Owns(s)))
		p.fullHeap = mustCollect || p.fullHeap
		return true
	}
	return false
}

// Collect runs one collection on c.
func (p *Plan) Collect(c plan.Collector, reason vm.Reason) {
	if reason == vm.External && p.opts.IgnoreSystemGC {
		return
	}
	gc := c.(*Collector)
	gc.reason = reason
	p.base.Run(p.collection, gc)
}

func (p *Plan) initiate(w plan.Context) {
	if w.(*Collector).reason == vm.External && p.opts.FullHeapSystemGC {
		p.fullHeap = true
	}
	p.base.BeginCollection()
}

func (p *Plan) prepare(plan.Context) {
	p.major = p.fullHeap
	if p.major {
		if los := p.base.LOS(); los != nil {
			los.Prepare()
		}
		p.mature.Prepare()
		p.base.Immortal().Prepare()
	}
	workers := p.base.Workers()
	p.objects.Reset(workers)
	p.remset.Reset(workers)
}

func (p *Plan) release(w plan.Context) {
	p.nursery.Release()
	kind := "minor"
	if p.major {
		kind = "major"
		if los := p.base.LOS(); los != nil {
			los.Sweep(w.Thread())
		}
		p.mature.Release()
		p.majorGCs.Inc()
	} else {
		p.minor.Inc()
	}
	p.fullHeap = p.pagesAvail() < p.thresholdPages
	p.base.EndCollection(kind, p.pagesReserved())
}

// IsLive reports whether ref survived the last collection.
func (p *Plan) IsLive(ref heap.ObjectReference) bool {
	if ref.IsNull() {
		return false
	}
	s := p.base.SpaceMap().SpaceOf(p.base.Host().RefToAddress(ref))
	switch {
	case s == nil:
		return false
	case s == p.nspace:
		return p.nursery.IsLive(ref)
	case p.mature.Owns(s):
		return !p.major || p.mature.IsLive(ref)
	case p.base.LOS() != nil && s == p.base.LOS().Space():
		return p.base.LOS().IsLive(ref)
	}
	return true
}

// WillNotMove reports whether ref keeps its address in the current
// collection.
func (p *Plan) WillNotMove(ref heap.ObjectReference) bool {
	a := p.base.Host().RefToAddress(ref)
	if a >= p.NurseryStart {
		return false
	}
	if s := p.base.SpaceMap().SpaceOf(a); s != nil && p.mature.Owns(s) {
		return p.mature.WillNotMove(ref, p.fullHeap)
	}
	return true
}

// ForwardedReference follows ref's forwarding pointer, if any.
func (p *Plan) ForwardedReference(ref heap.ObjectReference) heap.ObjectReference {
	if ref.IsNull() {
		return ref
	}
	a := p.base.Host().RefToAddress(ref)
	if a >= p.NurseryStart {
		return p.nursery.ForwardedReference(ref)
	}
	if s := p.base.SpaceMap().SpaceOf(a); s != nil && p.mature.Owns(s) {
		return p.mature.ForwardedReference(ref)
	}
	return ref
}

// NewCollector creates the allocation and collection state of thread.
func (p *Plan) NewCollector(thread int) plan.Collector {
	c := &Collector{
		Identity: plan.NewIdentity(thread, p.base.Host()),
		plan:     p,
		om:       p.base.Host(),
		mem:      p.base.Memory(),
		nursery:  alloc.NewBumpPointer(thread, p.nspace, alloc.WithChunkPages(p.nurseryChunk)),
		immortal: alloc.NewBumpPointer(thread, p.base.Immortal().Space()),
		mature:   p.mature.NewCollector(thread),
	}
	c.trace = newLocal(c)
	p.base.Join()
	return c
}
