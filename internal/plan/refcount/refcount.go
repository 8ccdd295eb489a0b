// Package refcount is the deferred reference counting plan. Mutator
// stores log increments and decrements into thread-local buffers instead
// of touching counts; collections apply them, free objects whose count
// drops to zero, and reclaim garbage cycles by trial deletion.
//
// Stack and static slots are not counted between collections. Each
// collection gives every object referenced from a root a temporary
// increment and remembers it in the root buffer; the next collection
// turns the root buffer into decrements.
package refcount

import (
	"sync/atomic"
	"time"

	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/deque"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/phase"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/policy"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/stats"
	"github.com/orizon-lang/gckit/internal/vm"
)

// RCSpaceName names the counted free-list space.
const RCSpaceName = "rc"

// Plan is the reference counting collection policy.
type Plan struct {
	base    *plan.Base
	opts    options.Options
	rcSpace *space.Space
	shared  *alloc.Shared
	ms      *policy.MarkSweepSpace
	hdr     header

	incs  *deque.Pool[heap.ObjectReference]
	decs  *deque.Pool[heap.ObjectReference]
	roots *deque.Pool[heap.ObjectReference]

	// purple holds the candidate cycle roots shared by every thread.
	purpleLock *lock.Lock
	purple     []heap.ObjectReference

	sanity *sanity

	start    time.Time
	deferred atomic.Bool

	collection  phase.ID
	cyclePhase  phase.ID
	sanityPhase phase.ID

	// Per-collection tallies for the verbose report.
	nIncs, nDecs, nRoots atomic.Int64

	incCount    *stats.Counter
	decCount    *stats.Counter
	rootCount   *stats.Counter
	purpleCount *stats.Counter
	freed       *stats.Counter
	freedBytes  *stats.Counter
	cycleFreed  *stats.Counter
	deferrals   *stats.Counter
}

var _ plan.Plan = (*Plan)(nil)

// New lays out a heap with the counted space, a large object space and an
// immortal space, and registers the collection phases.
func New(opts options.Options, log *gclog.Logger) (*Plan, error) {
	b, err := plan.NewBase(opts, plan.Config{
		Name:   string(options.RC),
		Spaces: []plan.SpaceSpec{{Name: RCSpaceName, Kind: space.FreeList}},
	}, log)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		base:       b,
		opts:       opts,
		rcSpace:    b.Space(RCSpaceName),
		incs:       deque.NewPool[heap.ObjectReference](0),
		decs:       deque.NewPool[heap.ObjectReference](0),
		roots:      deque.NewPool[heap.ObjectReference](0),
		purpleLock: lock.New("rc.purple", b.LockOptions()...),
	}
	p.shared = alloc.NewShared(p.rcSpace, b.LockOptions(),
		alloc.WithMaxCellBytes(max(heap.Extent(16<<10), opts.LOSThreshold)))
	if opts.SanityTracing {
		p.sanity = newSanity(p)
	}

	st := b.Stats()
	p.incCount = st.Counter("rc.incs")
	p.decCount = st.Counter("rc.decs")
	p.rootCount = st.Counter("rc.roots")
	p.purpleCount = st.Counter("rc.purple")
	p.freed = st.Counter("rc.freed")
	p.freedBytes = st.Counter("rc.freed.bytes")
	p.cycleFreed = st.Counter("rc.cycles.freed")
	p.deferrals = st.Counter("rc.decs.deferred")

	p.registerPhases()
	return p, nil
}

// registerPhases builds
//
//	collection = initiate, prepare, roots, rc-incs, rc-decs, cycle,
//	             sanity, release
//
// where cycle and sanity are placeholders replaced when cycle detection
// and sanity tracing are on.
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
	incs := reg.Simple("rc-incs", phase.PerCollector, phase.Step[plan.Context]{
		Collector: each((*Collector).processIncs),
	})
	decs := reg.Simple("rc-decs", phase.PerCollector, phase.Step[plan.Context]{
		Collector: each((*Collector).processDecs),
	})
	p.cyclePhase = reg.Placeholder("cycle")
	p.sanityPhase = reg.Placeholder("sanity")
	release := reg.Simple("release", phase.Global, phase.Step[plan.Context]{Global: p.release})
	p.collection = p.base.Compose("collection", initiate, prepare, roots, incs, decs, p.cyclePhase, p.sanityPhase, release)

	if p.opts.CycleDetection {
		cd := reg.Simple("trial-deletion", phase.Global, phase.Step[plan.Context]{Global: p.collectCycles})
		p.base.Replace(p.collection, p.cyclePhase, cd)
	}
	if p.opts.SanityTracing {
		check := reg.Simple("rc-sanity", phase.Global, phase.Step[plan.Context]{Global: p.checkSanity})
		p.base.Replace(p.collection, p.sanityPhase, check)
	}
}

func each(fn func(c *Collector)) func(plan.Context) {
	return func(w plan.Context) { fn(w.(*Collector)) }
}

func (p *Plan) Name() string              { return p.base.Name() }
func (p *Plan) Base() *plan.Base          { return p.base }
func (p *Plan) CollectionPhase() phase.ID { return p.collection }

// Purple returns the number of buffered cycle candidates.
func (p *Plan) Purple() int { return len(p.purple) }

// Deferred reports whether the last collection left decrements for the
// next one because it ran out of pause time.
func (p *Plan) Deferred() bool { return p.deferred.Load() }

// Bind attaches the host and creates the policies over its object model.
func (p *Plan) Bind(host vm.Binding) error {
	if err := p.base.Bind(p, host); err != nil {
		return err
	}
	p.ms = policy.NewMarkSweepSpace(p.shared, host)
	p.hdr = header{om: host}
	return nil
}

// Poll asks for a collection once the heap is overcommitted.
func (p *Plan) Poll(mustCollect bool, s *space.Space) bool {
	if p.base.InProgress() {
		return false
	}
	if mustCollect || p.base.Accountant().ReservedPages() > p.base.TotalPages() {
		p.base.NoteRequired(s, false)
		return true
	}
	return false
}

// Collect runs one collection on c.
func (p *Plan) Collect(c plan.Collector, reason vm.Reason) {
	if reason == vm.External && p.opts.IgnoreSystemGC {
		return
	}
	p.base.Run(p.collection, c.(*Collector))
}

// isRC reports whether ref is a counted object. Immortal objects are not
// counted.
func (p *Plan) isRC(ref heap.ObjectReference) bool {
	if ref.IsNull() {
		return false
	}
	a := p.base.Host().RefToAddress(ref)
	if p.rcSpace.Contains(a) {
		return true
	}
	los := p.base.LOS()
	return los != nil && los.Space().Contains(a)
}

// allocated reports whether the counted object ref has not been freed.
func (p *Plan) allocated(ref heap.ObjectReference) bool {
	if p.rcSpace.Contains(p.base.Host().RefToAddress(ref)) {
		return p.ms.Allocated(ref)
	}
	return p.base.LOS().Allocated(ref)
}

// Count returns ref's reference count and whether ref is counted.
func (p *Plan) Count(ref heap.ObjectReference) (int, bool) {
	if !p.isRC(ref) {
		return 0, false
	}
	return int(p.hdr.load(ref).count()), true
}

// free returns a dead object's storage.
func (p *Plan) free(owner int, ref heap.ObjectReference) {
	bytes := p.base.Host().Size(ref)
	if p.rcSpace.Contains(p.base.Host().RefToAddress(ref)) {
		p.ms.Free(owner, ref)
	} else {
		p.base.LOS().Free(owner, ref)
	}
	p.freed.Inc()
	p.freedBytes.Add(int64(bytes))
}

// decDeadline returns when decrement processing has to stop, or the zero
// time without a pause time goal.
func (p *Plan) decDeadline() time.Time {
	goal := p.opts.PauseTimeGoal
	if goal <= 0 {
		return time.Time{}
	}
	remaining := goal - time.Since(p.start)
	if remaining < 0 {
		remaining = 0
	}
	return time.Now().Add(time.Duration(float64(remaining) * p.opts.DecTimeFraction))
}

func (p *Plan) initiate(plan.Context) {
	p.base.BeginCollection()
	p.start = time.Now()
	p.deferred.Store(false)
	p.nIncs.Store(0)
	p.nDecs.Store(0)
	p.nRoots.Store(0)
}

func (p *Plan) prepare(plan.Context) {
	workers := p.base.Workers()
	p.incs.Reset(workers)
	p.decs.Reset(workers)
	p.roots.Reset(workers)
	if p.sanity != nil {
		p.sanity.reset()
	}
}

// sharePurple appends a thread's new cycle candidates to the shared list.
func (p *Plan) sharePurple(owner int, refs []heap.ObjectReference) {
	if len(refs) == 0 {
		return
	}
	p.purpleLock.Acquire(owner)
	p.purple = append(p.purple, refs...)
	p.purpleLock.Release()
}

func (p *Plan) collectCycles(w plan.Context) {
	if p.deferred.Load() || len(p.purple) == 0 {
		return
	}
	newTrialDeletion(p, w.Thread()).collect()
}

func (p *Plan) checkSanity(plan.Context) {
	if p.deferred.Load() {
		return
	}
	p.sanity.check()
}

func (p *Plan) release(plan.Context) {
	incs, decs, roots := p.nIncs.Load(), p.nDecs.Load(), p.nRoots.Load()
	p.incCount.Add(incs)
	p.decCount.Add(decs)
	p.rootCount.Add(roots)
	p.purpleCount.Add(int64(len(p.purple)))
	if p.deferred.Load() {
		p.deferrals.Inc()
	}
	if log := p.base.Log(); log.V(gclog.Usage) {
		log.Logf(gclog.Usage, "<GC %d %d incs, %d decs, %d roots, %d purple>",
			p.base.Collections(), incs, decs, roots, len(p.purple))
	}
	p.base.EndCollection("rc", p.base.Accountant().ReservedPages())
}

// IsLive reports whether ref has not been reclaimed.
func (p *Plan) IsLive(ref heap.ObjectReference) bool {
	if ref.IsNull() {
		return false
	}
	if p.isRC(ref) {
		return p.allocated(ref)
	}
	return p.base.SpaceMap().SpaceOf(p.base.Host().RefToAddress(ref)) != nil
}

func (p *Plan) WillNotMove(heap.ObjectReference) bool { return true }

func (p *Plan) ForwardedReference(ref heap.ObjectReference) heap.ObjectReference { return ref }

// NewCollector creates the allocators and buffers of thread.
func (p *Plan) NewCollector(thread int) plan.Collector {
	c := &Collector{
		Identity: plan.NewIdentity(thread, p.base.Host()),
		plan:     p,
		om:       p.base.Host(),
		mem:      p.base.Memory(),
		sfl:      alloc.NewSegregatedFreeList(thread, p.shared),
		immortal: alloc.NewBumpPointer(thread, p.base.Immortal().Space()),
		incs:     deque.NewLocal(p.incs),
		decs:     deque.NewLocal(p.decs),
		roots:    deque.NewLocal(p.roots),
	}
	p.base.Join()
	return c
}
