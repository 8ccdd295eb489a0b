package plan

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/phase"
	"github.com/orizon-lang/gckit/internal/policy"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/stats"
	"github.com/orizon-lang/gckit/internal/vm"
)

// HostExtent is the size of the region set aside for the host's own
// structures (thread stacks and statics holding root slots).
const HostExtent = 4 * heap.BytesInChunk

// Names of the spaces every plan has.
const (
	ImmortalSpaceName = "immortal"
	LOSSpaceName      = "los"
)

// SpaceSpec describes a plan-specific space. Spaces are laid out in
// ascending address order after the host region, immortal and large
// object spaces, in the order given.
type SpaceSpec struct {
	Name    string
	Kind    space.Kind
	Movable bool
}

// Config describes a plan's heap layout.
type Config struct {
	Name   string
	Spaces []SpaceSpec
	// NoLOS omits the large object space; large requests are served by
	// the default allocator.
	NoLOS bool
}

// Base is the state shared by every plan: options, logging, statistics,
// the heap's memory and spaces, the phase registry and the global
// collection flags. Global flags are written only by the first thread of
// a global phase.
type Base struct {
	name  string
	opts  options.Options
	log   *gclog.Logger
	stats *stats.Registry

	phases *phase.Registry[Context]

	mem      *heap.Memory
	hostArea heap.Region
	acct     *space.Accountant
	smap     *space.Map
	spaces   map[string]*space.Space
	lockOpts []lock.Option

	host     vm.Binding
	immortal *policy.ImmortalSpace
	los      *policy.LargeObjectSpace

	gcInProgress atomic.Bool
	collections  atomic.Int64
	workers      atomic.Int32
	progress     bool
	required     int
	start        time.Time
	usedBefore   int

	pause      *stats.Timer
	collCount  *stats.Counter
	bytesAlloc *stats.Counter
}

// NewBase lays out and maps the heap described by cfg. A nil log writes
// to standard error at the configured verbosity.
func NewBase(opts options.Options, cfg Config, log *gclog.Logger) (*Base, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = gclog.NewStderr(opts.Verbose)
	}
	b := &Base{
		name:     cfg.Name,
		opts:     opts,
		log:      log,
		stats:    stats.NewRegistry(),
		phases:   phase.NewRegistry[Context](log),
		spaces:   make(map[string]*space.Space),
		progress: true,
		lockOpts: []lock.Option{lock.WithSlowThreshold(opts.LockSlowThreshold), lock.WithLogger(log)},
	}
	b.pause = b.stats.Timer("gc.pause")
	b.collCount = b.stats.Counter("gc.collections")
	b.bytesAlloc = b.stats.Counter("alloc.bytes")

	specs := []SpaceSpec{{Name: ImmortalSpaceName, Kind: space.Monotone}}
	if !cfg.NoLOS {
		specs = append(specs, SpaceSpec{Name: LOSSpaceName, Kind: space.FreeList})
	}
	specs = append(specs, cfg.Spaces...)

	extent := heap.AlignExtent(opts.HeapSize, heap.BytesInChunk)
	layout := heap.NewLayout(heap.DefaultBase)
	b.hostArea = layout.Carve("host", HostExtent)
	regions := make([]heap.Region, len(specs))
	for i, s := range specs {
		regions[i] = layout.Carve(s.Name, extent)
	}
	mem, err := layout.Map()
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", cfg.Name, err)
	}
	b.mem = mem

	b.acct = space.NewAccountant(opts.HeapPages(), lock.New("heap", b.lockOpts...))
	for i, s := range specs {
		if _, dup := b.spaces[s.Name]; dup {
			_ = mem.Close()
			return nil, gcerr.Config("DUPLICATE_SPACE", "plan %s declares space %s twice", cfg.Name, s.Name)
		}
		b.spaces[s.Name] = space.New(b.acct, mem, space.Config{
			Name:          s.Name,
			Region:        regions[i],
			Kind:          s.Kind,
			Movable:       s.Movable,
			PollFrequency: opts.PollFrequency,
		})
	}
	b.smap = space.NewMap(b.acct)
	return b, nil
}

// Bind attaches the plan's trigger policy and the host. It creates the
// policies that need the object model.
func (b *Base) Bind(p space.Poller, host vm.Binding) error {
	if b.host != nil {
		return gcerr.Config("ALREADY_BOUND", "plan %s is already bound to a host", b.name)
	}
	b.host = host
	b.immortal = policy.NewImmortalSpace(b.spaces[ImmortalSpaceName], host)
	if s, ok := b.spaces[LOSSpaceName]; ok {
		b.los = policy.NewLargeObjectSpace(s, host, b.lockOpts...)
	}
	b.acct.Bind(p, host)
	return nil
}

// Name returns the plan's name.
func (b *Base) Name() string { return b.name }

// Options returns the plan's configuration.
func (b *Base) Options() options.Options { return b.opts }

// Log returns the plan's logger.
func (b *Base) Log() *gclog.Logger { return b.log }

// Stats returns the plan's statistics.
func (b *Base) Stats() *stats.Registry { return b.stats }

// Phases returns the phase registry.
func (b *Base) Phases() *phase.Registry[Context] { return b.phases }

// Memory returns the heap's storage, host region included.
func (b *Base) Memory() *heap.Memory { return b.mem }

// HostRegion returns the range reserved for the host.
func (b *Base) HostRegion() heap.Region { return b.hostArea }

// Accountant returns the heap's page accountant.
func (b *Base) Accountant() *space.Accountant { return b.acct }

// SpaceMap resolves addresses to spaces.
func (b *Base) SpaceMap() *space.Map { return b.smap }

// Space returns the space called name, or nil.
func (b *Base) Space(name string) *space.Space { return b.spaces[name] }

// LockOptions returns the options every lock of the plan is built with.
func (b *Base) LockOptions() []lock.Option { return b.lockOpts }

// Host returns the bound host.
func (b *Base) Host() vm.Binding { return b.host }

// Immortal returns the immortal space policy.
func (b *Base) Immortal() *policy.ImmortalSpace { return b.immortal }

// LOS returns the large object space policy, or nil without one.
func (b *Base) LOS() *policy.LargeObjectSpace { return b.los }

// InProgress reports whether a collection is running.
func (b *Base) InProgress() bool { return b.gcInProgress.Load() }

// Collections returns the number of collections started.
func (b *Base) Collections() int { return int(b.collections.Load()) }

// TotalPages returns the heap budget in pages.
func (b *Base) TotalPages() int { return b.acct.BudgetPages() }

// Close releases the heap's storage. The plan must not be used afterwards.
func (b *Base) Close() error { return b.mem.Close() }

// NoteRequired records how many pages the collection about to be
// triggered must yield: the pages s has reserved but not committed,
// doubled when they need a copy reserve.
func (b *Base) NoteRequired(s *space.Space, copyReserve bool) {
	required := s.Reserved() - s.Committed()
	if copyReserve {
		required <<= 1
	}
	b.required = required
}

// BeginCollection marks the start of a collection. Call from the first
// thread of the initiating global phase.
func (b *Base) BeginCollection() {
	b.gcInProgress.Store(true)
	n := b.collections.Add(1)
	b.collCount.Inc()
	b.pause.Start()
	b.start = time.Now()
	b.usedBefore = b.acct.ReservedPages()
	if b.log.V(gclog.Usage) {
		b.log.Logf(gclog.Usage, "Collection %d: reserved = %d pages (%s) trigger = %d pages (%s)",
			n, b.usedBefore, formatPages(b.usedBefore), b.TotalPages(), formatPages(b.TotalPages()))
		b.log.Logf(gclog.Usage, "  Before Collection: %s", b.Usage())
	}
}

// EndCollection applies the out-of-memory rule and reports the
// collection. reserved is the plan's page demand after the collection,
// copy reserves included. Call from the first thread of the final global
// phase.
//
// If the heap cannot honour the request that triggered the collection,
// the plan is given one more collection to make progress; a second
// consecutive failure is fatal.
func (b *Base) EndCollection(kind string, reserved int) {
	used := b.acct.ReservedPages()
	elapsed := time.Since(b.start)
	b.pause.Stop()
	if b.log.V(gclog.PerGC) {
		b.log.Logf(gclog.PerGC, "[GC %d %s %dKB->%dKB %.1fms]", b.Collections(), kind,
			heap.PagesToBytes(b.usedBefore)>>10, heap.PagesToBytes(used)>>10,
			float64(elapsed)/float64(time.Millisecond))
	}
	if b.log.V(gclog.Usage) {
		b.log.Logf(gclog.Usage, "  After Collection: %s", b.Usage())
		b.log.Logf(gclog.Usage, "  Collection %d: reserved = %d pages (%s) trigger = %d pages (%s)",
			b.Collections(), reserved, formatPages(reserved), b.TotalPages(), formatPages(b.TotalPages()))
	}

	if reserved+b.required >= b.TotalPages() {
		if !b.progress {
			b.gcInProgress.Store(false)
			gcerr.Fail(gcerr.OutOfMemory(b.name, uintptr(heap.PagesToBytes(b.required))))
		}
		b.progress = false
	} else {
		b.progress = true
	}
	b.required = 0
	b.gcInProgress.Store(false)
}

// OutOfMemory fails fatally for a request of bytes in s.
func (b *Base) OutOfMemory(s *space.Space, bytes heap.Extent) {
	gcerr.Fail(gcerr.OutOfMemory(s.Name(), uintptr(bytes)))
}

// Usage lists reserved pages per space.
func (b *Base) Usage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "used pages = %d (%s)", b.acct.ReservedPages(), formatPages(b.acct.ReservedPages()))
	for i, s := range b.acct.Spaces() {
		sep := " = "
		if i > 0 {
			sep = " + "
		}
		fmt.Fprintf(&sb, "%s(%s) %d", sep, s.Name(), s.Reserved())
	}
	return sb.String()
}

func formatPages(pages int) string { return options.FormatSize(heap.PagesToBytes(pages)) }

// tagBeginCycle is the rendezvous that separates phase state reset from
// the first phase of a collection.
const tagBeginCycle = 900

// Run executes the collection phase id on c. Every worker calls Run.
func (b *Base) Run(id phase.ID, c Context) {
	if c.Rendezvous(tagBeginCycle) == 1 {
		b.phases.BeginCycle()
	}
	b.phases.Execute(id, c)
}

// Join counts a new collector thread. Every joined thread takes part in
// every collection until it calls Leave.
func (b *Base) Join() { b.workers.Add(1) }

// Leave uncounts a collector thread.
func (b *Base) Leave() { b.workers.Add(-1) }

// Workers returns the number of threads that take part in a collection.
func (b *Base) Workers() int { return int(b.workers.Load()) }

// Compose registers the named collection phase made of subs, failing
// fatally on a bad composition.
func (b *Base) Compose(name string, subs ...phase.ID) phase.ID {
	id, err := b.phases.Complex(name, b.stats.Timer("phase."+name), subs...)
	if err != nil {
		gcerr.Fail(err)
	}
	return id
}

// Replace swaps oldID for newID in the tree of complexID, failing fatally
// on a bad composition.
func (b *Base) Replace(complexID, oldID, newID phase.ID) {
	if err := b.phases.ReplacePhase(complexID, oldID, newID); err != nil {
		gcerr.Fail(err)
	}
}

// retryLimit bounds the refusals a single request may see.
const retryLimit = 32

// Retry runs alloc, which returns zero when the accountant refused pages,
// until it succeeds. A refusal that came with a collection is retried:
// other threads may have taken the pages it freed, and EndCollection
// decides when the heap is exhausted. A refusal without a collection, or
// retryLimit refusals in a row, is fatal.
func (b *Base) Retry(s *space.Space, bytes heap.Extent, alloc func() heap.Address) heap.Address {
	for refusals := 0; ; refusals++ {
		before := b.collections.Load()
		if a := alloc(); !a.IsZero() {
			b.bytesAlloc.Add(int64(bytes))
			return a
		}
		if b.collections.Load() == before || refusals == retryLimit {
			b.OutOfMemory(s, bytes)
		}
	}
}
