// Package simvm is a reference host runtime for the collection plans. It
// provides the object model, root enumeration and stop-the-world
// collection that a managed language runtime would, over the heap of one
// plan.
//
// Each mutator Thread owns a stack of root slots in the plan's host
// region; the VM also has a fixed set of global root slots. Only stack
// and global slots are roots, so an object reference held in a Go
// variable is stale after any call that can collect (allocation,
// Collect, Safepoint, Park). Keep references in slots and reload them.
//
// A collection stops every mutator at an allocation, Collect, Safepoint
// or Park call, then runs the plan's Collect on one goroutine per
// registered Collector.
package simvm

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/rendezvous"
	"github.com/orizon-lang/gckit/internal/simvm/object"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Default root area geometry.
const (
	DefaultGlobals    = 1024
	DefaultStackSlots = 8192
)

// Config describes the root areas of a VM.
type Config struct {
	// Globals is the number of global root slots.
	Globals int
	// StackSlots is the capacity of each thread's stack.
	StackSlots int
	// Collectors is the number of collector-only threads, which take part
	// in collections but never allocate. Zero takes the plan's collectors
	// option.
	Collectors int
}

func (c Config) withDefaults() Config {
	if c.Globals <= 0 {
		c.Globals = DefaultGlobals
	}
	if c.StackSlots <= 0 {
		c.StackSlots = DefaultStackSlots
	}
	return c
}

// VM is the host of one plan.
type VM struct {
	*object.Model

	plan plan.Plan
	base *plan.Base
	mem  *heap.Memory
	cfg  Config

	globals   heap.Address
	stackBase heap.Address
	stackSize heap.Extent
	freeStack []int

	mu      sync.Mutex
	cond    *sync.Cond
	threads map[int]*Thread
	nextID  int
	// running counts mutators that have not stopped for a collection.
	running   int
	requested bool
	epoch     uint64
	poisoned  any
	closed    bool

	barrier *rendezvous.Barrier
}

var _ vm.Binding = (*VM)(nil)

// New binds a VM to p, which must not be bound yet.
func New(p plan.Plan, cfg Config) (*VM, error) {
	cfg = cfg.withDefaults()
	b := p.Base()
	if cfg.Collectors == 0 {
		cfg.Collectors = b.Options().Collectors
	}
	host := b.HostRegion()
	v := &VM{
		Model:     object.New(b.Memory()),
		plan:      p,
		base:      b,
		mem:       b.Memory(),
		cfg:       cfg,
		globals:   host.Start,
		stackSize: heap.Extent(cfg.StackSlots) * heap.BytesInWord,
		threads:   make(map[int]*Thread),
		barrier:   rendezvous.New(1),
	}
	v.cond = sync.NewCond(&v.mu)
	v.stackBase = host.Start.Plus(heap.AlignExtent(heap.Extent(cfg.Globals)*heap.BytesInWord, heap.BytesInPage))
	if v.stackBase >= host.End() {
		return nil, gcerr.Config("HOST_REGION", "%d globals do not fit in the %d byte host region", cfg.Globals, host.Extent)
	}
	stacks := int(host.End().Diff(v.stackBase) / v.stackSize)
	if stacks < 1+cfg.Collectors {
		return nil, gcerr.Config("HOST_REGION", "host region holds %d stacks of %d slots, need at least %d", stacks, cfg.StackSlots, 1+cfg.Collectors)
	}
	for i := stacks - 1; i >= 0; i-- {
		v.freeStack = append(v.freeStack, i)
	}
	if err := p.Bind(v); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.Collectors; i++ {
		v.mu.Lock()
		v.attach(false)
		v.mu.Unlock()
	}
	return v, nil
}

// Plan returns the bound plan.
func (v *VM) Plan() plan.Plan { return v.plan }

// Threads returns the number of registered threads, collector-only ones
// included.
func (v *VM) Threads() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.threads)
}

// NewThread registers a mutator thread. It waits for a collection in
// progress to finish.
func (v *VM) NewThread() (*Thread, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.awaitCollection()
	if v.closed {
		return nil, fmt.Errorf("simvm: vm is closed")
	}
	if len(v.freeStack) == 0 {
		return nil, fmt.Errorf("simvm: no free thread stack (%d threads)", len(v.threads))
	}
	t := v.attach(true)
	v.running++
	return t, nil
}

// attach creates a thread and its collector. Call with mu held and no
// collection in progress.
func (v *VM) attach(mutator bool) *Thread {
	stack := v.freeStack[len(v.freeStack)-1]
	v.freeStack = v.freeStack[:len(v.freeStack)-1]
	id := v.nextID
	v.nextID++
	t := &Thread{
		vm:      v,
		id:      id,
		stack:   stack,
		base:    v.stackBase.Plus(heap.Extent(stack) * v.stackSize),
		cap:     v.cfg.StackSlots,
		mutator: mutator,
	}
	v.mem.Zero(t.base, v.stackSize)
	t.c = v.plan.NewCollector(id)
	v.threads[id] = t
	return t
}

// detach retires t. Call with mu held and no collection in progress.
func (v *VM) detach(t *Thread) {
	t.c.Exit()
	delete(v.threads, t.id)
	v.freeStack = append(v.freeStack, t.stack)
	if t.mutator {
		v.running--
		v.cond.Broadcast()
	}
}

// Close retires the collector-only threads and releases the heap. Every
// mutator must have exited.
func (v *VM) Close() error {
	v.mu.Lock()
	v.awaitCollection()
	for _, t := range v.threads {
		if t.mutator {
			v.mu.Unlock()
			return fmt.Errorf("simvm: mutator %d has not exited", t.id)
		}
	}
	for _, t := range v.threads {
		v.detach(t)
	}
	v.closed = true
	v.mu.Unlock()
	return v.base.Close()
}

// globalSlot returns the address of global slot i.
func (v *VM) globalSlot(i int) heap.Address {
	if i < 0 || i >= v.cfg.Globals {
		panic(fmt.Sprintf("simvm: global %d out of range [0, %d)", i, v.cfg.Globals))
	}
	return v.globals.PlusWords(i)
}

// SetGlobal stores ref in global slot i. Roots are not barriered.
func (v *VM) SetGlobal(i int, ref heap.ObjectReference) { v.mem.StoreReference(v.globalSlot(i), ref) }

// Global loads global slot i.
func (v *VM) Global(i int) heap.ObjectReference { return v.mem.LoadReference(v.globalSlot(i)) }

// EnumerateRoots reports every used stack slot of thread.
func (v *VM) EnumerateRoots(thread int, fn func(slot heap.Address)) {
	v.mu.Lock()
	t := v.threads[thread]
	v.mu.Unlock()
	if t == nil {
		return
	}
	for i := 0; i < t.sp; i++ {
		fn(t.slot(i))
	}
}

// EnumerateGlobalRoots reports every global slot.
func (v *VM) EnumerateGlobalRoots(fn func(slot heap.Address)) {
	for i := 0; i < v.cfg.Globals; i++ {
		fn(v.globals.PlusWords(i))
	}
}

// Rendezvous waits for every thread taking part in the collection.
func (v *VM) Rendezvous(tag int) int { return v.barrier.Rendezvous(tag) }

// TriggerCollection stops the world and collects. The caller must be a
// running mutator. A request made while another is pending waits for
// that collection instead.
func (v *VM) TriggerCollection(reason vm.Reason) {
	v.stopTheWorld(func(threads []*Thread) {
		v.collect(threads, reason)
	})
}

// stopTheWorld waits for every other mutator to stop, runs fn with every
// registered thread, and restarts the world.
func (v *VM) stopTheWorld(fn func(threads []*Thread)) {
	v.mu.Lock()
	if v.poisoned != nil {
		p := v.poisoned
		v.mu.Unlock()
		panic(p)
	}
	if v.requested {
		v.stop()
		v.mu.Unlock()
		return
	}
	v.requested = true
	v.running--
	for v.running > 0 {
		v.cond.Wait()
	}
	threads := make([]*Thread, 0, len(v.threads))
	for _, t := range v.threads {
		threads = append(threads, t)
	}
	v.mu.Unlock()

	var failure any
	func() {
		defer func() { failure = recover() }()
		fn(threads)
	}()

	v.mu.Lock()
	v.requested = false
	v.running++
	v.epoch++
	if failure != nil {
		v.poisoned = failure
	}
	v.cond.Broadcast()
	v.mu.Unlock()
	if failure != nil {
		panic(failure)
	}
}

// stop parks a running mutator until the pending collection ends. Call
// with mu held.
func (v *VM) stop() {
	epoch := v.epoch
	v.running--
	v.cond.Broadcast()
	for v.epoch == epoch {
		v.cond.Wait()
	}
	v.running++
}

// awaitCollection waits, without being counted as running, until no
// collection is pending. Call with mu held.
func (v *VM) awaitCollection() {
	for v.requested {
		v.cond.Wait()
	}
}

// collect runs the plan's Collect for every thread on its own goroutine.
// The first panic breaks the barrier so that the other collectors stop,
// and is re-raised.
func (v *VM) collect(threads []*Thread, reason vm.Reason) {
	v.barrier.SetParties(len(threads))
	var (
		mu    sync.Mutex
		first any
	)
	var g errgroup.Group
	for _, t := range threads {
		g.Go(func() (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				mu.Lock()
				if first == nil || (first == rendezvous.ErrBroken && r != rendezvous.ErrBroken) {
					first = r
				}
				mu.Unlock()
				v.barrier.Break()
				err = fmt.Errorf("simvm: collector %d: %v", t.id, r)
			}()
			v.plan.Collect(t.c, reason)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(first)
	}
}
