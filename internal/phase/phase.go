// Package phase sequences a collection into named steps that every
// collector thread executes cooperatively.
//
// A simple phase runs a global step on one thread, a per-collector step on
// every thread, or both, separated by rendezvous. A complex phase is an
// ordered list of other phases, so a collection is a tree whose leaves are
// simple phases. Policies specialize a shared skeleton by swapping entries
// of the tree with ReplacePhase.
package phase

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/stats"
)

// ID identifies a phase within its Registry.
type ID int

// Kind selects how a simple phase is scheduled across workers.
type Kind int

const (
	// Global: rendezvous, the first arrival runs the global step, rendezvous.
	Global Kind = iota
	// PerCollector: every worker runs the collector step, rendezvous.
	PerCollector
	// CollectorThenGlobal: every worker runs the collector step,
	// rendezvous, the first arrival runs the global step, rendezvous.
	CollectorThenGlobal
	// GlobalThenCollector: rendezvous, the first arrival runs the global
	// step, rendezvous, every worker runs the collector step, rendezvous.
	GlobalThenCollector
	// Placeholder does nothing; it reserves a slot for ReplacePhase.
	Placeholder
)

func (k Kind) String() string {
	switch k {
	case Global:
		return "global"
	case PerCollector:
		return "collector"
	case CollectorThenGlobal:
		return "collector-then-global"
	case GlobalThenCollector:
		return "global-then-collector"
	case Placeholder:
		return "placeholder"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// State is a phase's progress in the current cycle.
type State int32

const (
	Idle State = iota
	Executing
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Executing:
		return "executing"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Rendezvous tag bases. A phase's tags are base+id, so every barrier of a
// collection is distinguishable in diagnostics.
const (
	tagFirst   = 1000
	tagSecond  = 2000
	tagThird   = 3000
	tagComplex = 5000
)

// Worker is a participating thread.
type Worker interface {
	// Rendezvous blocks until every worker arrives and returns the
	// caller's arrival order, starting at 1.
	Rendezvous(tag int) int
}

// Step holds the work of a simple phase. Either function may be nil.
type Step[W Worker] struct {
	Global    func(w W)
	Collector func(w W)
}

type phase[W Worker] struct {
	id    ID
	name  string
	timer *stats.Timer
	state atomic.Int32

	complex bool
	kind    Kind
	step    Step[W]
	subs    []ID
}

// Registry owns a set of phases. Composition (Simple, Complex,
// ReplacePhase) must finish before any worker calls Execute.
type Registry[W Worker] struct {
	phases []*phase[W]
	byName map[string]ID
	log    *gclog.Logger
}

// NewRegistry creates an empty registry logging through log.
func NewRegistry[W Worker](log *gclog.Logger) *Registry[W] {
	if log == nil {
		log = gclog.Discard()
	}
	return &Registry[W]{byName: make(map[string]ID), log: log}
}

func (r *Registry[W]) add(p *phase[W]) ID {
	p.id = ID(len(r.phases))
	r.phases = append(r.phases, p)
	r.byName[p.name] = p.id
	return p.id
}

// Simple registers a simple phase.
func (r *Registry[W]) Simple(name string, kind Kind, step Step[W]) ID {
	return r.add(&phase[W]{name: name, kind: kind, step: step})
}

// Placeholder registers a phase that does nothing until replaced.
func (r *Registry[W]) Placeholder(name string) ID {
	return r.add(&phase[W]{name: name, kind: Placeholder})
}

// Complex registers a complex phase running subs in order. Every sub-phase
// must already be registered.
func (r *Registry[W]) Complex(name string, timer *stats.Timer, subs ...ID) (ID, error) {
	for _, s := range subs {
		if !r.valid(s) {
			return 0, gcerr.Config("UNKNOWN_PHASE", "complex phase %s references unregistered phase %d", name, s)
		}
	}
	return r.add(&phase[W]{name: name, timer: timer, complex: true, subs: append([]ID(nil), subs...)}), nil
}

func (r *Registry[W]) valid(id ID) bool { return id >= 0 && int(id) < len(r.phases) }

func (r *Registry[W]) get(id ID) *phase[W] {
	if !r.valid(id) {
		gcerr.Fail(gcerr.Config("UNKNOWN_PHASE", "phase %d is not registered", id))
	}
	return r.phases[id]
}

// Name returns the name of id.
func (r *Registry[W]) Name(id ID) string { return r.get(id).name }

// Lookup finds a phase by name.
func (r *Registry[W]) Lookup(name string) (ID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// State returns the progress of id in the current cycle.
func (r *Registry[W]) State(id ID) State { return State(r.get(id).state.Load()) }

// Subphases returns the entries of a complex phase.
func (r *Registry[W]) Subphases(id ID) []ID { return append([]ID(nil), r.get(id).subs...) }

// BeginCycle resets every phase to Idle. Call it from a single thread
// before the workers start executing.
func (r *Registry[W]) BeginCycle() {
	for _, p := range r.phases {
		p.state.Store(int32(Idle))
	}
}

// Execute runs id on w. Every worker must call Execute with the same id.
func (r *Registry[W]) Execute(id ID, w W) {
	p := r.get(id)
	if p.complex {
		r.executeComplex(p, w)
		return
	}
	r.executeSimple(p, w)
}

func (r *Registry[W]) executeComplex(p *phase[W], w W) {
	order := w.Rendezvous(tagComplex + int(p.id))
	if order == 1 {
		p.state.Store(int32(Executing))
		if p.timer != nil {
			p.timer.Start()
		}
		if r.log.V(gclog.Phases) {
			r.log.Logf(gclog.Phases, "delegating complex phase %s", p.name)
		}
	}
	for _, s := range p.subs {
		r.Execute(s, w)
	}
	if order == 1 {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.state.Store(int32(Complete))
	}
}

func (r *Registry[W]) executeSimple(p *phase[W], w W) {
	if p.kind == Placeholder {
		p.state.Store(int32(Complete))
		return
	}
	p.state.Store(int32(Executing))
	if r.log.V(gclog.Phases) {
		r.log.Logf(gclog.Phases, "delegating %s phase %s", p.kind, p.name)
	}

	base := int(p.id)
	var order int
	switch p.kind {
	case Global:
		if w.Rendezvous(tagFirst+base) == 1 {
			r.global(p, w)
		}
		order = w.Rendezvous(tagSecond + base)
	case PerCollector:
		r.collector(p, w)
		order = w.Rendezvous(tagFirst + base)
	case CollectorThenGlobal:
		r.collector(p, w)
		if w.Rendezvous(tagFirst+base) == 1 {
			r.global(p, w)
		}
		order = w.Rendezvous(tagSecond + base)
	case GlobalThenCollector:
		if w.Rendezvous(tagFirst+base) == 1 {
			r.global(p, w)
		}
		w.Rendezvous(tagSecond + base)
		r.collector(p, w)
		order = w.Rendezvous(tagThird + base)
	default:
		gcerr.Fail(gcerr.Config("BAD_PHASE_KIND", "phase %s has unknown kind %v", p.name, p.kind))
	}
	if order == 1 {
		p.state.Store(int32(Complete))
	}
}

func (r *Registry[W]) global(p *phase[W], w W) {
	if p.step.Global == nil {
		return
	}
	if p.timer != nil {
		p.timer.Start()
		defer p.timer.Stop()
	}
	p.step.Global(w)
}

func (r *Registry[W]) collector(p *phase[W], w W) {
	if p.step.Collector != nil {
		p.step.Collector(w)
	}
}

// ReplacePhase rewrites every entry equal to oldID in the tree rooted at
// complexID to newID, recursing into nested complex phases. It fails if an
// id is unregistered, if oldID does not occur, or if the result would
// contain a cycle.
func (r *Registry[W]) ReplacePhase(complexID, oldID, newID ID) error {
	for _, id := range []ID{complexID, oldID, newID} {
		if !r.valid(id) {
			return gcerr.Config("UNKNOWN_PHASE", "phase %d is not registered", id)
		}
	}
	root := r.phases[complexID]
	if !root.complex {
		return gcerr.Config("NOT_COMPLEX", "phase %s is not a complex phase", root.name)
	}

	// Stage the rewrite so that a rejected replacement leaves the tree
	// untouched.
	staged := make(map[ID][]ID)
	var stage func(id ID, seen map[ID]bool)
	stage = func(id ID, seen map[ID]bool) {
		if seen[id] {
			return
		}
		seen[id] = true
		p := r.phases[id]
		subs := append([]ID(nil), p.subs...)
		changed := false
		for i, s := range subs {
			if s == oldID {
				subs[i] = newID
				changed = true
			} else if r.phases[s].complex {
				stage(s, seen)
			}
		}
		if changed {
			staged[id] = subs
		}
	}
	stage(complexID, make(map[ID]bool))
	if len(staged) == 0 {
		return gcerr.Config("PHASE_NOT_FOUND", "phase %s does not occur in %s", r.phases[oldID].name, root.name)
	}

	subsOf := func(id ID) []ID {
		if s, ok := staged[id]; ok {
			return s
		}
		return r.phases[id].subs
	}
	if cyc, ok := r.findCycle(complexID, subsOf); ok {
		return gcerr.Config("PHASE_CYCLE", "replacing %s with %s in %s creates a cycle through %s",
			r.phases[oldID].name, r.phases[newID].name, root.name, r.phases[cyc].name)
	}
	for id, subs := range staged {
		r.phases[id].subs = subs
	}
	return nil
}

func (r *Registry[W]) findCycle(root ID, subsOf func(ID) []ID) (ID, bool) {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[ID]int)
	var visit func(id ID) (ID, bool)
	visit = func(id ID) (ID, bool) {
		colour[id] = grey
		for _, s := range subsOf(id) {
			switch colour[s] {
			case grey:
				return s, true
			case white:
				if c, ok := visit(s); ok {
					return c, true
				}
			}
		}
		colour[id] = black
		return 0, false
	}
	return visit(root)
}

// Describe renders the tree rooted at id, one phase per line.
func (r *Registry[W]) Describe(id ID) string {
	var b strings.Builder
	var walk func(id ID, depth int)
	walk = func(id ID, depth int) {
		p := r.get(id)
		b.WriteString(strings.Repeat("  ", depth))
		if p.complex {
			fmt.Fprintf(&b, "complex phase %s\n", p.name)
			for _, s := range p.subs {
				walk(s, depth+1)
			}
			return
		}
		fmt.Fprintf(&b, "%s phase %s\n", p.kind, p.name)
	}
	walk(id, 0)
	return b.String()
}
