// Package options is the collector's configuration surface.
//
// Options are built from defaults with functional options, from an
// options string ("plan=gencopy heapSize=32MB", optionally with the
// -X:gc: prefix of each token), or from a YAML file.
package options

import (
	"time"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
)

// PlanKind selects the collection policy.
type PlanKind string

const (
	NoGC    PlanKind = "nogc"
	GenCopy PlanKind = "gencopy"
	GenMS   PlanKind = "genms"
	RC      PlanKind = "rc"
)

// MaxLOSThreshold is the largest losThreshold: smaller objects must fit a
// free-list cell, and cells are carved from blocks of at most 64KB.
const MaxLOSThreshold = 64 << 10

// Unbounded is the nursery size meaning "collect the nursery only when the
// heap is exhausted".
const Unbounded = ^heap.Extent(0) >> 1

// Options holds every recognized option.
type Options struct {
	Plan PlanKind

	HeapSize    heap.Extent
	NurserySize heap.Extent

	FullHeapSystemGC bool
	IgnoreSystemGC   bool
	Verbose          int
	CycleDetection   bool
	SanityTracing    bool

	PollFrequency     int
	LOSThreshold      heap.Extent
	CopyFudgePages    int
	FullHeapThreshold heap.Extent
	LockSlowThreshold time.Duration

	DecQuanta       int
	DecTimeFraction float64
	PauseTimeGoal   time.Duration

	Collectors int
}

// Option modifies Options.
type Option func(*Options)

// Default returns the default configuration.
func Default() Options {
	return Options{
		Plan:              GenMS,
		HeapSize:          64 << 20,
		NurserySize:       Unbounded,
		CycleDetection:    true,
		PollFrequency:     1,
		LOSThreshold:      16 << 10,
		CopyFudgePages:    1,
		FullHeapThreshold: 512 << 10,
		LockSlowThreshold: 200 * time.Millisecond,
		DecQuanta:         2000,
		DecTimeFraction:   0.66,
	}
}

// New applies opts to the defaults.
func New(opts ...Option) Options {
	o := Default()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPlan selects the policy.
func WithPlan(p PlanKind) Option {
	return func(o *Options) { o.Plan = p }
}

// WithHeapSize sets the heap budget in bytes.
func WithHeapSize(n heap.Extent) Option {
	return func(o *Options) { o.HeapSize = n }
}

// WithNurserySize bounds the nursery; Unbounded leaves it to heap exhaustion.
func WithNurserySize(n heap.Extent) Option {
	return func(o *Options) { o.NurserySize = n }
}

func WithVerbose(v int) Option {
	return func(o *Options) { o.Verbose = v }
}

func WithCycleDetection(on bool) Option {
	return func(o *Options) { o.CycleDetection = on }
}

func WithSanityTracing(on bool) Option {
	return func(o *Options) { o.SanityTracing = on }
}

// WithFullHeapSystemGC makes explicit collection requests full-heap.
func WithFullHeapSystemGC(on bool) Option {
	return func(o *Options) { o.FullHeapSystemGC = on }
}

// WithIgnoreSystemGC turns explicit collection requests into no-ops.
func WithIgnoreSystemGC(on bool) Option {
	return func(o *Options) { o.IgnoreSystemGC = on }
}

// WithCollectors sets the number of extra collector threads.
func WithCollectors(n int) Option {
	return func(o *Options) { o.Collectors = n }
}

func WithLOSThreshold(n heap.Extent) Option {
	return func(o *Options) { o.LOSThreshold = n }
}

func WithPollFrequency(pages int) Option {
	return func(o *Options) { o.PollFrequency = pages }
}

func WithPauseTimeGoal(d time.Duration) Option {
	return func(o *Options) { o.PauseTimeGoal = d }
}

func WithLockSlowThreshold(d time.Duration) Option {
	return func(o *Options) { o.LockSlowThreshold = d }
}

func WithDecQuanta(n int) Option {
	return func(o *Options) { o.DecQuanta = n }
}

// HeapPages returns the heap budget in pages.
func (o Options) HeapPages() int { return heap.BytesToPages(o.HeapSize) }

// NurseryPages returns the nursery trigger in pages, or -1 if unbounded.
func (o Options) NurseryPages() int {
	if o.NurserySize >= Unbounded {
		return -1
	}
	return heap.BytesToPages(o.NurserySize)
}

// Validate checks option ranges.
func (o Options) Validate() error {
	switch o.Plan {
	case NoGC, GenCopy, GenMS, RC:
	default:
		return gcerr.Config("INVALID_OPTION", "unknown plan %q", o.Plan)
	}
	switch {
	case o.HeapSize < 4*heap.BytesInPage:
		return gcerr.Config("INVALID_OPTION", "heapSize %d is too small", o.HeapSize)
	case o.NurserySize < heap.BytesInPage:
		return gcerr.Config("INVALID_OPTION", "nurserySize %d is below one page", o.NurserySize)
	case o.PollFrequency < 1:
		return gcerr.Config("INVALID_OPTION", "pollFrequency must be at least 1 page")
	case o.LOSThreshold < heap.BytesInWord*2 || o.LOSThreshold > MaxLOSThreshold:
		return gcerr.Config("INVALID_OPTION", "losThreshold %d out of range", o.LOSThreshold)
	case o.CopyFudgePages < 0:
		return gcerr.Config("INVALID_OPTION", "copyFudgePages must not be negative")
	case o.DecQuanta < 1:
		return gcerr.Config("INVALID_OPTION", "decQuanta must be positive")
	case o.DecTimeFraction <= 0 || o.DecTimeFraction > 1:
		return gcerr.Config("INVALID_OPTION", "decTimeFraction %v outside (0, 1]", o.DecTimeFraction)
	case o.Collectors < 0:
		return gcerr.Config("INVALID_OPTION", "collectors must not be negative")
	case o.LockSlowThreshold <= 0:
		return gcerr.Config("INVALID_OPTION", "lockSlowThreshold must be positive")
	}
	return nil
}
