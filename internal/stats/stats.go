// Package stats holds the collector's counters and phase timers.
package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically updated event count.
type Counter struct {
	name string
	v    atomic.Int64
}

// Name returns the counter's name.
func (c *Counter) Name() string { return c.name }

// Inc adds one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds n.
func (c *Counter) Add(n int64) { c.v.Add(n) }

// Get returns the current value.
func (c *Counter) Get() int64 { return c.v.Load() }

// Reset sets the counter back to zero.
func (c *Counter) Reset() { c.v.Store(0) }

// Timer accumulates time spent in a phase. Start and Stop are called by a
// single thread at a time (the phase's primary worker).
type Timer struct {
	name    string
	started atomic.Int64
	last    atomic.Int64
	total   atomic.Int64
	count   atomic.Int64
}

var epoch = time.Now()

// Name returns the timer's name.
func (t *Timer) Name() string { return t.name }

// Start begins an interval.
func (t *Timer) Start() { t.started.Store(int64(time.Since(epoch))) }

// Stop ends the current interval and returns its length.
func (t *Timer) Stop() time.Duration {
	s := t.started.Swap(0)
	if s == 0 {
		return 0
	}
	d := int64(time.Since(epoch)) - s
	t.last.Store(d)
	t.total.Add(d)
	t.count.Add(1)
	return time.Duration(d)
}

// Running reports whether an interval is open.
func (t *Timer) Running() bool { return t.started.Load() != 0 }

// Last returns the most recent interval.
func (t *Timer) Last() time.Duration { return time.Duration(t.last.Load()) }

// Total returns the sum of all intervals.
func (t *Timer) Total() time.Duration { return time.Duration(t.total.Load()) }

// Count returns the number of completed intervals.
func (t *Timer) Count() int64 { return t.count.Load() }

// Registry owns every counter and timer of one plan.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	timers   map[string]*Timer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter), timers: make(map[string]*Timer)}
}

// Counter returns the counter called name, creating it on first use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = &Counter{name: name}
		r.counters[name] = c
	}
	return c
}

// Timer returns the timer called name, creating it on first use.
func (r *Registry) Timer(name string) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[name]
	if !ok {
		t = &Timer{name: name}
		r.timers[name] = t
	}
	return t
}

// Snapshot returns every counter value and every timer total (in
// milliseconds, suffixed _ms).
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.counters)+len(r.timers))
	for name, c := range r.counters {
		out[name] = float64(c.Get())
	}
	for name, t := range r.timers {
		out[name+"_ms"] = float64(t.Total()) / float64(time.Millisecond)
	}
	return out
}

// WriteTo prints the snapshot as sorted "name value" lines.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	snap := r.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var n int64
	for _, k := range keys {
		m, err := fmt.Fprintf(w, "%s %g\n", k, snap[k])
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
