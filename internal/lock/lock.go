// Package lock implements the collector's fair ticket lock.
//
// A Lock serves waiters strictly in the order their tickets were
// dispensed. While spinning, a waiter periodically checks how long it has
// been waiting: past the slow threshold it logs a report naming the owner
// and the recent service history; past ten times the threshold it treats
// the wait as a deadlock and fails fatally.
//
// Lock routines must not allocate from the collected heap and must not
// block other than by spinning.
package lock

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
)

const (
	// HistorySize is the number of service records kept for diagnosis.
	HistorySize = 100
	// reportEntries is how many records a slow report prints.
	reportEntries = 10

	// NoOwner is the owner id of an unheld lock.
	NoOwner = -1
	// NoCheckpoint is the checkpoint of an owner that has not called Check.
	NoCheckpoint = -1

	DefaultSlowThreshold   = 200 * time.Millisecond
	DefaultTimeoutMultiple = 10
	DefaultCheckFrequency  = 1000

	// Per-owner stagger of slow reports.
	staggerPerOwner     = 200 * time.Millisecond
	staggerOwnerModulus = 5
)

var epoch = time.Now()

func nanotime() int64 { return int64(time.Since(epoch)) }

type record struct {
	serving atomic.Int32
	owner   atomic.Int32
	start   atomic.Int64
	end     atomic.Int64
}

// Lock is a ticket lock. The zero value is not usable; use New.
type Lock struct {
	name string
	id   int32

	dispenser atomic.Int32
	serving   atomic.Int32

	owner atomic.Int32
	start atomic.Int64
	where atomic.Int32

	history [HistorySize]record

	slow      time.Duration
	multiple  int
	timeout   time.Duration
	checkFreq int
	log       *gclog.Logger
}

// Option configures a Lock.
type Option func(*Lock)

// WithSlowThreshold sets the wait after which a waiter reports.
func WithSlowThreshold(d time.Duration) Option {
	return func(l *Lock) { l.slow = d }
}

// WithTimeoutMultiplier sets the deadlock threshold as a multiple of the
// slow threshold.
func WithTimeoutMultiplier(n int) Option {
	return func(l *Lock) { l.multiple = n }
}

// WithCheckFrequency sets how many spins pass between clock reads.
func WithCheckFrequency(n int) Option {
	return func(l *Lock) { l.checkFreq = n }
}

// WithLogger sets the destination of slow-lock reports.
func WithLogger(log *gclog.Logger) Option {
	return func(l *Lock) { l.log = log }
}

var lockCount atomic.Int32

// New creates a named lock.
func New(name string, opts ...Option) *Lock {
	l := &Lock{
		name:      name,
		id:        lockCount.Add(1) - 1,
		slow:      DefaultSlowThreshold,
		multiple:  DefaultTimeoutMultiple,
		checkFreq: DefaultCheckFrequency,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.timeout = l.slow * time.Duration(l.multiple)
	if l.checkFreq <= 0 {
		l.checkFreq = 1
	}
	if l.log == nil {
		l.log = gclog.Discard()
	}
	l.owner.Store(NoOwner)
	l.where.Store(NoCheckpoint)
	return l
}

// Name returns the lock's logical name.
func (l *Lock) Name() string { return l.name }

// Acquire blocks until owner holds the lock and returns its ticket.
func (l *Lock) Acquire(owner int) int {
	ticket := l.dispenser.Add(1) - 1

	countdown := l.checkFreq
	var localStart, lastReport int64
	for ticket != l.serving.Load() {
		if localStart == 0 {
			localStart = nanotime()
			lastReport = localStart
		}
		if countdown--; countdown == 0 {
			countdown = l.checkFreq
			now := nanotime()
			stagger := time.Duration(owner%staggerOwnerModulus) * staggerPerOwner
			if time.Duration(now-lastReport) > l.slow+stagger {
				lastReport = now
				l.reportSlow(owner, ticket, localStart, now)
			}
			if wait := time.Duration(now - localStart); wait > l.timeout {
				l.log.Warnf("GC Warning: locked out thread %d on lock %d (%s)", owner, l.id, l.name)
				gcerr.Fail(gcerr.LockTimeout(l.name, l.Owner(), owner, wait.String()))
			}
		}
		runtime.Gosched()
	}

	now := nanotime()
	slot := &l.history[ticket%HistorySize]
	slot.serving.Store(ticket)
	slot.owner.Store(int32(owner))
	slot.start.Store(now)
	slot.end.Store(0)
	l.start.Store(now)
	l.where.Store(NoCheckpoint)
	l.owner.Store(int32(owner))

	if l.log.V(gclog.Phases) {
		l.log.Logf(gclog.Phases, "thread %d acquired lock %d %s", owner, l.id, l.name)
	}
	return int(ticket)
}

// Check records a progress checkpoint for the current owner. A caller
// that does not hold the lock is a fatal consistency failure.
func (l *Lock) Check(owner, where int) {
	if cur := l.Owner(); cur != owner {
		gcerr.Fail(gcerr.Consistency("LOCK_NOT_OWNER",
			"thread %d checked lock %s held by %d", owner, l.name, cur))
	}
	held := time.Duration(nanotime() - l.start.Load())
	if held > l.slow || l.log.V(gclog.Phases) {
		l.log.Warnf("GC Warning: thread %d reached point %d while holding lock %d %s at %d ms",
			owner, where, l.id, l.name, held.Milliseconds())
	}
	l.where.Store(int32(where))
}

// Release hands the lock to the next ticket.
func (l *Lock) Release() {
	now := nanotime()
	held := time.Duration(now - l.start.Load())
	if held > l.slow || l.log.V(gclog.Phases) {
		l.log.Warnf("GC Warning: thread %d released lock %d %s after %d ms",
			l.Owner(), l.id, l.name, held.Milliseconds())
	}
	serving := l.serving.Load()
	l.history[serving%HistorySize].end.Store(now)
	l.owner.Store(NoOwner)
	l.where.Store(NoCheckpoint)
	l.start.Store(0)
	l.serving.Add(1)
}

// Dispensed returns the next ticket to be handed out.
func (l *Lock) Dispensed() int { return int(l.dispenser.Load()) }

// Serving returns the ticket currently being served.
func (l *Lock) Serving() int { return int(l.serving.Load()) }

// Owner returns the current owner or NoOwner.
func (l *Lock) Owner() int { return int(l.owner.Load()) }

// Where returns the owner's last checkpoint or NoCheckpoint.
func (l *Lock) Where() int { return int(l.where.Load()) }

// Record is one service event from the history ring.
type Record struct {
	Serving    int
	Owner      int
	Start, End time.Duration
}

// History returns up to n service records preceding the ticket currently
// being served, oldest first.
func (l *Lock) History(n int) []Record {
	serving := int(l.serving.Load())
	n = min(n, HistorySize, serving)
	out := make([]Record, 0, n)
	for t := serving - n; t < serving; t++ {
		r := &l.history[t%HistorySize]
		out = append(out, Record{
			Serving: int(r.serving.Load()),
			Owner:   int(r.owner.Load()),
			Start:   time.Duration(r.start.Load()),
			End:     time.Duration(r.end.Load()),
		})
	}
	return out
}

func (l *Lock) reportSlow(owner int, ticket int32, localStart, now int64) {
	var b strings.Builder
	fmt.Fprintf(&b, "GC Warning: slow/deadlock - thread %d with ticket %d failed to acquire lock %d (%s) serving %d after %d ms\n",
		owner, ticket, l.id, l.name, l.serving.Load(), time.Duration(now-localStart).Milliseconds())
	if cur := l.Owner(); cur == NoOwner {
		b.WriteString("GC Warning: locking thread unknown\n")
	} else {
		fmt.Fprintf(&b, "GC Warning: locking thread %d at position %d\n", cur, l.Where())
	}
	for _, r := range l.History(reportEntries) {
		fmt.Fprintf(&b, "GC Warning: index %d tid %d start=%d end=%d start-myStart=%d ms\n",
			r.Serving, r.Owner, r.Start, r.End, time.Duration(int64(r.Start)-localStart).Milliseconds())
	}
	l.log.Warn(strings.TrimRight(b.String(), "\n"))
}
