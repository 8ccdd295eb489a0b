// Package space manages the heap's address ranges and their page budgets.
//
// Each Space owns a fixed range of the virtual address space, a
// MemoryResource counting the pages it has reserved and committed, and a
// VMResource handing out page runs inside the range. All spaces of a heap
// share one Accountant, which serializes page acquisition and asks the
// plan (through Poller) whether a collection is due before any page is
// committed.
package space

import (
	"sync/atomic"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/vm"
)

// Poller is the plan's collection trigger policy.
type Poller interface {
	// Poll decides whether a collection must run before s commits the
	// pages it has just reserved (s.Reserved() - s.Committed()). It must
	// not block: triggering is left to the caller.
	Poll(mustCollect bool, s *Space) bool
}

// MemoryResource counts the pages of one space. Reserved includes pages of
// a pending acquisition; committed counts pages handed out. Reserved never
// drops below committed.
type MemoryResource struct {
	reserved  atomic.Int64
	committed atomic.Int64
	sincePoll int
	pollPages int
}

// Reserved returns the reserved page count.
func (m *MemoryResource) Reserved() int { return int(m.reserved.Load()) }

// Committed returns the committed page count.
func (m *MemoryResource) Committed() int { return int(m.committed.Load()) }

// Release returns pages to the budget.
func (m *MemoryResource) Release(pages int) {
	m.committed.Add(int64(-pages))
	m.reserved.Add(int64(-pages))
	if gcerr.VerifyAssertions {
		gcerr.Assert(m.committed.Load() >= 0, "memory resource released below zero")
	}
}

// Reset forgets every page, as when a copied-from space is recycled.
func (m *MemoryResource) Reset() {
	m.committed.Store(0)
	m.reserved.Store(0)
	m.sincePoll = 0
}

// Accountant holds the heap-wide page budget.
type Accountant struct {
	budget int
	lock   *lock.Lock
	spaces []*Space

	poller     Poller
	collection vm.Collection
}

// NewAccountant creates an accountant for a budget of pages. l serializes
// acquisitions; it must not be shared with other users.
func NewAccountant(budgetPages int, l *lock.Lock) *Accountant {
	return &Accountant{budget: budgetPages, lock: l}
}

// Bind attaches the plan and host. Spaces are created before the plan, so
// binding is a separate step.
func (a *Accountant) Bind(p Poller, c vm.Collection) {
	a.poller = p
	a.collection = c
}

// BudgetPages returns the heap budget.
func (a *Accountant) BudgetPages() int { return a.budget }

// Spaces returns every space registered with a, in creation order.
func (a *Accountant) Spaces() []*Space { return a.spaces }

// ReservedPages sums reserved pages over all spaces.
func (a *Accountant) ReservedPages() int {
	n := 0
	for _, s := range a.spaces {
		n += s.mr.Reserved()
	}
	return n
}

// CommittedPages sums committed pages over all spaces.
func (a *Accountant) CommittedPages() int {
	n := 0
	for _, s := range a.spaces {
		n += s.mr.Committed()
	}
	return n
}

// acquire reserves pages for s and takes them from its VM resource
// unless the plan asks for a collection first. On refusal it returns the
// zero address after triggering the collection, which has completed by
// the time acquire returns.
func (a *Accountant) acquire(owner int, s *Space, pages int) heap.Address {
	m := &s.mr
	a.lock.Acquire(owner)
	m.reserved.Add(int64(pages))
	m.sincePoll += pages
	collect := false
	if a.poller != nil && (m.sincePoll >= m.pollPages || a.ReservedPages() > a.budget) {
		m.sincePoll = 0
		collect = a.poller.Poll(false, s)
	}
	var start heap.Address
	if !collect {
		start = s.vmr.Acquire(pages)
		if start.IsZero() {
			// Out of address range with budget to spare: only a full
			// collection can help.
			collect = a.poller != nil && a.poller.Poll(true, s)
		}
	}
	if start.IsZero() {
		m.reserved.Add(int64(-pages))
	} else {
		m.committed.Add(int64(pages))
	}
	a.lock.Release()

	if collect {
		a.collection.TriggerCollection(vm.ResourceExhausted)
	}
	return start
}

func (a *Accountant) release(owner int, s *Space, start heap.Address, pages int) {
	a.lock.Acquire(owner)
	s.vmr.ReleasePages(start, pages)
	a.lock.Release()
	s.mr.Release(pages)
}
