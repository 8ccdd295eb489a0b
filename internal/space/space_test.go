package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/vm"
	"github.com/orizon-lang/gckit/internal/vm/vmmock"
)

// budgetPoller asks for a collection exactly when the pending reservation
// would push the heap past its budget.
type budgetPoller struct {
	a     *Accountant
	polls int
	// violations counts polls that saw the budget or the
	// reserved >= committed relation broken.
	violations int
}

func (p *budgetPoller) Poll(mustCollect bool, s *Space) bool {
	p.polls++
	if p.a.CommittedPages() > p.a.BudgetPages() || s.Reserved() < s.Committed() {
		p.violations++
	}
	return mustCollect || p.a.ReservedPages() > p.a.BudgetPages()
}

type fixture struct {
	mem  *heap.Memory
	acct *Accountant
	a, b *Space
}

func newFixture(t *testing.T, budget int, kind Kind) *fixture {
	t.Helper()
	l := heap.NewLayout(heap.DefaultBase)
	ra := l.Carve("a", heap.BytesInChunk)
	rb := l.Carve("b", heap.BytesInChunk)
	mem, err := l.Map()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	acct := NewAccountant(budget, lock.New("test"))
	return &fixture{
		mem:  mem,
		acct: acct,
		a:    New(acct, mem, Config{Name: "a", Region: ra, Kind: kind, PollFrequency: 1}),
		b:    New(acct, mem, Config{Name: "b", Region: rb, Kind: kind, PollFrequency: 1}),
	}
}

func TestBudgetPolledBeforeExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	coll := vmmock.NewMockCollection(ctrl)
	f := newFixture(t, 20, Monotone)
	p := &budgetPoller{a: f.acct}
	f.acct.Bind(p, coll)

	coll.EXPECT().TriggerCollection(vm.ResourceExhausted).Times(1)

	sizes := []int{3, 5, 1, 4, 2, 3, 2}
	for i, n := range sizes {
		s := f.a
		if i%2 == 1 {
			s = f.b
		}
		require.NotZero(t, s.Acquire(0, n), "allocation %d of %d pages", i, n)
		assert.GreaterOrEqual(t, s.Reserved(), s.Committed())
	}
	assert.Equal(t, 20, f.acct.CommittedPages())

	// The next page would exceed the budget: the poll must refuse it.
	assert.Zero(t, f.a.Acquire(0, 1))
	assert.Equal(t, 20, f.acct.ReservedPages())
	assert.Equal(t, 20, f.acct.CommittedPages())
	assert.Zero(t, p.violations)
	assert.Equal(t, len(sizes)+1, p.polls)
}

func TestPollFrequency(t *testing.T) {
	l := heap.NewLayout(heap.DefaultBase)
	r := l.Carve("s", heap.BytesInChunk)
	mem, err := l.Map()
	require.NoError(t, err)
	defer mem.Close()
	acct := NewAccountant(1000, lock.New("freq"))
	s := New(acct, mem, Config{Name: "s", Region: r, PollFrequency: 4})
	p := &budgetPoller{a: acct}
	acct.Bind(p, nil)

	for i := 0; i < 8; i++ {
		require.NotZero(t, s.Acquire(0, 1))
	}
	assert.Equal(t, 2, p.polls)
}

func TestMonotoneRecycle(t *testing.T) {
	f := newFixture(t, 1000, Monotone)
	first := f.a.Acquire(0, 2)
	require.Equal(t, f.a.Start(), first)
	f.mem.StoreWord(first, 99)
	second := f.a.Acquire(0, 1)
	assert.Equal(t, first.Plus(2*heap.BytesInPage), second)
	assert.True(t, f.a.VM().InUse(second))

	f.a.Reset()
	assert.Zero(t, f.a.Reserved())
	assert.False(t, f.a.VM().InUse(first))
	again := f.a.Acquire(0, 1)
	assert.Equal(t, first, again)
	assert.Zero(t, f.mem.LoadWord(again), "recycled pages are zeroed")
}

func TestFreeListRuns(t *testing.T) {
	f := newFixture(t, 1000, FreeList)
	fl := f.a.VM().(*FreeListVMResource)
	total := fl.FreePages()

	x := f.a.Acquire(0, 4)
	y := f.a.Acquire(0, 4)
	z := f.a.Acquire(0, 4)
	require.NotZero(t, z)
	assert.Equal(t, x.Plus(4*heap.BytesInPage), y)
	assert.Equal(t, 12, f.a.Committed())

	f.a.ReleasePages(0, y, 4)
	assert.Equal(t, 2, fl.Runs())
	assert.False(t, fl.InUse(y))
	assert.True(t, fl.InUse(x))

	// First fit reuses the hole.
	w := f.a.Acquire(0, 2)
	assert.Equal(t, y, w)

	f.a.ReleasePages(0, w, 2)
	f.a.ReleasePages(0, x, 4)
	f.a.ReleasePages(0, z, 4)
	assert.Equal(t, 1, fl.Runs(), "released runs coalesce")
	assert.Equal(t, total, fl.FreePages())
	assert.Zero(t, f.a.Committed())
}

func TestRangeExhaustionForcesCollection(t *testing.T) {
	ctrl := gomock.NewController(t)
	coll := vmmock.NewMockCollection(ctrl)
	f := newFixture(t, 10000, FreeList)
	p := &budgetPoller{a: f.acct}
	f.acct.Bind(p, coll)
	coll.EXPECT().TriggerCollection(vm.ResourceExhausted)

	require.NotZero(t, f.a.Acquire(0, heap.PagesInChunk))
	assert.Zero(t, f.a.Acquire(0, 1))
	assert.Equal(t, heap.PagesInChunk, f.a.Reserved())
}

func TestMap(t *testing.T) {
	f := newFixture(t, 10, Monotone)
	m := NewMap(f.acct)
	assert.Same(t, f.a, m.SpaceOf(f.a.Start()))
	assert.Same(t, f.b, m.SpaceOf(f.b.End().Minus(1)))
	assert.Nil(t, m.SpaceOf(f.b.End()))
	assert.Nil(t, m.SpaceOf(f.a.Start().Minus(1)))
	assert.Equal(t, 1, f.b.Index())
}

func TestSubspace(t *testing.T) {
	start := heap.DefaultBase
	s := NewSubspace(start, start.Plus(10*heap.BytesInPage), 4, 4*heap.BytesInPage)
	assert.Equal(t, 3, s.Tiles())
	assert.Equal(t, 4, s.Index(start))
	assert.Equal(t, 6, s.Index(start.Plus(9*heap.BytesInPage)))
	assert.Equal(t, start.Plus(4*heap.BytesInPage), s.Address(5))
	assert.True(t, s.IndexInRange(6))
	assert.False(t, s.IndexInRange(7))
	assert.Equal(t, heap.Extent(4*heap.BytesInPage-8), s.Remaining(start.Plus(8)))
}
