package refcount_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/refcount"
	"github.com/orizon-lang/gckit/internal/simvm"
)

func setup(t *testing.T, log *gclog.Logger, opts ...options.Option) (*refcount.Plan, *simvm.VM, *simvm.Thread) {
	t.Helper()
	t.Cleanup(gcerr.SetHandler(gcerr.PanicHandler))
	t.Cleanup(gcerr.SetOutput(io.Discard))
	o := options.New(append([]options.Option{
		options.WithPlan(options.RC),
		options.WithHeapSize(4 << 20),
		options.WithCollectors(0),
		options.WithSanityTracing(true),
	}, opts...)...)
	if log == nil {
		log = gclog.Discard()
	}
	p, err := refcount.New(o, log)
	require.NoError(t, err)
	v, err := simvm.New(p, simvm.Config{Globals: 8})
	require.NoError(t, err)
	th, err := v.NewThread()
	require.NoError(t, err)
	t.Cleanup(func() {
		th.Exit()
		_ = v.Close()
	})
	return p, v, th
}

func count(t *testing.T, p *refcount.Plan, ref heap.ObjectReference) int {
	t.Helper()
	n, ok := p.Count(ref)
	require.True(t, ok, "%s is not counted", ref)
	return n
}

func counter(p *refcount.Plan, name string) int64 {
	return p.Base().Stats().Counter(name).Get()
}

func TestAcyclicGarbage(t *testing.T) {
	p, _, th := setup(t, nil)
	a := th.Push(th.Alloc(1, 8))
	b := th.Alloc(0, 8)
	th.Store(th.Root(a), 0, b)
	for i := 0; i < 10; i++ {
		th.Alloc(0, 32)
	}

	th.Collect()
	assert.Equal(t, 1, count(t, p, th.Root(a)))
	assert.Equal(t, 1, count(t, p, b))
	assert.EqualValues(t, 10, counter(p, "rc.freed"))
	assert.False(t, p.Deferred())

	th.Store(th.Root(a), 0, heap.Null)
	th.Collect()
	assert.False(t, p.IsLive(b))
	assert.True(t, p.IsLive(th.Root(a)))
	assert.EqualValues(t, 11, counter(p, "rc.freed"))

	th.Pop()
	th.Collect()
	assert.EqualValues(t, 12, counter(p, "rc.freed"))
	assert.Zero(t, counter(p, "rc.cycles.freed"))
}

func TestGlobalRoots(t *testing.T) {
	p, v, th := setup(t, nil)
	ref := th.Alloc(0, 8)
	v.SetGlobal(3, ref)
	for i := 0; i < 3; i++ {
		th.Collect()
		assert.Equal(t, 1, count(t, p, ref))
	}
	v.SetGlobal(3, heap.Null)
	th.Collect()
	assert.False(t, p.IsLive(ref))
}

func TestImmortalReferences(t *testing.T) {
	p, _, th := setup(t, nil)
	imm := th.AllocWith(1, 0, plan.Immortal)
	_, counted := p.Count(imm)
	assert.False(t, counted)

	child := th.Alloc(0, 8)
	th.Store(imm, 0, child)
	th.Collect()
	assert.Equal(t, 1, count(t, p, child))
	assert.True(t, p.IsLive(imm))
	th.Collect()
	assert.True(t, p.IsLive(child))
}

func TestCycles(t *testing.T) {
	build := func(th *simvm.Thread) (x, y heap.ObjectReference) {
		x = th.Alloc(1, 0)
		th.Push(x)
		y = th.Alloc(1, 0)
		th.Store(th.Root(0), 0, y)
		th.Store(y, 0, th.Root(0))
		return th.Root(0), y
	}

	t.Run("trial deletion reclaims", func(t *testing.T) {
		p, _, th := setup(t, nil)
		x, y := build(th)
		th.Collect()
		assert.Equal(t, 2, count(t, p, x))
		assert.Equal(t, 1, count(t, p, y))
		assert.Zero(t, counter(p, "rc.cycles.freed"))

		th.Pop()
		th.Collect()
		assert.False(t, p.IsLive(x))
		assert.False(t, p.IsLive(y))
		assert.EqualValues(t, 2, counter(p, "rc.cycles.freed"))
		assert.Zero(t, p.Purple())
	})

	t.Run("acyclic tail goes with its cycle", func(t *testing.T) {
		p, _, th := setup(t, nil)
		x := th.Push(th.Alloc(2, 0))
		y := th.Alloc(1, 0)
		th.Store(th.Root(x), 0, y)
		th.Store(y, 0, th.Root(x))
		z := th.Alloc(0, 0)
		th.Store(th.Root(x), 1, z)
		th.Collect()
		assert.Equal(t, 1, count(t, p, z))

		th.Pop()
		th.Collect()
		assert.False(t, p.IsLive(z))
		assert.EqualValues(t, 3, counter(p, "rc.cycles.freed"))
	})

	t.Run("externally referenced cycle survives", func(t *testing.T) {
		p, _, th := setup(t, nil)
		x, y := build(th)
		th.Collect()
		holder := th.Push(th.Alloc(1, 0))
		th.Store(th.Root(holder), 0, y)
		th.SetRoot(0, heap.Null)
		th.Collect()
		th.Collect()
		assert.True(t, p.IsLive(x))
		assert.True(t, p.IsLive(y))
		assert.Equal(t, 1, count(t, p, x))
		assert.Equal(t, 2, count(t, p, y))
		assert.Zero(t, counter(p, "rc.cycles.freed"))
	})

	t.Run("leaks without cycle detection", func(t *testing.T) {
		p, _, th := setup(t, nil, options.WithCycleDetection(false))
		x, y := build(th)
		th.Collect()
		th.Pop()
		th.Collect()
		th.Collect()
		assert.True(t, p.IsLive(x))
		assert.True(t, p.IsLive(y))
		assert.Equal(t, 1, count(t, p, x))
		assert.Zero(t, p.Purple())
	})
}

func TestCollectionPhases(t *testing.T) {
	p, _, _ := setup(t, nil)
	reg := p.Base().Phases()
	var names []string
	for _, id := range reg.Subphases(p.CollectionPhase()) {
		names = append(names, reg.Name(id))
	}
	assert.Equal(t, []string{
		"initiate", "prepare", "roots", "rc-incs", "rc-decs", "trial-deletion", "rc-sanity", "release",
	}, names)
}

func TestLargeObjects(t *testing.T) {
	p, v, th := setup(t, nil)
	keep := th.Push(th.Alloc(1, 0))
	big := th.Alloc(0, 32<<10)
	th.Store(th.Root(keep), 0, big)
	th.Alloc(0, 32<<10)
	require.NotNil(t, p.Base().LOS())
	assert.True(t, p.Base().LOS().Space().Contains(v.RefToAddress(big)))

	th.Collect()
	assert.Equal(t, 1, count(t, p, big))
	assert.Equal(t, 1, p.Base().LOS().Objects())

	th.Store(th.Root(keep), 0, heap.Null)
	th.Collect()
	assert.Zero(t, p.Base().LOS().Objects())
}

func TestDeferredDecrements(t *testing.T) {
	p, _, th := setup(t, nil,
		options.WithPauseTimeGoal(time.Nanosecond),
		options.WithDecQuanta(1))
	const garbage = 20
	for i := 0; i < garbage; i++ {
		th.Alloc(0, 8)
	}
	th.Collect()
	require.True(t, p.Deferred())
	for i := 0; i < 10*garbage && p.Deferred(); i++ {
		th.Collect()
	}
	assert.False(t, p.Deferred())
	assert.EqualValues(t, garbage, counter(p, "rc.freed"))
	assert.Positive(t, counter(p, "rc.decs.deferred"))
}

func TestSanityCatchesBadCount(t *testing.T) {
	_, v, th := setup(t, nil)
	a := th.Push(th.Alloc(1, 0))
	b := th.Push(th.Alloc(0, 0))
	th.Collect()
	// An unbarriered store leaves b's count behind the heap.
	v.Memory().StoreReference(v.Slot(th.Root(a), 0), th.Root(b))
	require.Panics(t, func() { th.Collect() })
}

func TestVerboseReport(t *testing.T) {
	var out bytes.Buffer
	_, _, th := setup(t, gclog.New(&out, gclog.Usage, false))
	th.Push(th.Alloc(0, 8))
	th.Collect()
	assert.Contains(t, out.String(), "1 roots")
	assert.Contains(t, out.String(), "purple>")
}
