package simvm

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/gencopy"
	"github.com/orizon-lang/gckit/internal/plan/genms"
	"github.com/orizon-lang/gckit/internal/plan/nogc"
)

func newVM(t *testing.T, p plan.Plan, cfg Config) *VM {
	t.Helper()
	v, err := New(p, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func newThread(t *testing.T, v *VM) *Thread {
	t.Helper()
	th, err := v.NewThread()
	require.NoError(t, err)
	return th
}

func heapOptions(kind options.PlanKind, extra ...options.Option) options.Options {
	return options.New(append([]options.Option{
		options.WithPlan(kind),
		options.WithHeapSize(4 << 20),
	}, extra...)...)
}

func TestRoots(t *testing.T) {
	p, err := nogc.New(heapOptions(options.NoGC), gclog.Discard())
	require.NoError(t, err)
	v := newVM(t, p, Config{Globals: 4, StackSlots: 16})
	th := newThread(t, v)
	defer th.Exit()

	a := th.Alloc(1, 8)
	b := th.Alloc(0, 8)
	assert.Equal(t, 0, th.Push(a))
	assert.Equal(t, 1, th.Push(b))
	v.SetGlobal(3, b)

	var stack, globals []heap.ObjectReference
	v.EnumerateRoots(th.ID(), func(slot heap.Address) {
		stack = append(stack, v.mem.LoadReference(slot))
	})
	v.EnumerateGlobalRoots(func(slot heap.Address) {
		globals = append(globals, v.mem.LoadReference(slot))
	})
	assert.Equal(t, []heap.ObjectReference{a, b}, stack)
	assert.Equal(t, []heap.ObjectReference{0, 0, 0, b}, globals)
	assert.Equal(t, b, v.Global(3))

	th.Store(th.Root(0), 0, th.Root(1))
	assert.Equal(t, b, th.Load(a, 0))

	assert.Equal(t, b, th.Pop())
	assert.Equal(t, 1, th.Depth())
	th.Truncate(0)
	assert.Panics(t, func() { th.Pop() })
	assert.Panics(t, func() { v.SetGlobal(4, a) })
}

func TestStackOverflow(t *testing.T) {
	p, err := nogc.New(heapOptions(options.NoGC), gclog.Discard())
	require.NoError(t, err)
	v := newVM(t, p, Config{StackSlots: 2})
	th := newThread(t, v)
	defer th.Exit()
	th.Push(heap.Null)
	th.Push(heap.Null)
	assert.Panics(t, func() { th.Push(heap.Null) })
}

func TestHostRegionTooSmall(t *testing.T) {
	p, err := nogc.New(heapOptions(options.NoGC), gclog.Discard())
	require.NoError(t, err)
	defer p.Base().Close()
	_, err = New(p, Config{StackSlots: plan.HostExtent / heap.BytesInWord})
	assert.True(t, errors.Is(err, gcerr.ErrConfig))
}

// Every mutator keeps a linked list rooted in its stack while all of them
// allocate garbage; the lists must survive every collection intact.
func TestConcurrentMutators(t *testing.T) {
	for _, tc := range []struct {
		name string
		make func(options.Options, *gclog.Logger) (plan.Plan, error)
		kind options.PlanKind
	}{
		{"gencopy", func(o options.Options, l *gclog.Logger) (plan.Plan, error) { return gencopy.New(o, l) }, options.GenCopy},
		{"genms", func(o options.Options, l *gclog.Logger) (plan.Plan, error) { return genms.New(o, l) }, options.GenMS},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const mutators, length, garbage = 4, 50, 2000
			p, err := tc.make(heapOptions(tc.kind,
				options.WithNurserySize(64<<10), options.WithCollectors(1)), gclog.Discard())
			require.NoError(t, err)
			v := newVM(t, p, Config{})
			assert.Equal(t, 1, v.Threads())

			var wg sync.WaitGroup
			for m := 0; m < mutators; m++ {
				th := newThread(t, v)
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer th.Exit()
					head := th.Push(heap.Null)
					for i := 0; i < length; i++ {
						n := th.AllocPush(1, 8)
						th.Store(th.Root(n), 0, th.Root(head))
						th.SetRoot(head, th.Pop())
					}
					for i := 0; i < garbage; i++ {
						th.Alloc(2, 64)
						if i%100 == 0 {
							th.Safepoint()
						}
					}
					n := 0
					for ref := th.Root(head); !ref.IsNull(); ref = th.Load(ref, 0) {
						n++
					}
					assert.Equal(t, length, n)
				}()
			}
			wg.Wait()
			assert.Positive(t, p.Base().Collections())
		})
	}
}

func TestParkedThreadDoesNotBlockCollection(t *testing.T) {
	p, err := genms.New(heapOptions(options.GenMS), gclog.Discard())
	require.NoError(t, err)
	v := newVM(t, p, Config{})
	a, b := newThread(t, v), newThread(t, v)
	defer a.Exit()
	defer b.Exit()

	b.Park()
	a.Collect()
	assert.Equal(t, 1, p.Base().Collections())
	b.Unpark()
}

func TestCollectorPanicPoisonsVM(t *testing.T) {
	defer gcerr.SetHandler(gcerr.PanicHandler)()
	defer gcerr.SetOutput(io.Discard)()
	p, err := nogc.New(heapOptions(options.NoGC, options.WithCollectors(2)), gclog.Discard())
	require.NoError(t, err)
	defer p.Base().Close()
	v, err := New(p, Config{})
	require.NoError(t, err)
	th := newThread(t, v)
	assert.Equal(t, 3, v.Threads())

	check := func(r any) {
		err, ok := r.(error)
		require.True(t, ok, "panic value %v", r)
		var ge *gcerr.Error
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, "NOGC_COLLECTION", ge.Code)
	}
	func() {
		defer func() { check(recover()) }()
		th.Collect()
	}()
	func() {
		defer func() { check(recover()) }()
		th.Collect()
	}()
}

func TestCensus(t *testing.T) {
	p, err := gencopy.New(heapOptions(options.GenCopy), gclog.Discard())
	require.NoError(t, err)
	v := newVM(t, p, Config{})
	th := newThread(t, v)
	defer th.Exit()

	root := th.AllocPush(3, 0)
	for i := 0; i < 3; i++ {
		child := th.Alloc(0, 32)
		th.Store(th.Root(root), i, child)
	}
	th.Alloc(0, 32)
	big := th.AllocWith(0, 32<<10, plan.LOS)
	v.SetGlobal(0, big)

	c := th.Census(0)
	assert.Equal(t, 5, c.Objects())
	nursery, ok := c.Space("nursery")
	require.True(t, ok)
	assert.Equal(t, 4, nursery.Objects)
	require.Len(t, nursery.Tiles, 1)
	assert.Equal(t, 4, nursery.Tiles[0].Objects)
	los, ok := c.Space("los")
	require.True(t, ok)
	assert.Equal(t, 1, los.Objects)

	th.Collect()
	c = th.Census(0)
	assert.Equal(t, 5, c.Objects())
	nursery, _ = c.Space("nursery")
	assert.Zero(t, nursery.Objects)

	var out bytes.Buffer
	_, err = c.WriteTo(&out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "los")
}
