package gencopy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/gencopy"
	"github.com/orizon-lang/gckit/internal/plan/generational"
	"github.com/orizon-lang/gckit/internal/simvm"
	"github.com/orizon-lang/gckit/internal/space"
)

func setup(t *testing.T, opts ...options.Option) (*generational.Plan, *simvm.VM, *simvm.Thread) {
	t.Helper()
	o := options.New(append([]options.Option{
		options.WithPlan(options.GenCopy),
		options.WithHeapSize(4 << 20),
		options.WithCollectors(1),
	}, opts...)...)
	p, err := gencopy.New(o, gclog.Discard())
	require.NoError(t, err)
	v, err := simvm.New(p, simvm.Config{})
	require.NoError(t, err)
	th, err := v.NewThread()
	require.NoError(t, err)
	t.Cleanup(func() {
		th.Exit()
		_ = v.Close()
	})
	return p, v, th
}

func spaceOf(p *generational.Plan, v *simvm.VM, ref heap.ObjectReference) *space.Space {
	return p.Base().SpaceMap().SpaceOf(v.RefToAddress(ref))
}

func counter(p *generational.Plan, name string) int64 {
	return p.Base().Stats().Counter(name).Get()
}

func TestNurseryOverflow(t *testing.T) {
	p, v, th := setup(t, options.WithNurserySize(heap.BytesInPage))
	lo := p.Base().Space(gencopy.LowSpaceName)
	for i := 0; i < 15; i++ {
		ref := th.Alloc(0, 384)
		if i%2 == 0 {
			th.Push(ref)
		}
	}
	assert.EqualValues(t, 1, counter(p, "gc.minor"))
	assert.LessOrEqual(t, counter(p, "copy.objects"), int64(5))
	assert.Zero(t, counter(p, "barrier.slow"))
	for i := 0; i < 5; i++ {
		assert.Same(t, lo, spaceOf(p, v, th.Root(i)), "root %d", i)
	}
	for i := 5; i < th.Depth(); i++ {
		assert.Same(t, p.Base().Space(generational.NurserySpaceName), spaceOf(p, v, th.Root(i)), "root %d", i)
	}
}

// A full-heap collection evacuates the current semispace; the structure
// reachable from the roots, shared references included, survives intact.
func TestMajorCollectionFlipsSemispaces(t *testing.T) {
	p, v, th := setup(t, options.WithFullHeapSystemGC(true))
	lo := p.Base().Space(gencopy.LowSpaceName)
	hi := p.Base().Space(gencopy.HighSpaceName)

	a := th.Push(th.AllocWith(2, 0, plan.Mature))
	shared := th.AllocWith(0, 8, plan.Mature)
	v.Memory().StoreWord(v.Payload(shared), 99)
	th.Store(th.Root(a), 0, shared)
	th.Store(th.Root(a), 1, shared)
	for i := 0; i < 50; i++ {
		th.AllocWith(0, 64, plan.Mature)
	}
	require.Same(t, lo, spaceOf(p, v, th.Root(a)))

	th.Collect()
	assert.True(t, p.Major())
	root := th.Root(a)
	assert.Same(t, hi, spaceOf(p, v, root))
	first, second := th.Load(root, 0), th.Load(root, 1)
	assert.Equal(t, first, second)
	assert.Same(t, hi, spaceOf(p, v, first))
	assert.EqualValues(t, 99, v.Memory().LoadWord(v.Payload(first)))
	assert.EqualValues(t, 2, counter(p, "copy.objects"))
	assert.Zero(t, lo.Reserved())

	th.Collect()
	assert.Same(t, lo, spaceOf(p, v, th.Root(a)))
	assert.EqualValues(t, 2, counter(p, "gc.major"))
}

func TestArrayCopyRemembersYoungReferences(t *testing.T) {
	p, v, th := setup(t)
	old := th.Push(th.AllocWith(4, 0, plan.Mature))
	young := th.Push(th.Alloc(4, 0))
	for i := 0; i < 4; i++ {
		child := th.Alloc(0, 8)
		v.Memory().StoreWord(v.Payload(child), uint64(i))
		th.Store(th.Root(young), i, child)
	}
	assert.Zero(t, counter(p, "barrier.slow"))
	th.ArrayCopy(th.Root(young), 0, th.Root(old), 0, 4)
	assert.EqualValues(t, 4, counter(p, "barrier.slow"))
	th.Pop()

	th.Collect()
	for i := 0; i < 4; i++ {
		child := th.Load(th.Root(old), i)
		assert.Less(t, v.RefToAddress(child), p.NurseryStart)
		assert.EqualValues(t, i, v.Memory().LoadWord(v.Payload(child)))
	}
}
