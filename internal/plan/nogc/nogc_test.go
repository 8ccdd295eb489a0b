package nogc_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/nogc"
	"github.com/orizon-lang/gckit/internal/simvm"
)

func setup(t *testing.T, opts ...options.Option) (*nogc.Plan, *simvm.VM, *simvm.Thread) {
	t.Helper()
	o := options.New(append([]options.Option{
		options.WithPlan(options.NoGC),
		options.WithHeapSize(4 << 20),
		options.WithCollectors(0),
	}, opts...)...)
	p, err := nogc.New(o, gclog.Discard())
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

// fatal runs fn and returns the error it failed with.
func fatal(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer gcerr.SetHandler(gcerr.PanicHandler)()
	defer gcerr.SetOutput(io.Discard)()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fatal error")
		var ok bool
		err, ok = r.(error)
		require.True(t, ok, "panic value %v", r)
	}()
	fn()
	return nil
}

func TestAllocation(t *testing.T) {
	p, v, th := setup(t)
	t.Run("objects are never moved", func(t *testing.T) {
		a := th.Push(th.Alloc(1, 16))
		b := th.Alloc(0, 16)
		th.Store(th.Root(a), 0, b)
		assert.Equal(t, b, th.Load(th.Root(a), 0))
		assert.True(t, p.WillNotMove(b))
		assert.True(t, p.IsLive(b))
		assert.Equal(t, b, p.ForwardedReference(b))
		assert.Same(t, p.Base().Space(nogc.DefaultSpaceName), p.Base().SpaceMap().SpaceOf(v.RefToAddress(b)))
	})
	t.Run("large requests share the default space", func(t *testing.T) {
		assert.Nil(t, p.Base().LOS())
		big := th.AllocWith(0, 64<<10, plan.LOS)
		assert.Same(t, p.Base().Space(nogc.DefaultSpaceName), p.Base().SpaceMap().SpaceOf(v.RefToAddress(big)))
	})
	t.Run("immortal", func(t *testing.T) {
		ref := th.AllocWith(0, 8, plan.Immortal)
		assert.Same(t, p.Base().Immortal().Space(), p.Base().SpaceMap().SpaceOf(v.RefToAddress(ref)))
	})
}

func TestExhaustionIsFatal(t *testing.T) {
	p, _, th := setup(t)
	err := fatal(t, func() {
		for i := 0; i < 1000; i++ {
			th.Alloc(0, 64<<10)
		}
	})
	assert.True(t, errors.Is(err, gcerr.ErrOutOfMemory), "%v", err)
	assert.Zero(t, p.Base().Collections())
}

func TestSystemCollection(t *testing.T) {
	t.Run("fatal", func(t *testing.T) {
		_, _, th := setup(t)
		err := fatal(t, th.Collect)
		var ge *gcerr.Error
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, "NOGC_COLLECTION", ge.Code)
		assert.Contains(t, ge.Error(), "ignoreSystemGC")
	})
	t.Run("ignored", func(t *testing.T) {
		p, _, th := setup(t, options.WithIgnoreSystemGC(true))
		th.Collect()
		th.Collect()
		assert.Zero(t, p.Base().Collections())
	})
}
