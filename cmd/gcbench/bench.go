package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/gckit/internal/cli"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/simvm"
)

// A workload runs one mutator. It keeps at most b.live objects rooted.
type workload func(ctx context.Context, b *bench, th *simvm.Thread) error

var workloads = map[string]workload{
	"alloc":      allocWorkload,
	"cycle":      cycleWorkload,
	"largealloc": largeAllocWorkload,
}

// Mutators check for cancellation this often.
const checkEvery = 1024

type bench struct {
	opts       options.Options
	log        *gclog.Logger
	workload   workload
	name       string
	mutators   int
	iterations int
	live       int
}

type result struct {
	Plan        string             `json:"plan"`
	Workload    string             `json:"workload"`
	Mutators    int                `json:"mutators"`
	Iterations  int                `json:"iterations"`
	Elapsed     time.Duration      `json:"elapsed_ns"`
	Collections int                `json:"collections"`
	Usage       string             `json:"usage"`
	Stats       map[string]float64 `json:"stats"`
	Census      *simvm.Census      `json:"-"`
	Start       time.Time          `json:"start"`
}

// run creates the plan and VM, calls setup once the VM exists, and runs
// every mutator to completion.
func (b *bench) run(ctx context.Context, setup func(v *simvm.VM) (func(), error), census bool) (*result, error) {
	if b.mutators < 1 || b.iterations < 0 || b.live < 1 {
		return nil, fmt.Errorf("need at least one mutator and one live slot")
	}
	p, err := cli.NewPlan(b.opts, b.log)
	if err != nil {
		return nil, err
	}
	v, err := simvm.New(p, simvm.Config{StackSlots: b.live + 16})
	if err != nil {
		_ = p.Base().Close()
		return nil, err
	}
	defer v.Close()
	cleanup, err := setup(v)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res := &result{
		Plan:       p.Name(),
		Workload:   b.name,
		Mutators:   b.mutators,
		Iterations: b.iterations,
		Start:      time.Now(),
	}
	g, gctx := errgroup.WithContext(ctx)
	for m := 0; m < b.mutators; m++ {
		th, err := v.NewThread()
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error {
			defer th.Exit()
			return b.workload(gctx, b, th)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(res.Start)

	if census {
		th, err := v.NewThread()
		if err != nil {
			return nil, err
		}
		res.Census = th.Census(0)
		th.Exit()
	}
	base := p.Base()
	res.Collections = base.Collections()
	res.Usage = base.Usage()
	res.Stats = base.Stats().Snapshot()
	if base.Accountant().ReservedPages() > base.TotalPages() {
		return res, fmt.Errorf("heap overcommitted after the run: %s", res.Usage)
	}
	return res, nil
}

func (r *result) print(w io.Writer) {
	fmt.Fprintf(w, "%s/%s: %d mutators x %d iterations in %v, %d collections\n",
		r.Plan, r.Workload, r.Mutators, r.Iterations, r.Elapsed.Round(time.Microsecond), r.Collections)
	fmt.Fprintf(w, "%s\n", r.Usage)
	keys := make([]string, 0, len(r.Stats))
	for k := range r.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-22s %g\n", k, r.Stats[k])
	}
	if r.Census != nil {
		_, _ = r.Census.WriteTo(w)
	}
}

// window roots b.live slots on th's stack and returns the index of the
// first one.
func (b *bench) window(th *simvm.Thread) int {
	first := th.Depth()
	for i := 0; i < b.live; i++ {
		th.Push(heap.Null)
	}
	return first
}

// allocWorkload allocates objects of varying size. Each replaces a window
// slot and points at the next slot's object, so most objects die young.
func allocWorkload(ctx context.Context, b *bench, th *simvm.Thread) error {
	first := b.window(th)
	for i := 0; i < b.iterations; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		slot := first + i%b.live
		ref := th.Alloc(2, heap.Extent(16+(i*37)%240))
		th.Store(ref, 0, th.Root(first+(i+1)%b.live))
		th.SetRoot(slot, ref)
		if i%64 == 0 {
			th.Safepoint()
		}
	}
	return nil
}

// cycleWorkload builds two-object cycles that become garbage once their
// window slot is reused.
func cycleWorkload(ctx context.Context, b *bench, th *simvm.Thread) error {
	first := b.window(th)
	for i := 0; i < b.iterations; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		x := th.AllocPush(1, 16)
		y := th.Alloc(1, 16)
		th.Store(y, 0, th.Root(x))
		th.Store(th.Root(x), 0, y)
		th.SetRoot(first+i%b.live, th.Pop())
	}
	return nil
}

// largeAllocWorkload allocates large objects, keeping only a few alive.
// Completing without running out of memory shows that the pages of dead
// large objects are given back.
func largeAllocWorkload(ctx context.Context, b *bench, th *simvm.Thread) error {
	keep := min(b.live, 4)
	first := th.Depth()
	for i := 0; i < keep; i++ {
		th.Push(heap.Null)
	}
	bytes := 2 * b.opts.LOSThreshold
	for i := 0; i < b.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		th.SetRoot(first+i%keep, th.AllocWith(0, bytes, plan.LOS))
	}
	return nil
}
