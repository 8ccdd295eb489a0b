package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/deque"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
	"github.com/orizon-lang/gckit/internal/policy"
	"github.com/orizon-lang/gckit/internal/simvm/object"
	"github.com/orizon-lang/gckit/internal/space"
)

// copyTracer evacuates objects of from into to and leaves others alone.
type copyTracer struct {
	cs *policy.CopySpace
	bp *alloc.BumpPointer
}

func (c *copyTracer) TraceObject(t *Local, ref heap.ObjectReference) heap.ObjectReference {
	if c.cs.Space().Contains(heap.Address(ref)) {
		return c.cs.TraceObject(t, c, ref)
	}
	return ref
}

func (c *copyTracer) AllocCopy(_ heap.ObjectReference, bytes heap.Extent) heap.Address {
	return c.bp.Alloc(bytes, heap.MinAlignment, 0)
}

func (c *copyTracer) PostCopy(heap.ObjectReference, heap.Extent) {}

type world struct {
	om       *object.Model
	from, to *space.Space
	roots    *space.Space
	fromBP   *alloc.BumpPointer
}

func newWorld(t *testing.T) *world {
	t.Helper()
	l := heap.NewLayout(heap.DefaultBase)
	rr := l.Carve("roots", heap.BytesInChunk)
	rf := l.Carve("from", 4*heap.BytesInChunk)
	rt := l.Carve("to", 4*heap.BytesInChunk)
	mem, err := l.Map()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	acct := space.NewAccountant(1<<16, lock.New("acct"))
	w := &world{
		om:    object.New(mem),
		roots: space.New(acct, mem, space.Config{Name: "roots", Region: rr}),
		from:  space.New(acct, mem, space.Config{Name: "from", Region: rf, Movable: true}),
		to:    space.New(acct, mem, space.Config{Name: "to", Region: rt, Movable: true}),
	}
	w.fromBP = alloc.NewBumpPointer(0, w.from)
	return w
}

// tree builds a complete binary tree of the given depth; payloads number
// the nodes.
func (w *world) tree(t *testing.T, depth int, next *uint64) heap.ObjectReference {
	bytes := object.BytesFor(2, heap.BytesInWord)
	a := w.fromBP.Alloc(bytes, heap.MinAlignment, 0)
	require.NotZero(t, a)
	ref := w.om.Initialize(a, 2, bytes)
	*next++
	w.om.Memory().StoreWord(w.om.Payload(ref), *next)
	if depth > 1 {
		w.om.Memory().StoreReference(w.om.Slot(ref, 0), w.tree(t, depth-1, next))
		w.om.Memory().StoreReference(w.om.Slot(ref, 1), w.tree(t, depth-1, next))
	}
	return ref
}

// reach visits every object reachable from objs once.
func (w *world) reach(objs []heap.ObjectReference, visit func(heap.ObjectReference)) {
	seen := map[heap.ObjectReference]bool{}
	var walk func(heap.ObjectReference)
	walk = func(r heap.ObjectReference) {
		if r.IsNull() || seen[r] {
			return
		}
		seen[r] = true
		visit(r)
		w.om.Scan(r, func(slot heap.Address) { walk(w.om.Memory().LoadReference(slot)) })
	}
	for _, r := range objs {
		walk(r)
	}
}

func TestParallelCopyingClosure(t *testing.T) {
	const (
		workers = 4
		depth   = 11
		trees   = 8
	)
	w := newWorld(t)
	rootBP := alloc.NewBumpPointer(0, w.roots)
	rootBytes := object.BytesFor(trees, 0)
	rootsObj := w.om.Initialize(rootBP.Alloc(rootBytes, heap.MinAlignment, 0), trees, rootBytes)
	var next uint64
	for i := 0; i < trees; i++ {
		w.om.Memory().StoreReference(w.om.Slot(rootsObj, i), w.tree(t, depth, &next))
	}
	// Share one subtree between two roots.
	w.om.Memory().StoreReference(w.om.Slot(w.om.Load(rootsObj, 1), 0), w.om.Load(rootsObj, 0))

	cs := policy.NewCopySpace(w.from, w.om)
	objects := deque.NewPool[heap.ObjectReference](0)
	slots := deque.NewPool[heap.Address](0)
	objects.Reset(workers)

	var wg sync.WaitGroup
	scanned := make([]int, workers)
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := &copyTracer{cs: cs, bp: alloc.NewBumpPointer(id, w.to)}
			local := NewLocal(w.om, tr, objects, slots)
			for i := id; i < trees; i += workers {
				local.ProcessEdge(w.om.Slot(rootsObj, i))
			}
			local.CompleteTrace()
			scanned[id] = local.Scanned()
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range scanned {
		total += n
	}
	payloads := map[uint64]bool{}
	var roots []heap.ObjectReference
	for i := 0; i < trees; i++ {
		roots = append(roots, w.om.Load(rootsObj, i))
	}
	w.reach(roots, func(r heap.ObjectReference) {
		assert.True(t, w.to.Contains(heap.Address(r)), "%s not evacuated", r)
		payloads[w.om.Memory().LoadWord(w.om.Payload(r))] = true
	})
	// Tree 1's left subtree was dropped in favour of tree 0.
	reachable := trees*(1<<depth-1) - (1<<(depth-1) - 1)
	assert.Len(t, payloads, reachable)
	assert.Equal(t, reachable, total)
	assert.True(t, objects.Empty())
}

func TestProcessSlots(t *testing.T) {
	w := newWorld(t)
	var next uint64
	root := w.tree(t, 3, &next)
	rootBP := alloc.NewBumpPointer(0, w.roots)
	holderBytes := object.BytesFor(1, 0)
	holder := w.om.Initialize(rootBP.Alloc(holderBytes, heap.MinAlignment, 0), 1, holderBytes)
	w.om.Memory().StoreReference(w.om.Slot(holder, 0), root)

	cs := policy.NewCopySpace(w.from, w.om)
	objects := deque.NewPool[heap.ObjectReference](0)
	slots := deque.NewPool[heap.Address](0)
	local := NewLocal(w.om, &copyTracer{cs: cs, bp: alloc.NewBumpPointer(0, w.to)}, objects, slots)
	local.Slots().Push(w.om.Slot(holder, 0))
	local.Slots().Flush()
	local.Slots().Reset()

	local.ProcessSlots()
	local.CompleteTrace()
	moved := w.om.Load(holder, 0)
	assert.True(t, w.to.Contains(heap.Address(moved)))
	assert.Equal(t, 7, local.Scanned())
	assert.Equal(t, 7, local.Edges())
	assert.Equal(t, heap.Null, local.TraceObject(heap.Null))

	local.Reset()
	assert.Zero(t, local.Scanned())
}
