package deque

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	q := newRing[int](3)
	assert.Len(t, q.cells, 4)
	for i := 0; i < 4; i++ {
		require.True(t, q.put(i))
	}
	assert.False(t, q.put(4), "ring is full")
	assert.Equal(t, 4, q.size())
	for i := 0; i < 4; i++ {
		v, ok := q.get()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.get()
	assert.False(t, ok)
}

func TestRingConcurrent(t *testing.T) {
	q := newRing[int](1024)
	const producers, perProducer = 4, 5000
	var sum, count atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.put(p*perProducer + i) {
				}
			}
		}(p)
	}
	done := make(chan struct{})
	var cwg sync.WaitGroup
	for c := 0; c < 4; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				if v, ok := q.get(); ok {
					sum.Add(int64(v))
					count.Add(1)
					continue
				}
				select {
				case <-done:
					if q.size() == 0 {
						return
					}
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	cwg.Wait()
	n := int64(producers * perProducer)
	assert.Equal(t, n, count.Load())
	assert.Equal(t, n*(n-1)/2, sum.Load())
}

func TestLocalOverflowStaysLocal(t *testing.T) {
	pool := NewPool[int](2)
	l := NewLocal(pool)
	const n = 5*BufferEntries + 3
	for i := 0; i < n; i++ {
		l.Push(i)
	}
	assert.Equal(t, 2, pool.Buffers(), "pool holds what fits")
	assert.Equal(t, n-2*BufferEntries, l.Len())

	seen := make(map[int]bool)
	for {
		v, ok := l.Next()
		if !ok {
			break
		}
		assert.False(t, seen[v])
		seen[v] = true
	}
	assert.Len(t, seen, n)
	assert.True(t, pool.Empty())
}

func TestFlushAndSteal(t *testing.T) {
	pool := NewPool[int](0)
	a, b := NewLocal(pool), NewLocal(pool)
	for i := 0; i < 10; i++ {
		a.Push(i)
	}
	a.Flush()
	assert.True(t, a.IsEmpty())
	require.True(t, b.Steal())
	assert.Equal(t, 10, b.Len())
	assert.Equal(t, 1, b.Stolen())
}

// A parallel closure over an implicit binary tree: node i has children
// 2i+1 and 2i+2. Every node must be visited exactly once and every worker
// must agree on termination.
func TestParallelClosureTerminates(t *testing.T) {
	const workers, nodes = 4, 100000
	pool := NewPool[int](0)
	pool.Reset(workers)
	var visited [nodes]atomic.Int32

	root := NewLocal(pool)
	root.Push(0)
	root.Flush()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewLocal(pool)
			for {
				for v, ok := l.Next(); ok; v, ok = l.Next() {
					visited[v].Add(1)
					for _, c := range []int{2*v + 1, 2*v + 2} {
						if c < nodes {
							l.Push(c)
						}
					}
				}
				if !l.Await() {
					return
				}
			}
		}()
	}
	wg.Wait()
	for i := range visited {
		if visited[i].Load() != 1 {
			t.Fatalf("node %d visited %d times", i, visited[i].Load())
		}
	}
}

func TestLeaveReleasesTermination(t *testing.T) {
	pool := NewPool[int](0)
	pool.Reset(2)
	gone := NewLocal(pool)
	gone.Push(7)
	gone.Leave()

	l := NewLocal(pool)
	assert.False(t, l.Await(), "the remaining worker terminates alone")
	assert.Equal(t, 1, gone.Len(), "values stay with the worker that left")
}
