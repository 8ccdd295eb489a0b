package rendezvous

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArrivalOrder(t *testing.T) {
	const parties = 6
	b := New(parties)

	for round := 0; round < 3; round++ {
		orders := make([]int, parties)
		var wg sync.WaitGroup
		for i := 0; i < parties; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				orders[i] = b.Rendezvous(100 + round)
			}(i)
		}
		wg.Wait()
		sort.Ints(orders)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, orders, "round %d", round)
	}
}

func TestNoPartyLeavesEarly(t *testing.T) {
	const parties = 4
	b := New(parties)
	var before atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			before.Add(1)
			b.Rendezvous(1)
			assert.Equal(t, int32(parties), before.Load())
		}()
	}
	wg.Wait()
}

func TestSingleParty(t *testing.T) {
	b := New(1)
	assert.Equal(t, 1, b.Rendezvous(1))
	assert.Equal(t, 1, b.Rendezvous(2))
	b.SetParties(2)
	assert.Equal(t, 2, b.Parties())
}

func TestBreakReleasesWaiters(t *testing.T) {
	b := New(3)
	var wg sync.WaitGroup
	panics := make(chan any, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { panics <- recover() }()
			b.Rendezvous(7)
		}()
	}
	for {
		b.mu.Lock()
		n := b.arrived
		b.mu.Unlock()
		if n == 2 {
			break
		}
		runtime.Gosched()
	}
	b.Break()
	wg.Wait()
	close(panics)
	for p := range panics {
		assert.Equal(t, ErrBroken, p)
	}
	assert.True(t, b.Broken())
	assert.PanicsWithValue(t, ErrBroken, func() { b.Rendezvous(8) })
}
