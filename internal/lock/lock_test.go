package lock

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/gclog"
)

func TestLockFIFO(t *testing.T) {
	l := New("fifo")
	const n = 16

	// Hold the lock so every waiter queues behind it, then record the
	// order in which tickets are served.
	l.Acquire(0)
	var (
		mu     sync.Mutex
		served []int
		wg     sync.WaitGroup
	)
	tickets := make([]int, n)
	for i := 0; i < n; i++ {
		// Start waiters one at a time so that dispensing order is known.
		before := l.Dispensed()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tickets[i] = l.Acquire(i + 1)
			mu.Lock()
			served = append(served, tickets[i])
			mu.Unlock()
			l.Release()
		}(i)
		for l.Dispensed() == before {
			time.Sleep(time.Microsecond)
		}
	}
	l.Release()
	wg.Wait()

	require.Len(t, served, n)
	for i, ticket := range served {
		assert.Equal(t, i+1, ticket, "tickets must be served in dispensing order")
	}
	assert.Equal(t, l.Dispensed(), l.Serving())
}

func TestLockMutualExclusion(t *testing.T) {
	l := New("mutex")
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.Acquire(g)
				if v := inside.Add(1); v > maxInside.Load() {
					maxInside.Store(v)
				}
				l.Check(g, i)
				inside.Add(-1)
				l.Release()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, NoOwner, l.Owner())
}

func TestThreeThreadHandoff(t *testing.T) {
	l := New("handoff")
	var inside atomic.Int32
	entered := make(chan int, 3)
	release := [3]chan struct{}{make(chan struct{}), make(chan struct{}), make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		before := l.Dispensed()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket := l.Acquire(i + 1)
			assert.Equal(t, i, ticket)
			assert.Equal(t, int32(1), inside.Add(1))
			entered <- i
			<-release[i]
			inside.Add(-1)
			l.Release()
		}(i)
		for l.Dispensed() == before {
			time.Sleep(time.Microsecond)
		}
	}

	require.Equal(t, 0, <-entered)
	select {
	case got := <-entered:
		t.Fatalf("thread %d entered while thread 1 held the lock", got+1)
	case <-time.After(20 * time.Millisecond):
	}

	close(release[0])
	require.Equal(t, 1, <-entered)
	select {
	case got := <-entered:
		t.Fatalf("thread %d entered while thread 2 held the lock", got+1)
	case <-time.After(20 * time.Millisecond):
	}

	close(release[1])
	require.Equal(t, 2, <-entered)
	close(release[2])
	wg.Wait()
	assert.Equal(t, 3, l.Serving())
}

func TestCheckRequiresOwnership(t *testing.T) {
	defer gcerr.SetOutput(new(bytes.Buffer))()
	defer gcerr.SetHandler(gcerr.PanicHandler)()

	l := New("owned")
	l.Acquire(1)
	l.Check(1, 7)
	assert.Equal(t, 7, l.Where())

	err := func() (err error) {
		defer func() { err, _ = recover().(error) }()
		l.Check(2, 8)
		return nil
	}()
	require.Error(t, err)
	assert.True(t, errors.Is(err, gcerr.ErrConsistency))
	assert.Equal(t, 7, l.Where())
	l.Release()
	assert.Equal(t, NoCheckpoint, l.Where())
}

func TestSlowReportAndTimeout(t *testing.T) {
	var out, log bytes.Buffer
	defer gcerr.SetOutput(&out)()
	defer gcerr.SetHandler(gcerr.PanicHandler)()

	l := New("stuck",
		WithSlowThreshold(2*time.Millisecond),
		WithCheckFrequency(1),
		WithLogger(gclog.New(&log, gclog.Quiet, false)),
	)
	l.Acquire(0)
	l.Check(0, 42)

	err := func() (err error) {
		defer func() { err, _ = recover().(error) }()
		l.Acquire(5)
		return nil
	}()
	require.Error(t, err)
	assert.True(t, errors.Is(err, gcerr.ErrLockTimeout))
	assert.Contains(t, log.String(), "failed to acquire lock")
	assert.Contains(t, log.String(), "position 42")
	assert.Contains(t, out.String(), "goroutine")
}

func TestHistory(t *testing.T) {
	l := New("history")
	for i := 0; i < HistorySize+5; i++ {
		l.Acquire(i % 3)
		l.Release()
	}
	h := l.History(reportEntries)
	require.Len(t, h, reportEntries)
	for i, r := range h {
		assert.Equal(t, l.Serving()-reportEntries+i, r.Serving)
		assert.Equal(t, r.Serving%3, r.Owner)
		assert.GreaterOrEqual(t, r.End, r.Start)
	}
	assert.Empty(t, New("fresh").History(reportEntries))
}
