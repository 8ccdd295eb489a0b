package options

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/heap"
)

func TestDefaults(t *testing.T) {
	o := Default()
	require.NoError(t, o.Validate())
	assert.Equal(t, GenMS, o.Plan)
	assert.Equal(t, heap.Extent(64<<20), o.HeapSize)
	assert.Equal(t, -1, o.NurseryPages())
	assert.True(t, o.CycleDetection)
	assert.Equal(t, 2000, o.DecQuanta)
	assert.Equal(t, 0.66, o.DecTimeFraction)
	assert.Equal(t, 200*time.Millisecond, o.LockSlowThreshold)

	o = New(WithPlan(RC), WithNurserySize(10*heap.BytesInPage), WithCollectors(3))
	assert.Equal(t, RC, o.Plan)
	assert.Equal(t, 10, o.NurseryPages())
	assert.Equal(t, 3, o.Collectors)
}

func TestParseString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, o Options)
	}{
		{"plan and sizes", "plan=gencopy heapSize=32MB nurserySize=512KB", func(t *testing.T, o Options) {
			assert.Equal(t, GenCopy, o.Plan)
			assert.Equal(t, heap.Extent(32<<20), o.HeapSize)
			assert.Equal(t, 128, o.NurseryPages())
		}},
		{"prefixed tokens", "-X:gc:verbose=3 -X:gc:cycleDetection=false", func(t *testing.T, o Options) {
			assert.Equal(t, 3, o.Verbose)
			assert.False(t, o.CycleDetection)
		}},
		{"bare boolean", "sanityTracing fullHeapSystemGC", func(t *testing.T, o Options) {
			assert.True(t, o.SanityTracing)
			assert.True(t, o.FullHeapSystemGC)
		}},
		{"plain bytes and durations", "losThreshold=8192 lockSlowThreshold=50ms pauseTimeGoal=10ms", func(t *testing.T, o Options) {
			assert.Equal(t, heap.Extent(8192), o.LOSThreshold)
			assert.Equal(t, 50*time.Millisecond, o.LockSlowThreshold)
			assert.Equal(t, 10*time.Millisecond, o.PauseTimeGoal)
		}},
		{"quoted values", `nurserySize="unbounded" decTimeFraction='0.5'`, func(t *testing.T, o Options) {
			assert.Equal(t, -1, o.NurseryPages())
			assert.Equal(t, 0.5, o.DecTimeFraction)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := ParseString(tt.input, Default())
			require.NoError(t, err)
			tt.check(t, o)
		})
	}

	t.Run("errors", func(t *testing.T) {
		for _, in := range []string{"nosuch=1", "verbose=loud", "plan=arena", "heapSize=lots", "decTimeFraction=2"} {
			o, err := ParseString(in, Default())
			assert.Error(t, err, in)
			assert.Equal(t, Default(), o, "a failed parse returns the base options")
		}
	})
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.2.0\nplan: rc\nheapSize: 16MB\nverbose: 2\n"), 0o644))

	o, err := LoadFile(path, Default())
	require.NoError(t, err)
	assert.Equal(t, RC, o.Plan)
	assert.Equal(t, heap.Extent(16<<20), o.HeapSize)
	assert.Equal(t, 2, o.Verbose)

	t.Run("incompatible version", func(t *testing.T) {
		_, err := Decode([]byte("version: 2.0.0\nplan: rc\n"), Default())
		assert.ErrorContains(t, err, "does not satisfy")
	})
	t.Run("missing version", func(t *testing.T) {
		_, err := Decode([]byte("plan: rc\n"), Default())
		assert.ErrorContains(t, err, "missing version")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "absent.yaml"), Default())
		assert.Error(t, err)
	})
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.0.0\nverbose: 0\n"), 0o644))

	w, err := Watch(path, Default())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("version: 1.0.0\nverbose: 4\n"), 0o644))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case o := <-w.Updates():
			if o.Verbose == 4 {
				return
			}
		case err := <-w.Errors():
			// A partially written file can fail to decode; wait for the
			// next event.
			t.Logf("reload error: %v", err)
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestSizes(t *testing.T) {
	n, err := ParseSize("1.5MB")
	require.NoError(t, err)
	assert.Equal(t, heap.Extent(3<<19), n)
	assert.Contains(t, FormatSize(64<<20), "MB")
}
