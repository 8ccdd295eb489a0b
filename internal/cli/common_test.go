package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/options"
)

func TestNewPlan(t *testing.T) {
	for _, name := range Plans() {
		t.Run(name, func(t *testing.T) {
			opts := options.New(options.WithPlan(options.PlanKind(name)), options.WithHeapSize(4<<20))
			p, err := NewPlan(opts, gclog.Discard())
			require.NoError(t, err)
			defer p.Base().Close()
			assert.Equal(t, name, p.Name())
		})
	}

	_, err := NewPlan(options.New(options.WithPlan("marksweep")), gclog.Discard())
	assert.Error(t, err)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.0.0\nplan: rc\nheapSize: 16MB\nverbose: 1\n"), 0o644))

	t.Run("string overrides file", func(t *testing.T) {
		opts, err := LoadOptions(path, "-X:gc:verbose=3 cycleDetection=false")
		require.NoError(t, err)
		assert.Equal(t, options.RC, opts.Plan)
		assert.EqualValues(t, 16<<20, opts.HeapSize)
		assert.Equal(t, 3, opts.Verbose)
		assert.False(t, opts.CycleDetection)
	})

	t.Run("defaults", func(t *testing.T) {
		opts, err := LoadOptions("", "")
		require.NoError(t, err)
		assert.Equal(t, options.Default(), opts)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := LoadOptions("", "decQuanta=0")
		assert.Error(t, err)
		_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"), "")
		assert.Error(t, err)
	})
}

func TestVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.Equal(t, Version, info.Version)
	assert.Len(t, info.Plans, 4)
}
