package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T, pages int) *Memory {
	t.Helper()
	m, err := NewMemory(DefaultBase, PagesToBytes(pages))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryWords(t *testing.T) {
	m := newTestMemory(t, 4)
	a := m.Start().PlusWords(3)

	m.StoreWord(a, 0xdeadbeef)
	assert.Equal(t, uint64(0xdeadbeef), m.LoadWord(a))

	m.StoreReference(a, ObjectReference(0x1234))
	assert.Equal(t, ObjectReference(0x1234), m.LoadReference(a))

	assert.True(t, m.CASWord(a, 0x1234, 7))
	assert.False(t, m.CASWord(a, 0x1234, 9))
	assert.Equal(t, uint64(7), m.AtomicLoadWord(a))
}

func TestMemoryRanges(t *testing.T) {
	m := newTestMemory(t, 2)
	src := m.Start()
	dst := m.Start().Plus(BytesInPage)

	for i := 0; i < 4; i++ {
		m.StoreWord(src.PlusWords(i), uint64(i+1))
	}
	m.Copy(dst, src, 4*BytesInWord)
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(i+1), m.LoadWord(dst.PlusWords(i)))
	}

	m.Zero(src, BytesInPage)
	assert.True(t, m.IsZeroed(src, BytesInPage))
	assert.False(t, m.IsZeroed(dst, BytesInPage))
}

func TestMemoryBounds(t *testing.T) {
	m := newTestMemory(t, 1)

	t.Run("below start", func(t *testing.T) {
		assert.Panics(t, func() { m.LoadWord(m.Start().Minus(BytesInWord)) })
	})
	t.Run("past end", func(t *testing.T) {
		assert.Panics(t, func() { m.StoreWord(m.End(), 1) })
	})
	t.Run("unaligned range", func(t *testing.T) {
		_, err := NewMemory(DefaultBase.Plus(8), BytesInPage)
		assert.Error(t, err)
	})
	t.Run("null start", func(t *testing.T) {
		_, err := NewMemory(0, BytesInPage)
		assert.Error(t, err)
	})
}

func TestLayout(t *testing.T) {
	l := NewLayout(DefaultBase)
	vm := l.Carve("vm", 10)
	mature := l.Carve("mature", 3*BytesInChunk/2)
	nursery := l.Carve("nursery", BytesInChunk)

	assert.Equal(t, DefaultBase, vm.Start)
	assert.Equal(t, Extent(BytesInChunk), vm.Extent)
	assert.Equal(t, vm.End(), mature.Start)
	assert.Equal(t, Extent(2*BytesInChunk), mature.Extent)
	assert.True(t, nursery.Start > mature.Start)
	assert.Len(t, l.Regions(), 3)

	m, err := l.Map()
	require.NoError(t, err)
	defer m.Close()
	assert.True(t, m.Contains(nursery.End().Minus(BytesInWord)))
	assert.False(t, m.Contains(nursery.End()))
}
