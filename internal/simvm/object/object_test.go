package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/vm"
)

var _ vm.ObjectModel = (*Model)(nil)

func TestObjectLayout(t *testing.T) {
	mem, err := heap.NewMemory(heap.DefaultBase, heap.PagesToBytes(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	m := New(mem)

	size := BytesFor(3, 20)
	assert.Equal(t, heap.Extent(HeaderBytes+3*8+24), size)

	a := m.Initialize(mem.Start(), 3, size)
	b := m.Initialize(mem.Start().Plus(size), 0, BytesFor(0, 8))
	assert.Equal(t, 3, m.Refs(a))
	assert.Equal(t, size, m.Size(a))
	assert.Equal(t, m.Slot(a, 3), m.Payload(a))

	mem.StoreReference(m.Slot(a, 1), b)
	var slots []heap.Address
	m.Scan(a, func(slot heap.Address) { slots = append(slots, slot) })
	require.Len(t, slots, 3)
	assert.Equal(t, b, mem.LoadReference(slots[1]))
	assert.Equal(t, b, m.Load(a, 1))

	t.Run("GCWord", func(t *testing.T) {
		assert.Zero(t, m.GCWord(a))
		assert.True(t, m.CASGCWord(a, 0, 5))
		assert.False(t, m.CASGCWord(a, 0, 6))
		m.SetGCWord(a, 0)
		assert.Zero(t, m.GCWord(a))
	})

	t.Run("CopyTo", func(t *testing.T) {
		to := mem.Start().Plus(heap.BytesInPage)
		c := m.CopyTo(a, to)
		assert.Equal(t, heap.ObjectReference(to), c)
		assert.Equal(t, 3, m.Refs(c))
		assert.Equal(t, b, m.Load(c, 1))
		assert.Equal(t, to, m.RefToAddress(c))
		assert.Equal(t, c, m.AddressToRef(to))
	})

	assert.Panics(t, func() { m.Initialize(mem.Start(), 4, HeaderBytes) })
}
