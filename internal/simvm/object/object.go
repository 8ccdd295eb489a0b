// Package object is the object layout of the reference host runtime.
//
// An object is word aligned and starts with two header words:
//
//	word 0  GC word, owned by the collector
//	word 1  reference count (bits 0-31) | size in bytes (bits 32-63)
//
// The reference slots follow the header, then the payload. An object's
// reference is the address of its first header word.
package object

import (
	"fmt"

	"github.com/orizon-lang/gckit/internal/heap"
)

// HeaderBytes is the size of the object header.
const HeaderBytes = 2 * heap.BytesInWord

const (
	gcWordOffset   = 0
	layoutOffset   = heap.BytesInWord
	refsMask       = 1<<32 - 1
	sizeShift      = 32
	maxObjectBytes = 1<<32 - 1
)

// BytesFor returns the size of an object with refs reference slots and
// payload bytes of other data.
func BytesFor(refs int, payload heap.Extent) heap.Extent {
	return heap.AlignExtent(HeaderBytes+heap.Extent(refs)*heap.BytesInWord+payload, heap.BytesInWord)
}

// Model implements vm.ObjectModel over one heap.Memory.
type Model struct {
	mem *heap.Memory
}

// New creates a model over mem.
func New(mem *heap.Memory) *Model { return &Model{mem: mem} }

// Initialize writes the header of an object of bytes with refs slots at
// addr, which must be zeroed, and returns its reference.
func (m *Model) Initialize(addr heap.Address, refs int, bytes heap.Extent) heap.ObjectReference {
	if bytes < BytesFor(refs, 0) || bytes > maxObjectBytes {
		panic(fmt.Sprintf("object: %d bytes cannot hold %d references", bytes, refs))
	}
	m.mem.StoreWord(addr.Plus(layoutOffset), uint64(bytes)<<sizeShift|uint64(refs))
	return heap.ObjectReference(addr)
}

func (m *Model) layout(ref heap.ObjectReference) uint64 {
	return m.mem.LoadWord(heap.Address(ref).Plus(layoutOffset))
}

// Refs returns the number of reference slots of ref.
func (m *Model) Refs(ref heap.ObjectReference) int { return int(m.layout(ref) & refsMask) }

// Slot returns the address of reference slot i of ref.
func (m *Model) Slot(ref heap.ObjectReference, i int) heap.Address {
	return heap.Address(ref).Plus(HeaderBytes).PlusWords(i)
}

// Payload returns the first payload address of ref.
func (m *Model) Payload(ref heap.ObjectReference) heap.Address {
	return m.Slot(ref, m.Refs(ref))
}

// Load reads reference slot i of ref.
func (m *Model) Load(ref heap.ObjectReference, i int) heap.ObjectReference {
	return m.mem.LoadReference(m.Slot(ref, i))
}

func (m *Model) Scan(ref heap.ObjectReference, fn func(slot heap.Address)) {
	n := m.Refs(ref)
	for i := 0; i < n; i++ {
		fn(m.Slot(ref, i))
	}
}

func (m *Model) Size(ref heap.ObjectReference) heap.Extent {
	return heap.Extent(m.layout(ref) >> sizeShift)
}

func (m *Model) RefToAddress(ref heap.ObjectReference) heap.Address { return heap.Address(ref) }

func (m *Model) AddressToRef(addr heap.Address) heap.ObjectReference {
	return heap.ObjectReference(addr)
}

func (m *Model) CopyTo(ref heap.ObjectReference, to heap.Address) heap.ObjectReference {
	m.mem.Copy(to, heap.Address(ref), m.Size(ref))
	return heap.ObjectReference(to)
}

func (m *Model) GCWord(ref heap.ObjectReference) uint64 {
	return m.mem.AtomicLoadWord(heap.Address(ref).Plus(gcWordOffset))
}

func (m *Model) SetGCWord(ref heap.ObjectReference, v uint64) {
	m.mem.AtomicStoreWord(heap.Address(ref).Plus(gcWordOffset), v)
}

func (m *Model) CASGCWord(ref heap.ObjectReference, old, new uint64) bool {
	return m.mem.CASWord(heap.Address(ref).Plus(gcWordOffset), old, new)
}

func (m *Model) Memory() *heap.Memory { return m.mem }
