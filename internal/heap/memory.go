package heap

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// backing is the raw storage underneath a Memory, obtained from the OS.
type backing interface {
	bytes() []byte
	protect(off, n uintptr, readable bool) error
	release() error
}

// Memory is a contiguous, word-addressable range [start, start+extent) of
// the simulated address space. All collector and host accesses to object
// state go through it.
//
// Loads and stores of payload words are plain; GC header words that can be
// raced on by parallel collectors use the atomic accessors.
type Memory struct {
	start  Address
	end    Address
	buf    []byte
	mapped backing
}

// NewMemory reserves extent bytes of backing storage for the virtual range
// starting at start. Both must be page aligned.
func NewMemory(start Address, extent Extent) (*Memory, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("heap: memory cannot start at the null address")
	}
	if !start.IsAligned(BytesInPage) || !Address(extent).IsAligned(BytesInPage) {
		return nil, fmt.Errorf("heap: range %s+%d is not page aligned", start, extent)
	}
	b, err := reserve(uintptr(extent))
	if err != nil {
		return nil, fmt.Errorf("heap: failed to reserve %d bytes: %w", extent, err)
	}
	return &Memory{
		start:  start,
		end:    start.Plus(extent),
		buf:    b.bytes(),
		mapped: b,
	}, nil
}

// Start returns the first address of the range.
func (m *Memory) Start() Address { return m.start }

// End returns the first address past the range.
func (m *Memory) End() Address { return m.end }

// Contains reports whether a falls inside the range.
func (m *Memory) Contains(a Address) bool { return a >= m.start && a < m.end }

func (m *Memory) offset(a Address, n Extent) uintptr {
	if a < m.start || a.Plus(n) > m.end {
		panic(fmt.Sprintf("heap: access %s+%d outside [%s, %s)", a, n, m.start, m.end))
	}
	return uintptr(a - m.start)
}

func (m *Memory) word(a Address) *uint64 {
	off := m.offset(a, BytesInWord)
	return (*uint64)(unsafe.Pointer(&m.buf[off]))
}

// LoadWord reads the word at a.
func (m *Memory) LoadWord(a Address) uint64 { return *m.word(a) }

// StoreWord writes the word at a.
func (m *Memory) StoreWord(a Address, v uint64) { *m.word(a) = v }

// LoadAddress reads an address-sized value at a.
func (m *Memory) LoadAddress(a Address) Address { return Address(*m.word(a)) }

// StoreAddress writes an address-sized value at a.
func (m *Memory) StoreAddress(a Address, v Address) { *m.word(a) = uint64(v) }

// LoadReference reads an object reference held in the slot at a.
func (m *Memory) LoadReference(slot Address) ObjectReference {
	return ObjectReference(*m.word(slot))
}

// StoreReference writes an object reference into the slot at a.
func (m *Memory) StoreReference(slot Address, r ObjectReference) { *m.word(slot) = uint64(r) }

// AtomicLoadWord reads the word at a with acquire semantics.
func (m *Memory) AtomicLoadWord(a Address) uint64 { return atomic.LoadUint64(m.word(a)) }

// AtomicStoreWord writes the word at a with release semantics.
func (m *Memory) AtomicStoreWord(a Address, v uint64) { atomic.StoreUint64(m.word(a), v) }

// CASWord atomically replaces old with new at a.
func (m *Memory) CASWord(a Address, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(m.word(a), old, new)
}

// Zero clears n bytes starting at a.
func (m *Memory) Zero(a Address, n Extent) {
	off := m.offset(a, n)
	clear(m.buf[off : off+uintptr(n)])
}

// IsZeroed reports whether n bytes starting at a are all zero.
func (m *Memory) IsZeroed(a Address, n Extent) bool {
	off := m.offset(a, n)
	for _, b := range m.buf[off : off+uintptr(n)] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func (m *Memory) Copy(dst, src Address, n Extent) {
	d := m.offset(dst, n)
	s := m.offset(src, n)
	copy(m.buf[d:d+uintptr(n)], m.buf[s:s+uintptr(n)])
}

// Bytes returns a view of n bytes starting at a. The view aliases memory.
func (m *Memory) Bytes(a Address, n Extent) []byte {
	off := m.offset(a, n)
	return m.buf[off : off+uintptr(n) : off+uintptr(n)]
}

// Protect toggles access to a page-aligned range. Only meaningful on
// platforms where the range is OS-mapped; elsewhere it is a no-op.
func (m *Memory) Protect(a Address, n Extent, readable bool) error {
	off := m.offset(a, n)
	return m.mapped.protect(off, uintptr(n), readable)
}

// Close returns the backing storage to the OS. The Memory must not be used
// afterwards.
func (m *Memory) Close() error {
	m.buf = nil
	return m.mapped.release()
}

// sliceBacking is storage from the Go heap, used where no mapping API is
// available.
type sliceBacking []byte

func (s sliceBacking) bytes() []byte                      { return s }
func (s sliceBacking) protect(_, _ uintptr, _ bool) error { return nil }
func (s sliceBacking) release() error                     { return nil }
