// Package heap provides the unboxed machine types used by the collector
// (addresses, object references, extents), page and word arithmetic, and
// the raw memory that backs the simulated virtual address space.
package heap

import "fmt"

// Word and page geometry. Every space is carved at chunk granularity so
// that an address can be resolved to its space with a single table lookup.
const (
	LogBytesInWord = 3
	BytesInWord    = 1 << LogBytesInWord

	LogBytesInPage = 12
	BytesInPage    = 1 << LogBytesInPage

	LogBytesInChunk = 20
	BytesInChunk    = 1 << LogBytesInChunk
	PagesInChunk    = BytesInChunk >> LogBytesInPage

	// MinAlignment is the alignment every allocation gets for free.
	MinAlignment = BytesInWord
)

// Address is a location in the simulated address space. The zero Address
// is never mapped and doubles as the null value.
type Address uintptr

// Extent is a length in bytes.
type Extent uintptr

// ObjectReference is an opaque handle for an object. The host object model
// translates between references and addresses (see vm.ObjectModel).
type ObjectReference uintptr

// Null is the null object reference.
const Null ObjectReference = 0

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool { return a == 0 }

// Plus returns a+n.
func (a Address) Plus(n Extent) Address { return a + Address(n) }

// PlusWords returns the address n words above a.
func (a Address) PlusWords(n int) Address { return a + Address(n<<LogBytesInWord) }

// Minus returns a-n.
func (a Address) Minus(n Extent) Address { return a - Address(n) }

// Diff returns a-b as an extent. b must not be above a.
func (a Address) Diff(b Address) Extent { return Extent(a - b) }

// LT reports a < b.
func (a Address) LT(b Address) bool { return a < b }

// GE reports a >= b.
func (a Address) GE(b Address) bool { return a >= b }

// AlignUp rounds a up to a multiple of align (a power of two).
func (a Address) AlignUp(align Extent) Address {
	return Address((uintptr(a) + uintptr(align) - 1) &^ (uintptr(align) - 1))
}

// IsAligned reports whether a is a multiple of align.
func (a Address) IsAligned(align Extent) bool { return uintptr(a)&(uintptr(align)-1) == 0 }

// ChunkIndex returns the index of the chunk containing a.
func (a Address) ChunkIndex() int { return int(uintptr(a) >> LogBytesInChunk) }

// PageAlign rounds a down to its page.
func (a Address) PageAlign() Address { return a &^ (BytesInPage - 1) }

func (a Address) String() string { return fmt.Sprintf("0x%08x", uintptr(a)) }

// IsNull reports whether r is the null reference.
func (r ObjectReference) IsNull() bool { return r == Null }

func (r ObjectReference) String() string { return fmt.Sprintf("ref(0x%08x)", uintptr(r)) }

// PagesToBytes converts a page count into an extent.
func PagesToBytes(pages int) Extent { return Extent(pages) << LogBytesInPage }

// BytesToPages converts an extent into pages, rounding up.
func BytesToPages(bytes Extent) int {
	return int((bytes + BytesInPage - 1) >> LogBytesInPage)
}

// AlignExtent rounds n up to a multiple of align (a power of two).
func AlignExtent(n, align Extent) Extent { return (n + align - 1) &^ (align - 1) }

// AlignInt rounds n up to a multiple of align (a power of two).
func AlignInt(n, align int) int { return (n + align - 1) &^ (align - 1) }
