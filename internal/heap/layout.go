package heap

import "fmt"

// DefaultBase is where layouts start by default. Page zero and the range
// below it stay unmapped so that small integers never look like addresses.
const DefaultBase Address = 0x1000_0000

// Region is a named, chunk-aligned slice of the virtual address space.
type Region struct {
	Name   string
	Start  Address
	Extent Extent
}

// End returns the first address past r.
func (r Region) End() Address { return r.Start.Plus(r.Extent) }

// Contains reports whether a falls inside r.
func (r Region) Contains(a Address) bool { return a >= r.Start && a < r.End() }

func (r Region) String() string {
	return fmt.Sprintf("%s[%s, %s)", r.Name, r.Start, r.End())
}

// Layout carves the virtual address space into regions in ascending order.
// Regions carved later sit at higher addresses, so a policy that wants a
// space at the top of the heap (the nursery) carves it last.
type Layout struct {
	base    Address
	cursor  Address
	regions []Region
}

// NewLayout starts a layout at base, which must be chunk aligned.
func NewLayout(base Address) *Layout {
	if base.IsZero() || !base.IsAligned(BytesInChunk) {
		panic(fmt.Sprintf("heap: layout base %s is not a non-null chunk boundary", base))
	}
	return &Layout{base: base, cursor: base}
}

// Carve reserves the next extent bytes (rounded up to whole chunks).
func (l *Layout) Carve(name string, extent Extent) Region {
	if extent == 0 {
		extent = BytesInChunk
	}
	r := Region{Name: name, Start: l.cursor, Extent: AlignExtent(extent, BytesInChunk)}
	l.cursor = r.End()
	l.regions = append(l.regions, r)
	return r
}

// Regions returns the carved regions in address order.
func (l *Layout) Regions() []Region { return append([]Region(nil), l.regions...) }

// Start returns the base of the layout.
func (l *Layout) Start() Address { return l.base }

// End returns the first address past the last region.
func (l *Layout) End() Address { return l.cursor }

// Map reserves backing storage for every region carved so far.
func (l *Layout) Map() (*Memory, error) {
	if l.cursor == l.base {
		return nil, fmt.Errorf("heap: layout has no regions")
	}
	return NewMemory(l.base, l.cursor.Diff(l.base))
}
