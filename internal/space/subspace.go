package space

import "github.com/orizon-lang/gckit/internal/heap"

// Subspace maps a range onto a sequence of fixed-size tiles, numbered from
// a first index, for heap census output.
type Subspace struct {
	start, end heap.Address
	firstIndex int
	tileSize   heap.Extent
	tiles      int
}

// NewSubspace tiles [start, end) with tiles of tileSize bytes. The tile
// containing start gets index firstIndex.
func NewSubspace(start, end heap.Address, firstIndex int, tileSize heap.Extent) *Subspace {
	n := int((end.Diff(start) + tileSize - 1) / tileSize)
	return &Subspace{start: start, end: end, firstIndex: firstIndex, tileSize: tileSize, tiles: n}
}

// IndexInRange reports whether index names a tile of the subspace.
func (s *Subspace) IndexInRange(index int) bool {
	return index >= s.firstIndex && index < s.firstIndex+s.tiles
}

// AddressInRange reports whether a is inside the subspace.
func (s *Subspace) AddressInRange(a heap.Address) bool { return a >= s.start && a < s.end }

// Index returns the tile index of a.
func (s *Subspace) Index(a heap.Address) int {
	return s.firstIndex + int(a.Diff(s.start)/s.tileSize)
}

// Address returns the first address of tile index.
func (s *Subspace) Address(index int) heap.Address {
	return s.start.Plus(heap.Extent(index-s.firstIndex) * s.tileSize)
}

// Remaining returns the bytes from a to the end of its tile.
func (s *Subspace) Remaining(a heap.Address) heap.Extent {
	return s.Address(s.Index(a) + 1).Diff(a)
}

// Tiles returns the number of tiles.
func (s *Subspace) Tiles() int { return s.tiles }

// FirstIndex returns the index of the first tile.
func (s *Subspace) FirstIndex() int { return s.firstIndex }

// TileSize returns the tile size in bytes.
func (s *Subspace) TileSize() heap.Extent { return s.tileSize }
