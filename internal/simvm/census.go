package simvm

import (
	"fmt"
	"io"
	"sort"

	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/space"
)

// Tile is the census of one tile of a space.
type Tile struct {
	Index   int
	Start   heap.Address
	Objects int
	Bytes   heap.Extent
}

// SpaceCensus counts the objects reachable from the roots in one space.
type SpaceCensus struct {
	Space    string
	Reserved int
	Objects  int
	Bytes    heap.Extent
	// Tiles lists the non-empty tiles in address order.
	Tiles []Tile
}

// Census is a snapshot of the reachable heap, by space and tile.
type Census struct {
	TileSize heap.Extent
	Spaces   []SpaceCensus
}

// Space returns the census of the space called name.
func (c *Census) Space(name string) (SpaceCensus, bool) {
	for _, s := range c.Spaces {
		if s.Space == name {
			return s, true
		}
	}
	return SpaceCensus{}, false
}

// Objects returns the number of reachable objects.
func (c *Census) Objects() int {
	n := 0
	for _, s := range c.Spaces {
		n += s.Objects
	}
	return n
}

// WriteTo prints one line per space and tile.
func (c *Census) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, s := range c.Spaces {
		n, err := fmt.Fprintf(w, "%-10s reserved %-8s reachable %d objects, %s\n",
			s.Space, options.FormatSize(heap.PagesToBytes(s.Reserved)), s.Objects, options.FormatSize(s.Bytes))
		total += int64(n)
		if err != nil {
			return total, err
		}
		for _, t := range s.Tiles {
			n, err := fmt.Fprintf(w, "  tile %4d %s %6d objects %s\n", t.Index, t.Start, t.Objects, options.FormatSize(t.Bytes))
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Census stops the world and tiles every space with tiles of tileSize
// bytes (a chunk when zero), counting the objects reachable from the
// roots. The caller must be a running mutator.
func (t *Thread) Census(tileSize heap.Extent) *Census {
	if tileSize == 0 {
		tileSize = heap.BytesInChunk
	}
	var c *Census
	t.vm.stopTheWorld(func(threads []*Thread) { c = t.vm.census(threads, tileSize) })
	return c
}

func (v *VM) census(threads []*Thread, tileSize heap.Extent) *Census {
	type acc struct {
		sub   *space.Subspace
		tiles map[int]*Tile
		sc    SpaceCensus
	}
	spaces := v.base.Accountant().Spaces()
	bySpace := make(map[*space.Space]*acc, len(spaces))
	for _, s := range spaces {
		bySpace[s] = &acc{
			sub:   space.NewSubspace(s.Start(), s.End(), 0, tileSize),
			tiles: make(map[int]*Tile),
			sc:    SpaceCensus{Space: s.Name(), Reserved: s.Reserved()},
		}
	}

	seen := make(map[heap.ObjectReference]bool)
	var stack []heap.ObjectReference
	push := func(slot heap.Address) {
		if ref := v.mem.LoadReference(slot); !ref.IsNull() && !seen[ref] {
			seen[ref] = true
			stack = append(stack, ref)
		}
	}
	v.EnumerateGlobalRoots(push)
	for _, t := range threads {
		v.EnumerateRoots(t.id, push)
	}
	smap := v.base.SpaceMap()
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		a := v.RefToAddress(ref)
		if s := smap.SpaceOf(a); s != nil {
			bytes := v.Size(ref)
			ac := bySpace[s]
			i := ac.sub.Index(a)
			tile := ac.tiles[i]
			if tile == nil {
				tile = &Tile{Index: i, Start: ac.sub.Address(i)}
				ac.tiles[i] = tile
			}
			tile.Objects++
			tile.Bytes += bytes
			ac.sc.Objects++
			ac.sc.Bytes += bytes
		}
		v.Scan(ref, push)
	}

	c := &Census{TileSize: tileSize}
	for _, s := range spaces {
		ac := bySpace[s]
		for _, tile := range ac.tiles {
			ac.sc.Tiles = append(ac.sc.Tiles, *tile)
		}
		sort.Slice(ac.sc.Tiles, func(i, j int) bool { return ac.sc.Tiles[i].Index < ac.sc.Tiles[j].Index })
		c.Spaces = append(c.Spaces, ac.sc)
	}
	return c
}
