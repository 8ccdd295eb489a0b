package refcount

import (
	"fmt"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/vm"
)

// rcWord is the reference counting state kept in an object's GC word. No
// other policy touches the GC word of a counted object.
//
//	bit  0     buffered: the object is on a purple candidate list
//	bits 1-2   colour
//	bits 8-39  count, saturating at maxCount
type rcWord uint64

type colour uint8

const (
	black colour = iota
	grey
	white
	purple
)

func (c colour) String() string {
	switch c {
	case black:
		return "black"
	case grey:
		return "grey"
	case white:
		return "white"
	case purple:
		return "purple"
	}
	return fmt.Sprintf("colour(%d)", uint8(c))
}

const (
	bufferedBit = 1 << 0

	colourShift = 1
	colourMask  = 0x3 << colourShift

	countShift = 8
	countBits  = 32
	countMask  = (1<<countBits - 1) << countShift
	maxCount   = 1<<countBits - 1
)

func (w rcWord) buffered() bool { return w&bufferedBit != 0 }

func (w rcWord) colour() colour { return colour((w & colourMask) >> colourShift) }

func (w rcWord) count() uint32 { return uint32((w & countMask) >> countShift) }

// sticky reports whether the count has saturated. A saturated count is
// never changed again.
func (w rcWord) sticky() bool { return w.count() == maxCount }

func (w rcWord) withBuffered(on bool) rcWord {
	if on {
		return w | bufferedBit
	}
	return w &^ bufferedBit
}

func (w rcWord) withColour(c colour) rcWord {
	return w&^colourMask | rcWord(c)<<colourShift&colourMask
}

func (w rcWord) withCount(n uint32) rcWord {
	return w&^countMask | rcWord(n)<<countShift&countMask
}

func (w rcWord) String() string {
	return fmt.Sprintf("rc{count=%d %s buffered=%t}", w.count(), w.colour(), w.buffered())
}

// header reads and updates rc words through the object model.
type header struct {
	om vm.ObjectModel
}

func (h header) load(ref heap.ObjectReference) rcWord { return rcWord(h.om.GCWord(ref)) }

func (h header) init(ref heap.ObjectReference) {
	h.om.SetGCWord(ref, uint64(rcWord(0).withCount(1).withColour(black)))
}

// update applies fn to ref's word atomically and returns the previous and
// resulting words.
func (h header) update(ref heap.ObjectReference, fn func(rcWord) rcWord) (prev, next rcWord) {
	for {
		prev = h.load(ref)
		next = fn(prev)
		if next == prev || h.om.CASGCWord(ref, uint64(prev), uint64(next)) {
			return prev, next
		}
	}
}

// increment adds one to ref's count and colours it black.
func (h header) increment(ref heap.ObjectReference) {
	h.update(ref, func(w rcWord) rcWord {
		if !w.sticky() {
			w = w.withCount(w.count() + 1)
		}
		return w.withColour(black)
	})
}

// decrement subtracts one from ref's count and returns the new word.
// Decrementing a zero count is a fatal consistency failure.
func (h header) decrement(ref heap.ObjectReference) rcWord {
	_, w := h.update(ref, func(w rcWord) rcWord {
		switch {
		case w.sticky():
			return w
		case w.count() == 0:
			gcerr.Failf("RC_UNDERFLOW", "decrement of %s with %s", ref, w)
		}
		return w.withCount(w.count() - 1)
	})
	return w
}

func (h header) setColour(ref heap.ObjectReference, c colour) {
	h.update(ref, func(w rcWord) rcWord { return w.withColour(c) })
}

func (h header) setBuffered(ref heap.ObjectReference, on bool) {
	h.update(ref, func(w rcWord) rcWord { return w.withBuffered(on) })
}
