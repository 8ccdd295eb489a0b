package refcount

import "github.com/orizon-lang/gckit/internal/heap"

// trialDeletion reclaims garbage cycles among the purple candidates. It
// runs on one thread while no decrements are pending.
//
// Marking a candidate's subgraph grey removes every internal reference
// from the counts. Scanning then restores (black) whatever still has an
// external reference and everything reachable from it, and leaves the
// rest white. White objects are freed. A white object's references to
// black objects were removed when it was marked grey and stay removed,
// which is what freeing it requires.
type trialDeletion struct {
	p     *Plan
	hdr   header
	owner int
	stack []heap.ObjectReference

	garbage []heap.ObjectReference
	freed   int
}

func newTrialDeletion(p *Plan, owner int) *trialDeletion {
	return &trialDeletion{p: p, hdr: p.hdr, owner: owner}
}

// collect runs the three passes over the plan's candidates and empties
// the candidate list.
func (td *trialDeletion) collect() {
	roots := td.markRoots(td.p.purple)
	for _, ref := range roots {
		td.scan(ref)
	}
	for _, ref := range roots {
		td.hdr.setBuffered(ref, false)
		td.collectWhite(ref)
	}
	for _, ref := range td.garbage {
		td.free(ref)
	}
	td.p.purple = td.p.purple[:0]
	td.p.cycleFreed.Add(int64(td.freed))
}

// markRoots marks the subgraph of every candidate that is still purple
// and returns those candidates. Others leave the buffer, and dead ones
// that release kept for the buffer are freed now.
func (td *trialDeletion) markRoots(candidates []heap.ObjectReference) []heap.ObjectReference {
	roots := make([]heap.ObjectReference, 0, len(candidates))
	for _, ref := range candidates {
		w := td.hdr.load(ref)
		if w.colour() == purple && w.count() > 0 {
			td.markGrey(ref)
			roots = append(roots, ref)
			continue
		}
		td.hdr.setBuffered(ref, false)
		if w.colour() == black && w.count() == 0 {
			td.free(ref)
		}
	}
	return roots
}

// children pushes the counted referents of ref.
func (td *trialDeletion) children(ref heap.ObjectReference) {
	td.p.base.Host().Scan(ref, func(slot heap.Address) {
		if child := td.p.base.Memory().LoadReference(slot); td.p.isRC(child) {
			td.stack = append(td.stack, child)
		}
	})
}

func (td *trialDeletion) pop() heap.ObjectReference {
	ref := td.stack[len(td.stack)-1]
	td.stack = td.stack[:len(td.stack)-1]
	return ref
}

func (td *trialDeletion) markGrey(root heap.ObjectReference) {
	td.stack = append(td.stack[:0], root)
	first := true
	for len(td.stack) > 0 {
		ref := td.pop()
		if !first {
			td.hdr.decrement(ref)
		}
		first = false
		if td.hdr.load(ref).colour() == grey {
			continue
		}
		td.hdr.setColour(ref, grey)
		td.children(ref)
	}
}

func (td *trialDeletion) scan(root heap.ObjectReference) {
	td.stack = append(td.stack[:0], root)
	for len(td.stack) > 0 {
		ref := td.pop()
		w := td.hdr.load(ref)
		if w.colour() != grey {
			continue
		}
		if w.count() > 0 {
			td.scanBlack(ref)
			continue
		}
		td.hdr.setColour(ref, white)
		td.children(ref)
	}
}

// scanBlack restores the counts of everything reachable from root. It
// keeps its own stack so that scan's pending work survives.
func (td *trialDeletion) scanBlack(root heap.ObjectReference) {
	work := []heap.ObjectReference{root}
	td.hdr.setColour(root, black)
	for len(work) > 0 {
		ref := work[len(work)-1]
		work = work[:len(work)-1]
		td.p.base.Host().Scan(ref, func(slot heap.Address) {
			child := td.p.base.Memory().LoadReference(slot)
			if !td.p.isRC(child) {
				return
			}
			wasBlack := td.hdr.load(child).colour() == black
			td.hdr.increment(child)
			if !wasBlack {
				work = append(work, child)
			}
		})
	}
}

// collectWhite gathers the white subgraph of root. Nothing is freed until
// every candidate has been collected.
func (td *trialDeletion) collectWhite(root heap.ObjectReference) {
	td.stack = append(td.stack[:0], root)
	for len(td.stack) > 0 {
		ref := td.pop()
		w := td.hdr.load(ref)
		if w.colour() != white || w.buffered() {
			continue
		}
		td.hdr.setColour(ref, black)
		td.children(ref)
		td.garbage = append(td.garbage, ref)
	}
}

func (td *trialDeletion) free(ref heap.ObjectReference) {
	td.p.free(td.owner, ref)
	td.freed++
}
