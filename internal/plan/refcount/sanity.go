package refcount

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orizon-lang/gckit/internal/alloc"
	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/lock"
)

// sanity recomputes every count from the heap and checks that no object
// reachable from the roots has been freed.
type sanity struct {
	p *Plan

	lock      *lock.Lock
	roots     []heap.ObjectReference
	immortals []heap.ObjectReference
}

func newSanity(p *Plan) *sanity {
	return &sanity{p: p, lock: lock.New("rc.sanity", p.base.LockOptions()...)}
}

func (s *sanity) reset() { s.roots = s.roots[:0] }

func (s *sanity) noteRoot(owner int, ref heap.ObjectReference) {
	s.lock.Acquire(owner)
	s.roots = append(s.roots, ref)
	s.lock.Release()
}

// noteImmortal records an immortal object so that its slots are counted.
func (s *sanity) noteImmortal(owner int, ref heap.ObjectReference) {
	s.lock.Acquire(owner)
	s.immortals = append(s.immortals, ref)
	s.lock.Release()
}

// expected returns the number of references to each counted object held
// by live objects and this collection's roots. Objects with a zero count
// have been released and no longer contribute.
func (s *sanity) expected() map[heap.ObjectReference]uint32 {
	p := s.p
	om, mem := p.base.Host(), p.base.Memory()
	want := make(map[heap.ObjectReference]uint32)
	count := func(ref heap.ObjectReference) {
		if p.isRC(ref) && p.hdr.load(ref).count() == 0 {
			return
		}
		om.Scan(ref, func(slot heap.Address) {
			if child := mem.LoadReference(slot); p.isRC(child) {
				want[child]++
			}
		})
	}
	p.shared.Each(func(_ *alloc.Block, cell heap.Address) {
		ref := om.AddressToRef(cell)
		want[ref] += 0
		count(ref)
	})
	if los := p.base.LOS(); los != nil {
		los.Each(func(ref heap.ObjectReference) {
			want[ref] += 0
			count(ref)
		})
	}
	for _, ref := range s.immortals {
		count(ref)
	}
	for _, ref := range s.roots {
		want[ref]++
	}
	return want
}

// reachableFreed traces from the roots and returns the reachable
// objects that are no longer allocated.
func (s *sanity) reachableFreed() []heap.ObjectReference {
	p := s.p
	om, mem := p.base.Host(), p.base.Memory()
	seen := make(map[heap.ObjectReference]bool)
	var freed []heap.ObjectReference
	stack := append([]heap.ObjectReference(nil), s.roots...)
	for _, ref := range s.immortals {
		om.Scan(ref, func(slot heap.Address) {
			if child := mem.LoadReference(slot); p.isRC(child) {
				stack = append(stack, child)
			}
		})
	}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if !p.allocated(ref) {
			freed = append(freed, ref)
			continue
		}
		om.Scan(ref, func(slot heap.Address) {
			if child := mem.LoadReference(slot); p.isRC(child) {
				stack = append(stack, child)
			}
		})
	}
	return freed
}

// check fails fatally if any count disagrees with the heap or a reachable
// object has been freed.
func (s *sanity) check() {
	var bad []string
	for ref, n := range s.expected() {
		w := s.p.hdr.load(ref)
		if w.sticky() || w.count() == n {
			continue
		}
		bad = append(bad, fmt.Sprintf("%s has %s, expected %d", ref, w, n))
	}
	for _, ref := range s.reachableFreed() {
		bad = append(bad, fmt.Sprintf("%s is reachable but freed", ref))
	}
	if len(bad) == 0 {
		return
	}
	sort.Strings(bad)
	if len(bad) > 8 {
		bad = append(bad[:8], fmt.Sprintf("and %d more", len(bad)-8))
	}
	gcerr.Fail(gcerr.Consistency(gcerr.ErrSanity.Code, "reference count sanity check failed: %s", strings.Join(bad, "; ")))
}
