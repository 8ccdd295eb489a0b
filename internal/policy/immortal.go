package policy

import (
	"github.com/orizon-lang/gckit/internal/heap"
	"github.com/orizon-lang/gckit/internal/space"
	"github.com/orizon-lang/gckit/internal/vm"
)

// markState is a mark bit whose meaning flips every collection, so that
// objects need no unmarking pass.
type markState struct {
	om    vm.ObjectModel
	state uint64
}

// Prepare flips the mark state: every object becomes unmarked.
func (m *markState) Prepare() { m.state ^= markBit }

// InitializeHeader marks a new object in the current state so that it
// survives until the next flip.
func (m *markState) InitializeHeader(ref heap.ObjectReference) {
	for {
		old := m.om.GCWord(ref)
		if m.om.CASGCWord(ref, old, old&^markBit|m.state) {
			return
		}
	}
}

// testAndMark marks ref, returning false if it was already marked.
func (m *markState) testAndMark(ref heap.ObjectReference) bool {
	for {
		old := m.om.GCWord(ref)
		if old&markBit == m.state {
			return false
		}
		if m.om.CASGCWord(ref, old, old&^markBit|m.state) {
			return true
		}
	}
}

// IsLive reports whether ref is marked in the current state.
func (m *markState) IsLive(ref heap.ObjectReference) bool {
	return m.om.GCWord(ref)&markBit == m.state
}

// ImmortalSpace holds objects that are never reclaimed. Tracing still
// visits them once per collection to reach what they reference.
type ImmortalSpace struct {
	markState
	space *space.Space
}

// NewImmortalSpace wraps s.
func NewImmortalSpace(s *space.Space, om vm.ObjectModel) *ImmortalSpace {
	return &ImmortalSpace{markState: markState{om: om}, space: s}
}

// Space returns the underlying space.
func (is *ImmortalSpace) Space() *space.Space { return is.space }

// TraceObject enqueues ref on its first visit of the collection.
func (is *ImmortalSpace) TraceObject(q Enqueuer, ref heap.ObjectReference) heap.ObjectReference {
	if is.testAndMark(ref) {
		q.Enqueue(ref)
	}
	return ref
}
