// Package rendezvous provides a reusable barrier that reports each
// caller's arrival order, the primitive collector phases synchronize on.
package rendezvous

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBroken is the panic value of every Rendezvous on a broken barrier.
var ErrBroken = errors.New("rendezvous: barrier broken")

// Barrier is a cyclic barrier for a fixed number of parties.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	gen     uint64
	tag     int
	broken  bool
}

// New creates a barrier for parties participants.
func New(parties int) *Barrier {
	if parties < 1 {
		panic(fmt.Sprintf("rendezvous: invalid party count %d", parties))
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of participants.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// SetParties changes the number of participants. It must only be called
// while no party is waiting.
func (b *Barrier) SetParties(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arrived != 0 {
		panic(fmt.Sprintf("rendezvous: resize to %d with %d parties waiting", n, b.arrived))
	}
	if n < 1 {
		panic(fmt.Sprintf("rendezvous: invalid party count %d", n))
	}
	b.parties = n
}

// Rendezvous blocks until every party has arrived and returns the caller's
// arrival order, 1 for the first. All parties of one round must pass the
// same tag; a mismatch means the parties disagree about which phase they
// are in.
func (b *Barrier) Rendezvous(tag int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		panic(ErrBroken)
	}
	if b.arrived == 0 {
		b.tag = tag
	} else if b.tag != tag {
		panic(fmt.Sprintf("rendezvous: tag %d arrived at barrier for tag %d", tag, b.tag))
	}
	b.arrived++
	order := b.arrived
	if b.arrived == b.parties {
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		return order
	}
	gen := b.gen
	for gen == b.gen && !b.broken {
		b.cond.Wait()
	}
	if gen == b.gen {
		panic(ErrBroken)
	}
	return order
}

// Break releases every waiting party and makes every later Rendezvous
// panic with ErrBroken. A party that fails mid-collection breaks the
// barrier so that the others do not wait for it forever.
func (b *Barrier) Break() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Broken reports whether Break has been called.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
