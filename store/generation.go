package store

import (
	"sync"
	"sync/atomic"
)

// generations tracks the published generation and the generations pinned by
// live snapshots (the retention set).
type generations struct {
	// committed is written only under the owner's update lock.
	committed atomic.Uint64

	mu        sync.Mutex
	pins      map[uint64]int
	snapshots int
}

func newGenerations() *generations {
	return &generations{pins: make(map[uint64]int)}
}

func (g *generations) current() uint64 {
	return g.committed.Load()
}

// next is the generation the running write batch writes at.
func (g *generations) next() uint64 {
	return g.committed.Load() + 1
}

func (g *generations) publish(gen uint64) {
	g.committed.Store(gen)
}

// pin references the current generation and returns it.
func (g *generations) pin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	gen := g.committed.Load()
	g.pins[gen]++
	g.snapshots++
	return gen
}

func (g *generations) unpin(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pins[gen] <= 1 {
		delete(g.pins, gen)
	} else {
		g.pins[gen]--
	}
	g.snapshots--
}

// floor returns the oldest generation a reader may still query: the minimum
// pinned generation, or the one after the current generation when nothing is
// pinned. Versions older than floor are only reachable through the newest of
// them.
func (g *generations) floor() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	floor := g.committed.Load() + 1
	for gen := range g.pins {
		if gen < floor {
			floor = gen
		}
	}
	return floor
}

// pinned returns the number of live snapshots.
func (g *generations) pinned() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshots
}
