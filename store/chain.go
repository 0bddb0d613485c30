package store

import (
	"sync"
	"sync/atomic"
)

// version is one entry of a version chain. Entries are immutable once their
// generation is published; only the link to the older entry changes, when
// collection truncates the chain.
type version[V any] struct {
	gen       uint64
	value     V
	tombstone bool
	next      atomic.Pointer[version[V]]
}

// chain is the history of one key, newest first.
type chain[V any] struct {
	head atomic.Pointer[version[V]]
}

// chains maps keys to their version chain. Readers walk chains without
// locking; every mutating method must be called with the owner's update lock
// held.
type chains[K comparable, V any] struct {
	index sync.Map // K -> *chain[V]

	// live is the number of keys whose newest published entry is not a
	// tombstone.
	live atomic.Int64

	// writer state, reset on publish and rollback
	dirty map[K]struct{}
	delta int64
}

func newChains[K comparable, V any]() *chains[K, V] {
	return &chains[K, V]{dirty: make(map[K]struct{})}
}

func (c *chains[K, V]) load(k K) *chain[V] {
	v, ok := c.index.Load(k)
	if !ok {
		return nil
	}
	return v.(*chain[V])
}

// get returns the value visible at gen: the newest entry whose generation is
// not greater than gen, unless that entry is a tombstone.
func (c *chains[K, V]) get(k K, gen uint64) (V, bool) {
	var zero V
	ch := c.load(k)
	if ch == nil {
		return zero, false
	}
	for e := ch.head.Load(); e != nil; e = e.next.Load() {
		if e.gen <= gen {
			if e.tombstone {
				return zero, false
			}
			return e.value, true
		}
	}
	return zero, false
}

// pending returns the value written at gen by the current writer, if the
// chain head belongs to gen. Such a value is not visible to any snapshot and
// may be modified in place.
func (c *chains[K, V]) pending(k K, gen uint64) (V, bool) {
	var zero V
	ch := c.load(k)
	if ch == nil {
		return zero, false
	}
	head := ch.head.Load()
	if head == nil || head.gen != gen || head.tombstone {
		return zero, false
	}
	return head.value, true
}

func (c *chains[K, V]) set(k K, value V, gen uint64) {
	c.put(k, &version[V]{gen: gen, value: value})
}

// clear tombstones k at gen. It reports false when k has no live value.
func (c *chains[K, V]) clear(k K, gen uint64) bool {
	ch := c.load(k)
	if ch == nil {
		return false
	}
	head := ch.head.Load()
	if head == nil || head.tombstone {
		return false
	}
	c.put(k, &version[V]{gen: gen, tombstone: true})
	return true
}

func (c *chains[K, V]) put(k K, e *version[V]) {
	v, _ := c.index.LoadOrStore(k, &chain[V]{})
	ch := v.(*chain[V])

	head := ch.head.Load()
	wasLive := head != nil && !head.tombstone
	if head != nil && head.gen == e.gen {
		// a second write in the same batch replaces the first
		e.next.Store(head.next.Load())
	} else {
		e.next.Store(head)
	}
	ch.head.Store(e)

	switch {
	case wasLive && e.tombstone:
		c.delta--
	case !wasLive && !e.tombstone:
		c.delta++
	}
	c.dirty[k] = struct{}{}
}

// keys returns every key written since the last publish or rollback.
func (c *chains[K, V]) keys() []K {
	keys := make([]K, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	return keys
}

func (c *chains[K, V]) publish() {
	c.live.Add(c.delta)
	c.delta = 0
	c.dirty = make(map[K]struct{})
}

// rollback drops every entry written at gen.
func (c *chains[K, V]) rollback(gen uint64) {
	for k := range c.dirty {
		ch := c.load(k)
		if ch == nil {
			continue
		}
		head := ch.head.Load()
		if head == nil || head.gen != gen {
			continue
		}
		prev := head.next.Load()
		ch.head.Store(prev)
		if prev == nil {
			c.index.Delete(k)
		}
	}
	c.delta = 0
	c.dirty = make(map[K]struct{})
}

// each calls fn for every key with a live value at gen.
func (c *chains[K, V]) each(gen uint64, fn func(k K, v V)) {
	c.index.Range(func(key, _ interface{}) bool {
		k := key.(K)
		if v, ok := c.get(k, gen); ok {
			fn(k, v)
		}
		return true
	})
}

// collect discards every entry that no reader at floor or later can reach.
// For each chain it keeps the entries newer than floor plus the newest entry
// at or below it. That entry is dropped too when it is a tombstone older than
// floor, and the key leaves the index once nothing newer remains. It returns the number of entries
// discarded.
func (c *chains[K, V]) collect(floor uint64) int {
	removed := 0
	c.index.Range(func(key, value interface{}) bool {
		ch := value.(*chain[V])

		var prev *version[V]
		e := ch.head.Load()
		for e != nil && e.gen > floor {
			prev, e = e, e.next.Load()
		}
		if e == nil {
			return true
		}

		for older := e.next.Load(); older != nil; older = older.next.Load() {
			removed++
		}
		e.next.Store(nil)

		if e.tombstone && e.gen < floor {
			removed++
			if prev == nil {
				ch.head.Store(nil)
				c.index.Delete(key)
			} else {
				prev.next.Store(nil)
			}
		}
		return true
	})
	return removed
}

// generations returns the number of distinct generations held in the chains.
func (c *chains[K, V]) generations() int {
	gens := make(map[uint64]struct{})
	c.index.Range(func(_, value interface{}) bool {
		for e := value.(*chain[V]).head.Load(); e != nil; e = e.next.Load() {
			gens[e.gen] = struct{}{}
		}
		return true
	})
	return len(gens)
}
