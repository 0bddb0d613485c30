package store

import (
	"context"
	"sync"
	"sync/atomic"

	metrics "github.com/docker/go-metrics"
	"github.com/martinjgriffiths/nucache/log"
)

// SnapDictionary is a flat generation-versioned map with the same snapshot
// protocol as ContentStore. It holds auxiliary data such as domains.
type SnapDictionary[K comparable, V any] struct {
	name string

	updateLock sync.Mutex

	entries *chains[K, V]
	gens    *generations
}

// NewSnapDictionary returns an empty dictionary.
func NewSnapDictionary[K comparable, V any](name string) *SnapDictionary[K, V] {
	return &SnapDictionary[K, V]{
		name:    name,
		entries: newChains[K, V](),
		gens:    newGenerations(),
	}
}

// DictTx is a write batch on a SnapDictionary.
type DictTx[K comparable, V any] struct {
	dict   *SnapDictionary[K, V]
	gen    uint64
	closed atomic.Bool
}

// Set stores v under k.
func (tx *DictTx[K, V]) Set(k K, v V) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}
	tx.dict.entries.set(k, v, tx.gen)
	return nil
}

// Clear removes k. It reports whether k was present.
func (tx *DictTx[K, V]) Clear(k K) bool {
	if tx.closed.Load() {
		return false
	}
	return tx.dict.entries.clear(k, tx.gen)
}

// ClearAll removes every entry.
func (tx *DictTx[K, V]) ClearAll() {
	if tx.closed.Load() {
		return
	}
	var keys []K
	tx.dict.entries.each(tx.gen, func(k K, _ V) {
		keys = append(keys, k)
	})
	for _, k := range keys {
		tx.dict.entries.clear(k, tx.gen)
	}
}

// Get returns the value of k as seen by the batch.
func (tx *DictTx[K, V]) Get(k K) (V, bool) {
	return tx.dict.entries.get(k, tx.gen)
}

// Update runs cb inside a write batch that publishes one generation when cb
// returns nil.
func (d *SnapDictionary[K, V]) Update(ctx context.Context, cb func(tx *DictTx[K, V]) error) error {
	defer metrics.StartTimer(updateLatencyTimer.WithValues(d.name))()

	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	tx := &DictTx[K, V]{dict: d, gen: d.gens.next()}
	published := false
	defer func() {
		tx.closed.Store(true)
		if !published {
			d.entries.rollback(tx.gen)
		}
	}()

	if err := cb(tx); err != nil {
		return err
	}
	if len(d.entries.dirty) == 0 {
		return nil
	}

	d.entries.publish()
	d.gens.publish(tx.gen)
	published = true
	itemsGauge.WithValues(d.name).Set(float64(d.Count()))
	generationGauge.WithValues(d.name).Set(float64(tx.gen))

	log.G(ctx).WithField("gen", tx.gen).Debugf("%s dictionary committed", d.name)
	return nil
}

// CreateSnapshot pins the current generation.
func (d *SnapDictionary[K, V]) CreateSnapshot() *DictSnapshot[K, V] {
	gen := d.gens.pin()
	snapshotsGauge.WithValues(d.name).Set(float64(d.gens.pinned()))
	return &DictSnapshot[K, V]{dict: d, gen: gen}
}

// Collect discards versions no live snapshot can reach.
func (d *SnapDictionary[K, V]) Collect(ctx context.Context) int {
	defer metrics.StartTimer(collectLatencyTimer.WithValues(d.name))()

	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	removed := d.entries.collect(d.gens.floor())
	collectedCounter.WithValues(d.name).Inc(float64(removed))
	log.G(ctx).WithField("removed", removed).Debugf("collected %s dictionary", d.name)
	return removed
}

// Gen returns the last published generation.
func (d *SnapDictionary[K, V]) Gen() uint64 {
	return d.gens.current()
}

// Count returns the number of live entries.
func (d *SnapDictionary[K, V]) Count() int {
	return int(d.entries.live.Load())
}

// GenCount returns the number of distinct generations held by the chains.
func (d *SnapDictionary[K, V]) GenCount() int {
	return d.entries.generations()
}

// SnapCount returns the number of live snapshots.
func (d *SnapDictionary[K, V]) SnapCount() int {
	return d.gens.pinned()
}

// DictSnapshot is a read view of a SnapDictionary pinned to one generation.
type DictSnapshot[K comparable, V any] struct {
	dict     *SnapDictionary[K, V]
	gen      uint64
	released atomic.Bool
}

// Gen returns the pinned generation.
func (s *DictSnapshot[K, V]) Gen() uint64 {
	return s.gen
}

// Get returns the value stored under k.
func (s *DictSnapshot[K, V]) Get(k K) (V, bool) {
	if s.released.Load() {
		var zero V
		return zero, false
	}
	return s.dict.entries.get(k, s.gen)
}

// All returns every live value, in no particular order.
func (s *DictSnapshot[K, V]) All() []V {
	if s.released.Load() {
		return nil
	}
	var values []V
	s.dict.entries.each(s.gen, func(_ K, v V) {
		values = append(values, v)
	})
	return values
}

// Release unpins the snapshot. Releasing twice is a no-op.
func (s *DictSnapshot[K, V]) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.dict.gens.unpin(s.gen)
		snapshotsGauge.WithValues(s.dict.name).Set(float64(s.dict.gens.pinned()))
	}
}
