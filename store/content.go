package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/google/uuid"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/pkg/errors"
)

var (
	// ErrParentNotFound is returned when a node references a parent that
	// does not exist in the store.
	ErrParentNotFound = errors.New("parent node not found")

	// ErrUnknownContentType is returned when a kit references a content type
	// the store does not know.
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrNotBranchRoot is returned by SetBranch when a kit outside the branch
	// is supplied.
	ErrNotBranchRoot = errors.New("kit does not belong to the branch")

	// ErrTxClosed is returned when a transaction is used after its scope.
	ErrTxClosed = errors.New("transaction used outside of its update scope")

	// ErrLiveViewClosed is returned when a live view is read after its write
	// batch ended.
	ErrLiveViewClosed = errors.New("live view used outside of its update scope")
)

// LocalDB is the durable mirror a content store writes through to on every
// commit.
type LocalDB interface {
	// WriteThrough replaces the whole content of the mirror.
	WriteThrough(kits []api.NodeKit) error
	// Apply stores puts and deletes removed ids.
	Apply(puts []api.NodeKit, removed []int) error
	// Invalidate makes the mirror fail validation until its next
	// WriteThrough.
	Invalidate(ctx context.Context) error
	Bind()
	Unbind()
}

// Mutation is one item of a commit batch: a kit to set, or a removal.
type Mutation struct {
	ID     int
	Kit    api.NodeKit
	Remove bool
}

// ContentStore is a generation-versioned store of one content tree. Readers
// take snapshots pinned to a generation and never block; one writer at a
// time applies a batch through Update, which publishes a single new
// generation.
type ContentStore struct {
	name string

	// updateLock must be held during a write batch and during collection.
	updateLock sync.Mutex

	nodes *chains[int, *api.Node]
	keys  *chains[uuid.UUID, int]
	types *chains[int, *api.ContentType]
	gens  *generations

	localDB atomic.Pointer[localDBHolder]
}

type localDBHolder struct {
	db LocalDB
}

// NewContentStore returns an empty store for the named tree.
func NewContentStore(name string) *ContentStore {
	s := &ContentStore{
		name:  name,
		nodes: newChains[int, *api.Node](),
		keys:  newChains[uuid.UUID, int](),
		types: newChains[int, *api.ContentType](),
		gens:  newGenerations(),
	}
	// the root sentinel exists from generation 0 on
	s.nodes.set(api.RootID, &api.Node{ID: api.RootID, Path: "-1"}, 0)
	s.nodes.publish()
	return s
}

// Name returns the tree name the store was created with.
func (s *ContentStore) Name() string {
	return s.name
}

// BindLocalDB attaches a durable mirror. Every later commit writes through to
// it before publishing.
func (s *ContentStore) BindLocalDB(db LocalDB) {
	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	if prev := s.localDB.Load(); prev != nil {
		prev.db.Unbind()
	}
	db.Bind()
	s.localDB.Store(&localDBHolder{db: db})
}

// ReleaseLocalDB detaches the durable mirror, if any.
func (s *ContentStore) ReleaseLocalDB() {
	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	if prev := s.localDB.Swap(nil); prev != nil {
		prev.db.Unbind()
	}
}

// Update runs cb inside a write batch. Every change made through tx becomes
// visible atomically at one new generation when cb returns nil; if cb fails,
// nothing is published. A mirror that fails to take the batch is detached
// and invalidated, and the batch is published without it.
func (s *ContentStore) Update(ctx context.Context, cb func(tx *Tx) error) (err error) {
	defer metrics.StartTimer(updateLatencyTimer.WithValues(s.name))()

	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	tx := newTx(ctx, s, s.gens.next())
	published := false
	defer func() {
		tx.close()
		if !published {
			s.rollback(tx.gen)
		}
	}()

	if err := cb(tx); err != nil {
		return err
	}
	if !tx.changed() && !tx.reset {
		return nil
	}
	if err := s.writeThrough(tx); err != nil {
		s.dropLocalDB(ctx, err)
	}
	if !tx.changed() {
		// an empty tree replaced by an empty tree
		return nil
	}

	s.publish(tx.gen)
	published = true

	log.G(ctx).WithField("gen", tx.gen).Debugf("%s store committed", s.name)
	return nil
}

// Commit applies a batch of mutations as one generation. A mutation that
// cannot be applied fails the whole batch.
func (s *ContentStore) Commit(ctx context.Context, batch []Mutation) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, m := range batch {
			if m.Remove {
				tx.Clear(m.ID)
				continue
			}
			if err := tx.Set(m.Kit); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ContentStore) publish(gen uint64) {
	s.nodes.publish()
	s.keys.publish()
	s.types.publish()
	s.gens.publish(gen)

	itemsGauge.WithValues(s.name).Set(float64(s.Count()))
	generationGauge.WithValues(s.name).Set(float64(gen))
}

func (s *ContentStore) rollback(gen uint64) {
	s.nodes.rollback(gen)
	s.keys.rollback(gen)
	s.types.rollback(gen)
}

// dropLocalDB detaches a mirror that missed a batch. It must not be loaded
// again, so it is invalidated once unbound.
func (s *ContentStore) dropLocalDB(ctx context.Context, cause error) {
	holder := s.localDB.Swap(nil)
	if holder == nil {
		return
	}
	holder.db.Unbind()
	log.G(ctx).WithError(cause).Warnf("failed to write %s changes to the local cache, detaching it", s.name)
	if err := holder.db.Invalidate(ctx); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to invalidate the %s local cache", s.name)
	}
}

func (s *ContentStore) writeThrough(tx *Tx) error {
	holder := s.localDB.Load()
	if holder == nil {
		return nil
	}

	if tx.reset {
		return holder.db.WriteThrough(tx.kits())
	}

	var (
		puts    []api.NodeKit
		removed []int
	)
	for _, id := range s.nodes.keys() {
		if id == api.RootID {
			continue
		}
		if n, ok := s.nodes.get(id, tx.gen); ok {
			puts = append(puts, api.KitOf(n))
		} else {
			removed = append(removed, id)
		}
	}
	if len(puts) == 0 && len(removed) == 0 {
		return nil
	}
	return holder.db.Apply(puts, removed)
}

// CreateSnapshot pins the current generation and returns a read view of it.
// The snapshot must be released.
func (s *ContentStore) CreateSnapshot() *Snapshot {
	gen := s.gens.pin()
	snapshotsGauge.WithValues(s.name).Set(float64(s.gens.pinned()))
	return &Snapshot{reader: reader{store: s, gen: gen}}
}

func (s *ContentStore) release(gen uint64) {
	s.gens.unpin(gen)
	snapshotsGauge.WithValues(s.name).Set(float64(s.gens.pinned()))
}

// Collect discards versions no live snapshot can reach anymore. It excludes
// writers for its duration but never blocks readers.
func (s *ContentStore) Collect(ctx context.Context) int {
	defer metrics.StartTimer(collectLatencyTimer.WithValues(s.name))()

	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	start := time.Now()
	floor := s.gens.floor()
	removed := s.nodes.collect(floor) + s.keys.collect(floor) + s.types.collect(floor)
	collectedCounter.WithValues(s.name).Inc(float64(removed))

	log.G(ctx).WithFields(map[string]interface{}{
		"floor":    floor,
		"removed":  removed,
		"duration": time.Since(start),
	}).Debugf("collected %s store", s.name)
	return removed
}

// Gen returns the last published generation.
func (s *ContentStore) Gen() uint64 {
	return s.gens.current()
}

// Count returns the number of live nodes at the last published generation.
func (s *ContentStore) Count() int {
	// the root sentinel is always live
	return int(s.nodes.live.Load()) - 1
}

// GenCount returns the number of distinct generations still held by version
// chains.
func (s *ContentStore) GenCount() int {
	return s.nodes.generations()
}

// SnapCount returns the number of live snapshots.
func (s *ContentStore) SnapCount() int {
	return s.gens.pinned()
}
