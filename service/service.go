// Package service keeps the published content caches in step with the
// authoritative source. It loads every tree on start, then applies change
// notifications as write batches on the stores.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	events "github.com/docker/go-events"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/config"
	"github.com/martinjgriffiths/nucache/datasource"
	"github.com/martinjgriffiths/nucache/localdb"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/martinjgriffiths/nucache/store"
	"github.com/martinjgriffiths/nucache/watch"
	"github.com/pkg/errors"
)

var (
	// ErrNotReady is returned by reads issued before the caches are loaded.
	ErrNotReady = errors.New("service: caches are not ready")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("service: already started")

	// ErrStartFailed is returned by Start once a previous start failed.
	ErrStartFailed = errors.New("service: start failed")

	// ErrClosed is returned when the service is used after Close.
	ErrClosed = errors.New("service: closed")
)

// State is the lifecycle state of a Service.
type State int32

const (
	// StateNotReady is the state before Start.
	StateNotReady State = iota
	// StateLoading is the state while the caches are being loaded.
	StateLoading
	// StateReady is the state once every cache is loaded.
	StateReady
	// StateClosed is the state after Close.
	StateClosed
	// StateFailed is the state after a failed start. It is terminal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not ready"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventCommit is published on the watch queue each time a notification
// produces a new generation.
type EventCommit struct {
	Store string
	Gen   uint64
}

type tree struct {
	kind    api.Tree
	store   *store.ContentStore
	localDB *localdb.Cache
}

// Service owns the content and media stores, the domain dictionary and their
// local caches.
type Service struct {
	cfg *config.Config
	src datasource.Source

	state atomic.Int32

	// lifecycle is held exclusively while loading, and shared by every
	// notification, so that notifications received during the load wait
	// for it to finish.
	lifecycle sync.RWMutex

	trees   map[api.Tree]*tree
	domains *store.SnapDictionary[int, *api.Domain]

	queue *watch.Queue

	mu          sync.Mutex
	unsubscribe []func()
}

// New creates a service reading from src. Unless the configuration ignores
// the local cache, the local cache files are opened under the cache
// directory.
func New(cfg *config.Config, src datasource.Source) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		src:     src,
		trees:   make(map[api.Tree]*tree, len(api.Trees)),
		domains: store.NewSnapDictionary[int, *api.Domain]("domains"),
		queue:   watch.NewQueue(),
	}
	for _, kind := range api.Trees {
		t := &tree{kind: kind, store: store.NewContentStore(kind.String())}
		if !cfg.IgnoreLocalDB {
			db, err := localdb.Open(cfg.CacheDir, kind)
			if err != nil {
				s.closeLocalDBs()
				return nil, errors.Wrapf(err, "failed to open the %s local cache", kind)
			}
			t.localDB = db
		}
		s.trees[kind] = t
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// IsReady reports whether the caches are loaded.
func (s *Service) IsReady() bool {
	return s.State() == StateReady
}

// Store returns the store of a tree.
func (s *Service) Store(kind api.Tree) *store.ContentStore {
	return s.trees[kind].store
}

// Domains returns the domain dictionary.
func (s *Service) Domains() *store.SnapDictionary[int, *api.Domain] {
	return s.domains
}

// Start loads every cache. It runs once; a load error leaves the service
// failed for good and must be treated as fatal by the caller.
func (s *Service) Start(ctx context.Context) error {
	ctx = log.WithModule(ctx, "service")
	if !s.state.CompareAndSwap(int32(StateNotReady), int32(StateLoading)) {
		switch s.State() {
		case StateClosed:
			return ErrClosed
		case StateFailed:
			return ErrStartFailed
		default:
			return ErrAlreadyStarted
		}
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if err := s.load(ctx); err != nil {
		log.G(ctx).WithError(err).Error("error while loading cache data")
		for _, t := range s.trees {
			t.store.ReleaseLocalDB()
		}
		s.state.Store(int32(StateFailed))
		return err
	}

	s.state.Store(int32(StateReady))
	log.G(ctx).Info("caches are ready")
	return nil
}

// Subscribe applies every message n publishes from now on, until Close.
func (s *Service) Subscribe(n datasource.Notifier) {
	cancel := n.Subscribe(s.HandleChange)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe = append(s.unsubscribe, cancel)
}

// Watch returns a channel receiving an EventCommit for every generation
// published by a notification.
func (s *Service) Watch() (chan events.Event, func()) {
	return s.queue.Watch()
}

// HandleChange applies one change message. It can be passed to a
// datasource.Notifier.
func (s *Service) HandleChange(ctx context.Context, msg api.Message) error {
	switch m := msg.(type) {
	case api.ContentChanged:
		if m.Tree == api.TreeMedia {
			_, err := s.NotifyMedia(ctx, m.Payloads)
			return err
		}
		_, _, err := s.NotifyContent(ctx, m.Payloads)
		return err
	case api.ContentTypesChanged:
		return s.NotifyContentTypes(ctx, m.Payloads)
	case api.DataTypesChanged:
		return s.NotifyDataTypes(ctx, m.IDs)
	case api.DomainsChanged:
		return s.NotifyDomains(ctx, m.Payloads)
	default:
		return errors.Errorf("unknown change message %T", msg)
	}
}

// Close stops applying notifications, detaches and closes the local caches.
func (s *Service) Close() error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	for _, cancel := range unsubscribe {
		cancel()
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	for _, t := range s.trees {
		t.store.ReleaseLocalDB()
	}
	err := s.closeLocalDBs()
	s.queue.Close()
	return err
}

func (s *Service) closeLocalDBs() error {
	var firstErr error
	for _, t := range s.trees {
		if t.localDB == nil {
			continue
		}
		if err := t.localDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// publishCommit announces gen when it is newer than before.
func (s *Service) publishCommit(name string, before, gen uint64) {
	if gen != before {
		s.queue.Publish(EventCommit{Store: name, Gen: gen})
	}
}
