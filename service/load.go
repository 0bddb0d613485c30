package service

import (
	"context"
	"time"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/datasource"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/martinjgriffiths/nucache/store"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errLocalDBAnomaly rolls back a load from the local cache that could not
// place every kit.
var errLocalDBAnomaly = errors.New("local cache load raised warnings")

// load fills every store. The trees load concurrently, each under its own
// write lock; domains load once both are done.
func (s *Service) load(ctx context.Context) error {
	useLocalDB := s.localDBsValid(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range api.Trees {
		t := s.trees[kind]
		g.Go(func() error {
			return s.loadTree(gctx, t, useLocalDB)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.domains.Update(ctx, func(tx *store.DictTx[int, *api.Domain]) error {
		return s.src.View(ctx, func(rtx datasource.ReadTx) error {
			return loadDomains(rtx, tx)
		})
	})
}

// localDBsValid reports whether the local caches can be trusted. Trees are
// persisted independently, so one invalid file discards both.
func (s *Service) localDBsValid(ctx context.Context) bool {
	if s.cfg.IgnoreLocalDB {
		return false
	}
	for _, t := range s.trees {
		if !t.localDB.IsValid(ctx) {
			log.G(ctx).WithField("file", t.localDB.Path()).Info("local cache is missing or invalid")
			return false
		}
	}
	return true
}

func (s *Service) loadTree(ctx context.Context, t *tree, useLocalDB bool) error {
	ctx = log.WithField(ctx, "tree", t.kind.String())

	if useLocalDB {
		err := s.loadTreeFromLocalDB(ctx, t)
		if err == nil {
			t.store.BindLocalDB(t.localDB)
			return nil
		}
		log.G(ctx).WithError(err).Warn("loading from the local cache failed, will reload from the source")
	}
	return s.loadTreeFromSource(ctx, t)
}

func (s *Service) loadTreeFromLocalDB(ctx context.Context, t *tree) error {
	var types []*api.ContentType
	if err := s.src.View(ctx, func(rtx datasource.ReadTx) error {
		var err error
		types, err = rtx.ContentTypes(t.kind, nil)
		return err
	}); err != nil {
		return errors.Wrap(err, "failed to read content types")
	}

	start := time.Now()
	kits, err := t.localDB.Load(ctx)
	if err != nil {
		return err
	}
	err = t.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.SetContentTypes(types); err != nil {
			return err
		}
		if !tx.SetAllFastSorted(kits) {
			return errLocalDBAnomaly
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.G(ctx).WithFields(map[string]interface{}{
		"items":    len(kits),
		"duration": time.Since(start),
	}).Info("loaded from the local cache")
	return nil
}

// loadTreeFromSource binds the local cache first, so that the full load is
// written through to it.
func (s *Service) loadTreeFromSource(ctx context.Context, t *tree) error {
	if t.localDB != nil {
		t.store.BindLocalDB(t.localDB)
	}

	start := time.Now()
	var count int
	err := t.store.Update(ctx, func(tx *store.Tx) error {
		return s.src.View(ctx, func(rtx datasource.ReadTx) error {
			n, ok, err := reloadTree(rtx, t.kind, tx, true)
			if err != nil {
				return err
			}
			if !ok {
				log.G(ctx).Warn("loading from the source raised warnings")
			}
			count = n
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(err, "failed to load %s from the source", t.kind)
	}

	log.G(ctx).WithFields(map[string]interface{}{
		"items":    count,
		"duration": time.Since(start),
	}).Info("loaded from the source")
	return nil
}

// reloadTree replaces the content types and every node of the tree with what
// the source holds. It returns the number of kits read.
func reloadTree(rtx datasource.ReadTx, kind api.Tree, tx *store.Tx, sorted bool) (int, bool, error) {
	types, err := rtx.ContentTypes(kind, nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read content types")
	}
	kits, err := rtx.GetAll(kind)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read kits")
	}
	if err := tx.SetContentTypes(types); err != nil {
		return 0, false, err
	}
	if sorted {
		return len(kits), tx.SetAllFastSorted(kits), nil
	}
	return len(kits), tx.SetAll(kits), nil
}

func (s *Service) reload(ctx context.Context, t *tree) error {
	before := t.store.Gen()
	err := t.store.Update(ctx, func(tx *store.Tx) error {
		return s.src.View(ctx, func(rtx datasource.ReadTx) error {
			_, ok, err := reloadTree(rtx, t.kind, tx, false)
			if err == nil && !ok {
				log.G(ctx).WithField("tree", t.kind.String()).Warn("reload raised warnings")
			}
			return err
		})
	})
	if err != nil {
		return err
	}
	s.publishCommit(t.kind.String(), before, t.store.Gen())
	return nil
}

// loadDomains replaces every domain. Domains without a root node or a
// culture cannot be routed to and are skipped.
func loadDomains(rtx datasource.ReadTx, tx *store.DictTx[int, *api.Domain]) error {
	domains, err := rtx.Domains()
	if err != nil {
		return errors.Wrap(err, "failed to read domains")
	}
	tx.ClearAll()
	for _, d := range domains {
		if !routable(d) {
			continue
		}
		if err := tx.Set(d.ID, d); err != nil {
			return err
		}
	}
	return nil
}

func routable(d *api.Domain) bool {
	return d.ContentID > 0 && d.Culture != ""
}
