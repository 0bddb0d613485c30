package service

import (
	"context"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/datasource"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/martinjgriffiths/nucache/store"
	"github.com/pkg/errors"
)

// acquire takes the shared lifecycle lock. It returns false, with the lock
// released, when the caches are not ready.
func (s *Service) acquire() (bool, error) {
	s.lifecycle.RLock()
	switch s.State() {
	case StateReady:
		return true, nil
	case StateClosed:
		s.lifecycle.RUnlock()
		return false, ErrClosed
	default:
		s.lifecycle.RUnlock()
		return false, nil
	}
}

// NotifyContent applies content payloads as one batch and reports whether
// the draft and published views may have changed. Before the caches are
// loaded the local cache is invalidated instead, so that the next load reads
// from the source.
func (s *Service) NotifyContent(ctx context.Context, payloads []api.ContentPayload) (draftChanged, publishedChanged bool, err error) {
	changed, err := s.notifyTree(ctx, api.TreeContent, payloads)
	return changed, changed, err
}

// NotifyMedia applies media payloads as one batch and reports whether
// anything may have changed.
func (s *Service) NotifyMedia(ctx context.Context, payloads []api.ContentPayload) (bool, error) {
	return s.notifyTree(ctx, api.TreeMedia, payloads)
}

func (s *Service) notifyTree(ctx context.Context, kind api.Tree, payloads []api.ContentPayload) (bool, error) {
	ctx = log.WithFields(ctx, map[string]interface{}{"module": "service", "tree": kind.String()})
	t := s.trees[kind]

	ok, err := s.acquire()
	if err != nil {
		return false, err
	}
	if !ok {
		s.invalidateLocalDB(ctx, t)
		return true, nil
	}
	defer s.lifecycle.RUnlock()

	for _, p := range payloads {
		log.G(ctx).Debugf("notified %s for node %d", p.ChangeTypes, p.ID)
	}

	before := t.store.Gen()
	changed := false
	err = t.store.Update(ctx, func(tx *store.Tx) error {
		changed = false
		return s.src.View(ctx, func(rtx datasource.ReadTx) error {
			var err error
			changed, err = applyPayloads(ctx, rtx, kind, tx, payloads)
			return err
		})
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to apply %s notifications", kind)
	}
	s.publishCommit(kind.String(), before, t.store.Gen())
	return changed, nil
}

// applyPayloads applies payloads in order. A refresh-all anywhere in the
// batch supersedes every other payload; so does a node that cannot be placed,
// which falls back to reloading the tree.
func applyPayloads(ctx context.Context, rtx datasource.ReadTx, kind api.Tree, tx *store.Tx, payloads []api.ContentPayload) (bool, error) {
	for _, p := range payloads {
		if p.ChangeTypes.Has(api.TreeRefreshAll) {
			_, _, err := reloadTree(rtx, kind, tx, false)
			return true, err
		}
	}

	changed := false
	for _, p := range payloads {
		switch {
		case p.ChangeTypes.Has(api.TreeRemove):
			if tx.Clear(p.ID) {
				changed = true
			}
			continue

		case p.ChangeTypes.HasNone(api.TreeRefreshNode | api.TreeRefreshBranch):
			continue

		case p.ChangeTypes.Has(api.TreeRefreshBranch):
			kits, err := rtx.GetBranch(kind, p.ID)
			if err != nil {
				return changed, errors.Wrapf(err, "failed to read branch %d", p.ID)
			}
			if len(kits) == 0 {
				tx.Clear(p.ID)
			} else if err := tx.SetBranch(p.ID, kits); err != nil {
				return true, reloadAfter(ctx, rtx, kind, tx, err)
			}

		default:
			kit, err := rtx.GetOne(kind, p.ID)
			if err != nil {
				return changed, errors.Wrapf(err, "failed to read node %d", p.ID)
			}
			if kit.IsEmpty() {
				tx.Clear(p.ID)
			} else if err := tx.Set(kit); err != nil {
				return true, reloadAfter(ctx, rtx, kind, tx, err)
			}
		}

		// refreshes are not checked against the current version
		changed = true
	}
	return changed, nil
}

func reloadAfter(ctx context.Context, rtx datasource.ReadTx, kind api.Tree, tx *store.Tx, cause error) error {
	log.G(ctx).WithError(cause).Warn("notification could not be applied, reloading the tree")
	_, _, err := reloadTree(rtx, kind, tx, false)
	return err
}

func (s *Service) invalidateLocalDB(ctx context.Context, t *tree) {
	if t.localDB == nil {
		return
	}
	if err := t.localDB.Invalidate(ctx); err != nil {
		log.G(ctx).WithError(err).Warn("failed to invalidate the local cache")
	}
}

type typeChanges struct {
	removed, refreshed, other, created []int
}

func (c typeChanges) empty() bool {
	return len(c.removed) == 0 && len(c.refreshed) == 0 && len(c.other) == 0 && len(c.created) == 0
}

func splitTypeChanges(kind api.Tree, payloads []api.ContentTypePayload) typeChanges {
	var c typeChanges
	name := kind.ItemTypeName()
	for _, p := range payloads {
		if p.ItemType != name {
			continue
		}
		switch {
		case p.ChangeTypes.Has(api.ContentTypeRemove):
			c.removed = append(c.removed, p.ID)
		case p.ChangeTypes.Has(api.ContentTypeRefreshMain):
			c.refreshed = append(c.refreshed, p.ID)
		case p.ChangeTypes.Has(api.ContentTypeRefreshOther):
			c.other = append(c.other, p.ID)
		case p.ChangeTypes.Has(api.ContentTypeCreate):
			c.created = append(c.created, p.ID)
		}
	}
	return c
}

// NotifyContentTypes applies content and media type payloads, one batch per
// tree. With live models every tree is reloaded afterwards. Notifications
// received before the caches are loaded are ignored.
func (s *Service) NotifyContentTypes(ctx context.Context, payloads []api.ContentTypePayload) error {
	ctx = log.WithModule(ctx, "service")
	ok, err := s.acquire()
	if !ok {
		return err
	}
	defer s.lifecycle.RUnlock()

	for _, p := range payloads {
		log.G(ctx).Debugf("notified %s for %s %d", p.ChangeTypes, p.ItemType, p.ID)
	}

	for _, kind := range api.Trees {
		if err := s.refreshContentTypes(ctx, s.trees[kind], splitTypeChanges(kind, payloads)); err != nil {
			return err
		}
	}

	if s.cfg.LiveModels {
		for _, kind := range api.Trees {
			if err := s.reload(ctx, s.trees[kind]); err != nil {
				return errors.Wrapf(err, "failed to reload %s", kind)
			}
		}
	}
	return nil
}

func (s *Service) refreshContentTypes(ctx context.Context, t *tree, c typeChanges) error {
	if c.empty() {
		return nil
	}

	before := t.store.Gen()
	err := t.store.Update(ctx, func(tx *store.Tx) error {
		return s.src.View(ctx, func(rtx datasource.ReadTx) error {
			if len(c.removed) > 0 || len(c.refreshed) > 0 {
				var (
					types []*api.ContentType
					kits  []api.NodeKit
				)
				removed := c.removed
				if len(c.refreshed) > 0 {
					var err error
					if types, err = rtx.ContentTypes(t.kind, c.refreshed); err != nil {
						return err
					}
					if kits, err = rtx.GetByType(t.kind, c.refreshed); err != nil {
						return err
					}
					// refreshed types the source lost are removed
					removed = append(append([]int(nil), removed...), missingTypes(c.refreshed, types)...)
				}
				if err := tx.RefreshContentTypes(removed, types, kits); err != nil {
					return err
				}
			}
			if len(c.other) > 0 {
				if err := tx.UpdateContentTypes(c.other, resolver(rtx, t.kind)); err != nil {
					return err
				}
			}
			if len(c.created) > 0 {
				types, err := rtx.ContentTypes(t.kind, c.created)
				if err != nil {
					return err
				}
				if err := tx.NewContentTypes(types); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(err, "failed to refresh %s types", t.kind)
	}
	s.publishCommit(t.kind.String(), before, t.store.Gen())
	return nil
}

func missingTypes(ids []int, types []*api.ContentType) []int {
	found := make(map[int]struct{}, len(types))
	for _, ct := range types {
		found[ct.ID] = struct{}{}
	}
	var missing []int
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func resolver(rtx datasource.ReadTx, kind api.Tree) store.TypeResolver {
	return func(id int) (*api.ContentType, error) {
		types, err := rtx.ContentTypes(kind, []int{id})
		if err != nil || len(types) == 0 {
			return nil, err
		}
		return types[0], nil
	}
}

// NotifyDataTypes rebinds, in every tree, the content types that use one of
// the data types.
func (s *Service) NotifyDataTypes(ctx context.Context, ids []int) error {
	ctx = log.WithModule(ctx, "service")
	ok, err := s.acquire()
	if !ok {
		return err
	}
	defer s.lifecycle.RUnlock()

	log.G(ctx).Debugf("notified data types %v", ids)

	for _, kind := range api.Trees {
		t := s.trees[kind]
		before := t.store.Gen()
		err := t.store.Update(ctx, func(tx *store.Tx) error {
			return s.src.View(ctx, func(rtx datasource.ReadTx) error {
				return tx.UpdateDataTypes(ids, resolver(rtx, kind))
			})
		})
		if err != nil {
			return errors.Wrapf(err, "failed to update %s data types", kind)
		}
		s.publishCommit(kind.String(), before, t.store.Gen())
	}
	return nil
}

// NotifyDomains applies domain payloads as one batch.
func (s *Service) NotifyDomains(ctx context.Context, payloads []api.DomainPayload) error {
	ctx = log.WithModule(ctx, "service")
	ok, err := s.acquire()
	if !ok {
		return err
	}
	defer s.lifecycle.RUnlock()

	before := s.domains.Gen()
	err = s.domains.Update(ctx, func(tx *store.DictTx[int, *api.Domain]) error {
		return s.src.View(ctx, func(rtx datasource.ReadTx) error {
			for _, p := range payloads {
				log.G(ctx).Debugf("notified %s for domain %d", p.ChangeType, p.ID)

				switch p.ChangeType {
				case api.DomainRefreshAll:
					if err := loadDomains(rtx, tx); err != nil {
						return err
					}
				case api.DomainRemove:
					tx.Clear(p.ID)
				case api.DomainRefresh:
					d, err := rtx.Domain(p.ID)
					if err != nil {
						return errors.Wrapf(err, "failed to read domain %d", p.ID)
					}
					if d == nil || !routable(d) {
						continue
					}
					if err := tx.Set(d.ID, d); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "failed to apply domain notifications")
	}
	s.publishCommit("domains", before, s.domains.Gen())
	return nil
}
