package store

import (
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/martinjgriffiths/nucache/api"
)

// reader resolves lookups against the chains at one generation.
type reader struct {
	store *ContentStore
	gen   uint64
}

func (r reader) get(id int) *api.Node {
	if id == api.RootID {
		return nil
	}
	n, _ := r.store.nodes.get(id, r.gen)
	return n
}

func (r reader) getByKey(key uuid.UUID) *api.Node {
	id, ok := r.store.keys.get(key, r.gen)
	if !ok {
		return nil
	}
	return r.get(id)
}

func (r reader) children(id int) []*api.Node {
	n, ok := r.store.nodes.get(id, r.gen)
	if !ok {
		return nil
	}
	children := make([]*api.Node, 0, len(n.Children))
	for _, child := range n.Children {
		if c := r.get(child); c != nil {
			children = append(children, c)
		}
	}
	return children
}

func (r reader) ancestors(id int) []*api.Node {
	n := r.get(id)
	if n == nil {
		return nil
	}
	var ancestors []*api.Node
	for p := r.get(n.ParentID); p != nil; p = r.get(p.ParentID) {
		ancestors = append(ancestors, p)
	}
	return ancestors
}

func (r reader) descendants(id int) []*api.Node {
	var nodes []*api.Node
	var walk func(int)
	walk = func(id int) {
		for _, c := range r.children(id) {
			nodes = append(nodes, c)
			walk(c.ID)
		}
	}
	walk(id)
	return nodes
}

func (r reader) all() []*api.Node {
	var nodes []*api.Node
	r.store.nodes.each(r.gen, func(id int, n *api.Node) {
		if id != api.RootID {
			nodes = append(nodes, n)
		}
	})
	sort.Slice(nodes, func(i, j int) bool {
		return nodeLess(nodes[i], nodes[j])
	})
	return nodes
}

func (r reader) contentType(id int) *api.ContentType {
	ct, _ := r.store.types.get(id, r.gen)
	return ct
}

// Snapshot is a read view of a content store pinned to one generation. What
// it returns never changes during its lifetime. A released snapshot returns
// nothing.
type Snapshot struct {
	reader
	released atomic.Bool
}

// Gen returns the generation the snapshot is pinned to.
func (s *Snapshot) Gen() uint64 {
	return s.gen
}

// Release unpins the snapshot. Releasing twice is a no-op.
func (s *Snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.store.release(s.gen)
	}
}

// Released reports whether Release was called.
func (s *Snapshot) Released() bool {
	return s.released.Load()
}

// Get returns the node with the given id, or nil.
func (s *Snapshot) Get(id int) *api.Node {
	if s.Released() {
		return nil
	}
	return s.get(id)
}

// GetByKey returns the node with the given external key, or nil.
func (s *Snapshot) GetByKey(key uuid.UUID) *api.Node {
	if s.Released() {
		return nil
	}
	return s.getByKey(key)
}

// AtRoot returns the top-level nodes, ordered by sort order.
func (s *Snapshot) AtRoot() []*api.Node {
	return s.Children(api.RootID)
}

// Children returns the direct children of a node, ordered by sort order.
func (s *Snapshot) Children(id int) []*api.Node {
	if s.Released() {
		return nil
	}
	return s.children(id)
}

// Ancestors returns the ancestors of a node, nearest first. The tree root is
// not included.
func (s *Snapshot) Ancestors(id int) []*api.Node {
	if s.Released() {
		return nil
	}
	return s.ancestors(id)
}

// Descendants returns every node below id, depth first.
func (s *Snapshot) Descendants(id int) []*api.Node {
	if s.Released() {
		return nil
	}
	return s.descendants(id)
}

// All returns every node ordered by level, parent and sort order.
func (s *Snapshot) All() []*api.Node {
	if s.Released() {
		return nil
	}
	return s.all()
}

// ContentType returns the content type with the given id, or nil.
func (s *Snapshot) ContentType(id int) *api.ContentType {
	if s.Released() {
		return nil
	}
	return s.contentType(id)
}

// LiveView reads the store at the generation a write batch is building.
type LiveView struct {
	reader
	tx *Tx
}

// Valid reports whether the batch the view belongs to is still running.
func (v *LiveView) Valid() bool {
	return !v.tx.closed.Load()
}

// Get returns the node with the given id, or nil.
func (v *LiveView) Get(id int) (*api.Node, error) {
	if !v.Valid() {
		return nil, ErrLiveViewClosed
	}
	return v.get(id), nil
}

// GetByKey returns the node with the given external key, or nil.
func (v *LiveView) GetByKey(key uuid.UUID) (*api.Node, error) {
	if !v.Valid() {
		return nil, ErrLiveViewClosed
	}
	return v.getByKey(key), nil
}

// Children returns the direct children of a node.
func (v *LiveView) Children(id int) ([]*api.Node, error) {
	if !v.Valid() {
		return nil, ErrLiveViewClosed
	}
	return v.children(id), nil
}

// ContentType returns the content type with the given id, or nil.
func (v *LiveView) ContentType(id int) (*api.ContentType, error) {
	if !v.Valid() {
		return nil, ErrLiveViewClosed
	}
	return v.contentType(id), nil
}
