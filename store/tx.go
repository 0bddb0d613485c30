package store

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TypeResolver returns the current definition of a content type. A nil type
// with a nil error means the type no longer exists.
type TypeResolver func(id int) (*api.ContentType, error)

// Tx is a write batch. Every change is written at the batch generation and
// becomes visible when the enclosing Update returns nil.
type Tx struct {
	ctx   context.Context
	store *ContentStore
	gen   uint64

	closed atomic.Bool

	// reset is set when the batch replaced the whole tree.
	reset bool
}

func newTx(ctx context.Context, s *ContentStore, gen uint64) *Tx {
	return &Tx{ctx: ctx, store: s, gen: gen}
}

func (tx *Tx) close() {
	tx.closed.Store(true)
}

func (tx *Tx) changed() bool {
	s := tx.store
	return len(s.nodes.dirty) > 0 || len(s.keys.dirty) > 0 || len(s.types.dirty) > 0
}

func (tx *Tx) logger() *logrus.Entry {
	return log.G(tx.ctx).WithFields(logrus.Fields{
		"tree": tx.store.name,
		"gen":  tx.gen,
	})
}

// Gen returns the generation the batch writes at.
func (tx *Tx) Gen() uint64 {
	return tx.gen
}

// LiveView returns a view of the store that includes the uncommitted changes
// of the batch. It must not be used once the batch is over.
func (tx *Tx) LiveView() *LiveView {
	return &LiveView{tx: tx, reader: reader{store: tx.store, gen: tx.gen}}
}

func (tx *Tx) node(id int) (*api.Node, bool) {
	return tx.store.nodes.get(id, tx.gen)
}

// Set creates or replaces the node described by kit. The node keeps its
// current children. The parent and the content type must exist.
func (tx *Tx) Set(kit api.NodeKit) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}
	if kit.IsEmpty() {
		return api.ErrEmptyKit
	}
	return tx.set(kit, false)
}

// set writes kit. When appending, the node is known to sort after its
// existing siblings.
func (tx *Tx) set(kit api.NodeKit, appending bool) error {
	s := tx.store
	id := kit.Node.ID
	if id == api.RootID {
		return errors.Errorf("node %d: cannot replace the tree root", id)
	}

	ct, ok := s.types.get(kit.ContentTypeID, tx.gen)
	if !ok {
		return errors.Wrapf(ErrUnknownContentType, "node %d: content type %d", id, kit.ContentTypeID)
	}
	if _, ok := tx.node(kit.Node.ParentID); !ok {
		return errors.Wrapf(ErrParentNotFound, "node %d: parent %d", id, kit.Node.ParentID)
	}

	n := kit.Build(ct)
	existing, exists := tx.node(id)
	if exists {
		if len(existing.Children) > 0 {
			n.Children = append([]int(nil), existing.Children...)
		}
		if existing.ParentID != n.ParentID || existing.SortOrder != n.SortOrder {
			tx.removeChild(existing.ParentID, id)
			tx.addChild(n.ParentID, id, n.SortOrder, false)
		}
		if existing.Key != n.Key {
			tx.clearKey(existing)
		}
	} else {
		tx.addChild(n.ParentID, id, n.SortOrder, appending)
	}

	s.nodes.set(id, n, tx.gen)
	s.keys.set(n.Key, id, tx.gen)
	if exists && (existing.Level != n.Level || existing.Path != n.Path) {
		tx.rebase(n, existing.Path)
	}
	return nil
}

// rebase moves the level and path of every descendant of n after n moved
// from oldPath.
func (tx *Tx) rebase(n *api.Node, oldPath string) {
	for _, id := range n.Children {
		c := tx.parent(id)
		if c == nil {
			continue
		}
		childPath := c.Path
		c.Level = n.Level + 1
		if oldPath != "" && strings.HasPrefix(childPath, oldPath+",") {
			c.Path = n.Path + childPath[len(oldPath):]
		}
		tx.rebase(c, childPath)
	}
}

// Clear removes the node and all its descendants. It reports whether the node
// existed.
func (tx *Tx) Clear(id int) bool {
	if tx.closed.Load() || id == api.RootID {
		return false
	}
	n, ok := tx.node(id)
	if !ok {
		return false
	}
	tx.removeChild(n.ParentID, id)
	tx.clearTree(n)
	return true
}

func (tx *Tx) clearTree(n *api.Node) {
	for _, child := range append([]int(nil), n.Children...) {
		if c, ok := tx.node(child); ok {
			tx.clearTree(c)
		}
	}
	tx.store.nodes.clear(n.ID, tx.gen)
	tx.clearKey(n)
}

func (tx *Tx) clearKey(n *api.Node) {
	if id, ok := tx.store.keys.get(n.Key, tx.gen); ok && id == n.ID {
		tx.store.keys.clear(n.Key, tx.gen)
	}
}

// SetBranch replaces the node rootID and all its descendants with kits. Any
// existing descendant not present in kits is removed. When kits does not
// contain rootID itself, only the descendants are replaced.
func (tx *Tx) SetBranch(rootID int, kits []api.NodeKit) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}

	kits = sortedCopy(kits)
	inBranch := map[int]struct{}{rootID: {}}
	withRoot := false
	for _, k := range kits {
		if k.Node.ID == rootID {
			withRoot = true
		} else if _, ok := inBranch[k.Node.ParentID]; !ok {
			return errors.Wrapf(ErrNotBranchRoot, "node %d under %d", k.Node.ID, rootID)
		}
		inBranch[k.Node.ID] = struct{}{}
	}

	if root, ok := tx.node(rootID); ok {
		if withRoot {
			tx.Clear(rootID)
		} else {
			for _, child := range append([]int(nil), root.Children...) {
				tx.Clear(child)
			}
		}
	}

	for _, k := range kits {
		// descendants arrive sorted under parents created by this batch
		if err := tx.set(k, k.Node.ID != rootID); err != nil {
			return err
		}
	}
	return nil
}

// SetAllFastSorted replaces the whole tree with kits in a single pass. Kits
// must be sorted by level, parent and sort order. Kits that cannot be placed
// are skipped and reported by returning false; the caller should then not
// trust the result.
func (tx *Tx) SetAllFastSorted(kits []api.NodeKit) bool {
	if tx.closed.Load() {
		return false
	}
	tx.clearAll()

	ok := true
	for i, k := range kits {
		if k.IsEmpty() {
			ok = false
			continue
		}
		if i > 0 && !kits[i-1].IsEmpty() && api.KitLess(k, kits[i-1]) {
			tx.logger().Warnf("node %d is out of order", k.Node.ID)
			ok = false
		}
		if err := tx.set(k, true); err != nil {
			tx.logger().WithError(err).Warn("skipping node")
			ok = false
		}
	}
	return ok
}

// SetAll replaces the whole tree with kits, in any order.
func (tx *Tx) SetAll(kits []api.NodeKit) bool {
	return tx.SetAllFastSorted(sortedCopy(kits))
}

func (tx *Tx) clearAll() {
	root, _ := tx.node(api.RootID)
	for _, id := range append([]int(nil), root.Children...) {
		tx.Clear(id)
	}
	tx.reset = true
}

// kits returns every node of the batch generation as kits, sorted.
func (tx *Tx) kits() []api.NodeKit {
	var kits []api.NodeKit
	tx.store.nodes.each(tx.gen, func(id int, n *api.Node) {
		if id != api.RootID {
			kits = append(kits, api.KitOf(n))
		}
	})
	api.SortKits(kits)
	return kits
}

// SetContentTypes replaces the whole content type table. Nodes of removed
// types are cleared; nodes of changed types are rebound.
func (tx *Tx) SetContentTypes(types []*api.ContentType) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}

	byID := make(map[int]*api.ContentType, len(types))
	ids := make([]int, 0, len(types))
	for _, ct := range types {
		byID[ct.ID] = ct
		ids = append(ids, ct.ID)
	}
	tx.store.types.each(tx.gen, func(id int, _ *api.ContentType) {
		if _, ok := byID[id]; !ok {
			ids = append(ids, id)
		}
	})

	return tx.UpdateContentTypes(ids, func(id int) (*api.ContentType, error) {
		return byID[id], nil
	})
}

// NewContentTypes adds types no node uses yet.
func (tx *Tx) NewContentTypes(types []*api.ContentType) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}
	for _, ct := range types {
		tx.store.types.set(ct.ID, ct, tx.gen)
	}
	return nil
}

// UpdateContentTypes rebinds the nodes of each type in ids to the definition
// returned by resolver. Node data and identity are kept. Types the resolver
// reports missing are removed together with their nodes.
func (tx *Tx) UpdateContentTypes(ids []int, resolver TypeResolver) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}

	rebind := make(map[int]*api.ContentType)
	var removed []int
	for _, id := range ids {
		ct, err := resolver(id)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve content type %d", id)
		}
		if ct == nil {
			if tx.store.types.clear(id, tx.gen) {
				removed = append(removed, id)
			}
			continue
		}
		tx.store.types.set(id, ct, tx.gen)
		rebind[id] = ct
	}

	tx.clearOfTypes(removed)

	for _, n := range tx.nodesOfTypes(keysOf(rebind)) {
		ct := rebind[n.ContentTypeID()]
		if pending, ok := tx.store.nodes.pending(n.ID, tx.gen); ok {
			pending.ContentType = ct
			continue
		}
		c := n.Copy()
		c.ContentType = ct
		tx.store.nodes.set(n.ID, c, tx.gen)
	}
	return nil
}

// RefreshContentTypes removes the types in removed with their nodes, stores
// the refreshed definitions and reloads the nodes of refreshed types from
// kits. Nodes of refreshed types missing from kits are removed.
func (tx *Tx) RefreshContentTypes(removed []int, refreshed []*api.ContentType, kits []api.NodeKit) error {
	if tx.closed.Load() {
		return ErrTxClosed
	}

	var gone []int
	for _, id := range removed {
		if tx.store.types.clear(id, tx.gen) {
			gone = append(gone, id)
		}
	}
	tx.clearOfTypes(gone)

	refreshedIDs := make([]int, 0, len(refreshed))
	for _, ct := range refreshed {
		tx.store.types.set(ct.ID, ct, tx.gen)
		refreshedIDs = append(refreshedIDs, ct.ID)
	}

	reloaded := make(map[int]struct{}, len(kits))
	for _, k := range sortedCopy(kits) {
		if k.IsEmpty() {
			continue
		}
		if err := tx.set(k, false); err != nil {
			tx.logger().WithError(err).Warn("skipping node")
			continue
		}
		reloaded[k.Node.ID] = struct{}{}
	}
	for _, n := range tx.nodesOfTypes(refreshedIDs) {
		if _, ok := reloaded[n.ID]; !ok {
			tx.Clear(n.ID)
		}
	}
	return nil
}

// UpdateDataTypes rebinds every type using one of the data types, and its
// nodes.
func (tx *Tx) UpdateDataTypes(dataTypeIDs []int, resolver TypeResolver) error {
	var ids []int
	tx.store.types.each(tx.gen, func(id int, ct *api.ContentType) {
		for _, dt := range dataTypeIDs {
			if ct.UsesDataType(dt) {
				ids = append(ids, id)
				return
			}
		}
	})
	sort.Ints(ids)
	return tx.UpdateContentTypes(ids, resolver)
}

func (tx *Tx) clearOfTypes(typeIDs []int) {
	for _, n := range tx.nodesOfTypes(typeIDs) {
		tx.Clear(n.ID)
	}
}

// nodesOfTypes returns the nodes bound to one of the types, parents first.
func (tx *Tx) nodesOfTypes(typeIDs []int) []*api.Node {
	if len(typeIDs) == 0 {
		return nil
	}
	want := make(map[int]struct{}, len(typeIDs))
	for _, id := range typeIDs {
		want[id] = struct{}{}
	}
	var nodes []*api.Node
	tx.store.nodes.each(tx.gen, func(id int, n *api.Node) {
		if _, ok := want[n.ContentTypeID()]; ok && id != api.RootID {
			nodes = append(nodes, n)
		}
	})
	sort.Slice(nodes, func(i, j int) bool {
		return nodeLess(nodes[i], nodes[j])
	})
	return nodes
}

// parent returns a version of the node id that may be modified in place,
// writing a new version at the batch generation if needed.
func (tx *Tx) parent(id int) *api.Node {
	s := tx.store
	if n, ok := s.nodes.pending(id, tx.gen); ok {
		return n
	}
	n, ok := tx.node(id)
	if !ok {
		return nil
	}
	c := n.Copy()
	s.nodes.set(id, c, tx.gen)
	return c
}

func (tx *Tx) addChild(parentID, id, sortOrder int, appending bool) {
	p := tx.parent(parentID)
	if p == nil {
		return
	}
	pos := len(p.Children)
	if !appending {
		for pos > 0 {
			sib, ok := tx.node(p.Children[pos-1])
			if !ok || sib.SortOrder <= sortOrder {
				break
			}
			pos--
		}
	}
	p.Children = append(p.Children, 0)
	copy(p.Children[pos+1:], p.Children[pos:])
	p.Children[pos] = id
}

func (tx *Tx) removeChild(parentID, id int) {
	n, ok := tx.node(parentID)
	if !ok || indexOf(n.Children, id) < 0 {
		return
	}
	p := tx.parent(parentID)
	i := indexOf(p.Children, id)
	p.Children = append(p.Children[:i], p.Children[i+1:]...)
}

func indexOf(ids []int, id int) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func keysOf[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func nodeLess(a, b *api.Node) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if a.ParentID != b.ParentID {
		return a.ParentID < b.ParentID
	}
	return a.SortOrder < b.SortOrder
}

func sortedCopy(kits []api.NodeKit) []api.NodeKit {
	sorted := make([]api.NodeKit, 0, len(kits))
	for _, k := range kits {
		if !k.IsEmpty() {
			sorted = append(sorted, k)
		}
	}
	api.SortKits(sorted)
	return sorted
}
