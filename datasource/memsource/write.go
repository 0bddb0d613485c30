package memsource

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/pkg/errors"
)

// WriteTx is a read/write transaction. Every change it makes is recorded as a
// change payload.
type WriteTx struct {
	readTx
	changes *changeSet
}

// SaveNode creates or replaces a node. Level and path are derived from the
// parent; a node that moves takes its descendants along.
func (tx *WriteTx) SaveNode(tree api.Tree, kit api.NodeKit) error {
	if kit.IsEmpty() {
		return api.ErrEmptyKit
	}
	if r, err := tx.contentType(kit.ContentTypeID); err != nil {
		return err
	} else if r == nil || r.ItemType != int(tree) {
		return errors.Wrapf(ErrUnknownContentType, "node %d: type %d", kit.Node.ID, kit.ContentTypeID)
	}

	existing, err := tx.node(tree, kit.Node.ID)
	if err != nil {
		return err
	}
	moved := existing != nil && existing.ParentID != kit.Node.ParentID

	kit = copyKit(kit)
	if kit.Node.Key == uuid.Nil {
		if existing != nil {
			kit.Node.Key = existing.Kit.Node.Key
		} else {
			kit.Node.Key = uuid.New()
		}
	}
	if err := tx.place(tree, kit.Node); err != nil {
		return err
	}
	if err := tx.insert(tree, kit); err != nil {
		return err
	}

	if moved {
		if err := tx.replaceDescendants(tree, kit.Node); err != nil {
			return err
		}
		tx.changes.content(tree, kit.Node.ID, api.TreeRefreshBranch)
	} else {
		tx.changes.content(tree, kit.Node.ID, api.TreeRefreshNode)
	}
	return nil
}

// place derives the level and path of n from its parent.
func (tx *WriteTx) place(tree api.Tree, n *api.Node) error {
	if n.ParentID == api.RootID {
		n.Level = 1
		n.Path = strconv.Itoa(api.RootID) + "," + strconv.Itoa(n.ID)
		return nil
	}
	parent, err := tx.node(tree, n.ParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return errors.Wrapf(ErrParentNotFound, "node %d: parent %d", n.ID, n.ParentID)
	}
	n.Level = parent.Kit.Node.Level + 1
	n.Path = parent.Kit.Node.Path + "," + strconv.Itoa(n.ID)
	return nil
}

func (tx *WriteTx) replaceDescendants(tree api.Tree, parent *api.Node) error {
	children, err := tx.nodes(indexParent, int(tree), parent.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		kit := copyKit(c.Kit)
		if err := tx.place(tree, kit.Node); err != nil {
			return err
		}
		if err := tx.insert(tree, kit); err != nil {
			return err
		}
		if err := tx.replaceDescendants(tree, kit.Node); err != nil {
			return err
		}
	}
	return nil
}

func (tx *WriteTx) insert(tree api.Tree, kit api.NodeKit) error {
	return tx.memDBTx.Insert(tableNode, &nodeRecord{
		Tree:     int(tree),
		ID:       kit.Node.ID,
		ParentID: kit.Node.ParentID,
		TypeID:   kit.ContentTypeID,
		Kit:      kit,
	})
}

// DeleteNode removes a node and its descendants. Deleting a missing node is
// a no-op.
func (tx *WriteTx) DeleteNode(tree api.Tree, id int) error {
	r, err := tx.node(tree, id)
	if err != nil || r == nil {
		return err
	}
	if err := tx.delete(tree, r); err != nil {
		return err
	}
	tx.changes.content(tree, id, api.TreeRemove)
	return nil
}

func (tx *WriteTx) delete(tree api.Tree, r *nodeRecord) error {
	children, err := tx.nodes(indexParent, int(tree), r.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := tx.delete(tree, c); err != nil {
			return err
		}
	}
	return tx.memDBTx.Delete(tableNode, r)
}

// RefreshAll records that the whole tree must be reloaded.
func (tx *WriteTx) RefreshAll(tree api.Tree) {
	tx.changes.content(tree, 0, api.TreeRefreshAll)
}

// SaveContentType creates or replaces a content type. Structural changes of
// an existing type are reported as main refreshes, others as other
// refreshes.
func (tx *WriteTx) SaveContentType(ct *api.ContentType) error {
	existing, err := tx.contentType(ct.ID)
	if err != nil {
		return err
	}

	c := *ct
	c.DataTypeIDs = append([]int(nil), ct.DataTypeIDs...)
	if err := tx.memDBTx.Insert(tableContentType, &typeRecord{
		ID:       c.ID,
		ItemType: int(c.ItemType),
		Type:     &c,
	}); err != nil {
		return err
	}

	switch {
	case existing == nil:
		tx.changes.contentType(ct.ItemType, ct.ID, api.ContentTypeCreate)
	case sameDataTypes(existing.Type, ct):
		tx.changes.contentType(ct.ItemType, ct.ID, api.ContentTypeRefreshOther)
	default:
		tx.changes.contentType(ct.ItemType, ct.ID, api.ContentTypeRefreshMain)
	}
	return nil
}

func sameDataTypes(a, b *api.ContentType) bool {
	if len(a.DataTypeIDs) != len(b.DataTypeIDs) {
		return false
	}
	for i := range a.DataTypeIDs {
		if a.DataTypeIDs[i] != b.DataTypeIDs[i] {
			return false
		}
	}
	return true
}

// DeleteContentType removes a content type together with its nodes.
func (tx *WriteTx) DeleteContentType(id int) error {
	r, err := tx.contentType(id)
	if err != nil || r == nil {
		return err
	}
	tree := api.Tree(r.ItemType)
	nodes, err := tx.nodes(indexType, r.ItemType, id)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		// an earlier iteration may have removed n with its ancestor
		if cur, err := tx.node(tree, n.ID); err != nil {
			return err
		} else if cur != nil {
			if err := tx.delete(tree, cur); err != nil {
				return err
			}
		}
	}
	if err := tx.memDBTx.Delete(tableContentType, r); err != nil {
		return err
	}
	tx.changes.contentType(tree, id, api.ContentTypeRemove)
	return nil
}

// RefreshDataTypes records that the data types changed.
func (tx *WriteTx) RefreshDataTypes(ids ...int) {
	tx.changes.dataTypes = append(tx.changes.dataTypes, ids...)
}

// SaveDomain creates or replaces a domain.
func (tx *WriteTx) SaveDomain(d *api.Domain) error {
	c := *d
	if err := tx.memDBTx.Insert(tableDomain, &domainRecord{ID: c.ID, Domain: &c}); err != nil {
		return err
	}
	tx.changes.domain(d.ID, api.DomainRefresh)
	return nil
}

// DeleteDomain removes a domain.
func (tx *WriteTx) DeleteDomain(id int) error {
	obj, err := tx.memDBTx.First(tableDomain, indexID, id)
	if err != nil || obj == nil {
		return err
	}
	if err := tx.memDBTx.Delete(tableDomain, obj); err != nil {
		return err
	}
	tx.changes.domain(id, api.DomainRemove)
	return nil
}

func copyKit(k api.NodeKit) api.NodeKit {
	c := k
	c.Node = k.Node.Copy()
	c.Node.Children = nil
	c.Node.ContentType = nil
	c.Draft = k.Draft.Copy()
	c.Published = k.Published.Copy()
	return c
}

// changeSet accumulates the payloads of one transaction.
type changeSet struct {
	trees     map[api.Tree][]api.ContentPayload
	types     []api.ContentTypePayload
	dataTypes []int
	domains   []api.DomainPayload
}

func newChangeSet() *changeSet {
	return &changeSet{trees: make(map[api.Tree][]api.ContentPayload)}
}

func (c *changeSet) content(tree api.Tree, id int, change api.TreeChangeTypes) {
	c.trees[tree] = append(c.trees[tree], api.ContentPayload{ID: id, ChangeTypes: change})
}

func (c *changeSet) contentType(tree api.Tree, id int, change api.ContentTypeChangeTypes) {
	c.types = append(c.types, api.ContentTypePayload{
		ItemType:    tree.ItemTypeName(),
		ID:          id,
		ChangeTypes: change,
	})
}

func (c *changeSet) domain(id int, change api.DomainChangeType) {
	c.domains = append(c.domains, api.DomainPayload{ID: id, ChangeType: change})
}

// messages returns the recorded changes, type changes first so that nodes
// are applied against current types.
func (c *changeSet) messages() []api.Message {
	var messages []api.Message
	if len(c.types) > 0 {
		messages = append(messages, api.ContentTypesChanged{Payloads: c.types})
	}
	if len(c.dataTypes) > 0 {
		messages = append(messages, api.DataTypesChanged{IDs: c.dataTypes})
	}
	for _, tree := range api.Trees {
		if payloads := c.trees[tree]; len(payloads) > 0 {
			messages = append(messages, api.ContentChanged{Tree: tree, Payloads: payloads})
		}
	}
	if len(c.domains) > 0 {
		messages = append(messages, api.DomainsChanged{Payloads: c.domains})
	}
	return messages
}
