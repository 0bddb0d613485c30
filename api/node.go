package api

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// RootID is the identifier of the implicit tree root. Top-level nodes have
// RootID as their parent and a level of 1.
const RootID = -1

// ContentData is one payload (draft or published) of a node. Properties are
// kept in their serialized form and never interpreted by the cache.
type ContentData struct {
	Name        string
	URLSegment  string
	VersionID   int
	VersionDate time.Time
	WriterID    int
	TemplateID  int
	Published   bool
	Properties  []byte
}

// Copy returns a deep copy of d.
func (d *ContentData) Copy() *ContentData {
	if d == nil {
		return nil
	}
	c := *d
	if d.Properties != nil {
		c.Properties = append([]byte(nil), d.Properties...)
	}
	return &c
}

// Node is one element of a content tree at one logical revision.
//
// Nodes handed out by a store are shared between snapshots and must be
// treated as read-only.
type Node struct {
	ID        int
	Key       uuid.UUID
	ParentID  int
	Level     int
	Path      string
	SortOrder int

	ContentType *ContentType

	CreateDate time.Time
	CreatorID  int

	Draft     *ContentData
	Published *ContentData

	// Children lists the ids of the direct children, ordered by sort order.
	// It is maintained by the store; kits never carry it.
	Children []int
}

// Copy returns a copy of n that shares payloads and content type but owns its
// child list.
func (n *Node) Copy() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = append([]int(nil), n.Children...)
	}
	return &c
}

// ContentTypeID returns the id of the node's content type, or 0.
func (n *Node) ContentTypeID() int {
	if n.ContentType == nil {
		return 0
	}
	return n.ContentType.ID
}

// Data returns the payload to render: the draft when previewing and one
// exists, otherwise the published payload.
func (n *Node) Data(preview bool) *ContentData {
	if preview && n.Draft != nil {
		return n.Draft
	}
	return n.Published
}

// IsRoot reports whether n is the tree root sentinel.
func (n *Node) IsRoot() bool {
	return n.ID == RootID
}

// NodeKit is the unit of bulk transfer between the authoritative source, the
// local cache and the store.
type NodeKit struct {
	Node          *Node
	ContentTypeID int
	Draft         *ContentData
	Published     *ContentData
}

// IsEmpty reports whether the kit marks an absent node.
func (k NodeKit) IsEmpty() bool {
	return k.Node == nil
}

// Build creates the node described by the kit, bound to contentType. The
// returned node has no children.
func (k NodeKit) Build(contentType *ContentType) *Node {
	n := k.Node.Copy()
	n.Children = nil
	n.ContentType = contentType
	n.Draft = k.Draft
	n.Published = k.Published
	return n
}

// KitOf returns the kit describing n.
func KitOf(n *Node) NodeKit {
	structural := n.Copy()
	structural.Children = nil
	structural.ContentType = nil
	structural.Draft = nil
	structural.Published = nil
	return NodeKit{
		Node:          structural,
		ContentTypeID: n.ContentTypeID(),
		Draft:         n.Draft,
		Published:     n.Published,
	}
}

// SortKits orders kits by level, then parent id, then sort order. This is the
// order bulk loads require: every parent precedes its children.
func SortKits(kits []NodeKit) {
	sort.SliceStable(kits, func(i, j int) bool {
		return KitLess(kits[i], kits[j])
	})
}

// KitLess is the (level, parent, sort order) ordering used by SortKits.
func KitLess(a, b NodeKit) bool {
	x, y := a.Node, b.Node
	if x.Level != y.Level {
		return x.Level < y.Level
	}
	if x.ParentID != y.ParentID {
		return x.ParentID < y.ParentID
	}
	return x.SortOrder < y.SortOrder
}
