// Package datasource defines the interfaces of the authoritative store the
// cache is loaded from and kept in sync with.
package datasource

import (
	"context"

	"github.com/martinjgriffiths/nucache/api"
)

// ReadTx is a consistent read view of the authoritative store. Kit
// sequences are sorted by level, parent and sort order.
type ReadTx interface {
	// GetAll returns every node of the tree.
	GetAll(tree api.Tree) ([]api.NodeKit, error)
	// GetBranch returns the node id and all its descendants, or nothing
	// when the node does not exist.
	GetBranch(tree api.Tree, id int) ([]api.NodeKit, error)
	// GetOne returns the node id. The kit is empty when it does not exist.
	GetOne(tree api.Tree, id int) (api.NodeKit, error)
	// GetByType returns the nodes bound to one of the content types.
	GetByType(tree api.Tree, typeIDs []int) ([]api.NodeKit, error)
	// Count returns the number of nodes of the tree.
	Count(tree api.Tree) (int, error)

	// ContentTypes returns the types of the tree with the given ids, or all
	// of them when ids is nil. Unknown ids are skipped.
	ContentTypes(tree api.Tree, ids []int) ([]*api.ContentType, error)

	// Domains returns every domain.
	Domains() ([]*api.Domain, error)
	// Domain returns the domain id, or nil.
	Domain(id int) (*api.Domain, error)
}

// Source is the authoritative store.
type Source interface {
	View(ctx context.Context, cb func(tx ReadTx) error) error
}

// Handler applies a change message. It runs synchronously inside the
// update of the source that produced the message.
type Handler func(ctx context.Context, msg api.Message) error

// Notifier publishes the change messages of a source.
type Notifier interface {
	// Subscribe registers h and returns a function that unregisters it.
	Subscribe(h Handler) (cancel func())
}
