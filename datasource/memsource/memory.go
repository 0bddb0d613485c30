// Package memsource is an in-memory authoritative store backed by go-memdb.
// It publishes change messages to its subscribers synchronously, after each
// write transaction commits and before Update returns.
package memsource

import (
	"context"
	"sync"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/datasource"
	"github.com/martinjgriffiths/nucache/log"
	"github.com/pkg/errors"
)

const (
	tableNode        = "node"
	tableContentType = "contenttype"
	tableDomain      = "domain"

	indexID       = "id"
	indexTree     = "tree"
	indexParent   = "parent"
	indexType     = "type"
	indexItemType = "itemtype"
)

var (
	// ErrParentNotFound is returned when saving a node under a parent that
	// does not exist.
	ErrParentNotFound = errors.New("memsource: parent not found")

	// ErrUnknownContentType is returned when saving a node bound to a type
	// that does not exist.
	ErrUnknownContentType = errors.New("memsource: unknown content type")

	schema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableNode: {
				Name: tableNode,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: treeIndex("ID"),
					},
					indexTree: {
						Name:    indexTree,
						Indexer: &memdb.IntFieldIndex{Field: "Tree"},
					},
					indexParent: {
						Name:    indexParent,
						Indexer: treeIndex("ParentID"),
					},
					indexType: {
						Name:    indexType,
						Indexer: treeIndex("TypeID"),
					},
				},
			},
			tableContentType: {
				Name: tableContentType,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexItemType: {
						Name:    indexItemType,
						Indexer: &memdb.IntFieldIndex{Field: "ItemType"},
					},
				},
			},
			tableDomain: {
				Name: tableDomain,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
)

func treeIndex(field string) memdb.Indexer {
	return &memdb.CompoundIndex{
		Indexes: []memdb.Indexer{
			&memdb.IntFieldIndex{Field: "Tree"},
			&memdb.IntFieldIndex{Field: field},
		},
	}
}

type nodeRecord struct {
	Tree     int
	ID       int
	ParentID int
	TypeID   int
	Kit      api.NodeKit
}

type typeRecord struct {
	ID       int
	ItemType int
	Type     *api.ContentType
}

type domainRecord struct {
	ID     int
	Domain *api.Domain
}

// Source is a concurrency-safe in-memory authoritative store.
type Source struct {
	// updateLock must be held during an update transaction.
	updateLock sync.Mutex

	memDB *memdb.MemDB

	mu       sync.Mutex
	handlers map[int]datasource.Handler
	nextID   int
}

var (
	_ datasource.Source   = (*Source)(nil)
	_ datasource.Notifier = (*Source)(nil)
)

// New returns an empty source.
func New() *Source {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		// This shouldn't fail
		panic(err)
	}
	return &Source{
		memDB:    memDB,
		handlers: make(map[int]datasource.Handler),
	}
}

// View executes a read transaction.
func (s *Source) View(ctx context.Context, cb func(datasource.ReadTx) error) error {
	memDBTx := s.memDB.Txn(false)
	defer memDBTx.Abort()
	return cb(readTx{memDBTx: memDBTx})
}

// Update executes a read/write transaction. When cb succeeds the changes are
// committed and the resulting messages are handed to every subscriber before
// Update returns; the first subscriber error is returned.
func (s *Source) Update(ctx context.Context, cb func(tx *WriteTx) error) error {
	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	memDBTx := s.memDB.Txn(true)
	tx := &WriteTx{readTx: readTx{memDBTx: memDBTx}, changes: newChangeSet()}
	if err := cb(tx); err != nil {
		memDBTx.Abort()
		return err
	}
	memDBTx.Commit()

	return s.notify(ctx, tx.changes.messages())
}

// Subscribe registers h for every later message.
func (s *Source) Subscribe(h datasource.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *Source) notify(ctx context.Context, messages []api.Message) error {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	handlers := make([]datasource.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	var firstErr error
	for _, msg := range messages {
		for _, h := range handlers {
			if err := h(ctx, msg); err != nil {
				log.G(ctx).WithError(err).Errorf("failed to handle %T", msg)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

type readTx struct {
	memDBTx *memdb.Txn
}

func (tx readTx) nodes(index string, args ...interface{}) ([]*nodeRecord, error) {
	it, err := tx.memDBTx.Get(tableNode, index, args...)
	if err != nil {
		return nil, err
	}
	var records []*nodeRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(*nodeRecord))
	}
	return records, nil
}

func (tx readTx) node(tree api.Tree, id int) (*nodeRecord, error) {
	obj, err := tx.memDBTx.First(tableNode, indexID, int(tree), id)
	if err != nil || obj == nil {
		return nil, err
	}
	return obj.(*nodeRecord), nil
}

func kitsOf(records []*nodeRecord) []api.NodeKit {
	kits := make([]api.NodeKit, 0, len(records))
	for _, r := range records {
		kits = append(kits, copyKit(r.Kit))
	}
	api.SortKits(kits)
	return kits
}

func (tx readTx) GetAll(tree api.Tree) ([]api.NodeKit, error) {
	records, err := tx.nodes(indexTree, int(tree))
	if err != nil {
		return nil, err
	}
	return kitsOf(records), nil
}

func (tx readTx) GetBranch(tree api.Tree, id int) ([]api.NodeKit, error) {
	root, err := tx.node(tree, id)
	if err != nil || root == nil {
		return nil, err
	}
	records, err := tx.descendants(tree, id)
	if err != nil {
		return nil, err
	}
	return kitsOf(append(records, root)), nil
}

func (tx readTx) descendants(tree api.Tree, id int) ([]*nodeRecord, error) {
	children, err := tx.nodes(indexParent, int(tree), id)
	if err != nil {
		return nil, err
	}
	records := children
	for _, c := range children {
		below, err := tx.descendants(tree, c.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, below...)
	}
	return records, nil
}

func (tx readTx) GetOne(tree api.Tree, id int) (api.NodeKit, error) {
	r, err := tx.node(tree, id)
	if err != nil || r == nil {
		return api.NodeKit{}, err
	}
	return copyKit(r.Kit), nil
}

func (tx readTx) GetByType(tree api.Tree, typeIDs []int) ([]api.NodeKit, error) {
	var records []*nodeRecord
	for _, typeID := range typeIDs {
		r, err := tx.nodes(indexType, int(tree), typeID)
		if err != nil {
			return nil, err
		}
		records = append(records, r...)
	}
	return kitsOf(records), nil
}

func (tx readTx) Count(tree api.Tree) (int, error) {
	records, err := tx.nodes(indexTree, int(tree))
	return len(records), err
}

func (tx readTx) contentType(id int) (*typeRecord, error) {
	obj, err := tx.memDBTx.First(tableContentType, indexID, id)
	if err != nil || obj == nil {
		return nil, err
	}
	return obj.(*typeRecord), nil
}

func (tx readTx) ContentTypes(tree api.Tree, ids []int) ([]*api.ContentType, error) {
	var types []*api.ContentType
	if ids == nil {
		it, err := tx.memDBTx.Get(tableContentType, indexItemType, int(tree))
		if err != nil {
			return nil, err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			types = append(types, obj.(*typeRecord).Type)
		}
		return types, nil
	}

	for _, id := range ids {
		r, err := tx.contentType(id)
		if err != nil {
			return nil, err
		}
		if r != nil && r.ItemType == int(tree) {
			types = append(types, r.Type)
		}
	}
	return types, nil
}

func (tx readTx) Domains() ([]*api.Domain, error) {
	it, err := tx.memDBTx.Get(tableDomain, indexID)
	if err != nil {
		return nil, err
	}
	var domains []*api.Domain
	for obj := it.Next(); obj != nil; obj = it.Next() {
		domains = append(domains, obj.(*domainRecord).Domain)
	}
	return domains, nil
}

func (tx readTx) Domain(id int) (*api.Domain, error) {
	obj, err := tx.memDBTx.First(tableDomain, indexID, id)
	if err != nil || obj == nil {
		return nil, err
	}
	return obj.(*domainRecord).Domain, nil
}
