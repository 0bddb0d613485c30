package localdb

import (
	"context"
	_ "crypto/sha256" // registers the digest algorithm
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/log"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// ContentFile is the file name of the content tree cache.
	ContentFile = "NuCache.Content.db"
	// MediaFile is the file name of the media tree cache.
	MediaFile = "NuCache.Media.db"

	openTimeout = 5 * time.Second
)

// FileName returns the cache file name of a tree.
func FileName(tree api.Tree) string {
	if tree == api.TreeMedia {
		return MediaFile
	}
	return ContentFile
}

// Cache is the on-disk mirror of one tree. It only shortens cold starts: a
// cache that fails validation is never loaded.
type Cache struct {
	tree api.Tree
	path string

	mu sync.Mutex
	db *bolt.DB

	bound atomic.Bool
	// invalid is set by Invalidate and cleared by the next full write.
	invalid atomic.Bool
}

// Open opens or creates the cache of tree under dir.
func Open(dir string, tree api.Tree) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	path := filepath.Join(dir, FileName(tree))
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	if err := InitDB(db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to initialize %s", path)
	}
	return &Cache{tree: tree, path: path, db: db}, nil
}

// Path returns the cache file path.
func (c *Cache) Path() string {
	return c.path
}

// Tree returns the tree the cache mirrors.
func (c *Cache) Tree() api.Tree {
	return c.tree
}

func (c *Cache) view(fn func(tx *bolt.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}
	return c.db.View(fn)
}

func (c *Cache) update(fn func(tx *bolt.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}
	return c.db.Update(fn)
}

// IsValid reports whether the cache was fully written and is structurally
// sound: the stored count matches the entries, every entry's parent is the
// root or another entry, and a non-empty cache has top-level entries.
func (c *Cache) IsValid(ctx context.Context) bool {
	if c.invalid.Load() {
		log.G(ctx).WithField("path", c.path).Info("local cache was invalidated")
		return false
	}
	err := c.view(func(tx *bolt.Tx) error {
		count, err := GetCount(tx)
		if err != nil {
			return err
		}

		parents := make(map[int]int)
		topLevel := 0
		if err := ForEachKit(tx, func(kit api.NodeKit) error {
			if kit.IsEmpty() {
				return errors.New("empty kit stored")
			}
			parents[kit.Node.ID] = kit.Node.ParentID
			if kit.Node.ParentID == api.RootID {
				topLevel++
			}
			return nil
		}); err != nil {
			return err
		}

		if len(parents) != count {
			return errors.Errorf("%d entries, expected %d", len(parents), count)
		}
		if count > 0 && topLevel == 0 {
			return errors.New("no top-level entries")
		}
		for id, parent := range parents {
			if parent == api.RootID {
				continue
			}
			if _, ok := parents[parent]; !ok {
				return errors.Errorf("entry %d references missing parent %d", id, parent)
			}
		}
		return nil
	})
	if err != nil {
		log.G(ctx).WithError(err).WithField("path", c.path).Info("local cache is not valid")
		return false
	}
	return true
}

// Load returns every stored kit sorted by level, parent and sort order.
func (c *Cache) Load(ctx context.Context) ([]api.NodeKit, error) {
	var kits []api.NodeKit
	if err := c.view(func(tx *bolt.Tx) error {
		return ForEachKit(tx, func(kit api.NodeKit) error {
			kits = append(kits, kit)
			return nil
		})
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", c.path)
	}
	api.SortKits(kits)
	log.G(ctx).WithField("path", c.path).Debugf("loaded %d kits", len(kits))
	return kits, nil
}

// Count returns the number of stored kits, or an error when the cache was
// never fully written.
func (c *Cache) Count() (int, error) {
	var count int
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		count, err = GetCount(tx)
		return err
	})
	return count, err
}

// Digest returns a digest of the stored kits in id order. Two caches holding
// the same kits have the same digest.
func (c *Cache) Digest() (digest.Digest, error) {
	d := digest.Canonical.Digester()
	err := c.view(func(tx *bolt.Tx) error {
		bkt := getKitsBucket(tx)
		if bkt == nil {
			return errKitsMissing
		}
		return bkt.ForEach(func(k, v []byte) error {
			h := d.Hash()
			h.Write(k)
			h.Write(v)
			return nil
		})
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to digest %s", c.path)
	}
	return d.Digest(), nil
}

// WriteThrough replaces the content of the cache with kits in one
// transaction.
func (c *Cache) WriteThrough(kits []api.NodeKit) error {
	err := c.update(func(tx *bolt.Tx) error {
		if err := ClearKits(tx); err != nil {
			return err
		}
		for _, kit := range kits {
			if _, err := PutKit(tx, kit); err != nil {
				return err
			}
		}
		return PutCount(tx, len(kits))
	})
	if err == nil {
		c.invalid.Store(false)
	}
	return err
}

// Apply stores puts and deletes removed in one transaction. A cache that was
// never fully written stays invalid.
func (c *Cache) Apply(puts []api.NodeKit, removed []int) error {
	return c.update(func(tx *bolt.Tx) error {
		count, err := GetCount(tx)
		complete := err == nil

		for _, kit := range puts {
			existed, err := PutKit(tx, kit)
			if err != nil {
				return err
			}
			if !existed {
				count++
			}
		}
		for _, id := range removed {
			existed, err := DeleteKit(tx, id)
			if err != nil {
				return err
			}
			if existed {
				count--
			}
		}

		if !complete {
			return nil
		}
		return PutCount(tx, count)
	})
}

// Invalidate discards the content of the cache so that it no longer
// validates. It fails with ErrCacheInUse while a store is bound to the cache.
// The file of a closed cache is removed instead.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c.bound.Load() {
		return ErrCacheInUse
	}
	c.invalid.Store(true)

	err := c.update(func(tx *bolt.Tx) error {
		if err := ClearKits(tx); err != nil {
			return err
		}
		_, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyKits)
		return err
	})
	if err == ErrClosed {
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", c.path)
		}
		log.G(ctx).WithField("path", c.path).Info("local cache removed")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to invalidate %s", c.path)
	}
	log.G(ctx).WithField("path", c.path).Info("local cache invalidated")
	return nil
}

// Bind marks the cache as the mirror of a live store.
func (c *Cache) Bind() {
	c.bound.Store(true)
}

// Unbind releases the mark set by Bind.
func (c *Cache) Unbind() {
	c.bound.Store(false)
}

// Bound reports whether a live store is bound to the cache.
func (c *Cache) Bound() bool {
	return c.bound.Load()
}

// Close closes the underlying file. Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
