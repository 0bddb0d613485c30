package localdb

import (
	"bytes"
	"encoding/binary"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Layout:
//
//	bucket(v1.kits) ->
//		<id, big endian int32> -> kit (api codec)
//	bucket(v1.meta) ->
//		count -> number of kits, present once the cache was fully written
var (
	bucketKeyStorageVersion = []byte("v1")
	bucketKeyKits           = []byte("kits")
	bucketKeyMeta           = []byte("meta")
	bucketKeyCount          = []byte("count")
)

type bucketKeyPath [][]byte

func (bk bucketKeyPath) String() string {
	return string(bytes.Join([][]byte(bk), []byte("/")))
}

// InitDB creates the buckets of the layout.
func InitDB(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyKits); err != nil {
			return err
		}
		_, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyMeta)
		return err
	})
}

func idKey(id int) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(int32(id)))
	return k[:]
}

func keyID(k []byte) int {
	return int(int32(binary.BigEndian.Uint32(k)))
}

// GetKit returns the kit stored for id. The kit is empty when nothing is
// stored.
func GetKit(tx *bolt.Tx, id int) (api.NodeKit, error) {
	bkt := getKitsBucket(tx)
	if bkt == nil {
		return api.NodeKit{}, errKitsMissing
	}
	p := bkt.Get(idKey(id))
	if p == nil {
		return api.NodeKit{}, nil
	}
	return api.UnmarshalKit(p)
}

// ForEachKit decodes every stored kit in id order.
func ForEachKit(tx *bolt.Tx, fn func(kit api.NodeKit) error) error {
	bkt := getKitsBucket(tx)
	if bkt == nil {
		return errKitsMissing
	}
	return bkt.ForEach(func(k, v []byte) error {
		kit, err := api.UnmarshalKit(v)
		if err != nil {
			return errors.Wrapf(err, "failed to decode kit %d", keyID(k))
		}
		return fn(kit)
	})
}

// PutKit stores kit. It reports whether an entry for the id already existed.
func PutKit(tx *bolt.Tx, kit api.NodeKit) (bool, error) {
	p, err := api.MarshalKit(kit)
	if err != nil {
		return false, err
	}
	bkt, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyKits)
	if err != nil {
		return false, err
	}
	k := idKey(kit.Node.ID)
	existed := bkt.Get(k) != nil
	return existed, bkt.Put(k, p)
}

// DeleteKit removes the kit stored for id. It reports whether one existed.
func DeleteKit(tx *bolt.Tx, id int) (bool, error) {
	bkt := getKitsBucket(tx)
	if bkt == nil {
		return false, nil
	}
	k := idKey(id)
	if bkt.Get(k) == nil {
		return false, nil
	}
	return true, bkt.Delete(k)
}

// ClearKits drops every stored kit and the entry count.
func ClearKits(tx *bolt.Tx) error {
	root := tx.Bucket(bucketKeyStorageVersion)
	if root == nil {
		return nil
	}
	for _, key := range [][]byte{bucketKeyKits, bucketKeyMeta} {
		if root.Bucket(key) == nil {
			continue
		}
		if err := root.DeleteBucket(key); err != nil {
			return err
		}
	}
	return nil
}

// GetCount returns the stored entry count.
func GetCount(tx *bolt.Tx) (int, error) {
	bkt := getBucket(tx, bucketKeyStorageVersion, bucketKeyMeta)
	if bkt == nil {
		return 0, errCountMissing
	}
	p := bkt.Get(bucketKeyCount)
	if len(p) != 8 {
		return 0, errCountMissing
	}
	return int(binary.BigEndian.Uint64(p)), nil
}

// PutCount stores the entry count.
func PutCount(tx *bolt.Tx, count int) error {
	bkt, err := createBucketIfNotExists(tx, bucketKeyStorageVersion, bucketKeyMeta)
	if err != nil {
		return err
	}
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], uint64(count))
	return bkt.Put(bucketKeyCount, p[:])
}

func createBucketIfNotExists(tx *bolt.Tx, keys ...[]byte) (*bolt.Bucket, error) {
	bkt, err := tx.CreateBucketIfNotExists(keys[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create bucket %v", bucketKeyPath(keys))
	}

	for _, key := range keys[1:] {
		bkt, err = bkt.CreateBucketIfNotExists(key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create bucket %v", bucketKeyPath(keys))
		}
	}

	return bkt, nil
}

func getKitsBucket(tx *bolt.Tx) *bolt.Bucket {
	return getBucket(tx, bucketKeyStorageVersion, bucketKeyKits)
}

func getBucket(tx *bolt.Tx, keys ...[]byte) *bolt.Bucket {
	bkt := tx.Bucket(keys[0])

	for _, key := range keys[1:] {
		if bkt == nil {
			break
		}
		bkt = bkt.Bucket(key)
	}

	return bkt
}
