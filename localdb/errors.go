package localdb

import "errors"

var (
	// ErrCacheInUse is returned when invalidating a cache a live store is
	// still bound to.
	ErrCacheInUse = errors.New("localdb: cache is bound to a live store")

	// ErrClosed is returned when the cache was closed.
	ErrClosed = errors.New("localdb: closed")

	errKitsMissing  = errors.New("localdb: kits bucket missing")
	errCountMissing = errors.New("localdb: entry count missing")
)
