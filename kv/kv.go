// Package kv defines the ordered key/value store contract the object
// database engine is layered on. The engine consumes this interface only;
// it never assumes a particular backend. Implementations must provide
// lexicographically ordered byte keys:
//
//	A key s precedes a key t if s is a proper prefix of t, or if the first
//	differing byte of s is smaller than that of t.
//
// All mutation, isolation, and durability semantics belong to the store:
// the engine issues gets, puts, range scans, and counter adjustments, and
// delegates commit and rollback.
package kv

import "errors"

// KV is a single key/value pair returned by point lookups.
type KV struct {
	Key   []byte
	Value []byte
}

// Store is a transactional view of an ordered key/value store. A Store is
// used by one actor at a time; concurrent use is undefined.
type Store interface {
	// Get returns the value stored under key, or nil if the key is absent.
	Get(key []byte) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key, value []byte) error

	// Remove deletes key if present.
	Remove(key []byte) error

	// RemoveRange deletes every key in [min, max). A nil min means the
	// beginning of the key space; a nil max means the end.
	RemoveRange(min, max []byte) error

	// GetRange iterates the keys in [min, max), ascending, or descending
	// when reverse is set. The iterator must be closed on all exit paths.
	GetRange(min, max []byte, reverse bool) Iterator

	// GetAtLeast returns the smallest pair with key >= key, or nil.
	GetAtLeast(key []byte) (*KV, error)

	// GetAtMost returns the largest pair with key < key, or nil.
	// A nil key means the end of the key space.
	GetAtMost(key []byte) (*KV, error)

	// AdjustCounter atomically adds delta to the counter stored under
	// key, treating an absent key as zero.
	AdjustCounter(key []byte, delta int64) error

	// EncodeCounter encodes a counter value in this store's native
	// counter representation.
	EncodeCounter(value int64) []byte

	// DecodeCounter decodes a value previously written by AdjustCounter
	// or EncodeCounter.
	DecodeCounter(value []byte) (int64, error)

	// Commit atomically applies the transaction's mutations.
	Commit() error

	// Rollback discards the transaction's mutations. Rollback after
	// Commit is a no-op.
	Rollback() error
}

// Iterator walks key/value pairs in order. Next must be called before the
// first Key/Value access. Iterators are invalidated by Commit or Rollback
// of the Store that produced them.
type Iterator interface {
	// Next advances to the next pair, reporting whether one exists.
	Next() bool

	// Key returns the current key. The slice is only valid until the
	// next call to Next.
	Key() []byte

	// Value returns the current value, valid until the next call to Next.
	Value() []byte

	// Close releases the iterator. Close is idempotent.
	Close() error
}

// Database hands out transactional Store views of one underlying store.
type Database interface {
	// Begin opens a read-write transaction.
	Begin() Store

	// Snapshot opens a detached view of the current contents. Mutations
	// stay local to the snapshot and Commit always fails.
	Snapshot() Store
}

// Watch is an opaque handle on a key-range watch.
type Watch interface {
	// Done is closed when any key in the watched range changes, or when
	// the watch is cancelled.
	Done() <-chan struct{}

	// Cancel releases the watch.
	Cancel()
}

// Watcher is an optional Store capability for key-range watches.
type Watcher interface {
	// WatchRange registers interest in mutations within [min, max).
	WatchRange(min, max []byte) (Watch, error)
}

// ErrClosed is returned by stores whose transaction has already been
// committed or rolled back.
var ErrClosed = errors.New("kv: transaction closed")

// ErrBadCounter is returned when a value cannot be decoded as a counter.
var ErrBadCounter = errors.New("kv: malformed counter value")
