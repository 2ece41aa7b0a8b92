// Package badgerkv adapts a Badger database to the kv.Store contract.
// Badger keys are ordered lexicographically, which is exactly the ordering
// the engine's key layout requires, so the adapter is a thin translation
// of the range-scan and counter operations.
package badgerkv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/permazen/objdb/kv"
)

// DB wraps a badger.DB and hands out kv.Store transactions.
type DB struct {
	db *badger.DB
}

// Open opens or creates a Badger database at dir. Pass an empty dir to
// run purely in memory.
func Open(dir string) (*DB, error) {
	return OpenOptions(dir, nil)
}

// OpenOptions opens a Badger database, applying the recognized
// pass-through options:
//
//	in-memory    "true" to keep everything in memory (implied by dir "")
//	sync-writes  "true" to fsync every write
//	value-dir    separate directory for the value log
//	read-only    "true" to reject all mutation
//
// Unrecognized keys are an error, so configuration typos surface early.
func OpenOptions(dir string, options map[string]string) (*DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	for key, value := range options {
		switch key {
		case "in-memory":
			opts = opts.WithInMemory(value == "true")
		case "sync-writes":
			opts = opts.WithSyncWrites(value == "true")
		case "value-dir":
			opts = opts.WithValueDir(value)
		case "read-only":
			opts = opts.WithReadOnly(value == "true")
		default:
			return nil, fmt.Errorf("unrecognized kv option %q", key)
		}
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &DB{db: db}, nil
}

// Wrap adapts an already-open badger.DB.
func Wrap(db *badger.DB) *DB {
	return &DB{db: db}
}

// Close releases the underlying database.
func (db *DB) Close() error {
	return db.db.Close()
}

var _ kv.Database = (*DB)(nil)

// Begin opens a read-write transaction.
func (db *DB) Begin() kv.Store {
	return &Tx{txn: db.db.NewTransaction(true)}
}

// Snapshot opens a detached view at the current timestamp. The view is a
// read-write Badger transaction that accepts local mutations but is never
// committed, so nothing it does is ever published.
func (db *DB) Snapshot() kv.Store {
	return &Tx{txn: db.db.NewTransaction(true), snapshot: true}
}

// Tx is a Badger-backed transaction implementing kv.Store.
type Tx struct {
	txn      *badger.Txn
	closed   bool
	snapshot bool
}

var _ kv.Store = (*Tx)(nil)

// Get returns the value stored under key, or nil if the key is absent.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, kv.ErrClosed
	}
	it, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return it.ValueCopy(nil)
}

// Put stores value under key.
func (tx *Tx) Put(key, value []byte) error {
	if tx.closed {
		return kv.ErrClosed
	}
	return tx.txn.Set(append([]byte{}, key...), append([]byte{}, value...))
}

// Remove deletes key if present.
func (tx *Tx) Remove(key []byte) error {
	if tx.closed {
		return kv.ErrClosed
	}
	return tx.txn.Delete(append([]byte{}, key...))
}

// RemoveRange deletes every key in [min, max).
func (tx *Tx) RemoveRange(min, max []byte) error {
	if tx.closed {
		return kv.ErrClosed
	}
	var doomed [][]byte
	iter := tx.GetRange(min, max, false)
	for iter.Next() {
		doomed = append(doomed, append([]byte{}, iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return err
	}
	for _, key := range doomed {
		if err := tx.txn.Delete(key); err != nil {
			return fmt.Errorf("badger delete: %w", err)
		}
	}
	return nil
}

// GetRange iterates the keys in [min, max).
func (tx *Tx) GetRange(min, max []byte, reverse bool) kv.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	return &iterator{
		it:      tx.txn.NewIterator(opts),
		min:     min,
		max:     max,
		reverse: reverse,
	}
}

// GetAtLeast returns the smallest pair with key >= key.
func (tx *Tx) GetAtLeast(key []byte) (*kv.KV, error) {
	if tx.closed {
		return nil, kv.ErrClosed
	}
	iter := tx.GetRange(key, nil, false)
	defer iter.Close()
	if !iter.Next() {
		return nil, nil
	}
	return &kv.KV{
		Key:   append([]byte{}, iter.Key()...),
		Value: append([]byte{}, iter.Value()...),
	}, nil
}

// GetAtMost returns the largest pair with key < key.
func (tx *Tx) GetAtMost(key []byte) (*kv.KV, error) {
	if tx.closed {
		return nil, kv.ErrClosed
	}
	iter := tx.GetRange(nil, key, true)
	defer iter.Close()
	if !iter.Next() {
		return nil, nil
	}
	return &kv.KV{
		Key:   append([]byte{}, iter.Key()...),
		Value: append([]byte{}, iter.Value()...),
	}, nil
}

// AdjustCounter adds delta to the counter under key. Badger has no native
// counter cells, so counters are plain 8-byte values adjusted within the
// transaction; atomicity across transactions comes from Badger's conflict
// detection.
func (tx *Tx) AdjustCounter(key []byte, delta int64) error {
	current, err := tx.Get(key)
	if err != nil {
		return err
	}
	var v int64
	if current != nil {
		if v, err = tx.DecodeCounter(current); err != nil {
			return err
		}
	}
	return tx.Put(key, tx.EncodeCounter(v+delta))
}

// EncodeCounter encodes a counter as 8 big-endian bytes.
func (tx *Tx) EncodeCounter(value int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(value))
	return b[:]
}

// DecodeCounter decodes an 8-byte counter value.
func (tx *Tx) DecodeCounter(value []byte) (int64, error) {
	if len(value) != 8 {
		return 0, kv.ErrBadCounter
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// Commit atomically applies the transaction. Committing a snapshot
// always fails and leaves the snapshot usable.
func (tx *Tx) Commit() error {
	if tx.snapshot {
		return kv.ErrClosed
	}
	if tx.closed {
		return kv.ErrClosed
	}
	tx.closed = true
	if err := tx.txn.Commit(); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction.
func (tx *Tx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.txn.Discard()
	return nil
}

type iterator struct {
	it      *badger.Iterator
	min     []byte
	max     []byte
	reverse bool
	started bool
	closed  bool
}

func (it *iterator) Next() bool {
	if it.closed {
		return false
	}
	if !it.started {
		it.started = true
		switch {
		case !it.reverse && it.min != nil:
			it.it.Seek(it.min)
		case it.reverse && it.max != nil:
			// Reverse seek lands at the largest key <= target; the range
			// max is exclusive, so step past an exact hit below.
			it.it.Seek(it.max)
			if it.it.Valid() && bytes.Equal(it.it.Item().Key(), it.max) {
				it.it.Next()
			}
		default:
			it.it.Rewind()
		}
	} else {
		it.it.Next()
	}
	if !it.it.Valid() {
		return false
	}
	key := it.it.Item().Key()
	if !it.reverse && it.max != nil && bytes.Compare(key, it.max) >= 0 {
		return false
	}
	if it.reverse && it.min != nil && bytes.Compare(key, it.min) < 0 {
		return false
	}
	return true
}

func (it *iterator) Key() []byte { return it.it.Item().Key() }

func (it *iterator) Value() []byte {
	v, err := it.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (it *iterator) Close() error {
	if !it.closed {
		it.closed = true
		it.it.Close()
	}
	return nil
}
