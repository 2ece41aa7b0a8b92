// Package memkv provides an in-memory implementation of the kv.Store
// contract backed by a copy-on-write B-tree. It exists for tests, for
// snapshot transactions, and as the reference semantics other backends
// are checked against.
package memkv

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/google/btree"

	"github.com/permazen/objdb/kv"
)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// DB is an in-memory ordered key/value database. It hands out
// transactions whose mutations become visible atomically on Commit,
// last committer wins.
type DB struct {
	mu   sync.Mutex
	tree *btree.BTreeG[item]
}

// New returns an empty database.
func New() *DB {
	return &DB{tree: btree.NewG(8, less)}
}

var _ kv.Database = (*DB)(nil)

// Begin opens a transaction over the current contents. The transaction
// operates on a copy-on-write clone, so concurrent readers are unaffected
// until Commit.
func (db *DB) Begin() kv.Store {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &Tx{db: db, tree: db.tree.Clone()}
}

// Snapshot returns a detached transaction over the current contents.
// Mutations stay local to the snapshot and Commit always fails; the
// snapshot never observes later commits to the DB.
func (db *DB) Snapshot() kv.Store {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &Tx{db: nil, tree: db.tree.Clone()}
}

// Len returns the number of keys currently committed.
func (db *DB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Len()
}

// Tx is a transaction over a DB. It implements kv.Store.
type Tx struct {
	db     *DB // nil for detached snapshots
	tree   *btree.BTreeG[item]
	closed bool
}

var _ kv.Store = (*Tx)(nil)

// Get returns the value stored under key, or nil if the key is absent.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, kv.ErrClosed
	}
	if it, ok := tx.tree.Get(item{key: key}); ok {
		return append([]byte{}, it.value...), nil
	}
	return nil, nil
}

// Put stores value under key.
func (tx *Tx) Put(key, value []byte) error {
	if tx.closed {
		return kv.ErrClosed
	}
	tx.tree.ReplaceOrInsert(item{
		key:   append([]byte{}, key...),
		value: append([]byte{}, value...),
	})
	return nil
}

// Remove deletes key if present.
func (tx *Tx) Remove(key []byte) error {
	if tx.closed {
		return kv.ErrClosed
	}
	tx.tree.Delete(item{key: key})
	return nil
}

// RemoveRange deletes every key in [min, max).
func (tx *Tx) RemoveRange(min, max []byte) error {
	if tx.closed {
		return kv.ErrClosed
	}
	var doomed [][]byte
	tx.visit(min, max, func(it item) bool {
		doomed = append(doomed, it.key)
		return true
	})
	for _, key := range doomed {
		tx.tree.Delete(item{key: key})
	}
	return nil
}

// GetRange iterates the keys in [min, max).
func (tx *Tx) GetRange(min, max []byte, reverse bool) kv.Iterator {
	return &iterator{
		tree:    tx.tree.Clone(),
		min:     append([]byte{}, min...),
		max:     append([]byte{}, max...),
		hasMax:  max != nil,
		hasMin:  min != nil,
		reverse: reverse,
	}
}

// GetAtLeast returns the smallest pair with key >= key.
func (tx *Tx) GetAtLeast(key []byte) (*kv.KV, error) {
	if tx.closed {
		return nil, kv.ErrClosed
	}
	var found *kv.KV
	tx.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		found = &kv.KV{Key: append([]byte{}, it.key...), Value: append([]byte{}, it.value...)}
		return false
	})
	return found, nil
}

// GetAtMost returns the largest pair with key < key; nil key means the
// end of the key space.
func (tx *Tx) GetAtMost(key []byte) (*kv.KV, error) {
	if tx.closed {
		return nil, kv.ErrClosed
	}
	var found *kv.KV
	record := func(it item) bool {
		found = &kv.KV{Key: append([]byte{}, it.key...), Value: append([]byte{}, it.value...)}
		return false
	}
	if key == nil {
		tx.tree.Descend(record)
	} else {
		tx.tree.DescendLessOrEqual(item{key: key}, func(it item) bool {
			if bytes.Equal(it.key, key) {
				return true // exclusive bound
			}
			return record(it)
		})
	}
	return found, nil
}

// AdjustCounter adds delta to the counter under key, absent meaning zero.
func (tx *Tx) AdjustCounter(key []byte, delta int64) error {
	if tx.closed {
		return kv.ErrClosed
	}
	var current int64
	if it, ok := tx.tree.Get(item{key: key}); ok {
		v, err := tx.DecodeCounter(it.value)
		if err != nil {
			return err
		}
		current = v
	}
	return tx.Put(key, tx.EncodeCounter(current+delta))
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

// Commit publishes the transaction's mutations to the DB. Committing a
// snapshot always fails and leaves the snapshot usable.
func (tx *Tx) Commit() error {
	if tx.closed {
		return kv.ErrClosed
	}
	if tx.db == nil {
		return kv.ErrClosed
	}
	tx.closed = true
	tx.db.mu.Lock()
	tx.db.tree = tx.tree
	tx.db.mu.Unlock()
	return nil
}

// Rollback discards the transaction's mutations.
func (tx *Tx) Rollback() error {
	tx.closed = true
	return nil
}

// visit walks [min, max) in ascending order over the live tree.
func (tx *Tx) visit(min, max []byte, fn func(item) bool) {
	walk := func(it item) bool {
		if max != nil && bytes.Compare(it.key, max) >= 0 {
			return false
		}
		return fn(it)
	}
	if min == nil {
		tx.tree.Ascend(walk)
	} else {
		tx.tree.AscendGreaterOrEqual(item{key: min}, walk)
	}
}

// iterator steps through a copy-on-write clone of the transaction's tree,
// so mutations made while iterating do not disturb the walk.
type iterator struct {
	tree           *btree.BTreeG[item]
	min, max       []byte
	hasMin, hasMax bool
	reverse        bool
	started        bool
	cur            item
	done           bool
}

func (it *iterator) Next() bool {
	if it.done {
		return false
	}
	var next *item
	record := func(cand item) bool {
		if it.hasMax && bytes.Compare(cand.key, it.max) >= 0 {
			if it.reverse {
				return true // keep descending into range
			}
			return false
		}
		if it.hasMin && bytes.Compare(cand.key, it.min) < 0 {
			return false
		}
		c := cand
		next = &c
		return false
	}
	switch {
	case !it.reverse && !it.started:
		if it.hasMin {
			it.tree.AscendGreaterOrEqual(item{key: it.min}, record)
		} else {
			it.tree.Ascend(record)
		}
	case !it.reverse:
		it.tree.AscendGreaterOrEqual(item{key: kvKeyAfter(it.cur.key)}, record)
	case it.reverse && !it.started:
		if it.hasMax {
			it.tree.DescendLessOrEqual(item{key: it.max}, func(cand item) bool {
				if bytes.Compare(cand.key, it.max) >= 0 {
					return true
				}
				return record(cand)
			})
		} else {
			it.tree.Descend(record)
		}
	default:
		it.tree.DescendLessOrEqual(item{key: it.cur.key}, func(cand item) bool {
			if bytes.Compare(cand.key, it.cur.key) >= 0 {
				return true
			}
			return record(cand)
		})
	}
	if next == nil {
		it.done = true
		return false
	}
	it.started = true
	it.cur = *next
	return true
}

func (it *iterator) Key() []byte   { return it.cur.key }
func (it *iterator) Value() []byte { return it.cur.value }
func (it *iterator) Close() error {
	it.done = true
	return nil
}

func kvKeyAfter(key []byte) []byte {
	return append(append([]byte{}, key...), 0x00)
}
