package db

import (
	"bytes"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Complex field storage. Sets key their entries by element encoding with
// empty values; lists key by entry index with the element encoding as
// the value; maps key by encoded key with the encoded value as the
// value. Indexed sub-fields mirror each entry into the index key space.

// resolveComplex resolves a complex field of the given kinds on an
// object, migrating it for mutation when mutate is set.
func (tx *Transaction) resolveComplex(id types.ObjId, fieldSID uint32, mutate bool,
	kinds ...schema.FieldKind) (*schema.Field, error) {

	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	version, err := tx.requireObject(id, mutate)
	if err != nil {
		return nil, err
	}
	f, _, err := tx.fieldIn(version, id, fieldSID)
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if f.Kind == k {
			return f, nil
		}
	}
	return nil, types.Errorf(types.ErrKindUnknownField,
		"field %d is a %s field", fieldSID, f.Kind)
}

// validateSub validates a sub-field value, enforcing reference integrity
// for reference sub-fields, and returns its encoding.
func (tx *Transaction) validateSub(sub *schema.Field, v any) ([]byte, error) {
	if sub.Kind == schema.KindReference {
		if err := tx.validateReferenceTarget(sub, v); err != nil {
			return nil, err
		}
	}
	return encodeFieldValue(sub, v)
}

// ----------------------------------------------------------------------
// Sets

// SetAdd adds an element, reporting whether the set changed.
func (tx *Transaction) SetAdd(id types.ObjId, setSID uint32, elem any) (bool, error) {
	f, err := tx.resolveComplex(id, setSID, true, schema.KindSet)
	if err != nil {
		return false, err
	}
	enc, err := tx.validateSub(f.Elem, elem)
	if err != nil {
		return false, err
	}
	key := fieldDataKey(id, setSID, enc)
	existing, err := tx.kvst.Get(key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if err := tx.kvst.Put(key, nil); err != nil {
		return false, err
	}
	if f.Elem.Indexed {
		if err := tx.putSimpleIndexEntry(f.Elem, enc, id, nil); err != nil {
			return false, err
		}
	}
	val, err := codec.Decode(f.Elem.Codec(), enc)
	if err != nil {
		return false, err
	}
	return true, tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeSetAdd, Field: f.Elem.StorageID, New: val,
	})
}

// SetRemove removes an element, reporting whether the set changed.
func (tx *Transaction) SetRemove(id types.ObjId, setSID uint32, elem any) (bool, error) {
	f, err := tx.resolveComplex(id, setSID, true, schema.KindSet)
	if err != nil {
		return false, err
	}
	enc, err := encodeFieldValue(f.Elem, elem)
	if err != nil {
		return false, err
	}
	key := fieldDataKey(id, setSID, enc)
	existing, err := tx.kvst.Get(key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	return true, tx.setRemoveEncoded(id, f, enc)
}

// setRemoveEncoded removes a set entry by element encoding.
func (tx *Transaction) setRemoveEncoded(id types.ObjId, f *schema.Field, enc []byte) error {
	if err := tx.kvst.Remove(fieldDataKey(id, f.StorageID, enc)); err != nil {
		return err
	}
	if f.Elem.Indexed {
		if err := tx.removeSimpleIndexEntry(f.Elem, enc, id, nil); err != nil {
			return err
		}
	}
	val, err := codec.Decode(f.Elem.Codec(), enc)
	if err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeSetRemove, Field: f.Elem.StorageID, Old: val,
	})
}

// SetContains reports element membership.
func (tx *Transaction) SetContains(id types.ObjId, setSID uint32, elem any) (bool, error) {
	f, err := tx.resolveComplex(id, setSID, false, schema.KindSet)
	if err != nil {
		return false, err
	}
	enc, err := encodeFieldValue(f.Elem, elem)
	if err != nil {
		return false, err
	}
	existing, err := tx.kvst.Get(fieldDataKey(id, setSID, enc))
	return existing != nil, err
}

// SetIterate walks the set's elements in element order.
func (tx *Transaction) SetIterate(id types.ObjId, setSID uint32, reverse bool) (*EntryIterator, error) {
	f, err := tx.resolveComplex(id, setSID, false, schema.KindSet)
	if err != nil {
		return nil, err
	}
	return tx.complexIterator(id, f, reverse, func(subKey, _ []byte) (any, any, error) {
		v, err := codec.Decode(f.Elem.Codec(), subKey)
		return v, nil, err
	}), nil
}

// ----------------------------------------------------------------------
// Lists

// ListLen returns the number of list entries.
func (tx *Transaction) ListLen(id types.ObjId, listSID uint32) (int, error) {
	f, err := tx.resolveComplex(id, listSID, false, schema.KindList)
	if err != nil {
		return 0, err
	}
	last, ok, err := tx.listLastIndex(id, f)
	if err != nil || !ok {
		return 0, err
	}
	return int(last) + 1, nil
}

// listLastIndex finds the highest occupied list index.
func (tx *Transaction) listLastIndex(id types.ObjId, f *schema.Field) (uint64, bool, error) {
	prefix := fieldDataKey(id, f.StorageID, nil)
	min, max := kv.PrefixRange(prefix)
	iter := tx.kvst.GetRange(min, max, true)
	defer iter.Close()
	if !iter.Next() {
		return 0, false, iter.Close()
	}
	idx, _, err := format.Uvarint(iter.Key()[len(prefix):])
	if err != nil {
		return 0, false, types.Wrap(types.ErrKindInconsistent, err, "malformed list key")
	}
	return idx, true, nil
}

// ListGet returns the element at index i.
func (tx *Transaction) ListGet(id types.ObjId, listSID uint32, i int) (any, error) {
	f, err := tx.resolveComplex(id, listSID, false, schema.KindList)
	if err != nil {
		return nil, err
	}
	val, err := tx.kvst.Get(fieldDataKey(id, listSID, format.AppendUvarint(nil, uint64(i))))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, types.Errorf(types.ErrKindUnknownField, "list index %d out of range", i)
	}
	return codec.Decode(f.Elem.Codec(), val)
}

// ListAppend adds an element at the end of the list.
func (tx *Transaction) ListAppend(id types.ObjId, listSID uint32, elem any) error {
	f, err := tx.resolveComplex(id, listSID, true, schema.KindList)
	if err != nil {
		return err
	}
	enc, err := tx.validateSub(f.Elem, elem)
	if err != nil {
		return err
	}
	var next uint64
	if last, ok, err := tx.listLastIndex(id, f); err != nil {
		return err
	} else if ok {
		next = last + 1
	}
	return tx.listPut(id, f, next, enc, ChangeListAppend, nil)
}

// ListSet replaces the element at an existing index.
func (tx *Transaction) ListSet(id types.ObjId, listSID uint32, i int, elem any) error {
	f, err := tx.resolveComplex(id, listSID, true, schema.KindList)
	if err != nil {
		return err
	}
	enc, err := tx.validateSub(f.Elem, elem)
	if err != nil {
		return err
	}
	suffix := format.AppendUvarint(nil, uint64(i))
	old, err := tx.kvst.Get(fieldDataKey(id, listSID, suffix))
	if err != nil {
		return err
	}
	if old == nil {
		return types.Errorf(types.ErrKindUnknownField, "list index %d out of range", i)
	}
	if bytes.Equal(old, enc) {
		return nil
	}
	if f.Elem.Indexed {
		if err := tx.removeSimpleIndexEntry(f.Elem, old, id, suffix); err != nil {
			return err
		}
	}
	oldVal, err := codec.Decode(f.Elem.Codec(), old)
	if err != nil {
		return err
	}
	return tx.listPut(id, f, uint64(i), enc, ChangeListSet, oldVal)
}

// listPut writes one list entry and its index mirror, then notifies.
func (tx *Transaction) listPut(id types.ObjId, f *schema.Field, i uint64,
	enc []byte, kind ChangeKind, oldVal any) error {

	suffix := format.AppendUvarint(nil, i)
	if err := tx.kvst.Put(fieldDataKey(id, f.StorageID, suffix), enc); err != nil {
		return err
	}
	if f.Elem.Indexed {
		if err := tx.putSimpleIndexEntry(f.Elem, enc, id, suffix); err != nil {
			return err
		}
	}
	val, err := codec.Decode(f.Elem.Codec(), enc)
	if err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind: kind, Field: f.Elem.StorageID, Old: oldVal, New: val, Index: int(i),
	})
}

// ListRemoveAt removes the element at index i, shifting every later
// element down by one so list indexes stay dense.
func (tx *Transaction) ListRemoveAt(id types.ObjId, listSID uint32, i int) error {
	f, err := tx.resolveComplex(id, listSID, true, schema.KindList)
	if err != nil {
		return err
	}
	return tx.listRemoveAt(id, f, uint64(i))
}

func (tx *Transaction) listRemoveAt(id types.ObjId, f *schema.Field, i uint64) error {
	suffix := format.AppendUvarint(nil, i)
	old, err := tx.kvst.Get(fieldDataKey(id, f.StorageID, suffix))
	if err != nil {
		return err
	}
	if old == nil {
		return types.Errorf(types.ErrKindUnknownField, "list index %d out of range", i)
	}
	if err := tx.kvst.Remove(fieldDataKey(id, f.StorageID, suffix)); err != nil {
		return err
	}
	if f.Elem.Indexed {
		if err := tx.removeSimpleIndexEntry(f.Elem, old, id, suffix); err != nil {
			return err
		}
	}

	// Shift the tail down: each subsequent entry moves to index-1, with
	// its index mirror re-keyed.
	last, ok, err := tx.listLastIndex(id, f)
	if err != nil {
		return err
	}
	if ok {
		for j := i + 1; j <= last; j++ {
			fromSuffix := format.AppendUvarint(nil, j)
			toSuffix := format.AppendUvarint(nil, j-1)
			enc, err := tx.kvst.Get(fieldDataKey(id, f.StorageID, fromSuffix))
			if err != nil {
				return err
			}
			if enc == nil {
				continue
			}
			if err := tx.kvst.Remove(fieldDataKey(id, f.StorageID, fromSuffix)); err != nil {
				return err
			}
			if err := tx.kvst.Put(fieldDataKey(id, f.StorageID, toSuffix), enc); err != nil {
				return err
			}
			if f.Elem.Indexed {
				if err := tx.removeSimpleIndexEntry(f.Elem, enc, id, fromSuffix); err != nil {
					return err
				}
				if err := tx.putSimpleIndexEntry(f.Elem, enc, id, toSuffix); err != nil {
					return err
				}
			}
		}
	}

	oldVal, err := codec.Decode(f.Elem.Codec(), old)
	if err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeListRemove, Field: f.Elem.StorageID, Old: oldVal, Index: int(i),
	})
}

// listRemoveReferences removes every list entry referring to target, in
// descending index order so pending removals keep valid indexes.
func (tx *Transaction) listRemoveReferences(id types.ObjId, f *schema.Field, target types.ObjId) error {
	targetEnc, err := codec.Encode(f.Elem.Codec(), target)
	if err != nil {
		return err
	}
	var doomed []uint64
	prefix := fieldDataKey(id, f.StorageID, nil)
	if err := tx.eachComplexEntry(id, f, func(subKey, value []byte) error {
		if !bytes.Equal(value, targetEnc) {
			return nil
		}
		idx, n, err := format.Uvarint(subKey)
		if err != nil || n != len(subKey) {
			return types.Wrap(types.ErrKindInconsistent, err,
				"malformed list key % x", append(prefix, subKey...))
		}
		doomed = append(doomed, idx)
		return nil
	}); err != nil {
		return err
	}
	for i := len(doomed) - 1; i >= 0; i-- {
		if err := tx.listRemoveAt(id, f, doomed[i]); err != nil {
			return err
		}
	}
	return nil
}

// ListIterate walks the list in index order.
func (tx *Transaction) ListIterate(id types.ObjId, listSID uint32, reverse bool) (*EntryIterator, error) {
	f, err := tx.resolveComplex(id, listSID, false, schema.KindList)
	if err != nil {
		return nil, err
	}
	return tx.complexIterator(id, f, reverse, func(subKey, value []byte) (any, any, error) {
		idx, _, err := format.Uvarint(subKey)
		if err != nil {
			return nil, nil, err
		}
		v, err := codec.Decode(f.Elem.Codec(), value)
		return int(idx), v, err
	}), nil
}

// ----------------------------------------------------------------------
// Maps

// MapPut stores a key/value entry, returning the prior value (nil when
// the key was absent).
func (tx *Transaction) MapPut(id types.ObjId, mapSID uint32, key, value any) (any, error) {
	f, err := tx.resolveComplex(id, mapSID, true, schema.KindMap)
	if err != nil {
		return nil, err
	}
	keyEnc, err := tx.validateSub(f.Key, key)
	if err != nil {
		return nil, err
	}
	valEnc, err := tx.validateSub(f.Val, value)
	if err != nil {
		return nil, err
	}
	dataKey := fieldDataKey(id, mapSID, keyEnc)
	oldEnc, err := tx.kvst.Get(dataKey)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(oldEnc, valEnc) && oldEnc != nil {
		return codec.Decode(f.Val.Codec(), oldEnc)
	}
	if err := tx.kvst.Put(dataKey, valEnc); err != nil {
		return nil, err
	}
	if f.Key.Indexed && oldEnc == nil {
		if err := tx.putSimpleIndexEntry(f.Key, keyEnc, id, nil); err != nil {
			return nil, err
		}
	}
	if f.Val.Indexed {
		if oldEnc != nil {
			if err := tx.removeSimpleIndexEntry(f.Val, oldEnc, id, keyEnc); err != nil {
				return nil, err
			}
		}
		if err := tx.putSimpleIndexEntry(f.Val, valEnc, id, keyEnc); err != nil {
			return nil, err
		}
	}

	keyVal, err := codec.Decode(f.Key.Codec(), keyEnc)
	if err != nil {
		return nil, err
	}
	newVal, err := codec.Decode(f.Val.Codec(), valEnc)
	if err != nil {
		return nil, err
	}
	var oldVal any
	if oldEnc != nil {
		if oldVal, err = codec.Decode(f.Val.Codec(), oldEnc); err != nil {
			return nil, err
		}
	}
	if err := tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeMapPut, Field: f.Val.StorageID, Old: oldVal, New: newVal, Key: keyVal,
	}); err != nil {
		return nil, err
	}
	return oldVal, nil
}

// MapGet returns the value stored under key, or nil when absent.
func (tx *Transaction) MapGet(id types.ObjId, mapSID uint32, key any) (any, error) {
	f, err := tx.resolveComplex(id, mapSID, false, schema.KindMap)
	if err != nil {
		return nil, err
	}
	keyEnc, err := encodeFieldValue(f.Key, key)
	if err != nil {
		return nil, err
	}
	valEnc, err := tx.kvst.Get(fieldDataKey(id, mapSID, keyEnc))
	if err != nil || valEnc == nil {
		return nil, err
	}
	return codec.Decode(f.Val.Codec(), valEnc)
}

// MapRemove deletes the entry under key, returning whether one existed.
func (tx *Transaction) MapRemove(id types.ObjId, mapSID uint32, key any) (bool, error) {
	f, err := tx.resolveComplex(id, mapSID, true, schema.KindMap)
	if err != nil {
		return false, err
	}
	keyEnc, err := encodeFieldValue(f.Key, key)
	if err != nil {
		return false, err
	}
	existing, err := tx.kvst.Get(fieldDataKey(id, mapSID, keyEnc))
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	return true, tx.mapRemoveEncodedKey(id, f, keyEnc)
}

// mapRemoveEncodedKey removes a map entry by encoded key.
func (tx *Transaction) mapRemoveEncodedKey(id types.ObjId, f *schema.Field, keyEnc []byte) error {
	dataKey := fieldDataKey(id, f.StorageID, keyEnc)
	valEnc, err := tx.kvst.Get(dataKey)
	if err != nil {
		return err
	}
	if valEnc == nil {
		return nil
	}
	if err := tx.kvst.Remove(dataKey); err != nil {
		return err
	}
	if f.Key.Indexed {
		if err := tx.removeSimpleIndexEntry(f.Key, keyEnc, id, nil); err != nil {
			return err
		}
	}
	if f.Val.Indexed {
		if err := tx.removeSimpleIndexEntry(f.Val, valEnc, id, keyEnc); err != nil {
			return err
		}
	}
	keyVal, err := codec.Decode(f.Key.Codec(), keyEnc)
	if err != nil {
		return err
	}
	oldVal, err := codec.Decode(f.Val.Codec(), valEnc)
	if err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeMapRemove, Field: f.Val.StorageID, Old: oldVal, Key: keyVal,
	})
}

// MapIterate walks the map entries in key order.
func (tx *Transaction) MapIterate(id types.ObjId, mapSID uint32, reverse bool) (*EntryIterator, error) {
	f, err := tx.resolveComplex(id, mapSID, false, schema.KindMap)
	if err != nil {
		return nil, err
	}
	return tx.complexIterator(id, f, reverse, func(subKey, value []byte) (any, any, error) {
		k, err := codec.Decode(f.Key.Codec(), subKey)
		if err != nil {
			return nil, nil, err
		}
		v, err := codec.Decode(f.Val.Codec(), value)
		return k, v, err
	}), nil
}

// ----------------------------------------------------------------------
// Iteration plumbing

// EntryIterator walks decoded complex field entries. Key carries the set
// element, list index, or map key; Value carries the list element or map
// value (nil for sets).
type EntryIterator struct {
	iter   kv.Iterator
	prefix int
	decode func(subKey, value []byte) (any, any, error)
	key    any
	value  any
	err    error
}

func (tx *Transaction) complexIterator(id types.ObjId, f *schema.Field, reverse bool,
	decode func(subKey, value []byte) (any, any, error)) *EntryIterator {

	prefix := fieldDataKey(id, f.StorageID, nil)
	min, max := kv.PrefixRange(prefix)
	return &EntryIterator{
		iter:   tx.kvst.GetRange(min, max, reverse),
		prefix: len(prefix),
		decode: decode,
	}
}

// Next advances to the next entry.
func (it *EntryIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.iter.Next() {
		return false
	}
	it.key, it.value, it.err = it.decode(it.iter.Key()[it.prefix:], it.iter.Value())
	return it.err == nil
}

// Key returns the current entry's key component.
func (it *EntryIterator) Key() any { return it.key }

// Value returns the current entry's value component.
func (it *EntryIterator) Value() any { return it.value }

// Err returns the first decoding error encountered.
func (it *EntryIterator) Err() error { return it.err }

// Close releases the iterator.
func (it *EntryIterator) Close() error { return it.iter.Close() }
