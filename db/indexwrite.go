package db

import (
	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Index maintenance. Every indexed write is mirrored into the index key
// space: delete the entry for the old value, insert the entry for the new
// one. Values of index entries are always empty; the key carries all the
// data.

// fieldDataKey builds the data key of a field, with an optional complex
// sub-key.
func fieldDataKey(id types.ObjId, fieldSID uint32, subKey []byte) []byte {
	return format.FieldKey(id.Bytes(), fieldSID, subKey)
}

// readEncodedSimple returns the stored encoding of a simple field, or
// nil when the field is at its default value (absent).
func (tx *Transaction) readEncodedSimple(id types.ObjId, f *schema.Field) ([]byte, error) {
	return tx.kvst.Get(fieldDataKey(id, f.StorageID, nil))
}

// encodedOrDefault returns the stored encoding of a simple field, or the
// default encoding when absent.
func (tx *Transaction) encodedOrDefault(id types.ObjId, f *schema.Field) ([]byte, error) {
	enc, err := tx.readEncodedSimple(id, f)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		enc = codec.DefaultBytes(f.Codec())
	}
	return enc, nil
}

// putSimpleIndexEntry inserts the index entry mapping an encoded value
// back to its object.
func (tx *Transaction) putSimpleIndexEntry(f *schema.Field, enc []byte, id types.ObjId, suffix []byte) error {
	return tx.kvst.Put(format.IndexKey(f.StorageID, enc, id.Bytes(), suffix), nil)
}

// removeSimpleIndexEntry removes the index entry for an encoded value.
func (tx *Transaction) removeSimpleIndexEntry(f *schema.Field, enc []byte, id types.ObjId, suffix []byte) error {
	return tx.kvst.Remove(format.IndexKey(f.StorageID, enc, id.Bytes(), suffix))
}

// compositeIndexKey assembles a composite index entry key for the given
// per-field encodings, in index field order.
func compositeIndexKey(ix *schema.CompositeIndex, encs [][]byte, id types.ObjId) []byte {
	key := format.StorageIDPrefix(ix.StorageID)
	for _, enc := range encs {
		key = append(key, enc...)
	}
	return append(key, id.Bytes()...)
}

// compositeEncodings reads the current encodings of every field of a
// composite index, substituting override for the field with storage ID
// overrideSID (pass 0 for none).
func (tx *Transaction) compositeEncodings(ot *schema.ObjectType, ix *schema.CompositeIndex,
	id types.ObjId, overrideSID uint32, override []byte) ([][]byte, error) {

	encs := make([][]byte, len(ix.Fields))
	for i, sid := range ix.Fields {
		if sid == overrideSID {
			encs[i] = override
			continue
		}
		enc, err := tx.encodedOrDefault(id, ot.Fields[sid])
		if err != nil {
			return nil, err
		}
		encs[i] = enc
	}
	return encs, nil
}

// updateCompositeIndexes re-keys every composite index containing the
// changed field: the old entry (computed with the field's old encoding)
// is removed and the new one inserted. Sibling fields contribute their
// current values.
func (tx *Transaction) updateCompositeIndexes(ot *schema.ObjectType, id types.ObjId,
	fieldSID uint32, oldEnc, newEnc []byte) error {

	for _, ix := range ot.SortedIndexes() {
		if !compositeContains(ix, fieldSID) {
			continue
		}
		oldEncs, err := tx.compositeEncodings(ot, ix, id, fieldSID, oldEnc)
		if err != nil {
			return err
		}
		newEncs, err := tx.compositeEncodings(ot, ix, id, fieldSID, newEnc)
		if err != nil {
			return err
		}
		if err := tx.kvst.Remove(compositeIndexKey(ix, oldEncs, id)); err != nil {
			return err
		}
		if err := tx.kvst.Put(compositeIndexKey(ix, newEncs, id), nil); err != nil {
			return err
		}
	}
	return nil
}

func compositeContains(ix *schema.CompositeIndex, fieldSID uint32) bool {
	for _, sid := range ix.Fields {
		if sid == fieldSID {
			return true
		}
	}
	return false
}

// referrer is one reverse-index hit: an object whose reference field (or
// sub-field) points at some target, plus the entry's trailing bytes
// (list index or encoded map key, empty otherwise).
type referrer struct {
	referrer types.ObjId
	suffix   []byte
}

// referrersVia scans the reverse index of one reference field storage ID
// for entries pointing at target.
func (tx *Transaction) referrersVia(refSID uint32, target types.ObjId) ([]referrer, error) {
	prefix := format.StorageIDPrefix(refSID)
	prefix = append(prefix, target.Bytes()...)
	min, max := kv.PrefixRange(prefix)
	iter := tx.kvst.GetRange(min, max, false)
	defer iter.Close()
	var out []referrer
	for iter.Next() {
		rest := iter.Key()[len(prefix):]
		id, err := types.ParseObjId(rest)
		if err != nil {
			return nil, types.Wrap(types.ErrKindInconsistent, err,
				"malformed index entry % x", iter.Key())
		}
		out = append(out, referrer{
			referrer: id,
			suffix:   append([]byte{}, rest[8:]...),
		})
	}
	return out, iter.Close()
}

// defaultIndexEntries writes the default-value index entries a freshly
// created or upgraded object carries for a field: indexed simple and
// reference fields are present in their indexes even while their data
// key is absent.
func (tx *Transaction) defaultIndexEntries(id types.ObjId, ot *schema.ObjectType, f *schema.Field) error {
	if f.HasCodec() && f.Indexed {
		if err := tx.putSimpleIndexEntry(f, codec.DefaultBytes(f.Codec()), id, nil); err != nil {
			return err
		}
	}
	return nil
}

// dropFieldState removes a field's data keys and index entries, used by
// object deletion and downward schema migration.
func (tx *Transaction) dropFieldState(id types.ObjId, ot *schema.ObjectType, f *schema.Field) error {
	switch f.Kind {
	case schema.KindSimple, schema.KindReference:
		enc, err := tx.readEncodedSimple(id, f)
		if err != nil {
			return err
		}
		if f.Indexed {
			indexed := enc
			if indexed == nil {
				indexed = codec.DefaultBytes(f.Codec())
			}
			if err := tx.removeSimpleIndexEntry(f, indexed, id, nil); err != nil {
				return err
			}
		}
		if enc != nil {
			if err := tx.kvst.Remove(fieldDataKey(id, f.StorageID, nil)); err != nil {
				return err
			}
		}
	case schema.KindCounter:
		if err := tx.kvst.Remove(fieldDataKey(id, f.StorageID, nil)); err != nil {
			return err
		}
	case schema.KindSet, schema.KindList, schema.KindMap:
		if err := tx.dropComplexState(id, f); err != nil {
			return err
		}
	}
	return nil
}

// dropComplexState removes every entry of a complex field along with the
// index entries its sub-fields contribute.
func (tx *Transaction) dropComplexState(id types.ObjId, f *schema.Field) error {
	prefix := fieldDataKey(id, f.StorageID, nil)
	min, max := kv.PrefixRange(prefix)
	iter := tx.kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		subKey := iter.Key()[len(prefix):]
		if err := tx.dropComplexEntryIndexes(id, f, subKey, iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}
	return tx.kvst.RemoveRange(min, max)
}

// dropComplexEntryIndexes removes the index entries contributed by one
// complex field entry, identified by its sub-key and stored value.
func (tx *Transaction) dropComplexEntryIndexes(id types.ObjId, f *schema.Field, subKey, value []byte) error {
	switch f.Kind {
	case schema.KindSet:
		if f.Elem.Indexed {
			return tx.removeSimpleIndexEntry(f.Elem, subKey, id, nil)
		}
	case schema.KindList:
		if f.Elem.Indexed {
			return tx.removeSimpleIndexEntry(f.Elem, value, id, subKey)
		}
	case schema.KindMap:
		if f.Key.Indexed {
			if err := tx.removeSimpleIndexEntry(f.Key, subKey, id, nil); err != nil {
				return err
			}
		}
		if f.Val.Indexed {
			return tx.removeSimpleIndexEntry(f.Val, value, id, subKey)
		}
	}
	return nil
}
