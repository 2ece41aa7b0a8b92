package db

import (
	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv/memkv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Snapshot transactions hold detached copies of objects. They never
// commit or roll back, fire no listeners, and apply the snapshot variant
// of each reference field's dangling-reference toggle.

// CreateSnapshotTransaction builds an in-memory snapshot transaction
// seeded with this transaction's schema records, then copies the given
// objects (without following references) into it.
func (tx *Transaction) CreateSnapshotTransaction(ids ...types.ObjId) (*Transaction, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	store := memkv.New().Snapshot()
	if err := store.Put(format.FormatVersionKey,
		format.AppendUvarint(nil, format.CurrentFormatVersion)); err != nil {
		return nil, err
	}

	// Carry over the recorded schema documents so the snapshot is a
	// self-contained database image.
	fv, err := formatVersion(tx.kvst)
	if err != nil {
		return nil, err
	}
	for version := range tx.schemas {
		stored, err := tx.kvst.Get(format.SchemaKey(version))
		if err != nil {
			return nil, err
		}
		if stored == nil {
			continue
		}
		if fv != format.CurrentFormatVersion {
			xmlBytes, err := format.DecodeSchemaXML(stored, fv)
			if err != nil {
				return nil, err
			}
			if stored, err = format.EncodeSchemaXML(xmlBytes, format.CurrentFormatVersion); err != nil {
				return nil, err
			}
		}
		if err := store.Put(format.SchemaKey(version), stored); err != nil {
			return nil, err
		}
	}

	snap := &Transaction{
		db:       tx.db,
		kvst:     store,
		schemas:  tx.schemas,
		version:  tx.version,
		schema:   tx.schema,
		snapshot: true,
		state:    txOpen,
	}
	if len(ids) > 0 {
		if err := tx.CopyTo(snap, false, ids...); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// CopyTo copies objects into another transaction, replacing any existing
// state they have there and rebuilding their index entries. With cascade
// set, every object transitively reachable over reference fields is
// copied as well.
func (tx *Transaction) CopyTo(dst *Transaction, cascade bool, ids ...types.ObjId) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := dst.checkOpen(); err != nil {
		return err
	}
	pending := append([]types.ObjId{}, ids...)
	copied := map[types.ObjId]bool{}
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if copied[id] {
			continue
		}
		copied[id] = true
		refs, err := tx.copyObject(dst, id, cascade)
		if err != nil {
			return err
		}
		pending = append(pending, refs...)
	}
	return nil
}

// copyObject copies one object, returning its outgoing references when
// collect is set.
func (tx *Transaction) copyObject(dst *Transaction, id types.ObjId, collect bool) ([]types.ObjId, error) {
	version, ok, err := tx.objectMeta(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.Errorf(types.ErrKindDeletedObject, "object %s does not exist", id)
	}
	sch, ok := dst.schemas[version]
	if !ok {
		return nil, types.Errorf(types.ErrKindSchemaMismatch,
			"destination lacks schema version %d", version)
	}
	ot, ok := sch.ObjectType(id.StorageID())
	if !ok {
		return nil, types.Errorf(types.ErrKindSchemaMismatch,
			"destination schema version %d lacks object type %d", version, id.StorageID())
	}

	if err := dst.purgeObjectState(id); err != nil {
		return nil, err
	}
	if err := dst.kvst.Put(id.Bytes(), format.ObjectMetaValue(version, false)); err != nil {
		return nil, err
	}
	if err := dst.kvst.Put(format.VersionIndexKey(version, id.Bytes()), nil); err != nil {
		return nil, err
	}

	var refs []types.ObjId
	collectEncodedRef := func(f *schema.Field, enc []byte) {
		if !collect || f.Kind != schema.KindReference {
			return
		}
		if target, err := types.ParseObjId(enc); err == nil {
			refs = append(refs, target)
		}
	}

	for _, f := range ot.SortedFields() {
		switch f.Kind {
		case schema.KindSimple, schema.KindReference:
			enc, err := tx.readEncodedSimple(id, f)
			if err != nil {
				return nil, err
			}
			if enc != nil {
				if err := dst.kvst.Put(fieldDataKey(id, f.StorageID, nil), enc); err != nil {
					return nil, err
				}
				collectEncodedRef(f, enc)
			}
			if f.Indexed {
				indexed := enc
				if indexed == nil {
					indexed = codec.DefaultBytes(f.Codec())
				}
				if err := dst.putSimpleIndexEntry(f, indexed, id, nil); err != nil {
					return nil, err
				}
			}
		case schema.KindCounter:
			raw, err := tx.kvst.Get(fieldDataKey(id, f.StorageID, nil))
			if err != nil {
				return nil, err
			}
			if raw != nil {
				v, err := tx.kvst.DecodeCounter(raw)
				if err != nil {
					return nil, err
				}
				if err := dst.kvst.Put(fieldDataKey(id, f.StorageID, nil), dst.kvst.EncodeCounter(v)); err != nil {
					return nil, err
				}
			}
		case schema.KindSet, schema.KindList, schema.KindMap:
			if err := tx.eachComplexEntry(id, f, func(subKey, value []byte) error {
				if err := dst.kvst.Put(fieldDataKey(id, f.StorageID, subKey), value); err != nil {
					return err
				}
				if err := dst.putComplexEntryIndexes(id, f, subKey, value); err != nil {
					return err
				}
				switch f.Kind {
				case schema.KindSet:
					collectEncodedRef(f.Elem, subKey)
				case schema.KindList:
					collectEncodedRef(f.Elem, value)
				case schema.KindMap:
					collectEncodedRef(f.Key, subKey)
					collectEncodedRef(f.Val, value)
				}
				return nil
			}); err != nil {
				return nil, err
			}
		}
	}

	// Composite index entries derive from the now-copied field values.
	for _, ix := range ot.SortedIndexes() {
		encs, err := dst.compositeEncodings(ot, ix, id, 0, nil)
		if err != nil {
			return nil, err
		}
		if err := dst.kvst.Put(compositeIndexKey(ix, encs, id), nil); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

// putComplexEntryIndexes writes the index entries contributed by one
// complex field entry.
func (tx *Transaction) putComplexEntryIndexes(id types.ObjId, f *schema.Field, subKey, value []byte) error {
	switch f.Kind {
	case schema.KindSet:
		if f.Elem.Indexed {
			return tx.putSimpleIndexEntry(f.Elem, subKey, id, nil)
		}
	case schema.KindList:
		if f.Elem.Indexed {
			return tx.putSimpleIndexEntry(f.Elem, value, id, subKey)
		}
	case schema.KindMap:
		if f.Key.Indexed {
			if err := tx.putSimpleIndexEntry(f.Key, subKey, id, nil); err != nil {
				return err
			}
		}
		if f.Val.Indexed {
			return tx.putSimpleIndexEntry(f.Val, value, id, subKey)
		}
	}
	return nil
}

// purgeObjectState silently removes an object's data and index entries
// without reference actions or listeners, in preparation for overwrite.
func (tx *Transaction) purgeObjectState(id types.ObjId) error {
	version, ok, err := tx.objectMeta(id)
	if err != nil || !ok {
		return err
	}
	sch := tx.schemas[version]
	if sch == nil {
		return types.Errorf(types.ErrKindInconsistent,
			"object %s records unknown schema version %d", id, version)
	}
	ot, ok := sch.ObjectType(id.StorageID())
	if !ok {
		return types.Errorf(types.ErrKindInconsistent,
			"object %s has no type in schema version %d", id, version)
	}
	for _, f := range ot.SortedFields() {
		if err := tx.dropFieldState(id, ot, f); err != nil {
			return err
		}
	}
	for _, ix := range ot.SortedIndexes() {
		encs, err := tx.compositeEncodings(ot, ix, id, 0, nil)
		if err != nil {
			return err
		}
		if err := tx.kvst.Remove(compositeIndexKey(ix, encs, id)); err != nil {
			return err
		}
	}
	if err := tx.kvst.Remove(format.VersionIndexKey(version, id.Bytes())); err != nil {
		return err
	}
	return tx.kvst.Remove(id.Bytes())
}
