package db

import (
	"bytes"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// ReadSimple returns the value of a simple or reference field. Reading
// never migrates the object: the field is resolved in the object's own
// schema version.
func (tx *Transaction) ReadSimple(id types.ObjId, fieldSID uint32) (any, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	version, err := tx.requireObject(id, false)
	if err != nil {
		return nil, err
	}
	f, _, err := tx.fieldIn(version, id, fieldSID)
	if err != nil {
		return nil, err
	}
	if !f.HasCodec() || f.Role != schema.RoleNone {
		return nil, types.Errorf(types.ErrKindUnknownField,
			"field %d is not a simple field", fieldSID)
	}
	enc, err := tx.encodedOrDefault(id, f)
	if err != nil {
		return nil, err
	}
	return codec.Decode(f.Codec(), enc)
}

// WriteSimple sets the value of a simple or reference field, migrating
// the object to the transaction's schema version first if necessary.
func (tx *Transaction) WriteSimple(id types.ObjId, fieldSID uint32, v any) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	version, err := tx.requireObject(id, true)
	if err != nil {
		return err
	}
	f, ot, err := tx.fieldIn(version, id, fieldSID)
	if err != nil {
		return err
	}
	if !f.HasCodec() || f.Role != schema.RoleNone {
		return types.Errorf(types.ErrKindUnknownField,
			"field %d is not a simple field", fieldSID)
	}
	return tx.writeSimpleLocked(id, version, ot, f, v)
}

// writeSimpleLocked performs the simple-field write algorithm: validate
// and normalize, compare with the stored encoding, re-key the composite
// and single-field indexes, update the data key, and fire notifications.
func (tx *Transaction) writeSimpleLocked(id types.ObjId, version uint32,
	ot *schema.ObjectType, f *schema.Field, v any) error {

	if f.Kind == schema.KindReference {
		if err := tx.validateReferenceTarget(f, v); err != nil {
			return err
		}
	}
	enc, err := encodeFieldValue(f, v)
	if err != nil {
		return err
	}

	defaultEnc := codec.DefaultBytes(f.Codec())
	newStored := enc
	if bytes.Equal(enc, defaultEnc) {
		newStored = nil // default values are never materialized
	}

	oldStored, err := tx.readEncodedSimple(id, f)
	if err != nil {
		return err
	}
	if bytes.Equal(oldStored, newStored) {
		return nil
	}

	oldIndexed := oldStored
	if oldIndexed == nil {
		oldIndexed = defaultEnc
	}
	newIndexed := enc

	if err := tx.updateCompositeIndexes(ot, id, f.StorageID, oldIndexed, newIndexed); err != nil {
		return err
	}
	if f.Indexed {
		if err := tx.removeSimpleIndexEntry(f, oldIndexed, id, nil); err != nil {
			return err
		}
		if err := tx.putSimpleIndexEntry(f, newIndexed, id, nil); err != nil {
			return err
		}
	}
	if newStored == nil {
		if err := tx.kvst.Remove(fieldDataKey(id, f.StorageID, nil)); err != nil {
			return err
		}
	} else {
		if err := tx.kvst.Put(fieldDataKey(id, f.StorageID, nil), newStored); err != nil {
			return err
		}
	}

	oldVal, err := codec.Decode(f.Codec(), oldIndexed)
	if err != nil {
		return types.Wrap(types.ErrKindInconsistent, err,
			"stored value of field %d is undecodable", f.StorageID)
	}
	newVal, err := codec.Decode(f.Codec(), enc)
	if err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind:  ChangeSimple,
		Field: f.StorageID,
		Old:   oldVal,
		New:   newVal,
	})
}

// validateReferenceTarget enforces reference integrity on assignment: a
// non-null target must name a live object unless the field permits
// dangling references (with a separate toggle for snapshot
// transactions).
func (tx *Transaction) validateReferenceTarget(f *schema.Field, v any) error {
	if v == nil {
		return nil
	}
	allow := f.AllowDeleted
	if tx.snapshot {
		allow = f.AllowDeletedSnapshot
	}
	if allow {
		return nil
	}
	id, ok := v.(types.ObjId)
	if !ok {
		return types.Errorf(types.ErrKindDeletedAssignment,
			"reference field %d: value of type %T is not an object ID", f.StorageID, v)
	}
	_, exists, err := tx.objectMeta(id)
	if err != nil {
		return err
	}
	if !exists {
		return types.Errorf(types.ErrKindDeletedAssignment,
			"reference field %d: object %s does not exist", f.StorageID, id)
	}
	return nil
}
