package db

import (
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Counter fields live in the store's native counter cells; they carry no
// codec, participate in no index, and adjust atomically.

// resolveCounter resolves a counter field, migrating for mutation.
func (tx *Transaction) resolveCounter(id types.ObjId, fieldSID uint32, mutate bool) (*schema.Field, error) {
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
	if f.Kind != schema.KindCounter {
		return nil, types.Errorf(types.ErrKindUnknownField,
			"field %d is a %s field, not a counter", fieldSID, f.Kind)
	}
	return f, nil
}

// ReadCounter returns a counter's value; an absent cell reads as zero.
func (tx *Transaction) ReadCounter(id types.ObjId, fieldSID uint32) (int64, error) {
	f, err := tx.resolveCounter(id, fieldSID, false)
	if err != nil {
		return 0, err
	}
	val, err := tx.kvst.Get(fieldDataKey(id, f.StorageID, nil))
	if err != nil || val == nil {
		return 0, err
	}
	return tx.kvst.DecodeCounter(val)
}

// WriteCounter sets a counter to an absolute value.
func (tx *Transaction) WriteCounter(id types.ObjId, fieldSID uint32, value int64) error {
	f, err := tx.resolveCounter(id, fieldSID, true)
	if err != nil {
		return err
	}
	if err := tx.kvst.Put(fieldDataKey(id, f.StorageID, nil), tx.kvst.EncodeCounter(value)); err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeCounterAdjust, Field: f.StorageID, New: value,
	})
}

// AdjustCounter atomically adds delta to a counter.
func (tx *Transaction) AdjustCounter(id types.ObjId, fieldSID uint32, delta int64) error {
	f, err := tx.resolveCounter(id, fieldSID, true)
	if err != nil {
		return err
	}
	if err := tx.kvst.AdjustCounter(fieldDataKey(id, f.StorageID, nil), delta); err != nil {
		return err
	}
	return tx.notifyFieldChange(id, FieldChange{
		Kind: ChangeCounterAdjust, Field: f.StorageID, New: delta,
	})
}
