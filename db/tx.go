package db

import (
	"fmt"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
	txStale
)

// Transaction is the object runtime bound to one key/value transaction
// and one schema version. It is used by one goroutine at a time.
type Transaction struct {
	db       *Database
	kvst     kv.Store
	schemas  map[uint32]*schema.Schema
	version  uint32
	schema   *schema.Schema
	state    txState
	snapshot bool

	createListeners  []CreateListener
	deleteListeners  []DeleteListener
	versionListeners []VersionChangeListener
	monitors         []*fieldMonitor

	// deleting guards against cascade-delete cycles: identifiers already
	// being torn down in the current delete are skipped on re-entry.
	deleting map[types.ObjId]bool
}

// SchemaVersion returns the schema version the transaction is bound to.
func (tx *Transaction) SchemaVersion() uint32 { return tx.version }

// Schema returns the schema model the transaction is bound to.
func (tx *Transaction) Schema() *schema.Schema { return tx.schema }

// IsSnapshot reports whether this is a snapshot transaction.
func (tx *Transaction) IsSnapshot() bool { return tx.snapshot }

// KVStore exposes the underlying key/value transaction. Mutating the
// store directly bypasses index maintenance; intended for tooling.
func (tx *Transaction) KVStore() kv.Store { return tx.kvst }

// checkOpen fails unless the transaction is usable.
func (tx *Transaction) checkOpen() error {
	if tx.state != txOpen {
		return types.ErrStaleTransaction
	}
	return nil
}

// Commit applies the transaction atomically. Snapshot transactions cannot
// commit; live transactions become stale on either outcome.
func (tx *Transaction) Commit() error {
	if tx.snapshot {
		return types.Errorf(types.ErrKindReadOnly, "snapshot transactions cannot commit")
	}
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if err := tx.kvst.Commit(); err != nil {
		tx.state = txStale
		return fmt.Errorf("commit: %w", err)
	}
	tx.state = txCommitted
	return nil
}

// Rollback discards the transaction. Rolling back twice is an error on
// the second call; snapshot transactions cannot roll back.
func (tx *Transaction) Rollback() error {
	if tx.snapshot {
		return types.Errorf(types.ErrKindReadOnly, "snapshot transactions cannot roll back")
	}
	if err := tx.checkOpen(); err != nil {
		return err
	}
	tx.state = txRolledBack
	return tx.kvst.Rollback()
}

// objectMeta reads an object's meta-data record, or ok=false when the
// object does not exist.
func (tx *Transaction) objectMeta(id types.ObjId) (version uint32, ok bool, err error) {
	val, err := tx.kvst.Get(id.Bytes())
	if err != nil {
		return 0, false, err
	}
	if val == nil {
		return 0, false, nil
	}
	version, _, err = format.ParseObjectMetaValue(val)
	if err != nil {
		return 0, false, types.Wrap(types.ErrKindInconsistent, err,
			"corrupt meta-data for object %s", id)
	}
	return version, true, nil
}

// Exists reports whether an object is live.
func (tx *Transaction) Exists(id types.ObjId) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	_, ok, err := tx.objectMeta(id)
	return ok, err
}

// GetSchemaVersion returns the schema version an object currently
// belongs to.
func (tx *Transaction) GetSchemaVersion(id types.ObjId) (uint32, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	version, ok, err := tx.objectMeta(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, types.Errorf(types.ErrKindDeletedObject, "object %s does not exist", id)
	}
	return version, nil
}

// resolveObjectType maps a storage ID to the object type in this
// transaction's schema version.
func (tx *Transaction) resolveObjectType(typeSID uint32) (*schema.ObjectType, error) {
	ot, ok := tx.schema.ObjectType(typeSID)
	if !ok {
		return nil, types.Errorf(types.ErrKindUnknownType,
			"storage ID %d is not an object type in schema version %d", typeSID, tx.version)
	}
	return ot, nil
}

// fieldIn resolves a field storage ID within an object's schema version.
// For most operations the object is first upgraded to the transaction's
// version, making the two the same.
func (tx *Transaction) fieldIn(version uint32, id types.ObjId, fieldSID uint32) (*schema.Field, *schema.ObjectType, error) {
	sch, ok := tx.schemas[version]
	if !ok {
		return nil, nil, types.Errorf(types.ErrKindInconsistent,
			"object %s records unknown schema version %d", id, version)
	}
	f, ot, ok := sch.LookupField(fieldSID)
	if !ok {
		return nil, nil, types.Errorf(types.ErrKindUnknownField,
			"storage ID %d is not a field in schema version %d", fieldSID, version)
	}
	if ot.StorageID != id.StorageID() {
		return nil, nil, types.Errorf(types.ErrKindUnknownField,
			"field %d belongs to type %d, not type %d", fieldSID, ot.StorageID, id.StorageID())
	}
	return f, ot, nil
}

// requireObject loads an object's meta-data, upgrading it to the
// transaction's schema version when mutate is set and the versions
// differ. It returns the object's (possibly new) version.
func (tx *Transaction) requireObject(id types.ObjId, mutate bool) (uint32, error) {
	version, ok, err := tx.objectMeta(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, types.Errorf(types.ErrKindDeletedObject, "object %s does not exist", id)
	}
	if mutate && version != tx.version {
		if err := tx.migrate(id, version, tx.version); err != nil {
			return 0, err
		}
		return tx.version, nil
	}
	return version, nil
}

// encodeFieldValue validates v against a field's codec and returns its
// encoding.
func encodeFieldValue(f *schema.Field, v any) ([]byte, error) {
	if !f.HasCodec() {
		return nil, types.Errorf(types.ErrKindUnknownField,
			"field %q (storage %d) is a %s field", f.Name, f.StorageID, f.Kind)
	}
	enc, err := codec.Encode(f.Codec(), v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	return enc, nil
}
