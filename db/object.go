package db

import (
	"fmt"
	"sort"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Create allocates a new object of the given type under the
// transaction's schema version.
func (tx *Transaction) Create(typeSID uint32) (types.ObjId, error) {
	return tx.CreateVersion(typeSID, tx.version)
}

// CreateVersion allocates a new object under an explicit schema version.
func (tx *Transaction) CreateVersion(typeSID uint32, version uint32) (types.ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	sch, ok := tx.schemas[version]
	if !ok {
		return 0, types.Errorf(types.ErrKindSchemaMismatch, "schema version %d is not recorded", version)
	}
	ot, ok := sch.ObjectType(typeSID)
	if !ok {
		return 0, types.Errorf(types.ErrKindUnknownType,
			"storage ID %d is not an object type in schema version %d", typeSID, version)
	}

	id, err := tx.allocateId(typeSID)
	if err != nil {
		return 0, err
	}
	if err := tx.kvst.Put(id.Bytes(), format.ObjectMetaValue(version, false)); err != nil {
		return 0, err
	}
	if err := tx.kvst.Put(format.VersionIndexKey(version, id.Bytes()), nil); err != nil {
		return 0, err
	}
	// Default-valued fields are absent from the data range, but indexed
	// fields still appear in their indexes at the default value.
	for _, f := range ot.SortedFields() {
		if err := tx.defaultIndexEntries(id, ot, f); err != nil {
			return 0, err
		}
	}
	for _, ix := range ot.SortedIndexes() {
		encs, err := tx.compositeEncodings(ot, ix, id, 0, nil)
		if err != nil {
			return 0, err
		}
		if err := tx.kvst.Put(compositeIndexKey(ix, encs, id), nil); err != nil {
			return 0, err
		}
	}
	if err := tx.notifyCreate(id); err != nil {
		return 0, err
	}
	return id, nil
}

// allocateId draws random suffixes until one names no live object.
func (tx *Transaction) allocateId(typeSID uint32) (types.ObjId, error) {
	for attempt := 0; attempt < 100; attempt++ {
		id, err := types.NewObjId(typeSID, tx.db.rand())
		if err != nil {
			return 0, err
		}
		if id.Suffix() == 0 {
			continue // reserve the zero suffix as a range sentinel
		}
		_, exists, err := tx.objectMeta(id)
		if err != nil {
			return 0, err
		}
		if !exists {
			return id, nil
		}
	}
	return 0, fmt.Errorf("could not allocate unique object ID for type %d", typeSID)
}

// Delete removes an object, enforcing the delete action of every
// reference pointing at it and cascading along its own cascade-delete
// references. It returns false when the object does not exist.
func (tx *Transaction) Delete(id types.ObjId) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	if tx.deleting[id] {
		return false, nil
	}
	version, ok, err := tx.objectMeta(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if tx.deleting == nil {
		tx.deleting = map[types.ObjId]bool{}
	}
	tx.deleting[id] = true
	defer delete(tx.deleting, id)

	sch := tx.schemas[version]
	if sch == nil {
		return false, types.Errorf(types.ErrKindInconsistent,
			"object %s records unknown schema version %d", id, version)
	}
	ot, ok := sch.ObjectType(id.StorageID())
	if !ok {
		return false, types.Errorf(types.ErrKindInconsistent,
			"object %s has no type in its schema version %d", id, version)
	}

	if err := tx.applyIncomingReferenceActions(id); err != nil {
		return false, err
	}

	// Capture cascade targets before the object's data disappears.
	cascade, err := tx.outgoingCascadeTargets(id, ot)
	if err != nil {
		return false, err
	}

	// Composite index entries derive from current field values, so they
	// must be removed before any field data is.
	for _, ix := range ot.SortedIndexes() {
		encs, err := tx.compositeEncodings(ot, ix, id, 0, nil)
		if err != nil {
			return false, err
		}
		if err := tx.kvst.Remove(compositeIndexKey(ix, encs, id)); err != nil {
			return false, err
		}
	}
	for _, f := range ot.SortedFields() {
		if err := tx.dropFieldState(id, ot, f); err != nil {
			return false, err
		}
	}
	if err := tx.kvst.Remove(format.VersionIndexKey(version, id.Bytes())); err != nil {
		return false, err
	}
	if err := tx.kvst.Remove(id.Bytes()); err != nil {
		return false, err
	}
	if err := tx.notifyDelete(id); err != nil {
		return false, err
	}

	for _, target := range cascade {
		if _, err := tx.Delete(target); err != nil {
			return false, err
		}
	}
	return true, nil
}

// applyIncomingReferenceActions walks every reference field storage ID of
// every schema version and applies its delete action to the referrers of
// id: EXCEPTION aborts, UNREFERENCE clears, DELETE recurses, NOTHING
// leaves the dangling reference in place.
func (tx *Transaction) applyIncomingReferenceActions(id types.ObjId) error {
	type pending struct {
		refSID uint32
		ref    referrer
		action types.DeleteAction
	}
	var unreference, recurse []pending

	for _, refSID := range tx.allReferenceFieldSIDs() {
		refs, err := tx.referrersVia(refSID, id)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if r.referrer == id || tx.deleting[r.referrer] {
				// Self-references and references from objects already
				// being torn down never block or cascade.
				continue
			}
			action, err := tx.deleteActionFor(r.referrer, refSID)
			if err != nil {
				return err
			}
			switch action {
			case types.DeleteException:
				return types.Errorf(types.ErrKindReferencedObject,
					"object %s is referenced by object %s via field %d", id, r.referrer, refSID)
			case types.DeleteUnreference:
				unreference = append(unreference, pending{refSID, r, action})
			case types.DeleteDelete:
				recurse = append(recurse, pending{refSID, r, action})
			}
		}
	}
	for _, p := range unreference {
		if err := tx.unreference(p.ref.referrer, p.refSID, id, p.ref.suffix); err != nil {
			return err
		}
	}
	for _, p := range recurse {
		if _, err := tx.Delete(p.ref.referrer); err != nil {
			return err
		}
	}
	return nil
}

// allReferenceFieldSIDs collects every reference field and sub-field
// storage ID across all recorded schema versions, ascending.
func (tx *Transaction) allReferenceFieldSIDs() []uint32 {
	seen := map[uint32]bool{}
	for _, sch := range tx.schemas {
		for _, ot := range sch.ObjectTypes {
			for _, f := range ot.Fields {
				if f.Kind == schema.KindReference {
					seen[f.StorageID] = true
				}
				for _, sub := range f.SubFields() {
					if sub.Kind == schema.KindReference {
						seen[sub.StorageID] = true
					}
				}
			}
		}
	}
	out := make([]uint32, 0, len(seen))
	for sid := range seen {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deleteActionFor resolves the delete action of a reference field as the
// referring object's own schema version defines it.
func (tx *Transaction) deleteActionFor(ref types.ObjId, refSID uint32) (types.DeleteAction, error) {
	version, ok, err := tx.objectMeta(ref)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Referrer vanished mid-walk (stale index entry); nothing to do.
		return types.DeleteNothing, nil
	}
	f, _, err := tx.fieldIn(version, ref, refSID)
	if err != nil {
		return 0, err
	}
	return f.OnDelete, nil
}

// unreference clears one reference to target held by ref in the field or
// sub-field refSID. For collections the containing entry is removed.
func (tx *Transaction) unreference(ref types.ObjId, refSID uint32, target types.ObjId, suffix []byte) error {
	version, err := tx.requireObject(ref, false)
	if err != nil {
		return err
	}
	sch := tx.schemas[version]
	f, ot, err := tx.fieldIn(version, ref, refSID)
	if err != nil {
		return err
	}
	switch f.Role {
	case schema.RoleNone:
		return tx.writeSimpleLocked(ref, version, ot, f, nil)
	case schema.RoleElement:
		parent := sch.LookupParent(refSID)
		switch parent.Kind {
		case schema.KindSet:
			return tx.setRemoveEncoded(ref, parent, target.Bytes())
		case schema.KindList:
			return tx.listRemoveReferences(ref, parent, target)
		}
	case schema.RoleMapKey:
		return tx.mapRemoveEncodedKey(ref, sch.LookupParent(refSID), target.Bytes())
	case schema.RoleMapValue:
		return tx.mapRemoveEncodedKey(ref, sch.LookupParent(refSID), suffix)
	}
	return types.Errorf(types.ErrKindInconsistent,
		"reference field %d has unexpected role", refSID)
}

// outgoingCascadeTargets reads the referents of every cascade-delete
// reference field of an object.
func (tx *Transaction) outgoingCascadeTargets(id types.ObjId, ot *schema.ObjectType) ([]types.ObjId, error) {
	var targets []types.ObjId
	addEncoded := func(enc []byte) error {
		v, err := codec.Decode(codec.Reference, enc)
		if err != nil {
			return err
		}
		if v != nil {
			targets = append(targets, v.(types.ObjId))
		}
		return nil
	}
	for _, f := range ot.SortedFields() {
		switch {
		case f.Kind == schema.KindReference && f.CascadeDelete:
			enc, err := tx.readEncodedSimple(id, f)
			if err != nil {
				return nil, err
			}
			if enc != nil {
				if err := addEncoded(enc); err != nil {
					return nil, err
				}
			}
		case f.Kind == schema.KindSet || f.Kind == schema.KindList:
			if f.Elem.Kind != schema.KindReference || !f.Elem.CascadeDelete {
				continue
			}
			if err := tx.eachComplexEntry(id, f, func(subKey, value []byte) error {
				if f.Kind == schema.KindSet {
					return addEncoded(subKey)
				}
				return addEncoded(value)
			}); err != nil {
				return nil, err
			}
		case f.Kind == schema.KindMap:
			keyCascade := f.Key.Kind == schema.KindReference && f.Key.CascadeDelete
			valCascade := f.Val.Kind == schema.KindReference && f.Val.CascadeDelete
			if !keyCascade && !valCascade {
				continue
			}
			if err := tx.eachComplexEntry(id, f, func(subKey, value []byte) error {
				if keyCascade {
					if err := addEncoded(subKey); err != nil {
						return err
					}
				}
				if valCascade {
					return addEncoded(value)
				}
				return nil
			}); err != nil {
				return nil, err
			}
		}
	}
	return targets, nil
}

// eachComplexEntry iterates the stored entries of a complex field in
// ascending sub-key order.
func (tx *Transaction) eachComplexEntry(id types.ObjId, f *schema.Field, fn func(subKey, value []byte) error) error {
	prefix := fieldDataKey(id, f.StorageID, nil)
	min, max := kv.PrefixRange(prefix)
	iter := tx.kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		subKey := append([]byte{}, iter.Key()[len(prefix):]...)
		value := append([]byte{}, iter.Value()...)
		if err := fn(subKey, value); err != nil {
			return err
		}
	}
	return iter.Close()
}

// ObjIdIterator walks the live objects of one type in identifier order.
type ObjIdIterator struct {
	iter kv.Iterator
	cur  types.ObjId
	err  error
}

// GetAll returns an iterator over all objects of a type, ascending by
// identifier, or descending when reverse is set.
func (tx *Transaction) GetAll(typeSID uint32, reverse bool) (*ObjIdIterator, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := tx.resolveObjectType(typeSID); err != nil {
		return nil, err
	}
	min, max := kv.PrefixRange(format.StorageIDPrefix(typeSID))
	return &ObjIdIterator{iter: tx.kvst.GetRange(min, max, reverse)}, nil
}

// Next advances to the next object, skipping field data keys.
func (it *ObjIdIterator) Next() bool {
	for it.iter.Next() {
		key := it.iter.Key()
		if len(key) != 8 {
			continue // field data key, not an object meta-data record
		}
		id, err := types.ParseObjId(key)
		if err != nil {
			it.err = err
			return false
		}
		it.cur = id
		return true
	}
	return false
}

// ID returns the current object identifier.
func (it *ObjIdIterator) ID() types.ObjId { return it.cur }

// Err returns the first malformed-key error encountered.
func (it *ObjIdIterator) Err() error { return it.err }

// Close releases the iterator.
func (it *ObjIdIterator) Close() error { return it.iter.Close() }

// DeleteSchemaVersion removes a recorded schema version. A version is
// only removable while no live object belongs to it; the object-version
// index answers that with a single bounded scan. Returns false when the
// version is not recorded.
func (tx *Transaction) DeleteSchemaVersion(version uint32) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	key := format.SchemaKey(version)
	stored, err := tx.kvst.Get(key)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}
	min, max := kv.PrefixRange(format.VersionIndexKeyPrefix(version))
	first, err := tx.kvst.GetAtLeast(min)
	if err != nil {
		return false, err
	}
	if first != nil && kv.Within(first.Key, min, max) {
		return false, types.Errorf(types.ErrKindSchemaMismatch,
			"schema version %d still has objects", version)
	}
	if err := tx.kvst.Remove(key); err != nil {
		return false, err
	}
	// Other transactions must reload the recorded set.
	tx.db.mu.Lock()
	tx.db.cache = nil
	tx.db.mu.Unlock()
	return true, nil
}

// UpdateVersion migrates an object to the target schema version,
// adding and removing field state per the schema diff and firing
// version-change listeners.
func (tx *Transaction) UpdateVersion(id types.ObjId, target uint32) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	version, ok, err := tx.objectMeta(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.Errorf(types.ErrKindDeletedObject, "object %s does not exist", id)
	}
	if version == target {
		return nil
	}
	return tx.migrate(id, version, target)
}

// migrate applies the schema diff between two versions to one object.
func (tx *Transaction) migrate(id types.ObjId, fromV, toV uint32) error {
	fromSch, ok := tx.schemas[fromV]
	if !ok {
		return types.Errorf(types.ErrKindInconsistent, "schema version %d is not recorded", fromV)
	}
	toSch, ok := tx.schemas[toV]
	if !ok {
		return types.Errorf(types.ErrKindSchemaMismatch, "schema version %d is not recorded", toV)
	}
	typeSID := id.StorageID()
	fromOT, _ := fromSch.ObjectType(typeSID)
	toOT, ok := toSch.ObjectType(typeSID)
	if !ok {
		return types.Errorf(types.ErrKindUnknownType,
			"object type %d does not exist in schema version %d", typeSID, toV)
	}

	diff := schema.DiffType(fromOT, toOT)

	// Reconcile index membership first: composite entries derive from
	// current field values, which dropping removed fields would destroy.
	if fromOT != nil {
		if err := tx.reconcileSurvivingIndexes(id, fromOT, toOT); err != nil {
			return err
		}
	}

	// Capture prior values of removed fields for the listener, then drop
	// their state.
	removed := map[uint32]any{}
	for _, f := range sortedDiffFields(diff.Removed) {
		old, err := tx.currentValueOf(id, f)
		if err != nil {
			return err
		}
		removed[f.StorageID] = old
		if err := tx.dropFieldState(id, fromOT, f); err != nil {
			return err
		}
	}

	// Initialize added fields: no data keys, but indexed fields appear
	// in their indexes at the default value.
	added := map[uint32]any{}
	for _, f := range sortedDiffFields(diff.Added) {
		added[f.StorageID] = defaultValueOf(f)
		if err := tx.defaultIndexEntries(id, toOT, f); err != nil {
			return err
		}
	}

	// Move the object-version index entry and rewrite the meta-data.
	if err := tx.kvst.Remove(format.VersionIndexKey(fromV, id.Bytes())); err != nil {
		return err
	}
	if err := tx.kvst.Put(format.VersionIndexKey(toV, id.Bytes()), nil); err != nil {
		return err
	}
	if err := tx.kvst.Put(id.Bytes(), format.ObjectMetaValue(toV, false)); err != nil {
		return err
	}
	return tx.notifyVersionChange(id, fromV, toV, removed, added)
}

// reconcileSurvivingIndexes adjusts simple index entries and composite
// index entries when index membership differs between an object's old
// and new versions.
func (tx *Transaction) reconcileSurvivingIndexes(id types.ObjId, fromOT, toOT *schema.ObjectType) error {
	for sid, fromF := range fromOT.Fields {
		toF, survives := toOT.Fields[sid]
		if !survives || !fromF.HasCodec() {
			continue
		}
		if fromF.Indexed == toF.Indexed {
			continue
		}
		enc, err := tx.encodedOrDefault(id, fromF)
		if err != nil {
			return err
		}
		if fromF.Indexed {
			if err := tx.removeSimpleIndexEntry(fromF, enc, id, nil); err != nil {
				return err
			}
		} else {
			if err := tx.putSimpleIndexEntry(toF, enc, id, nil); err != nil {
				return err
			}
		}
	}
	for sid, fromIx := range fromOT.Indexes {
		if _, survives := toOT.Indexes[sid]; survives {
			continue
		}
		encs, err := tx.compositeEncodings(fromOT, fromIx, id, 0, nil)
		if err != nil {
			return err
		}
		if err := tx.kvst.Remove(compositeIndexKey(fromIx, encs, id)); err != nil {
			return err
		}
	}
	for sid, toIx := range toOT.Indexes {
		if _, existed := fromOT.Indexes[sid]; existed {
			continue
		}
		encs, err := tx.compositeEncodings(toOT, toIx, id, 0, nil)
		if err != nil {
			return err
		}
		if err := tx.kvst.Put(compositeIndexKey(toIx, encs, id), nil); err != nil {
			return err
		}
	}
	return nil
}

// currentValueOf decodes a field's current value: the decoded simple
// value, the counter value, or nil for complex fields.
func (tx *Transaction) currentValueOf(id types.ObjId, f *schema.Field) (any, error) {
	switch f.Kind {
	case schema.KindSimple, schema.KindReference:
		enc, err := tx.encodedOrDefault(id, f)
		if err != nil {
			return nil, err
		}
		return codec.Decode(f.Codec(), enc)
	case schema.KindCounter:
		val, err := tx.kvst.Get(fieldDataKey(id, f.StorageID, nil))
		if err != nil || val == nil {
			return int64(0), err
		}
		return tx.kvst.DecodeCounter(val)
	default:
		return nil, nil
	}
}

// defaultValueOf returns the initial value a field takes when a
// migration introduces it.
func defaultValueOf(f *schema.Field) any {
	switch f.Kind {
	case schema.KindSimple, schema.KindReference:
		return f.Codec().Default()
	case schema.KindCounter:
		return int64(0)
	default:
		return nil
	}
}

func sortedDiffFields(m map[uint32]*schema.Field) []*schema.Field {
	out := make([]*schema.Field, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorageID < out[j].StorageID })
	return out
}
