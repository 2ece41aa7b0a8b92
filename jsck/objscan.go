package jsck

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// classification resolves what a storage ID means across the recorded
// schema set. Cross-version compatibility guarantees the role is the
// same in every version that knows the ID.
type classification struct {
	objectType bool
	field      *schema.Field          // representative definition
	parent     *schema.Field          // enclosing complex field for sub-fields
	composite  *schema.CompositeIndex // representative definition
	ownerSID   uint32
}

// classify builds the storage ID classification table.
func (c *checker) classify() map[uint32]*classification {
	out := map[uint32]*classification{}
	at := func(sid uint32) *classification {
		cl := out[sid]
		if cl == nil {
			cl = &classification{}
			out[sid] = cl
		}
		return cl
	}
	for _, sch := range c.schemas {
		for _, ot := range sch.SortedObjectTypes() {
			at(ot.StorageID).objectType = true
			for _, f := range ot.SortedFields() {
				cl := at(f.StorageID)
				cl.field, cl.ownerSID = f, ot.StorageID
				for _, sub := range f.SubFields() {
					scl := at(sub.StorageID)
					scl.field, scl.parent, scl.ownerSID = sub, f, ot.StorageID
				}
			}
			for _, ix := range ot.SortedIndexes() {
				cl := at(ix.StorageID)
				cl.composite, cl.ownerSID = ix, ot.StorageID
			}
		}
	}
	return out
}

func sortedSIDs[V any](m map[uint32]V) []uint32 {
	out := make([]uint32, 0, len(m))
	for sid := range m {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// objectState accumulates one object's scanned field values so that
// default index entries and composite entries can be verified when the
// object's key range ends.
type objectState struct {
	id      types.ObjId
	version uint32
	ot      *schema.ObjectType
	simple  map[uint32][]byte // encoded values of simple fields seen
}

// scanObjects walks every object type's key range, validating meta-data
// records, field encodings, and the index entries each field implies.
func (c *checker) scanObjects() error {
	classes := c.classify()
	for _, sid := range sortedSIDs(classes) {
		if !classes[sid].objectType {
			continue
		}
		if err := c.scanObjectType(sid); err != nil {
			return err
		}
	}
	if err := c.scanUnknownRanges(classes); err != nil {
		return err
	}
	c.log.Info("object scan complete", zap.Int64("objects", c.report.ObjectsScanned))
	return nil
}

// scanObjectType walks one type's range: a meta-data record followed by
// that object's field keys, repeated per object.
func (c *checker) scanObjectType(typeSID uint32) error {
	min, max := kv.PrefixRange(format.StorageIDPrefix(typeSID))
	iter := c.kvst.GetRange(min, max, false)
	defer iter.Close()

	var cur *objectState
	finish := func() error {
		if cur == nil {
			return nil
		}
		err := c.finishObject(cur)
		cur = nil
		return err
	}

	for iter.Next() {
		key := append([]byte{}, iter.Key()...)
		if !c.inScope(key) {
			continue
		}
		value := append([]byte{}, iter.Value()...)

		if len(key) < 8 {
			if err := c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: "key too short for an object ID"}); err != nil {
				return err
			}
			continue
		}
		id, err := types.ParseObjId(key[:8])
		if err != nil {
			if err := c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: "malformed object ID"}); err != nil {
				return err
			}
			continue
		}

		if len(key) == 8 {
			if err := finish(); err != nil {
				return err
			}
			state, err := c.checkObjectMeta(id, key, value)
			if err != nil {
				return err
			}
			cur = state
			continue
		}

		if cur == nil || cur.id != id {
			if err := c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: fmt.Sprintf("field data for nonexistent object %s", id)}); err != nil {
				return err
			}
			continue
		}
		if err := c.checkFieldKey(cur, key, value); err != nil {
			return err
		}
	}
	if err := finish(); err != nil {
		return err
	}
	return iter.Close()
}

// checkObjectMeta validates one meta-data record and opens its object
// state, returning nil state when the record is bad.
func (c *checker) checkObjectMeta(id types.ObjId, key, value []byte) (*objectState, error) {
	version, deleteNotified, err := format.ParseObjectMetaValue(value)
	if err != nil {
		return nil, c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value,
			Detail: fmt.Sprintf("corrupt meta-data for object %s", id)})
	}
	if deleteNotified {
		// Repairable in place; the object itself remains valid.
		if err := c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value,
			NewValue: format.ObjectMetaValue(version, false),
			Detail:   fmt.Sprintf("object %s has nonzero delete-notified flag", id)}); err != nil {
			return nil, err
		}
	}
	sch, ok := c.schemas[version]
	if !ok {
		return nil, c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value,
			Detail: fmt.Sprintf("object %s records unknown schema version %d", id, version)})
	}
	ot, ok := sch.ObjectType(id.StorageID())
	if !ok {
		return nil, c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value,
			Detail: fmt.Sprintf("object %s has no type in schema version %d", id, version)})
	}

	c.report.ObjectsScanned++
	c.objectVersions[version]++

	// Exactly one object-version index entry per live object.
	if err := c.checkPresent(format.VersionIndexKey(version, id.Bytes()),
		fmt.Sprintf("object-version index entry for %s", id)); err != nil {
		return nil, err
	}
	return &objectState{id: id, version: version, ot: ot, simple: map[uint32][]byte{}}, nil
}

// checkFieldKey validates one field data key of the current object.
func (c *checker) checkFieldKey(cur *objectState, key, value []byte) error {
	rest := key[8:]
	sid64, n, err := format.Uvarint(rest)
	if err != nil {
		return c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
			Detail: "malformed field storage ID"})
	}
	fieldSID := uint32(sid64)
	subKey := rest[n:]
	f, ok := cur.ot.Fields[fieldSID]
	if !ok {
		return c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
			Detail: fmt.Sprintf("object %s has no field %d in schema version %d",
				cur.id, fieldSID, cur.version)})
	}

	switch f.Kind {
	case schema.KindSimple, schema.KindReference:
		if len(subKey) != 0 {
			return c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: fmt.Sprintf("simple field %d has trailing key bytes", fieldSID)})
		}
		if _, err := codec.Decode(f.Codec(), value); err != nil {
			return c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value,
				Detail: fmt.Sprintf("field %d value does not decode: %v", fieldSID, err)})
		}
		if codec.IsDefault(f.Codec(), value) {
			return c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: fmt.Sprintf("field %d stores its default value, which must be absent", fieldSID)})
		}
		cur.simple[fieldSID] = value
		if f.Indexed {
			return c.checkPresent(format.IndexKey(fieldSID, value, cur.id.Bytes(), nil),
				fmt.Sprintf("index entry for field %d of %s", fieldSID, cur.id))
		}
	case schema.KindCounter:
		if len(subKey) != 0 {
			return c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: fmt.Sprintf("counter field %d has trailing key bytes", fieldSID)})
		}
		if _, err := c.kvst.DecodeCounter(value); err != nil {
			return c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value,
				Detail: fmt.Sprintf("counter field %d holds an undecodable value", fieldSID)})
		}
	case schema.KindSet:
		if err := c.checkEncodes(f.Elem, subKey, key, value, "set element"); err != nil {
			return err
		}
		if len(value) != 0 {
			return c.issue(Issue{Kind: InvalidValue, Key: key, OldValue: value, NewValue: []byte{},
				Detail: fmt.Sprintf("set field %d entry carries a value", fieldSID)})
		}
		if f.Elem.Indexed {
			return c.checkPresent(format.IndexKey(f.Elem.StorageID, subKey, cur.id.Bytes(), nil),
				fmt.Sprintf("set element index entry for field %d of %s", f.Elem.StorageID, cur.id))
		}
	case schema.KindList:
		if _, m, err := format.Uvarint(subKey); err != nil || m != len(subKey) {
			return c.issue(Issue{Kind: InvalidKey, Key: key, OldValue: value,
				Detail: fmt.Sprintf("list field %d has a malformed index key", fieldSID)})
		}
		if err := c.checkEncodes(f.Elem, value, key, value, "list element"); err != nil {
			return err
		}
		if f.Elem.Indexed {
			return c.checkPresent(format.IndexKey(f.Elem.StorageID, value, cur.id.Bytes(), subKey),
				fmt.Sprintf("list element index entry for field %d of %s", f.Elem.StorageID, cur.id))
		}
	case schema.KindMap:
		if err := c.checkEncodes(f.Key, subKey, key, value, "map key"); err != nil {
			return err
		}
		if err := c.checkEncodes(f.Val, value, key, value, "map value"); err != nil {
			return err
		}
		if f.Key.Indexed {
			if err := c.checkPresent(format.IndexKey(f.Key.StorageID, subKey, cur.id.Bytes(), nil),
				fmt.Sprintf("map key index entry for field %d of %s", f.Key.StorageID, cur.id)); err != nil {
				return err
			}
		}
		if f.Val.Indexed {
			return c.checkPresent(format.IndexKey(f.Val.StorageID, value, cur.id.Bytes(), subKey),
				fmt.Sprintf("map value index entry for field %d of %s", f.Val.StorageID, cur.id))
		}
	}
	return nil
}

// checkEncodes verifies that enc is a complete, valid encoding for a
// sub-field.
func (c *checker) checkEncodes(sub *schema.Field, enc, key, value []byte, what string) error {
	if _, err := codec.Decode(sub.Codec(), enc); err != nil {
		return c.issue(Issue{Kind: InvalidKey, Key: append([]byte{}, key...),
			OldValue: append([]byte{}, value...),
			Detail:   fmt.Sprintf("%s does not decode: %v", what, err)})
	}
	return nil
}

// finishObject verifies the index entries implied by fields the object
// never materialized: default entries for indexed simple fields and the
// composite index entries over current (possibly default) values.
func (c *checker) finishObject(cur *objectState) error {
	for _, f := range cur.ot.SortedFields() {
		if !f.HasCodec() || !f.Indexed || f.Role != schema.RoleNone {
			continue
		}
		if _, seen := cur.simple[f.StorageID]; seen {
			continue
		}
		if err := c.checkPresent(
			format.IndexKey(f.StorageID, codec.DefaultBytes(f.Codec()), cur.id.Bytes(), nil),
			fmt.Sprintf("default-value index entry for field %d of %s", f.StorageID, cur.id)); err != nil {
			return err
		}
	}
	for _, ix := range cur.ot.SortedIndexes() {
		key := format.StorageIDPrefix(ix.StorageID)
		for _, sid := range ix.Fields {
			enc, seen := cur.simple[sid]
			if !seen {
				enc = codec.DefaultBytes(cur.ot.Fields[sid].Codec())
			}
			key = append(key, enc...)
		}
		key = append(key, cur.id.Bytes()...)
		if err := c.checkPresent(key,
			fmt.Sprintf("composite index %d entry for %s", ix.StorageID, cur.id)); err != nil {
			return err
		}
	}
	return nil
}

// checkPresent reports a MissingKey issue when key is absent. Repair
// writes the (empty) index entry.
func (c *checker) checkPresent(key []byte, what string) error {
	val, err := c.kvst.Get(key)
	if err != nil {
		return err
	}
	if val != nil {
		return nil
	}
	return c.issue(Issue{Kind: MissingKey, Key: key, NewValue: []byte{},
		Detail: "missing " + what})
}

// scanUnknownRanges flags data-area keys whose leading storage ID is
// known to no schema version.
func (c *checker) scanUnknownRanges(classes map[uint32]*classification) error {
	iter := c.kvst.GetRange([]byte{0x01}, nil, false)
	defer iter.Close()
	for iter.Next() {
		key := iter.Key()
		if !c.inScope(key) {
			continue
		}
		sid64, _, err := format.Uvarint(key)
		known := err == nil
		if known {
			cl := classes[uint32(sid64)]
			known = cl != nil && (cl.objectType || cl.field != nil || cl.composite != nil)
		}
		if !known {
			if err := c.issue(Issue{Kind: InvalidKey,
				Key:      append([]byte{}, key...),
				OldValue: append([]byte{}, iter.Value()...),
				Detail:   "key under a storage ID known to no schema version"}); err != nil {
				return err
			}
		}
	}
	return iter.Close()
}
