package jsck

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// scanIndexes walks every index key range and verifies that each entry
// is still backed by object data. Stale entries are deleted on repair;
// missing entries were already reported by the object scan.
func (c *checker) scanIndexes() error {
	classes := c.classify()
	for _, sid := range sortedSIDs(classes) {
		cl := classes[sid]
		switch {
		case cl.composite != nil:
			if err := c.scanCompositeIndex(sid, cl); err != nil {
				return err
			}
		case cl.field != nil && cl.field.HasCodec():
			if err := c.scanFieldIndex(sid, cl); err != nil {
				return err
			}
		}
	}
	c.log.Info("index scan complete", zap.Int64("entries", c.report.IndexEntriesScanned))
	return nil
}

// scanFieldIndex validates the entries of one simple or sub-field index.
func (c *checker) scanFieldIndex(sid uint32, cl *classification) error {
	prefix := format.StorageIDPrefix(sid)
	min, max := kv.PrefixRange(prefix)
	iter := c.kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		key := append([]byte{}, iter.Key()...)
		if !c.inScope(key) {
			continue
		}
		c.report.IndexEntriesScanned++
		if err := c.checkFieldIndexEntry(sid, cl, prefix, key, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Close()
}

func (c *checker) checkFieldIndexEntry(sid uint32, cl *classification, prefix, key, value []byte) error {
	stale := func(detail string) error {
		return c.issue(Issue{Kind: InvalidKey, Key: key,
			OldValue: append([]byte{}, value...), Detail: detail})
	}
	if len(value) != 0 {
		if err := c.issue(Issue{Kind: InvalidValue, Key: key,
			OldValue: append([]byte{}, value...), NewValue: []byte{},
			Detail: fmt.Sprintf("index entry for field %d carries a value", sid)}); err != nil {
			return err
		}
	}

	rest := key[len(prefix):]
	r := codec.NewReader(rest)
	if err := cl.field.Codec().Skip(r); err != nil {
		return stale(fmt.Sprintf("index entry value for field %d does not decode", sid))
	}
	valueEnc := rest[:r.Offset()]
	idBytes, err := r.ReadBytes(8)
	if err != nil {
		return stale("index entry truncated before object ID")
	}
	id, err := types.ParseObjId(idBytes)
	if err != nil {
		return stale("index entry has malformed object ID")
	}
	suffix := rest[r.Offset():]

	// Resolve the field in the referenced object's own schema version.
	f, parent, ok, err := c.fieldForObject(id, sid)
	if err != nil {
		return err
	}
	if !ok || !f.Indexed {
		return stale(fmt.Sprintf("index entry refers to object %s, which has no indexed field %d", id, sid))
	}

	switch f.Role {
	case schema.RoleNone:
		if len(suffix) != 0 {
			return stale("simple field index entry has trailing bytes")
		}
		stored, err := c.kvst.Get(format.FieldKey(id.Bytes(), sid, nil))
		if err != nil {
			return err
		}
		expect := stored
		if expect == nil {
			expect = codec.DefaultBytes(f.Codec())
		}
		if !bytes.Equal(expect, valueEnc) {
			return stale(fmt.Sprintf("index entry value disagrees with field %d of %s", sid, id))
		}
	case schema.RoleElement:
		if parent.Kind == schema.KindSet {
			if len(suffix) != 0 {
				return stale("set element index entry has trailing bytes")
			}
			stored, err := c.kvst.Get(format.FieldKey(id.Bytes(), parent.StorageID, valueEnc))
			if err != nil {
				return err
			}
			if stored == nil {
				return stale(fmt.Sprintf("set element index entry has no backing entry in %s", id))
			}
		} else {
			if _, n, err := format.Uvarint(suffix); err != nil || n != len(suffix) {
				return stale("list element index entry has a malformed list index")
			}
			stored, err := c.kvst.Get(format.FieldKey(id.Bytes(), parent.StorageID, suffix))
			if err != nil {
				return err
			}
			if stored == nil || !bytes.Equal(stored, valueEnc) {
				return stale(fmt.Sprintf("list element index entry disagrees with %s", id))
			}
		}
	case schema.RoleMapKey:
		if len(suffix) != 0 {
			return stale("map key index entry has trailing bytes")
		}
		stored, err := c.kvst.Get(format.FieldKey(id.Bytes(), parent.StorageID, valueEnc))
		if err != nil {
			return err
		}
		if stored == nil {
			return stale(fmt.Sprintf("map key index entry has no backing entry in %s", id))
		}
	case schema.RoleMapValue:
		stored, err := c.kvst.Get(format.FieldKey(id.Bytes(), parent.StorageID, suffix))
		if err != nil {
			return err
		}
		if stored == nil || !bytes.Equal(stored, valueEnc) {
			return stale(fmt.Sprintf("map value index entry disagrees with %s", id))
		}
	}
	return nil
}

// scanCompositeIndex validates the entries of one composite index.
func (c *checker) scanCompositeIndex(sid uint32, cl *classification) error {
	prefix := format.StorageIDPrefix(sid)
	min, max := kv.PrefixRange(prefix)
	iter := c.kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		key := append([]byte{}, iter.Key()...)
		if !c.inScope(key) {
			continue
		}
		c.report.IndexEntriesScanned++
		if err := c.checkCompositeEntry(sid, cl, prefix, key, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Close()
}

func (c *checker) checkCompositeEntry(sid uint32, cl *classification, prefix, key, value []byte) error {
	stale := func(detail string) error {
		return c.issue(Issue{Kind: InvalidKey, Key: key,
			OldValue: append([]byte{}, value...), Detail: detail})
	}

	rest := key[len(prefix):]
	ot, ix, ok := c.compositeDefinition(sid)
	if !ok {
		return stale(fmt.Sprintf("composite index %d is defined in no schema version", sid))
	}

	r := codec.NewReader(rest)
	encs := make([][]byte, len(ix.Fields))
	for i, fieldSID := range ix.Fields {
		start := r.Offset()
		if err := ot.Fields[fieldSID].Codec().Skip(r); err != nil {
			return stale(fmt.Sprintf("composite index %d entry field %d does not decode", sid, fieldSID))
		}
		encs[i] = rest[start:r.Offset()]
	}
	idBytes, err := r.ReadBytes(8)
	if err != nil || r.Remaining() != 0 {
		return stale(fmt.Sprintf("composite index %d entry has a malformed tail", sid))
	}
	id, err := types.ParseObjId(idBytes)
	if err != nil {
		return stale("composite index entry has malformed object ID")
	}

	metaVal, err := c.kvst.Get(id.Bytes())
	if err != nil {
		return err
	}
	if metaVal == nil {
		return stale(fmt.Sprintf("composite index %d entry refers to deleted object %s", sid, id))
	}
	version, _, err := format.ParseObjectMetaValue(metaVal)
	if err != nil {
		return stale(fmt.Sprintf("composite index %d entry refers to object %s with corrupt meta-data", sid, id))
	}
	objSch, ok := c.schemas[version]
	if ok {
		objOT, typed := objSch.ObjectType(id.StorageID())
		if !typed || objOT.Indexes[sid] == nil {
			return stale(fmt.Sprintf("object %s has no composite index %d in its version", id, sid))
		}
	}

	for i, fieldSID := range ix.Fields {
		stored, err := c.kvst.Get(format.FieldKey(id.Bytes(), fieldSID, nil))
		if err != nil {
			return err
		}
		expect := stored
		if expect == nil {
			expect = codec.DefaultBytes(ot.Fields[fieldSID].Codec())
		}
		if !bytes.Equal(expect, encs[i]) {
			return stale(fmt.Sprintf("composite index %d entry disagrees with field %d of %s",
				sid, fieldSID, id))
		}
	}
	return nil
}

// fieldForObject resolves a field storage ID within the schema version
// an object records. ok is false when the object is gone, its version is
// unknown, or the version lacks the field.
func (c *checker) fieldForObject(id types.ObjId, fieldSID uint32) (*schema.Field, *schema.Field, bool, error) {
	metaVal, err := c.kvst.Get(id.Bytes())
	if err != nil {
		return nil, nil, false, err
	}
	if metaVal == nil {
		return nil, nil, false, nil
	}
	version, _, err := format.ParseObjectMetaValue(metaVal)
	if err != nil {
		return nil, nil, false, nil
	}
	sch, ok := c.schemas[version]
	if !ok {
		return nil, nil, false, nil
	}
	f, ot, ok := sch.LookupField(fieldSID)
	if !ok || ot.StorageID != id.StorageID() {
		return nil, nil, false, nil
	}
	return f, sch.LookupParent(fieldSID), true, nil
}

// compositeDefinition finds a composite index definition in some schema
// version.
func (c *checker) compositeDefinition(sid uint32) (*schema.ObjectType, *schema.CompositeIndex, bool) {
	for _, sch := range c.schemas {
		if ix, ot, ok := sch.LookupIndex(sid); ok {
			return ot, ix, ok
		}
	}
	return nil, nil, false
}
