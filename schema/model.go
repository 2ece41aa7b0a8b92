package schema

import (
	"fmt"
	"sort"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/pkg/types"
)

// FieldKind discriminates the six kinds of object fields.
type FieldKind int

const (
	KindSimple FieldKind = iota
	KindCounter
	KindReference
	KindSet
	KindList
	KindMap
)

// String implements the Stringer interface for FieldKind.
func (k FieldKind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindCounter:
		return "counter"
	case KindReference:
		return "reference"
	case KindSet:
		return "set"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// SubFieldRole names the position of a sub-field within a complex field.
type SubFieldRole int

const (
	RoleNone SubFieldRole = iota
	RoleElement
	RoleMapKey
	RoleMapValue
)

// Schema is one validated schema version: a set of object types.
type Schema struct {
	ObjectTypes map[uint32]*ObjectType

	// byStorageID indexes every item in the schema by storage ID,
	// populated by Validate.
	byStorageID map[uint32]item
}

// ObjectType describes one object type and its fields.
type ObjectType struct {
	Name      string
	StorageID uint32
	Fields    map[uint32]*Field
	Indexes   map[uint32]*CompositeIndex
}

// Field describes one field. Which members are meaningful depends on
// Kind: simple fields carry Type/Indexed, references add the delete
// policy members, sets and lists carry Elem, and maps carry Key and Val.
type Field struct {
	Name      string
	StorageID uint32
	Kind      FieldKind
	Role      SubFieldRole // RoleNone for top-level fields

	// Simple and reference fields.
	Type    string // codec name; "enum" uses EnumIdents
	Indexed bool

	// Enum simple fields.
	EnumIdents []string

	// Reference fields.
	OnDelete             types.DeleteAction
	CascadeDelete        bool
	AllowDeleted         bool
	AllowDeletedSnapshot bool
	AllowedTypes         []uint32 // empty means any object type

	// Complex fields.
	Elem *Field // set and list element
	Key  *Field // map key
	Val  *Field // map value

	bound codec.Codec
}

// CompositeIndex is a secondary index over 2 to 4 simple fields of one
// object type.
type CompositeIndex struct {
	Name      string
	StorageID uint32
	Fields    []uint32 // storage IDs of the indexed fields, in key order
}

// Codec returns the codec bound to this simple or reference field during
// validation.
func (f *Field) Codec() codec.Codec {
	if f.bound == nil {
		panic(fmt.Sprintf("field %q (storage %d) has no bound codec", f.Name, f.StorageID))
	}
	return f.bound
}

// HasCodec reports whether the field carries an encoded value (i.e. is a
// simple or reference field, possibly as a sub-field).
func (f *Field) HasCodec() bool {
	return f.Kind == KindSimple || f.Kind == KindReference
}

// SubFields returns the sub-fields of a complex field in key order.
func (f *Field) SubFields() []*Field {
	switch f.Kind {
	case KindSet, KindList:
		return []*Field{f.Elem}
	case KindMap:
		return []*Field{f.Key, f.Val}
	default:
		return nil
	}
}

// item is any schema element owning a storage ID.
type item struct {
	objType *ObjectType
	field   *Field
	index   *CompositeIndex
	owner   *ObjectType // enclosing type for fields and indexes
	parent  *Field      // enclosing complex field for sub-fields
}

// ObjectTypeByName finds an object type by name.
func (s *Schema) ObjectTypeByName(name string) (*ObjectType, bool) {
	for _, ot := range s.ObjectTypes {
		if ot.Name == name {
			return ot, true
		}
	}
	return nil, false
}

// ObjectType resolves an object type storage ID.
func (s *Schema) ObjectType(sid uint32) (*ObjectType, bool) {
	ot, ok := s.ObjectTypes[sid]
	return ot, ok
}

// SortedObjectTypes returns the object types in storage ID order.
func (s *Schema) SortedObjectTypes() []*ObjectType {
	out := make([]*ObjectType, 0, len(s.ObjectTypes))
	for _, ot := range s.ObjectTypes {
		out = append(out, ot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorageID < out[j].StorageID })
	return out
}

// SortedFields returns the type's fields in storage ID order.
func (ot *ObjectType) SortedFields() []*Field {
	out := make([]*Field, 0, len(ot.Fields))
	for _, f := range ot.Fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorageID < out[j].StorageID })
	return out
}

// SortedIndexes returns the type's composite indexes in storage ID order.
func (ot *ObjectType) SortedIndexes() []*CompositeIndex {
	out := make([]*CompositeIndex, 0, len(ot.Indexes))
	for _, ix := range ot.Indexes {
		out = append(out, ix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorageID < out[j].StorageID })
	return out
}
