package schema

import (
	"fmt"
	"strings"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/pkg/types"
)

// Validate checks a decoded schema independently of any other version and
// binds every simple and reference field to its codec from reg. It must
// be called before the schema is used by the runtime.
func Validate(s *Schema, reg *codec.Registry) error {
	s.byStorageID = map[uint32]item{}
	claim := func(sid uint32, it item, what string) error {
		if !types.ValidStorageID(sid) {
			return types.Errorf(types.ErrKindInvalidSchema, "%s: storage ID %d out of range", what, sid)
		}
		if _, dup := s.byStorageID[sid]; dup {
			return types.Errorf(types.ErrKindInvalidSchema, "%s: storage ID %d already in use", what, sid)
		}
		s.byStorageID[sid] = it
		return nil
	}
	names := map[string]bool{}
	for _, ot := range s.SortedObjectTypes() {
		if ot.Name == "" {
			return types.Errorf(types.ErrKindInvalidSchema, "object type storage %d has no name", ot.StorageID)
		}
		if names[ot.Name] {
			return types.Errorf(types.ErrKindInvalidSchema, "duplicate object type name %q", ot.Name)
		}
		names[ot.Name] = true
		if err := claim(ot.StorageID, item{objType: ot}, fmt.Sprintf("object type %q", ot.Name)); err != nil {
			return err
		}
		for _, f := range ot.SortedFields() {
			if err := claim(f.StorageID, item{field: f, owner: ot},
				fmt.Sprintf("field %q of %q", f.Name, ot.Name)); err != nil {
				return err
			}
			if err := validateField(f, ot, reg); err != nil {
				return err
			}
			for _, sub := range f.SubFields() {
				if err := claim(sub.StorageID, item{field: sub, owner: ot, parent: f},
					fmt.Sprintf("sub-field of %q in %q", f.Name, ot.Name)); err != nil {
					return err
				}
				if err := validateField(sub, ot, reg); err != nil {
					return err
				}
			}
		}
		for _, ix := range ot.SortedIndexes() {
			if err := claim(ix.StorageID, item{index: ix, owner: ot},
				fmt.Sprintf("composite index %q of %q", ix.Name, ot.Name)); err != nil {
				return err
			}
			if err := validateComposite(ix, ot); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateField(f *Field, ot *ObjectType, reg *codec.Registry) error {
	switch f.Kind {
	case KindSimple:
		if f.Type == "enum" {
			c, err := codec.NewEnum(f.EnumIdents)
			if err != nil {
				return types.Wrap(types.ErrKindInvalidSchema, err,
					"field %q of %q", f.Name, ot.Name)
			}
			f.bound = c
			return nil
		}
		c, ok := reg.Lookup(f.Type)
		if !ok {
			return types.Errorf(types.ErrKindInvalidSchema,
				"field %q of %q: unknown encoding %q", f.Name, ot.Name, f.Type)
		}
		f.bound = c
	case KindReference:
		for _, sid := range f.AllowedTypes {
			if !types.ValidStorageID(sid) {
				return types.Errorf(types.ErrKindInvalidSchema,
					"reference field %q of %q: allowed type storage ID %d out of range", f.Name, ot.Name, sid)
			}
		}
		if f.OnDelete == types.DeleteNothing && !f.AllowDeleted {
			return types.Errorf(types.ErrKindInvalidSchema,
				"reference field %q of %q: onDelete NOTHING requires allowDeleted", f.Name, ot.Name)
		}
		f.bound = codec.NewReference(f.AllowedTypes)
	case KindCounter:
		if f.Role != RoleNone {
			return types.Errorf(types.ErrKindInvalidSchema,
				"counter cannot be a sub-field (storage %d)", f.StorageID)
		}
	case KindSet, KindList:
		if f.Elem == nil {
			return types.Errorf(types.ErrKindInvalidSchema,
				"%s field %q of %q has no element", f.Kind, f.Name, ot.Name)
		}
		// Set element encodings become key bytes directly; no restriction
		// is placed on their leading byte.
	case KindMap:
		if f.Key == nil || f.Val == nil {
			return types.Errorf(types.ErrKindInvalidSchema,
				"map field %q of %q lacks key or value", f.Name, ot.Name)
		}
	}
	return nil
}

func validateComposite(ix *CompositeIndex, ot *ObjectType) error {
	if len(ix.Fields) < 2 || len(ix.Fields) > 4 {
		return types.Errorf(types.ErrKindInvalidSchema,
			"composite index %q of %q: %d fields, need 2..4", ix.Name, ot.Name, len(ix.Fields))
	}
	seen := map[uint32]bool{}
	for _, sid := range ix.Fields {
		f, ok := ot.Fields[sid]
		if !ok {
			return types.Errorf(types.ErrKindInvalidSchema,
				"composite index %q of %q: field storage %d not in type", ix.Name, ot.Name, sid)
		}
		if !f.HasCodec() {
			return types.Errorf(types.ErrKindInvalidSchema,
				"composite index %q of %q: field %q is a %s field", ix.Name, ot.Name, f.Name, f.Kind)
		}
		if seen[sid] {
			return types.Errorf(types.ErrKindInvalidSchema,
				"composite index %q of %q: field storage %d repeated", ix.Name, ot.Name, sid)
		}
		seen[sid] = true
	}
	return nil
}

// LookupField resolves a top-level or sub- field storage ID anywhere in
// the schema, returning the field and its enclosing object type.
func (s *Schema) LookupField(sid uint32) (*Field, *ObjectType, bool) {
	it, ok := s.byStorageID[sid]
	if !ok || it.field == nil {
		return nil, nil, false
	}
	return it.field, it.owner, true
}

// LookupParent returns the complex field enclosing a sub-field storage
// ID, or nil for top-level fields.
func (s *Schema) LookupParent(sid uint32) *Field {
	return s.byStorageID[sid].parent
}

// LookupIndex resolves a composite index storage ID.
func (s *Schema) LookupIndex(sid uint32) (*CompositeIndex, *ObjectType, bool) {
	it, ok := s.byStorageID[sid]
	if !ok || it.index == nil {
		return nil, nil, false
	}
	return it.index, it.owner, true
}

// roleSignature renders the structural identity of a storage ID: the
// part of a schema item that must match across versions sharing the ID.
func roleSignature(it item) string {
	switch {
	case it.objType != nil:
		return "objectType"
	case it.index != nil:
		parts := make([]string, len(it.index.Fields))
		for i, sid := range it.index.Fields {
			parts[i] = fmt.Sprint(sid)
		}
		return "compositeIndex(" + strings.Join(parts, ",") + ")"
	case it.field != nil:
		f := it.field
		role := ""
		switch f.Role {
		case RoleElement:
			role = "element:"
		case RoleMapKey:
			role = "mapKey:"
		case RoleMapValue:
			role = "mapValue:"
		}
		switch f.Kind {
		case KindCounter:
			return role + "counter"
		case KindReference:
			return role + "reference"
		case KindSet:
			return fmt.Sprintf("set(%d)", f.Elem.StorageID)
		case KindList:
			return fmt.Sprintf("list(%d)", f.Elem.StorageID)
		case KindMap:
			return fmt.Sprintf("map(%d,%d)", f.Key.StorageID, f.Val.StorageID)
		default:
			if f.Type == "enum" {
				return role + "enum[" + strings.Join(f.EnumIdents, ",") + "]"
			}
			return role + "simple:" + f.Type
		}
	default:
		return "?"
	}
}
