package schema

import (
	"encoding/xml"
	"fmt"

	"github.com/permazen/objdb/pkg/types"
)

// Schema XML dialect. A minimal document:
//
//	<Schema>
//	  <ObjectType name="Person" storage="10">
//	    <SimpleField name="name" storage="20" type="string" indexed="true"/>
//	    <ReferenceField name="friend" storage="21" onDelete="UNREFERENCE"/>
//	    <SetField name="nicknames" storage="22">
//	      <SimpleField storage="23" type="string"/>
//	    </SetField>
//	    <CompositeIndex name="byNameFriend" storage="30">
//	      <IndexedField storage="20"/>
//	      <IndexedField storage="21"/>
//	    </CompositeIndex>
//	  </ObjectType>
//	</Schema>

type xmlSchema struct {
	XMLName     xml.Name        `xml:"Schema"`
	ObjectTypes []xmlObjectType `xml:"ObjectType"`
}

type xmlObjectType struct {
	Name      string         `xml:"name,attr"`
	Storage   uint32         `xml:"storage,attr"`
	Simple    []xmlField     `xml:"SimpleField"`
	Counter   []xmlField     `xml:"CounterField"`
	Reference []xmlField     `xml:"ReferenceField"`
	Sets      []xmlComplex   `xml:"SetField"`
	Lists     []xmlComplex   `xml:"ListField"`
	Maps      []xmlComplex   `xml:"MapField"`
	Indexes   []xmlComposite `xml:"CompositeIndex"`
}

type xmlField struct {
	Name          string   `xml:"name,attr,omitempty"`
	Storage       uint32   `xml:"storage,attr"`
	Type          string   `xml:"type,attr,omitempty"`
	Indexed       bool     `xml:"indexed,attr,omitempty"`
	Identifiers   []string `xml:"Identifier,omitempty"`
	OnDelete      string   `xml:"onDelete,attr,omitempty"`
	Cascade       bool     `xml:"cascadeDelete,attr,omitempty"`
	AllowDeleted  bool     `xml:"allowDeleted,attr,omitempty"`
	AllowDeletedS bool     `xml:"allowDeletedSnapshot,attr,omitempty"`
	ObjectTypes   []uint32 `xml:"ObjectTypes>ObjectType,omitempty"`
}

type xmlComplex struct {
	Name      string     `xml:"name,attr"`
	Storage   uint32     `xml:"storage,attr"`
	Simple    []xmlField `xml:"SimpleField"`
	Reference []xmlField `xml:"ReferenceField"`
}

type xmlComposite struct {
	Name    string `xml:"name,attr"`
	Storage uint32 `xml:"storage,attr"`
	Fields  []struct {
		Storage uint32 `xml:"storage,attr"`
	} `xml:"IndexedField"`
}

// Decode parses a schema XML document into an unvalidated model.
func Decode(doc []byte) (*Schema, error) {
	var raw xmlSchema
	if err := xml.Unmarshal(doc, &raw); err != nil {
		return nil, types.Wrap(types.ErrKindInvalidSchema, err, "malformed schema XML")
	}
	s := &Schema{ObjectTypes: map[uint32]*ObjectType{}}
	for _, xot := range raw.ObjectTypes {
		ot := &ObjectType{
			Name:      xot.Name,
			StorageID: xot.Storage,
			Fields:    map[uint32]*Field{},
			Indexes:   map[uint32]*CompositeIndex{},
		}
		if _, dup := s.ObjectTypes[ot.StorageID]; dup {
			return nil, types.Errorf(types.ErrKindInvalidSchema,
				"duplicate object type storage ID %d", ot.StorageID)
		}
		s.ObjectTypes[ot.StorageID] = ot
		add := func(f *Field) error {
			if _, dup := ot.Fields[f.StorageID]; dup {
				return types.Errorf(types.ErrKindInvalidSchema,
					"duplicate field storage ID %d in type %q", f.StorageID, ot.Name)
			}
			ot.Fields[f.StorageID] = f
			return nil
		}
		for _, xf := range xot.Simple {
			if err := add(decodeSimple(xf, RoleNone)); err != nil {
				return nil, err
			}
		}
		for _, xf := range xot.Counter {
			if err := add(&Field{Name: xf.Name, StorageID: xf.Storage, Kind: KindCounter}); err != nil {
				return nil, err
			}
		}
		for _, xf := range xot.Reference {
			f, err := decodeReference(xf, RoleNone)
			if err != nil {
				return nil, err
			}
			if err := add(f); err != nil {
				return nil, err
			}
		}
		for _, xc := range xot.Sets {
			f, err := decodeComplex(xc, KindSet)
			if err != nil {
				return nil, err
			}
			if err := add(f); err != nil {
				return nil, err
			}
		}
		for _, xc := range xot.Lists {
			f, err := decodeComplex(xc, KindList)
			if err != nil {
				return nil, err
			}
			if err := add(f); err != nil {
				return nil, err
			}
		}
		for _, xc := range xot.Maps {
			f, err := decodeComplex(xc, KindMap)
			if err != nil {
				return nil, err
			}
			if err := add(f); err != nil {
				return nil, err
			}
		}
		for _, xi := range xot.Indexes {
			ix := &CompositeIndex{Name: xi.Name, StorageID: xi.Storage}
			for _, xf := range xi.Fields {
				ix.Fields = append(ix.Fields, xf.Storage)
			}
			if _, dup := ot.Indexes[ix.StorageID]; dup {
				return nil, types.Errorf(types.ErrKindInvalidSchema,
					"duplicate composite index storage ID %d in type %q", ix.StorageID, ot.Name)
			}
			ot.Indexes[ix.StorageID] = ix
		}
	}
	return s, nil
}

func decodeSimple(xf xmlField, role SubFieldRole) *Field {
	return &Field{
		Name:       xf.Name,
		StorageID:  xf.Storage,
		Kind:       KindSimple,
		Role:       role,
		Type:       xf.Type,
		Indexed:    xf.Indexed,
		EnumIdents: xf.Identifiers,
	}
}

func decodeReference(xf xmlField, role SubFieldRole) (*Field, error) {
	onDelete := types.DeleteException
	if xf.OnDelete != "" {
		var err error
		if onDelete, err = types.ParseDeleteAction(xf.OnDelete); err != nil {
			return nil, types.Wrap(types.ErrKindInvalidSchema, err,
				"reference field %q (storage %d)", xf.Name, xf.Storage)
		}
	}
	return &Field{
		Name:                 xf.Name,
		StorageID:            xf.Storage,
		Kind:                 KindReference,
		Role:                 role,
		Type:                 "reference",
		Indexed:              true, // references are always indexed: delete actions need the reverse index
		OnDelete:             onDelete,
		CascadeDelete:        xf.Cascade,
		AllowDeleted:         xf.AllowDeleted,
		AllowDeletedSnapshot: xf.AllowDeletedS,
		AllowedTypes:         xf.ObjectTypes,
	}, nil
}

func decodeComplex(xc xmlComplex, kind FieldKind) (*Field, error) {
	f := &Field{Name: xc.Name, StorageID: xc.Storage, Kind: kind}
	var subs []*Field
	for _, xf := range xc.Simple {
		subs = append(subs, decodeSimple(xf, RoleElement))
	}
	for _, xf := range xc.Reference {
		sub, err := decodeReference(xf, RoleElement)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	switch kind {
	case KindSet, KindList:
		if len(subs) != 1 {
			return nil, types.Errorf(types.ErrKindInvalidSchema,
				"%s field %q (storage %d) requires exactly one element sub-field", kind, xc.Name, xc.Storage)
		}
		f.Elem = subs[0]
	case KindMap:
		if len(subs) != 2 {
			return nil, types.Errorf(types.ErrKindInvalidSchema,
				"map field %q (storage %d) requires key and value sub-fields", xc.Name, xc.Storage)
		}
		f.Key, f.Val = subs[0], subs[1]
		f.Key.Role = RoleMapKey
		f.Val.Role = RoleMapValue
	}
	return f, nil
}

// Encode serializes a schema back into its XML document form.
func Encode(s *Schema) ([]byte, error) {
	raw := xmlSchema{}
	for _, ot := range s.SortedObjectTypes() {
		xot := xmlObjectType{Name: ot.Name, Storage: ot.StorageID}
		for _, f := range ot.SortedFields() {
			switch f.Kind {
			case KindSimple:
				xot.Simple = append(xot.Simple, encodeSimple(f))
			case KindCounter:
				xot.Counter = append(xot.Counter, xmlField{Name: f.Name, Storage: f.StorageID})
			case KindReference:
				xot.Reference = append(xot.Reference, encodeReference(f))
			case KindSet, KindList:
				xc := xmlComplex{Name: f.Name, Storage: f.StorageID}
				appendSub(&xc, f.Elem)
				if f.Kind == KindSet {
					xot.Sets = append(xot.Sets, xc)
				} else {
					xot.Lists = append(xot.Lists, xc)
				}
			case KindMap:
				xc := xmlComplex{Name: f.Name, Storage: f.StorageID}
				appendSub(&xc, f.Key)
				appendSub(&xc, f.Val)
				xot.Maps = append(xot.Maps, xc)
			}
		}
		for _, ix := range ot.SortedIndexes() {
			xi := xmlComposite{Name: ix.Name, Storage: ix.StorageID}
			for _, sid := range ix.Fields {
				xi.Fields = append(xi.Fields, struct {
					Storage uint32 `xml:"storage,attr"`
				}{Storage: sid})
			}
			xot.Indexes = append(xot.Indexes, xi)
		}
		raw.ObjectTypes = append(raw.ObjectTypes, xot)
	}
	doc, err := xml.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return append([]byte(xml.Header), doc...), nil
}

func encodeSimple(f *Field) xmlField {
	return xmlField{
		Name:        f.Name,
		Storage:     f.StorageID,
		Type:        f.Type,
		Indexed:     f.Indexed,
		Identifiers: f.EnumIdents,
	}
}

func encodeReference(f *Field) xmlField {
	return xmlField{
		Name:          f.Name,
		Storage:       f.StorageID,
		OnDelete:      f.OnDelete.String(),
		Cascade:       f.CascadeDelete,
		AllowDeleted:  f.AllowDeleted,
		AllowDeletedS: f.AllowDeletedSnapshot,
		ObjectTypes:   f.AllowedTypes,
	}
}

func appendSub(xc *xmlComplex, sub *Field) {
	if sub.Kind == KindReference {
		xc.Reference = append(xc.Reference, encodeReference(sub))
	} else {
		xc.Simple = append(xc.Simple, encodeSimple(sub))
	}
}
