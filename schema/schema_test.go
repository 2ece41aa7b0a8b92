package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/pkg/types"
)

const sampleXML = `<Schema>
  <ObjectType name="Person" storage="10">
    <SimpleField name="name" storage="20" type="string" indexed="true"/>
    <SimpleField name="mood" storage="21" type="enum" indexed="true">
      <Identifier>HAPPY</Identifier>
      <Identifier>SAD</Identifier>
    </SimpleField>
    <CounterField name="visits" storage="22"/>
    <ReferenceField name="spouse" storage="23" onDelete="UNREFERENCE"/>
    <SetField name="nicknames" storage="24">
      <SimpleField storage="25" type="string" indexed="true"/>
    </SetField>
    <ListField name="scores" storage="26">
      <SimpleField storage="27" type="int32" indexed="true"/>
    </ListField>
    <MapField name="phones" storage="28">
      <SimpleField storage="29" type="string" indexed="true"/>
      <SimpleField storage="30" type="string" indexed="true"/>
    </MapField>
    <CompositeIndex name="byNameMood" storage="40">
      <IndexedField storage="20"/>
      <IndexedField storage="21"/>
    </CompositeIndex>
  </ObjectType>
</Schema>`

func decodeValid(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, Validate(s, codec.NewRegistry()))
	return s
}

func Test_Decode_FullDialect(t *testing.T) {
	s := decodeValid(t, sampleXML)

	ot, ok := s.ObjectType(10)
	require.True(t, ok)
	require.Equal(t, "Person", ot.Name)
	require.Len(t, ot.Fields, 7)
	require.Len(t, ot.Indexes, 1)

	name := ot.Fields[20]
	require.Equal(t, KindSimple, name.Kind)
	require.True(t, name.Indexed)
	require.Equal(t, "string", name.Codec().Name())

	mood := ot.Fields[21]
	require.Equal(t, []string{"HAPPY", "SAD"}, mood.EnumIdents)
	require.Equal(t, "enum", mood.Codec().Name())

	require.Equal(t, KindCounter, ot.Fields[22].Kind)

	spouse := ot.Fields[23]
	require.Equal(t, KindReference, spouse.Kind)
	require.Equal(t, types.DeleteUnreference, spouse.OnDelete)
	require.True(t, spouse.Indexed, "references are always indexed")

	set := ot.Fields[24]
	require.Equal(t, KindSet, set.Kind)
	require.Equal(t, RoleElement, set.Elem.Role)

	m := ot.Fields[28]
	require.Equal(t, RoleMapKey, m.Key.Role)
	require.Equal(t, RoleMapValue, m.Val.Role)

	// Sub-fields resolve through the schema-wide storage ID table.
	elem, owner, ok := s.LookupField(25)
	require.True(t, ok)
	require.Equal(t, uint32(10), owner.StorageID)
	require.Equal(t, set, s.LookupParent(25))
	require.Equal(t, KindSimple, elem.Kind)

	ix, owner, ok := s.LookupIndex(40)
	require.True(t, ok)
	require.Equal(t, uint32(10), owner.StorageID)
	require.Equal(t, []uint32{20, 21}, ix.Fields)
}

func Test_EncodeDecode_RoundTrip(t *testing.T) {
	s := decodeValid(t, sampleXML)
	doc, err := Encode(s)
	require.NoError(t, err)

	again, err := Decode(doc)
	require.NoError(t, err)
	require.NoError(t, Validate(again, codec.NewRegistry()))

	doc2, err := Encode(again)
	require.NoError(t, err)
	require.Equal(t, doc, doc2, "encoding is canonical")
}

func Test_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"duplicate storage ID", `<Schema>
			<ObjectType name="A" storage="10">
				<SimpleField name="x" storage="10" type="string"/>
			</ObjectType></Schema>`},
		{"unknown codec", `<Schema>
			<ObjectType name="A" storage="10">
				<SimpleField name="x" storage="20" type="varchar"/>
			</ObjectType></Schema>`},
		{"storage ID zero", `<Schema>
			<ObjectType name="A" storage="0"/></Schema>`},
		{"empty type name", `<Schema><ObjectType storage="10"/></Schema>`},
		{"composite with one field", `<Schema>
			<ObjectType name="A" storage="10">
				<SimpleField name="x" storage="20" type="string"/>
				<CompositeIndex name="ix" storage="30">
					<IndexedField storage="20"/>
				</CompositeIndex>
			</ObjectType></Schema>`},
		{"composite over counter", `<Schema>
			<ObjectType name="A" storage="10">
				<SimpleField name="x" storage="20" type="string"/>
				<CounterField name="c" storage="21"/>
				<CompositeIndex name="ix" storage="30">
					<IndexedField storage="20"/>
					<IndexedField storage="21"/>
				</CompositeIndex>
			</ObjectType></Schema>`},
		{"dangling NOTHING without allowDeleted", `<Schema>
			<ObjectType name="A" storage="10">
				<ReferenceField name="r" storage="20" onDelete="NOTHING"/>
			</ObjectType></Schema>`},
		{"set without element", `<Schema>
			<ObjectType name="A" storage="10">
				<SetField name="s" storage="20"/>
			</ObjectType></Schema>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Decode([]byte(tc.doc))
			if err == nil {
				err = Validate(s, codec.NewRegistry())
			}
			require.Error(t, err)
			require.ErrorIs(t, err, types.ErrInvalidSchema)
		})
	}
}

func Test_Compatible_SharedStorageIDs(t *testing.T) {
	v1 := decodeValid(t, `<Schema>
		<ObjectType name="A" storage="10">
			<SimpleField name="f" storage="20" type="string" indexed="true"/>
		</ObjectType></Schema>`)

	// Same storage IDs, different names and index flags: compatible.
	v2 := decodeValid(t, `<Schema>
		<ObjectType name="Renamed" storage="10">
			<SimpleField name="g" storage="20" type="string"/>
			<SimpleField name="h" storage="21" type="int32" indexed="true"/>
		</ObjectType></Schema>`)
	require.NoError(t, Compatible(v1, v2))

	// Same storage ID, different encoding: incompatible.
	v3 := decodeValid(t, `<Schema>
		<ObjectType name="A" storage="10">
			<SimpleField name="f" storage="20" type="int64"/>
		</ObjectType></Schema>`)
	err := Compatible(v1, v3)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrSchemaMismatch)

	// Field storage ID reused as an object type: incompatible.
	v4 := decodeValid(t, `<Schema><ObjectType name="B" storage="20"/></Schema>`)
	require.Error(t, Compatible(v1, v4))

	require.NoError(t, ValidateSet(map[uint32]*Schema{1: v1, 2: v2}))
	require.Error(t, ValidateSet(map[uint32]*Schema{1: v1, 2: v2, 3: v3}))
}

func Test_DiffType(t *testing.T) {
	v1 := decodeValid(t, `<Schema>
		<ObjectType name="A" storage="10">
			<SimpleField name="f" storage="20" type="string"/>
			<SimpleField name="old" storage="21" type="int32"/>
		</ObjectType></Schema>`)
	v2 := decodeValid(t, `<Schema>
		<ObjectType name="A" storage="10">
			<SimpleField name="f" storage="20" type="string"/>
			<SimpleField name="new" storage="22" type="int32"/>
		</ObjectType></Schema>`)

	from, _ := v1.ObjectType(10)
	to, _ := v2.ObjectType(10)
	d := DiffType(from, to)
	require.Len(t, d.Removed, 1)
	require.Contains(t, d.Removed, uint32(21))
	require.Len(t, d.Added, 1)
	require.Contains(t, d.Added, uint32(22))
}
