package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_SchemaXML_RoundTrip(t *testing.T) {
	doc := []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<Schema><ObjectType name="A" storage="10">` +
		`<SimpleField name="f" storage="20" type="string" indexed="true"/>` +
		`</ObjectType></Schema>`)

	for _, fv := range []int{FormatVersion1, FormatVersion2} {
		stored, err := EncodeSchemaXML(doc, fv)
		require.NoError(t, err)
		decoded, err := DecodeSchemaXML(stored, fv)
		require.NoError(t, err)
		require.Equal(t, doc, decoded)
	}
}

func Test_SchemaXML_Format2Compresses(t *testing.T) {
	// The preset dictionary contains the schema dialect's tokens, so a
	// typical document shrinks.
	doc := []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<Schema><ObjectType name="Person" storage="10">` +
		`<SimpleField name="name" storage="20" type="string" indexed="true"/>` +
		`<SimpleField name="age" storage="21" type="int32" indexed="true"/>` +
		`<ReferenceField name="friend" storage="22" onDelete="UNREFERENCE"/>` +
		`</ObjectType></Schema>`)
	stored, err := EncodeSchemaXML(doc, FormatVersion2)
	require.NoError(t, err)
	require.Less(t, len(stored), len(doc))
}

func Test_SchemaXML_UnknownFormatVersion(t *testing.T) {
	_, err := EncodeSchemaXML([]byte("<Schema/>"), 3)
	require.ErrorIs(t, err, ErrBadFormatVersion)
	_, err = DecodeSchemaXML([]byte{0x00}, 3)
	require.ErrorIs(t, err, ErrBadFormatVersion)
}

func Test_ObjectMetaValue_RoundTrip(t *testing.T) {
	for _, version := range []uint32{1, 2, 250, 300, 1 << 20} {
		for _, notified := range []bool{false, true} {
			v := ObjectMetaValue(version, notified)
			require.Equal(t, byte(MetaDataFormatVersion), v[0])
			gotVersion, gotNotified, err := ParseObjectMetaValue(v)
			require.NoError(t, err)
			require.Equal(t, version, gotVersion)
			require.Equal(t, notified, gotNotified)
		}
	}
}

func Test_ObjectMetaValue_Rejects(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01},
		{0x02, 0x02, 0x00},       // wrong meta format version
		{0x01, 0x02, 0x02},       // bad flag
		{0x01, 0x02, 0x00, 0x00}, // trailing bytes
	}
	for _, in := range cases {
		_, _, err := ParseObjectMetaValue(in)
		require.Error(t, err, "input % x", in)
	}
}

func Test_SchemaKey_Layout(t *testing.T) {
	require.Equal(t, []byte{0x00, 0x01, 0x02}, SchemaKey(1))
	require.Equal(t, []byte{0x00, 0x80, 0x02}, VersionIndexKeyPrefix(1))
}
