// Package format defines the on-disk key-space layout of an object database
// stored in an ordered key/value store, together with the low-level helpers
// shared by the packages that read and write it. The layout is a stability
// contract: every constant in this file is fixed for all time, and two
// implementations reading the same store must agree on every byte.
package format

var (
	// FormatVersionKey is the key under which the database records its
	// format version. It doubles as the initialization marker: a store
	// without this key is either empty or not a database.
	// Layout:
	//   0x00 0x00  'J' 'S' 'i' 'm' 'p' 'l' 'e' 'D' 'B'
	FormatVersionKey = []byte{0x00, 0x00, 'J', 'S', 'i', 'm', 'p', 'l', 'e', 'D', 'B'}

	// MetaPrefix is the single byte reserved for all database meta-data.
	// No object or index data may ever be written under it; storage IDs
	// are encoded so their first byte is never 0x00, which keeps the two
	// ranges disjoint by construction.
	MetaPrefix = []byte{0x00}

	// SchemaKeyPrefix precedes the encoded schema XML records. The full
	// key of a schema record is SchemaKeyPrefix + varUInt(version).
	SchemaKeyPrefix = []byte{0x00, 0x01}

	// VersionIndexPrefix precedes the object-version index. Entries are
	// VersionIndexPrefix + varUInt(version) + objId with empty values.
	VersionIndexPrefix = []byte{0x00, 0x80}

	// UserMetaPrefix is reserved for application use. The engine never
	// reads or writes below it and the consistency checker skips it.
	UserMetaPrefix = []byte{0x00, 0xff}
)

const (
	// FormatVersion1 stores schema XML as plain text.
	FormatVersion1 = 1

	// FormatVersion2 stores schema XML DEFLATE-compressed with a fixed
	// preset dictionary. This is the current format.
	FormatVersion2 = 2

	// CurrentFormatVersion is written when initializing an empty store.
	CurrentFormatVersion = FormatVersion2

	// MetaDataFormatVersion is the first byte of every object meta-data
	// value. There has only ever been one version.
	MetaDataFormatVersion = 1
)

// SchemaXMLDictionary is the preset DEFLATE dictionary used by format
// version 2 schema records. It is a frozen string: changing a single byte
// would render every existing compressed schema record undecodable.
const SchemaXMLDictionary = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<Schema formatVersion="version="name="storage="type="indexed="true"false"` +
	`<ObjectType <SimpleField <ReferenceField <CounterField <SetField <ListField <MapField ` +
	`<CompositeIndex <IndexedField onDelete="NOTHING"EXCEPTION"UNREFERENCE"DELETE"` +
	`cascadeDelete="allowDeleted="encoding="</ObjectType></SetField></ListField></MapField>` +
	`</CompositeIndex></Schema>`
