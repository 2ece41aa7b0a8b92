package jsck

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/db"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/kv/memkv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

const checkerXML = `<Schema>
  <ObjectType name="Person" storage="10">
    <SimpleField name="name" storage="20" type="string" indexed="true"/>
    <SimpleField name="age" storage="21" type="int32" indexed="true"/>
    <CompositeIndex name="byNameAge" storage="40">
      <IndexedField storage="20"/>
      <IndexedField storage="21"/>
    </CompositeIndex>
  </ObjectType>
</Schema>`

// buildDatabase populates a store with a couple of live objects and
// returns the backend.
func buildDatabase(t *testing.T) (*memkv.DB, types.ObjId) {
	t.Helper()
	s, err := schema.Decode([]byte(checkerXML))
	require.NoError(t, err)

	var n uint64
	backend := memkv.New()
	database := db.New(backend, db.Config{Rand: func() uint64 { n++; return n }})
	tx, err := database.CreateTransaction(db.TxConfig{
		Schema:         s,
		Version:        1,
		AllowNewSchema: true,
	})
	require.NoError(t, err)

	id, err := tx.Create(10)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(id, 20, "alice"))
	require.NoError(t, tx.WriteSimple(id, 21, 42))
	id2, err := tx.Create(10)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(id2, 20, "bob"))
	require.NoError(t, tx.Commit())
	return backend, id
}

func runCheck(t *testing.T, st kv.Store, cfg Config) *Report {
	t.Helper()
	report, err := Check(st, cfg)
	require.NoError(t, err)
	return report
}

func Test_Check_CleanDatabase(t *testing.T) {
	backend, _ := buildDatabase(t)
	st := backend.Begin()
	defer st.Rollback()

	report := runCheck(t, st, Config{})
	require.Empty(t, report.Issues)
	require.Equal(t, format.CurrentFormatVersion, report.FormatVersion)
	require.Equal(t, []uint32{1}, report.SchemaVersions)
	require.Equal(t, int64(2), report.ObjectsScanned)
	require.NotZero(t, report.IndexEntriesScanned)
}

func Test_Check_MissingFormatKey(t *testing.T) {
	st := memkv.New().Begin()
	defer st.Rollback()
	require.NoError(t, st.Put([]byte{0x50}, []byte("junk")))

	_, err := Check(st, Config{})
	require.Error(t, err, "no format key and no override")

	report, err := Check(st, Config{ForceFormatVersion: format.FormatVersion2})
	require.NoError(t, err)
	require.NotEmpty(t, report.Issues)
}

func Test_Check_DetectsStrayMetaKeys(t *testing.T) {
	backend, _ := buildDatabase(t)
	st := backend.Begin()
	defer st.Rollback()
	require.NoError(t, st.Put([]byte{0x00, 0x03, 0xaa}, []byte("stray")))

	report := runCheck(t, st, Config{})
	require.Len(t, report.Issues, 1)
	require.Equal(t, InvalidKey, report.Issues[0].Kind)
}

func Test_Check_DetectsMissingIndexEntry(t *testing.T) {
	backend, id := buildDatabase(t)
	st := backend.Begin()
	defer st.Rollback()

	// Remove the index entry for name="alice" behind the runtime's back.
	helloEnc := []byte{0x01, 'a', 'l', 'i', 'c', 'e', 0x00}
	indexKey := format.IndexKey(20, helloEnc, id.Bytes(), nil)
	require.NoError(t, st.Remove(indexKey))

	report := runCheck(t, st, Config{})
	require.Len(t, report.Issues, 1)
	require.Equal(t, MissingKey, report.Issues[0].Kind)
	require.Equal(t, indexKey, report.Issues[0].Key)
}

func Test_Check_DetectsStaleIndexEntry(t *testing.T) {
	backend, _ := buildDatabase(t)
	st := backend.Begin()
	defer st.Rollback()

	// Fabricate an index entry for a value no object carries.
	ghost, err := types.NewObjId(10, 0x77)
	require.NoError(t, err)
	bogusEnc := []byte{0x01, 'g', 'h', 'o', 's', 't', 0x00}
	require.NoError(t, st.Put(format.IndexKey(20, bogusEnc, ghost.Bytes(), nil), nil))

	report := runCheck(t, st, Config{})
	require.Len(t, report.Issues, 1)
	require.Equal(t, InvalidKey, report.Issues[0].Kind)
}

func Test_Check_RepairReachesFixedPoint(t *testing.T) {
	backend, id := buildDatabase(t)
	st := backend.Begin()

	// Inflict an assortment of damage.
	helloEnc := []byte{0x01, 'a', 'l', 'i', 'c', 'e', 0x00}
	require.NoError(t, st.Remove(format.IndexKey(20, helloEnc, id.Bytes(), nil)))
	ghost, err := types.NewObjId(10, 0x77)
	require.NoError(t, err)
	require.NoError(t, st.Put(format.IndexKey(20, []byte{0x01, 'g', 0x00}, ghost.Bytes(), nil), nil))
	require.NoError(t, st.Put([]byte{0x00, 0x02}, []byte("stray")))
	require.NoError(t, st.Put(format.VersionIndexKey(1, ghost.Bytes()), nil))

	report := runCheck(t, st, Config{Repair: true})
	require.NotEmpty(t, report.Issues)
	require.NoError(t, st.Commit())

	// A second repair pass finds nothing.
	st = backend.Begin()
	defer st.Rollback()
	report = runCheck(t, st, Config{Repair: true})
	require.Empty(t, report.Issues)
}

func Test_Check_IssueLimitTruncates(t *testing.T) {
	backend, _ := buildDatabase(t)
	st := backend.Begin()
	defer st.Rollback()

	for i := byte(0); i < 5; i++ {
		require.NoError(t, st.Put([]byte{0x00, 0x03, i}, []byte("stray")))
	}
	report := runCheck(t, st, Config{Limit: 3})
	require.Len(t, report.Issues, 3)
	require.True(t, report.Truncated)
}

func Test_Check_GCSchemas(t *testing.T) {
	// Record a schema version, never create objects under it.
	s, err := schema.Decode([]byte(checkerXML))
	require.NoError(t, err)
	backend := memkv.New()
	database := db.New(backend, db.Config{})
	tx, err := database.CreateTransaction(db.TxConfig{
		Schema:         s,
		Version:        1,
		AllowNewSchema: true,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	st := backend.Begin()
	report := runCheck(t, st, Config{GCSchemas: true, Repair: true})
	require.Len(t, report.Issues, 1)
	require.NoError(t, st.Commit())

	st = backend.Begin()
	defer st.Rollback()
	v, err := st.Get(format.SchemaKey(1))
	require.NoError(t, err)
	require.Nil(t, v, "unreferenced schema record was collected")
}

func Test_Check_ScopeRestrictsScan(t *testing.T) {
	backend, id := buildDatabase(t)
	st := backend.Begin()
	defer st.Rollback()

	// Damage inside the object area, but scope the scan away from it.
	require.NoError(t, st.Remove(format.IndexKey(20,
		[]byte{0x01, 'a', 'l', 'i', 'c', 'e', 0x00}, id.Bytes(), nil)))

	report := runCheck(t, st, Config{MinKey: []byte{0xf0}, MaxKey: []byte{0xf1}})
	require.Empty(t, report.Issues)
}
