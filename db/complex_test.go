package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/pkg/types"
)

const complexXML = `<Schema>
  <ObjectType name="Doc" storage="10">
    <SetField name="tags" storage="30">
      <SimpleField storage="31" type="string" indexed="true"/>
    </SetField>
    <ListField name="lines" storage="32">
      <SimpleField storage="33" type="string" indexed="true"/>
    </ListField>
    <MapField name="attrs" storage="34">
      <SimpleField storage="35" type="string" indexed="true"/>
      <SimpleField storage="36" type="int32" indexed="true"/>
    </MapField>
  </ObjectType>
</Schema>`

const (
	docType    = 10
	tagsField  = 30
	tagsElem   = 31
	linesField = 32
	linesElem  = 33
	attrsField = 34
	attrsKey   = 35
	attrsVal   = 36
)

func openComplexTx(t *testing.T) *Transaction {
	t.Helper()
	database, _ := newTestDatabase(t)
	tx, err := database.CreateTransaction(TxConfig{
		Schema:         mustSchema(t, complexXML),
		Version:        1,
		AllowNewSchema: true,
	})
	require.NoError(t, err)
	return tx
}

func Test_Set_AddRemoveIterate(t *testing.T) {
	tx := openComplexTx(t)
	defer tx.Rollback()
	id, err := tx.Create(docType)
	require.NoError(t, err)

	for _, tag := range []string{"beta", "alpha", "gamma"} {
		changed, err := tx.SetAdd(id, tagsField, tag)
		require.NoError(t, err)
		require.True(t, changed)
	}
	changed, err := tx.SetAdd(id, tagsField, "alpha")
	require.NoError(t, err)
	require.False(t, changed, "duplicate add is a no-op")

	has, err := tx.SetContains(id, tagsField, "beta")
	require.NoError(t, err)
	require.True(t, has)

	iter, err := tx.SetIterate(id, tagsField, false)
	require.NoError(t, err)
	var tags []string
	for iter.Next() {
		tags = append(tags, iter.Key().(string))
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	require.Equal(t, []string{"alpha", "beta", "gamma"}, tags, "sets iterate in element order")

	// The element index maps each element back to the object.
	ix, err := tx.QueryIndex(tagsElem)
	require.NoError(t, err)
	ids, err := ix.GetAll("beta")
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{id}, ids)

	changed, err = tx.SetRemove(id, tagsField, "beta")
	require.NoError(t, err)
	require.True(t, changed)
	ids, err = ix.GetAll("beta")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func Test_List_AppendSetRemove(t *testing.T) {
	tx := openComplexTx(t)
	defer tx.Rollback()
	id, err := tx.Create(docType)
	require.NoError(t, err)

	for _, line := range []string{"one", "two", "three"} {
		require.NoError(t, tx.ListAppend(id, linesField, line))
	}
	n, err := tx.ListLen(id, linesField)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	v, err := tx.ListGet(id, linesField, 1)
	require.NoError(t, err)
	require.Equal(t, "two", v)

	require.NoError(t, tx.ListSet(id, linesField, 1, "TWO"))
	v, err = tx.ListGet(id, linesField, 1)
	require.NoError(t, err)
	require.Equal(t, "TWO", v)

	// Removal shifts later entries down.
	require.NoError(t, tx.ListRemoveAt(id, linesField, 0))
	n, err = tx.ListLen(id, linesField)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	v, err = tx.ListGet(id, linesField, 0)
	require.NoError(t, err)
	require.Equal(t, "TWO", v)
	v, err = tx.ListGet(id, linesField, 1)
	require.NoError(t, err)
	require.Equal(t, "three", v)

	// The element index carries the list position after the object ID.
	ix, err := tx.QueryIndex(linesElem)
	require.NoError(t, err)
	sub, err := ix.Narrow("three")
	require.NoError(t, err)
	iter := sub.Iterate(false)
	require.True(t, iter.Next())
	require.Equal(t, id, iter.Entry()[0])
	require.Equal(t, 1, iter.Entry()[1])
	require.False(t, iter.Next())
	require.NoError(t, iter.Close())

	_, err = tx.ListGet(id, linesField, 5)
	require.Error(t, err)
}

func Test_Map_PutGetRemove(t *testing.T) {
	tx := openComplexTx(t)
	defer tx.Rollback()
	id, err := tx.Create(docType)
	require.NoError(t, err)

	old, err := tx.MapPut(id, attrsField, "width", 80)
	require.NoError(t, err)
	require.Nil(t, old)
	old, err = tx.MapPut(id, attrsField, "width", 132)
	require.NoError(t, err)
	require.Equal(t, int64(80), old)
	_, err = tx.MapPut(id, attrsField, "height", 24)
	require.NoError(t, err)

	v, err := tx.MapGet(id, attrsField, "width")
	require.NoError(t, err)
	require.Equal(t, int64(132), v)
	v, err = tx.MapGet(id, attrsField, "depth")
	require.NoError(t, err)
	require.Nil(t, v)

	iter, err := tx.MapIterate(id, attrsField, false)
	require.NoError(t, err)
	var keys []string
	for iter.Next() {
		keys = append(keys, iter.Key().(string))
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	require.Equal(t, []string{"height", "width"}, keys, "maps iterate in key order")

	// Key index and value index both answer.
	keyIx, err := tx.QueryIndex(attrsKey)
	require.NoError(t, err)
	ids, err := keyIx.GetAll("height")
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{id}, ids)

	valIx, err := tx.QueryIndex(attrsVal)
	require.NoError(t, err)
	ids, err = valIx.GetAll(132)
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{id}, ids)

	// The value index entry carries the map key after the object ID.
	sub, err := valIx.Narrow(132)
	require.NoError(t, err)
	it := sub.Iterate(false)
	require.True(t, it.Next())
	require.Equal(t, "width", it.Entry()[1])
	require.NoError(t, it.Close())

	removed, err := tx.MapRemove(id, attrsField, "width")
	require.NoError(t, err)
	require.True(t, removed)
	ids, err = valIx.GetAll(132)
	require.NoError(t, err)
	require.Empty(t, ids)

	removed, err = tx.MapRemove(id, attrsField, "width")
	require.NoError(t, err)
	require.False(t, removed)
}

func Test_Delete_DropsComplexState(t *testing.T) {
	tx := openComplexTx(t)
	defer tx.Rollback()
	id, err := tx.Create(docType)
	require.NoError(t, err)

	_, err = tx.SetAdd(id, tagsField, "x")
	require.NoError(t, err)
	require.NoError(t, tx.ListAppend(id, linesField, "y"))
	_, err = tx.MapPut(id, attrsField, "k", 1)
	require.NoError(t, err)

	ok, err := tx.Delete(id)
	require.NoError(t, err)
	require.True(t, ok)

	for _, sid := range []uint32{tagsElem, linesElem, attrsKey, attrsVal} {
		ix, err := tx.QueryIndex(sid)
		require.NoError(t, err)
		iter := ix.Iterate(false)
		require.False(t, iter.Next(), "index %d still has entries", sid)
		require.NoError(t, iter.Close())
	}
}
