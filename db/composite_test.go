package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/pkg/types"
)

const compositeXML = `<Schema>
  <ObjectType name="Person" storage="10">
    <SimpleField name="last" storage="20" type="string" indexed="true"/>
    <SimpleField name="first" storage="21" type="string"/>
    <SimpleField name="age" storage="22" type="int32"/>
    <CompositeIndex name="byName" storage="40">
      <IndexedField storage="20"/>
      <IndexedField storage="21"/>
    </CompositeIndex>
    <CompositeIndex name="byNameAge" storage="41">
      <IndexedField storage="20"/>
      <IndexedField storage="21"/>
      <IndexedField storage="22"/>
    </CompositeIndex>
  </ObjectType>
</Schema>`

func openCompositeTx(t *testing.T) *Transaction {
	t.Helper()
	database, _ := newTestDatabase(t)
	tx, err := database.CreateTransaction(TxConfig{
		Schema:         mustSchema(t, compositeXML),
		Version:        1,
		AllowNewSchema: true,
	})
	require.NoError(t, err)
	return tx
}

func Test_CompositeIndex_NarrowAndIterate(t *testing.T) {
	tx := openCompositeTx(t)
	defer tx.Rollback()

	write := func(last, first string, age int) types.ObjId {
		id, err := tx.Create(10)
		require.NoError(t, err)
		require.NoError(t, tx.WriteSimple(id, 20, last))
		require.NoError(t, tx.WriteSimple(id, 21, first))
		require.NoError(t, tx.WriteSimple(id, 22, age))
		return id
	}
	smithJohn := write("smith", "john", 30)
	smithJane := write("smith", "jane", 40)
	jonesAmy := write("jones", "amy", 25)

	ix, err := tx.QueryIndex(40)
	require.NoError(t, err)
	require.Equal(t, 3, ix.Positions(), "two fields plus the object ID")

	// Full iteration orders by (last, first, id).
	var order []types.ObjId
	iter := ix.Iterate(false)
	for iter.Next() {
		id, ok := iter.ObjId()
		require.True(t, ok)
		order = append(order, id)
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	require.Equal(t, []types.ObjId{jonesAmy, smithJane, smithJohn}, order)

	// Narrowing the first position yields the sub-index over "first".
	smiths, err := ix.Narrow("smith")
	require.NoError(t, err)
	ids, err := smiths.GetAll("jane")
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{smithJane}, ids)

	// Both composite indexes over the same fields are maintained
	// independently.
	ix3, err := tx.QueryIndex(41)
	require.NoError(t, err)
	sub, err := ix3.Narrow("smith")
	require.NoError(t, err)
	sub, err = sub.Narrow("john")
	require.NoError(t, err)
	ids, err = sub.GetAll(30)
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{smithJohn}, ids)

	// Updating one field re-keys every composite entry.
	require.NoError(t, tx.WriteSimple(smithJohn, 20, "brown"))
	ids, err = smiths.GetAll("john")
	require.NoError(t, err)
	require.Empty(t, ids)
	browns, err := ix.Narrow("brown")
	require.NoError(t, err)
	ids, err = browns.GetAll("john")
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{smithJohn}, ids)
}

func Test_VersionIndexView(t *testing.T) {
	database, _ := newTestDatabase(t)
	tx := openV1(t, database)
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)

	ix, err := tx.VersionIndex()
	require.NoError(t, err)
	ids, err := ix.GetAll(uint32(1))
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{a, b}, ids)

	iter := ix.Iterate(false)
	require.True(t, iter.Next())
	require.Equal(t, uint32(1), iter.Entry()[0])
	require.NoError(t, iter.Close())
}
