package db

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/pkg/types"
)

// refSchemaXML parameterizes the spouse field's delete action.
func refSchemaXML(onDelete string, extra string) string {
	return fmt.Sprintf(`<Schema>
  <ObjectType name="Person" storage="10">
    <SimpleField name="name" storage="20" type="string" indexed="true"/>
    <ReferenceField name="spouse" storage="23" onDelete="%s"%s/>
  </ObjectType>
</Schema>`, onDelete, extra)
}

func openRefTx(t *testing.T, onDelete string, extra string) *Transaction {
	t.Helper()
	database, _ := newTestDatabase(t)
	tx, err := database.CreateTransaction(TxConfig{
		Schema:         mustSchema(t, refSchemaXML(onDelete, extra)),
		Version:        1,
		AllowNewSchema: true,
	})
	require.NoError(t, err)
	return tx
}

func Test_Reference_AssignmentIntegrity(t *testing.T) {
	tx := openRefTx(t, "EXCEPTION", "")
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)

	// Assigning a live object works; a vanished one fails.
	require.NoError(t, tx.WriteSimple(a, spouseField, b))
	bogus, err := types.NewObjId(personType, 0xbeef)
	require.NoError(t, err)
	err = tx.WriteSimple(a, spouseField, bogus)
	require.ErrorIs(t, err, types.ErrDeletedAssignment)

	// Clearing a reference is always fine.
	require.NoError(t, tx.WriteSimple(a, spouseField, nil))
}

func Test_Delete_ExceptionBlocks(t *testing.T) {
	tx := openRefTx(t, "EXCEPTION", "")
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, b))

	_, err = tx.Delete(b)
	require.ErrorIs(t, err, types.ErrReferencedObject)

	// The referrer and target are both still intact.
	for _, id := range []types.ObjId{a, b} {
		exists, err := tx.Exists(id)
		require.NoError(t, err)
		require.True(t, exists)
	}

	// Deleting the referrer first unblocks the target.
	_, err = tx.Delete(a)
	require.NoError(t, err)
	ok, err := tx.Delete(b)
	require.NoError(t, err)
	require.True(t, ok)
}

func Test_Delete_UnreferenceClears(t *testing.T) {
	tx := openRefTx(t, "UNREFERENCE", "")
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, b))

	ok, err := tx.Delete(b)
	require.NoError(t, err)
	require.True(t, ok)

	// A's reference is now null and the index reflects it.
	got, err := tx.ReadSimple(a, spouseField)
	require.NoError(t, err)
	require.Nil(t, got)

	ix, err := tx.QueryIndex(spouseField)
	require.NoError(t, err)
	ids, err := ix.GetAll(nil)
	require.NoError(t, err)
	require.Equal(t, []types.ObjId{a}, ids)
	ids, err = ix.GetAll(b)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func Test_Delete_DeleteActionCascadesToReferrer(t *testing.T) {
	tx := openRefTx(t, "DELETE", "")
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, b))

	ok, err := tx.Delete(b)
	require.NoError(t, err)
	require.True(t, ok)

	exists, err := tx.Exists(a)
	require.NoError(t, err)
	require.False(t, exists, "DELETE action removes the referrer too")
}

func Test_Delete_CascadeDeleteFollowsOutgoing(t *testing.T) {
	tx := openRefTx(t, "UNREFERENCE", ` cascadeDelete="true"`)
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, b))

	ok, err := tx.Delete(a)
	require.NoError(t, err)
	require.True(t, ok)

	exists, err := tx.Exists(b)
	require.NoError(t, err)
	require.False(t, exists, "cascade delete follows the outgoing reference")
}

func Test_Delete_CascadeCycleTerminates(t *testing.T) {
	tx := openRefTx(t, "UNREFERENCE", ` cascadeDelete="true"`)
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, b))
	require.NoError(t, tx.WriteSimple(b, spouseField, a))

	ok, err := tx.Delete(a)
	require.NoError(t, err)
	require.True(t, ok)

	for _, id := range []types.ObjId{a, b} {
		exists, err := tx.Exists(id)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func Test_Delete_NothingLeavesDanglingWhenAllowed(t *testing.T) {
	tx := openRefTx(t, "NOTHING", ` allowDeleted="true"`)
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	b, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, b))

	ok, err := tx.Delete(b)
	require.NoError(t, err)
	require.True(t, ok)

	// The dangling reference remains readable.
	got, err := tx.ReadSimple(a, spouseField)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func Test_SelfReferenceDoesNotBlockDelete(t *testing.T) {
	tx := openRefTx(t, "EXCEPTION", ` allowDeleted="true"`)
	defer tx.Rollback()

	a, err := tx.Create(personType)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSimple(a, spouseField, a))

	ok, err := tx.Delete(a)
	require.NoError(t, err)
	require.True(t, ok)
}
