package badgerkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/kv"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("") // in-memory
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func Test_Badger_BasicOperations(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Put([]byte("b"), []byte("2")))
	require.NoError(t, tx.Put([]byte("c"), []byte("3")))
	require.NoError(t, tx.Commit())

	tx = db.Begin()
	defer tx.Rollback()
	v, err := tx.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
	v, err = tx.Get([]byte("x"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func Test_Badger_RangeScans(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tx.Put([]byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit())

	tx = db.Begin()
	defer tx.Rollback()
	collect := func(it kv.Iterator) []string {
		var out []string
		for it.Next() {
			out = append(out, string(it.Key()))
		}
		require.NoError(t, it.Close())
		return out
	}
	require.Equal(t, []string{"b", "c"}, collect(tx.GetRange([]byte("b"), []byte("d"), false)))
	require.Equal(t, []string{"c", "b"}, collect(tx.GetRange([]byte("b"), []byte("d"), true)))
	require.Equal(t, []string{"d", "c", "b", "a"}, collect(tx.GetRange(nil, nil, true)))

	pair, err := tx.GetAtLeast([]byte("bb"))
	require.NoError(t, err)
	require.Equal(t, "c", string(pair.Key))
	pair, err = tx.GetAtMost([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "b", string(pair.Key))
}

func Test_Badger_RemoveRangeAndCounters(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, tx.Put([]byte(k), []byte(k)))
	}
	require.NoError(t, tx.RemoveRange([]byte("a"), []byte("c")))
	v, err := tx.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)
	v, err = tx.Get([]byte("c"))
	require.NoError(t, err)
	require.NotNil(t, v)

	require.NoError(t, tx.AdjustCounter([]byte("n"), 7))
	require.NoError(t, tx.AdjustCounter([]byte("n"), -3))
	raw, err := tx.Get([]byte("n"))
	require.NoError(t, err)
	count, err := tx.DecodeCounter(raw)
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
	require.NoError(t, tx.Rollback())
}

func Test_Badger_SnapshotNeverCommits(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Commit())

	snap := db.Snapshot()
	require.NoError(t, snap.Put([]byte("b"), []byte("2")))
	require.ErrorIs(t, snap.Commit(), kv.ErrClosed)

	tx = db.Begin()
	defer tx.Rollback()
	v, err := tx.Get([]byte("b"))
	require.NoError(t, err)
	require.Nil(t, v)
}
