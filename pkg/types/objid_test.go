package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ObjId_RoundTrip(t *testing.T) {
	cases := []struct {
		storageID uint32
		suffix    uint64
	}{
		{1, 1},
		{10, 0xdeadbeef},
		{250, 1},
		{251, 0xffffffffffff},
		{MaxStorageID, 0xffffffff},
	}
	for _, tc := range cases {
		id, err := NewObjId(tc.storageID, tc.suffix)
		require.NoError(t, err)
		require.Equal(t, tc.storageID, id.StorageID())
		require.Equal(t, tc.suffix, id.Suffix())

		parsed, err := ParseObjId(id.Bytes())
		require.NoError(t, err)
		require.Equal(t, id, parsed)

		fromString, err := ParseObjIdString(id.String())
		require.NoError(t, err)
		require.Equal(t, id, fromString)
	}
}

func Test_ObjId_SuffixMasked(t *testing.T) {
	// A one-byte storage ID leaves 7 suffix bytes; higher suffix bits
	// are discarded.
	id, err := NewObjId(10, 0xff00000000000001)
	require.NoError(t, err)
	require.Equal(t, uint32(10), id.StorageID())
	require.Equal(t, uint64(0x0000000000000001), id.Suffix())
}

func Test_ObjId_OrdersByTypeThenSuffix(t *testing.T) {
	a, err := NewObjId(10, 0xffffffffffffff) // max suffix of type 10
	require.NoError(t, err)
	b, err := NewObjId(11, 1)
	require.NoError(t, err)
	require.Negative(t, a.Compare(b))
	require.Negative(t, bytes.Compare(a.Bytes(), b.Bytes()))

	c, err := NewObjId(10, 5)
	require.NoError(t, err)
	d, err := NewObjId(10, 6)
	require.NoError(t, err)
	require.Negative(t, c.Compare(d))
}

func Test_ObjId_Rejects(t *testing.T) {
	_, err := NewObjId(0, 1)
	require.Error(t, err)
	_, err = NewObjId(MaxStorageID+1, 1)
	require.Error(t, err)
	_, err = ParseObjId([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	require.Error(t, err)
	_, err = ParseObjId([]byte{0x0b})
	require.Error(t, err)
}

func Test_ValidStorageID(t *testing.T) {
	require.False(t, ValidStorageID(0))
	require.True(t, ValidStorageID(1))
	require.True(t, ValidStorageID(MaxStorageID))
	require.False(t, ValidStorageID(MaxStorageID+1))
}
