package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func varLongSamples() []int64 {
	vals := []int64{
		math.MinInt64, math.MinInt64 + 1,
		-1 << 56, -1<<56 + 1,
		-66000, -65911, -376, -375, -374,
		-120, -119, -118, -2, -1, 0, 1, 2,
		117, 118, 119, 120, 374, 375,
		65786, 65787, 1 << 30, 1 << 56,
		math.MaxInt64 - 1, math.MaxInt64,
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals
}

func Test_VarLong_RoundTrip(t *testing.T) {
	for _, v := range varLongSamples() {
		enc := AppendVarLong(nil, v)
		require.NotEmpty(t, enc)
		require.NotEqual(t, byte(0x00), enc[0], "value %d", v)
		require.NotEqual(t, byte(0xff), enc[0], "value %d", v)

		r := NewReader(enc)
		got, err := ReadVarLong(r)
		require.NoError(t, err, "value %d", v)
		require.Equal(t, v, got)
		require.Equal(t, 0, r.Remaining())

		r = NewReader(enc)
		require.NoError(t, SkipVarLong(r))
		require.Equal(t, 0, r.Remaining())
	}
}

func Test_VarLong_Ordering(t *testing.T) {
	vals := varLongSamples()
	for i := 1; i < len(vals); i++ {
		a := AppendVarLong(nil, vals[i-1])
		b := AppendVarLong(nil, vals[i])
		require.Negative(t, bytes.Compare(a, b),
			"encoding of %d must sort below encoding of %d", vals[i-1], vals[i])
	}
}

func Test_VarLong_SingleByteBand(t *testing.T) {
	for v := int64(-119); v <= 118; v++ {
		enc := AppendVarLong(nil, v)
		require.Len(t, enc, 1, "value %d", v)
		require.Equal(t, byte(v+0x80), enc[0])
	}
	require.Len(t, AppendVarLong(nil, -120), 2)
	require.Len(t, AppendVarLong(nil, 119), 2)
}

func Test_VarLong_RejectsReservedFirstBytes(t *testing.T) {
	for _, in := range [][]byte{{0x00}, {0xff}} {
		_, err := ReadVarLong(NewReader(in))
		require.Error(t, err)
	}
}

func Test_VarLong_SkipLeavesReaderPositioned(t *testing.T) {
	var enc []byte
	enc = AppendVarLong(enc, -1234567)
	enc = AppendVarLong(enc, 42)
	r := NewReader(enc)
	require.NoError(t, SkipVarLong(r))
	got, err := ReadVarLong(r)
	require.NoError(t, err)
	require.Equal(t, int64(42), got)
}
