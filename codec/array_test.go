package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_IntArray_EmptyIsBareTerminator(t *testing.T) {
	enc, err := Encode(Int64Array, []int64{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, enc)
	require.True(t, Int64Array.MayStartWith00())
}

func Test_IntArray_ElementBounds(t *testing.T) {
	_, err := Encode(Int8Array, []int64{127})
	require.NoError(t, err)
	_, err = Encode(Int8Array, []int64{128})
	require.Error(t, err, "element beyond int8 range")
}

func Test_FloatArray_ReservedTerminatorElement(t *testing.T) {
	// The all-zero block terminates the array, so the one NaN bit
	// pattern encoding to it is rejected.
	reserved := math.Float64frombits(0xffffffffffffffff)
	_, err := Encode(Float64Array, []float64{reserved})
	require.Error(t, err)

	// Ordinary NaN is fine.
	_, err = Encode(Float64Array, []float64{math.NaN()})
	require.NoError(t, err)
}

func Test_ObjectArray_InlineVsFramed(t *testing.T) {
	// String encodings never begin with 0x00, so string arrays inline.
	inline, err := NewObjectArray(String)
	require.NoError(t, err)
	enc, err := Encode(inline, []any{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x01, 'a', 0x00,
		0x01, 'b', 0x00,
		0x00,
	}, enc)

	got, err := Decode(inline, enc)
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, got)

	// Bool encodings may begin with 0x00, so bool arrays are framed
	// with a 0x01 byte per element.
	framed, err := NewObjectArray(Bool)
	require.NoError(t, err)
	enc, err = Encode(framed, []any{false, true})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x01, 0x00,
		0x01, 0x01,
		0x00,
	}, enc)

	got, err = Decode(framed, enc)
	require.NoError(t, err)
	require.Equal(t, []any{false, true}, got)

	// Element codecs that may begin with 0xff cannot form arrays.
	_, err = NewObjectArray(Int64)
	require.Error(t, err)
}

func Test_ObjectArray_SkipAndOrder(t *testing.T) {
	arr, err := NewObjectArray(String)
	require.NoError(t, err)

	a, err := Encode(arr, []any{"x"})
	require.NoError(t, err)
	b, err := Encode(arr, []any{"x", "y"})
	require.NoError(t, err)
	require.Negative(t, arr.Compare([]any{"x"}, []any{"x", "y"}))
	require.Less(t, string(a), string(b))

	r := NewReader(append(a, 0xee))
	require.NoError(t, arr.Skip(r))
	require.Equal(t, len(a), r.Offset())
}
