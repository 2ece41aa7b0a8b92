package codec

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/permazen/objdb/pkg/types"
)

// codecSamples pairs a codec with values in strictly ascending semantic
// order. The universal properties are checked for every pair.
func codecSamples(t *testing.T) map[Codec][]any {
	t.Helper()
	mustId := func(sid uint32, suffix uint64) types.ObjId {
		id, err := types.NewObjId(sid, suffix)
		require.NoError(t, err)
		return id
	}
	enum, err := NewEnum([]string{"RED", "GREEN", "BLUE"})
	require.NoError(t, err)

	return map[Codec][]any{
		Bool:  {false, true},
		Int8:  {int64(-128), int64(-1), int64(0), int64(1), int64(127)},
		Int16: {int64(-32768), int64(-300), int64(0), int64(300), int64(32767)},
		Int32: {int64(math.MinInt32), int64(-1), int64(0), int64(1), int64(math.MaxInt32)},
		Int64: {int64(math.MinInt64), int64(-1), int64(0), int64(1), int64(math.MaxInt64)},
		// math.Copysign gives a true negative zero; the literal -0.0 is
		// just zero. The total order puts -0.0 strictly below +0.0.
		Float64: {
			math.Inf(-1), -math.MaxFloat64, -1.5, math.Copysign(0, -1), 0.0,
			math.SmallestNonzeroFloat64, 1.5, math.MaxFloat64, math.Inf(1),
		},
		Float32: {
			float32(math.Inf(-1)), float32(-1.5), float32(0),
			float32(1.5), float32(math.Inf(1)),
		},
		Char: {uint16(0), uint16('A'), uint16('a'), uint16(0xffff)},
		Date: {
			time.UnixMilli(-1000000).UTC(), time.UnixMilli(-1).UTC(),
			time.UnixMilli(0).UTC(), time.UnixMilli(1).UTC(),
			time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		String: {"", "a", "a\x00", "a\x00b", "a\x01", "ab", "b", "ba"},
		// UUID halves compare as signed 64-bit values, so high bit set
		// sorts first.
		UUID: {
			uuid.MustParse("80000000-0000-0000-0000-000000000000"),
			uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
			uuid.MustParse("00000000-0000-0000-8000-000000000001"),
			uuid.MustParse("00000000-0000-0000-0000-000000000000"),
			uuid.MustParse("7fffffff-ffff-ffff-ffff-ffffffffffff"),
		},
		enum:       {"RED", "GREEN", "BLUE"},
		Int64Array: {[]int64{}, []int64{-5}, []int64{-5, 1}, []int64{0}, []int64{0, 0}, []int64{1}},
		Float64Array: {
			[]float64{}, []float64{-1.5}, []float64{-1.5, 2}, []float64{0}, []float64{3.25},
		},
		ObjId:     {mustId(10, 1), mustId(10, 2), mustId(11, 1)},
		Reference: {mustId(10, 1), mustId(11, 9), nil}, // nulls sort last
	}
}

func Test_Codecs_RoundTripAndOrder(t *testing.T) {
	for c, vals := range codecSamples(t) {
		c, vals := c, vals
		t.Run(c.Name(), func(t *testing.T) {
			var prev []byte
			for i, v := range vals {
				enc, err := Encode(c, v)
				require.NoError(t, err, "value %v", v)

				// read(write(x)) == x
				got, err := Decode(c, enc)
				require.NoError(t, err)
				require.Equal(t, 0, c.Compare(mustValidate(t, c, v), got),
					"round trip of %v gave %v", v, got)

				// skip(write(x)) lands exactly after the encoding
				r := NewReader(append(enc, 0xaa))
				require.NoError(t, c.Skip(r))
				require.Equal(t, len(enc), r.Offset())

				// declared first-byte predicates hold
				if enc[0] == 0x00 {
					require.True(t, c.MayStartWith00(),
						"%s emitted leading 0x00 for %v but declares it cannot", c.Name(), v)
				}
				if enc[0] == 0xff {
					require.True(t, c.MayStartWithFF(),
						"%s emitted leading 0xff for %v but declares it cannot", c.Name(), v)
				}

				// byte order equals semantic order
				if i > 0 {
					require.Negative(t, bytes.Compare(prev, enc),
						"encoding of %v must sort below encoding of %v", vals[i-1], v)
					require.Negative(t, c.Compare(mustValidate(t, c, vals[i-1]), mustValidate(t, c, v)))
				}
				prev = enc
			}
		})
	}
}

func mustValidate(t *testing.T, c Codec, v any) any {
	t.Helper()
	out, err := c.Validate(v)
	require.NoError(t, err)
	return out
}

func Test_Codecs_DefaultBytes(t *testing.T) {
	require.Equal(t, []byte{0x80, 0, 0, 0, 0, 0, 0, 0}, DefaultBytes(Int64))
	require.Equal(t, []byte{0x01, 0x00}, DefaultBytes(String))
	require.Equal(t, []byte{0x00}, DefaultBytes(Bool))
	require.Equal(t, []byte{0xff}, DefaultBytes(Reference))
	require.True(t, IsDefault(String, []byte{0x01, 0x00}))
	require.False(t, IsDefault(String, []byte{0x01, 'a', 0x00}))
}

func Test_Decode_RejectsTrailingGarbage(t *testing.T) {
	enc, err := Encode(Int32, 7)
	require.NoError(t, err)
	_, err = Decode(Int32, append(enc, 0x00))
	require.Error(t, err)
}

func Test_Nullable_Wrapping(t *testing.T) {
	n := Nullable(Int32)
	require.Equal(t, n, Nullable(n), "wrapping an already-nullable codec is a no-op")

	nullEnc, err := Encode(n, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff}, nullEnc)

	enc, err := Encode(n, 5)
	require.NoError(t, err)
	require.Equal(t, byte(0x01), enc[0])
	require.Negative(t, bytes.Compare(enc, nullEnc), "nulls must sort last")

	got, err := Decode(n, enc)
	require.NoError(t, err)
	require.Equal(t, int64(5), got)
}

func Test_Reference_TypeRestriction(t *testing.T) {
	restricted := NewReference([]uint32{10})
	ok, err := types.NewObjId(10, 7)
	require.NoError(t, err)
	bad, err := types.NewObjId(11, 7)
	require.NoError(t, err)

	_, err = restricted.Validate(ok)
	require.NoError(t, err)
	_, err = restricted.Validate(bad)
	require.Error(t, err)
	_, err = restricted.Validate(nil)
	require.NoError(t, err)
}

func Test_Tuple_ConcatenatesAndOrders(t *testing.T) {
	tup, err := NewTuple(String, Int32)
	require.NoError(t, err)

	a, err := Encode(tup, []any{"a", 5})
	require.NoError(t, err)
	b, err := Encode(tup, []any{"a", 6})
	require.NoError(t, err)
	c, err := Encode(tup, []any{"b", 0})
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(a, b))
	require.Negative(t, bytes.Compare(b, c))

	got, err := Decode(tup, a)
	require.NoError(t, err)
	require.Equal(t, []any{"a", int64(5)}, got)

	_, err = NewTuple(String)
	require.Error(t, err, "arity 1 is rejected")
}

func Test_Registry_LookupAndAdd(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"bool", "char", "date", "string", "uuid",
		"int8", "int16", "int32", "int64", "float32", "float64",
		"int64[]", "float64[]"} {
		_, ok := reg.Lookup(name)
		require.True(t, ok, "built-in codec %q missing", name)
	}
	_, ok := reg.Lookup("no-such")
	require.False(t, ok)

	require.Error(t, reg.Add(Int64), "replacing a built-in must fail")
	custom, err := NewTuple(Int32, Int32)
	require.NoError(t, err)
	require.NoError(t, reg.Add(custom))
	_, ok = reg.Lookup(custom.Name())
	require.True(t, ok)
}
