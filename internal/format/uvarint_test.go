package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Uvarint_RoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 2, 100, 249, 250, 251, 252, 506, 507,
		1000, 65786, 65787, 1 << 20, 16777466, 16777467,
		1 << 30, MaxUvarint,
	}
	for _, v := range values {
		enc := AppendUvarint(nil, v)
		require.LessOrEqual(t, len(enc), MaxUvarintLen)
		require.NotEqual(t, byte(0x00), enc[0], "value %d must not encode with a leading 0x00", v)
		require.Equal(t, UvarintLen(v), len(enc))

		got, n, err := Uvarint(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)

		skip, err := SkipUvarint(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), skip)
	}
}

func Test_Uvarint_Ordering(t *testing.T) {
	values := []uint64{
		0, 1, 2, 100, 249, 250, 251, 252, 300, 506, 507,
		1000, 65785, 65786, 65787, 1 << 20, 16777466, 16777467,
		1 << 30, MaxUvarint,
	}
	for i := 1; i < len(values); i++ {
		a := AppendUvarint(nil, values[i-1])
		b := AppendUvarint(nil, values[i])
		require.Negative(t, bytes.Compare(a, b),
			"encoding of %d must sort below encoding of %d", values[i-1], values[i])
	}
}

func Test_Uvarint_SingleByteValues(t *testing.T) {
	// Values 0..250 use exactly one byte, value+1.
	for v := uint64(0); v <= 250; v++ {
		enc := AppendUvarint(nil, v)
		require.Equal(t, []byte{byte(v + 1)}, enc)
	}
}

func Test_Uvarint_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"leading zero", []byte{0x00}},
		{"truncated multi", []byte{0xfd, 0x01}},
		{"non-canonical", []byte{0xfd, 0x00, 0x10}}, // fits in 2-byte form
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Uvarint(tc.in)
			require.Error(t, err)
		})
	}
}

func Test_Uvarint_TrailingBytesIgnored(t *testing.T) {
	enc := AppendUvarint(nil, 42)
	enc = append(enc, 0xde, 0xad)
	v, n, err := Uvarint(enc)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
	require.Equal(t, 1, n)
}
