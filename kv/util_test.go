package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_PrefixRange(t *testing.T) {
	min, max := PrefixRange([]byte{0x0a, 0x0b})
	require.Equal(t, []byte{0x0a, 0x0b}, min)
	require.Equal(t, []byte{0x0a, 0x0c}, max)

	// Trailing 0xff bytes carry into the shorter prefix.
	min, max = PrefixRange([]byte{0x0a, 0xff})
	require.Equal(t, []byte{0x0a, 0xff}, min)
	require.Equal(t, []byte{0x0b}, max)

	// An all-0xff prefix extends to the end of the key space.
	_, max = PrefixRange([]byte{0xff, 0xff})
	require.Nil(t, max)
}

func Test_KeyAfter(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x00}, KeyAfter([]byte{0x01}))
	require.Equal(t, []byte{0x00}, KeyAfter(nil))
}

func Test_Within(t *testing.T) {
	min, max := []byte{0x10}, []byte{0x20}
	require.True(t, Within([]byte{0x10}, min, max))
	require.True(t, Within([]byte{0x15, 0xff}, min, max))
	require.False(t, Within([]byte{0x20}, min, max), "max is exclusive")
	require.False(t, Within([]byte{0x0f}, min, max))
	require.True(t, Within([]byte{0x99}, nil, nil))
}
