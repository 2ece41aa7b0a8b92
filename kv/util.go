package kv

import "bytes"

// PrefixRange returns the [min, max) range covering exactly the keys that
// start with prefix. The returned max is nil when the prefix is all 0xff
// bytes, meaning the range extends to the end of the key space.
func PrefixRange(prefix []byte) (min, max []byte) {
	min = append([]byte{}, prefix...)
	return min, KeyAfterPrefix(prefix)
}

// KeyAfterPrefix returns the smallest key greater than every key starting
// with prefix, or nil if no such key exists.
func KeyAfterPrefix(prefix []byte) []byte {
	max := append([]byte{}, prefix...)
	for i := len(max) - 1; i >= 0; i-- {
		if max[i] != 0xff {
			max[i]++
			return max[:i+1]
		}
	}
	return nil
}

// KeyAfter returns the smallest key greater than key: key + 0x00.
func KeyAfter(key []byte) []byte {
	return append(append([]byte{}, key...), 0x00)
}

// Within reports whether key falls inside [min, max).
func Within(key, min, max []byte) bool {
	if min != nil && bytes.Compare(key, min) < 0 {
		return false
	}
	if max != nil && bytes.Compare(key, max) >= 0 {
		return false
	}
	return true
}
