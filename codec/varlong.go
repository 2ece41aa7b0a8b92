package codec

import (
	"github.com/permazen/objdb/internal/format"
)

// Variable-width signed 64-bit encoding.
//
// The first byte selects a band and, for multi-byte encodings, the payload
// length, so that byte order equals numeric order across all bands:
//
//	0x01..0x08  negative, 9-first following payload bytes (0x01 = 8 bytes)
//	0x09..0xf6  the value itself, biased by 0x80 (range -119..118)
//	0xf7..0xfe  positive, first-0xf6 following payload bytes
//
// Within a band the payload is the offset from the band's smallest value,
// written big-endian. Encodings are canonical: each value has exactly one
// band, picked by magnitude. The first byte is never 0x00 or 0xff, which
// is what lets terminated sequences (primitive arrays) use a bare 0x00
// terminator and the null wrapper use 0xff.

const (
	varLongSingleMin = -119
	varLongSingleMax = 118
)

// varLongPosMin[n] is the smallest value encoded with n payload bytes in
// the positive band; varLongNegMax[n] the largest in the negative band.
var (
	varLongPosMin [9]int64
	varLongNegMax [9]int64
)

func init() {
	varLongPosMin[1] = varLongSingleMax + 1
	varLongNegMax[1] = varLongSingleMin - 1
	for n := 2; n <= 8; n++ {
		width := int64(1) << (8 * (n - 1))
		varLongPosMin[n] = varLongPosMin[n-1] + width
		varLongNegMax[n] = varLongNegMax[n-1] - width
	}
}

// AppendVarLong appends the encoding of v to dst.
func AppendVarLong(dst []byte, v int64) []byte {
	if v >= varLongSingleMin && v <= varLongSingleMax {
		return append(dst, byte(v+0x80))
	}
	if v > 0 {
		n := 8
		for i := 1; i < 8; i++ {
			if v < varLongPosMin[i+1] {
				n = i
				break
			}
		}
		payload := uint64(v - varLongPosMin[n])
		dst = append(dst, byte(0xf6+n))
		return appendBE(dst, payload, n)
	}
	n := 8
	for i := 1; i < 8; i++ {
		if v > varLongNegMax[i+1] {
			n = i
			break
		}
	}
	var payload uint64
	if n == 8 {
		payload = uint64(v) - (1 << 63)
	} else {
		width := int64(1) << (8 * n)
		payload = uint64(v - (varLongNegMax[n] - width + 1))
	}
	dst = append(dst, byte(9-n))
	return appendBE(dst, payload, n)
}

func appendBE(dst []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

// ReadVarLong decodes a value from r.
func ReadVarLong(r *Reader) (int64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case first == 0x00 || first == 0xff:
		return 0, format.ErrInvalidEncoding
	case first >= 0x09 && first <= 0xf6:
		return int64(first) - 0x80, nil
	case first >= 0xf7:
		n := int(first) - 0xf6
		payload, err := readBE(r, n)
		if err != nil {
			return 0, err
		}
		if n == 8 {
			v := varLongPosMin[8] + int64(payload)
			if v < varLongPosMin[8] {
				// Payload overflows past MaxInt64.
				return 0, format.ErrInvalidEncoding
			}
			return v, nil
		}
		// Band ranges are disjoint, so any payload of this width decodes
		// to a canonical value.
		return varLongPosMin[n] + int64(payload), nil
	default:
		n := 9 - int(first)
		payload, err := readBE(r, n)
		if err != nil {
			return 0, err
		}
		if n == 8 {
			v := int64(payload + (1 << 63))
			if v > varLongNegMax[8] {
				// Payload overflows past the band's largest value.
				return 0, format.ErrInvalidEncoding
			}
			return v, nil
		}
		width := int64(1) << (8 * n)
		return varLongNegMax[n] - width + 1 + int64(payload), nil
	}
}

func readBE(r *Reader, n int) (uint64, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// SkipVarLong advances r past one encoded value.
func SkipVarLong(r *Reader) error {
	first, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch {
	case first == 0x00 || first == 0xff:
		return format.ErrInvalidEncoding
	case first >= 0x09 && first <= 0xf6:
		return nil
	case first >= 0xf7:
		return r.Skip(int(first) - 0xf6)
	default:
		return r.Skip(9 - int(first))
	}
}
