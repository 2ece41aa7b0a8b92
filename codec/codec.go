package codec

import (
	"bytes"
	"fmt"
)

// Codec encodes and decodes values of one type with order-preserving,
// self-delimiting serializations. See the package documentation for the
// contracts implementations must honor.
type Codec interface {
	// Name returns the identifier used for this codec in schema XML.
	Name() string

	// Read decodes the next value from r.
	Read(r *Reader) (any, error)

	// Write appends the encoding of v to w. v must already be validated.
	Write(w *Writer, v any) error

	// Skip advances r past one encoded value without decoding it.
	Skip(r *Reader) error

	// Compare orders two validated values semantically. The result has
	// the same sign as bytes.Compare of their encodings.
	Compare(a, b any) int

	// Validate converts v to this codec's canonical value representation,
	// rejecting values the codec cannot encode.
	Validate(v any) (any, error)

	// Default returns the type's default value, used to detect absent
	// fields.
	Default() any

	// MayStartWith00 reports whether any encoding can begin with 0x00.
	MayStartWith00() bool

	// MayStartWithFF reports whether any encoding can begin with 0xff.
	MayStartWithFF() bool
}

// Encode validates v and returns its encoding.
func Encode(c Codec, v any) ([]byte, error) {
	v, err := c.Validate(v)
	if err != nil {
		return nil, err
	}
	w := NewWriter()
	if err := c.Write(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode decodes a complete encoding, rejecting trailing garbage.
func Decode(c Codec, b []byte) (any, error) {
	r := NewReader(b)
	v, err := c.Read(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%s: %d trailing bytes after value", c.Name(), r.Remaining())
	}
	return v, nil
}

// DefaultBytes returns the encoding of the codec's default value.
func DefaultBytes(c Codec) []byte {
	b, err := Encode(c, c.Default())
	if err != nil {
		panic(fmt.Sprintf("%s: default value does not encode: %v", c.Name(), err))
	}
	return b
}

// IsDefault reports whether b is exactly the default-value encoding.
func IsDefault(c Codec, b []byte) bool {
	return bytes.Equal(b, DefaultBytes(c))
}
