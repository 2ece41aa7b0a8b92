package codec

import (
	"fmt"

	"github.com/permazen/objdb/internal/format"
)

// nullCodec wraps an inner codec with null support: a non-null value is
// written as 0x01 followed by the inner encoding, and null is the single
// byte 0xff, so nulls sort after every non-null value.
type nullCodec struct {
	inner Codec
}

// Nullable wraps a codec so that nil is an encodable value. Wrapping an
// already-nullable codec returns it unchanged.
func Nullable(inner Codec) Codec {
	if _, ok := inner.(nullCodec); ok {
		return inner
	}
	return nullCodec{inner: inner}
}

func (c nullCodec) Name() string { return c.inner.Name() + "?" }

func (c nullCodec) Read(r *Reader) (any, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0xff:
		return nil, nil
	case 0x01:
		return c.inner.Read(r)
	default:
		return nil, fmt.Errorf("%s: %w: bad discriminant 0x%02x", c.Name(), format.ErrInvalidEncoding, b)
	}
}

func (c nullCodec) Write(w *Writer, v any) error {
	if v == nil {
		w.WriteByte(0xff)
		return nil
	}
	w.WriteByte(0x01)
	return c.inner.Write(w, v)
}

func (c nullCodec) Skip(r *Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch b {
	case 0xff:
		return nil
	case 0x01:
		return c.inner.Skip(r)
	default:
		return fmt.Errorf("%s: %w: bad discriminant 0x%02x", c.Name(), format.ErrInvalidEncoding, b)
	}
}

func (c nullCodec) Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1 // nulls sort last
	case b == nil:
		return -1
	default:
		return c.inner.Compare(a, b)
	}
}

func (c nullCodec) Validate(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return c.inner.Validate(v)
}

func (c nullCodec) Default() any         { return nil }
func (c nullCodec) MayStartWith00() bool { return false }
func (c nullCodec) MayStartWithFF() bool { return true }
