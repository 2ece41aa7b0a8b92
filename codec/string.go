package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/permazen/objdb/internal/format"
)

// String encoding: a 0x01 discriminant byte, the UTF-8 bytes of the value
// with the two smallest byte values escaped (0x00 as 0x01 0x01 and 0x01
// as 0x01 0x02), and a 0x00 terminator.
//
// The escape keeps 0x00 out of the content, so decoding stops at the
// first 0x00 with no lookahead and the encoding composes safely with any
// following codec. Order is preserved: escaped bytes keep their relative
// order under the shared 0x01 prefix, every unescaped byte is >= 0x02 and
// so compares above both escapes, and the terminator compares below all
// content, putting proper prefixes first. The discriminant keeps the
// empty string's encoding from starting with 0x00.
type stringCodec struct{}

// String encodes UTF-8 strings in lexicographic byte order.
var String Codec = stringCodec{}

func (stringCodec) Name() string { return "string" }

func (stringCodec) Read(r *Reader) (any, error) {
	if err := expectByte(r, 0x01, "string"); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0x00:
			return sb.String(), nil
		case 0x01:
			esc, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			switch esc {
			case 0x01:
				sb.WriteByte(0x00)
			case 0x02:
				sb.WriteByte(0x01)
			default:
				return nil, fmt.Errorf("string: %w: bad escape 0x%02x", format.ErrInvalidEncoding, esc)
			}
		default:
			sb.WriteByte(b)
		}
	}
}

func (stringCodec) Write(w *Writer, v any) error {
	w.WriteByte(0x01)
	s := v.(string)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0x00:
			w.WriteByte(0x01)
			w.WriteByte(0x01)
		case 0x01:
			w.WriteByte(0x01)
			w.WriteByte(0x02)
		default:
			w.WriteByte(s[i])
		}
	}
	w.WriteByte(0x00)
	return nil
}

func (stringCodec) Skip(r *Reader) error {
	if err := expectByte(r, 0x01, "string"); err != nil {
		return err
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case 0x00:
			return nil
		case 0x01:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
		}
	}
}

func (stringCodec) Compare(a, b any) int {
	return strings.Compare(a.(string), b.(string))
}

func (stringCodec) Validate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("string: value of type %T is not a string", v)
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("string: value is not valid UTF-8")
	}
	return s, nil
}

func (stringCodec) Default() any         { return "" }
func (stringCodec) MayStartWith00() bool { return false }
func (stringCodec) MayStartWithFF() bool { return false }

func expectByte(r *Reader, want byte, name string) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("%s: %w: expected 0x%02x, found 0x%02x", name, format.ErrInvalidEncoding, want, b)
	}
	return nil
}
