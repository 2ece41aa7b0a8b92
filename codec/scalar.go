package codec

import (
	"fmt"
	"time"
)

type boolCodec struct{}

// Bool encodes false as 0x00 and true as 0x01.
var Bool Codec = boolCodec{}

func (boolCodec) Name() string { return "bool" }

func (boolCodec) Read(r *Reader) (any, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return nil, fmt.Errorf("bool: invalid encoding 0x%02x", b)
	}
}

func (boolCodec) Write(w *Writer, v any) error {
	if v.(bool) {
		w.WriteByte(0x01)
	} else {
		w.WriteByte(0x00)
	}
	return nil
}

func (boolCodec) Skip(r *Reader) error { return r.Skip(1) }

func (boolCodec) Compare(a, b any) int {
	x, y := a.(bool), b.(bool)
	switch {
	case x == y:
		return 0
	case y:
		return -1
	default:
		return 1
	}
}

func (boolCodec) Validate(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("bool: value of type %T is not a bool", v)
	}
	return b, nil
}

func (boolCodec) Default() any         { return false }
func (boolCodec) MayStartWith00() bool { return true }
func (boolCodec) MayStartWithFF() bool { return false }

type charCodec struct{}

// Char encodes a UTF-16 code unit as two big-endian bytes.
var Char Codec = charCodec{}

func (charCodec) Name() string { return "char" }

func (charCodec) Read(r *Reader) (any, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (charCodec) Write(w *Writer, v any) error {
	c := v.(uint16)
	w.WriteByte(byte(c >> 8))
	w.WriteByte(byte(c))
	return nil
}

func (charCodec) Skip(r *Reader) error { return r.Skip(2) }

func (charCodec) Compare(a, b any) int {
	x, y := a.(uint16), b.(uint16)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func (charCodec) Validate(v any) (any, error) {
	switch x := v.(type) {
	case uint16:
		return x, nil
	case rune:
		if x < 0 || x > 0xffff {
			return nil, fmt.Errorf("char: rune %q outside the basic multilingual plane", x)
		}
		return uint16(x), nil
	case int:
		if x < 0 || x > 0xffff {
			return nil, fmt.Errorf("char: value %d out of range", x)
		}
		return uint16(x), nil
	default:
		return nil, fmt.Errorf("char: value of type %T is not a code unit", v)
	}
}

func (charCodec) Default() any         { return uint16(0) }
func (charCodec) MayStartWith00() bool { return true }
func (charCodec) MayStartWithFF() bool { return true }

type dateCodec struct{}

// Date encodes an instant as the variable-width signed encoding of its
// milliseconds since the Unix epoch. Temporal order equals byte order,
// and the encoding never begins with 0x00 or 0xff.
var Date Codec = dateCodec{}

func (dateCodec) Name() string { return "date" }

func (dateCodec) Read(r *Reader) (any, error) {
	ms, err := ReadVarLong(r)
	if err != nil {
		return nil, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (dateCodec) Write(w *Writer, v any) error {
	w.Write(AppendVarLong(nil, v.(time.Time).UnixMilli()))
	return nil
}

func (dateCodec) Skip(r *Reader) error { return SkipVarLong(r) }

func (dateCodec) Compare(a, b any) int {
	x, y := a.(time.Time).UnixMilli(), b.(time.Time).UnixMilli()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func (dateCodec) Validate(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("date: value of type %T is not a time.Time", v)
	}
	return t.Truncate(time.Millisecond).UTC(), nil
}

func (dateCodec) Default() any         { return time.UnixMilli(0).UTC() }
func (dateCodec) MayStartWith00() bool { return false }
func (dateCodec) MayStartWithFF() bool { return false }
