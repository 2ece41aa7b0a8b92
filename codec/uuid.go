package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// UUID encodes a UUID as its two 64-bit halves, each with the top bit
// flipped, written big-endian. The flip makes byte order match the
// signed comparison of the halves, the ordering UUIDs have always used.
type uuidCodec struct{}

// UUID encodes uuid.UUID values in sixteen bytes.
var UUID Codec = uuidCodec{}

func (uuidCodec) Name() string { return "uuid" }

func (uuidCodec) Read(r *Reader) (any, error) {
	b, err := r.ReadBytes(16)
	if err != nil {
		return nil, err
	}
	hi := binary.BigEndian.Uint64(b[:8]) ^ 1<<63
	lo := binary.BigEndian.Uint64(b[8:]) ^ 1<<63
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[:8], hi)
	binary.BigEndian.PutUint64(u[8:], lo)
	return u, nil
}

func (uuidCodec) Write(w *Writer, v any) error {
	u := v.(uuid.UUID)
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], binary.BigEndian.Uint64(u[:8])^1<<63)
	binary.BigEndian.PutUint64(b[8:], binary.BigEndian.Uint64(u[8:])^1<<63)
	w.Write(b[:])
	return nil
}

func (uuidCodec) Skip(r *Reader) error { return r.Skip(16) }

func (uuidCodec) Compare(a, b any) int {
	x, y := a.(uuid.UUID), b.(uuid.UUID)
	xhi, xlo := int64(binary.BigEndian.Uint64(x[:8])), int64(binary.BigEndian.Uint64(x[8:]))
	yhi, ylo := int64(binary.BigEndian.Uint64(y[:8])), int64(binary.BigEndian.Uint64(y[8:]))
	switch {
	case xhi < yhi:
		return -1
	case xhi > yhi:
		return 1
	case xlo < ylo:
		return -1
	case xlo > ylo:
		return 1
	default:
		return 0
	}
}

func (uuidCodec) Validate(v any) (any, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case string:
		u, err := uuid.Parse(x)
		if err != nil {
			return nil, fmt.Errorf("uuid: %w", err)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("uuid: value of type %T is not a UUID", v)
	}
}

func (uuidCodec) Default() any         { return uuid.UUID{} }
func (uuidCodec) MayStartWith00() bool { return true }
func (uuidCodec) MayStartWithFF() bool { return true }
