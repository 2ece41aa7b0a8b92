package codec

import (
	"fmt"

	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/pkg/types"
)

// objIdCodec encodes a types.ObjId as its 8-byte big-endian blob. The
// first byte is the first byte of the storage ID encoding, which is never
// 0x00 and, because storage IDs are capped, never 0xff.
type objIdCodec struct{}

// ObjId encodes object identifiers.
var ObjId Codec = objIdCodec{}

func (objIdCodec) Name() string { return "objid" }

func (objIdCodec) Read(r *Reader) (any, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	return types.ParseObjId(b)
}

func (objIdCodec) Write(w *Writer, v any) error {
	w.Write(v.(types.ObjId).Bytes())
	return nil
}

func (objIdCodec) Skip(r *Reader) error { return r.Skip(8) }

func (objIdCodec) Compare(a, b any) int {
	return a.(types.ObjId).Compare(b.(types.ObjId))
}

func (objIdCodec) Validate(v any) (any, error) {
	id, ok := v.(types.ObjId)
	if !ok {
		return nil, fmt.Errorf("objid: value of type %T is not an ObjId", v)
	}
	if _, err := types.ParseObjId(id.Bytes()); err != nil {
		return nil, fmt.Errorf("objid: %w", err)
	}
	return id, nil
}

func (objIdCodec) Default() any         { panic("objid: no default value; use Reference") }
func (objIdCodec) MayStartWith00() bool { return false }
func (objIdCodec) MayStartWithFF() bool { return false }

// referenceCodec is the nullable ObjId codec used by reference fields,
// optionally restricted to an allow-list of object type storage IDs.
// Null encodes as 0xff and sorts after every identifier; a non-null
// identifier is encoded as its raw 8 bytes, with no discriminant, which
// is unambiguous because identifiers never begin with 0xff.
type referenceCodec struct {
	allowed map[uint32]bool // nil means any object type
}

// Reference is the unrestricted reference codec.
var Reference Codec = &referenceCodec{}

// NewReference builds a reference codec restricted to the given object
// type storage IDs. An empty list means unrestricted.
func NewReference(objectTypes []uint32) Codec {
	if len(objectTypes) == 0 {
		return Reference
	}
	allowed := make(map[uint32]bool, len(objectTypes))
	for _, sid := range objectTypes {
		allowed[sid] = true
	}
	return &referenceCodec{allowed: allowed}
}

func (c referenceCodec) Name() string { return "reference" }

func (c referenceCodec) Read(r *Reader) (any, error) {
	b, err := r.PeekByte()
	if err != nil {
		return nil, err
	}
	if b == 0xff {
		_, _ = r.ReadByte()
		return nil, nil
	}
	raw, err := r.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	id, err := types.ParseObjId(raw)
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (c referenceCodec) Write(w *Writer, v any) error {
	if v == nil {
		w.WriteByte(0xff)
		return nil
	}
	w.Write(v.(types.ObjId).Bytes())
	return nil
}

func (c referenceCodec) Skip(r *Reader) error {
	b, err := r.PeekByte()
	if err != nil {
		return err
	}
	if b == 0xff {
		_, _ = r.ReadByte()
		return nil
	}
	if b == 0x00 {
		return fmt.Errorf("reference: %w", format.ErrInvalidEncoding)
	}
	return r.Skip(8)
}

func (c referenceCodec) Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.(types.ObjId).Compare(b.(types.ObjId))
	}
}

func (c referenceCodec) Validate(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	id, ok := v.(types.ObjId)
	if !ok {
		return nil, fmt.Errorf("reference: value of type %T is not an ObjId", v)
	}
	if _, err := types.ParseObjId(id.Bytes()); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if c.allowed != nil && !c.allowed[id.StorageID()] {
		return nil, fmt.Errorf("reference: object type %d not permitted", id.StorageID())
	}
	return id, nil
}

// AllowedTypes returns the allow-list, or nil when unrestricted.
func (c referenceCodec) AllowedTypes() map[uint32]bool { return c.allowed }

func (c referenceCodec) Default() any         { return nil }
func (c referenceCodec) MayStartWith00() bool { return false }
func (c referenceCodec) MayStartWithFF() bool { return true }
