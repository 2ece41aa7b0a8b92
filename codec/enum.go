package codec

import (
	"fmt"

	"github.com/permazen/objdb/internal/format"
)

// enumCodec encodes an enum value as the variable-width unsigned encoding
// of its ordinal. The identifier list is captured from the schema, so two
// schema versions sharing a storage ID must agree on it.
type enumCodec struct {
	idents   []string
	ordinals map[string]int
}

// NewEnum builds a codec over an ordered identifier list. The canonical
// value representation is the identifier string; values order by ordinal.
func NewEnum(idents []string) (Codec, error) {
	if len(idents) == 0 {
		return nil, fmt.Errorf("enum: empty identifier list")
	}
	ordinals := make(map[string]int, len(idents))
	for i, id := range idents {
		if id == "" {
			return nil, fmt.Errorf("enum: empty identifier at ordinal %d", i)
		}
		if _, dup := ordinals[id]; dup {
			return nil, fmt.Errorf("enum: duplicate identifier %q", id)
		}
		ordinals[id] = i
	}
	return &enumCodec{idents: idents, ordinals: ordinals}, nil
}

// Identifiers returns the identifier list in ordinal order.
func (c *enumCodec) Identifiers() []string {
	out := make([]string, len(c.idents))
	copy(out, c.idents)
	return out
}

func (c *enumCodec) Name() string { return "enum" }

func (c *enumCodec) Read(r *Reader) (any, error) {
	v, n, err := format.Uvarint(r.buf[r.off:])
	if err != nil {
		return nil, err
	}
	if err := r.Skip(n); err != nil {
		return nil, err
	}
	if v >= uint64(len(c.idents)) {
		return nil, fmt.Errorf("enum: ordinal %d out of range (%d identifiers)", v, len(c.idents))
	}
	return c.idents[v], nil
}

func (c *enumCodec) Write(w *Writer, v any) error {
	ord := c.ordinals[v.(string)]
	w.Write(format.AppendUvarint(nil, uint64(ord)))
	return nil
}

func (c *enumCodec) Skip(r *Reader) error {
	n, err := format.SkipUvarint(r.buf[r.off:])
	if err != nil {
		return err
	}
	return r.Skip(n)
}

func (c *enumCodec) Compare(a, b any) int {
	x, y := c.ordinals[a.(string)], c.ordinals[b.(string)]
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func (c *enumCodec) Validate(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if _, ok := c.ordinals[x]; !ok {
			return nil, fmt.Errorf("enum: unknown identifier %q", x)
		}
		return x, nil
	case int:
		if x < 0 || x >= len(c.idents) {
			return nil, fmt.Errorf("enum: ordinal %d out of range (%d identifiers)", x, len(c.idents))
		}
		return c.idents[x], nil
	default:
		return nil, fmt.Errorf("enum: value of type %T is not an identifier", v)
	}
}

func (c *enumCodec) Default() any { return c.idents[0] }

func (c *enumCodec) MayStartWith00() bool { return false }

// MayStartWithFF is false because ordinals are bounded by the identifier
// list, far below the values whose encoding leads with 0xff.
func (c *enumCodec) MayStartWithFF() bool { return false }
