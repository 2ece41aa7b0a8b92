package codec

import (
	"fmt"
	"strings"
)

// tupleCodec concatenates the encodings of a fixed arity of element
// codecs. Composition is only permitted when no element's encoding can
// collide with the prefix of its successor; because every built-in codec
// is self-delimiting and prefix-free, the one check needed is performed
// by NewTuple.
type tupleCodec struct {
	name  string
	elems []Codec
}

// NewTuple builds a codec over 2 to 5 element codecs. Values are []any
// slices of the element arity.
func NewTuple(elems ...Codec) (Codec, error) {
	if len(elems) < 2 || len(elems) > 5 {
		return nil, fmt.Errorf("tuple: arity %d not in 2..5", len(elems))
	}
	names := make([]string, len(elems))
	for i, e := range elems {
		names[i] = e.Name()
	}
	return tupleCodec{
		name:  "tuple<" + strings.Join(names, ",") + ">",
		elems: elems,
	}, nil
}

func (c tupleCodec) Name() string { return c.name }

func (c tupleCodec) Read(r *Reader) (any, error) {
	out := make([]any, len(c.elems))
	for i, e := range c.elems {
		v, err := e.Read(r)
		if err != nil {
			return nil, fmt.Errorf("%s: element %d: %w", c.name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (c tupleCodec) Write(w *Writer, v any) error {
	vals := v.([]any)
	for i, e := range c.elems {
		if err := e.Write(w, vals[i]); err != nil {
			return fmt.Errorf("%s: element %d: %w", c.name, i, err)
		}
	}
	return nil
}

func (c tupleCodec) Skip(r *Reader) error {
	for i, e := range c.elems {
		if err := e.Skip(r); err != nil {
			return fmt.Errorf("%s: element %d: %w", c.name, i, err)
		}
	}
	return nil
}

func (c tupleCodec) Compare(a, b any) int {
	x, y := a.([]any), b.([]any)
	for i, e := range c.elems {
		if cmp := e.Compare(x[i], y[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func (c tupleCodec) Validate(v any) (any, error) {
	vals, ok := v.([]any)
	if !ok || len(vals) != len(c.elems) {
		return nil, fmt.Errorf("%s: value of type %T is not a %d-tuple", c.name, v, len(c.elems))
	}
	out := make([]any, len(vals))
	for i, e := range c.elems {
		ev, err := e.Validate(vals[i])
		if err != nil {
			return nil, fmt.Errorf("%s: element %d: %w", c.name, i, err)
		}
		out[i] = ev
	}
	return out, nil
}

func (c tupleCodec) Default() any {
	out := make([]any, len(c.elems))
	for i, e := range c.elems {
		out[i] = e.Default()
	}
	return out
}

func (c tupleCodec) MayStartWith00() bool { return c.elems[0].MayStartWith00() }
func (c tupleCodec) MayStartWithFF() bool { return c.elems[0].MayStartWithFF() }
