package codec

import (
	"fmt"
)

// intArrayCodec encodes arrays of integral values as a sequence of
// variable-width signed encodings followed by a single 0x00 terminator.
// The terminator is unambiguous because those encodings never begin with
// 0x00. Shorter arrays that are prefixes of longer ones sort first, and
// element order decides the rest, matching slice comparison semantics.
type intArrayCodec struct {
	name string
	elem Codec // element codec for bounds checking
}

var (
	// Int8Array through Int64Array encode []int64 slices whose elements
	// fit the named width.
	Int8Array  Codec = intArrayCodec{name: "int8[]", elem: Int8}
	Int16Array Codec = intArrayCodec{name: "int16[]", elem: Int16}
	Int32Array Codec = intArrayCodec{name: "int32[]", elem: Int32}
	Int64Array Codec = intArrayCodec{name: "int64[]", elem: Int64}
)

func (c intArrayCodec) Name() string { return c.name }

func (c intArrayCodec) Read(r *Reader) (any, error) {
	out := []int64{}
	for {
		b, err := r.PeekByte()
		if err != nil {
			return nil, err
		}
		if b == 0x00 {
			_, _ = r.ReadByte()
			return out, nil
		}
		v, err := ReadVarLong(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (c intArrayCodec) Write(w *Writer, v any) error {
	for _, e := range v.([]int64) {
		w.Write(AppendVarLong(nil, e))
	}
	w.WriteByte(0x00)
	return nil
}

func (c intArrayCodec) Skip(r *Reader) error {
	for {
		b, err := r.PeekByte()
		if err != nil {
			return err
		}
		if b == 0x00 {
			_, _ = r.ReadByte()
			return nil
		}
		if err := SkipVarLong(r); err != nil {
			return err
		}
	}
}

func (c intArrayCodec) Compare(a, b any) int {
	return compareSlices(a.([]int64), b.([]int64), func(x, y int64) int {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	})
}

func (c intArrayCodec) Validate(v any) (any, error) {
	var raw []int64
	switch x := v.(type) {
	case []int64:
		raw = x
	case []int:
		raw = make([]int64, len(x))
		for i, e := range x {
			raw[i] = int64(e)
		}
	case nil:
		raw = nil
	default:
		return nil, fmt.Errorf("%s: value of type %T is not an integer slice", c.name, v)
	}
	out := make([]int64, len(raw))
	for i, e := range raw {
		ev, err := c.elem.Validate(e)
		if err != nil {
			return nil, fmt.Errorf("%s: element %d: %w", c.name, i, err)
		}
		out[i] = ev.(int64)
	}
	return out, nil
}

func (c intArrayCodec) Default() any         { return []int64{} }
func (c intArrayCodec) MayStartWith00() bool { return true } // empty array is the bare terminator
func (c intArrayCodec) MayStartWithFF() bool { return false }

// floatArrayCodec encodes arrays of floats as fixed-width ordered element
// encodings terminated by an all-zero element block. The all-zero block
// is not a valid element encoding here: Validate rejects the one NaN bit
// pattern that would produce it.
type floatArrayCodec struct {
	name string
	elem Codec
	wide int // element width in bytes
}

var (
	// Float32Array encodes []float32 values.
	Float32Array Codec = floatArrayCodec{name: "float32[]", elem: Float32, wide: 4}
	// Float64Array encodes []float64 values.
	Float64Array Codec = floatArrayCodec{name: "float64[]", elem: Float64, wide: 8}
)

func (c floatArrayCodec) Name() string { return c.name }

func (c floatArrayCodec) Read(r *Reader) (any, error) {
	switch c.wide {
	case 4:
		out := []float32{}
		for {
			block, err := r.ReadBytes(4)
			if err != nil {
				return nil, err
			}
			if allZero(block) {
				return out, nil
			}
			e, err := Float32.Read(NewReader(block))
			if err != nil {
				return nil, err
			}
			out = append(out, e.(float32))
		}
	default:
		out := []float64{}
		for {
			block, err := r.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			if allZero(block) {
				return out, nil
			}
			e, err := Float64.Read(NewReader(block))
			if err != nil {
				return nil, err
			}
			out = append(out, e.(float64))
		}
	}
}

func (c floatArrayCodec) Write(w *Writer, v any) error {
	switch vals := v.(type) {
	case []float32:
		for _, e := range vals {
			if err := Float32.Write(w, e); err != nil {
				return err
			}
		}
	case []float64:
		for _, e := range vals {
			if err := Float64.Write(w, e); err != nil {
				return err
			}
		}
	}
	w.Write(make([]byte, c.wide))
	return nil
}

func (c floatArrayCodec) Skip(r *Reader) error {
	for {
		block, err := r.ReadBytes(c.wide)
		if err != nil {
			return err
		}
		if allZero(block) {
			return nil
		}
	}
}

func (c floatArrayCodec) Compare(a, b any) int {
	if c.wide == 4 {
		return compareSlices(a.([]float32), b.([]float32), func(x, y float32) int {
			return Float32.Compare(x, y)
		})
	}
	return compareSlices(a.([]float64), b.([]float64), func(x, y float64) int {
		return Float64.Compare(x, y)
	})
}

func (c floatArrayCodec) Validate(v any) (any, error) {
	reserved := func(i int, enc []byte) error {
		if allZero(enc) {
			return fmt.Errorf("%s: element %d encodes to the reserved terminator block", c.name, i)
		}
		return nil
	}
	switch x := v.(type) {
	case []float32:
		if c.wide != 4 {
			return nil, fmt.Errorf("%s: value of type %T has wrong element width", c.name, v)
		}
		out := make([]float32, len(x))
		copy(out, x)
		for i, e := range out {
			enc, err := Encode(Float32, e)
			if err != nil {
				return nil, err
			}
			if err := reserved(i, enc); err != nil {
				return nil, err
			}
		}
		return out, nil
	case []float64:
		if c.wide != 8 {
			return nil, fmt.Errorf("%s: value of type %T has wrong element width", c.name, v)
		}
		out := make([]float64, len(x))
		copy(out, x)
		for i, e := range out {
			enc, err := Encode(Float64, e)
			if err != nil {
				return nil, err
			}
			if err := reserved(i, enc); err != nil {
				return nil, err
			}
		}
		return out, nil
	case nil:
		if c.wide == 4 {
			return []float32{}, nil
		}
		return []float64{}, nil
	default:
		return nil, fmt.Errorf("%s: value of type %T is not a float slice", c.name, v)
	}
}

func (c floatArrayCodec) Default() any {
	if c.wide == 4 {
		return []float32{}
	}
	return []float64{}
}

func (c floatArrayCodec) MayStartWith00() bool { return true }
func (c floatArrayCodec) MayStartWithFF() bool { return true }

// objectArrayCodec encodes arrays of arbitrary element codecs. When the
// element codec cannot begin with 0x00, elements are written inline and
// a single 0x00 terminates the array. Otherwise each element is framed
// with a 0x01 byte so the 0x00 terminator stays unambiguous.
type objectArrayCodec struct {
	name   string
	elem   Codec
	framed bool
}

// NewObjectArray builds an array codec over an arbitrary element codec.
// The element codec must not produce encodings beginning with 0xff.
func NewObjectArray(elem Codec) (Codec, error) {
	if elem.MayStartWithFF() {
		return nil, fmt.Errorf("array: element codec %s may start with 0xff", elem.Name())
	}
	return objectArrayCodec{
		name:   elem.Name() + "[]",
		elem:   elem,
		framed: elem.MayStartWith00(),
	}, nil
}

func (c objectArrayCodec) Name() string { return c.name }

func (c objectArrayCodec) Read(r *Reader) (any, error) {
	out := []any{}
	for {
		b, err := r.PeekByte()
		if err != nil {
			return nil, err
		}
		if b == 0x00 {
			_, _ = r.ReadByte()
			return out, nil
		}
		if c.framed {
			if err := expectByte(r, 0x01, c.name); err != nil {
				return nil, err
			}
		}
		e, err := c.elem.Read(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

func (c objectArrayCodec) Write(w *Writer, v any) error {
	for _, e := range v.([]any) {
		if c.framed {
			w.WriteByte(0x01)
		}
		if err := c.elem.Write(w, e); err != nil {
			return err
		}
	}
	w.WriteByte(0x00)
	return nil
}

func (c objectArrayCodec) Skip(r *Reader) error {
	for {
		b, err := r.PeekByte()
		if err != nil {
			return err
		}
		if b == 0x00 {
			_, _ = r.ReadByte()
			return nil
		}
		if c.framed {
			if err := expectByte(r, 0x01, c.name); err != nil {
				return err
			}
		}
		if err := c.elem.Skip(r); err != nil {
			return err
		}
	}
}

func (c objectArrayCodec) Compare(a, b any) int {
	return compareSlices(a.([]any), b.([]any), c.elem.Compare)
}

func (c objectArrayCodec) Validate(v any) (any, error) {
	raw, ok := v.([]any)
	if !ok {
		if v == nil {
			return []any{}, nil
		}
		return nil, fmt.Errorf("%s: value of type %T is not a slice", c.name, v)
	}
	out := make([]any, len(raw))
	for i, e := range raw {
		ev, err := c.elem.Validate(e)
		if err != nil {
			return nil, fmt.Errorf("%s: element %d: %w", c.name, i, err)
		}
		out[i] = ev
	}
	return out, nil
}

func (c objectArrayCodec) Default() any         { return []any{} }
func (c objectArrayCodec) MayStartWith00() bool { return true }
func (c objectArrayCodec) MayStartWithFF() bool { return false }

func compareSlices[T any](a, b []T, cmp func(T, T) int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := cmp(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
