package codec

import "fmt"

// Registry resolves the codec identifiers appearing in schema XML to
// codec instances. A Registry is immutable once shared: build it, Add
// any custom codecs, then hand it to the database.
type Registry struct {
	byName map[string]Codec
}

// NewRegistry returns a registry pre-populated with every built-in codec.
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Codec{}}
	for _, c := range []Codec{
		Bool, Char, Date, String, UUID,
		Int8, Int16, Int32, Int64,
		Float32, Float64,
		Int8Array, Int16Array, Int32Array, Int64Array,
		Float32Array, Float64Array,
	} {
		r.byName[c.Name()] = c
	}
	return r
}

// Add registers a custom codec under its name. Replacing a built-in or
// previously added codec is an error: recorded schemas may already depend
// on its encoding.
func (r *Registry) Add(c Codec) error {
	if _, exists := r.byName[c.Name()]; exists {
		return fmt.Errorf("registry: codec %q already registered", c.Name())
	}
	r.byName[c.Name()] = c
	return nil
}

// Lookup resolves a codec name, reporting whether it is registered.
func (r *Registry) Lookup(name string) (Codec, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Names returns the registered codec names, unordered.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
