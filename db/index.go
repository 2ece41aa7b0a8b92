package db

import (
	"fmt"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Index is an immutable, navigable view over one index's key range. A
// view carries a key prefix (the index storage ID plus any pinned leading
// values), the codecs of the remaining key positions, and optional
// per-position filters. Deriving a narrower view never touches the
// store; only iteration does, as a bounded range scan.
type Index struct {
	tx      *Transaction
	name    string
	prefix  []byte
	codecs  []codec.Codec
	objPos  int // position of the object ID among remaining codecs, -1 if pinned away
	filters [][]func(any) bool
	min     []byte // extra lower bound within the prefix range (nil = none)
	max     []byte // extra upper bound, exclusive (nil = none)
}

// uvarintCodec decodes the list-index key position. It is internal to
// index views; list indexes are not a schema value type.
type uvarintCodec struct{}

func (uvarintCodec) Name() string { return "listIndex" }

func (uvarintCodec) Read(*codec.Reader) (any, error) {
	return nil, fmt.Errorf("listIndex: decoded by the view, not the codec")
}

func (uvarintCodec) Write(*codec.Writer, any) error { return fmt.Errorf("listIndex: not writable") }
func (uvarintCodec) Skip(*codec.Reader) error       { return fmt.Errorf("listIndex: not skippable") }
func (uvarintCodec) Compare(a, b any) int {
	x, y := a.(int), b.(int)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
func (uvarintCodec) Validate(v any) (any, error) { return v, nil }
func (uvarintCodec) Default() any                { return 0 }
func (uvarintCodec) MayStartWith00() bool        { return false }
func (uvarintCodec) MayStartWithFF() bool        { return false }

// QueryIndex builds a view over the index owned by a storage ID: an
// indexed simple field, an indexed complex sub-field, or a composite
// index.
func (tx *Transaction) QueryIndex(storageID uint32) (*Index, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	sch := tx.schema
	if ix, _, ok := sch.LookupIndex(storageID); ok {
		ot, _ := sch.ObjectType(ixOwner(sch, storageID))
		codecs := make([]codec.Codec, 0, len(ix.Fields)+1)
		for _, sid := range ix.Fields {
			codecs = append(codecs, ot.Fields[sid].Codec())
		}
		codecs = append(codecs, codec.ObjId)
		return tx.newIndexView(ix.Name, storageID, codecs, len(ix.Fields)), nil
	}

	f, _, ok := sch.LookupField(storageID)
	if !ok {
		return nil, types.Errorf(types.ErrKindUnknownIndex,
			"storage ID %d names no index in schema version %d", storageID, tx.version)
	}
	if !f.HasCodec() || !f.Indexed {
		return nil, types.Errorf(types.ErrKindUnknownIndex,
			"field %d is not indexed", storageID)
	}
	parent := sch.LookupParent(storageID)
	switch {
	case parent == nil, parent.Kind == schema.KindSet,
		f.Role == schema.RoleMapKey:
		// Single value position, then the object ID.
		return tx.newIndexView(f.Name, storageID,
			[]codec.Codec{f.Codec(), codec.ObjId}, 1), nil
	case parent.Kind == schema.KindList:
		// List element entries carry the list index after the object ID.
		return tx.newIndexView(f.Name, storageID,
			[]codec.Codec{f.Codec(), codec.ObjId, uvarintCodec{}}, 1), nil
	default:
		// Map value entries carry the encoded map key after the object ID.
		return tx.newIndexView(f.Name, storageID,
			[]codec.Codec{f.Codec(), codec.ObjId, parent.Key.Codec()}, 1), nil
	}
}

// VersionIndex builds a view over the object-version index. Positions
// are the schema version and the object ID.
func (tx *Transaction) VersionIndex() (*Index, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	return &Index{
		tx:      tx,
		name:    "objectVersion",
		prefix:  append([]byte{}, format.VersionIndexPrefix...),
		codecs:  []codec.Codec{versionCodec{}, codec.ObjId},
		objPos:  1,
		filters: make([][]func(any) bool, 2),
	}, nil
}

// versionCodec decodes the schema version key position.
type versionCodec struct{ uvarintCodec }

func (versionCodec) Name() string { return "schemaVersion" }

func (tx *Transaction) newIndexView(name string, sid uint32, codecs []codec.Codec, objPos int) *Index {
	return &Index{
		tx:      tx,
		name:    name,
		prefix:  format.StorageIDPrefix(sid),
		codecs:  codecs,
		objPos:  objPos,
		filters: make([][]func(any) bool, len(codecs)),
	}
}

// Positions returns the number of unpinned key positions.
func (ix *Index) Positions() int { return len(ix.codecs) }

// Narrow pins the first unpinned position to an exact value, returning
// the derived sub-index view. Narrowing past a Range or filter on the
// first position is rejected.
func (ix *Index) Narrow(v any) (*Index, error) {
	if len(ix.codecs) == 0 {
		return nil, types.Errorf(types.ErrKindUnknownIndex, "index %s: nothing left to narrow", ix.name)
	}
	if ix.min != nil || ix.max != nil || len(ix.filters[0]) > 0 {
		return nil, types.Errorf(types.ErrKindUnknownIndex,
			"index %s: cannot narrow a position already restricted", ix.name)
	}
	enc, err := ix.encodePosition(0, v)
	if err != nil {
		return nil, err
	}
	derived := &Index{
		tx:      ix.tx,
		name:    ix.name,
		prefix:  append(append([]byte{}, ix.prefix...), enc...),
		codecs:  ix.codecs[1:],
		objPos:  ix.objPos - 1,
		filters: ix.filters[1:],
	}
	return derived, nil
}

// encodePosition encodes a value for one key position.
func (ix *Index) encodePosition(pos int, v any) ([]byte, error) {
	switch ix.codecs[pos].(type) {
	case uvarintCodec, versionCodec:
		i, err := toNonNegativeInt(v)
		if err != nil {
			return nil, err
		}
		return format.AppendUvarint(nil, i), nil
	default:
		return codec.Encode(ix.codecs[pos], v)
	}
}

// Range restricts the first unpinned position to [min, max); either
// bound may be nil for open. The restriction becomes the scan's key
// bounds, never a client-side filter.
func (ix *Index) Range(min, max any) (*Index, error) {
	derived := ix.clone()
	if min != nil {
		enc, err := ix.encodePosition(0, min)
		if err != nil {
			return nil, err
		}
		derived.min = enc
	}
	if max != nil {
		enc, err := ix.encodePosition(0, max)
		if err != nil {
			return nil, err
		}
		derived.max = enc
	}
	return derived, nil
}

// Filter adds a predicate on one position. Filters on the same position
// compose as intersection.
func (ix *Index) Filter(pos int, pred func(any) bool) *Index {
	derived := ix.clone()
	derived.filters[pos] = append(append([]func(any) bool{}, ix.filters[pos]...), pred)
	return derived
}

func (ix *Index) clone() *Index {
	filters := make([][]func(any) bool, len(ix.filters))
	copy(filters, ix.filters)
	return &Index{
		tx:      ix.tx,
		name:    ix.name,
		prefix:  ix.prefix,
		codecs:  ix.codecs,
		objPos:  ix.objPos,
		filters: filters,
		min:     ix.min,
		max:     ix.max,
	}
}

// Iterate scans the view's key range. Entries decode every unpinned
// position; filtered entries are skipped.
func (ix *Index) Iterate(reverse bool) *IndexIterator {
	min, max := kv.PrefixRange(ix.prefix)
	if ix.min != nil {
		min = append(append([]byte{}, ix.prefix...), ix.min...)
	}
	if ix.max != nil {
		max = append(append([]byte{}, ix.prefix...), ix.max...)
	}
	return &IndexIterator{
		view: ix,
		iter: ix.tx.kvst.GetRange(min, max, reverse),
	}
}

// GetAll returns the object IDs indexed under an exact value, in
// identifier order.
func (ix *Index) GetAll(v any) ([]types.ObjId, error) {
	sub, err := ix.Narrow(v)
	if err != nil {
		return nil, err
	}
	iter := sub.Iterate(false)
	defer iter.Close()
	var out []types.ObjId
	seen := map[types.ObjId]bool{}
	for iter.Next() {
		id, ok := iter.ObjId()
		if !ok {
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, iter.Err()
}

// IndexIterator walks decoded index entries.
type IndexIterator struct {
	view  *Index
	iter  kv.Iterator
	entry []any
	err   error
}

// Next advances to the next entry passing every filter.
func (it *IndexIterator) Next() bool {
	if it.err != nil {
		return false
	}
entries:
	for it.iter.Next() {
		key := it.iter.Key()
		rest := key[len(it.view.prefix):]
		entry, err := it.view.decodePositions(rest)
		if err != nil {
			it.err = types.Wrap(types.ErrKindInconsistent, err,
				"malformed index entry % x", key)
			return false
		}
		for pos, preds := range it.view.filters {
			for _, pred := range preds {
				if !pred(entry[pos]) {
					continue entries
				}
			}
		}
		it.entry = entry
		return true
	}
	return false
}

// decodePositions decodes the unpinned key positions from an entry's
// trailing bytes.
func (ix *Index) decodePositions(rest []byte) ([]any, error) {
	r := codec.NewReader(rest)
	entry := make([]any, len(ix.codecs))
	for pos, c := range ix.codecs {
		switch c.(type) {
		case uvarintCodec, versionCodec:
			raw, err := r.ReadBytes(r.Remaining())
			if err != nil {
				return nil, err
			}
			v, n, err := format.Uvarint(raw)
			if err != nil {
				return nil, err
			}
			// Put back anything after the varint.
			r = codec.NewReader(raw[n:])
			if _, isVersion := c.(versionCodec); isVersion {
				entry[pos] = uint32(v)
			} else {
				entry[pos] = int(v)
			}
		default:
			v, err := c.Read(r)
			if err != nil {
				return nil, err
			}
			entry[pos] = v
		}
	}
	if r.Remaining() != 0 {
		return nil, format.ErrInvalidEncoding
	}
	return entry, nil
}

// Entry returns the current entry's position values.
func (it *IndexIterator) Entry() []any { return it.entry }

// ObjId returns the current entry's object ID, when the view still
// carries the object position.
func (it *IndexIterator) ObjId() (types.ObjId, bool) {
	if it.view.objPos < 0 || it.view.objPos >= len(it.entry) {
		return 0, false
	}
	id, ok := it.entry[it.view.objPos].(types.ObjId)
	return id, ok
}

// Err returns the first decoding error encountered.
func (it *IndexIterator) Err() error { return it.err }

// Close releases the iterator.
func (it *IndexIterator) Close() error { return it.iter.Close() }

// ixOwner finds the object type owning a composite index storage ID.
func ixOwner(sch *schema.Schema, indexSID uint32) uint32 {
	_, ot, _ := sch.LookupIndex(indexSID)
	return ot.StorageID
}

func toNonNegativeInt(v any) (uint64, error) {
	switch x := v.(type) {
	case int:
		if x < 0 {
			return 0, fmt.Errorf("negative index %d", x)
		}
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	default:
		return 0, fmt.Errorf("value of type %T is not an index", v)
	}
}
