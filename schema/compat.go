package schema

import (
	"sort"

	"github.com/permazen/objdb/pkg/types"
)

// Compatible checks the cross-version compatibility rule between two
// validated schemas: every storage ID appearing in both must have the
// same structural role and encoding identity. Names, index flags, and
// reference delete policies are allowed to differ.
func Compatible(a, b *Schema) error {
	for sid, ia := range a.byStorageID {
		ib, shared := b.byStorageID[sid]
		if !shared {
			continue
		}
		sa, sb := roleSignature(ia), roleSignature(ib)
		if sa != sb {
			return types.Errorf(types.ErrKindSchemaMismatch,
				"storage ID %d is %s in one version and %s in another", sid, sa, sb)
		}
	}
	return nil
}

// ValidateSet checks every pair of a version-keyed schema set for mutual
// compatibility.
func ValidateSet(byVersion map[uint32]*Schema) error {
	versions := make([]uint32, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i, va := range versions {
		for _, vb := range versions[i+1:] {
			if err := Compatible(byVersion[va], byVersion[vb]); err != nil {
				return types.Wrap(types.ErrKindSchemaMismatch, err,
					"schema versions %d and %d are incompatible", va, vb)
			}
		}
	}
	return nil
}

// FieldDiff describes the field changes applied when an object moves
// between schema versions.
type FieldDiff struct {
	// Removed lists fields of the source version absent from the target,
	// keyed by storage ID.
	Removed map[uint32]*Field
	// Added lists fields of the target version absent from the source.
	Added map[uint32]*Field
}

// DiffType computes the per-type field diff between two versions of one
// object type. Either argument may be nil, meaning the type does not
// exist in that version.
func DiffType(from, to *ObjectType) FieldDiff {
	d := FieldDiff{Removed: map[uint32]*Field{}, Added: map[uint32]*Field{}}
	if from != nil {
		for sid, f := range from.Fields {
			if to == nil || to.Fields[sid] == nil {
				d.Removed[sid] = f
			}
		}
	}
	if to != nil {
		for sid, f := range to.Fields {
			if from == nil || from.Fields[sid] == nil {
				d.Added[sid] = f
			}
		}
	}
	return d
}
