package db

import (
	"sort"

	"github.com/permazen/objdb/pkg/types"
)

// CreateListener observes object creation. Listeners fire synchronously
// in the mutating goroutine, in registration order, after the store
// mutation and before the operation returns.
type CreateListener func(tx *Transaction, id types.ObjId) error

// DeleteListener observes object deletion.
type DeleteListener func(tx *Transaction, id types.ObjId) error

// VersionChangeListener observes schema version migration. The removed
// map carries the prior values of fields dropped by the migration; the
// added map carries the initial (default) values of fields it
// introduced, both keyed by storage ID.
type VersionChangeListener func(tx *Transaction, id types.ObjId,
	oldVersion, newVersion uint32, removed, added map[uint32]any) error

// ChangeKind discriminates field mutations reported to monitors.
type ChangeKind int

const (
	ChangeSimple ChangeKind = iota
	ChangeSetAdd
	ChangeSetRemove
	ChangeListAppend
	ChangeListSet
	ChangeListRemove
	ChangeMapPut
	ChangeMapRemove
	ChangeCounterAdjust
)

// FieldChange describes one field mutation.
type FieldChange struct {
	Kind  ChangeKind
	Field uint32 // storage ID of the changed field
	Old   any    // prior value, when the kind has one
	New   any    // new value, when the kind has one; the delta for AdjustCounter
	Index int    // list index, for list kinds
	Key   any    // map key, for map kinds
}

// FieldChangeListener observes a field change from the perspective of a
// root object reached backwards over the monitor's reference path.
type FieldChangeListener func(tx *Transaction, root, changed types.ObjId, change FieldChange) error

// fieldMonitor is one registered path-based field monitor.
type fieldMonitor struct {
	fieldSID uint32
	path     []uint32 // reference field storage IDs, root first
	typeOK   map[uint32]bool
	listener FieldChangeListener
}

// AddCreateListener registers a create listener.
func (tx *Transaction) AddCreateListener(l CreateListener) {
	tx.createListeners = append(tx.createListeners, l)
}

// AddDeleteListener registers a delete listener.
func (tx *Transaction) AddDeleteListener(l DeleteListener) {
	tx.deleteListeners = append(tx.deleteListeners, l)
}

// AddVersionChangeListener registers a version-change listener.
func (tx *Transaction) AddVersionChangeListener(l VersionChangeListener) {
	tx.versionListeners = append(tx.versionListeners, l)
}

// MonitorField registers a path-based field monitor. The path lists the
// reference fields leading from a root object to the object owning the
// monitored field; an empty path observes changes on the changed object
// itself. objectTypes, when non-empty, restricts roots by object type.
func (tx *Transaction) MonitorField(fieldSID uint32, path []uint32, objectTypes []uint32, l FieldChangeListener) {
	m := &fieldMonitor{
		fieldSID: fieldSID,
		path:     append([]uint32{}, path...),
		listener: l,
	}
	if len(objectTypes) > 0 {
		m.typeOK = make(map[uint32]bool, len(objectTypes))
		for _, sid := range objectTypes {
			m.typeOK[sid] = true
		}
	}
	tx.monitors = append(tx.monitors, m)
	sort.SliceStable(tx.monitors, func(i, j int) bool {
		return len(tx.monitors[i].path) < len(tx.monitors[j].path)
	})
}

// notifyCreate fires create listeners. Snapshot transactions never fire
// callbacks.
func (tx *Transaction) notifyCreate(id types.ObjId) error {
	if tx.snapshot {
		return nil
	}
	for _, l := range tx.createListeners {
		if err := l(tx, id); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Transaction) notifyDelete(id types.ObjId) error {
	if tx.snapshot {
		return nil
	}
	for _, l := range tx.deleteListeners {
		if err := l(tx, id); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Transaction) notifyVersionChange(id types.ObjId, oldV, newV uint32, removed, added map[uint32]any) error {
	if tx.snapshot {
		return nil
	}
	for _, l := range tx.versionListeners {
		if err := l(tx, id, oldV, newV, removed, added); err != nil {
			return err
		}
	}
	return nil
}

// notifyFieldChange walks each matching monitor's reference path
// backwards from the changed object, collecting the roots from whose
// perspective the change is visible, and fires the listener exactly once
// per unique root. Monitors fire in path-length ascending order.
func (tx *Transaction) notifyFieldChange(changed types.ObjId, change FieldChange) error {
	if tx.snapshot || len(tx.monitors) == 0 {
		return nil
	}
	for _, m := range tx.monitors {
		if m.fieldSID != change.Field {
			continue
		}
		roots, err := tx.monitorRoots(m, changed)
		if err != nil {
			return err
		}
		for _, root := range roots {
			if err := m.listener(tx, root, changed, change); err != nil {
				return err
			}
		}
	}
	return nil
}

// monitorRoots resolves the root set of one monitor for a change on the
// given object, in identifier order.
func (tx *Transaction) monitorRoots(m *fieldMonitor, changed types.ObjId) ([]types.ObjId, error) {
	frontier := map[types.ObjId]bool{changed: true}
	for i := len(m.path) - 1; i >= 0; i-- {
		refSID := m.path[i]
		next := map[types.ObjId]bool{}
		for id := range frontier {
			referrers, err := tx.referrersVia(refSID, id)
			if err != nil {
				return nil, err
			}
			for _, r := range referrers {
				next[r.referrer] = true
			}
		}
		frontier = next
		if len(frontier) == 0 {
			return nil, nil
		}
	}
	roots := make([]types.ObjId, 0, len(frontier))
	for id := range frontier {
		if m.typeOK != nil && !m.typeOK[id.StorageID()] {
			continue
		}
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Compare(roots[j]) < 0 })
	return roots, nil
}
