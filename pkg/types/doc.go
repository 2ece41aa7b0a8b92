// Package types defines the small, copyable value types shared by every
// layer of the object database: object identifiers, reference delete
// actions, and the typed error taxonomy. It sits below the codec, schema,
// and runtime packages so that all of them can exchange identifiers and
// classify failures without import cycles.
package types
