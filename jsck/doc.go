// Package jsck implements the consistency checker for the object
// database's on-disk layout. Given a key/value transaction and a
// configuration, it scans the entire key space — format key, meta-data
// ranges, schema records, object data, index entries, and the
// object-version index — validating well-formedness against the recorded
// schemas, and optionally repairs what it finds.
//
// Per-entry problems are reported as issues, never as errors: the scan
// keeps going until the configured issue limit. Errors are reserved for
// unrecoverable situations (unreadable format version, mutually
// inconsistent schemas without overrides).
package jsck
