// Package schema models the database's type system: object types, their
// fields, and their composite indexes, identified by positive storage IDs
// and serialized as XML documents recorded in the database meta-data
// area.
//
// A database retains every schema version ever used. Validation happens
// in two stages: each schema document is validated independently
// (structure, storage ID ranges, codec resolution), and then the full set
// of recorded versions is checked for mutual compatibility — every
// storage ID shared between versions must keep the same structural role
// and encoding, while names, index flags, and delete actions are free to
// change.
package schema
