// Package db implements the object database runtime: the database facade
// that validates and initializes a key/value store, and the transactions
// through which all object access flows.
//
// # Overview
//
// A Database wraps a kv.Database backend and a codec registry. Opening a
// transaction verifies the store's format version, loads and reconciles
// the recorded schema versions, optionally records a caller-supplied
// schema, and returns a Transaction bound to one schema version.
//
// Objects are addressed by 64-bit identifiers whose high bits name their
// type; fields are addressed by storage ID. The transaction translates
// every operation into ordered key/value reads and writes, maintaining
// secondary indexes and reference integrity along the way:
//
//	tx, err := database.CreateTransaction(db.TxConfig{...})
//	id, err := tx.Create(personTypeID)
//	err = tx.WriteSimple(id, nameFieldID, "Smith")
//	ix, err := tx.QueryIndex(nameFieldID)
//	ids, err := ix.GetAll("Smith")
//	err = tx.Commit()
//
// # Concurrency
//
// A Transaction, and every iterator, index view, and listener derived
// from it, is used by one goroutine at a time. Across transactions all
// isolation and ordering is delegated to the underlying store.
package db
