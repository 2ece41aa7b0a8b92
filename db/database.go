package db

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Config carries process-wide database settings.
type Config struct {
	// Registry resolves codec names in schema documents. Defaults to the
	// built-in registry.
	Registry *codec.Registry

	// Logger, when set, receives open and initialization events. The
	// runtime itself never logs.
	Logger *zap.Logger

	// Rand supplies object ID suffixes. Defaults to a shared
	// pseudo-random source; tests inject a deterministic one.
	Rand func() uint64
}

// TxConfig selects the schema context of one transaction.
type TxConfig struct {
	// Schema is the caller-supplied schema model. When nil the highest
	// recorded version is used.
	Schema *schema.Schema

	// Version is the schema version to bind the transaction to. Zero
	// means the highest recorded version, or the version under which
	// Schema is being recorded.
	Version uint32

	// AllowNewSchema permits recording Schema under a version not yet in
	// the database.
	AllowNewSchema bool
}

// Database is the facade over one key/value backend. It validates the
// store's format, reconciles recorded schemas, and produces transactions.
// A Database is safe for use from multiple goroutines; the transactions
// it produces are not.
type Database struct {
	backend kv.Database
	reg     *codec.Registry
	logger  *zap.Logger
	rand    func() uint64

	mu    sync.Mutex
	cache *schemaCache
}

// schemaCache holds the validated schema set from the last reconcile,
// reused while the recorded bytes are unchanged.
type schemaCache struct {
	raw    map[uint32][]byte
	parsed map[uint32]*schema.Schema
}

// New creates a database facade over a backend. The store is not touched
// until the first transaction is opened.
func New(backend kv.Database, cfg Config) *Database {
	if cfg.Registry == nil {
		cfg.Registry = codec.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Uint64
	}
	return &Database{
		backend: backend,
		reg:     cfg.Registry,
		logger:  cfg.Logger,
		rand:    cfg.Rand,
	}
}

// Registry returns the codec registry the database resolves schemas with.
func (db *Database) Registry() *codec.Registry { return db.reg }

// CreateTransaction opens a live transaction. The store is verified,
// lazily initialized when completely empty, and the recorded schema set
// is loaded and reconciled before the transaction is returned.
func (db *Database) CreateTransaction(cfg TxConfig) (*Transaction, error) {
	kvst := db.backend.Begin()
	tx, err := db.openTransaction(kvst, cfg, false)
	if err != nil {
		_ = kvst.Rollback()
		return nil, err
	}
	return tx, nil
}

// CreateSnapshotTransaction opens a snapshot transaction over a detached
// view of the store. Snapshot transactions never commit or roll back and
// fire no listeners.
func (db *Database) CreateSnapshotTransaction(cfg TxConfig) (*Transaction, error) {
	return db.openTransaction(db.backend.Snapshot(), cfg, true)
}

func (db *Database) openTransaction(kvst kv.Store, cfg TxConfig, snapshot bool) (*Transaction, error) {
	if err := db.checkFormat(kvst); err != nil {
		return nil, err
	}
	schemas, raw, err := db.loadSchemas(kvst)
	if err != nil {
		return nil, err
	}

	version := cfg.Version
	if cfg.Schema != nil {
		// Work on copies: the loaded maps may be shared with other open
		// transactions via the schema cache.
		schemas = copyMap(schemas)
		raw = copyMap(raw)
		version, err = db.registerSchema(kvst, schemas, raw, cfg)
		if err != nil {
			return nil, err
		}
	} else if version == 0 {
		for v := range schemas {
			if v > version {
				version = v
			}
		}
	}
	if version == 0 {
		return nil, types.Errorf(types.ErrKindSchemaMismatch,
			"database contains no schema versions and none was supplied")
	}
	bound, ok := schemas[version]
	if !ok {
		return nil, types.Errorf(types.ErrKindSchemaMismatch,
			"schema version %d is not recorded", version)
	}

	return &Transaction{
		db:       db,
		kvst:     kvst,
		schemas:  schemas,
		version:  version,
		schema:   bound,
		snapshot: snapshot,
		state:    txOpen,
	}, nil
}

// checkFormat verifies the format version key, initializing a completely
// empty store on first use. A non-empty store without the key is
// corrupt, never silently adopted.
func (db *Database) checkFormat(kvst kv.Store) error {
	val, err := kvst.Get(format.FormatVersionKey)
	if err != nil {
		return fmt.Errorf("read format key: %w", err)
	}
	if val == nil {
		first, err := kvst.GetAtLeast(nil)
		if err != nil {
			return fmt.Errorf("probe for emptiness: %w", err)
		}
		if first != nil {
			return types.Errorf(types.ErrKindInconsistent,
				"store is non-empty but contains no format version key")
		}
		db.logger.Info("initializing empty store",
			zap.Int("formatVersion", format.CurrentFormatVersion))
		return kvst.Put(format.FormatVersionKey,
			format.AppendUvarint(nil, format.CurrentFormatVersion))
	}
	ver, n, err := format.Uvarint(val)
	if err != nil || n != len(val) {
		return types.Errorf(types.ErrKindInconsistent, "corrupt format version value")
	}
	if ver != format.FormatVersion1 && ver != format.FormatVersion2 {
		return types.Errorf(types.ErrKindInconsistent, "unrecognized format version %d", ver)
	}
	return nil
}

// formatVersion reads the (already verified) format version.
func formatVersion(kvst kv.Store) (int, error) {
	val, err := kvst.Get(format.FormatVersionKey)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return 0, format.ErrNotInitialized
	}
	ver, _, err := format.Uvarint(val)
	if err != nil {
		return 0, err
	}
	return int(ver), nil
}

// loadSchemas reads, decodes, and validates every recorded schema
// version, checking the set for mutual compatibility. Identical raw
// bytes reuse the cached validated set.
func (db *Database) loadSchemas(kvst kv.Store) (map[uint32]*schema.Schema, map[uint32][]byte, error) {
	fv, err := formatVersion(kvst)
	if err != nil {
		return nil, nil, err
	}
	raw := map[uint32][]byte{}
	min, max := kv.PrefixRange(format.SchemaKeyPrefix)
	iter := kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		key := iter.Key()
		ver, n, err := format.Uvarint(key[len(format.SchemaKeyPrefix):])
		if err != nil || len(format.SchemaKeyPrefix)+n != len(key) {
			return nil, nil, types.Errorf(types.ErrKindInconsistent,
				"malformed schema record key % x", key)
		}
		raw[uint32(ver)] = append([]byte{}, iter.Value()...)
	}
	if err := iter.Close(); err != nil {
		return nil, nil, err
	}

	db.mu.Lock()
	cached := db.cache
	db.mu.Unlock()
	if cached != nil && sameRawSchemas(cached.raw, raw) {
		return cached.parsed, cached.raw, nil
	}

	parsed := map[uint32]*schema.Schema{}
	for ver, stored := range raw {
		xmlBytes, err := format.DecodeSchemaXML(stored, fv)
		if err != nil {
			return nil, nil, types.Wrap(types.ErrKindInconsistent, err,
				"schema version %d is undecodable", ver)
		}
		s, err := schema.Decode(xmlBytes)
		if err != nil {
			return nil, nil, types.Wrap(types.ErrKindInconsistent, err,
				"schema version %d", ver)
		}
		if err := schema.Validate(s, db.reg); err != nil {
			return nil, nil, types.Wrap(types.ErrKindInconsistent, err,
				"schema version %d", ver)
		}
		parsed[ver] = s
	}
	if err := schema.ValidateSet(parsed); err != nil {
		return nil, nil, err
	}

	db.mu.Lock()
	db.cache = &schemaCache{raw: raw, parsed: parsed}
	db.mu.Unlock()
	return parsed, raw, nil
}

// registerSchema reconciles a caller-supplied schema with the recorded
// set, recording it as a new version when permitted. It returns the
// version the transaction should bind to and updates schemas/raw in
// place when a version is added.
func (db *Database) registerSchema(kvst kv.Store, schemas map[uint32]*schema.Schema,
	raw map[uint32][]byte, cfg TxConfig) (uint32, error) {

	if err := schema.Validate(cfg.Schema, db.reg); err != nil {
		return 0, err
	}
	doc, err := schema.Encode(cfg.Schema)
	if err != nil {
		return 0, err
	}

	version := cfg.Version
	if version == 0 {
		// Recording without an explicit version: reuse a recorded version
		// with identical bytes, else claim highest+1.
		for v, stored := range raw {
			fv, err := formatVersion(kvst)
			if err != nil {
				return 0, err
			}
			xmlBytes, err := format.DecodeSchemaXML(stored, fv)
			if err != nil {
				return 0, err
			}
			if bytes.Equal(xmlBytes, doc) {
				return v, nil
			}
		}
		for v := range raw {
			if v >= version {
				version = v + 1
			}
		}
		if version == 0 {
			version = 1
		}
	}

	if stored, exists := raw[version]; exists {
		fv, err := formatVersion(kvst)
		if err != nil {
			return 0, err
		}
		xmlBytes, err := format.DecodeSchemaXML(stored, fv)
		if err != nil {
			return 0, err
		}
		if !bytes.Equal(xmlBytes, doc) {
			return 0, types.Errorf(types.ErrKindSchemaMismatch,
				"schema version %d is already recorded with different content", version)
		}
		return version, nil // idempotent re-registration
	}

	if !cfg.AllowNewSchema {
		return 0, types.Errorf(types.ErrKindSchemaMismatch,
			"schema version %d is not recorded and new schemas are not allowed", version)
	}
	for v, recorded := range schemas {
		if err := schema.Compatible(recorded, cfg.Schema); err != nil {
			return 0, types.Wrap(types.ErrKindSchemaMismatch, err,
				"incompatible with recorded schema version %d", v)
		}
	}

	fv, err := formatVersion(kvst)
	if err != nil {
		return 0, err
	}
	stored, err := format.EncodeSchemaXML(doc, fv)
	if err != nil {
		return 0, err
	}
	if err := kvst.Put(format.SchemaKey(version), stored); err != nil {
		return 0, fmt.Errorf("record schema version %d: %w", version, err)
	}
	db.logger.Info("recorded new schema version", zap.Uint32("version", version))
	schemas[version] = cfg.Schema
	raw[version] = stored

	// The recorded set changed; drop the cache so other transactions
	// reload it.
	db.mu.Lock()
	db.cache = nil
	db.mu.Unlock()
	return version, nil
}

func copyMap[V any](m map[uint32]V) map[uint32]V {
	out := make(map[uint32]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sameRawSchemas(a, b map[uint32][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for v, ab := range a {
		bb, ok := b[v]
		if !ok || !bytes.Equal(ab, bb) {
			return false
		}
	}
	return true
}
