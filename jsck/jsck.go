package jsck

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/pkg/types"
	"github.com/permazen/objdb/schema"
)

// Config controls one checker run.
type Config struct {
	// MinKey and MaxKey scope the object and index scans to a key
	// range; nil means unbounded. Meta-data checks always run.
	MinKey, MaxKey []byte

	// Limit caps the number of reported issues; zero means unlimited.
	// When the limit is reached the scan stops and the report is marked
	// truncated.
	Limit int

	// Registry resolves codec names in recorded schemas. Defaults to
	// the built-in registry.
	Registry *codec.Registry

	// Repair applies each issue's resolution as it is found.
	Repair bool

	// GCSchemas deletes schema versions no object refers to.
	GCSchemas bool

	// ForceSchemas overrides or supplies schema documents by version,
	// taking precedence over (possibly corrupt) recorded ones.
	ForceSchemas map[uint32]*schema.Schema

	// ForceFormatVersion overrides a missing or corrupt format version
	// key; zero means no override.
	ForceFormatVersion int

	// Logger receives per-phase progress. Defaults to a no-op logger.
	Logger *zap.Logger
}

// checker carries one run's state.
type checker struct {
	kvst    kv.Store
	cfg     Config
	log     *zap.Logger
	schemas map[uint32]*schema.Schema
	report  *Report

	// objectVersions counts live objects per schema version, for the
	// GC-schemas pass.
	objectVersions map[uint32]int64
}

// errLimit is an internal sentinel unwinding the scan at the issue limit.
var errLimit = fmt.Errorf("jsck: issue limit reached")

// Check runs the consistency checker over a key/value transaction.
func Check(kvst kv.Store, cfg Config) (*Report, error) {
	if cfg.Registry == nil {
		cfg.Registry = codec.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &checker{
		kvst:           kvst,
		cfg:            cfg,
		log:            cfg.Logger,
		report:         &Report{Repaired: cfg.Repair},
		objectVersions: map[uint32]int64{},
	}

	if err := c.checkFormat(); err != nil {
		if err == errLimit {
			return c.report, nil
		}
		return c.report, err
	}
	if err := c.run(); err != nil && err != errLimit {
		return c.report, err
	}
	return c.report, nil
}

func (c *checker) run() error {
	if err := c.checkEmptyMetaRanges(); err != nil {
		return err
	}
	if err := c.loadSchemas(); err != nil {
		return err
	}
	if err := c.scanObjects(); err != nil {
		return err
	}
	if err := c.scanIndexes(); err != nil {
		return err
	}
	if err := c.scanVersionIndex(); err != nil {
		return err
	}
	if c.cfg.GCSchemas {
		if err := c.gcSchemas(); err != nil {
			return err
		}
	}
	return nil
}

// issue records one inconsistency, repairing it when configured, and
// unwinds the scan at the issue limit.
func (c *checker) issue(i Issue) error {
	c.report.Issues = append(c.report.Issues, i)
	c.log.Debug("issue", zap.String("kind", i.Kind.String()), zap.String("detail", i.Detail))
	if c.cfg.Repair {
		var err error
		if i.NewValue == nil {
			err = c.kvst.Remove(i.Key)
		} else {
			err = c.kvst.Put(i.Key, i.NewValue)
		}
		if err != nil {
			return fmt.Errorf("repair key % x: %w", i.Key, err)
		}
	}
	if c.cfg.Limit > 0 && len(c.report.Issues) >= c.cfg.Limit {
		c.report.Truncated = true
		return errLimit
	}
	return nil
}

// checkFormat validates the format version key, applying the configured
// override when the key is missing or corrupt.
func (c *checker) checkFormat() error {
	val, err := c.kvst.Get(format.FormatVersionKey)
	if err != nil {
		return err
	}
	version := 0
	if val != nil {
		if v, n, err := format.Uvarint(val); err == nil && n == len(val) &&
			(v == format.FormatVersion1 || v == format.FormatVersion2) {
			version = int(v)
		}
	}
	if version == 0 {
		if c.cfg.ForceFormatVersion == 0 {
			return types.Errorf(types.ErrKindInconsistent,
				"format version key is missing or corrupt and no override was given")
		}
		version = c.cfg.ForceFormatVersion
		if err := c.issue(Issue{
			Kind:     InvalidValue,
			Key:      append([]byte{}, format.FormatVersionKey...),
			OldValue: val,
			NewValue: format.AppendUvarint(nil, uint64(version)),
			Detail:   fmt.Sprintf("format version forced to %d", version),
		}); err != nil {
			return err
		}
	}
	c.report.FormatVersion = version
	c.log.Info("format version verified", zap.Int("version", version))
	return nil
}

// checkEmptyMetaRanges flags any key in the meta-data area that belongs
// to none of its defined sub-ranges. The user range 0x00 0xff is
// application-owned and skipped.
func (c *checker) checkEmptyMetaRanges() error {
	type span struct {
		min, max []byte // [min, max) that must be empty
		what     string
	}
	schemaMin, schemaMax := kv.PrefixRange(format.SchemaKeyPrefix)
	versionMin, versionMax := kv.PrefixRange(format.VersionIndexPrefix)
	spans := []span{
		{format.MetaPrefix, format.FormatVersionKey, "before the format version key"},
		{kv.KeyAfter(format.FormatVersionKey), schemaMin, "between format key and schema records"},
		{schemaMax, versionMin, "between schema records and object-version index"},
		{versionMax, append([]byte{}, format.UserMetaPrefix...), "between object-version index and user range"},
	}
	for _, s := range spans {
		iter := c.kvst.GetRange(s.min, s.max, false)
		for iter.Next() {
			err := c.issue(Issue{
				Kind:     InvalidKey,
				Key:      append([]byte{}, iter.Key()...),
				OldValue: append([]byte{}, iter.Value()...),
				Detail:   "unexpected key " + s.what,
			})
			if err != nil {
				_ = iter.Close()
				return err
			}
		}
		if err := iter.Close(); err != nil {
			return err
		}
	}
	return nil
}

// loadSchemas decodes every recorded schema, applies forced overrides,
// validates each, and validates the set. Inconsistency without an
// override aborts the run.
func (c *checker) loadSchemas() error {
	c.schemas = map[uint32]*schema.Schema{}
	min, max := kv.PrefixRange(format.SchemaKeyPrefix)
	iter := c.kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		key := iter.Key()
		ver, n, err := format.Uvarint(key[len(format.SchemaKeyPrefix):])
		if err != nil || len(format.SchemaKeyPrefix)+n != len(key) {
			if err := c.issue(Issue{
				Kind:     InvalidKey,
				Key:      append([]byte{}, key...),
				OldValue: append([]byte{}, iter.Value()...),
				Detail:   "malformed schema record key",
			}); err != nil {
				return err
			}
			continue
		}
		version := uint32(ver)
		if _, forced := c.cfg.ForceSchemas[version]; forced {
			continue // override replaces the recorded document
		}
		xmlBytes, err := format.DecodeSchemaXML(iter.Value(), c.report.FormatVersion)
		if err != nil {
			return types.Wrap(types.ErrKindInconsistent, err,
				"schema version %d is undecodable and not overridden", version)
		}
		s, err := schema.Decode(xmlBytes)
		if err == nil {
			err = schema.Validate(s, c.cfg.Registry)
		}
		if err != nil {
			return types.Wrap(types.ErrKindInconsistent, err,
				"schema version %d is invalid and not overridden", version)
		}
		c.schemas[version] = s
	}
	if err := iter.Close(); err != nil {
		return err
	}

	for version, s := range c.cfg.ForceSchemas {
		forced := s
		if err := schema.Validate(forced, c.cfg.Registry); err != nil {
			return fmt.Errorf("forced schema version %d: %w", version, err)
		}
		c.schemas[version] = forced
	}
	if err := schema.ValidateSet(c.schemas); err != nil {
		return types.Wrap(types.ErrKindInconsistent, err,
			"recorded schema versions are mutually incompatible")
	}

	for v := range c.schemas {
		c.report.SchemaVersions = append(c.report.SchemaVersions, v)
	}
	sort.Slice(c.report.SchemaVersions, func(i, j int) bool {
		return c.report.SchemaVersions[i] < c.report.SchemaVersions[j]
	})
	c.log.Info("schemas validated", zap.Int("versions", len(c.schemas)))
	return nil
}

// inScope reports whether a key falls inside the configured scan range.
func (c *checker) inScope(key []byte) bool {
	return kv.Within(key, c.cfg.MinKey, c.cfg.MaxKey)
}

// scanVersionIndex verifies that every object-version index entry refers
// to a live object recording that version. The converse direction —
// every object has its entry — is covered by the object scan.
func (c *checker) scanVersionIndex() error {
	min, max := kv.PrefixRange(format.VersionIndexPrefix)
	iter := c.kvst.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		key := iter.Key()
		rest := key[len(format.VersionIndexPrefix):]
		ver, n, err := format.Uvarint(rest)
		if err != nil || len(rest) != n+8 {
			if err := c.issue(Issue{
				Kind:     InvalidKey,
				Key:      append([]byte{}, key...),
				Detail:   "malformed object-version index key",
				OldValue: append([]byte{}, iter.Value()...),
			}); err != nil {
				return err
			}
			continue
		}
		id, err := types.ParseObjId(rest[n:])
		if err != nil {
			if err := c.issue(Issue{
				Kind:   InvalidKey,
				Key:    append([]byte{}, key...),
				Detail: "object-version index entry has malformed object ID",
			}); err != nil {
				return err
			}
			continue
		}
		metaVal, err := c.kvst.Get(id.Bytes())
		if err != nil {
			return err
		}
		stale := metaVal == nil
		if !stale {
			if objVer, _, err := format.ParseObjectMetaValue(metaVal); err != nil || objVer != uint32(ver) {
				stale = true
			}
		}
		if stale {
			if err := c.issue(Issue{
				Kind:   InvalidKey,
				Key:    append([]byte{}, key...),
				Detail: fmt.Sprintf("object-version index entry for version %d names no such object %s", ver, id),
			}); err != nil {
				return err
			}
		}
	}
	return iter.Close()
}

// gcSchemas deletes schema version records no live object refers to.
func (c *checker) gcSchemas() error {
	for _, version := range c.report.SchemaVersions {
		if c.objectVersions[version] > 0 {
			continue
		}
		key := format.SchemaKey(version)
		val, err := c.kvst.Get(key)
		if err != nil {
			return err
		}
		if val == nil {
			continue // forced, never recorded
		}
		if err := c.issue(Issue{
			Kind:     InvalidKey,
			Key:      key,
			OldValue: val,
			Detail:   fmt.Sprintf("schema version %d has no objects; garbage-collected", version),
		}); err != nil {
			return err
		}
	}
	return nil
}
