package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/permazen/objdb/jsck"
	"github.com/permazen/objdb/schema"
)

var checkFlags struct {
	db            string
	repair        bool
	limit         int
	gcSchemas     bool
	registry      string
	forceSchemas  []string
	forceFormat   int
}

func init() {
	cmd := newCheckCmd()
	cmd.Flags().StringVar(&checkFlags.db, "db", "", "Database directory")
	cmd.Flags().BoolVar(&checkFlags.repair, "repair", false, "Repair issues as they are found")
	cmd.Flags().IntVar(&checkFlags.limit, "limit", 0, "Stop after N issues (0 = unlimited)")
	cmd.Flags().BoolVar(&checkFlags.gcSchemas, "gc-schemas", false, "Delete schema versions no object uses")
	cmd.Flags().StringVar(&checkFlags.registry, "registry", "builtin", "Codec registry to resolve schemas with")
	cmd.Flags().StringArrayVar(&checkFlags.forceSchemas, "force-schemas", nil,
		"Override a recorded schema: version=path-to-xml (repeatable)")
	cmd.Flags().IntVar(&checkFlags.forceFormat, "force-format-version", 0,
		"Assume this format version when the format key is missing or corrupt")
	rootCmd.AddCommand(cmd)
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check --db <dir>",
		Short: "Check database consistency, optionally repairing it",
		Long: `The check command scans the entire key space of an object database:
format version, meta-data ranges, schema records, object data, index
entries, and the object-version index. Detected issues are reported, and
with --repair, fixed in place.

The command exits zero when the scan completes, even with issues
reported; a non-zero exit means unrecoverable corruption or an I/O
failure.

Example:
  objdbctl check --db ./data
  objdbctl check --db ./data --repair --gc-schemas
  objdbctl check --db ./data --force-schemas 2=schema-v2.xml --repair`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
}

func runCheck() error {
	reg, err := lookupRegistry(checkFlags.registry)
	if err != nil {
		return err
	}
	forced, err := parseForcedSchemas(checkFlags.forceSchemas)
	if err != nil {
		return err
	}

	bdb, store, err := openStore(checkFlags.db)
	if err != nil {
		return err
	}
	defer bdb.Close()
	defer store.Rollback()

	logger := zap.NewNop()
	if verbose && !quiet {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	report, err := jsck.Check(store, jsck.Config{
		Limit:              checkFlags.limit,
		Registry:           reg,
		Repair:             checkFlags.repair,
		GCSchemas:          checkFlags.gcSchemas,
		ForceSchemas:       forced,
		ForceFormatVersion: checkFlags.forceFormat,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	if checkFlags.repair {
		if err := store.Commit(); err != nil {
			return fmt.Errorf("commit repairs: %w", err)
		}
	}

	printInfo("format version:   %d\n", report.FormatVersion)
	printInfo("schema versions:  %d\n", len(report.SchemaVersions))
	printInfo("objects scanned:  %d\n", report.ObjectsScanned)
	printInfo("index entries:    %d\n", report.IndexEntriesScanned)
	printInfo("issues found:     %d\n", len(report.Issues))
	for _, issue := range report.Issues {
		printInfo("  %s\n", issue)
	}
	if report.Truncated {
		printInfo("issue limit reached; scan incomplete\n")
	}
	if checkFlags.repair {
		printInfo("repairs applied\n")
	}
	return nil
}

// parseForcedSchemas parses repeated version=path flags into validated
// schema models.
func parseForcedSchemas(specs []string) (map[uint32]*schema.Schema, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := map[uint32]*schema.Schema{}
	for _, spec := range specs {
		eq := strings.IndexByte(spec, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed --force-schemas value %q (want version=path)", spec)
		}
		version, err := strconv.ParseUint(spec[:eq], 10, 32)
		if err != nil || version == 0 {
			return nil, fmt.Errorf("malformed schema version in %q", spec)
		}
		doc, err := os.ReadFile(spec[eq+1:])
		if err != nil {
			return nil, fmt.Errorf("read forced schema: %w", err)
		}
		s, err := schema.Decode(doc)
		if err != nil {
			return nil, fmt.Errorf("forced schema version %d: %w", version, err)
		}
		out[uint32(version)] = s
	}
	return out, nil
}
