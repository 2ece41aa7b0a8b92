package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/permazen/objdb/codec"
	"github.com/permazen/objdb/kv"
	"github.com/permazen/objdb/kv/badgerkv"
)

var (
	// Global flags
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "objdbctl",
	Short: "Inspect and repair object databases stored in key/value stores",
	Long: `objdbctl is a tool for inspecting, checking, and repairing object
databases layered over an ordered key/value store. It understands the
database's binary key layout, schema records, and secondary indexes.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// registries names the codec registries selectable with --registry.
// Custom builds may add entries from an init function before execute
// runs.
var registries = map[string]func() *codec.Registry{
	"builtin": codec.NewRegistry,
}

func lookupRegistry(name string) (*codec.Registry, error) {
	factory, ok := registries[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec registry %q", name)
	}
	return factory(), nil
}

// openStore opens the Badger database backing the store.
func openStore(dir string) (*badgerkv.DB, kv.Store, error) {
	if dir == "" {
		return nil, nil, fmt.Errorf("no database directory given (use --db)")
	}
	bdb, err := badgerkv.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	return bdb, bdb.Begin(), nil
}
