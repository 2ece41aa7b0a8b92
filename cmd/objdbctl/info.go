package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permazen/objdb/internal/format"
	"github.com/permazen/objdb/kv"
)

var infoFlags struct {
	db string
}

func init() {
	cmd := newInfoCmd()
	cmd.Flags().StringVar(&infoFlags.db, "db", "", "Database directory")
	rootCmd.AddCommand(cmd)
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info --db <dir>",
		Short: "Print database format and schema summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
}

func runInfo() error {
	bdb, store, err := openStore(infoFlags.db)
	if err != nil {
		return err
	}
	defer bdb.Close()
	defer store.Rollback()

	val, err := store.Get(format.FormatVersionKey)
	if err != nil {
		return err
	}
	if val == nil {
		printInfo("store is not an initialized object database\n")
		return nil
	}
	fv, _, err := format.Uvarint(val)
	if err != nil {
		return fmt.Errorf("corrupt format version value")
	}
	printInfo("format version: %d\n", fv)

	min, max := kv.PrefixRange(format.SchemaKeyPrefix)
	iter := store.GetRange(min, max, false)
	defer iter.Close()
	for iter.Next() {
		key := iter.Key()
		version, _, err := format.Uvarint(key[len(format.SchemaKeyPrefix):])
		if err != nil {
			printInfo("schema record with malformed key % x\n", key)
			continue
		}
		xmlBytes, err := format.DecodeSchemaXML(iter.Value(), int(fv))
		if err != nil {
			printInfo("schema version %d: undecodable (%v)\n", version, err)
			continue
		}
		printInfo("schema version %d: %d bytes of XML (%d stored)\n",
			version, len(xmlBytes), len(iter.Value()))
	}
	return iter.Close()
}
