package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var schemaDumpOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect database schemas, tables and columns",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		schemas, err := e.Schema.Schemas(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, len(schemas))
		for i, s := range schemas {
			rows[i] = []string{s}
		}
		renderTable(cmd.OutOrStdout(), []string{"SCHEMA"}, rows)
		return nil
	},
}

var schemaTablesCmd = &cobra.Command{
	Use:   "tables <schema>",
	Short: "List tables and views of a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		tables, err := e.Schema.Tables(ctx, args[0])
		if err != nil {
			return err
		}
		rows := make([][]string, len(tables))
		for i, t := range tables {
			rows[i] = []string{t.Name, t.Type}
		}
		renderTable(cmd.OutOrStdout(), []string{"NAME", "TYPE"}, rows)
		return nil
	},
}

var schemaColumnsCmd = &cobra.Command{
	Use:   "columns <schema> <table>",
	Short: "List the columns of a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		cols, err := e.Schema.Columns(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		rows := make([][]string, len(cols))
		for i, c := range cols {
			nullable := "NO"
			if c.Nullable {
				nullable = "YES"
			}
			rows[i] = []string{c.Name, c.FullType, nullable, c.Default, c.Comment}
		}
		renderTable(cmd.OutOrStdout(), []string{"NAME", "TYPE", "NULLABLE", "DEFAULT", "COMMENT"}, rows)
		return nil
	},
}

var schemaDumpCmd = &cobra.Command{
	Use:   "dump <schema>",
	Short: "Write every table and column of a schema to YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Reading schema %s...\n", args[0])
		inv, err := e.Schema.Inventory(ctx, args[0])
		if err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		fmt.Fprintln(out, inv.Summary())

		path := schemaDumpOutput
		if path == "" {
			path = filepath.Join("output", args[0]+"-schema.yaml")
		}
		if err := inv.WriteYAML(path); err != nil {
			return fmt.Errorf("writing schema: %w", err)
		}
		fmt.Fprintf(out, "\nSchema written to %s\n", path)
		return nil
	},
}

func init() {
	schemaDumpCmd.Flags().StringVarP(&schemaDumpOutput, "output", "o", "", "output path (default: output/<schema>-schema.yaml)")
	schemaCmd.AddCommand(schemaListCmd, schemaTablesCmd, schemaColumnsCmd, schemaDumpCmd)
	rootCmd.AddCommand(schemaCmd)
}
