package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/consistency"
)

var (
	metadataOutput            string
	metadataAllowInconsistent bool
)

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Export, replace, clear or reload the whole metadata",
}

var metadataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the current metadata document as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		doc, err := e.Consistency.Export(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, doc.Raw(), "", "  "); err != nil {
			return fmt.Errorf("formatting metadata: %w", err)
		}
		buf.WriteByte('\n')

		if metadataOutput == "" {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		if err := os.WriteFile(metadataOutput, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing metadata: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Metadata written to %s\n", metadataOutput)
		return nil
	},
}

var metadataReplaceCmd = &cobra.Command{
	Use:   "replace <file>",
	Short: "Replace the metadata with a JSON or YAML document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := consistency.ReadSnapshot(args[0])
		if err != nil {
			return err
		}
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out, err := e.Consistency.Replace(ctx, doc, metadataAllowInconsistent)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), "replace metadata from "+args[0], out)
	},
}

var metadataClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset metadata to an empty document (database objects are kept)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out, err := e.Consistency.Clear(ctx)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), "clear metadata", out)
	},
}

var metadataReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload sources and remote schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out, err := e.Consistency.Reload(ctx)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), "reload metadata", out)
	},
}

func init() {
	metadataExportCmd.Flags().StringVarP(&metadataOutput, "output", "o", "", "write to file instead of stdout")
	metadataReplaceCmd.Flags().BoolVar(&metadataAllowInconsistent, "allow-inconsistent", false, "accept objects the engine cannot resolve")
	metadataCmd.AddCommand(metadataExportCmd, metadataReplaceCmd, metadataClearCmd, metadataReloadCmd)
	rootCmd.AddCommand(metadataCmd)
}
