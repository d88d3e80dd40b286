package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackConfirm bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the metadata snapshot taken before the last apply",
	Long: `Replace the metadata with the snapshot recorded by the last apply and
reload. Tables, columns and other database objects created by that apply
are not dropped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !rollbackConfirm {
			fmt.Fprintln(out, "Rollback requires --confirm to proceed.")
			fmt.Fprintln(out, "This will REPLACE the current metadata with the last snapshot.")
			return nil
		}

		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		result, err := e.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}

		fmt.Fprintf(out, "Snapshot: %s\n", result.Snapshot)
		if result.Restored {
			fmt.Fprintln(out, successStyle.Render("Metadata restored."))
		}
		if result.Reloaded {
			fmt.Fprintln(out, "Metadata reloaded.")
		}
		if n := len(result.Inconsistent); n > 0 {
			fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("%d inconsistent objects after restore:", n)))
			for _, o := range result.Inconsistent {
				fmt.Fprintf(out, "  - %s %s: %s\n", o.Type, o.Name, o.Reason)
			}
		}
		if len(result.Errors) > 0 {
			fmt.Fprintln(out, errStyle.Render("Errors during rollback:"))
			for _, msg := range result.Errors {
				fmt.Fprintf(out, "  - %s\n", msg)
			}
			return fmt.Errorf("rollback incomplete")
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackConfirm, "confirm", false, "skip confirmation prompt")
	rootCmd.AddCommand(rollbackCmd)
}
