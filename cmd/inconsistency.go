package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var inconsistencyCmd = &cobra.Command{
	Use:   "inconsistency",
	Short: "List or drop metadata objects the engine cannot resolve",
}

var inconsistencyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inconsistent metadata objects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		r, err := e.Consistency.Inconsistent(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if r.IsConsistent || len(r.Objects) == 0 {
			fmt.Fprintln(out, successStyle.Render("Metadata is consistent."))
			return nil
		}

		rows := make([][]string, len(r.Objects))
		for i, o := range r.Objects {
			rows[i] = []string{o.Type, o.Name, o.Reason}
		}
		renderTable(out, []string{"TYPE", "NAME", "REASON"}, rows)
		return nil
	},
}

var inconsistencyDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop every inconsistent object from metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out, err := e.Consistency.DropInconsistent(ctx)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), "drop inconsistent metadata", out)
	},
}

func init() {
	inconsistencyCmd.AddCommand(inconsistencyListCmd, inconsistencyDropCmd)
	rootCmd.AddCommand(inconsistencyCmd)
}
