package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/sqlexec"
)

var (
	sqlSource   string
	sqlCascade  bool
	sqlReadOnly bool
)

var sqlCmd = &cobra.Command{
	Use:   "sql <statement>",
	Short: "Run a SQL statement through the engine",
	Long: `Send a statement to the run_sql endpoint. Tuples are printed as a table.
A statement the database rejects is printed with its error code; only
transport failures abort the command.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		opts := []sqlexec.Option{sqlexec.WithCascade(sqlCascade)}
		if sqlSource != "" {
			opts = append(opts, sqlexec.WithSource(sqlSource))
		}
		if sqlReadOnly {
			opts = append(opts, sqlexec.WithReadOnly())
		}

		res, err := e.SQL.SQL(ctx, strings.Join(args, " "), opts...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !res.OK() {
			fmt.Fprintln(out, errStyle.Render(res.Err.String()))
			return fmt.Errorf("statement rejected")
		}
		if res.ResultType == sqlexec.TuplesOK {
			var rows [][]string
			if len(res.Rows) > 1 {
				rows = res.Rows[1:]
			}
			renderTable(out, res.Header(), rows)
			return nil
		}
		fmt.Fprintln(out, successStyle.Render(res.ResultType))
		return nil
	},
}

func init() {
	sqlCmd.Flags().StringVar(&sqlSource, "source", "", "data source (default: the configured source)")
	sqlCmd.Flags().BoolVar(&sqlCascade, "cascade", false, "cascade drops to dependent metadata")
	sqlCmd.Flags().BoolVar(&sqlReadOnly, "read-only", false, "run as a read-only transaction")
	rootCmd.AddCommand(sqlCmd)
}
