package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/resource"
)

var (
	sourceDatabaseURL string
	sourceCascade     bool
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage data sources",
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered data sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		sources, err := e.Sources.List(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, len(sources))
		for i, s := range sources {
			conn := maskSecret(s.DatabaseURL)
			if s.FromEnv != "" {
				conn = "env:" + s.FromEnv
			}
			rows[i] = []string{s.Name, s.Kind, conn, strconv.Itoa(s.Tables)}
		}
		renderTable(cmd.OutOrStdout(), []string{"NAME", "KIND", "CONNECTION", "TABLES"}, rows)
		return nil
	},
}

var sourceEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Register the default source if it is missing",
	Long: `Register the default source when the engine has none. The connection
string comes from --database-url, then source.database_url in the config,
then DATABASE_URL or HASURA_GRAPHQL_DATABASE_URL. An existing default
source is left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out, err := e.Sources.EnsureDefault(ctx, sourceDatabaseURL)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), "ensure default source", out)
	},
}

var sourceDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a data source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		out, err := e.Sources.Delete(ctx, args[0], resource.WithCascade(sourceCascade))
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), fmt.Sprintf("delete source %s", args[0]), out)
	},
}

func init() {
	sourceEnsureCmd.Flags().StringVar(&sourceDatabaseURL, "database-url", "", "connection string for the default source")
	sourceDeleteCmd.Flags().BoolVar(&sourceCascade, "cascade", false, "also drop metadata depending on the source")
	sourceCmd.AddCommand(sourceListCmd, sourceEnsureCmd, sourceDeleteCmd)
	rootCmd.AddCommand(sourceCmd)
}
