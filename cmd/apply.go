package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/manifest"
	"github.com/metasync/metasync/internal/report"
)

var applyDryRun bool

var applyCmd = &cobra.Command{
	Use:   "apply <manifest.yaml>",
	Short: "Converge the engine toward a manifest",
	Long: `Snapshot the current metadata, then define every object in the manifest
in dependency order: source, schemas, tables, columns, functions, views,
foreign keys, triggers, tracking, relationships, permissions, computed
fields, event triggers and cron triggers.

Rejected objects are reported and the apply continues. Stale metadata is
healed by dropping inconsistent objects and retrying once. Use
'metasync rollback --confirm' to restore the snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}
		if applyDryRun {
			fmt.Fprintf(out, "%s is valid: %d objects.\n", args[0], m.Count())
			return nil
		}

		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Applying %s (%d objects)", args[0], m.Count())))
		result, applyErr := e.ApplyFile(ctx, args[0])
		if result == nil {
			return applyErr
		}

		for _, s := range result.Steps {
			what := s.Kind + " " + s.Object
			switch s.Result {
			case report.ResultFailed:
				fmt.Fprintln(out, errStyle.Render("FAILED")+" "+what+": "+s.Error)
			case report.ResultIgnored:
				fmt.Fprintln(out, dimStyle.Render("IGNORED")+" "+what)
			default:
				fmt.Fprintln(out, successStyle.Render("OK")+" "+what)
			}
		}
		for _, h := range result.Heals {
			fmt.Fprintln(out, warnStyle.Render("HEALED")+" "+h.Step+": dropped "+fmt.Sprint(len(h.Dropped))+" inconsistent objects")
		}

		c := result.Counts
		fmt.Fprintf(out, "\n%d succeeded, %d ignored, %d failed, %d healed\n", c.Succeeded, c.Ignored, c.Failed, c.Healed)
		fmt.Fprintf(out, "Snapshot: %s\n", result.Snapshot)
		if result.ReportPath != "" {
			fmt.Fprintf(out, "Report:   %s\n", result.ReportPath)
		}

		if applyErr != nil {
			return fmt.Errorf("apply aborted: %w", applyErr)
		}
		if result.Failed() {
			return fmt.Errorf("%d objects failed", c.Failed)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "only load and validate the manifest")
	rootCmd.AddCommand(applyCmd)
}
