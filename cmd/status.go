package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/report"
	"github.com/metasync/metasync/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the result of the last apply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := state.Load(cfg.StatePath())
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		out := cmd.OutOrStdout()
		if st.Status == "" {
			fmt.Fprintln(out, "No apply recorded yet.")
			return nil
		}

		fmt.Fprintf(out, "Last apply: %s\n", statusStyle(st.Status))
		fmt.Fprintf(out, "  Endpoint: %s\n", st.Endpoint)
		if st.ManifestPath != "" {
			fmt.Fprintf(out, "  Manifest: %s\n", st.ManifestPath)
		}
		fmt.Fprintf(out, "  Started:  %s\n", st.StartedAt.Format(time.RFC3339))
		if !st.FinishedAt.IsZero() {
			fmt.Fprintf(out, "  Finished: %s (%s)\n", st.FinishedAt.Format(time.RFC3339), st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond))
		}
		c := st.Counts
		fmt.Fprintf(out, "  Objects:  %d succeeded, %d ignored, %d failed, %d healed\n", c.Succeeded, c.Ignored, c.Failed, c.Healed)

		fmt.Fprintln(out)
		if st.SnapshotPath != "" {
			fmt.Fprintf(out, "Snapshot: %s\n", st.SnapshotPath)
		}
		if !st.RolledBackAt.IsZero() {
			fmt.Fprintf(out, "Rolled back: %s\n", st.RolledBackAt.Format(time.RFC3339))
		}
		if st.ReportPath == "" {
			return nil
		}

		fmt.Fprintf(out, "Report: %s\n\n", st.ReportPath)
		rep, err := report.ReadJSON(st.ReportPath)
		if err != nil {
			fmt.Fprintln(out, dimStyle.Render(err.Error()))
			return nil
		}
		fmt.Fprint(out, report.FormatText(rep))
		return nil
	},
}

func statusStyle(s state.Status) string {
	switch s {
	case state.StatusApplied:
		return successStyle.Render(string(s))
	case state.StatusPartial, state.StatusRunning, state.StatusRolledBack:
		return warnStyle.Render(string(s))
	default:
		return errStyle.Render(string(s))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
