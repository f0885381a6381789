package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parentmap/venue-pipeline/internal/freshness"
)

var (
	checkDryRun        bool
	checkExportFlagged string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Re-check every venue whose next check is due",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "check")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Checker.Run(ctx, checkDryRun)
		formatCheckStats(os.Stdout, stats)
		if err != nil {
			return eris.Wrap(err, "check")
		}

		if checkExportFlagged != "" {
			rows, err := env.Checker.FlaggedReport(ctx)
			if err != nil {
				return eris.Wrap(err, "check: flagged report")
			}
			return exportFlagged(checkExportFlagged, rows, os.Stdout)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "validate without writing to the store or audit log")
	checkCmd.Flags().StringVar(&checkExportFlagged, "export-flagged", "", "write venues awaiting review to this path (.csv or .xlsx, - for stdout)")
	rootCmd.AddCommand(checkCmd)
}

// formatCheckStats writes a run summary to w.
func formatCheckStats(out io.Writer, s freshness.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	if s.DryRun {
		_, _ = fmt.Fprintf(w, "Mode:\tdry run\n")
	}
	_, _ = fmt.Fprintf(w, "Due:\t%d\n", s.Due)
	_, _ = fmt.Fprintf(w, "Checked:\t%d\n", s.Checked)
	_, _ = fmt.Fprintf(w, "  Passed:\t%d\n", s.Passed)
	_, _ = fmt.Fprintf(w, "  Flagged:\t%d\n", s.Flagged)
	_, _ = fmt.Fprintf(w, "  Updated:\t%d\n", s.Updated)
	_, _ = fmt.Fprintf(w, "  Errors:\t%d\n", s.Errors)
	if s.Checked > 0 {
		_, _ = fmt.Fprintf(w, "Error rate:\t%.1f%%\n", s.ErrorRate()*100)
	}
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.FinishedAt.Sub(s.StartedAt).Round(10*time.Millisecond))
	}
	_ = w.Flush()
}
