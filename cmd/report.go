package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parentmap/venue-pipeline/internal/freshness"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List venues awaiting human review",
	Long:  "Lists Alert, SuspectedClosed and NeedsReview venues with the reason for their last status change. With --output the report is written as CSV or XLSX.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "report")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := freshness.FlaggedReport(ctx, st, cfg.Log.Dir)
		if err != nil {
			return eris.Wrap(err, "report")
		}

		if reportOutput != "" {
			return exportFlagged(reportOutput, rows, os.Stdout)
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No venues awaiting review.")
			return nil
		}
		formatFlaggedList(os.Stdout, rows)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "write the report to this path (.csv or .xlsx, - for CSV on stdout)")
	rootCmd.AddCommand(reportCmd)
}

// formatFlaggedList writes a tabular list of flagged venues to w.
func formatFlaggedList(out io.Writer, rows []freshness.FlaggedVenue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCONF\tLAST_CHECKED\tREASON")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t------------\t------")

	for _, r := range rows {
		v := r.Venue
		checked := "never"
		if v.LastCheckedAt != nil {
			checked = v.LastCheckedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(v.ID),
			truncate(v.Name, 30),
			v.Status,
			v.Confidence,
			checked,
			truncate(r.LastReason(), 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
