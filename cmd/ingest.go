package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parentmap/venue-pipeline/internal/pipeline"
	"github.com/parentmap/venue-pipeline/internal/source"
)

var (
	ingestSource  string
	ingestSources string
	ingestDryRun  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract venue candidates from sources, validate and store new ones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path := ingestSources
		if path == "" {
			path = cfg.Sources.Path
		}
		all, err := source.LoadSources(path)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		selected, err := source.Select(all, ingestSource)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		if len(selected) == 0 {
			fmt.Fprintln(os.Stderr, "No enabled sources.")
			return nil
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Ingester().Run(ctx, selected, ingestDryRun)
		formatIngestStats(os.Stdout, stats)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "only ingest the named source")
	ingestCmd.Flags().StringVar(&ingestSources, "sources", "", "source list file (default from config)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "validate candidates without storing them")
	rootCmd.AddCommand(ingestCmd)
}

// formatIngestStats writes an ingest summary to w.
func formatIngestStats(out io.Writer, s pipeline.IngestStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	if s.DryRun {
		_, _ = fmt.Fprintf(w, "Mode:\tdry run\n")
	}
	_, _ = fmt.Fprintf(w, "Sources:\t%d (%d failed)\n", s.Sources, s.SourceErrors)
	_, _ = fmt.Fprintf(w, "Candidates:\t%d\n", s.Candidates)
	_, _ = fmt.Fprintf(w, "  Duplicates:\t%d\n", s.Duplicates)
	_, _ = fmt.Fprintf(w, "  Created:\t%d\n", s.Created)
	_, _ = fmt.Fprintf(w, "  Rejected:\t%d\n", s.Rejected)
	_, _ = fmt.Fprintf(w, "  Errors:\t%d\n", s.Errors)
	_ = w.Flush()
}
