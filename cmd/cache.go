package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parentmap/venue-pipeline/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache occupancy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCache(cmd.Context(), func(ctx context.Context, c cache.Cache) error {
			s, err := c.Stats(ctx)
			if err != nil {
				return eris.Wrap(err, "cache stats")
			}
			formatCacheStats(os.Stdout, s)
			return nil
		})
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCache(cmd.Context(), func(ctx context.Context, c cache.Cache) error {
			n, err := c.Cleanup(ctx)
			if err != nil {
				return eris.Wrap(err, "cache cleanup")
			}
			fmt.Fprintf(os.Stdout, "Removed %d expired entries.\n", n)
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCache(cmd.Context(), func(ctx context.Context, c cache.Cache) error {
			if err := c.Clear(ctx); err != nil {
				return eris.Wrap(err, "cache clear")
			}
			fmt.Fprintln(os.Stdout, "Cache cleared.")
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// withCache opens the configured cache, runs fn and closes it.
func withCache(ctx context.Context, fn func(ctx context.Context, c cache.Cache) error) error {
	if err := cfg.Validate("cache"); err != nil {
		return err
	}
	c, err := cache.Open(ctx, cfg.Cache.Driver, cfg.Cache.Path, cfg.Cache.RedisURL)
	if err != nil {
		return eris.Wrap(err, "open cache")
	}
	defer c.Close() //nolint:errcheck
	return fn(ctx, c)
}

// formatCacheStats writes cache occupancy to w.
func formatCacheStats(out io.Writer, s cache.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Backend:\t%s\n", s.Backend)
	_, _ = fmt.Fprintf(w, "Entries:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Valid:\t%d\n", s.Valid)
	_, _ = fmt.Fprintf(w, "  Expired:\t%d\n", s.Expired)
	_ = w.Flush()
}
