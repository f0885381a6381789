package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/freshness"
	"github.com/parentmap/venue-pipeline/internal/pipeline"
	"github.com/parentmap/venue-pipeline/internal/store"
)

// initEnv validates the config for mode and builds the pipeline environment.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pipeline.Env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return pipeline.New(ctx, cfg)
}

// initStore validates the config for mode and opens the migrated store.
func initStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// exportFlagged writes rows to path: XLSX for a .xlsx path, CSV otherwise.
// A path of "-" writes CSV to out.
func exportFlagged(path string, rows []freshness.FlaggedVenue, out io.Writer) error {
	if path == "-" {
		return freshness.WriteCSV(out, rows)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		if err := freshness.WriteXLSX(path, rows); err != nil {
			return err
		}
	} else {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		if err := freshness.WriteCSV(f, rows); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", path)
		}
	}

	zap.L().Info("flagged report written", zap.String("path", path), zap.Int("venues", len(rows)))
	return nil
}
