package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var validateDryRun bool

var validateCmd = &cobra.Command{
	Use:   "validate <venue-id>",
	Short: "Check one venue now, regardless of its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "validate")
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Checker.CheckVenue(ctx, args[0], validateDryRun)
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		fmt.Fprintf(os.Stderr, "Outcome: %s\n", outcome)

		v, err := env.Store.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateDryRun, "dry-run", false, "validate without writing to the store or audit log")
	rootCmd.AddCommand(validateCmd)
}
