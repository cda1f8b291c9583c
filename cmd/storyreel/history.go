package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keagan/storyreel/internal/config"
	"github.com/keagan/storyreel/internal/runstore"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past renders, or show one run's scenes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		store, err := runstore.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open run ledger: %w", err)
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderRunDetail(rec))
			return nil
		}

		runs, err := store.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "no runs recorded yet")
			return nil
		}
		fmt.Fprintln(out, renderRunList(runs))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}
