package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/morezero/coordinator/pkg/db"
)

var journalOlderThan time.Duration

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Maintain the dispatch journal",
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries older than --older-than",
	Example: `  coordinator journal prune                  # entries older than 30 days
  coordinator journal prune --older-than 24h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if journalOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		ctx := cmd.Context()
		_, pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cutoff := time.Now().Add(-journalOlderThan)
		n, err := db.NewJournal(pool).Prune(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d journal entries before %s.\n", n, cutoff.UTC().Format(time.RFC3339))
		return nil
	},
}

var journalClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every journal entry; the schema is preserved",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.NewJournal(pool).Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Journal cleared.")
		return nil
	},
}

func init() {
	journalPruneCmd.Flags().DurationVar(&journalOlderThan, "older-than", 30*24*time.Hour, "Age of the oldest entry to keep")
	journalCmd.AddCommand(journalPruneCmd)
	journalCmd.AddCommand(journalClearCmd)
}
