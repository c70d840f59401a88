// Package main is the entrypoint for the coordinator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/coordinator/internal/config"
	"github.com/morezero/coordinator/internal/server"
	"github.com/morezero/coordinator/pkg/db"
)

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Turn-loop coordinator between a streaming model and capability workers",
	Long: `The coordinator reads streaming model output, dispatches the capability
invocations it contains to workers over COMMS, and folds their results into
the next model turn.

With no command it runs serve.

Environment: COMMS_URL, SERVICE_NAME, COORDINATOR_BOOTSTRAP_FILE, BATCH_TIMEOUT,
SWEEP_INTERVAL, JOURNAL_ENABLED, DATABASE_URL, MIGRATION_PATH, HTTP_PORT.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coordinator (COMMS, sweeper, HTTP health)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(parseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openPool loads config and connects to the journal database.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadDBConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}
