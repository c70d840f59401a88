package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morezero/coordinator/pkg/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the dispatch journal schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create the database if missing and run journal migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadDBConfig()
		if err != nil {
			return err
		}
		if err := db.EnsureDatabase(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("ensure database: %w", err)
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		files, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, files); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration file(s).\n", len(files))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the journal schema is applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		status, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
