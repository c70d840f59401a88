// Package db provides the Postgres-backed dispatch journal.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// journalTable is created by the first migration.
const journalTable = "dispatch_journal"

// Journal pool limits. The journal is append-only and written after each
// correlator step, so a small pool is enough.
const (
	journalMaxConns = 10
	journalMinConns = 1
)

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = journalMaxConns
	config.MinConns = journalMinConns
	return config, nil
}

// RunMigrations applies SQL migration files in order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrationFiles)))

	for i, sql := range migrationFiles {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration %d failed: %w", logPrefix, i+1, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// MigrationStatus reports whether the journal schema is present.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (string, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		journalTable).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return "", fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	return statusLine(exists, len(files), migrationPath), nil
}

func statusLine(applied bool, files int, migrationPath string) string {
	if migrationPath == "" {
		migrationPath = "embedded schema"
	}
	if applied {
		return fmt.Sprintf("Migration status: applied (schema present, %d migration files in %s)", files, migrationPath)
	}
	return fmt.Sprintf("Migration status: not applied (run 'coordinator migrate up'). %d migration files in %s", files, migrationPath)
}
