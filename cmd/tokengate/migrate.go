// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/document/postgres"
	"github.com/tokengate/tokengate/pkg/errutil"
)

// migratorFactory is replaced in tests.
var migratorFactory = func(url string) (Migrator, error) {
	return postgres.NewMigrator(url)
}

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the PostgreSQL schema migrations.
Memory and Redis stores need no migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateUp)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateDown)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runMigrateStatus)
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*cobra.Command, Migrator) error) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	scheme, err := config.StoreScheme(cfg.Store.URL)
	if err != nil {
		return err
	}
	if scheme != config.SchemePostgres {
		return oops.Code("MIGRATION_UNSUPPORTED").
			With("scheme", scheme).
			Errorf("migrations only apply to postgres stores")
	}

	m, err := migratorFactory(cfg.Store.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "failed to close migrator", closeErr)
		}
	}()

	return fn(cmd, m)
}

func runMigrateUp(cmd *cobra.Command, m Migrator) error {
	pending, err := m.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	if err := m.Up(); err != nil {
		return err
	}
	for _, v := range pending {
		cmd.Printf("Applied %s\n", migrationLabel(v))
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, m Migrator) error {
	version, _, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("No migrations to roll back")
		return nil
	}
	if err := m.Down(); err != nil {
		return err
	}
	cmd.Printf("Rolled back %s\n", migrationLabel(version))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	current := "none"
	if version > 0 {
		current = migrationLabel(version)
	}
	if dirty {
		current += " (dirty)"
	}
	cmd.Printf("Current: %s\n", current)

	if len(pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	labels := make([]string, 0, len(pending))
	for _, v := range pending {
		labels = append(labels, migrationLabel(v))
	}
	cmd.Printf("Pending: %s\n", strings.Join(labels, ", "))
	return nil
}

func migrationLabel(version uint) string {
	if name := postgres.MigrationName(version); name != "" {
		return name
	}
	return fmt.Sprintf("%06d", version)
}
