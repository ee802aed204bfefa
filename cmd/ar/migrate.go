// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(deps *MigrateDeps) *cobra.Command {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	deps.applyDefaults()

	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply pending database migrations. With --steps, apply exactly n migrations; a negative n rolls back.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, deps, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "apply exactly n migrations (negative rolls back)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, deps)
		},
	})
	return cmd
}

func runMigrate(cmd *cobra.Command, deps *MigrateDeps, steps int) error {
	m, err := openMigrator(deps)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	if steps != 0 {
		if err := m.Steps(steps); err != nil {
			return err
		}
		cmd.Printf("Applied %d migration step(s)\n", steps)
		return nil
	}
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, deps *MigrateDeps) error {
	m, err := openMigrator(deps)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}

	cmd.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}
	cmd.Printf("Pending migrations: %v\n", pending)
	return nil
}

func openMigrator(deps *MigrateDeps) (migrator, error) {
	cfg, err := deps.LoadConfig(configFile, nil)
	if err != nil {
		return nil, err
	}
	return deps.NewMigrator(cfg.DatabaseURL)
}
