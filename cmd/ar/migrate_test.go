// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexspace/authregistry/internal/config"
)

type fakeMigrator struct {
	upCalled   bool
	upErr      error
	steps      int
	version    uint
	dirty      bool
	pending    []uint
	closeCount int
}

func (f *fakeMigrator) Up() error {
	f.upCalled = true
	return f.upErr
}
func (f *fakeMigrator) Down() error { return nil }
func (f *fakeMigrator) Steps(n int) error {
	f.steps = n
	return nil
}
func (f *fakeMigrator) Version() (uint, bool, error)    { return f.version, f.dirty, nil }
func (f *fakeMigrator) PendingMigrations() ([]uint, error) { return f.pending, nil }
func (f *fakeMigrator) Close() error {
	f.closeCount++
	return nil
}

func stubConfig(cfg *config.Config) func(string, *pflag.FlagSet) (*config.Config, error) {
	return func(string, *pflag.FlagSet) (*config.Config, error) {
		return cfg, nil
	}
}

func TestMigrateCmd(t *testing.T) {
	t.Run("up applies pending migrations", func(t *testing.T) {
		m := &fakeMigrator{}
		cmd := NewMigrateCmd(&MigrateDeps{
			LoadConfig:  stubConfig(&config.Config{DatabaseURL: "postgres://x"}),
			NewMigrator: func(string) (migrator, error) { return m, nil },
		})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{})

		require.NoError(t, cmd.Execute())
		assert.True(t, m.upCalled)
		assert.Equal(t, 1, m.closeCount)
		assert.Contains(t, out.String(), "completed successfully")
	})

	t.Run("steps flag applies exactly n", func(t *testing.T) {
		m := &fakeMigrator{}
		cmd := NewMigrateCmd(&MigrateDeps{
			LoadConfig:  stubConfig(&config.Config{DatabaseURL: "postgres://x"}),
			NewMigrator: func(string) (migrator, error) { return m, nil },
		})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"--steps", "-1"})

		require.NoError(t, cmd.Execute())
		assert.Equal(t, -1, m.steps)
		assert.False(t, m.upCalled)
	})

	t.Run("up failure propagates", func(t *testing.T) {
		m := &fakeMigrator{upErr: oops.Code("MIGRATION_FAILED").Errorf("boom")}
		cmd := NewMigrateCmd(&MigrateDeps{
			LoadConfig:  stubConfig(&config.Config{DatabaseURL: "postgres://x"}),
			NewMigrator: func(string) (migrator, error) { return m, nil },
		})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{})

		require.Error(t, cmd.Execute())
		assert.Equal(t, 1, m.closeCount)
	})

	t.Run("status reports version and pending", func(t *testing.T) {
		m := &fakeMigrator{version: 2, pending: []uint{3}}
		cmd := NewMigrateCmd(&MigrateDeps{
			LoadConfig:  stubConfig(&config.Config{DatabaseURL: "postgres://x"}),
			NewMigrator: func(string) (migrator, error) { return m, nil },
		})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"status"})

		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "Schema version: 2")
		assert.Contains(t, out.String(), "Pending migrations: [3]")
	})

	t.Run("config failure propagates", func(t *testing.T) {
		cmd := NewMigrateCmd(&MigrateDeps{
			LoadConfig: func(string, *pflag.FlagSet) (*config.Config, error) {
				return nil, oops.Code("BAD_CONFIG").Errorf("database_url is required")
			},
		})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{})

		require.Error(t, cmd.Execute())
	})
}
