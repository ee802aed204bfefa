// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package main

import (
	"context"
	"crypto/x509"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/config"
	delstore "github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/seed"
	"github.com/dexspace/authregistry/internal/store"
	"github.com/dexspace/authregistry/internal/trust"
)

// migrator wraps the methods the commands use from store.Migrator.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	PendingMigrations() ([]uint, error)
	Close() error
}

// ServeDeps contains injectable dependencies for the serve command.
// All nil fields use their default implementations.
type ServeDeps struct {
	// LoadConfig reads the configuration. Default: config.Load
	LoadConfig func(path string, flags *pflag.FlagSet) (*config.Config, error)

	// LoadCredentials loads the registry's PKCS#12 credentials.
	// Default: trust.LoadCredentials
	LoadCredentials func(eori, path, password string) (*trust.Credentials, error)

	// LoadCABundle loads the trust framework's CA bundle.
	// Default: trust.LoadCABundle
	LoadCABundle func(path string) (*x509.CertPool, error)

	// Connect opens the database pool. Default: store.Connect
	Connect func(ctx context.Context, databaseURL string) (*pgxpool.Pool, error)

	// NewMigrator builds the migration runner. Default: store.NewMigrator
	NewMigrator func(databaseURL string) (migrator, error)

	// Seed loads policy sets from the seed folder. Default: seed.Load
	Seed func(ctx context.Context, dir string, st delstore.Store, clk clock.Clock) (int, error)

	// Run serves until the context is cancelled. Default: runServer
	Run func(ctx context.Context, srv *http.Server) error
}

func (d *ServeDeps) applyDefaults() {
	if d.LoadConfig == nil {
		d.LoadConfig = config.Load
	}
	if d.LoadCredentials == nil {
		d.LoadCredentials = trust.LoadCredentials
	}
	if d.LoadCABundle == nil {
		d.LoadCABundle = trust.LoadCABundle
	}
	if d.Connect == nil {
		d.Connect = store.Connect
	}
	if d.NewMigrator == nil {
		d.NewMigrator = defaultNewMigrator
	}
	if d.Seed == nil {
		d.Seed = seed.Load
	}
	if d.Run == nil {
		d.Run = runServer
	}
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	LoadConfig  func(path string, flags *pflag.FlagSet) (*config.Config, error)
	NewMigrator func(databaseURL string) (migrator, error)
}

func (d *MigrateDeps) applyDefaults() {
	if d.LoadConfig == nil {
		d.LoadConfig = config.Load
	}
	if d.NewMigrator == nil {
		d.NewMigrator = defaultNewMigrator
	}
}

// SeedDeps contains injectable dependencies for the seed command.
type SeedDeps struct {
	LoadConfig func(path string, flags *pflag.FlagSet) (*config.Config, error)
	Connect    func(ctx context.Context, databaseURL string) (*pgxpool.Pool, error)
	Seed       func(ctx context.Context, dir string, st delstore.Store, clk clock.Clock) (int, error)
}

func (d *SeedDeps) applyDefaults() {
	if d.LoadConfig == nil {
		d.LoadConfig = config.Load
	}
	if d.Connect == nil {
		d.Connect = store.Connect
	}
	if d.Seed == nil {
		d.Seed = seed.Load
	}
}

func defaultNewMigrator(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}
