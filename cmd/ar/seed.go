// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dexspace/authregistry/internal/clock"
	delstore "github.com/dexspace/authregistry/internal/delegation/store"
)

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd(deps *SeedDeps) *cobra.Command {
	if deps == nil {
		deps = &SeedDeps{}
	}
	deps.applyDefaults()

	return &cobra.Command{
		Use:   "seed [folder]",
		Short: "Load policy sets from a folder of JSON documents",
		Long: `Insert every policy set found in the given folder into the database.
Without an argument the configured seed_folder is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, deps, args)
		},
	}
}

func runSeed(cmd *cobra.Command, deps *SeedDeps, args []string) error {
	cfg, err := deps.LoadConfig(configFile, nil)
	if err != nil {
		return err
	}

	folder := cfg.SeedFolder
	if len(args) > 0 {
		folder = args[0]
	}
	if folder == "" {
		return oops.Code("BAD_CONFIG").Errorf("no seed folder given and seed_folder is not configured")
	}

	ctx := cmd.Context()
	pool, err := deps.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := deps.Seed(ctx, folder, delstore.NewPostgresStore(pool), clock.System{})
	if err != nil {
		return err
	}
	cmd.Printf("Seeded %d policy set(s) from %s\n", n, folder)
	return nil
}
