// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the registry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ar",
		Short: "Dexspace authorization registry",
		Long: `The Dexspace authorization registry stores delegation policies and
answers iSHARE delegation requests with signed delegation evidence.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd(nil))
	cmd.AddCommand(NewSeedCmd(nil))

	return cmd
}
