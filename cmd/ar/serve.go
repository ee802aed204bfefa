// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/config"
	"github.com/dexspace/authregistry/internal/delegation"
	"github.com/dexspace/authregistry/internal/delegation/guard"
	delstore "github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/httpapi"
	"github.com/dexspace/authregistry/internal/logging"
	"github.com/dexspace/authregistry/internal/policyset"
	"github.com/dexspace/authregistry/internal/token"
	"github.com/dexspace/authregistry/internal/trust"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization registry",
		Long: `Start the HTTP server: run pending migrations, load credentials,
seed policy sets when a seed folder is configured, and serve the API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps)
		},
	}

	// Flag defaults mirror config.Default so unset flags don't mask
	// file or environment values.
	def := config.Default()
	cmd.Flags().String("listen-address", def.ListenAddress, "address to listen on")
	cmd.Flags().String("deploy-route", def.DeployRoute, "route prefix for the API")
	cmd.Flags().String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", def.LogFormat, "log format (json, text)")

	return cmd
}

func runServe(cmd *cobra.Command, deps *ServeDeps) error {
	cfg, err := deps.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logging.SetDefault("authregistry", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	ctx := cmd.Context()
	clk := clock.System{}

	creds, err := deps.LoadCredentials(cfg.ClientEORI, cfg.ClientCertPath, cfg.ClientCertPass)
	if err != nil {
		return err
	}
	roots, err := deps.LoadCABundle(cfg.ISHARECAPath)
	if err != nil {
		return err
	}

	m, err := deps.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		_ = m.Close() //nolint:errcheck
		return err
	}
	if err := m.Close(); err != nil {
		return err
	}

	pool, err := deps.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	verifier := trust.NewTokenVerifier(roots, clk)
	satellite := trust.NewSatelliteClient(cfg.SatelliteURL, cfg.SatelliteEORI, creds, verifier, clk)
	signer := trust.NewEvidenceSigner(creds, clk)
	idp := trust.NewIDPClient(cfg.IDPURL, cfg.IDPEORI, creds, verifier, clk)

	st := delstore.NewPostgresStore(pool)
	accessGuard := guard.New(st, clk)
	journal := audit.NewLogger(pool)
	retriever := audit.NewRetriever(pool, accessGuard)
	sessions := token.NewService(cfg.JWTSecret, cfg.JWTExpiry(), clk)

	opts := delegation.Options{
		EvidenceExpiry:             cfg.DEExpiry(),
		AllowServiceProviderAccess: cfg.AllowServiceProviderAccess,
	}
	if cfg.PDPURL != "" {
		opts.PDP = trust.NewPDPClient(cfg.PDPURL, cfg.PDPEORI, creds, clk)
		slog.Info("external decision point enabled", "pdp", cfg.PDPURL)
	}
	delegationSvc := delegation.NewService(st, signer, verifier, journal, clk, opts)
	policySvc := policyset.NewService(st, accessGuard, satellite, journal, clk)

	if cfg.SeedFolder != "" {
		n, err := deps.Seed(ctx, cfg.SeedFolder, st, clk)
		if err != nil {
			return err
		}
		slog.Info("seeded policy sets", "count", n, "folder", cfg.SeedFolder)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Delegation:  delegationSvc,
		PolicySets:  policySvc,
		AuditLog:    retriever,
		Sessions:    sessions,
		Assertions:  verifier,
		Registry:    satellite,
		IDP:         idp,
		Signer:      signer,
		ClientEORI:  cfg.ClientEORI,
		DeployRoute: cfg.DeployRoute,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("listening", "address", cfg.ListenAddress, "route", cfg.DeployRoute)
	return deps.Run(ctx, srv)
}

// runServer serves until SIGINT/SIGTERM, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return oops.Code("SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SERVER_FAILED").Wrapf(err, "shutting down")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return oops.Code("SERVER_FAILED").Wrap(err)
	}
	return nil
}
