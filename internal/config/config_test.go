// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexspace/authregistry/internal/config"
	"github.com/dexspace/authregistry/pkg/errutil"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AR_CLIENT_EORI", "EU.EORI.NL000000000")
	t.Setenv("AR_CLIENT_CERT_PATH", "/etc/ar/client.p12")
	t.Setenv("AR_SATELLITE_URL", "https://satellite.example.com")
	t.Setenv("AR_SATELLITE_EORI", "EU.EORI.NL000000003")
	t.Setenv("AR_ISHARE_CA_PATH", "/etc/ar/ca.pem")
	t.Setenv("AR_JWT_SECRET", "test-secret")
	t.Setenv("AR_DATABASE_URL", "postgres://localhost/ar")
}

func TestLoad_EnvWithDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "EU.EORI.NL000000000", cfg.ClientEORI)
	assert.Equal(t, "0.0.0.0:4000", cfg.ListenAddress)
	assert.Equal(t, "/api", cfg.DeployRoute)
	assert.Equal(t, 3600, cfg.JWTExpirySeconds)
	assert.Equal(t, 3600, cfg.DEExpirySeconds)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AR_LISTEN_ADDRESS", "127.0.0.1:5000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_address: 0.0.0.0:9999\nde_expiry_seconds: 600\n"), 0o600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	// Env beats file; file beats defaults.
	assert.Equal(t, "127.0.0.1:5000", cfg.ListenAddress)
	assert.Equal(t, 600, cfg.DEExpirySeconds)
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AR_LISTEN_ADDRESS", "127.0.0.1:5000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen-address", "", "")
	require.NoError(t, flags.Set("listen-address", "0.0.0.0:8080"))

	cfg, err := config.Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddress)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AR_JWT_SECRET", "")

	_, err := config.Load("", nil)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "BAD_CONFIG")
	errutil.AssertErrorContext(t, err, "key", "jwt_secret")
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg := config.Default()
		cfg.ClientEORI = "EU.EORI.NL000000000"
		cfg.ClientCertPath = "/etc/ar/client.p12"
		cfg.SatelliteURL = "https://satellite.example.com"
		cfg.SatelliteEORI = "EU.EORI.NL000000003"
		cfg.ISHARECAPath = "/etc/ar/ca.pem"
		cfg.JWTSecret = "s"
		cfg.DatabaseURL = "postgres://localhost/ar"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "zero jwt expiry", mutate: func(c *config.Config) { c.JWTExpirySeconds = 0 }, wantErr: true},
		{name: "relative deploy route", mutate: func(c *config.Config) { c.DeployRoute = "api" }, wantErr: true},
		{name: "bad log level", mutate: func(c *config.Config) { c.LogLevel = "verbose" }, wantErr: true},
		{name: "pdp url without eori", mutate: func(c *config.Config) { c.PDPURL = "https://pdp" }, wantErr: true},
		{name: "pdp pair", mutate: func(c *config.Config) { c.PDPURL = "https://pdp"; c.PDPEORI = "EU.EORI.NL1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
