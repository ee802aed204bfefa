// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package config loads the registry configuration from an optional YAML
// file, AR_-prefixed environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of the registry's environment variables.
const EnvPrefix = "AR_"

// Config is the full registry configuration.
type Config struct {
	// Own identity within the trust framework.
	ClientEORI     string `koanf:"client_eori"`
	ClientCertPath string `koanf:"client_cert_path"`
	ClientCertPass string `koanf:"client_cert_pass"`

	// Trust anchor and identity provider.
	SatelliteURL  string `koanf:"satellite_url"`
	SatelliteEORI string `koanf:"satellite_eori"`
	IDPURL        string `koanf:"idp_url"`
	IDPEORI       string `koanf:"idp_eori"`
	ISHARECAPath  string `koanf:"ishare_ca_path"`

	// Optional external policy decision point; enables its token cache.
	PDPURL  string `koanf:"pdp_url"`
	PDPEORI string `koanf:"pdp_eori"`

	// Session tokens.
	JWTSecret        string `koanf:"jwt_secret"`
	JWTExpirySeconds int    `koanf:"jwt_expiry_seconds"`

	// Serving.
	DatabaseURL     string `koanf:"database_url"`
	ListenAddress   string `koanf:"listen_address"`
	DEExpirySeconds int    `koanf:"de_expiry_seconds"`
	DeployRoute     string `koanf:"deploy_route"`
	SeedFolder      string `koanf:"seed_folder"`

	// AllowServiceProviderAccess lets a requester fulfil delegation
	// requests in which it is the sole service provider.
	AllowServiceProviderAccess bool `koanf:"allow_service_provider_access"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		JWTExpirySeconds: 3600,
		ListenAddress:    "0.0.0.0:4000",
		DEExpirySeconds:  3600,
		DeployRoute:      "/api",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("BAD_CONFIG").With("path", path).Wrapf(err, "loading config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, oops.Code("BAD_CONFIG").Wrapf(err, "loading environment")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		}), nil); err != nil {
			return nil, oops.Code("BAD_CONFIG").Wrapf(err, "loading flags")
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	}); err != nil {
		return nil, oops.Code("BAD_CONFIG").Wrapf(err, "unmarshalling config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the registry cannot start with.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"client_eori", c.ClientEORI},
		{"client_cert_path", c.ClientCertPath},
		{"satellite_url", c.SatelliteURL},
		{"satellite_eori", c.SatelliteEORI},
		{"ishare_ca_path", c.ISHARECAPath},
		{"jwt_secret", c.JWTSecret},
		{"database_url", c.DatabaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return oops.Code("BAD_CONFIG").With("key", r.key).Errorf("%s is required", r.key)
		}
	}

	if c.JWTExpirySeconds <= 0 {
		return oops.Code("BAD_CONFIG").Errorf("jwt_expiry_seconds must be positive")
	}
	if c.DEExpirySeconds <= 0 {
		return oops.Code("BAD_CONFIG").Errorf("de_expiry_seconds must be positive")
	}
	if !strings.HasPrefix(c.DeployRoute, "/") {
		return oops.Code("BAD_CONFIG").Errorf("deploy_route must start with /")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("BAD_CONFIG").With("log_level", c.LogLevel).Errorf("log_level must be debug, info, warn or error")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return oops.Code("BAD_CONFIG").With("log_format", c.LogFormat).Errorf("log_format must be json or text")
	}

	if (c.PDPURL == "") != (c.PDPEORI == "") {
		return oops.Code("BAD_CONFIG").Errorf("pdp_url and pdp_eori must be set together")
	}
	return nil
}

// JWTExpiry is the session-token lifetime.
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpirySeconds) * time.Second
}

// DEExpiry is the delegation-evidence validity window.
func (c *Config) DEExpiry() time.Duration {
	return time.Duration(c.DEExpirySeconds) * time.Second
}
