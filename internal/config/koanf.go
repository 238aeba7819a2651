// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/orderbridge/config.yaml",
	"/etc/orderbridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "POLLER_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them onto
// config paths.
const envPrefix = "POLLER_"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "data/poller.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
		Poller: PollerConfig{
			DefaultIntervalSeconds: 60,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// POLLER_* environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envVarPaths maps POLLER_* environment variables (prefix stripped,
// lowercased) onto nested config paths.
var envVarPaths = map[string]string{
	"encryption_key":      "encryption.key",
	"db_path":             "database.path",
	"log_level":           "logging.level",
	"log_format":          "logging.format",
	"default_webhook_url": "webhook.default_url",
	"metrics_addr":        "metrics.addr",
	"default_interval":    "poller.default_interval_seconds",
}

// envTransformFunc maps environment variable names to koanf config paths.
//
//	POLLER_ENCRYPTION_KEY -> encryption.key
//	POLLER_DB_PATH        -> database.path
//	POLLER_LOG_LEVEL      -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if path, ok := envVarPaths[key]; ok {
		return path
	}
	// Unknown POLLER_* variables fall through as dotted paths so config
	// file keys can still be overridden, e.g. POLLER_METRICS.ADDR.
	return strings.ReplaceAll(key, "_", ".")
}
