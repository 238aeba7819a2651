// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

// Package config provides layered configuration for Orderbridge.
//
// Precedence: environment variables > optional YAML config file > defaults.
// All environment variables carry the POLLER_ prefix; POLLER_ENCRYPTION_KEY
// is the only required setting.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrMissingEncryptionKey is returned when POLLER_ENCRYPTION_KEY is not set.
// Connections cannot be stored or read without it, so startup fails fast.
var ErrMissingEncryptionKey = errors.New("POLLER_ENCRYPTION_KEY is required")

// Config is the root configuration for the service.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Encryption EncryptionConfig `koanf:"encryption"`
	Logging    LoggingConfig    `koanf:"logging"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Poller     PollerConfig     `koanf:"poller"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file. The parent directory is created
	// on first open.
	Path string `koanf:"path" validate:"required"`
}

// EncryptionConfig configures credential encryption at rest.
type EncryptionConfig struct {
	// Key is the symmetric key material credentials are encrypted with.
	Key string `koanf:"key"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// WebhookConfig holds downstream delivery settings.
type WebhookConfig struct {
	// DefaultURL pre-fills the webhook URL when the operator adds a
	// connection without one. Optional.
	DefaultURL string `koanf:"default_url" validate:"omitempty,url"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz, e.g.
	// "127.0.0.1:9187". Empty disables the listener.
	Addr string `koanf:"addr"`
}

// PollerConfig holds engine-wide polling knobs.
type PollerConfig struct {
	// DefaultIntervalSeconds is applied to connections created without an
	// explicit cadence.
	DefaultIntervalSeconds int `koanf:"default_interval_seconds" validate:"gte=1"`
}

// Validate checks the configuration for structural problems. The encryption
// key is validated separately by RequireEncryptionKey so that read-only CLI
// commands can run without it.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireEncryptionKey fails if no encryption key is configured.
func (c *Config) RequireEncryptionKey() error {
	if c.Encryption.Key == "" {
		return ErrMissingEncryptionKey
	}
	return nil
}
