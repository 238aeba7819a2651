// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

// Command orderbridge runs the polling engine and offers the operator
// surface: connection management, cycle logs, retry queue maintenance,
// breaker resets, and manual resends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/orderbridge/internal/config"
	"github.com/tomtom215/orderbridge/internal/logging"
	"github.com/tomtom215/orderbridge/internal/store"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

// cfg is populated by the root command before any subcommand runs.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orderbridge",
	Short: "Orderbridge - multi-tenant sales order webhook bridge",
	Long: `Orderbridge polls upstream ERP instances for newly confirmed sales
orders, normalizes them into a fixed JSON envelope, and delivers them to
per-tenant webhook endpoints with durable retries and circuit breaking.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: initialize,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"orderbridge version %s (commit %s)\n", Version, Commit))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(connectionCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(retriesCmd)
	rootCmd.AddCommand(breakerCmd)
	rootCmd.AddCommand(resendCmd)
}

func initialize(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	})
	cfg = c
	return nil
}

// openStore opens the SQLite store. Every command that touches connection
// rows needs the encryption key, since credentials decrypt on read.
func openStore() (*store.Store, error) {
	if err := cfg.RequireEncryptionKey(); err != nil {
		return nil, err
	}
	return store.Open(cfg.Database.Path, cfg.Encryption.Key)
}
