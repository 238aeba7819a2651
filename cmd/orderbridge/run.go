// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/orderbridge/internal/logging"
	"github.com/tomtom215/orderbridge/internal/metrics"
	"github.com/tomtom215/orderbridge/internal/poller"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling engine",
	Long: `Start the supervised polling engine: one poll loop per active
connection, plus the optional Prometheus metrics listener. Runs until
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		scheduler := poller.NewScheduler(st, logging.Logger())
		if cfg.Metrics.Addr != "" {
			scheduler.Add(metrics.NewServer(cfg.Metrics.Addr, st.Ping))
		}

		logging.Info().Str("db_path", cfg.Database.Path).Msg("Orderbridge starting")

		err = scheduler.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			logging.Info().Msg("Orderbridge stopped")
			return nil
		}
		return err
	},
}
