// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tomtom215/orderbridge/internal/dispatch"
	"github.com/tomtom215/orderbridge/internal/logging"
	"github.com/tomtom215/orderbridge/internal/poller"
	"github.com/tomtom215/orderbridge/internal/upstream"
)

var resendCmd = &cobra.Command{
	Use:   "resend <connection-id>",
	Short: "Re-send the most recent confirmed orders for a connection",
	Long: `Fetch the connection's most recent confirmed orders and deliver them
to the webhook again, bypassing the delivery ledger. Use this to replay
orders the downstream lost.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		count, _ := cmd.Flags().GetInt("count")
		if count <= 0 {
			return fmt.Errorf("--count must be positive")
		}

		ctx := cmd.Context()
		conn, err := st.GetConnection(ctx, args[0])
		if err != nil {
			return err
		}

		client := upstream.NewClient(upstream.Config{
			URL:        conn.UpstreamURL,
			Database:   conn.UpstreamDB,
			Username:   conn.UpstreamUsername,
			APIKey:     conn.UpstreamAPIKey,
			SessionID:  conn.SessionID,
			HTTPClient: &http.Client{Timeout: upstream.DefaultTimeout},
		}, logging.Logger())
		sender := dispatch.NewSender(nil, logging.Logger())
		worker := poller.NewWorker(st, client, sender, logging.Logger())

		sent, failed, err := worker.ResendRecent(ctx, conn, count)
		if err != nil {
			return err
		}
		fmt.Printf("Resend complete: %d delivered, %d failed\n", sent, failed)
		if failed > 0 {
			return fmt.Errorf("%d orders failed to deliver", failed)
		}
		return nil
	},
}

func init() {
	resendCmd.Flags().Int("count", 5, "number of recent orders to re-send")
}
