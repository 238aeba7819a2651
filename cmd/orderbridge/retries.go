// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/orderbridge/internal/dispatch"
	"github.com/tomtom215/orderbridge/internal/logging"
	"github.com/tomtom215/orderbridge/internal/store"
)

var retriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Inspect and manage the retry queue",
}

var retriesListCmd = &cobra.Command{
	Use:   "list <connection-id>",
	Short: "List retry items for a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		limit, _ := cmd.Flags().GetInt("limit")
		items, err := st.ListRetryItems(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tORDER\tEXTERNAL ID\tSTATUS\tATTEMPTS\tNEXT RETRY\tLAST ERROR")
		for _, item := range items {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d/%d\t%s\t%s\n",
				item.ID, item.OrderID, item.ExternalID, item.Status,
				item.Attempts, item.MaxAttempts,
				item.NextRetryAt.Format(time.RFC3339), item.LastError)
		}
		return w.Flush()
	},
}

var retriesRetryNowCmd = &cobra.Command{
	Use:   "retry-now <item-id>",
	Short: "Attempt delivery of a retry item immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()
		item, err := st.GetRetryItem(ctx, id)
		if err != nil {
			return err
		}
		conn, err := st.GetConnection(ctx, item.ConnectionID)
		if err != nil {
			return err
		}

		sender := dispatch.NewSender(nil, logging.Logger())
		if sendErr := sender.Send(ctx, conn.WebhookURL, item.Payload, conn.WebhookSecret, conn.ID); sendErr != nil {
			attempts := item.Attempts + 1
			next := time.Now().Add(dispatch.NextRetryDelay(attempts))
			if err := st.UpdateRetryAfterAttempt(ctx, id, attempts, next, sendErr.Error()); err != nil {
				return err
			}
			return fmt.Errorf("delivery failed: %w", sendErr)
		}

		if err := st.MarkSent(ctx, conn.ID, item.OrderID, item.WriteDate); err != nil {
			return err
		}
		if err := st.MarkRetrySuccess(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Retry item %d delivered\n", id)
		return nil
	},
}

var retriesDiscardCmd = &cobra.Command{
	Use:   "discard <item-id>",
	Short: "Abandon a retry item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.DiscardRetryItem(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Retry item %d discarded\n", id)
		return nil
	},
}

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Manage circuit breakers",
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <connection-id>",
	Short: "Force a connection's breaker back to closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.UpdateBreaker(cmd.Context(), args[0],
			store.BreakerClosed, 0, 0, nil); err != nil {
			return err
		}
		fmt.Println("Breaker reset to closed")
		return nil
	},
}

func init() {
	retriesListCmd.Flags().Int("limit", 50, "number of retry items to show")

	retriesCmd.AddCommand(retriesListCmd)
	retriesCmd.AddCommand(retriesRetryNowCmd)
	retriesCmd.AddCommand(retriesDiscardCmd)

	breakerCmd.AddCommand(breakerResetCmd)
}
