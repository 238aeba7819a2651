// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <connection-id>",
	Short: "Show recent poll cycle logs for a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		limit, _ := cmd.Flags().GetInt("limit")
		logs, err := st.ListSyncLogs(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tFOUND\tSENT\tFAILED\tSKIPPED\tDURATION\tBREAKER\tERROR")
		for _, l := range logs {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s>%s\t%s\n",
				l.StartedAt.Format(time.RFC3339), l.OrdersFound, l.OrdersSent,
				l.OrdersFailed, l.OrdersSkipped,
				time.Duration(l.DurationMS)*time.Millisecond,
				l.BreakerEntry, l.BreakerExit, l.ErrorMessage)
		}
		return w.Flush()
	},
}

func init() {
	logsCmd.Flags().Int("limit", 20, "number of cycle logs to show")
}
