// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/orderbridge/internal/logging"
	"github.com/tomtom215/orderbridge/internal/store"
	"github.com/tomtom215/orderbridge/internal/upstream"
)

var connectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"conn"},
	Short:   "Manage upstream connections",
}

var connectionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		conn := &store.Connection{Active: true}
		conn.Name, _ = cmd.Flags().GetString("name")
		conn.UpstreamURL, _ = cmd.Flags().GetString("url")
		conn.UpstreamDB, _ = cmd.Flags().GetString("db")
		conn.UpstreamUsername, _ = cmd.Flags().GetString("username")
		conn.UpstreamAPIKey, _ = cmd.Flags().GetString("api-key")
		conn.WebhookURL, _ = cmd.Flags().GetString("webhook-url")
		conn.WebhookSecret, _ = cmd.Flags().GetString("webhook-secret")
		conn.StoreID, _ = cmd.Flags().GetString("store-id")
		conn.ClientID, _ = cmd.Flags().GetString("client-id")
		conn.PollIntervalSeconds, _ = cmd.Flags().GetInt("interval")
		if disabled, _ := cmd.Flags().GetBool("disabled"); disabled {
			conn.Active = false
		}

		if conn.WebhookURL == "" {
			conn.WebhookURL = cfg.Webhook.DefaultURL
		}
		if conn.WebhookURL == "" {
			return fmt.Errorf("--webhook-url is required (no default configured)")
		}
		if conn.PollIntervalSeconds <= 0 {
			conn.PollIntervalSeconds = cfg.Poller.DefaultIntervalSeconds
		}

		if err := st.CreateConnection(cmd.Context(), conn); err != nil {
			return err
		}
		fmt.Printf("Connection %q created: %s\n", conn.Name, conn.ID)
		return nil
	},
}

var connectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		conns, err := st.ListConnections(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUPSTREAM\tACTIVE\tINTERVAL\tBREAKER\tLAST SYNC")
		for _, c := range conns {
			lastSync := "never"
			if c.LastSyncAt != nil {
				lastSync = *c.LastSyncAt
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%ds\t%s\t%s\n",
				c.ID, c.Name, c.UpstreamURL, c.Active,
				c.PollIntervalSeconds, c.BreakerState, lastSync)
		}
		return w.Flush()
	},
}

var connectionEditCmd = &cobra.Command{
	Use:   "edit <connection-id>",
	Short: "Edit a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		conn, err := st.GetConnection(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		setString := func(flag string, dst *string) {
			if cmd.Flags().Changed(flag) {
				*dst, _ = cmd.Flags().GetString(flag)
			}
		}
		setString("name", &conn.Name)
		setString("url", &conn.UpstreamURL)
		setString("db", &conn.UpstreamDB)
		setString("username", &conn.UpstreamUsername)
		setString("api-key", &conn.UpstreamAPIKey)
		setString("webhook-url", &conn.WebhookURL)
		setString("webhook-secret", &conn.WebhookSecret)
		setString("store-id", &conn.StoreID)
		setString("client-id", &conn.ClientID)
		if cmd.Flags().Changed("interval") {
			conn.PollIntervalSeconds, _ = cmd.Flags().GetInt("interval")
		}
		if cmd.Flags().Changed("active") {
			conn.Active, _ = cmd.Flags().GetBool("active")
		}

		if err := st.UpdateConnection(cmd.Context(), conn); err != nil {
			return err
		}
		fmt.Printf("Connection %q updated\n", conn.Name)
		return nil
	},
}

var connectionDeleteCmd = &cobra.Command{
	Use:   "delete <connection-id>",
	Short: "Delete a connection and all its dependent rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.DeleteConnection(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Connection deleted")
		return nil
	},
}

var connectionTestCmd = &cobra.Command{
	Use:   "test <connection-id>",
	Short: "Verify upstream credentials by authenticating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		conn, err := st.GetConnection(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		client := upstream.NewClient(upstream.Config{
			URL:        conn.UpstreamURL,
			Database:   conn.UpstreamDB,
			Username:   conn.UpstreamUsername,
			APIKey:     conn.UpstreamAPIKey,
			HTTPClient: &http.Client{Timeout: upstream.DefaultTimeout},
		}, logging.Logger())

		ctx, cancel := context.WithTimeout(cmd.Context(), 45*time.Second)
		defer cancel()

		session, err := client.Authenticate(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Printf("Connection OK: authenticated as %s (session %d)\n",
			conn.UpstreamUsername, session)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{connectionAddCmd, connectionEditCmd} {
		c.Flags().String("name", "", "display name")
		c.Flags().String("url", "", "upstream base URL")
		c.Flags().String("db", "", "upstream database identifier")
		c.Flags().String("username", "", "upstream username")
		c.Flags().String("api-key", "", "upstream API key")
		c.Flags().String("webhook-url", "", "downstream webhook URL")
		c.Flags().String("webhook-secret", "", "webhook shared secret")
		c.Flags().String("store-id", "", "downstream store correlation key")
		c.Flags().String("client-id", "", "downstream client correlation key")
		c.Flags().Int("interval", 0, "poll interval in seconds")
	}
	connectionAddCmd.Flags().Bool("disabled", false, "create the connection disabled")
	connectionEditCmd.Flags().Bool("active", true, "enable or disable polling")

	for _, flag := range []string{"name", "url", "db", "username", "api-key"} {
		_ = connectionAddCmd.MarkFlagRequired(flag)
	}

	connectionCmd.AddCommand(connectionAddCmd)
	connectionCmd.AddCommand(connectionListCmd)
	connectionCmd.AddCommand(connectionEditCmd)
	connectionCmd.AddCommand(connectionDeleteCmd)
	connectionCmd.AddCommand(connectionTestCmd)
}
