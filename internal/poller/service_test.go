// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package poller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/orderbridge/internal/store"
)

func serveUntil(t *testing.T, svc *pollService, timeout time.Duration) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(context.Background()) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		t.Fatal("poll service did not stop")
		return nil
	}
}

func TestPollServiceStopsWhenDisabled(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	conn := env.reload(t)
	conn.Active = false
	if err := env.store.UpdateConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}

	svc := newPollService(env.store, conn, zerolog.Nop())
	err := serveUntil(t, svc, 2*time.Second)
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("disabled connection: got %v, want ErrDoNotRestart", err)
	}
}

func TestPollServiceStopsWhenDeleted(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	conn := env.reload(t)
	if err := env.store.DeleteConnection(ctx, conn.ID); err != nil {
		t.Fatal(err)
	}

	svc := newPollService(env.store, conn, zerolog.Nop())
	err := serveUntil(t, svc, 2*time.Second)
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("deleted connection: got %v, want ErrDoNotRestart", err)
	}
}

// TestConnectionIsolation runs the full supervisor with two connections, one
// of them against an upstream that never answers. The healthy connection
// must keep its polling cadence regardless.
func TestConnectionIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second supervisor test")
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), "test-key")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	// Upstream that accepts the connection and then hangs until shutdown.
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(hang.Close)
	healthy := newFakeUpstream(t)
	hook := newFakeWebhook(t)

	ctx := context.Background()
	hung := &store.Connection{
		Name:                "hung",
		UpstreamURL:         hang.URL,
		UpstreamDB:          "hung_prod",
		UpstreamUsername:    "bridge",
		UpstreamAPIKey:      "key",
		WebhookURL:          hook.srv.URL,
		PollIntervalSeconds: 1,
		Active:              true,
	}
	fast := &store.Connection{
		Name:                "fast",
		UpstreamURL:         healthy.srv.URL,
		UpstreamDB:          "fast_prod",
		UpstreamUsername:    "bridge",
		UpstreamAPIKey:      "key",
		WebhookURL:          hook.srv.URL,
		PollIntervalSeconds: 1,
		Active:              true,
	}
	if err := st.CreateConnection(ctx, hung); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateConnection(ctx, fast); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewScheduler(st, zerolog.Nop()).Serve(runCtx) }()

	time.Sleep(3200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("scheduler did not shut down")
	}

	fastLogs, err := st.ListSyncLogs(ctx, fast.ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(fastLogs) < 2 {
		t.Errorf("healthy connection completed %d cycles in ~3s at 1s cadence, want >= 2", len(fastLogs))
	}

	hungLogs, err := st.ListSyncLogs(ctx, hung.ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(hungLogs) != 0 {
		t.Errorf("hung connection completed %d cycles, want 0", len(hungLogs))
	}
}
