// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), "test-encryption-key")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestConnection() *Connection {
	return &Connection{
		Name:             "acme",
		UpstreamURL:      "https://erp.acme.example",
		UpstreamDB:       "acme_prod",
		UpstreamUsername: "bridge@acme.example",
		UpstreamAPIKey:   "super-secret-key",
		WebhookURL:       "https://hooks.example/orders",
		WebhookSecret:    "hook-secret",
		StoreID:          "store-9",
		ClientID:         "client-7",
		Active:           true,
	}
}

func TestConnectionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))
	require.NotEmpty(t, conn.ID)
	assert.Equal(t, 60, conn.PollIntervalSeconds, "default interval applied")
	assert.Equal(t, BreakerClosed, conn.BreakerState)

	got, err := st.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.Equal(t, "super-secret-key", got.UpstreamAPIKey, "api key decrypts on read")
	assert.Equal(t, "hook-secret", got.WebhookSecret)
	assert.Nil(t, got.LastSyncAt)
	assert.Nil(t, got.SessionID)
}

func TestConnectionCredentialsEncryptedAtRest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	var rawKey, rawSecret string
	err := st.db.QueryRowContext(ctx,
		`SELECT upstream_api_key, webhook_secret FROM connections WHERE id = ?`,
		conn.ID).Scan(&rawKey, &rawSecret)
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-key", rawKey)
	assert.NotEqual(t, "hook-secret", rawSecret)
}

func TestGetConnectionNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetConnection(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestListActiveConnections(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	active := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, active))

	disabled := newTestConnection()
	disabled.Name = "disabled"
	disabled.Active = false
	require.NoError(t, st.CreateConnection(ctx, disabled))

	conns, err := st.ListActiveConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, active.ID, conns[0].ID)

	all, err := st.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateBreakerState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	retryAt := time.Now().UTC().Add(120 * time.Second).Truncate(time.Second)
	require.NoError(t, st.UpdateBreaker(ctx, conn.ID, BreakerOpen, 5, 0, &retryAt))

	got, err := st.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, BreakerOpen, got.BreakerState)
	assert.Equal(t, 5, got.FailureCount)
	require.NotNil(t, got.EarliestRetryAt)
	assert.True(t, got.EarliestRetryAt.Equal(retryAt))

	require.NoError(t, st.UpdateBreaker(ctx, conn.ID, BreakerClosed, 0, 0, nil))
	got, err = st.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, got.BreakerState)
	assert.Nil(t, got.EarliestRetryAt)
}

func TestUpdateLastSyncAtMonotonic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	require.NoError(t, st.UpdateLastSyncAt(ctx, conn.ID, "2025-01-15 10:30:00"))
	// A stale writer must not move the cursor backwards.
	require.NoError(t, st.UpdateLastSyncAt(ctx, conn.ID, "2025-01-15 09:00:00"))

	got, err := st.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.Equal(t, "2025-01-15 10:30:00", *got.LastSyncAt)

	require.NoError(t, st.UpdateLastSyncAt(ctx, conn.ID, "2025-01-15 11:00:00"))
	got, _ = st.GetConnection(ctx, conn.ID)
	assert.Equal(t, "2025-01-15 11:00:00", *got.LastSyncAt)
}

func TestDeleteConnectionCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))
	require.NoError(t, st.MarkSent(ctx, conn.ID, 42, "2025-01-15 10:30:00"))
	require.NoError(t, st.EnqueueRetry(ctx, &RetryItem{
		ConnectionID: conn.ID,
		OrderID:      43,
		ExternalID:   "upstream_acme_prod_43",
		Payload:      []byte(`{}`),
		NextRetryAt:  time.Now(),
	}))

	require.NoError(t, st.DeleteConnection(ctx, conn.ID))

	n, err := st.CountSentOrders(ctx, conn.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err := st.ListRetryItems(ctx, conn.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLedgerMarkAndDedupe(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	sent, err := st.WasSent(ctx, conn.ID, 42, "2025-01-15 10:30:00")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, st.MarkSent(ctx, conn.ID, 42, "2025-01-15 10:30:00"))
	// Duplicate marks collapse silently.
	require.NoError(t, st.MarkSent(ctx, conn.ID, 42, "2025-01-15 10:30:00"))

	sent, err = st.WasSent(ctx, conn.ID, 42, "2025-01-15 10:30:00")
	require.NoError(t, err)
	assert.True(t, sent)

	// Same order with a newer write_date is a distinct delivery.
	sent, err = st.WasSent(ctx, conn.ID, 42, "2025-01-15 11:00:00")
	require.NoError(t, err)
	assert.False(t, sent)

	n, err := st.CountSentOrders(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedgerTrim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	for i := 1; i <= 40; i++ {
		require.NoError(t, st.MarkSent(ctx, conn.ID, int64(i), "2025-01-15 10:30:00"))
	}
	require.NoError(t, st.TrimLedger(ctx, conn.ID, 30))

	n, err := st.CountSentOrders(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	// The newest rows survive.
	orders, err := st.ListSentOrders(ctx, conn.ID, 30)
	require.NoError(t, err)
	require.Len(t, orders, 30)
	assert.Equal(t, int64(40), orders[0].OrderID)
}

func TestRetryQueueLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	now := time.Now().UTC().Truncate(time.Second)
	item := &RetryItem{
		ConnectionID: conn.ID,
		OrderID:      44,
		ExternalID:   "upstream_acme_prod_44",
		WriteDate:    "2025-01-15 12:00:00",
		Payload:      []byte(`{"event":"order.confirmed"}`),
		NextRetryAt:  now.Add(30 * time.Second),
		LastError:    "HTTP 503",
	}
	require.NoError(t, st.EnqueueRetry(ctx, item))
	assert.Equal(t, 1, item.Attempts, "attempts default to 1")
	assert.Equal(t, 5, item.MaxAttempts)
	assert.Equal(t, RetryPending, item.Status)

	// A second pending item for the same order is rejected.
	dup := &RetryItem{
		ConnectionID: conn.ID,
		OrderID:      44,
		ExternalID:   "upstream_acme_prod_44",
		Payload:      []byte(`{}`),
		NextRetryAt:  now,
	}
	assert.ErrorIs(t, st.EnqueueRetry(ctx, dup), ErrDuplicateRetry)

	// Not due yet.
	due, err := st.DueRetryItems(ctx, conn.ID, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = st.DueRetryItems(ctx, conn.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []byte(`{"event":"order.confirmed"}`), due[0].Payload)
	assert.Equal(t, "2025-01-15 12:00:00", due[0].WriteDate)

	require.NoError(t, st.MarkRetrySuccess(ctx, item.ID))
	got, err := st.GetRetryItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, RetrySuccess, got.Status)

	// Once the pending item is resolved, the same order may queue again.
	require.NoError(t, st.EnqueueRetry(ctx, dup))
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	item := &RetryItem{
		ConnectionID: conn.ID,
		OrderID:      45,
		ExternalID:   "upstream_acme_prod_45",
		Payload:      []byte(`{}`),
		NextRetryAt:  time.Now(),
		MaxAttempts:  3,
	}
	require.NoError(t, st.EnqueueRetry(ctx, item))

	next := time.Now().Add(time.Minute)
	require.NoError(t, st.UpdateRetryAfterAttempt(ctx, item.ID, 2, next, "HTTP 503"))
	got, _ := st.GetRetryItem(ctx, item.ID)
	assert.Equal(t, RetryPending, got.Status)

	require.NoError(t, st.UpdateRetryAfterAttempt(ctx, item.ID, 3, next, "HTTP 503"))
	got, _ = st.GetRetryItem(ctx, item.ID)
	assert.Equal(t, RetryFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "HTTP 503", got.LastError)
}

func TestDiscardRetryItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	item := &RetryItem{
		ConnectionID: conn.ID,
		OrderID:      46,
		ExternalID:   "upstream_acme_prod_46",
		Payload:      []byte(`{}`),
		NextRetryAt:  time.Now(),
	}
	require.NoError(t, st.EnqueueRetry(ctx, item))
	require.NoError(t, st.DiscardRetryItem(ctx, item.ID))

	got, err := st.GetRetryItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, RetryDiscarded, got.Status)

	assert.ErrorIs(t, st.DiscardRetryItem(ctx, 9999), ErrRetryItemNotFound)
}

func TestSyncLogAppendAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendSyncLog(ctx, &SyncLog{
			ConnectionID: conn.ID,
			StartedAt:    time.Now().UTC(),
			OrdersFound:  i,
			BreakerEntry: BreakerClosed,
			BreakerExit:  BreakerClosed,
		}))
	}

	logs, err := st.ListSyncLogs(ctx, conn.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Newest first.
	assert.Equal(t, 2, logs[0].OrdersFound)
	assert.Equal(t, 1, logs[1].OrdersFound)
}

func TestSyncLogTrim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	for i := 0; i < 120; i++ {
		require.NoError(t, st.AppendSyncLog(ctx, &SyncLog{
			ConnectionID: conn.ID,
			StartedAt:    time.Now().UTC(),
			OrdersFound:  i,
			BreakerEntry: BreakerClosed,
			BreakerExit:  BreakerClosed,
		}))
	}
	require.NoError(t, st.TrimSyncLogs(ctx, conn.ID, 100))

	logs, err := st.ListSyncLogs(ctx, conn.ID, 200)
	require.NoError(t, err)
	require.Len(t, logs, 100)
	// Newest survives, oldest 20 are gone.
	assert.Equal(t, 119, logs[0].OrdersFound)
	assert.Equal(t, 20, logs[99].OrdersFound)
}

func TestCleanupFinishedRetries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conn := newTestConnection()
	require.NoError(t, st.CreateConnection(ctx, conn))

	enqueue := func(orderID int64, maxAttempts int) *RetryItem {
		item := &RetryItem{
			ConnectionID: conn.ID,
			OrderID:      orderID,
			ExternalID:   "upstream_acme_prod_" + strconv.FormatInt(orderID, 10),
			Payload:      []byte(`{}`),
			MaxAttempts:  maxAttempts,
			NextRetryAt:  time.Now(),
		}
		require.NoError(t, st.EnqueueRetry(ctx, item))
		return item
	}

	pending := enqueue(60, 5)
	delivered := enqueue(61, 5)
	abandoned := enqueue(62, 5)
	exhausted := enqueue(63, 1)

	require.NoError(t, st.MarkRetrySuccess(ctx, delivered.ID))
	require.NoError(t, st.DiscardRetryItem(ctx, abandoned.ID))
	require.NoError(t, st.UpdateRetryAfterAttempt(ctx, exhausted.ID, 1, time.Now(), "boom"))

	require.NoError(t, st.CleanupFinishedRetries(ctx, conn.ID))

	items, err := st.ListRetryItems(ctx, conn.ID, 10)
	require.NoError(t, err)
	require.Len(t, items, 2, "success and discarded removed, pending and failed kept")

	statuses := map[int64]RetryStatus{}
	for _, item := range items {
		statuses[item.ID] = item.Status
	}
	assert.Equal(t, RetryPending, statuses[pending.ID])
	assert.Equal(t, RetryFailed, statuses[exhausted.ID])
}
