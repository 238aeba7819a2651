// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
store.go - SQLite Store

Durable state for connections, the delivery ledger, the retry queue, and
cycle logs. The store is the only cross-task shared resource in the engine:
writes from concurrent pollers are serialized by SQLite's single-writer
model, and WAL journaling keeps readers from blocking the writer.

Timestamps are stored as RFC3339 UTC strings, except the per-connection
high-water mark which keeps the upstream's own write_date format verbatim
so it can be compared and echoed back into upstream queries unchanged.
Both formats order lexicographically.
*/
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    upstream_url TEXT NOT NULL,
    upstream_db TEXT NOT NULL,
    upstream_username TEXT NOT NULL,
    upstream_api_key TEXT NOT NULL,
    session_id INTEGER,
    webhook_url TEXT NOT NULL,
    webhook_secret TEXT NOT NULL DEFAULT '',
    store_id TEXT NOT NULL DEFAULT '',
    client_id TEXT NOT NULL DEFAULT '',
    poll_interval_seconds INTEGER NOT NULL DEFAULT 60,
    active INTEGER NOT NULL DEFAULT 1,
    last_sync_at TEXT,
    breaker_state TEXT NOT NULL DEFAULT 'closed',
    failure_count INTEGER NOT NULL DEFAULT 0,
    half_open_successes INTEGER NOT NULL DEFAULT 0,
    earliest_retry_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sent_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
    order_id INTEGER NOT NULL,
    write_date TEXT NOT NULL,
    sent_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS retry_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
    order_id INTEGER NOT NULL,
    external_id TEXT NOT NULL,
    write_date TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 1,
    max_attempts INTEGER NOT NULL DEFAULT 5,
    next_retry_at TEXT NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
    started_at TEXT NOT NULL,
    orders_found INTEGER NOT NULL DEFAULT 0,
    orders_sent INTEGER NOT NULL DEFAULT 0,
    orders_failed INTEGER NOT NULL DEFAULT 0,
    orders_skipped INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    breaker_entry TEXT NOT NULL DEFAULT 'closed',
    breaker_exit TEXT NOT NULL DEFAULT 'closed'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sent_orders_unique
    ON sent_orders(connection_id, order_id, write_date);
CREATE INDEX IF NOT EXISTS idx_sent_orders_connection
    ON sent_orders(connection_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_queue_pending
    ON retry_queue(connection_id, order_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_retry_queue_due
    ON retry_queue(connection_id, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_sync_logs_connection
    ON sync_logs(connection_id);
`

// Store owns all persisted state. All components read and write through it.
type Store struct {
	db  *sql.DB
	enc *FieldEncryptor
}

// Open creates or opens the SQLite database at path, applies the schema,
// and enables WAL journaling so readers do not block the single writer.
func Open(path, encryptionKey string) (*Store, error) {
	enc, err := NewFieldEncryptor(encryptionKey)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer per database file; funneling all writes
	// through a single connection avoids SQLITE_BUSY between pollers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, enc: enc}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// now returns the current UTC time truncated to whole seconds, matching
// the precision stored in timestamp columns.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isUniqueViolation reports whether err is a unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
