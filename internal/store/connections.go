// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrConnectionNotFound is returned when a connection id does not exist.
var ErrConnectionNotFound = errors.New("connection not found")

const connectionColumns = `id, name, upstream_url, upstream_db, upstream_username,
    upstream_api_key, session_id, webhook_url, webhook_secret, store_id, client_id,
    poll_interval_seconds, active, last_sync_at, breaker_state, failure_count,
    half_open_successes, earliest_retry_at, created_at, updated_at`

// CreateConnection inserts a new connection. A missing id is generated;
// credential fields are encrypted before they reach disk.
func (s *Store) CreateConnection(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.PollIntervalSeconds <= 0 {
		conn.PollIntervalSeconds = 60
	}
	if conn.BreakerState == "" {
		conn.BreakerState = BreakerClosed
	}

	apiKey, err := s.enc.Encrypt(conn.UpstreamAPIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	secret, err := s.enc.Encrypt(conn.WebhookSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	ts := now()
	conn.CreatedAt = ts
	conn.UpdatedAt = ts

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO connections
            (id, name, upstream_url, upstream_db, upstream_username, upstream_api_key,
             session_id, webhook_url, webhook_secret, store_id, client_id,
             poll_interval_seconds, active, last_sync_at, breaker_state, failure_count,
             half_open_successes, earliest_retry_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Name, conn.UpstreamURL, conn.UpstreamDB, conn.UpstreamUsername,
		apiKey, nullableInt64(conn.SessionID), conn.WebhookURL, secret, conn.StoreID,
		conn.ClientID, conn.PollIntervalSeconds, conn.Active, nullableString(conn.LastSyncAt),
		string(conn.BreakerState), conn.FailureCount, conn.HalfOpenSuccesses,
		nullableTime(conn.EarliestRetryAt), formatTime(ts), formatTime(ts))
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection fetches one connection by id with credentials decrypted.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	return s.scanConnection(row)
}

// ListConnections returns every connection ordered by name.
func (s *Store) ListConnections(ctx context.Context) ([]*Connection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionColumns+` FROM connections ORDER BY name`)
}

// ListActiveConnections returns connections eligible for polling.
func (s *Store) ListActiveConnections(ctx context.Context) ([]*Connection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE active = 1 ORDER BY name`)
}

// UpdateConnection rewrites the operator-editable fields of a connection.
func (s *Store) UpdateConnection(ctx context.Context, conn *Connection) error {
	apiKey, err := s.enc.Encrypt(conn.UpstreamAPIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	secret, err := s.enc.Encrypt(conn.WebhookSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	ts := now()
	res, err := s.db.ExecContext(ctx, `
        UPDATE connections SET
            name = ?, upstream_url = ?, upstream_db = ?, upstream_username = ?,
            upstream_api_key = ?, webhook_url = ?, webhook_secret = ?, store_id = ?,
            client_id = ?, poll_interval_seconds = ?, active = ?, updated_at = ?
        WHERE id = ?`,
		conn.Name, conn.UpstreamURL, conn.UpstreamDB, conn.UpstreamUsername,
		apiKey, conn.WebhookURL, secret, conn.StoreID, conn.ClientID,
		conn.PollIntervalSeconds, conn.Active, formatTime(ts), conn.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return requireRow(res)
}

// DeleteConnection removes a connection; ledger, retry, and log rows
// cascade away with it.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return requireRow(res)
}

// UpdateBreaker persists the breaker fields after a cycle or operator reset.
func (s *Store) UpdateBreaker(ctx context.Context, id string, state BreakerState,
	failureCount, halfOpenSuccesses int, earliestRetryAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE connections SET
            breaker_state = ?, failure_count = ?, half_open_successes = ?,
            earliest_retry_at = ?, updated_at = ?
        WHERE id = ?`,
		string(state), failureCount, halfOpenSuccesses, nullableTime(earliestRetryAt),
		formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update breaker state: %w", err)
	}
	return requireRow(res)
}

// UpdateLastSyncAt advances the high-water mark. The guard makes the write
// a no-op if a newer mark is already persisted, so the cursor never
// regresses regardless of caller interleaving.
func (s *Store) UpdateLastSyncAt(ctx context.Context, id, lastSyncAt string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE connections SET last_sync_at = ?, updated_at = ?
        WHERE id = ? AND (last_sync_at IS NULL OR last_sync_at <= ?)`,
		lastSyncAt, formatTime(now()), id, lastSyncAt)
	if err != nil {
		return fmt.Errorf("failed to update last_sync_at: %w", err)
	}
	return nil
}

// UpdateSessionID caches (or clears, with nil) the upstream session id.
func (s *Store) UpdateSessionID(ctx context.Context, id string, sessionID *int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET session_id = ?, updated_at = ? WHERE id = ?`,
		nullableInt64(sessionID), formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update session id: %w", err)
	}
	return nil
}

func (s *Store) queryConnections(ctx context.Context, query string, args ...interface{}) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conns []*Connection
	for rows.Next() {
		conn, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanConnection(row scanner) (*Connection, error) {
	var (
		conn            Connection
		apiKey, secret  string
		sessionID       sql.NullInt64
		lastSyncAt      sql.NullString
		earliestRetryAt sql.NullString
		created, update string
	)

	err := row.Scan(&conn.ID, &conn.Name, &conn.UpstreamURL, &conn.UpstreamDB,
		&conn.UpstreamUsername, &apiKey, &sessionID, &conn.WebhookURL, &secret,
		&conn.StoreID, &conn.ClientID, &conn.PollIntervalSeconds, &conn.Active,
		&lastSyncAt, (*string)(&conn.BreakerState), &conn.FailureCount,
		&conn.HalfOpenSuccesses, &earliestRetryAt, &created, &update)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if conn.UpstreamAPIKey, err = s.enc.Decrypt(apiKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt api key for %s: %w", conn.ID, err)
	}
	if conn.WebhookSecret, err = s.enc.Decrypt(secret); err != nil {
		return nil, fmt.Errorf("failed to decrypt webhook secret for %s: %w", conn.ID, err)
	}

	if sessionID.Valid {
		v := sessionID.Int64
		conn.SessionID = &v
	}
	if lastSyncAt.Valid {
		v := lastSyncAt.String
		conn.LastSyncAt = &v
	}
	if earliestRetryAt.Valid {
		t := parseTime(earliestRetryAt.String)
		conn.EarliestRetryAt = &t
	}
	conn.CreatedAt = parseTime(created)
	conn.UpdatedAt = parseTime(update)

	return &conn, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}
