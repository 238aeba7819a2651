// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateRetry is returned when a PENDING retry item already
	// exists for the same (connection, order) pair.
	ErrDuplicateRetry = errors.New("retry item already pending for this order")

	// ErrRetryItemNotFound is returned when a retry item id does not exist.
	ErrRetryItemNotFound = errors.New("retry item not found")
)

const retryColumns = `id, connection_id, order_id, external_id, write_date, payload,
    attempts, max_attempts, next_retry_at, last_error, status, created_at, updated_at`

// EnqueueRetry durably stores a failed envelope for later delivery.
// Attempts start at 1 (the dispatch that just failed). A second PENDING
// item for the same order is rejected with ErrDuplicateRetry.
func (s *Store) EnqueueRetry(ctx context.Context, item *RetryItem) error {
	if item.Attempts <= 0 {
		item.Attempts = 1
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = 5
	}
	if item.Status == "" {
		item.Status = RetryPending
	}

	ts := now()
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO retry_queue
            (connection_id, order_id, external_id, write_date, payload, attempts,
             max_attempts, next_retry_at, last_error, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ConnectionID, item.OrderID, item.ExternalID, item.WriteDate,
		string(item.Payload), item.Attempts, item.MaxAttempts,
		formatTime(item.NextRetryAt), item.LastError, string(item.Status),
		formatTime(ts), formatTime(ts))
	if isUniqueViolation(err) {
		return ErrDuplicateRetry
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue retry item: %w", err)
	}

	item.ID, _ = res.LastInsertId()
	item.CreatedAt = ts
	item.UpdatedAt = ts
	return nil
}

// DueRetryItems returns PENDING items whose next_retry_at has passed,
// oldest deadline first.
func (s *Store) DueRetryItems(ctx context.Context, connectionID string, asOf time.Time) ([]*RetryItem, error) {
	return s.queryRetryItems(ctx, `
        SELECT `+retryColumns+` FROM retry_queue
        WHERE connection_id = ? AND status = 'pending' AND next_retry_at <= ?
        ORDER BY next_retry_at`,
		connectionID, formatTime(asOf))
}

// ListRetryItems returns the newest retry items for a connection.
func (s *Store) ListRetryItems(ctx context.Context, connectionID string, limit int) ([]*RetryItem, error) {
	return s.queryRetryItems(ctx, `
        SELECT `+retryColumns+` FROM retry_queue
        WHERE connection_id = ? ORDER BY id DESC LIMIT ?`,
		connectionID, limit)
}

// CountPendingRetries returns the pending queue depth for a connection.
func (s *Store) CountPendingRetries(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_queue WHERE connection_id = ? AND status = 'pending'`,
		connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending retries: %w", err)
	}
	return n, nil
}

// GetRetryItem fetches one retry item by id.
func (s *Store) GetRetryItem(ctx context.Context, id int64) (*RetryItem, error) {
	items, err := s.queryRetryItems(ctx,
		`SELECT `+retryColumns+` FROM retry_queue WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrRetryItemNotFound
	}
	return items[0], nil
}

// UpdateRetryAfterAttempt records a failed delivery attempt: the new attempt
// count, the recomputed deadline, and the truncated error text. The item
// stays PENDING unless attempts have reached the cap, in which case it is
// marked FAILED and left for the operator.
func (s *Store) UpdateRetryAfterAttempt(ctx context.Context, id int64, attempts int,
	nextRetryAt time.Time, lastError string) error {
	status := RetryPending
	item, err := s.GetRetryItem(ctx, id)
	if err != nil {
		return err
	}
	if attempts >= item.MaxAttempts {
		status = RetryFailed
	}

	_, err = s.db.ExecContext(ctx, `
        UPDATE retry_queue SET
            attempts = ?, next_retry_at = ?, last_error = ?, status = ?, updated_at = ?
        WHERE id = ?`,
		attempts, formatTime(nextRetryAt), lastError, string(status),
		formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update retry item: %w", err)
	}
	return nil
}

// CleanupFinishedRetries deletes SUCCESS and DISCARDED items so the queue
// only holds rows that still need attention. FAILED items are kept; they
// await an operator decision.
func (s *Store) CleanupFinishedRetries(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM retry_queue
        WHERE connection_id = ? AND status IN ('success', 'discarded')`,
		connectionID)
	if err != nil {
		return fmt.Errorf("failed to clean up finished retries: %w", err)
	}
	return nil
}

// MarkRetrySuccess closes out a delivered retry item.
func (s *Store) MarkRetrySuccess(ctx context.Context, id int64) error {
	return s.setRetryStatus(ctx, id, RetrySuccess)
}

// DiscardRetryItem abandons a retry item on operator request.
func (s *Store) DiscardRetryItem(ctx context.Context, id int64) error {
	return s.setRetryStatus(ctx, id, RetryDiscarded)
}

func (s *Store) setRetryStatus(ctx context.Context, id int64, status RetryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE retry_queue SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to set retry status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRetryItemNotFound
	}
	return nil
}

func (s *Store) queryRetryItems(ctx context.Context, query string, args ...interface{}) ([]*RetryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*RetryItem
	for rows.Next() {
		var (
			item                 RetryItem
			payload              string
			nextAt, crAt, updAt  string
			lastError, statusStr string
		)
		if err := rows.Scan(&item.ID, &item.ConnectionID, &item.OrderID,
			&item.ExternalID, &item.WriteDate, &payload, &item.Attempts,
			&item.MaxAttempts, &nextAt, &lastError, &statusStr, &crAt, &updAt); err != nil {
			return nil, fmt.Errorf("failed to scan retry item: %w", err)
		}
		item.Payload = []byte(payload)
		item.NextRetryAt = parseTime(nextAt)
		item.LastError = lastError
		item.Status = RetryStatus(statusStr)
		item.CreatedAt = parseTime(crAt)
		item.UpdatedAt = parseTime(updAt)
		items = append(items, &item)
	}
	return items, rows.Err()
}
