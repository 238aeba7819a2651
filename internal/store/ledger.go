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
)

// WasSent reports whether the (connection, order, write_date) triple is in
// the delivery ledger.
func (s *Store) WasSent(ctx context.Context, connectionID string, orderID int64, writeDate string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
        SELECT 1 FROM sent_orders
        WHERE connection_id = ? AND order_id = ? AND write_date = ?`,
		connectionID, orderID, writeDate).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to query ledger: %w", err)
}

// MarkSent records a delivery in the ledger. A duplicate triple is ignored:
// the ledger's uniqueness constraint is what makes concurrent fresh-dispatch
// and retry-sweep marks collapse into a single row.
func (s *Store) MarkSent(ctx context.Context, connectionID string, orderID int64, writeDate string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO sent_orders (connection_id, order_id, write_date, sent_at)
        VALUES (?, ?, ?, ?)`,
		connectionID, orderID, writeDate, formatTime(now()))
	if err != nil {
		return fmt.Errorf("failed to mark order sent: %w", err)
	}
	return nil
}

// TrimLedger removes the oldest ledger rows beyond the most recent limit,
// ordered by sent-at (id breaks ties for rows written in the same second).
func (s *Store) TrimLedger(ctx context.Context, connectionID string, limit int) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM sent_orders WHERE connection_id = ? AND id NOT IN (
            SELECT id FROM sent_orders WHERE connection_id = ?
            ORDER BY sent_at DESC, id DESC LIMIT ?
        )`,
		connectionID, connectionID, limit)
	if err != nil {
		return fmt.Errorf("failed to trim ledger: %w", err)
	}
	return nil
}

// ListSentOrders returns the most recent ledger rows for a connection.
func (s *Store) ListSentOrders(ctx context.Context, connectionID string, limit int) ([]*SentOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, connection_id, order_id, write_date, sent_at
        FROM sent_orders WHERE connection_id = ?
        ORDER BY sent_at DESC, id DESC LIMIT ?`,
		connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []*SentOrder
	for rows.Next() {
		var (
			o      SentOrder
			sentAt string
		)
		if err := rows.Scan(&o.ID, &o.ConnectionID, &o.OrderID, &o.WriteDate, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		o.SentAt = parseTime(sentAt)
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// CountSentOrders returns the ledger size for a connection.
func (s *Store) CountSentOrders(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_orders WHERE connection_id = ?`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger: %w", err)
	}
	return n, nil
}
