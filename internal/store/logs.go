// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package store

import (
	"context"
	"fmt"
)

// AppendSyncLog records one completed (or aborted) poll cycle.
func (s *Store) AppendSyncLog(ctx context.Context, log *SyncLog) error {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_logs
            (connection_id, started_at, orders_found, orders_sent, orders_failed,
             orders_skipped, duration_ms, error_message, breaker_entry, breaker_exit)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ConnectionID, formatTime(log.StartedAt), log.OrdersFound, log.OrdersSent,
		log.OrdersFailed, log.OrdersSkipped, log.DurationMS, log.ErrorMessage,
		string(log.BreakerEntry), string(log.BreakerExit))
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	log.ID, _ = res.LastInsertId()
	return nil
}

// TrimSyncLogs removes the oldest cycle records beyond the most recent
// limit. Cycle logs are operator telemetry, not delivery state, so keeping
// a bounded window is enough.
func (s *Store) TrimSyncLogs(ctx context.Context, connectionID string, limit int) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM sync_logs WHERE connection_id = ? AND id NOT IN (
            SELECT id FROM sync_logs WHERE connection_id = ?
            ORDER BY id DESC LIMIT ?
        )`,
		connectionID, connectionID, limit)
	if err != nil {
		return fmt.Errorf("failed to trim sync logs: %w", err)
	}
	return nil
}

// ListSyncLogs returns the most recent cycle records for a connection.
func (s *Store) ListSyncLogs(ctx context.Context, connectionID string, limit int) ([]*SyncLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, connection_id, started_at, orders_found, orders_sent, orders_failed,
               orders_skipped, duration_ms, error_message, breaker_entry, breaker_exit
        FROM sync_logs WHERE connection_id = ?
        ORDER BY id DESC LIMIT ?`,
		connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*SyncLog
	for rows.Next() {
		var (
			log          SyncLog
			startedAt    string
			entry, exitS string
		)
		if err := rows.Scan(&log.ID, &log.ConnectionID, &startedAt, &log.OrdersFound,
			&log.OrdersSent, &log.OrdersFailed, &log.OrdersSkipped, &log.DurationMS,
			&log.ErrorMessage, &entry, &exitS); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		log.StartedAt = parseTime(startedAt)
		log.BreakerEntry = BreakerState(entry)
		log.BreakerExit = BreakerState(exitS)
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
