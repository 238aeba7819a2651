// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package store

import "time"

// BreakerState is the persisted circuit breaker state of a connection.
type BreakerState string

// Circuit breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// RetryStatus is the lifecycle state of a retry queue item.
type RetryStatus string

// Retry item statuses. PENDING items are swept by the worker; FAILED and
// DISCARDED items require operator action.
const (
	RetryPending   RetryStatus = "pending"
	RetrySuccess   RetryStatus = "success"
	RetryFailed    RetryStatus = "failed"
	RetryDiscarded RetryStatus = "discarded"
)

// Connection is one configured upstream tenant. Credential fields are
// encrypted at rest; this struct always carries cleartext.
type Connection struct {
	ID               string
	Name             string
	UpstreamURL      string
	UpstreamDB       string
	UpstreamUsername string
	UpstreamAPIKey   string
	// SessionID caches the upstream session identifier between cycles.
	// Nil means not authenticated yet (or invalidated).
	SessionID *int64

	WebhookURL    string
	WebhookSecret string

	// StoreID and ClientID are opaque downstream correlation keys echoed
	// in every envelope.
	StoreID  string
	ClientID string

	PollIntervalSeconds int
	Active              bool

	// LastSyncAt is the high-water mark in the upstream's own write_date
	// format; nil means the connection has never seeded.
	LastSyncAt *string

	BreakerState      BreakerState
	FailureCount      int
	HalfOpenSuccesses int
	EarliestRetryAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SentOrder is one delivery ledger entry. Rows are never mutated; old rows
// are trimmed FIFO beyond the per-connection cap.
type SentOrder struct {
	ID           int64
	ConnectionID string
	OrderID      int64
	WriteDate    string
	SentAt       time.Time
}

// RetryItem is a durably queued envelope whose delivery failed. WriteDate
// carries the order's upstream write_date so a successful retry can still
// mark the ledger.
type RetryItem struct {
	ID           int64
	ConnectionID string
	OrderID      int64
	ExternalID   string
	WriteDate    string
	Payload      []byte
	Attempts     int
	MaxAttempts  int
	NextRetryAt  time.Time
	LastError    string
	Status       RetryStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SyncLog is one append-only cycle record.
type SyncLog struct {
	ID            int64
	ConnectionID  string
	StartedAt     time.Time
	OrdersFound   int
	OrdersSent    int
	OrdersFailed  int
	OrdersSkipped int
	DurationMS    int64
	ErrorMessage  string
	BreakerEntry  BreakerState
	BreakerExit   BreakerState
}
