// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
breaker.go - Per-Connection Circuit Breaker

Three-state machine seeded from and persisted back to the connection row,
so a restart resumes exactly where the breaker left off. The worker calls
Allow at cycle start and reports Success or Failure exactly once per
executed cycle; a denied cycle reports nothing.

CLOSED trips to OPEN at five consecutive failures. OPEN holds for 120
seconds, then the next Allow admits a single probe cycle in HALF_OPEN. Two
consecutive half-open successes close the breaker; any half-open failure
reopens it for another hold period.
*/
package breaker

import (
	"time"

	"github.com/tomtom215/orderbridge/internal/store"
)

const (
	// FailureThreshold is the consecutive-failure count that trips the breaker.
	FailureThreshold = 5

	// OpenHold is how long an open breaker refuses cycles.
	OpenHold = 120 * time.Second

	// HalfOpenSuccesses is the consecutive probe successes needed to close.
	HalfOpenSuccesses = 2
)

// Breaker is the in-memory state machine for one connection. Not safe for
// concurrent use; each poller owns its instance.
type Breaker struct {
	state             store.BreakerState
	failureCount      int
	halfOpenSuccesses int
	earliestRetryAt   *time.Time

	// now is swapped in tests.
	now func() time.Time
}

// New seeds a breaker from persisted connection state.
func New(conn *store.Connection) *Breaker {
	state := conn.BreakerState
	if state == "" {
		state = store.BreakerClosed
	}
	return &Breaker{
		state:             state,
		failureCount:      conn.FailureCount,
		halfOpenSuccesses: conn.HalfOpenSuccesses,
		earliestRetryAt:   conn.EarliestRetryAt,
		now:               time.Now,
	}
}

// Allow reports whether a cycle may run. When the open hold has elapsed it
// transitions to HALF_OPEN and admits one probe.
func (b *Breaker) Allow() bool {
	switch b.state {
	case store.BreakerOpen:
		if b.earliestRetryAt != nil && b.now().Before(*b.earliestRetryAt) {
			return false
		}
		b.state = store.BreakerHalfOpen
		b.halfOpenSuccesses = 0
		return true
	default:
		return true
	}
}

// Success records a clean cycle.
func (b *Breaker) Success() {
	switch b.state {
	case store.BreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= HalfOpenSuccesses {
			b.reset()
		}
	default:
		b.failureCount = 0
	}
}

// Failure records a hard cycle fault. Rate-limited cycles do not reach
// here; the worker aborts those without a breaker verdict.
func (b *Breaker) Failure() {
	switch b.state {
	case store.BreakerHalfOpen:
		b.open()
	default:
		b.failureCount++
		if b.failureCount >= FailureThreshold {
			b.open()
		}
	}
}

// Reset force-closes the breaker on operator request.
func (b *Breaker) Reset() {
	b.reset()
}

// State returns the current breaker state.
func (b *Breaker) State() store.BreakerState {
	return b.state
}

// Snapshot returns the fields to persist on the connection row.
func (b *Breaker) Snapshot() (store.BreakerState, int, int, *time.Time) {
	return b.state, b.failureCount, b.halfOpenSuccesses, b.earliestRetryAt
}

func (b *Breaker) open() {
	at := b.now().Add(OpenHold)
	b.state = store.BreakerOpen
	b.halfOpenSuccesses = 0
	b.earliestRetryAt = &at
}

func (b *Breaker) reset() {
	b.state = store.BreakerClosed
	b.failureCount = 0
	b.halfOpenSuccesses = 0
	b.earliestRetryAt = nil
}
