// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

// Package metrics exposes Prometheus instrumentation for the polling
// engine: cycle outcomes and durations, delivered and failed orders,
// breaker state, and retry queue depth, all labeled by connection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts poll cycles by connection and outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbridge_cycles_total",
			Help: "Total number of poll cycles",
		},
		[]string{"connection", "result"},
	)

	// CycleDuration tracks wall-clock time per poll cycle.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderbridge_cycle_duration_seconds",
			Help:    "Duration of poll cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"connection"},
	)

	// OrdersSentTotal counts envelopes delivered to webhooks.
	OrdersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbridge_orders_sent_total",
			Help: "Total number of order envelopes delivered",
		},
		[]string{"connection"},
	)

	// OrdersFailedTotal counts dispatch failures that went to the retry queue.
	OrdersFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbridge_orders_failed_total",
			Help: "Total number of order envelope delivery failures",
		},
		[]string{"connection"},
	)

	// BreakerStateGauge reports the circuit breaker state per connection
	// (0 closed, 1 half-open, 2 open).
	BreakerStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbridge_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"connection"},
	)

	// RetryQueueDepth reports pending retry items per connection.
	RetryQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbridge_retry_queue_depth",
			Help: "Number of pending retry items",
		},
		[]string{"connection"},
	)
)

// Cycle outcomes.
const (
	ResultOK          = "ok"
	ResultFailed      = "failed"
	ResultSkipped     = "skipped"
	ResultRateLimited = "rate_limited"
)

// RecordCycle records one completed or skipped poll cycle.
func RecordCycle(connection, result string, duration time.Duration) {
	CyclesTotal.WithLabelValues(connection, result).Inc()
	CycleDuration.WithLabelValues(connection).Observe(duration.Seconds())
}

// RecordOrdersSent adds delivered envelope counts for a connection.
func RecordOrdersSent(connection string, n int) {
	if n > 0 {
		OrdersSentTotal.WithLabelValues(connection).Add(float64(n))
	}
}

// RecordOrdersFailed adds failed envelope counts for a connection.
func RecordOrdersFailed(connection string, n int) {
	if n > 0 {
		OrdersFailedTotal.WithLabelValues(connection).Add(float64(n))
	}
}

// SetBreakerState publishes the breaker state for a connection.
func SetBreakerState(connection, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	BreakerStateGauge.WithLabelValues(connection).Set(v)
}

// SetRetryQueueDepth publishes the pending retry count for a connection.
func SetRetryQueueDepth(connection string, depth int) {
	RetryQueueDepth.WithLabelValues(connection).Set(float64(depth))
}
