// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
sender.go - Webhook Dispatcher

POSTs one envelope at a time to a connection's webhook endpoint. Any
status outside [200, 300) or any transport error is a SendError whose
message becomes the retry item's last_error; response bodies are captured
truncated so a chatty endpoint cannot bloat the queue.
*/
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds one webhook POST.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failure response is kept as last_error.
	maxErrorBody = 200
)

// SendError is a failed webhook delivery. StatusCode is 0 for transport
// errors that never produced a response.
type SendError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return "webhook send failed: " + e.Err.Error()
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Sender delivers envelopes over a shared per-connection HTTP client.
type Sender struct {
	http *http.Client
	log  zerolog.Logger
}

// NewSender builds a dispatcher. A nil client gets a dedicated one with
// DefaultTimeout.
func NewSender(httpClient *http.Client, log zerolog.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Sender{http: httpClient, log: log}
}

// Send POSTs payload to url with the signing headers. The payload is
// accepted pre-serialized so retried envelopes go out byte-identical to
// the original attempt.
func (s *Sender) Send(ctx context.Context, url string, payload []byte, secret, connectionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upstream-Connection-Id", connectionID)
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.log.Debug().Str("connection_id", connectionID).Int("status", resp.StatusCode).
			Msg("Webhook delivered")
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &SendError{StatusCode: resp.StatusCode, Body: string(body)}
}

// SendEnvelope serializes and delivers an envelope, returning the exact
// bytes sent so callers can persist them for retries.
func (s *Sender) SendEnvelope(ctx context.Context, url string, envelope interface{}, secret, connectionID string) ([]byte, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return payload, s.Send(ctx, url, payload, secret, connectionID)
}

// backoffSchedule maps attempt count to the wait before the next try.
// Attempts past the end stay at the cap.
var backoffSchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	600 * time.Second,
}

// NextRetryDelay returns the backoff after the given attempt number
// (1-based): 30s, 60s, 120s, 240s, 600s, then 600s forever.
func NextRetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(backoffSchedule) {
		attempts = len(backoffSchedule)
	}
	return backoffSchedule[attempts-1]
}
