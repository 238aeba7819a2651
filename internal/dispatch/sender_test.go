// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSendSuccess(t *testing.T) {
	var gotBody string
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSender(nil, zerolog.Nop())
	err := s.Send(context.Background(), srv.URL, []byte(`{"event":"order.confirmed"}`),
		"hook-secret", "conn-1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotBody != `{"event":"order.confirmed"}` {
		t.Errorf("body = %s", gotBody)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if secret := gotHeaders.Get("X-Webhook-Secret"); secret != "hook-secret" {
		t.Errorf("X-Webhook-Secret = %q", secret)
	}
	if id := gotHeaders.Get("X-Upstream-Connection-Id"); id != "conn-1" {
		t.Errorf("X-Upstream-Connection-Id = %q", id)
	}
}

func TestSendOmitsEmptySecret(t *testing.T) {
	var hasSecret bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasSecret = r.Header[http.CanonicalHeaderKey("X-Webhook-Secret")]
	}))
	defer srv.Close()

	s := NewSender(nil, zerolog.Nop())
	if err := s.Send(context.Background(), srv.URL, []byte(`{}`), "", "conn-1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if hasSecret {
		t.Error("empty secret should not produce a header")
	}
}

func TestSendFailureCapturesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream maintenance " + strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	s := NewSender(nil, zerolog.Nop())
	err := s.Send(context.Background(), srv.URL, []byte(`{}`), "", "conn-1")

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("got %v, want SendError", err)
	}
	if sendErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", sendErr.StatusCode)
	}
	if len(sendErr.Body) > maxErrorBody {
		t.Errorf("captured body = %d bytes, want <= %d", len(sendErr.Body), maxErrorBody)
	}
	if !strings.HasPrefix(sendErr.Body, "upstream maintenance") {
		t.Errorf("body = %q", sendErr.Body)
	}
}

func TestSendTransportError(t *testing.T) {
	s := NewSender(&http.Client{Timeout: 50 * time.Millisecond}, zerolog.Nop())
	err := s.Send(context.Background(), "http://127.0.0.1:1", []byte(`{}`), "", "conn-1")

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("got %v, want SendError", err)
	}
	if sendErr.StatusCode != 0 {
		t.Errorf("transport error status = %d, want 0", sendErr.StatusCode)
	}
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 600 * time.Second},
		{6, 600 * time.Second},
		{12, 600 * time.Second},
		{0, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := NextRetryDelay(tt.attempts); got != tt.want {
			t.Errorf("NextRetryDelay(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}
