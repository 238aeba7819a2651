// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
client.go - Upstream JSON-RPC Client

Speaks JSON-RPC 2.0 against one upstream ERP instance: authenticate via the
common service, everything else via object/execute_kw with the positional
arguments wrapped in a single enclosing list. The numeric session id is
cached across calls; any auth failure invalidates it and object calls get
exactly one transparent re-authentication before the error is surfaced.

HTTP 429 is surfaced as ErrRateLimited so callers can back off for the
whole cycle instead of treating it as an upstream fault.
*/
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every RPC round trip.
const DefaultTimeout = 30 * time.Second

// TimeLayout is the timestamp format the upstream uses in date_order and
// write_date fields. It orders lexicographically, which the high-water
// mark comparison relies on.
const TimeLayout = "2006-01-02 15:04:05"

// ErrRateLimited is returned when the upstream answers HTTP 429.
var ErrRateLimited = errors.New("upstream rate limit exceeded")

// AuthError marks authentication failures, including expired sessions
// detected mid-call.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "upstream authentication failed: " + e.Message
}

// RPCError is a structured error returned by the upstream inside an
// otherwise successful HTTP response.
type RPCError struct {
	Message string
}

func (e *RPCError) Error() string {
	return "upstream rpc error: " + e.Message
}

// Config carries everything needed to talk to one upstream tenant.
type Config struct {
	URL      string
	Database string
	Username string
	APIKey   string

	// SessionID seeds the cached session from persisted state; nil means
	// the first object call authenticates.
	SessionID *int64

	// HTTPClient lets callers share or bulkhead transports. Nil gets a
	// dedicated client with DefaultTimeout.
	HTTPClient *http.Client

	// Limiter paces requests against this upstream. Nil means unlimited.
	Limiter *rate.Limiter
}

// Client is a stateless RPC surface plus a cached session id. Safe for
// concurrent use, though the poller drives each instance from one goroutine.
type Client struct {
	baseURL  string
	database string
	username string
	apiKey   string

	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	mu        sync.Mutex
	sessionID *int64
}

// NewClient builds a client for one connection.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		database:  cfg.Database,
		username:  cfg.Username,
		apiKey:    cfg.APIKey,
		http:      httpClient,
		limiter:   cfg.Limiter,
		log:       log,
		sessionID: cfg.SessionID,
	}
}

// SessionID returns the cached session id, nil when unauthenticated.
func (c *Client) SessionID() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// InvalidateSession drops the cached session; the next object call
// re-authenticates.
func (c *Client) InvalidateSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = nil
}

// Authenticate exchanges the stored credentials for a numeric session id.
// The upstream answers false (not an error object) on bad credentials.
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	result, err := c.rpcCall(ctx, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "call",
		"params": map[string]interface{}{
			"service": "common",
			"method":  "authenticate",
			"args":    []interface{}{c.database, c.username, c.apiKey, map[string]interface{}{}},
		},
	})
	if err != nil {
		return 0, err
	}

	var uid json.Number
	if err := decodeResult(result, &uid); err != nil {
		return 0, &AuthError{Message: fmt.Sprintf("credentials rejected for %s@%s", c.username, c.database)}
	}
	id, err := uid.Int64()
	if err != nil || id <= 0 {
		return 0, &AuthError{Message: fmt.Sprintf("credentials rejected for %s@%s", c.username, c.database)}
	}

	c.mu.Lock()
	c.sessionID = &id
	c.mu.Unlock()

	c.log.Info().Int64("session_id", id).Str("database", c.database).
		Msg("Authenticated against upstream")
	return id, nil
}

// SearchRead runs search_read on a model. Limit and order are only sent
// when set; the upstream treats their presence as meaningful.
func (c *Client) SearchRead(ctx context.Context, model string, domain []interface{},
	fields []string, limit int, order string) ([]Record, error) {
	kwargs := map[string]interface{}{"fields": fields}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if order != "" {
		kwargs["order"] = order
	}
	return c.objectCall(ctx, model, "search_read", []interface{}{domain}, kwargs)
}

// Read fetches the named fields for a batch of ids in one round trip.
// An empty id list short-circuits without touching the network.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.objectCall(ctx, model, "read",
		[]interface{}{ids}, map[string]interface{}{"fields": fields})
}

// objectCall wraps execute_kw with session management: authenticate when
// there is no cached session, and retry exactly once after re-auth when the
// session turns out to be stale.
func (c *Client) objectCall(ctx context.Context, model, method string,
	args []interface{}, kwargs map[string]interface{}) ([]Record, error) {
	if c.SessionID() == nil {
		if _, err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	records, err := c.execute(ctx, model, method, args, kwargs)
	var authErr *AuthError
	if errors.As(err, &authErr) {
		c.log.Warn().Str("model", model).Str("method", method).
			Msg("Session expired, re-authenticating")
		c.InvalidateSession()
		if _, err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		return c.execute(ctx, model, method, args, kwargs)
	}
	return records, err
}

func (c *Client) execute(ctx context.Context, model, method string,
	args []interface{}, kwargs map[string]interface{}) ([]Record, error) {
	session := c.SessionID()
	if session == nil {
		return nil, &AuthError{Message: "no session"}
	}

	result, err := c.rpcCall(ctx, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "call",
		"params": map[string]interface{}{
			"service": "object",
			"method":  "execute_kw",
			"args": []interface{}{
				c.database, *session, c.apiKey, model, method, args, kwargs,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := decodeResult(result, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s.%s result: %w", model, method, err)
	}
	return records, nil
}

// rpcEnvelope is the upstream response frame.
type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Message string       `json:"message"`
	Data    rpcErrorData `json:"data"`
}

type rpcErrorData struct {
	Message string `json:"message"`
}

func (c *Client) rpcCall(ctx context.Context, payload map[string]interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc transport error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc http error: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read rpc response: %w", err)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return nil, classifyRPCError(envelope.Error)
	}
	return envelope.Result, nil
}

// classifyRPCError tells expired-session and access errors apart from
// ordinary server-side failures. The upstream does not tag its errors, so
// this matches on the message the way its own clients do.
func classifyRPCError(body *rpcErrorBody) error {
	msg := body.Data.Message
	if msg == "" {
		msg = body.Message
	}
	if strings.Contains(msg, "Session") ||
		strings.Contains(msg, "Access Denied") ||
		strings.Contains(strings.ToLower(msg), "authenticate") {
		return &AuthError{Message: msg}
	}
	return &RPCError{Message: msg}
}

// decodeResult unmarshals a raw result with numeric fidelity preserved:
// every number comes out as json.Number so monetary values survive
// re-encoding verbatim.
func decodeResult(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return errors.New("empty result")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}
