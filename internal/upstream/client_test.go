// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Service string        `json:"service"`
		Method  string        `json:"method"`
		Args    []interface{} `json:"args"`
	} `json:"params"`
}

func decodeRequest(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func writeResult(w http.ResponseWriter, result string) {
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":` + result + `}`))
}

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		URL:      serverURL,
		Database: "acme_prod",
		Username: "bridge",
		APIKey:   "key",
	}, zerolog.Nop())
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jsonrpc" {
			t.Errorf("path = %q, want /jsonrpc", r.URL.Path)
		}
		req := decodeRequest(t, r)
		if req.Params.Service != "common" || req.Params.Method != "authenticate" {
			t.Errorf("got %s/%s, want common/authenticate", req.Params.Service, req.Params.Method)
		}
		if len(req.Params.Args) != 4 {
			t.Errorf("authenticate args = %d, want 4", len(req.Params.Args))
		}
		writeResult(w, "7")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	uid, err := c.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if uid != 7 {
		t.Fatalf("uid = %d, want 7", uid)
	}
	if session := c.SessionID(); session == nil || *session != 7 {
		t.Fatal("session not cached")
	}
}

func TestAuthenticateRejected(t *testing.T) {
	// The upstream answers false, not an error object, for bad credentials.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, "false")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v, want AuthError", err)
	}
	if c.SessionID() != nil {
		t.Fatal("failed auth cached a session")
	}
}

func TestSearchReadFraming(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		order     string
		wantKeys  []string
		extraKeys []string
	}{
		{"limit and order set", 100, "write_date asc", []string{"fields", "limit", "order"}, nil},
		{"limit and order omitted when zero", 0, "", []string{"fields"}, []string{"limit", "order"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got rpcRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				req := decodeRequest(t, r)
				if req.Params.Method == "authenticate" {
					writeResult(w, "7")
					return
				}
				got = req
				writeResult(w, `[{"id": 42, "name": "S00042"}]`)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL)
			records, err := c.SearchRead(context.Background(), "sale.order",
				[]interface{}{[]interface{}{"state", "in", []string{"sale", "done"}}},
				[]string{"name"}, tt.limit, tt.order)
			if err != nil {
				t.Fatalf("SearchRead: %v", err)
			}
			if len(records) != 1 || records[0].ID() != 42 {
				t.Fatalf("records = %v", records)
			}

			// execute_kw positional args: db, uid, key, model, method, args, kwargs
			args := got.Params.Args
			if got.Params.Service != "object" || got.Params.Method != "execute_kw" {
				t.Fatalf("got %s/%s", got.Params.Service, got.Params.Method)
			}
			if len(args) != 7 {
				t.Fatalf("execute_kw args = %d, want 7", len(args))
			}
			if args[3] != "sale.order" || args[4] != "search_read" {
				t.Errorf("model/method = %v/%v", args[3], args[4])
			}
			if _, ok := args[5].([]interface{}); !ok {
				t.Error("positional args not wrapped in enclosing list")
			}

			kwargs, ok := args[6].(map[string]interface{})
			if !ok {
				t.Fatal("kwargs missing")
			}
			for _, key := range tt.wantKeys {
				if _, ok := kwargs[key]; !ok {
					t.Errorf("kwargs missing %q", key)
				}
			}
			for _, key := range tt.extraKeys {
				if _, ok := kwargs[key]; ok {
					t.Errorf("kwargs contains %q, want omitted", key)
				}
			}
		})
	}
}

func TestReadEmptyIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty id read hit the network")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	records, err := c.Read(context.Background(), "res.partner", nil, []string{"name"})
	if err != nil || records != nil {
		t.Fatalf("Read(nil ids) = %v, %v", records, err)
	}
}

func TestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Authenticate(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}

func TestSessionExpiryReauthenticatesOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Params.Method == "authenticate" {
			writeResult(w, "8")
			return
		}
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"message":"Odoo Session Expired","data":{"message":"Session expired"}}}`))
			return
		}
		writeResult(w, `[{"id": 1}]`)
	}))
	defer srv.Close()

	stale := int64(3)
	c := NewClient(Config{
		URL:       srv.URL,
		Database:  "acme_prod",
		Username:  "bridge",
		APIKey:    "key",
		SessionID: &stale,
	}, zerolog.Nop())

	records, err := c.Read(context.Background(), "res.partner", []int64{1}, []string{"name"})
	if err != nil {
		t.Fatalf("Read after expiry: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if calls != 2 {
		t.Fatalf("object calls = %d, want 2 (one failed, one after re-auth)", calls)
	}
	if session := c.SessionID(); session == nil || *session != 8 {
		t.Fatal("session not refreshed after re-auth")
	}
}

func TestRPCErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantAuth bool
	}{
		{"session expired", "Session expired", true},
		{"access denied", "Access Denied", true},
		{"authenticate hint", "please authenticate first", true},
		{"server error", "division by zero", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyRPCError(&rpcErrorBody{Message: tt.message})
			var authErr *AuthError
			if got := errors.As(err, &authErr); got != tt.wantAuth {
				t.Fatalf("classify(%q) auth = %t, want %t", tt.message, got, tt.wantAuth)
			}
		})
	}
}

func TestRecordAccessors(t *testing.T) {
	raw := []byte(`{
		"id": 42,
		"name": "S00042",
		"amount_total": 199.90,
		"note": false,
		"partner_id": [7, "Acme Buyer"],
		"state_id": false,
		"product_template_attribute_value_ids": [3, 5]
	}`)
	var rec Record
	if err := decodeResult(raw, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if rec.ID() != 42 {
		t.Errorf("ID = %d", rec.ID())
	}
	if rec.Str("name") != "S00042" {
		t.Errorf("Str(name) = %q", rec.Str("name"))
	}
	if rec.Str("note") != "" {
		t.Errorf("false field should read as empty, got %q", rec.Str("note"))
	}
	if n, ok := rec.Number("amount_total"); !ok || n.String() != "199.90" {
		t.Errorf("Number(amount_total) = %v, %t; want verbatim 199.90", n, ok)
	}
	id, name, ok := rec.Many2One("partner_id")
	if !ok || id != 7 || name != "Acme Buyer" {
		t.Errorf("Many2One(partner_id) = %d, %q, %t", id, name, ok)
	}
	if _, _, ok := rec.Many2One("state_id"); ok {
		t.Error("false many2one should be absent")
	}
	ids := rec.IDs("product_template_attribute_value_ids")
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
		t.Errorf("IDs = %v", ids)
	}
}
