// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package poller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/orderbridge/internal/dispatch"
	"github.com/tomtom215/orderbridge/internal/store"
	"github.com/tomtom215/orderbridge/internal/upstream"
)

// upstreamRPSLimit paces RPC calls per connection so one busy tenant
// cannot hammer its upstream into rate limiting.
const upstreamRPSLimit = 5

// pollService is the supervised poll loop for one connection. It owns its
// own upstream and webhook HTTP clients so a slow tenant cannot starve the
// others' connection pools, and a cached session that survives cycles.
type pollService struct {
	store  *store.Store
	connID string
	name   string
	log    zerolog.Logger

	worker *Worker
	creds  credentials
}

// credentials tracks the upstream identity the client was built with, so
// operator edits take effect on the next cycle.
type credentials struct {
	url, database, username, apiKey string
}

func credentialsOf(conn *store.Connection) credentials {
	return credentials{
		url:      conn.UpstreamURL,
		database: conn.UpstreamDB,
		username: conn.UpstreamUsername,
		apiKey:   conn.UpstreamAPIKey,
	}
}

func newPollService(st *store.Store, conn *store.Connection, log zerolog.Logger) *pollService {
	svc := &pollService{
		store:  st,
		connID: conn.ID,
		name:   conn.Name,
		log:    log.With().Str("connection", conn.Name).Logger(),
	}
	svc.buildWorker(conn)
	return svc
}

// buildWorker (re)creates the upstream client, sender, and worker for the
// given connection snapshot.
func (s *pollService) buildWorker(conn *store.Connection) {
	client := upstream.NewClient(upstream.Config{
		URL:        conn.UpstreamURL,
		Database:   conn.UpstreamDB,
		Username:   conn.UpstreamUsername,
		APIKey:     conn.UpstreamAPIKey,
		SessionID:  conn.SessionID,
		HTTPClient: &http.Client{Timeout: upstream.DefaultTimeout},
		Limiter:    rate.NewLimiter(rate.Limit(upstreamRPSLimit), upstreamRPSLimit),
	}, s.log)
	sender := dispatch.NewSender(&http.Client{Timeout: dispatch.DefaultTimeout}, s.log)

	s.worker = NewWorker(s.store, client, sender, s.log)
	s.creds = credentialsOf(conn)
}

// Serve implements suture.Service. Each iteration reloads the connection
// row so operator edits, breaker resets, and the active flag all take
// effect between cycles. Deleted and disabled connections end the loop
// permanently; the reconciler re-adds a service if the connection comes
// back.
func (s *pollService) Serve(ctx context.Context) error {
	for {
		conn, err := s.store.GetConnection(ctx, s.connID)
		if errors.Is(err, store.ErrConnectionNotFound) {
			s.log.Info().Msg("Connection removed, stopping poll loop")
			return suture.ErrDoNotRestart
		}
		if err != nil {
			return err
		}
		if !conn.Active {
			s.log.Info().Msg("Connection disabled, stopping poll loop")
			return suture.ErrDoNotRestart
		}

		if credentialsOf(conn) != s.creds {
			s.log.Info().Msg("Upstream credentials changed, rebuilding client")
			s.buildWorker(conn)
		}

		// Cycle errors are logged and absorbed: the breaker and retry
		// queue carry the failure semantics, the loop itself keeps cadence.
		if err := s.worker.RunCycle(ctx, conn); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		interval := time.Duration(conn.PollIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *pollService) String() string {
	return "poller-" + s.name
}
