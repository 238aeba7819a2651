// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
scheduler.go - Connection Scheduler

Runs one supervised poll service per active connection under a suture
tree. A reconciler service re-lists active connections periodically so
connections added, re-enabled, or deleted at runtime converge without a
restart. Panics inside a poll loop are restarted by the supervisor with
its failure backoff; a crashing tenant never takes the others down.
*/
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/orderbridge/internal/logging"
	"github.com/tomtom215/orderbridge/internal/store"
)

// reconcileInterval is how often the scheduler re-lists active connections.
const reconcileInterval = 30 * time.Second

// Scheduler supervises the poll services and keeps them in sync with the
// connection table.
type Scheduler struct {
	store *store.Store
	sup   *suture.Supervisor
	log   zerolog.Logger

	tokens map[string]suture.ServiceToken
}

// NewScheduler builds the supervisor tree. Supervision events are logged
// through the slog adapter so restarts and backoffs show up in the
// structured log like everything else.
func NewScheduler(st *store.Store, log zerolog.Logger) *Scheduler {
	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	sup := suture.New("orderbridge", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	s := &Scheduler{
		store:  st,
		sup:    sup,
		log:    log,
		tokens: make(map[string]suture.ServiceToken),
	}
	sup.Add(&reconciler{scheduler: s})
	return s
}

// Add registers an extra service (such as the metrics listener) under the
// same supervisor.
func (s *Scheduler) Add(svc suture.Service) {
	s.sup.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	return s.sup.Serve(ctx)
}

// reconcile converges the running poll services with the set of active
// connections. Services for vanished connections also exit on their own;
// removal here just keeps the supervisor's child list tidy.
func (s *Scheduler) reconcile(ctx context.Context) error {
	conns, err := s.store.ListActiveConnections(ctx)
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(conns))
	for _, conn := range conns {
		active[conn.ID] = true
		if _, running := s.tokens[conn.ID]; !running {
			s.log.Info().Str("connection", conn.Name).
				Int("interval_seconds", conn.PollIntervalSeconds).
				Msg("Starting poll service")
			s.tokens[conn.ID] = s.sup.Add(newPollService(s.store, conn, s.log))
		}
	}

	for id, token := range s.tokens {
		if !active[id] {
			_ = s.sup.Remove(token)
			delete(s.tokens, id)
		}
	}
	return nil
}

// reconciler is the supervised loop around Scheduler.reconcile. Only the
// reconciler goroutine touches the token map, so it needs no locking.
type reconciler struct {
	scheduler *Scheduler
}

func (r *reconciler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		if err := r.scheduler.reconcile(ctx); err != nil {
			r.scheduler.log.Error().Err(err).Msg("Failed to reconcile connections")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *reconciler) String() string {
	return "connection-reconciler"
}
