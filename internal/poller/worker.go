// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
worker.go - Poll Cycle

One cycle for one connection, in fixed order: breaker gate, authenticate,
seed or fetch, ledger dedupe, batch prefetch, dispatch loop, cursor
advance, ledger trim, retry sweep, finalize. Webhook failures flow into
the durable retry queue and never count against the breaker; the breaker
measures upstream health only. An HTTP 429 from the upstream aborts the
cycle with no breaker verdict at all.

The cursor only advances over orders that were either ledger-marked or
durably enqueued for retry, so a crash mid-cycle re-fetches exactly the
orders that were not safely handled.
*/
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/orderbridge/internal/breaker"
	"github.com/tomtom215/orderbridge/internal/dispatch"
	"github.com/tomtom215/orderbridge/internal/mapper"
	"github.com/tomtom215/orderbridge/internal/metrics"
	"github.com/tomtom215/orderbridge/internal/store"
	"github.com/tomtom215/orderbridge/internal/upstream"
)

const (
	// orderModel and friends are the upstream model names the worker reads.
	orderModel          = "sale.order"
	orderLineModel      = "sale.order.line"
	partnerModel        = "res.partner"
	productModel        = "product.product"
	templateModel       = "product.template"
	attributeValueModel = "product.template.attribute.value"

	// ledgerLimit caps the per-connection delivery ledger.
	ledgerLimit = 30

	// syncLogLimit caps the per-connection cycle history.
	syncLogLimit = 100

	// fetchLimit caps candidates per cycle; the rest arrive next cycle.
	fetchLimit = 100

	// maxLastError bounds the error text stored on retry items.
	maxLastError = 500
)

var orderFields = []string{
	"name", "state", "date_order", "write_date", "partner_id",
	"partner_shipping_id", "amount_total", "note", "client_order_ref",
}

var lineFields = []string{
	"order_id", "product_id", "name", "product_uom_qty", "price_unit",
}

var partnerFields = []string{
	"name", "email", "phone", "mobile", "street", "street2", "city",
	"state_id", "zip", "country_code", "sale_order_count",
}

var productFields = []string{
	"name", "default_code", "barcode", "product_tmpl_id",
	"product_template_attribute_value_ids",
}

// Worker executes poll cycles for one connection. The upstream client and
// webhook sender are owned by the enclosing poll service so sessions and
// HTTP pools survive across cycles.
type Worker struct {
	store  *store.Store
	client *upstream.Client
	sender *dispatch.Sender
	log    zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewWorker wires a worker for one connection's poll service.
func NewWorker(st *store.Store, client *upstream.Client, sender *dispatch.Sender, log zerolog.Logger) *Worker {
	return &Worker{
		store:  st,
		client: client,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// RunCycle executes one poll cycle. The connection is the caller's fresh
// read of the row, so operator edits and breaker resets between cycles
// take effect here.
func (w *Worker) RunCycle(ctx context.Context, conn *store.Connection) error {
	started := w.now()
	brk := breaker.New(conn)

	cycle := &store.SyncLog{
		ConnectionID: conn.ID,
		StartedAt:    started,
		BreakerEntry: brk.State(),
	}

	if !brk.Allow() {
		cycle.ErrorMessage = "breaker open, cycle skipped"
		cycle.BreakerExit = brk.State()
		cycle.DurationMS = w.now().Sub(started).Milliseconds()
		w.log.Debug().Str("connection", conn.Name).Msg("Breaker open, skipping cycle")
		metrics.RecordCycle(conn.Name, metrics.ResultSkipped, w.now().Sub(started))
		return w.finalize(ctx, conn, brk, cycle)
	}

	err := w.cycle(ctx, conn, cycle)

	result := metrics.ResultOK
	switch {
	case errors.Is(err, upstream.ErrRateLimited):
		// Rate limiting is the upstream asking for patience, not failing.
		cycle.ErrorMessage = err.Error()
		result = metrics.ResultRateLimited
		w.log.Warn().Str("connection", conn.Name).Msg("Upstream rate limited, cycle aborted")
	case err != nil:
		brk.Failure()
		cycle.ErrorMessage = err.Error()
		result = metrics.ResultFailed
		w.log.Error().Err(err).Str("connection", conn.Name).Msg("Poll cycle failed")
	default:
		brk.Success()
	}

	cycle.BreakerExit = brk.State()
	cycle.DurationMS = w.now().Sub(started).Milliseconds()

	metrics.RecordCycle(conn.Name, result, w.now().Sub(started))
	metrics.RecordOrdersSent(conn.Name, cycle.OrdersSent)
	metrics.RecordOrdersFailed(conn.Name, cycle.OrdersFailed)

	if ferr := w.finalize(ctx, conn, brk, cycle); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

// finalize persists the breaker snapshot, the cached session, and the
// cycle record.
func (w *Worker) finalize(ctx context.Context, conn *store.Connection, brk *breaker.Breaker, cycle *store.SyncLog) error {
	state, failures, halfOpen, retryAt := brk.Snapshot()
	if err := w.store.UpdateBreaker(ctx, conn.ID, state, failures, halfOpen, retryAt); err != nil {
		return fmt.Errorf("failed to persist breaker: %w", err)
	}
	metrics.SetBreakerState(conn.Name, string(state))

	if session := w.client.SessionID(); !sessionEqual(session, conn.SessionID) {
		if err := w.store.UpdateSessionID(ctx, conn.ID, session); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}

	if err := w.store.AppendSyncLog(ctx, cycle); err != nil {
		return fmt.Errorf("failed to append cycle log: %w", err)
	}
	if err := w.store.TrimSyncLogs(ctx, conn.ID, syncLogLimit); err != nil {
		return fmt.Errorf("failed to trim cycle log: %w", err)
	}
	return nil
}

func (w *Worker) cycle(ctx context.Context, conn *store.Connection, cycle *store.SyncLog) error {
	if w.client.SessionID() == nil {
		if _, err := w.client.Authenticate(ctx); err != nil {
			return err
		}
	}

	if conn.LastSyncAt == nil {
		return w.seed(ctx, conn, cycle)
	}

	orders, err := w.client.SearchRead(ctx, orderModel,
		confirmedDomain(*conn.LastSyncAt), orderFields, fetchLimit, "write_date asc")
	if err != nil {
		return err
	}
	cycle.OrdersFound = len(orders)

	fresh := make([]upstream.Record, 0, len(orders))
	for _, order := range orders {
		sent, err := w.store.WasSent(ctx, conn.ID, order.ID(), order.Str("write_date"))
		if err != nil {
			return err
		}
		if sent {
			cycle.OrdersSkipped++
			continue
		}
		fresh = append(fresh, order)
	}

	if len(fresh) > 0 {
		batch, err := w.prefetch(ctx, fresh)
		if err != nil {
			return err
		}

		advance := ""
		src := mapper.Source{
			Platform:     "UPSTREAM",
			ConnectionID: conn.ID,
			StoreID:      conn.StoreID,
			ClientID:     conn.ClientID,
		}
		for _, order := range fresh {
			handled, err := w.dispatchOrder(ctx, conn, order, batch, src, cycle)
			if err != nil {
				return err
			}
			if handled {
				if wd := order.Str("write_date"); wd > advance {
					advance = wd
				}
			}
		}

		if advance != "" {
			if err := w.store.UpdateLastSyncAt(ctx, conn.ID, advance); err != nil {
				return err
			}
		}
		if err := w.store.TrimLedger(ctx, conn.ID, ledgerLimit); err != nil {
			return err
		}
	}

	return w.sweepRetries(ctx, conn, cycle)
}

// dispatchOrder maps and delivers one candidate. The bool reports whether
// the order was durably handled (ledger-marked or enqueued), which is what
// permits the cursor to advance past it. Only store failures propagate;
// webhook and mapping failures are per-order events.
func (w *Worker) dispatchOrder(ctx context.Context, conn *store.Connection,
	order upstream.Record, batch *mapper.Batch, src mapper.Source, cycle *store.SyncLog) (bool, error) {
	envelope, err := mapper.BuildEnvelope(order, batch, conn.UpstreamDB, src)
	if err != nil {
		// Data defects count as failures; skipped is reserved for dedupe.
		cycle.OrdersFailed++
		w.log.Warn().Err(err).Str("connection", conn.Name).Msg("Order not mappable, skipped")
		return false, nil
	}

	payload, sendErr := w.sender.SendEnvelope(ctx, conn.WebhookURL, envelope, conn.WebhookSecret, conn.ID)
	writeDate := order.Str("write_date")

	if sendErr == nil {
		if err := w.store.MarkSent(ctx, conn.ID, order.ID(), writeDate); err != nil {
			return false, err
		}
		cycle.OrdersSent++
		return true, nil
	}

	cycle.OrdersFailed++
	w.log.Warn().Err(sendErr).Str("connection", conn.Name).
		Str("order", order.Str("name")).Msg("Webhook failed, enqueueing retry")

	if payload == nil {
		// Envelope never serialized; nothing durable to queue.
		return false, nil
	}

	item := &store.RetryItem{
		ConnectionID: conn.ID,
		OrderID:      order.ID(),
		ExternalID:   envelope.ExternalID,
		WriteDate:    writeDate,
		Payload:      payload,
		Attempts:     1,
		NextRetryAt:  w.now().Add(dispatch.NextRetryDelay(1)),
		LastError:    truncateError(sendErr),
	}
	err = w.store.EnqueueRetry(ctx, item)
	if errors.Is(err, store.ErrDuplicateRetry) {
		// A pending item from an earlier cycle already covers this order.
		return true, nil
	}
	if err != nil {
		w.log.Error().Err(err).Str("connection", conn.Name).Msg("Failed to enqueue retry item")
		return false, nil
	}
	return true, nil
}

// seed initializes a connection that has never synced: ledger the most
// recent confirmed orders without dispatching anything, then set the
// cursor so only genuinely new activity flows from here on.
func (w *Worker) seed(ctx context.Context, conn *store.Connection, cycle *store.SyncLog) error {
	w.log.Info().Str("connection", conn.Name).Int("limit", ledgerLimit).
		Msg("First sync, seeding ledger without dispatching")

	orders, err := w.client.SearchRead(ctx, orderModel, confirmedDomain(""),
		[]string{"name", "write_date"}, ledgerLimit, "write_date desc, id desc")
	if err != nil {
		return err
	}
	cycle.OrdersFound = len(orders)
	cycle.OrdersSkipped = len(orders)

	mark := ""
	for _, order := range orders {
		wd := order.Str("write_date")
		if err := w.store.MarkSent(ctx, conn.ID, order.ID(), wd); err != nil {
			return err
		}
		if wd > mark {
			mark = wd
		}
	}
	if mark == "" {
		mark = w.now().UTC().Format(upstream.TimeLayout)
	}
	return w.store.UpdateLastSyncAt(ctx, conn.ID, mark)
}

// prefetch gathers every record the mapper will need for this batch of
// orders with one read per model: lines, partners, products, templates,
// and template attribute values.
func (w *Worker) prefetch(ctx context.Context, orders []upstream.Record) (*mapper.Batch, error) {
	batch := mapper.NewBatch()

	orderIDs := make([]int64, 0, len(orders))
	partnerIDs := newIDSet()
	for _, order := range orders {
		orderIDs = append(orderIDs, order.ID())
		if id, _, ok := order.Many2One("partner_id"); ok {
			partnerIDs.add(id)
		}
		if id, _, ok := order.Many2One("partner_shipping_id"); ok {
			partnerIDs.add(id)
		}
	}

	lines, err := w.client.SearchRead(ctx, orderLineModel,
		[]interface{}{[]interface{}{"order_id", "in", orderIDs}}, lineFields, 0, "")
	if err != nil {
		return nil, err
	}

	productIDs := newIDSet()
	for _, line := range lines {
		if oid, _, ok := line.Many2One("order_id"); ok {
			batch.LinesByOrder[oid] = append(batch.LinesByOrder[oid], line)
		}
		if pid, _, ok := line.Many2One("product_id"); ok {
			productIDs.add(pid)
		}
	}

	partners, err := w.client.Read(ctx, partnerModel, partnerIDs.values(), partnerFields)
	if err != nil {
		return nil, err
	}
	for _, partner := range partners {
		batch.Partners[partner.ID()] = partner
	}

	products, err := w.client.Read(ctx, productModel, productIDs.values(), productFields)
	if err != nil {
		return nil, err
	}
	templateIDs := newIDSet()
	attributeValueIDs := newIDSet()
	for _, product := range products {
		batch.Products[product.ID()] = product
		if tid, _, ok := product.Many2One("product_tmpl_id"); ok {
			templateIDs.add(tid)
		}
		for _, vid := range product.IDs("product_template_attribute_value_ids") {
			attributeValueIDs.add(vid)
		}
	}

	templates, err := w.client.Read(ctx, templateModel, templateIDs.values(),
		[]string{"name", "default_code"})
	if err != nil {
		return nil, err
	}
	for _, tmpl := range templates {
		batch.Templates[tmpl.ID()] = tmpl
	}

	values, err := w.client.Read(ctx, attributeValueModel, attributeValueIDs.values(),
		[]string{"name"})
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		batch.AttributeValues[value.ID()] = value
	}

	return batch, nil
}

// sweepRetries redelivers due retry items oldest deadline first. Webhook
// failures reschedule with the backoff curve; only store failures abort
// the sweep.
func (w *Worker) sweepRetries(ctx context.Context, conn *store.Connection, cycle *store.SyncLog) error {
	// Drop items resolved in earlier cycles before sweeping; the queue only
	// holds pending and operator-owned rows.
	if err := w.store.CleanupFinishedRetries(ctx, conn.ID); err != nil {
		return err
	}

	due, err := w.store.DueRetryItems(ctx, conn.ID, w.now())
	if err != nil {
		return err
	}

	for _, item := range due {
		sendErr := w.sender.Send(ctx, conn.WebhookURL, item.Payload, conn.WebhookSecret, conn.ID)
		if sendErr == nil {
			if err := w.store.MarkSent(ctx, conn.ID, item.OrderID, item.WriteDate); err != nil {
				return err
			}
			if err := w.store.MarkRetrySuccess(ctx, item.ID); err != nil {
				return err
			}
			cycle.OrdersSent++
			w.log.Info().Str("connection", conn.Name).Int64("order_id", item.OrderID).
				Int("attempts", item.Attempts).Msg("Retry delivered")
			continue
		}

		attempts := item.Attempts + 1
		next := w.now().Add(dispatch.NextRetryDelay(attempts))
		if err := w.store.UpdateRetryAfterAttempt(ctx, item.ID, attempts, next, truncateError(sendErr)); err != nil {
			return err
		}
		if attempts >= item.MaxAttempts {
			w.log.Error().Str("connection", conn.Name).Int64("order_id", item.OrderID).
				Int("attempts", attempts).Msg("Retry exhausted, item marked failed")
		}
	}

	if depth, err := w.store.CountPendingRetries(ctx, conn.ID); err == nil {
		metrics.SetRetryQueueDepth(conn.Name, depth)
	}
	return nil
}

// confirmedDomain filters for confirmed orders, optionally after a
// high-water mark.
func confirmedDomain(after string) []interface{} {
	domain := []interface{}{
		[]interface{}{"state", "in", []string{"sale", "done"}},
	}
	if after != "" {
		domain = append(domain, []interface{}{"write_date", ">", after})
	}
	return domain
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxLastError {
		msg = msg[:maxLastError]
	}
	return msg
}

func sessionEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// idSet is a tiny insertion-ordered set so batch reads stay deterministic.
type idSet struct {
	seen  map[int64]struct{}
	order []int64
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[int64]struct{})}
}

func (s *idSet) add(id int64) {
	if id == 0 {
		return
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *idSet) values() []int64 {
	return s.order
}
