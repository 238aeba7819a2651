// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package poller

import (
	"context"

	"github.com/tomtom215/orderbridge/internal/mapper"
	"github.com/tomtom215/orderbridge/internal/store"
)

// ResendRecent redelivers the most recent confirmed orders on operator
// request. The ledger is deliberately not consulted: a manual resend
// overrides dedupe. Successes are still ledger-marked so the regular
// cycle does not send them yet again. Failures are reported, not queued.
func (w *Worker) ResendRecent(ctx context.Context, conn *store.Connection, count int) (sent, failed int, err error) {
	orders, err := w.client.SearchRead(ctx, orderModel, confirmedDomain(""),
		orderFields, count, "write_date desc, id desc")
	if err != nil {
		return 0, 0, err
	}
	if len(orders) == 0 {
		return 0, 0, nil
	}

	batch, err := w.prefetch(ctx, orders)
	if err != nil {
		return 0, 0, err
	}

	src := mapper.Source{
		Platform:     "UPSTREAM",
		ConnectionID: conn.ID,
		StoreID:      conn.StoreID,
		ClientID:     conn.ClientID,
	}
	for _, order := range orders {
		envelope, err := mapper.BuildEnvelope(order, batch, conn.UpstreamDB, src)
		if err != nil {
			failed++
			w.log.Warn().Err(err).Str("order", order.Str("name")).Msg("Order not mappable, resend skipped")
			continue
		}
		if _, sendErr := w.sender.SendEnvelope(ctx, conn.WebhookURL, envelope, conn.WebhookSecret, conn.ID); sendErr != nil {
			failed++
			w.log.Warn().Err(sendErr).Str("order", order.Str("name")).Msg("Resend failed")
			continue
		}
		if err := w.store.MarkSent(ctx, conn.ID, order.ID(), order.Str("write_date")); err != nil {
			return sent, failed, err
		}
		sent++
	}
	return sent, failed, nil
}
