// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

/*
mapper.go - Order Normalization

Pure transformation from upstream records into the outbound envelope. The
mapper never touches the network; the worker prefetches every related
record in batch (one read per model) and hands the indexed result in here.
*/
package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/orderbridge/internal/upstream"
)

// MappingError marks an order that cannot be normalized. The worker skips
// the order and counts it; the cycle continues.
type MappingError struct {
	OrderID int64
	Field   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("order %d: missing required field %q", e.OrderID, e.Field)
}

// Batch holds every upstream record the envelopes of one cycle need,
// indexed by id. Built by the worker with one read call per model.
type Batch struct {
	Partners        map[int64]upstream.Record
	Products        map[int64]upstream.Record
	Templates       map[int64]upstream.Record
	AttributeValues map[int64]upstream.Record
	LinesByOrder    map[int64][]upstream.Record
}

// NewBatch returns an empty batch with all indexes allocated.
func NewBatch() *Batch {
	return &Batch{
		Partners:        make(map[int64]upstream.Record),
		Products:        make(map[int64]upstream.Record),
		Templates:       make(map[int64]upstream.Record),
		AttributeValues: make(map[int64]upstream.Record),
		LinesByOrder:    make(map[int64][]upstream.Record),
	}
}

// ExternalID builds the stable downstream idempotency key for an order.
func ExternalID(database string, orderID int64) string {
	return fmt.Sprintf("upstream_%s_%d", database, orderID)
}

// BuildEnvelope normalizes one order record into the outbound envelope.
// Lines with non-positive quantity are dropped. Missing upstream values
// become null for nullable strings, "" for address components, and 0 for
// counts.
func BuildEnvelope(order upstream.Record, batch *Batch, database string, src Source) (*Envelope, error) {
	orderID := order.ID()
	if orderID == 0 {
		return nil, &MappingError{Field: "id"}
	}
	number := order.Str("name")
	if number == "" {
		return nil, &MappingError{OrderID: orderID, Field: "name"}
	}

	var customerPartner, shippingPartner upstream.Record
	if pid, _, ok := order.Many2One("partner_id"); ok {
		customerPartner = batch.Partners[pid]
	}
	if sid, _, ok := order.Many2One("partner_shipping_id"); ok {
		shippingPartner = batch.Partners[sid]
	}
	if shippingPartner == nil {
		shippingPartner = customerPartner
	}

	clientRef := nullableStr(order, "client_order_ref")
	envelope := &Envelope{
		Event:      "order.confirmed",
		ExternalID: ExternalID(database, orderID),
		Source:     src,
		Order: Order{
			PlatformOrderID:     strconv.FormatInt(orderID, 10),
			PlatformOrderNumber: number,
			DateOrder:           normalizeDate(order.Str("date_order")),
			FinancialStatus:     "paid",
			Note:                nullableStr(order, "note"),
			ClientOrderRef:      clientRef,
			AmountTotal:         numberOrZero(order, "amount_total"),
			Tags:                []string{},
			PlatformAttributes: PlatformAttributes{
				UpstreamState:  order.Str("state"),
				ClientOrderRef: clientRef,
			},
		},
		Customer: buildCustomer(customerPartner),
		Shipping: buildShippingAddress(shippingPartner),
		Items:    buildItems(orderID, batch, database),
	}
	return envelope, nil
}

func buildCustomer(partner upstream.Record) Customer {
	if partner == nil {
		return Customer{}
	}
	return Customer{
		Name:        nullableStr(partner, "name"),
		Phone:       preferredPhonePtr(partner),
		Email:       nullableStr(partner, "email"),
		OrdersCount: int(partner.Int64("sale_order_count")),
	}
}

func buildShippingAddress(partner upstream.Record) ShippingAddress {
	if partner == nil {
		return ShippingAddress{}
	}
	_, state, _ := partner.Many2One("state_id")
	return ShippingAddress{
		Name:     partner.Str("name"),
		Address1: partner.Str("street"),
		Address2: partner.Str("street2"),
		City:     partner.Str("city"),
		Province: state,
		Zip:      partner.Str("zip"),
		Country:  partner.Str("country_code"),
		Phone:    preferredPhone(partner),
	}
}

func buildItems(orderID int64, batch *Batch, database string) []Item {
	lines := batch.LinesByOrder[orderID]
	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		qty, ok := line.Number("product_uom_qty")
		if !ok || !positive(qty) {
			continue
		}

		productID, productName, _ := line.Many2One("product_id")
		product := batch.Products[productID]

		name := line.Str("name")
		if name == "" {
			name = productName
		}

		items = append(items, Item{
			SKU:         resolveSKU(product, batch, database, productID),
			Name:        name,
			VariantName: variantLabel(product, batch),
			Quantity:    qty,
			PriceCents:  numberOrZero(line, "price_unit"),
		})
	}
	return items
}

// resolveSKU applies the ordered fallback chain: the product's own primary
// code, its barcode, the parent template's primary code, then a synthesized
// identifier that is at least stable.
func resolveSKU(product upstream.Record, batch *Batch, database string, productID int64) string {
	if product != nil {
		if code := product.Str("default_code"); code != "" {
			return code
		}
		if barcode := product.Str("barcode"); barcode != "" {
			return barcode
		}
		if tmplID, _, ok := product.Many2One("product_tmpl_id"); ok {
			if tmpl := batch.Templates[tmplID]; tmpl != nil {
				if code := tmpl.Str("default_code"); code != "" {
					return code
				}
			}
		}
	}
	return fmt.Sprintf("UPSTREAM-%s-%d", database, productID)
}

// variantLabel joins the product's template attribute value names in the
// order the upstream declares them.
func variantLabel(product upstream.Record, batch *Batch) string {
	if product == nil {
		return ""
	}
	var names []string
	for _, id := range product.IDs("product_template_attribute_value_ids") {
		if value := batch.AttributeValues[id]; value != nil {
			if name := value.Str("name"); name != "" {
				names = append(names, name)
			}
		}
	}
	return strings.Join(names, ", ")
}

// preferredPhone favors the mobile number over the landline.
func preferredPhone(partner upstream.Record) string {
	if mobile := partner.Str("mobile"); mobile != "" {
		return mobile
	}
	return partner.Str("phone")
}

func preferredPhonePtr(partner upstream.Record) *string {
	if phone := preferredPhone(partner); phone != "" {
		return &phone
	}
	return nil
}

// normalizeDate converts the upstream timestamp to RFC3339 with a Z
// suffix. Unparseable or missing values become null.
func normalizeDate(raw string) *string {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(upstream.TimeLayout, raw)
	if err != nil {
		return nil
	}
	formatted := t.UTC().Format("2006-01-02T15:04:05Z")
	return &formatted
}

func nullableStr(rec upstream.Record, key string) *string {
	if s := rec.Str(key); s != "" {
		return &s
	}
	return nil
}

func numberOrZero(rec upstream.Record, key string) json.Number {
	if n, ok := rec.Number(key); ok {
		return n
	}
	return json.Number("0")
}

func positive(n json.Number) bool {
	v, err := n.Float64()
	return err == nil && v > 0
}
