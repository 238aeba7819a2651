// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package mapper

import (
	"github.com/goccy/go-json"
)

// Envelope is the outbound webhook body. Field order and naming are part of
// the downstream contract; monetary values and quantities carry json.Number
// so they re-encode exactly as the upstream sent them.
type Envelope struct {
	Event      string          `json:"event"`
	ExternalID string          `json:"external_id"`
	Source     Source          `json:"source"`
	Order      Order           `json:"order"`
	Customer   Customer        `json:"customer"`
	Shipping   ShippingAddress `json:"shipping_address"`
	Items      []Item          `json:"items"`
}

// Source identifies which connection produced the envelope. StoreID and
// ClientID are opaque correlation keys echoed from the connection config.
type Source struct {
	Platform     string `json:"platform"`
	ConnectionID string `json:"connection_id"`
	StoreID      string `json:"store_id"`
	ClientID     string `json:"client_id"`
}

// Order is the normalized order header. Nullable strings are pointers so
// missing upstream values serialize as JSON null, not "".
type Order struct {
	PlatformOrderID     string             `json:"platform_order_id"`
	PlatformOrderNumber string             `json:"platform_order_number"`
	DateOrder           *string            `json:"date_order"`
	FinancialStatus     string             `json:"financial_status"`
	Note                *string            `json:"note"`
	ClientOrderRef      *string            `json:"client_order_ref"`
	AmountTotal         json.Number        `json:"amount_total"`
	Tags                []string           `json:"tags"`
	PlatformAttributes  PlatformAttributes `json:"platform_attributes"`
}

// PlatformAttributes preserves upstream-specific order fields the fixed
// schema has no slot for.
type PlatformAttributes struct {
	UpstreamState  string  `json:"upstream_state"`
	ClientOrderRef *string `json:"client_order_ref"`
}

// Customer is the buying party.
type Customer struct {
	Name        *string `json:"name"`
	Phone       *string `json:"phone"`
	Email       *string `json:"email"`
	OrdersCount int     `json:"orders_count"`
}

// ShippingAddress is the delivery target. Address components default to ""
// rather than null.
type ShippingAddress struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	Province string `json:"province"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
}

// Item is one normalized order line.
type Item struct {
	SKU         string      `json:"sku"`
	Name        string      `json:"name"`
	VariantName string      `json:"variant_name"`
	Quantity    json.Number `json:"quantity"`
	PriceCents  json.Number `json:"price_cents"`
}
