// Orderbridge - Multi-Tenant Sales Order Webhook Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbridge

package upstream

import (
	"github.com/goccy/go-json"
)

// Record is one decoded upstream row. The upstream's JSON dialect encodes
// absent values as boolean false rather than null, relational fields as
// [id, "display name"] pairs, and one2many fields as id arrays; the
// accessors below normalize all of that so callers never touch the raw
// shapes.
type Record map[string]interface{}

// ID returns the record's own id.
func (r Record) ID() int64 {
	return r.Int64("id")
}

// Int64 reads an integer field, 0 when absent or false.
func (r Record) Int64(key string) int64 {
	if n, ok := r[key].(json.Number); ok {
		v, err := n.Int64()
		if err == nil {
			return v
		}
	}
	return 0
}

// Number reads a numeric field with its exact wire text preserved.
// Absent and false values come back as ok=false.
func (r Record) Number(key string) (json.Number, bool) {
	n, ok := r[key].(json.Number)
	return n, ok
}

// Str reads a string field, "" when absent or false.
func (r Record) Str(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Bool reads a boolean field.
func (r Record) Bool(key string) bool {
	b, ok := r[key].(bool)
	return ok && b
}

// Many2One unwraps an [id, name] relational pair. A false or malformed
// value means the relation is unset.
func (r Record) Many2One(key string) (int64, string, bool) {
	pair, ok := r[key].([]interface{})
	if !ok || len(pair) < 2 {
		return 0, "", false
	}
	id, ok := pair[0].(json.Number)
	if !ok {
		return 0, "", false
	}
	v, err := id.Int64()
	if err != nil {
		return 0, "", false
	}
	name, _ := pair[1].(string)
	return v, name, true
}

// IDs unwraps a one2many id array. False and absent values yield nil.
func (r Record) IDs(key string) []int64 {
	raw, ok := r[key].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(raw))
	for _, item := range raw {
		n, ok := item.(json.Number)
		if !ok {
			continue
		}
		if v, err := n.Int64(); err == nil {
			ids = append(ids, v)
		}
	}
	return ids
}
