// Package models defines the core domain models for the order-management
// workflow engine: orders, conversations, workflow definitions, runs and
// timers. Every persisted row is scoped by tenant.
package models

import "time"

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending                 OrderStatus = "pending"
	OrderStatusConfirmed               OrderStatus = "confirmed"
	OrderStatusAwaitingCustomerContact OrderStatus = "awaiting_customer_contact"
	OrderStatusShipped                 OrderStatus = "shipped"
	OrderStatusDelivered               OrderStatus = "delivered"
	OrderStatusCancelled               OrderStatus = "cancelled"
)

// Terminal reports whether no further automated transitions apply.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Note is an operator-visible annotation on an order.
type Note struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Order represents a customer order with its raw payload and CRM state.
type Order struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"       validate:"required"`
	SystemOrderID   string         `json:"system_order_id"`
	Status          OrderStatus    `json:"status"`
	Data            map[string]any `json:"data"`
	NeedsAttention  bool           `json:"needs_attention"`
	Notes           []Note         `json:"notes,omitempty"`
	Source          string         `json:"source,omitempty"`
	ExternalOrderID string         `json:"external_order_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CustomerPhone returns the customer phone number from the order payload.
func (o *Order) CustomerPhone() string {
	phone, _ := o.Data["customer_phone"].(string)

	return phone
}

// HasTag reports whether the order payload carries the given tag. Tags may
// arrive as []string or, after a JSON round trip, as []any.
func (o *Order) HasTag(tag string) bool {
	switch tags := o.Data["tags"].(type) {
	case []string:
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok && s == tag {
				return true
			}
		}
	}

	return false
}

// TemplateData flattens the order into the map exposed to message templates
// and rule expressions. Payload fields come first so the well-known fields
// always win on collision.
func (o *Order) TemplateData() map[string]any {
	data := make(map[string]any, len(o.Data)+6)
	for k, v := range o.Data {
		data[k] = v
	}

	data["id"] = o.ID
	data["system_order_id"] = o.SystemOrderID
	data["status"] = string(o.Status)
	data["needs_attention"] = o.NeedsAttention
	data["source"] = o.Source
	data["created_at"] = o.CreatedAt.UTC().Format(time.RFC3339)

	return data
}
