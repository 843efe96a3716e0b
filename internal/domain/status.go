package domain

import (
	"strings"
)

// OrderStatus enumerates the canonical order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPlaced is assigned when checkout writes the order.
	OrderStatusPlaced OrderStatus = "order placed"
	// OrderStatusConfirmed indicates staff accepted the order for delivery.
	OrderStatusConfirmed OrderStatus = "order confirmed"
	// OrderStatusDelivered indicates the parcel reached the customer and cash was collected.
	OrderStatusDelivered OrderStatus = "order delivered"
	// OrderStatusComplete closes a delivered order.
	OrderStatusComplete OrderStatus = "order complete"
	// OrderStatusCancelled is terminal and may be requested by the customer while placed.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var statusAliases = map[string]OrderStatus{
	"order placed":    OrderStatusPlaced,
	"placed":          OrderStatusPlaced,
	"pending":         OrderStatusPlaced,
	"order confirmed": OrderStatusConfirmed,
	"confirmed":       OrderStatusConfirmed,
	"order delivered": OrderStatusDelivered,
	"delivered":       OrderStatusDelivered,
	"order complete":  OrderStatusComplete,
	"complete":        OrderStatusComplete,
	"completed":       OrderStatusComplete,
	"cancelled":       OrderStatusCancelled,
	"canceled":        OrderStatusCancelled,
}

var statusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPlaced:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered: {OrderStatusComplete},
}

// ParseOrderStatus normalises a status label, accepting legacy aliases.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	status, ok := statusAliases[key]
	return status, ok
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a valid lifecycle step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range statusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// OrderStatuses lists every canonical status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPlaced,
		OrderStatusConfirmed,
		OrderStatusDelivered,
		OrderStatusComplete,
		OrderStatusCancelled,
	}
}
