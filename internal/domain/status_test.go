package domain

import "testing"

func TestParseOrderStatusAliases(t *testing.T) {
	cases := map[string]OrderStatus{
		"order placed":      OrderStatusPlaced,
		"Pending":           OrderStatusPlaced,
		" order  confirmed": OrderStatusConfirmed,
		"completed":         OrderStatusComplete,
		"canceled":          OrderStatusCancelled,
	}
	for in, want := range cases {
		got, ok := ParseOrderStatus(in)
		if !ok || got != want {
			t.Fatalf("ParseOrderStatus(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseOrderStatus("shipped"); ok {
		t.Fatalf("expected shipped to be rejected")
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	if !OrderStatusPlaced.CanTransitionTo(OrderStatusConfirmed) {
		t.Fatalf("placed -> confirmed should be allowed")
	}
	if !OrderStatusConfirmed.CanTransitionTo(OrderStatusCancelled) {
		t.Fatalf("confirmed -> cancelled should be allowed")
	}
	if OrderStatusPlaced.CanTransitionTo(OrderStatusDelivered) {
		t.Fatalf("placed -> delivered should be rejected")
	}
	for _, s := range []OrderStatus{OrderStatusComplete, OrderStatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%q should be terminal", s)
		}
		for _, next := range OrderStatuses() {
			if s.CanTransitionTo(next) {
				t.Fatalf("terminal %q must not transition to %q", s, next)
			}
		}
	}
}
