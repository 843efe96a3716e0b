package domain

import (
	"time"
)

// Product is the read-only catalogue entry a cart line is created from.
type Product struct {
	ID       string
	Name     string
	NameBn   string
	Price    Money
	ImageURL string
	Active   bool
}

// LocalizedName returns the Bengali name when requested and available.
func (p Product) LocalizedName(lang string) string {
	if lang == "bn" && p.NameBn != "" {
		return p.NameBn
	}
	return p.Name
}

// CartLineItem is one product/quantity pair in a session cart.
type CartLineItem struct {
	ProductID string
	Name      string
	UnitPrice Money
	ImageURL  string
	Quantity  int
}

// LineTotal returns unit price multiplied by quantity.
func (i CartLineItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// Cart is the persisted snapshot of a session cart.
type Cart struct {
	SessionID string
	Items     []CartLineItem
	UpdatedAt time.Time
}

// ShippingOption is a named, priced delivery method offered at checkout.
type ShippingOption struct {
	ID    string
	Label string
	Price Money
}

// CheckoutTotals are derived from cart contents and the selected shipping option.
type CheckoutTotals struct {
	Subtotal     Money
	ShippingCost Money
	Total        Money
}

// Recipient holds the delivery contact captured at checkout.
type Recipient struct {
	Name    string
	Phone   string
	Address string
}

// OrderShipping records the shipping method chosen for an order.
type OrderShipping struct {
	OptionID string
	Label    string
	Cost     Money
}

// OrderItem is an immutable snapshot of a cart line at order time.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     Money
	ImageURL  string
}

// Order is the persisted cash-on-delivery order.
type Order struct {
	ID        string
	UserID    string
	Status    OrderStatus
	Customer  Recipient
	Shipping  OrderShipping
	Note      string
	Subtotal  Money
	Total     Money
	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoreSettings is the admin-editable storefront configuration.
type StoreSettings struct {
	ShippingOptions []ShippingOption
	Greetings       map[OrderStatus]string
	UpdatedAt       time.Time
}

// Health probe outcomes.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// DependencyHealth is the result of probing one backend.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the readiness endpoint.
type HealthReport struct {
	Status       string
	Dependencies map[string]DependencyHealth
	GeneratedAt  time.Time
}

// Ready reports whether the storefront can serve traffic.
func (r HealthReport) Ready() bool {
	return r.Status != HealthDown
}

// Notification is a rendered SMS ready for delivery.
type Notification struct {
	OrderID string
	Status  OrderStatus
	Number  string
	Body    string
}
