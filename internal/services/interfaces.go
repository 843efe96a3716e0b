package services

import (
	"context"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/livequery"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Money          = domain.Money
	Product        = domain.Product
	CartLineItem   = domain.CartLineItem
	ShippingOption = domain.ShippingOption
	CheckoutTotals = domain.CheckoutTotals
	Order          = domain.Order
	OrderStatus    = domain.OrderStatus
	StoreSettings  = domain.StoreSettings
)

// CartService keeps one CartStore per authenticated session and prices its contents.
type CartService interface {
	Quote(ctx context.Context, sessionID, shippingOptionID string) (CartQuote, error)
	AddItem(ctx context.Context, sessionID, productID string) (CartQuote, error)
	UpdateQuantity(ctx context.Context, sessionID, productID string, quantity int) (CartQuote, error)
	RemoveItem(ctx context.Context, sessionID, productID string) (CartQuote, error)
	Clear(ctx context.Context, sessionID string) error
	// RemoveOrdered takes the quantities of a placed order off the cart.
	RemoveOrdered(ctx context.Context, sessionID string, ordered []CartLineItem) error
	Items(ctx context.Context, sessionID string) ([]CartLineItem, error)
	// Sweep evicts stores idle for longer than the configured TTL and returns how many went.
	Sweep(ctx context.Context) int
	Close(ctx context.Context) error
}

// CheckoutService validates a submission and writes the order.
type CheckoutService interface {
	Submit(ctx context.Context, cmd CheckoutCommand) (Order, error)
}

// OrderService serves order history and status changes.
type OrderService interface {
	ListOrders(ctx context.Context, userID string, limit int) ([]Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
	WatchOrders(ctx context.Context, userID string, limit int) *livequery.Stream[[]Order]
	CancelOrder(ctx context.Context, userID, orderID string) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// NotificationService renders and dispatches order status SMS.
type NotificationService interface {
	// Compose returns the SMS body, or false when the status must not notify.
	Compose(order Order, status OrderStatus) (string, bool)
	// Notify composes and dispatches without waiting for delivery.
	Notify(ctx context.Context, order Order, status OrderStatus) bool
}

// SettingsService exposes the store settings document.
type SettingsService interface {
	Current() StoreSettings
	Refresh(ctx context.Context) StoreSettings
	Save(ctx context.Context, settings StoreSettings) (StoreSettings, error)
	// Watch blocks, keeping Current fresh until ctx ends.
	Watch(ctx context.Context) error
}

// LanguageService resolves UI messages and machine translations.
type LanguageService interface {
	Message(lang, key string) string
	Translate(ctx context.Context, text, lang string) string
}

// CartQuote is a priced view of a session cart.
type CartQuote struct {
	Items           []CartLineItem
	Count           int
	ShippingOptions []ShippingOption
	Shipping        *ShippingOption
	Totals          CheckoutTotals
}

// CheckoutSource selects which line items an order is built from.
type CheckoutSource string

const (
	// CheckoutSourceCart orders the session cart and clears it on success.
	CheckoutSourceCart CheckoutSource = "cart"
	// CheckoutSourceBuyNow orders a single product with quantity 1.
	CheckoutSourceBuyNow CheckoutSource = "buy_now"
)

// CheckoutCommand is a checkout submission.
type CheckoutCommand struct {
	UserID           string
	Language         string
	Source           CheckoutSource
	ProductID        string
	ShippingOptionID string
	Name             string
	Phone            string
	Address          string
	Note             string
}

// UpdateOrderStatusCommand is an admin status change.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}
