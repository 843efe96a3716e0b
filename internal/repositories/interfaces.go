package repositories

import (
	"context"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalogue entries.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository loads and saves whole session carts.
type CartRepository interface {
	Load(ctx context.Context, sessionID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
}

// OrderRepository persists orders. Items are written once by Insert; afterwards
// only status and update time change.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	// UpdateStatus moves the order from one status to another and fails with a
	// conflict error when the stored status is no longer from.
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error)
	// WatchByUser blocks, calling emit with the user's newest orders on every change.
	WatchByUser(ctx context.Context, userID string, limit int, emit func([]domain.Order)) error
}

// SettingsRepository stores the single store settings document.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.StoreSettings, error)
	Save(ctx context.Context, settings domain.StoreSettings) error
	// Watch blocks, calling emit on every change; exists is false while the document is absent.
	Watch(ctx context.Context, emit func(settings domain.StoreSettings, exists bool)) error
}

// HealthRepository reports backend dependency status for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
