package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/livequery"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located for the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed between read and write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps wires repositories and collaborators for order history and status changes.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Notifications NotificationService
	Metrics       *metrics.Metrics
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	notifications NotificationService
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:        deps.Orders,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders returns the user's orders, newest first. Read failures degrade to
// an empty history.
func (s *orderService) ListOrders(ctx context.Context, userID string, limit int) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByUser(ctx, userID, clampOrderLimit(limit))
	if err != nil {
		s.logger(ctx, "order.list_failed", map[string]any{"userID": userID, "error": err.Error()})
		return []Order{}, nil
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.find(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// WatchOrders subscribes to the user's order history. The stream ends when
// ctx ends or the caller stops it.
func (s *orderService) WatchOrders(ctx context.Context, userID string, limit int) *livequery.Stream[[]Order] {
	userID = strings.TrimSpace(userID)
	limit = clampOrderLimit(limit)
	return livequery.Start(ctx, func(ctx context.Context, emit func([]Order)) error {
		if userID == "" {
			return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
		}
		err := s.orders.WatchByUser(ctx, userID, limit, func(orders []Order) {
			if orders == nil {
				orders = []Order{}
			}
			emit(orders)
		})
		if err != nil {
			s.logger(ctx, "order.watch_failed", map[string]any{"userID": userID, "error": err.Error()})
			return ErrOrderUnavailable
		}
		return nil
	})
}

// CancelOrder lets the owner cancel an order that has not been confirmed yet.
func (s *orderService) CancelOrder(ctx context.Context, userID, orderID string) (Order, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return Order{}, err
	}
	switch order.Status {
	case domain.OrderStatusCancelled:
		return order, nil
	case domain.OrderStatusPlaced:
	default:
		return Order{}, ErrOrderInvalidState
	}
	updated, err := s.transition(ctx, order, domain.OrderStatusCancelled, userID)
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, orderEventCancelled, map[string]any{"userID": userID, "orderID": updated.ID})
	return updated, nil
}

// UpdateStatus applies an admin status change. Setting the current status
// again is a no-op; every applied change triggers the status notification.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	order, err := s.find(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == target {
		return order, nil
	}
	if !order.Status.CanTransitionTo(target) {
		return Order{}, ErrOrderInvalidState
	}
	return s.transition(ctx, order, target, strings.TrimSpace(cmd.ActorID))
}

func (s *orderService) transition(ctx context.Context, order Order, target OrderStatus, actorID string) (Order, error) {
	updated, err := s.orders.UpdateStatus(ctx, order.ID, order.Status, target, s.now())
	if err != nil {
		switch {
		case isRepoConflict(err):
			return Order{}, ErrOrderConflict
		case isRepoNotFound(err):
			return Order{}, ErrOrderNotFound
		default:
			s.logger(ctx, "order.status_write_failed", map[string]any{
				"orderID": order.ID,
				"to":      string(target),
				"error":   err.Error(),
			})
			return Order{}, ErrOrderUnavailable
		}
	}

	s.metrics.StatusChanged(string(target))
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderID": updated.ID,
		"from":    string(order.Status),
		"to":      string(target),
		"actorID": actorID,
	})
	if s.notifications != nil {
		s.notifications.Notify(ctx, updated, target)
	}
	return updated, nil
}

func (s *orderService) find(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		s.logger(ctx, "order.read_failed", map[string]any{"orderID": orderID, "error": err.Error()})
		return Order{}, ErrOrderUnavailable
	}
	return order, nil
}

func clampOrderLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultOrderListLimit
	case limit > maxOrderListLimit:
		return maxOrderListLimit
	default:
		return limit
	}
}
