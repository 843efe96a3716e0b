package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubCartRepository struct {
	mu       sync.Mutex
	loadFunc func(ctx context.Context, sessionID string) (domain.Cart, error)
	saveFunc func(ctx context.Context, cart domain.Cart) error
	saved    []domain.Cart
}

func (s *stubCartRepository) Load(ctx context.Context, sessionID string) (domain.Cart, error) {
	if s.loadFunc != nil {
		return s.loadFunc(ctx, sessionID)
	}
	return domain.Cart{}, stubRepoError{notFound: true}
}

func (s *stubCartRepository) Save(ctx context.Context, cart domain.Cart) error {
	s.mu.Lock()
	s.saved = append(s.saved, cart)
	s.mu.Unlock()
	if s.saveFunc != nil {
		return s.saveFunc(ctx, cart)
	}
	return nil
}

func (s *stubCartRepository) saves() []domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Cart(nil), s.saved...)
}

type stubProductRepository struct {
	products map[string]domain.Product
	err      error
}

func (s *stubProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, stubRepoError{notFound: true}
	}
	return product, nil
}

type stubOrderRepository struct {
	mu               sync.Mutex
	orders           map[string]domain.Order
	insertErr        error
	inserted         []domain.Order
	onInsert         func(order domain.Order)
	watchFunc        func(ctx context.Context, userID string, limit int, emit func([]domain.Order)) error
	updateStatusFunc func(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error)
}

func newStubOrderRepository(orders ...domain.Order) *stubOrderRepository {
	repo := &stubOrderRepository{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (s *stubOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if s.onInsert != nil {
		s.onInsert(order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, order)
	if s.insertErr != nil {
		return s.insertErr
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	if s.updateStatusFunc != nil {
		return s.updateStatusFunc(ctx, orderID, from, to, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	if order.Status != from {
		return domain.Order{}, stubRepoError{conflict: true}
	}
	order.Status = to
	order.UpdatedAt = at
	s.orders[orderID] = order
	return order, nil
}

func (s *stubOrderRepository) WatchByUser(ctx context.Context, userID string, limit int, emit func([]domain.Order)) error {
	if s.watchFunc != nil {
		return s.watchFunc(ctx, userID, limit, emit)
	}
	<-ctx.Done()
	return nil
}

func (s *stubOrderRepository) insertedOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.inserted...)
}

type stubNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	order  domain.Order
	status domain.OrderStatus
}

func (s *stubNotifier) Compose(domain.Order, domain.OrderStatus) (string, bool) { return "", false }

func (s *stubNotifier) Notify(_ context.Context, order domain.Order, status domain.OrderStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, notifyCall{order: order, status: status})
	return true
}

func (s *stubNotifier) notified() []notifyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifyCall(nil), s.calls...)
}

type staticSettings struct {
	settings domain.StoreSettings
}

func (s staticSettings) Current() domain.StoreSettings { return s.settings }
