package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const (
	defaultCartIdleTTL  = 30 * time.Minute
	defaultCartLoadWait = 5 * time.Second
	maxCartLineQuantity = 99
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartProductNotFound indicates the product does not exist or is inactive.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartUnavailable indicates the cart could not be read in time.
	ErrCartUnavailable = errors.New("cart service: unavailable")

	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

// ShippingOptionSource supplies the current shipping options.
type ShippingOptionSource interface {
	Current() StoreSettings
}

// CartServiceDeps wires repositories and collaborators for the cart session registry.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Settings ShippingOptionSource
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
	Metrics  *metrics.Metrics
	IdleTTL  time.Duration
	LoadWait time.Duration
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	settings ShippingOptionSource
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	metrics  *metrics.Metrics
	idleTTL  time.Duration
	loadWait time.Duration

	mu       sync.Mutex
	stores   map[string]*CartStore
	draining map[string]*CartStore
	closed   bool
}

// NewCartService constructs the per-session cart registry.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idle := deps.IdleTTL
	if idle <= 0 {
		idle = defaultCartIdleTTL
	}
	wait := deps.LoadWait
	if wait <= 0 {
		wait = defaultCartLoadWait
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		settings: deps.Settings,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		metrics:  deps.Metrics,
		idleTTL:  idle,
		loadWait: wait,
		stores:   make(map[string]*CartStore),
		draining: make(map[string]*CartStore),
	}, nil
}

func (s *cartService) Quote(ctx context.Context, sessionID, shippingOptionID string) (CartQuote, error) {
	store, err := s.readyStore(ctx, sessionID)
	if err != nil {
		return CartQuote{}, err
	}
	return s.quote(store, shippingOptionID), nil
}

func (s *cartService) AddItem(ctx context.Context, sessionID, productID string) (CartQuote, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartQuote{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartQuote{}, ErrCartProductNotFound
		}
		s.logger(ctx, "cart.product.lookup_failed", map[string]any{"productId": productID, "error": err})
		return CartQuote{}, ErrCartUnavailable
	}
	store, err := s.withStore(ctx, sessionID, func(store *CartStore) error {
		for _, item := range store.Items() {
			if item.ProductID == product.ID && item.Quantity >= maxCartLineQuantity {
				return fmt.Errorf("%w: quantity limit reached", ErrCartInvalidInput)
			}
		}
		return store.AddToCart(product)
	})
	if err != nil {
		return CartQuote{}, err
	}
	return s.quote(store, ""), nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, sessionID, productID string, quantity int) (CartQuote, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartQuote{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if quantity > maxCartLineQuantity {
		return CartQuote{}, fmt.Errorf("%w: quantity must be at most %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	store, err := s.withStore(ctx, sessionID, func(store *CartStore) error {
		return store.UpdateQuantity(productID, quantity)
	})
	if err != nil {
		return CartQuote{}, err
	}
	return s.quote(store, ""), nil
}

func (s *cartService) RemoveItem(ctx context.Context, sessionID, productID string) (CartQuote, error) {
	productID = strings.TrimSpace(productID)
	store, err := s.withStore(ctx, sessionID, func(store *CartStore) error {
		return store.RemoveFromCart(productID)
	})
	if err != nil {
		return CartQuote{}, err
	}
	return s.quote(store, ""), nil
}

func (s *cartService) Clear(ctx context.Context, sessionID string) error {
	_, err := s.withStore(ctx, sessionID, func(store *CartStore) error {
		return store.ClearCart()
	})
	return err
}

func (s *cartService) RemoveOrdered(ctx context.Context, sessionID string, ordered []CartLineItem) error {
	_, err := s.withStore(ctx, sessionID, func(store *CartStore) error {
		return store.RemoveOrdered(ordered)
	})
	return err
}

func (s *cartService) Items(ctx context.Context, sessionID string) ([]CartLineItem, error) {
	store, err := s.readyStore(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return store.Items(), nil
}

func (s *cartService) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var idle []*CartStore
	for id, store := range s.stores {
		if store.LastUsed().Before(cutoff) {
			idle = append(idle, store)
			delete(s.stores, id)
			s.draining[id] = store
		}
	}
	active := len(s.stores)
	s.mu.Unlock()

	for _, store := range idle {
		if err := store.Close(ctx); err != nil {
			s.logger(ctx, "cart.evict.failed", map[string]any{"sessionId": store.SessionID(), "error": err})
		}
		s.mu.Lock()
		if s.draining[store.SessionID()] == store {
			delete(s.draining, store.SessionID())
		}
		s.mu.Unlock()
	}
	s.metrics.SetActiveCarts(active)
	if len(idle) > 0 {
		s.logger(ctx, "cart.evicted", map[string]any{"count": len(idle), "active": active})
	}
	return len(idle)
}

func (s *cartService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	stores := make([]*CartStore, 0, len(s.stores))
	for _, store := range s.stores {
		stores = append(stores, store)
	}
	s.stores = map[string]*CartStore{}
	s.mu.Unlock()

	var errs []error
	for _, store := range stores {
		if err := store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cart %s: %w", store.SessionID(), err))
		}
	}
	s.metrics.SetActiveCarts(0)
	return errors.Join(errs...)
}

// withStore runs fn against the session's ready store. A store evicted between
// lookup and mutation rejects the change; fn then runs once more against a
// fresh store that loads the evicted store's final snapshot.
func (s *cartService) withStore(ctx context.Context, sessionID string, fn func(*CartStore) error) (*CartStore, error) {
	for attempt := 0; ; attempt++ {
		store, err := s.readyStore(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		err = fn(store)
		switch {
		case err == nil:
			return store, nil
		case errors.Is(err, ErrCartStoreClosed) && attempt == 0:
			continue
		case errors.Is(err, ErrCartStoreClosed):
			return nil, ErrCartUnavailable
		default:
			return nil, err
		}
	}
}

// readyStore returns the session's store, creating and loading it on first
// use, and waits for the load so callers never act on a not-yet-loaded cart.
// The store is marked used under the registry lock so a concurrent Sweep
// cannot evict it as idle.
func (s *cartService) readyStore(ctx context.Context, sessionID string) (*CartStore, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrCartInvalidInput)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCartUnavailable
	}
	store, ok := s.stores[sessionID]
	if !ok {
		store = NewCartStore(sessionID, CartStoreDeps{
			Repository: s.carts,
			Clock:      s.now,
			Logger:     s.logger,
			Metrics:    s.metrics,
		})
		s.stores[sessionID] = store
		evicted := s.draining[sessionID]
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadWait)
		go func() {
			defer cancel()
			if evicted != nil {
				select {
				case <-evicted.Done():
				case <-loadCtx.Done():
				}
			}
			store.Load(loadCtx)
		}()
	} else {
		store.touch()
	}
	active := len(s.stores)
	s.mu.Unlock()
	if !ok {
		s.metrics.SetActiveCarts(active)
	}

	if err := store.WaitReady(ctx); err != nil {
		return nil, ErrCartUnavailable
	}
	return store, nil
}

func (s *cartService) quote(store *CartStore, shippingOptionID string) CartQuote {
	items := store.Items()
	resolver := NewShippingResolver()
	if s.settings != nil {
		resolver.SetOptions(s.settings.Current().ShippingOptions)
	}
	if shippingOptionID != "" {
		resolver.Select(shippingOptionID)
	}

	quote := CartQuote{
		Items:           items,
		ShippingOptions: resolver.Options(),
		Totals:          CalculateTotals(items, resolver.Cost()),
	}
	for _, item := range items {
		quote.Count += item.Quantity
	}
	if selected, ok := resolver.Selected(); ok {
		quote.Shipping = &selected
	}
	return quote
}
