package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const defaultCartSaveTimeout = 10 * time.Second

// ErrCartStoreClosed is returned by mutations on a store that was evicted or
// closed. The mutation is not applied.
var ErrCartStoreClosed = errors.New("cart store: closed")

// CartStoreDeps wires persistence and observability into a CartStore.
type CartStoreDeps struct {
	Repository  repositories.CartRepository
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	Metrics     *metrics.Metrics
	SaveTimeout time.Duration
}

// CartStore is the in-memory cart of one session. It loads once from the
// repository and writes every later mutation back asynchronously through a
// single writer goroutine, so saves are ordered and coalesced. Mutations made
// before the first load completes are kept in memory only and are replaced by
// the loaded cart.
type CartStore struct {
	sessionID   string
	repo        repositories.CartRepository
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
	metrics     *metrics.Metrics
	saveTimeout time.Duration

	mu        sync.Mutex
	items     []CartLineItem
	ready     bool
	version   uint64
	persisted uint64
	flushed   chan struct{}
	lastUsed  time.Time
	closed    bool

	readyCh  chan struct{}
	loadOnce sync.Once
	dirty    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCartStore creates a store for sessionID and starts its writer. Call Load
// to read the persisted cart.
func NewCartStore(sessionID string, deps CartStoreDeps) *CartStore {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.SaveTimeout
	if timeout <= 0 {
		timeout = defaultCartSaveTimeout
	}
	s := &CartStore{
		sessionID:   sessionID,
		repo:        deps.Repository,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
		metrics:     deps.Metrics,
		saveTimeout: timeout,
		flushed:     make(chan struct{}),
		readyCh:     make(chan struct{}),
		dirty:       make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.lastUsed = s.now()
	go s.writer()
	return s
}

// SessionID returns the owning session.
func (s *CartStore) SessionID() string { return s.sessionID }

// Load reads the persisted cart once. Any failure, including a missing cart,
// leaves the cart empty. The store becomes ready afterwards in every case.
func (s *CartStore) Load(ctx context.Context) {
	s.loadOnce.Do(func() {
		var items []CartLineItem
		if s.repo != nil {
			cart, err := s.repo.Load(ctx, s.sessionID)
			switch {
			case err == nil:
				items = normaliseLines(cart.Items)
			case isRepoNotFound(err):
			default:
				s.logger(ctx, "cart.load.failed", map[string]any{
					"sessionId": s.sessionID,
					"error":     err,
				})
			}
		}

		s.mu.Lock()
		s.items = items
		s.ready = true
		s.mu.Unlock()
		close(s.readyCh)
	})
}

// Ready is closed once the first Load attempt finished.
func (s *CartStore) Ready() <-chan struct{} { return s.readyCh }

// IsReady reports whether Load has finished.
func (s *CartStore) IsReady() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the store is ready or ctx ends.
func (s *CartStore) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddToCart increments the product's line or inserts it with quantity 1.
func (s *CartStore) AddToCart(product Product) error {
	return s.mutate(func() {
		if idx := s.indexOf(product.ID); idx >= 0 {
			s.items[idx].Quantity++
			return
		}
		s.items = append(s.items, CartLineItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			ImageURL:  product.ImageURL,
			Quantity:  1,
		})
	})
}

// RemoveFromCart deletes the product's line; absent products are ignored.
func (s *CartStore) RemoveFromCart(productID string) error {
	return s.mutate(func() { s.remove(productID) })
}

// UpdateQuantity sets the line quantity exactly; quantity <= 0 removes it.
// Products not in the cart are ignored.
func (s *CartStore) UpdateQuantity(productID string, quantity int) error {
	return s.mutate(func() {
		if quantity <= 0 {
			s.remove(productID)
			return
		}
		if idx := s.indexOf(productID); idx >= 0 {
			s.items[idx].Quantity = quantity
		}
	})
}

// ClearCart empties the cart.
func (s *CartStore) ClearCart() error {
	return s.mutate(func() { s.items = nil })
}

// RemoveOrdered takes the ordered quantities off the matching lines and drops
// lines that reach zero. Lines added after the order was priced stay.
func (s *CartStore) RemoveOrdered(ordered []CartLineItem) error {
	return s.mutate(func() {
		for _, line := range ordered {
			idx := s.indexOf(line.ProductID)
			if idx < 0 {
				continue
			}
			if s.items[idx].Quantity <= line.Quantity {
				s.remove(line.ProductID)
				continue
			}
			s.items[idx].Quantity -= line.Quantity
		}
	})
}

// Items returns a copy of the lines in insertion order.
func (s *CartStore) Items() []CartLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	return append([]CartLineItem(nil), s.items...)
}

// Count returns the total quantity across lines.
func (s *CartStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// LastUsed returns the time of the latest read or mutation.
func (s *CartStore) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Flush waits until every mutation made before the call has been handed to
// the repository. A failed save still counts as flushed.
func (s *CartStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	target := s.version
	for s.persisted < target {
		wait := s.flushed
		s.mu.Unlock()
		select {
		case <-wait:
		case <-s.done:
			return errors.New("cart store: closed before flush completed")
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.mu.Unlock()
	return nil
}

// Close rejects further mutations, writes any pending snapshot and stops the
// writer.
func (s *CartStore) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the writer has stopped and the final snapshot was handed
// to the repository.
func (s *CartStore) Done() <-chan struct{} { return s.done }

func (s *CartStore) touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

func (s *CartStore) mutate(fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrCartStoreClosed
	}
	fn()
	s.lastUsed = s.now()
	if !s.ready {
		s.mu.Unlock()
		return nil
	}
	s.version++
	s.mu.Unlock()

	select {
	case s.dirty <- struct{}{}:
	default:
	}
	return nil
}

func (s *CartStore) writer() {
	defer close(s.done)
	for {
		select {
		case <-s.dirty:
			s.persist()
		case <-s.stop:
			s.persist()
			return
		}
	}
}

// persist writes the latest snapshot when it is newer than the last write.
// Failures are logged and counted; the in-memory cart is kept as is.
func (s *CartStore) persist() {
	s.mu.Lock()
	version := s.version
	if version == s.persisted {
		s.mu.Unlock()
		return
	}
	cart := domain.Cart{
		SessionID: s.sessionID,
		Items:     append([]CartLineItem(nil), s.items...),
		UpdatedAt: s.now(),
	}
	s.mu.Unlock()

	var err error
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		err = s.repo.Save(ctx, cart)
		cancel()
	}
	s.metrics.CartPersisted(err)
	if err != nil {
		s.logger(context.Background(), "cart.persist.failed", map[string]any{
			"sessionId": s.sessionID,
			"version":   version,
			"error":     err,
		})
	}

	s.mu.Lock()
	s.persisted = version
	close(s.flushed)
	s.flushed = make(chan struct{})
	s.mu.Unlock()
}

func (s *CartStore) indexOf(productID string) int {
	for i, item := range s.items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *CartStore) remove(productID string) {
	if idx := s.indexOf(productID); idx >= 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
	}
}

func normaliseLines(items []CartLineItem) []CartLineItem {
	out := make([]CartLineItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		seen[item.ProductID] = struct{}{}
		out = append(out, item)
	}
	return out
}
