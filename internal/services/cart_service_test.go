package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bazaarbd/storefront/internal/domain"
)

func newTestCartService(t *testing.T, carts *stubCartRepository, clock func() time.Time) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts: carts,
		Products: &stubProductRepository{products: map[string]domain.Product{
			"saree":  {ID: "saree", Name: "Saree", Price: domain.Taka(1200, 0), Active: true},
			"gamcha": {ID: "gamcha", Name: "Gamcha", Price: domain.Taka(750, 0), Active: true},
		}},
		Settings: staticSettings{settings: domain.StoreSettings{ShippingOptions: testShippingOptions()}},
		Clock:    clock,
		IdleTTL:  time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestCartServiceQuoteMatchesPricingExample(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, time.Now)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "uid-1", "gamcha")
	require.NoError(t, err)

	quote, err := svc.Quote(ctx, "uid-1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, quote.Count)
	assert.Equal(t, "3150.00", quote.Totals.Subtotal.String())
	assert.Equal(t, "3220.00", quote.Totals.Total.String())
	require.NotNil(t, quote.Shipping)
	assert.Equal(t, "a", quote.Shipping.ID)

	quote, err = svc.Quote(ctx, "uid-1", "b")
	require.NoError(t, err)
	assert.Equal(t, "3270.00", quote.Totals.Total.String())

	quote, err = svc.Quote(ctx, "uid-1", "unknown")
	require.NoError(t, err)
	assert.Equal(t, "a", quote.Shipping.ID, "unknown option keeps the default")
}

func TestCartServiceSessionsAreIsolated(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, time.Now)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)

	items, err := svc.Items(ctx, "uid-2")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartServiceUnknownProduct(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, time.Now)

	_, err := svc.AddItem(context.Background(), "uid-1", "missing")
	assert.ErrorIs(t, err, ErrCartProductNotFound)

	_, err = svc.AddItem(context.Background(), "uid-1", " ")
	assert.ErrorIs(t, err, ErrCartInvalidInput)
}

func TestCartServiceUpdateAndRemove(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, time.Now)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)

	quote, err := svc.UpdateQuantity(ctx, "uid-1", "saree", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, quote.Count)

	_, err = svc.UpdateQuantity(ctx, "uid-1", "saree", 1000)
	assert.ErrorIs(t, err, ErrCartInvalidInput)

	quote, err = svc.UpdateQuantity(ctx, "uid-1", "saree", 0)
	require.NoError(t, err)
	assert.Empty(t, quote.Items)

	_, err = svc.AddItem(ctx, "uid-1", "gamcha")
	require.NoError(t, err)
	quote, err = svc.RemoveItem(ctx, "uid-1", "gamcha")
	require.NoError(t, err)
	assert.Zero(t, quote.Count)
}

func TestCartServiceLoadsOncePerSession(t *testing.T) {
	var loads atomic.Int32
	carts := &stubCartRepository{
		loadFunc: func(context.Context, string) (domain.Cart, error) {
			loads.Add(1)
			return domain.Cart{Items: []CartLineItem{{ProductID: "saree", Quantity: 1, UnitPrice: domain.Taka(1200, 0)}}}, nil
		},
	}
	svc := newTestCartService(t, carts, time.Now)

	for i := 0; i < 3; i++ {
		items, err := svc.Items(context.Background(), "uid-1")
		require.NoError(t, err)
		require.Len(t, items, 1)
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestCartServiceSweepEvictsIdleSessionsAndFlushes(t *testing.T) {
	var now atomic.Int64
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	carts := &stubCartRepository{}
	svc := newTestCartService(t, carts, clock)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "idle", "saree")
	require.NoError(t, err)
	now.Store(start.Add(50 * time.Second).UnixNano())
	_, err = svc.AddItem(ctx, "busy", "gamcha")
	require.NoError(t, err)

	now.Store(start.Add(90 * time.Second).UnixNano())
	assert.Equal(t, 1, svc.Sweep(ctx))

	var idleSaved bool
	for _, cart := range carts.saves() {
		if cart.SessionID == "idle" && len(cart.Items) == 1 {
			idleSaved = true
		}
	}
	assert.True(t, idleSaved, "evicted cart is written before it is dropped")
}

func TestCartServiceClosedRejectsRequests(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, time.Now)
	require.NoError(t, svc.Close(context.Background()))

	_, err := svc.Quote(context.Background(), "uid-1", "")
	assert.True(t, errors.Is(err, ErrCartUnavailable))
}

func TestNewCartServiceRequiresRepositories(t *testing.T) {
	_, err := NewCartService(CartServiceDeps{Products: &stubProductRepository{}})
	assert.Error(t, err)
	_, err = NewCartService(CartServiceDeps{Carts: &stubCartRepository{}})
	assert.Error(t, err)
}

func latestSavedCart(carts *stubCartRepository) func(context.Context, string) (domain.Cart, error) {
	return func(_ context.Context, sessionID string) (domain.Cart, error) {
		saves := carts.saves()
		for i := len(saves) - 1; i >= 0; i-- {
			if saves[i].SessionID == sessionID {
				return saves[i], nil
			}
		}
		return domain.Cart{}, stubRepoError{notFound: true}
	}
}

func TestCartServiceEvictedStoreRejectsMutation(t *testing.T) {
	var now atomic.Int64
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	carts := &stubCartRepository{}
	carts.loadFunc = latestSavedCart(carts)
	svc := newTestCartService(t, carts, clock).(*cartService)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)
	store, err := svc.readyStore(ctx, "uid-1")
	require.NoError(t, err)

	now.Store(start.Add(2 * time.Minute).UnixNano())
	require.Equal(t, 1, svc.Sweep(ctx))

	err = store.AddToCart(domain.Product{ID: "gamcha", Name: "Gamcha", Price: domain.Taka(750, 0)})
	assert.ErrorIs(t, err, ErrCartStoreClosed)

	items, err := svc.Items(ctx, "uid-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "saree", items[0].ProductID)
}

func TestCartServiceRetriesMutationOnEvictedStore(t *testing.T) {
	var now atomic.Int64
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	carts := &stubCartRepository{}
	carts.loadFunc = latestSavedCart(carts)
	svc := newTestCartService(t, carts, clock).(*cartService)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)

	gamcha := domain.Product{ID: "gamcha", Name: "Gamcha", Price: domain.Taka(750, 0)}
	var stores []*CartStore
	store, err := svc.withStore(ctx, "uid-1", func(store *CartStore) error {
		stores = append(stores, store)
		if len(stores) == 1 {
			now.Store(start.Add(2 * time.Minute).UnixNano())
			require.Equal(t, 1, svc.Sweep(ctx))
		}
		return store.AddToCart(gamcha)
	})
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.NotSame(t, stores[0], stores[1])
	assert.Same(t, stores[1], store)

	items, err := svc.Items(ctx, "uid-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "saree", items[0].ProductID)
	assert.Equal(t, "gamcha", items[1].ProductID)

	require.NoError(t, store.Flush(ctx))
	saves := carts.saves()
	require.NotEmpty(t, saves)
	assert.Len(t, saves[len(saves)-1].Items, 2, "the retried mutation is written back")
}

func TestCartServiceRequestKeepsStoreFromSweep(t *testing.T) {
	var now atomic.Int64
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	svc := newTestCartService(t, &stubCartRepository{}, clock).(*cartService)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "uid-1", "saree")
	require.NoError(t, err)

	now.Store(start.Add(50 * time.Second).UnixNano())
	_, err = svc.readyStore(ctx, "uid-1")
	require.NoError(t, err)

	now.Store(start.Add(90 * time.Second).UnixNano())
	assert.Equal(t, 0, svc.Sweep(ctx), "a lookup counts as use")
}
