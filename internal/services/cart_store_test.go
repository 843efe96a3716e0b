package services

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bazaarbd/storefront/internal/domain"
)

func product(id string, taka int64) Product {
	return Product{ID: id, Name: "Product " + id, Price: domain.Taka(taka, 0), Active: true}
}

func newLoadedStore(t *testing.T, repo *stubCartRepository) *CartStore {
	t.Helper()
	store := NewCartStore("uid-1", CartStoreDeps{Repository: repo})
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	store.Load(context.Background())
	return store
}

func TestCartStoreAddIncrementsExistingLine(t *testing.T) {
	store := newLoadedStore(t, &stubCartRepository{})

	store.AddToCart(product("a", 100))
	store.AddToCart(product("a", 100))
	store.AddToCart(product("b", 50))

	items := store.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 1, items[1].Quantity)
	assert.Equal(t, 3, store.Count())
}

func TestCartStoreUpdateQuantityNonPositiveRemoves(t *testing.T) {
	for _, qty := range []int{0, -3} {
		t.Run(strconv.Itoa(qty), func(t *testing.T) {
			store := newLoadedStore(t, &stubCartRepository{})
			store.AddToCart(product("a", 100))
			store.AddToCart(product("b", 100))

			store.UpdateQuantity("a", qty)

			items := store.Items()
			require.Len(t, items, 1)
			assert.Equal(t, "b", items[0].ProductID)
		})
	}
}

func TestCartStoreUpdateQuantitySetsExactValue(t *testing.T) {
	store := newLoadedStore(t, &stubCartRepository{})
	store.AddToCart(product("a", 100))
	store.AddToCart(product("a", 100))

	store.UpdateQuantity("a", 5)
	store.UpdateQuantity("missing", 3)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestCartStoreRemoveAndClear(t *testing.T) {
	store := newLoadedStore(t, &stubCartRepository{})
	store.AddToCart(product("a", 100))
	store.AddToCart(product("b", 100))

	store.RemoveFromCart("missing")
	store.RemoveFromCart("a")
	assert.Len(t, store.Items(), 1)

	store.ClearCart()
	assert.Empty(t, store.Items())
	assert.Zero(t, store.Count())
}

func TestCartStoreRandomOperationsKeepInvariants(t *testing.T) {
	store := newLoadedStore(t, &stubCartRepository{})
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d"}

	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0, 1:
			store.AddToCart(product(id, 10))
		case 2:
			store.RemoveFromCart(id)
		case 3:
			store.UpdateQuantity(id, rng.Intn(7)-3)
		}

		seen := map[string]bool{}
		for _, item := range store.Items() {
			require.False(t, seen[item.ProductID], "duplicate line for %s", item.ProductID)
			require.Positive(t, item.Quantity)
			seen[item.ProductID] = true
		}
	}
}

func TestCartStoreLoadsPersistedCart(t *testing.T) {
	repo := &stubCartRepository{
		loadFunc: func(_ context.Context, sessionID string) (domain.Cart, error) {
			assert.Equal(t, "uid-1", sessionID)
			return domain.Cart{Items: []CartLineItem{{ProductID: "saved", Quantity: 2, UnitPrice: 100}}}, nil
		},
	}
	store := NewCartStore("uid-1", CartStoreDeps{Repository: repo})
	defer func() { _ = store.Close(context.Background()) }()

	assert.False(t, store.IsReady())
	store.Load(context.Background())
	assert.True(t, store.IsReady())

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "saved", items[0].ProductID)
	assert.Empty(t, repo.saves(), "loading must not write back")
}

func TestCartStoreMutationsBeforeReadyAreNotPersisted(t *testing.T) {
	release := make(chan struct{})
	repo := &stubCartRepository{
		loadFunc: func(context.Context, string) (domain.Cart, error) {
			<-release
			return domain.Cart{Items: []CartLineItem{{ProductID: "saved", Quantity: 1}}}, nil
		},
	}
	store := NewCartStore("uid-1", CartStoreDeps{Repository: repo})
	defer func() { _ = store.Close(context.Background()) }()

	go store.Load(context.Background())
	store.AddToCart(product("early", 10))
	assert.Len(t, store.Items(), 1)

	close(release)
	require.NoError(t, store.WaitReady(context.Background()))
	require.NoError(t, store.Flush(context.Background()))

	assert.Empty(t, repo.saves(), "pre-ready mutation must not clobber storage")
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "saved", items[0].ProductID, "loaded state replaces pre-ready changes")
}

func TestCartStoreLoadFailureIsEmptyAndReady(t *testing.T) {
	var logged []string
	repo := &stubCartRepository{
		loadFunc: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{}, stubRepoError{unavailable: true}
		},
	}
	store := NewCartStore("uid-1", CartStoreDeps{
		Repository: repo,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	defer func() { _ = store.Close(context.Background()) }()

	store.Load(context.Background())
	store.Load(context.Background())

	select {
	case <-store.Ready():
	default:
		t.Fatal("store should be ready after failed load")
	}
	assert.Empty(t, store.Items())
	assert.Equal(t, []string{"cart.load.failed"}, logged)
}

func TestCartStorePersistsLatestSnapshotAfterReady(t *testing.T) {
	repo := &stubCartRepository{}
	store := newLoadedStore(t, repo)

	store.AddToCart(product("a", 100))
	store.AddToCart(product("b", 100))
	store.UpdateQuantity("a", 4)
	require.NoError(t, store.Flush(context.Background()))

	saves := repo.saves()
	require.NotEmpty(t, saves)
	last := saves[len(saves)-1]
	assert.Equal(t, "uid-1", last.SessionID)
	require.Len(t, last.Items, 2)
	assert.Equal(t, 4, last.Items[0].Quantity)
	assert.LessOrEqual(t, len(saves), 3, "writes are coalesced, never more than mutations")
}

func TestCartStoreSaveFailureKeepsMemoryState(t *testing.T) {
	repo := &stubCartRepository{
		saveFunc: func(context.Context, domain.Cart) error { return errors.New("firestore down") },
	}
	var (
		mu     sync.Mutex
		events []string
	)
	store := NewCartStore("uid-1", CartStoreDeps{
		Repository: repo,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})
	defer func() { _ = store.Close(context.Background()) }()
	store.Load(context.Background())

	store.AddToCart(product("a", 100))
	require.NoError(t, store.Flush(context.Background()))

	assert.Len(t, store.Items(), 1)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "cart.persist.failed")
}

func TestCartStoreCloseWritesPendingSnapshot(t *testing.T) {
	gate := make(chan struct{})
	repo := &stubCartRepository{
		saveFunc: func(context.Context, domain.Cart) error {
			<-gate
			return nil
		},
	}
	store := NewCartStore("uid-1", CartStoreDeps{Repository: repo})
	store.Load(context.Background())

	store.AddToCart(product("a", 100))
	store.AddToCart(product("b", 100))
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, store.Close(ctx))

	saves := repo.saves()
	require.NotEmpty(t, saves)
	assert.Len(t, saves[len(saves)-1].Items, 2)
}

func TestCartStoreRemoveOrderedKeepsNewerQuantities(t *testing.T) {
	store := newLoadedStore(t, &stubCartRepository{})
	store.AddToCart(product("a", 100))
	ordered := store.Items()
	store.AddToCart(product("a", 100))
	store.AddToCart(product("b", 100))

	require.NoError(t, store.RemoveOrdered(ordered))

	items := store.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ProductID)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, "b", items[1].ProductID)

	require.NoError(t, store.RemoveOrdered(store.Items()))
	assert.Empty(t, store.Items())
}

func TestCartStoreClosedRejectsMutations(t *testing.T) {
	repo := &stubCartRepository{}
	store := NewCartStore("uid-1", CartStoreDeps{Repository: repo})
	store.Load(context.Background())
	require.NoError(t, store.AddToCart(product("a", 100)))
	require.NoError(t, store.Close(context.Background()))

	assert.ErrorIs(t, store.AddToCart(product("b", 100)), ErrCartStoreClosed)
	assert.ErrorIs(t, store.UpdateQuantity("a", 3), ErrCartStoreClosed)
	assert.ErrorIs(t, store.ClearCart(), ErrCartStoreClosed)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
	saves := repo.saves()
	require.NotEmpty(t, saves)
	assert.Len(t, saves[len(saves)-1].Items, 1)
}
