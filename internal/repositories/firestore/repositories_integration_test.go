//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	domain "github.com/bazaarbd/storefront/internal/domain"
	pconfig "github.com/bazaarbd/storefront/internal/platform/config"
	pfirestore "github.com/bazaarbd/storefront/internal/platform/firestore"
	"github.com/bazaarbd/storefront/internal/repositories"
	repofs "github.com/bazaarbd/storefront/internal/repositories/firestore"
)

func newProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "storefront-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestOrderRepositoryLifecycle(t *testing.T) {
	provider := newProvider(t)
	repo, err := repofs.NewOrderRepository(provider)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID := "user-" + ulid.Make().String()
	order := domain.Order{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Status:    domain.OrderStatusPlaced,
		Customer:  domain.Recipient{Name: "Rahim", Phone: "01711000000", Address: "Dhaka"},
		Subtotal:  domain.Taka(3150, 0),
		Total:     domain.Taka(3220, 0),
		Items:     []domain.OrderItem{{ProductID: "p1", Name: "Saree", Quantity: 2, Price: domain.Taka(1200, 0)}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(ctx, order))

	err = repo.Insert(ctx, order)
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsConflict())

	updated, err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPlaced, domain.OrderStatusConfirmed, time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, updated.Status)

	_, err = repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPlaced, domain.OrderStatusCancelled, time.Now())
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsConflict())

	listed, err := repo.ListByUser(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, domain.Taka(1200, 0), listed[0].Items[0].Price)
}

func TestOrderRepositoryWatchDeliversInserts(t *testing.T) {
	provider := newProvider(t)
	repo, err := repofs.NewOrderRepository(provider)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID := "watch-" + ulid.Make().String()
	updates := make(chan []domain.Order, 8)
	go func() {
		_ = repo.WatchByUser(ctx, userID, 10, func(orders []domain.Order) { updates <- orders })
	}()

	require.Empty(t, <-updates)
	require.NoError(t, repo.Insert(ctx, domain.Order{
		ID: ulid.Make().String(), UserID: userID, Status: domain.OrderStatusPlaced, CreatedAt: time.Now(),
	}))
	require.Len(t, <-updates, 1)
}

func TestCartRepositoryRoundTrip(t *testing.T) {
	provider := newProvider(t)
	repo, err := repofs.NewCartRepository(provider)
	require.NoError(t, err)

	ctx := context.Background()
	session := "cart-" + ulid.Make().String()

	_, err = repo.Load(ctx, session)
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsNotFound())

	require.NoError(t, repo.Save(ctx, domain.Cart{SessionID: session, Items: []domain.CartLineItem{
		{ProductID: "p1", Name: "Saree", UnitPrice: domain.Taka(1200, 0), Quantity: 2},
	}}))
	cart, err := repo.Load(ctx, session)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.Equal(t, 2, cart.Items[0].Quantity)
}
