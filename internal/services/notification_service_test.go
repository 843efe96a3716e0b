package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/jobs"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (s *recordingSink) Deliver(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSink) delivered() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.sent...)
}

type inlineDispatcher struct {
	reject bool
}

func (d inlineDispatcher) Dispatch(ctx context.Context, _ string, run func(context.Context) error) string {
	if d.reject {
		return ""
	}
	_ = run(ctx)
	return "job-1"
}

func greetingSettings(greetings map[OrderStatus]string) staticSettings {
	return staticSettings{settings: domain.StoreSettings{Greetings: greetings}}
}

func newTestNotifier(t *testing.T, greetings map[OrderStatus]string, sink NotificationSink, dispatcher TaskDispatcher) NotificationService {
	t.Helper()
	svc, err := NewNotificationService(NotificationServiceDeps{
		Settings:   greetingSettings(greetings),
		Sink:       sink,
		Dispatcher: dispatcher,
		BaseURL:    "https://shop.example.com/",
	})
	require.NoError(t, err)
	return svc
}

func sampleOrder() Order {
	return Order{
		ID:       "abcdef123",
		Customer: domain.Recipient{Name: "Rahim", Phone: "01712345678"},
	}
}

func TestComposeOrderPlacedMessage(t *testing.T) {
	svc := newTestNotifier(t, map[OrderStatus]string{
		domain.OrderStatusPlaced: "Hi [customerName],",
	}, &recordingSink{}, inlineDispatcher{})

	body, ok := svc.Compose(sampleOrder(), domain.OrderStatusPlaced)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(body, "Hi Rahim, Your order has been placed. Order ID: ABCDEF1."), body)
	assert.Equal(t, "Hi Rahim, Your order has been placed. Order ID: ABCDEF1. View details: https://shop.example.com/account/orders/abcdef123", body)
}

func TestComposeReplacesEveryPlaceholderAndFallsBack(t *testing.T) {
	svc := newTestNotifier(t, map[OrderStatus]string{
		domain.OrderStatusConfirmed: "[customerName]! Dear [customerName],",
		domain.OrderStatusDelivered: "Hello [customerName].",
	}, &recordingSink{}, inlineDispatcher{})

	body, ok := svc.Compose(sampleOrder(), domain.OrderStatusConfirmed)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(body, "Rahim! Dear Rahim, Your order has been confirmed."))

	order := sampleOrder()
	order.Customer.Name = "  "
	body, ok = svc.Compose(order, domain.OrderStatusDelivered)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(body, "Hello Customer. Your order has been delivered."))
}

func TestComposeSuppressesIneligibleOrUnconfiguredStatuses(t *testing.T) {
	all := map[OrderStatus]string{}
	for _, status := range domain.OrderStatuses() {
		all[status] = "Hi [customerName],"
	}
	svc := newTestNotifier(t, all, &recordingSink{}, inlineDispatcher{})

	for _, status := range []OrderStatus{domain.OrderStatusComplete, domain.OrderStatusCancelled, OrderStatus("completed")} {
		_, ok := svc.Compose(sampleOrder(), status)
		assert.False(t, ok, "status %q must not notify", status)
	}

	svc = newTestNotifier(t, map[OrderStatus]string{domain.OrderStatusConfirmed: "  "}, &recordingSink{}, inlineDispatcher{})
	_, ok := svc.Compose(sampleOrder(), domain.OrderStatusPlaced)
	assert.False(t, ok, "missing template suppresses")
	_, ok = svc.Compose(sampleOrder(), domain.OrderStatusConfirmed)
	assert.False(t, ok, "blank template suppresses")
}

func TestComposeShortOrderID(t *testing.T) {
	assert.Equal(t, "AB1", shortOrderID("ab1"))
	assert.Equal(t, "01JABCD", shortOrderID("01jabcdef"))
}

func TestNotifyDeliversNormalisedNumber(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestNotifier(t, map[OrderStatus]string{domain.OrderStatusPlaced: "Hi [customerName],"}, sink, inlineDispatcher{})

	assert.True(t, svc.Notify(context.Background(), sampleOrder(), domain.OrderStatusPlaced))

	sent := sink.delivered()
	require.Len(t, sent, 1)
	assert.Equal(t, "8801712345678", sent[0].Number)
	assert.Equal(t, "abcdef123", sent[0].OrderID)
	assert.Equal(t, domain.OrderStatusPlaced, sent[0].Status)
}

func TestNotifySkipsSuppressedAndInvalidNumbers(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestNotifier(t, map[OrderStatus]string{domain.OrderStatusPlaced: "Hi,"}, sink, inlineDispatcher{})

	assert.False(t, svc.Notify(context.Background(), sampleOrder(), domain.OrderStatusComplete))

	order := sampleOrder()
	order.Customer.Phone = "123"
	assert.False(t, svc.Notify(context.Background(), order, domain.OrderStatusPlaced))
	assert.Empty(t, sink.delivered())
}

func TestNotifyDeliveryFailureIsSwallowed(t *testing.T) {
	var events []string
	sink := &recordingSink{err: errors.New("gateway down")}
	svc, err := NewNotificationService(NotificationServiceDeps{
		Settings:   greetingSettings(map[OrderStatus]string{domain.OrderStatusPlaced: "Hi,"}),
		Sink:       sink,
		Dispatcher: inlineDispatcher{},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	require.NoError(t, err)

	assert.True(t, svc.Notify(context.Background(), sampleOrder(), domain.OrderStatusPlaced))
	assert.Equal(t, []string{"notification.delivery_failed"}, events)
}

func TestNotifyReportsDroppedDispatch(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestNotifier(t, map[OrderStatus]string{domain.OrderStatusPlaced: "Hi,"}, sink, inlineDispatcher{reject: true})

	assert.False(t, svc.Notify(context.Background(), sampleOrder(), domain.OrderStatusPlaced))
	assert.Empty(t, sink.delivered())
}

func TestNotifyThroughWorkerPoolOutlivesRequest(t *testing.T) {
	dispatcher := jobs.NewDispatcher(1, 4)
	sink := &recordingSink{}
	svc := newTestNotifier(t, map[OrderStatus]string{domain.OrderStatusPlaced: "Hi,"}, sink, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, svc.Notify(ctx, sampleOrder(), domain.OrderStatusPlaced))
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	require.NoError(t, dispatcher.Close(closeCtx))
	assert.Len(t, sink.delivered(), 1)
}
