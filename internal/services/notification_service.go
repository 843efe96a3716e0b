package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/platform/textutil"
)

const (
	customerNamePlaceholder  = "[customerName]"
	fallbackCustomerName     = "Customer"
	notificationOrderIDChars = 7
	defaultNotifyCountryCode = "880"
)

var statusSentences = map[OrderStatus]string{
	domain.OrderStatusPlaced:    "Your order has been placed.",
	domain.OrderStatusConfirmed: "Your order has been confirmed.",
	domain.OrderStatusDelivered: "Your order has been delivered.",
}

// NotificationSink delivers a rendered notification, either straight to the
// SMS gateway or onto a queue.
type NotificationSink interface {
	Deliver(ctx context.Context, n domain.Notification) error
}

// TaskDispatcher runs work in the background without blocking the caller.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, name string, run func(context.Context) error) string
}

// NotificationServiceDeps wires templating inputs and the delivery path.
type NotificationServiceDeps struct {
	Settings    ShippingOptionSource
	Sink        NotificationSink
	Dispatcher  TaskDispatcher
	BaseURL     string
	CountryCode string
	Metrics     *metrics.Metrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	settings    ShippingOptionSource
	sink        NotificationSink
	dispatcher  TaskDispatcher
	baseURL     string
	countryCode string
	metrics     *metrics.Metrics
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewNotificationService constructs the order status notifier.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Settings == nil {
		return nil, errors.New("notification service: settings source is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("notification service: sink is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	code := strings.TrimSpace(deps.CountryCode)
	if code == "" {
		code = defaultNotifyCountryCode
	}
	return &notificationService{
		settings:    deps.Settings,
		sink:        deps.Sink,
		dispatcher:  deps.Dispatcher,
		baseURL:     strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/"),
		countryCode: code,
		metrics:     deps.Metrics,
		logger:      logger,
	}, nil
}

func (s *notificationService) Compose(order Order, status OrderStatus) (string, bool) {
	sentence, eligible := statusSentences[status]
	if !eligible {
		return "", false
	}
	greeting := strings.TrimSpace(s.settings.Current().Greetings[status])
	if greeting == "" {
		return "", false
	}

	name := strings.TrimSpace(order.Customer.Name)
	if name == "" {
		name = fallbackCustomerName
	}
	greeting = strings.ReplaceAll(greeting, customerNamePlaceholder, name)

	return fmt.Sprintf("%s %s Order ID: %s. View details: %s/account/orders/%s",
		greeting, sentence, shortOrderID(order.ID), s.baseURL, order.ID), true
}

// Notify renders the message and hands it to the dispatcher. It returns false
// when nothing was queued. Delivery errors are logged and counted only.
func (s *notificationService) Notify(ctx context.Context, order Order, status OrderStatus) bool {
	body, ok := s.Compose(order, status)
	if !ok {
		s.metrics.Notification("suppressed")
		return false
	}
	number, ok := textutil.NormalizePhone(order.Customer.Phone, s.countryCode)
	if !ok {
		s.metrics.Notification("invalid_number")
		s.logger(ctx, "notification.invalid_number", map[string]any{
			"orderID": order.ID,
			"status":  string(status),
		})
		return false
	}

	n := domain.Notification{OrderID: order.ID, Status: status, Number: number, Body: body}
	deliver := func(ctx context.Context) error {
		if err := s.sink.Deliver(ctx, n); err != nil {
			s.metrics.Notification("failed")
			s.logger(ctx, "notification.delivery_failed", map[string]any{
				"orderID": order.ID,
				"status":  string(status),
				"error":   err.Error(),
			})
			return err
		}
		s.metrics.Notification("sent")
		return nil
	}

	if s.dispatcher == nil {
		go func() { _ = deliver(context.WithoutCancel(ctx)) }()
		return true
	}
	if jobID := s.dispatcher.Dispatch(ctx, "notification.sms", deliver); jobID == "" {
		s.metrics.Notification("dropped")
		s.logger(ctx, "notification.dropped", map[string]any{
			"orderID": order.ID,
			"status":  string(status),
		})
		return false
	}
	return true
}

func shortOrderID(id string) string {
	runes := []rune(id)
	if len(runes) > notificationOrderIDChars {
		runes = runes[:notificationOrderIDChars]
	}
	return strings.ToUpper(string(runes))
}
