package jobs

import (
	"context"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
)

const defaultReceiveTimeout = 20 * time.Second

// NotificationSender hands a notification to the SMS gateway.
type NotificationSender interface {
	Deliver(ctx context.Context, n domain.Notification) error
}

// NotificationReceiver handles messages pulled from the SMS topic. Delivery
// failures are logged, counted and acknowledged. Only failures Retryable
// reports as never having reached the gateway are nacked for redelivery.
type NotificationReceiver struct {
	sender    NotificationSender
	retryable func(error) bool
	logger    *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
}

// ReceiverOption customises a NotificationReceiver.
type ReceiverOption func(*NotificationReceiver)

// WithRetryable sets the predicate selecting failures that are nacked.
func WithRetryable(fn func(error) bool) ReceiverOption {
	return func(r *NotificationReceiver) {
		if fn != nil {
			r.retryable = fn
		}
	}
}

// WithReceiverLogger sets the receiver logger.
func WithReceiverLogger(logger *zap.Logger) ReceiverOption {
	return func(r *NotificationReceiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReceiverMetrics records outcomes on m.
func WithReceiverMetrics(m *metrics.Metrics) ReceiverOption {
	return func(r *NotificationReceiver) { r.metrics = m }
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(timeout time.Duration) ReceiverOption {
	return func(r *NotificationReceiver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewNotificationReceiver builds a receiver delivering through sender.
func NewNotificationReceiver(sender NotificationSender, opts ...ReceiverOption) *NotificationReceiver {
	r := &NotificationReceiver{
		sender:    sender,
		retryable: func(error) bool { return false },
		logger:    zap.NewNop(),
		timeout:   defaultReceiveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is the pubsub.Subscription.Receive callback.
func (r *NotificationReceiver) Handle(ctx context.Context, msg *pubsub.Message) {
	decoded, err := DecodeNotification(msg)
	if err != nil {
		r.logger.Warn("dropping malformed notification", zap.String("messageId", msg.ID), zap.Error(err))
		r.metrics.Notification("malformed")
		msg.Ack()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	fields := []zap.Field{zap.String("orderId", decoded.OrderID), zap.String("status", decoded.Status), zap.String("messageId", msg.ID)}
	if err := r.sender.Deliver(sendCtx, decoded.Notification()); err != nil {
		if r.retryable(err) {
			r.logger.Warn("notification not sent; will retry", append(fields, zap.Error(err))...)
			r.metrics.Notification("deferred")
			msg.Nack()
			return
		}
		r.logger.Warn("notification delivery failed", append(fields, zap.Error(err))...)
		r.metrics.Notification("failed")
		msg.Ack()
		return
	}
	r.metrics.Notification("sent")
	r.logger.Info("notification sent", fields...)
	msg.Ack()
}
