package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/bazaarbd/storefront/internal/domain"
)

// NotificationMessage is the payload exchanged between the storefront and the notifier.
type NotificationMessage struct {
	OrderID  string    `json:"orderId"`
	Status   string    `json:"status"`
	Number   string    `json:"number"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Notification converts the message back into the domain value.
func (m NotificationMessage) Notification() domain.Notification {
	return domain.Notification{
		OrderID: m.OrderID,
		Status:  domain.OrderStatus(m.Status),
		Number:  m.Number,
		Body:    m.Body,
	}
}

// DecodeNotification parses a received Pub/Sub message.
func DecodeNotification(msg *pubsub.Message) (NotificationMessage, error) {
	if msg == nil {
		return NotificationMessage{}, errors.New("jobs: nil message")
	}
	var out NotificationMessage
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return NotificationMessage{}, fmt.Errorf("jobs: decode notification: %w", err)
	}
	if strings.TrimSpace(out.Number) == "" || strings.TrimSpace(out.Body) == "" {
		return NotificationMessage{}, errors.New("jobs: notification missing number or body")
	}
	return out, nil
}

// PubSubNotificationPublisher hands rendered notifications to the SMS topic.
type PubSubNotificationPublisher struct {
	topic *pubsub.Topic
	now   func() time.Time
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification sink.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{topic: topic, now: time.Now}, nil
}

// Deliver publishes the notification and waits for the server acknowledgement.
func (p *PubSubNotificationPublisher) Deliver(ctx context.Context, n domain.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}
	data, err := json.Marshal(NotificationMessage{
		OrderID:  n.OrderID,
		Status:   string(n.Status),
		Number:   n.Number,
		Body:     n.Body,
		QueuedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := map[string]string{}
	setAttr(attrs, "orderId", n.OrderID)
	setAttr(attrs, "status", string(n.Status))

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
