package jobs

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bazaarbd/storefront/internal/domain"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "order-sms")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}

	err = publisher.Deliver(ctx, domain.Notification{
		OrderID: "01HZXKABCD",
		Status:  domain.OrderStatusPlaced,
		Number:  "01711000000",
		Body:    "Hi Rahim, Your order has been placed.",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if got := messages[0].Attributes["status"]; got != "order placed" {
		t.Fatalf("expected status attribute, got %q", got)
	}

	decoded, err := DecodeNotification(&pubsub.Message{Data: messages[0].Data})
	if err != nil {
		t.Fatalf("DecodeNotification: %v", err)
	}
	n := decoded.Notification()
	if n.OrderID != "01HZXKABCD" || n.Number != "01711000000" || n.Status != domain.OrderStatusPlaced {
		t.Fatalf("unexpected notification %#v", n)
	}
	if decoded.QueuedAt.IsZero() {
		t.Fatalf("expected queuedAt to be stamped")
	}
}

func TestDecodeNotificationRejectsIncompletePayload(t *testing.T) {
	if _, err := DecodeNotification(&pubsub.Message{Data: []byte(`{"orderId":"x"}`)}); err == nil {
		t.Fatalf("expected error for missing number/body")
	}
	if _, err := DecodeNotification(&pubsub.Message{Data: []byte(`not json`)}); err == nil {
		t.Fatalf("expected decode error")
	}
}
