package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/maplecart/api/internal/domain"
)

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return r.id, r.err }

type fakeTopic struct {
	messages []*pubsub.Message
	err      error
}

func (t *fakeTopic) Publish(_ context.Context, msg *pubsub.Message) getResulter {
	t.messages = append(t.messages, msg)
	return fakeResult{id: "m1", err: t.err}
}

func newTestPublisher(order, payment *fakeTopic) *Publisher {
	return &Publisher{
		orderTopic:   order,
		paymentTopic: payment,
		timeout:      time.Second,
	}
}

func TestPublishOrderConfirmed(t *testing.T) {
	orderTopic := &fakeTopic{}
	publisher := newTestPublisher(orderTopic, &fakeTopic{})

	event := domain.OrderConfirmedEvent{
		OrderID:    "order-1",
		CreateTime: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		TotalPrice: 549,
		Currency:   "JPY",
		User:       domain.EventUser{ID: "user-1", Email: "taro@example.com"},
		LineItems: []domain.EventLineItem{
			{ProductID: "p1", Name: "Mug", UnitPrice: 150, Quantity: 1},
		},
		AdditionalCosts: map[string]int64{"bank_transfer": 199, "express": 200},
	}
	if err := publisher.PublishOrderConfirmed(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderConfirmed: %v", err)
	}

	if len(orderTopic.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(orderTopic.messages))
	}
	msg := orderTopic.messages[0]
	if msg.Attributes["orderId"] != "order-1" {
		t.Errorf("orderId attribute = %q", msg.Attributes["orderId"])
	}

	var decoded domain.OrderConfirmedEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.TotalPrice != 549 {
		t.Errorf("totalPrice = %d, want 549", decoded.TotalPrice)
	}
	if decoded.AdditionalCosts["express"] != 200 {
		t.Errorf("additionalCosts = %v", decoded.AdditionalCosts)
	}
}

func TestPublishPaymentInitiated(t *testing.T) {
	paymentTopic := &fakeTopic{}
	publisher := newTestPublisher(&fakeTopic{}, paymentTopic)

	event := domain.PaymentInitiatedEvent{
		OrderID:           "order-2",
		PaymentMethodName: "Bank transfer",
		RedirectURL:       "https://checkout.example.com/s/123",
		TotalPrice:        800,
		Currency:          "JPY",
		User:              domain.EventUser{ID: "user-1"},
		CreateTime:        time.Now(),
	}
	if err := publisher.PublishPaymentInitiated(context.Background(), event); err != nil {
		t.Fatalf("PublishPaymentInitiated: %v", err)
	}
	if len(paymentTopic.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(paymentTopic.messages))
	}
}

func TestPublishRequiresOrderID(t *testing.T) {
	publisher := newTestPublisher(&fakeTopic{}, &fakeTopic{})
	if err := publisher.PublishOrderConfirmed(context.Background(), domain.OrderConfirmedEvent{}); err == nil {
		t.Fatal("expected error for missing order id")
	}
	if err := publisher.PublishPaymentInitiated(context.Background(), domain.PaymentInitiatedEvent{}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}

func TestPublishPropagatesFailure(t *testing.T) {
	orderTopic := &fakeTopic{err: errors.New("deadline exceeded")}
	publisher := newTestPublisher(orderTopic, &fakeTopic{})

	err := publisher.PublishOrderConfirmed(context.Background(), domain.OrderConfirmedEvent{OrderID: "order-1"})
	if err == nil {
		t.Fatal("expected publish error")
	}
}
