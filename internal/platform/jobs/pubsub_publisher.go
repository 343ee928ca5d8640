package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/maplecart/api/internal/domain"
)

// topicPublisher is the subset of *pubsub.Topic the publisher needs. The
// indirection keeps tests free of a live Pub/Sub connection.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) getResulter
}

type getResulter interface {
	Get(ctx context.Context) (string, error)
}

type pubsubTopic struct {
	topic *pubsub.Topic
}

func (t pubsubTopic) Publish(ctx context.Context, msg *pubsub.Message) getResulter {
	return t.topic.Publish(ctx, msg)
}

// Publisher emits order lifecycle events to Cloud Pub/Sub.
type Publisher struct {
	orderTopic   topicPublisher
	paymentTopic topicPublisher
	timeout      time.Duration
}

// PublisherDeps lists the collaborators required by NewPublisher.
type PublisherDeps struct {
	Client           *pubsub.Client
	OrderConfirmID   string
	PaymentConfirmID string
	// PublishTimeout bounds each publish round trip. Defaults to 5s.
	PublishTimeout time.Duration
}

// NewPublisher constructs a Pub/Sub backed event publisher.
func NewPublisher(deps PublisherDeps) (*Publisher, error) {
	if deps.Client == nil {
		return nil, errors.New("jobs: pubsub client is required")
	}
	if deps.OrderConfirmID == "" || deps.PaymentConfirmID == "" {
		return nil, errors.New("jobs: topic names are required")
	}
	timeout := deps.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		orderTopic:   pubsubTopic{topic: deps.Client.Topic(deps.OrderConfirmID)},
		paymentTopic: pubsubTopic{topic: deps.Client.Topic(deps.PaymentConfirmID)},
		timeout:      timeout,
	}, nil
}

// PublishOrderConfirmed emits the order confirmation event.
func (p *Publisher) PublishOrderConfirmed(ctx context.Context, event domain.OrderConfirmedEvent) error {
	if event.OrderID == "" {
		return errors.New("jobs: order confirmation requires an order id")
	}
	return p.publish(ctx, p.orderTopic, event.OrderID, event)
}

// PublishPaymentInitiated emits the payment confirmation event.
func (p *Publisher) PublishPaymentInitiated(ctx context.Context, event domain.PaymentInitiatedEvent) error {
	if event.OrderID == "" {
		return errors.New("jobs: payment confirmation requires an order id")
	}
	return p.publish(ctx, p.paymentTopic, event.OrderID, event)
}

func (p *Publisher) publish(ctx context.Context, topic topicPublisher, orderID string, payload any) error {
	if topic == nil {
		return errors.New("jobs: topic not configured")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"orderId": orderID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("jobs: publish event: %w", err)
	}
	return nil
}
