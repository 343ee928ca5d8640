package services

import (
	"context"

	"github.com/maplecart/api/internal/clients/inventory"
	domain "github.com/maplecart/api/internal/domain"
)

// InventoryClient prices and reserves the requested order lines.
type InventoryClient interface {
	Purchase(ctx context.Context, userID string, lines []inventory.RequestedLine) ([]domain.ReservedItem, error)
}

// CartClient clears the customer's cart after checkout.
type CartClient interface {
	Clear(ctx context.Context, userID string) error
}

// EventPublisher emits order lifecycle events for downstream consumers.
type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event domain.OrderConfirmedEvent) error
	PublishPaymentInitiated(ctx context.Context, event domain.PaymentInitiatedEvent) error
}

// Requester identifies the caller of an order operation.
type Requester struct {
	ID string
	// Elevated callers may act on orders they do not own.
	Elevated bool
}

// RequestedLine is a variant/quantity pair from the checkout payload.
type RequestedLine struct {
	VariantID string
	Quantity  int
}

// CreateOrderCommand carries the validated checkout request.
type CreateOrderCommand struct {
	Requester        Requester
	UserID           string
	Lines            []RequestedLine
	Customer         domain.Customer
	PaymentMethodID  string
	DeliveryMethodID string
	// IdempotencyKey scopes gateway-side deduplication for the payment call.
	IdempotencyKey string
}

// OrderStatusCommand requests a status transition on an existing order.
type OrderStatusCommand struct {
	Requester      Requester
	OrderID        string
	TargetStatus   domain.OrderStatus
	TrackingNumber string
}

// OrderListQuery pages through a user's orders.
type OrderListQuery struct {
	Requester Requester
	UserID    string
	Status    domain.OrderStatus
	Pager     domain.Pagination
}

// OrderService orchestrates order creation and lifecycle transitions.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, requester Requester, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (domain.Order, error)
	// CompleteDeferredSteps re-runs the unfinished post-commit steps for an
	// order. It is idempotent and safe to call concurrently with creation.
	CompleteDeferredSteps(ctx context.Context, orderID string) error
}

// CreatePaymentCommand starts collecting payment for a committed order.
type CreatePaymentCommand struct {
	Order domain.Order
	// IdempotencyKey scopes gateway-side deduplication.
	IdempotencyKey string
}

// PaymentService owns the payment aggregate and gateway interactions.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, requester Requester, orderID string) (domain.Payment, error)
}
