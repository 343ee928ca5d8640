package repositories

import (
	"context"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows and pages order listings.
type OrderListFilter struct {
	Status domain.OrderStatus
	Pager  domain.Pagination
}

// OrderRepository persists order aggregates. Inserts write the order header
// and line items atomically.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus moves the order to the given status. A non-empty tracking
	// number is stored alongside shipment transitions.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, trackingNumber string, at time.Time) (domain.Order, error)
	// InsertLineItemSnapshots writes the denormalised item documents under the
	// order. It is idempotent per order.
	InsertLineItemSnapshots(ctx context.Context, orderID string, items []domain.OrderLineItem) error
}

// UserRepository maintains the customer profile snapshots captured at checkout.
type UserRepository interface {
	UpsertProfile(ctx context.Context, customer domain.Customer) error
	FindByID(ctx context.Context, userID string) (domain.Customer, error)
}

// MethodRepository loads the configured payment and delivery options.
type MethodRepository interface {
	FindPaymentMethod(ctx context.Context, methodID string) (domain.PaymentMethod, error)
	FindDeliveryMethod(ctx context.Context, methodID string) (domain.DeliveryMethod, error)
}

// PaymentRepository persists payment aggregates keyed by order.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error)
	UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, at time.Time) error
}

// CheckpointRepository stores the per-order post-commit progress log consumed
// by the reconciler.
type CheckpointRepository interface {
	Put(ctx context.Context, checkpoint domain.OrderCheckpoint) error
	Get(ctx context.Context, orderID string) (domain.OrderCheckpoint, error)
	MarkStep(ctx context.Context, orderID, step string, at time.Time) (domain.OrderCheckpoint, error)
	RecordFailure(ctx context.Context, orderID, message string, at time.Time) error
	// ListIncomplete returns checkpoints with unfinished steps last updated
	// before the cutoff, oldest first.
	ListIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]domain.OrderCheckpoint, error)
	Delete(ctx context.Context, orderID string) error
}
