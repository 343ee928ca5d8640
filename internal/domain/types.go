package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusCreated is the state assigned at the durable commit point of order creation.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPaid indicates payment settlement has been reconciled onto the order.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusShipped indicates the order was handed to the courier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the courier confirmed delivery.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus enumerates the normalised payment states shared across gateways.
type PaymentStatus string

const (
	// PaymentStatusUnpaid indicates no settlement attempt has completed yet.
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	// PaymentStatusProcessing indicates a hosted gateway session is awaiting the customer.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	// PaymentStatusPaid indicates the gateway reports the payment as captured.
	PaymentStatusPaid PaymentStatus = "PAID"
	// PaymentStatusAwaitingFulfillment marks pay-on-delivery payments collected at handover.
	PaymentStatusAwaitingFulfillment PaymentStatus = "AWAITING_FULFILLMENT"
	// PaymentStatusFailed indicates the gateway reports a terminal failure.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// Address stores a postal address snapshot attached to a customer profile.
type Address struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Customer is the user-profile snapshot captured on an order at creation time.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   *Address
}

// OrderLineItem is a denormalised snapshot of a purchased variant. It is
// captured when the order is created so later catalog changes never alter a
// historical order.
type OrderLineItem struct {
	ProductID string
	VariantID string
	Name      string
	UnitPrice int64
	Quantity  int
	Options   map[string]string
}

// Subtotal returns the line total in minor currency units.
func (i OrderLineItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order aggregates the order header, its line items and named additional costs.
//
// Invariant: Total == sum of line subtotals + sum of AdditionalCosts. The
// aggregate is only ever written by the order service; payments reference it
// by ID and never mutate it.
type Order struct {
	ID               string
	UserID           string
	Status           OrderStatus
	Items            []OrderLineItem
	AdditionalCosts  map[string]int64
	Total            int64
	Currency         string
	Customer         Customer
	PaymentMethodID  string
	DeliveryMethodID string
	// DeliveryCourier is the courier discriminator snapshotted from the
	// delivery method at creation time.
	DeliveryCourier string
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// ItemsSubtotal sums the line item subtotals.
func (o Order) ItemsSubtotal() int64 {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.Subtotal()
	}
	return subtotal
}

// ComputeTotal derives the order total from line items and additional costs.
func (o Order) ComputeTotal() int64 {
	total := o.ItemsSubtotal()
	for _, amount := range o.AdditionalCosts {
		total += amount
	}
	return total
}

// Payment is the payment aggregate linked 1:1 to an order. It is owned by the
// payment subsystem; the order side only reads it.
type Payment struct {
	ID          string
	OrderID     string
	Total       int64
	Currency    string
	Status      PaymentStatus
	Gateway     string
	MethodID    string
	MethodName  string
	RedirectURL string
	IntentID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentMethod is the configuration entity describing a selectable payment
// option and the gateway discriminator that handles it.
type PaymentMethod struct {
	ID              string
	Name            string
	FlatFee         int64
	Active          bool
	WaiverEnabled   bool
	WaiverThreshold *int64
	Gateway         string
}

// DeliveryMethod is the configuration entity describing a selectable delivery
// option and the courier discriminator that handles it.
type DeliveryMethod struct {
	ID              string
	Name            string
	FlatFee         int64
	Active          bool
	WaiverEnabled   bool
	WaiverThreshold *int64
	Courier         string
}

// ReservedItem is a priced, availability-checked line returned by the
// inventory collaborator for a requested variant/quantity pair.
type ReservedItem struct {
	ProductID string
	VariantID string
	Name      string
	UnitPrice int64
	Quantity  int
	Available bool
	Total     int64
	Options   map[string]string
}

// Checkpoint step names recorded after the durable order commit. Each step of
// the post-commit tail is marked done exactly once; the reconciler re-runs the
// missing ones keyed by order ID.
const (
	StepProfileUpsert     = "profile_upsert"
	StepItemSnapshots     = "item_snapshots"
	StepCartClear         = "cart_clear"
	StepPaymentCreate     = "payment_create"
	StepConfirmationEvent = "confirmation_event"
)

// CheckpointSteps lists the post-commit steps in execution order.
func CheckpointSteps() []string {
	return []string{
		StepProfileUpsert,
		StepItemSnapshots,
		StepCartClear,
		StepPaymentCreate,
		StepConfirmationEvent,
	}
}

// OrderCheckpoint records which post-commit steps of order creation have
// completed. It is the durable saga log for a single order.
type OrderCheckpoint struct {
	OrderID   string
	Completed map[string]bool
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether every post-commit step has completed.
func (c OrderCheckpoint) Done() bool {
	for _, step := range CheckpointSteps() {
		if !c.Completed[step] {
			return false
		}
	}
	return true
}
