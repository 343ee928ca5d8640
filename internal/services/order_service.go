package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/maplecart/api/internal/clients/inventory"
	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnauthorized indicates the requester may not act on this order.
	ErrOrderUnauthorized = errors.New("order: unauthorized")
	// ErrOrderConflict indicates duplicates or concurrent update conflicts.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrInventoryUnavailable indicates the reservation was rejected; nothing
	// was persisted.
	ErrInventoryUnavailable = errors.New("order: inventory unavailable")
	// ErrMethodNotFound indicates the payment or delivery method is unknown.
	ErrMethodNotFound = errors.New("order: method not found")
	// ErrMethodInactive indicates the chosen method is configured but disabled.
	ErrMethodInactive = errors.New("order: method inactive")
	// ErrConfiguration indicates a broken method configuration such as a
	// waiver without threshold or an unresolvable discriminator.
	ErrConfiguration = errors.New("order: configuration error")
)

// Transitions allowed by the order lifecycle. Forward only, with
// cancellation possible until shipment.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Users       repositories.UserRepository
	Methods     repositories.MethodRepository
	Checkpoints repositories.CheckpointRepository
	Inventory   InventoryClient
	Cart        CartClient
	Payments    PaymentService
	Events      EventPublisher
	UnitOfWork  repositories.UnitOfWork
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	users       repositories.UserRepository
	methods     repositories.MethodRepository
	checkpoints repositories.CheckpointRepository
	inventory   InventoryClient
	cart        CartClient
	payments    PaymentService
	events      EventPublisher
	unitOfWork  repositories.UnitOfWork
	currency    string
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.Methods == nil {
		return nil, errors.New("order service: method repository is required")
	}
	if deps.Checkpoints == nil {
		return nil, errors.New("order service: checkpoint repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory client is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "JPY"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		users:       deps.Users,
		methods:     deps.Methods,
		checkpoints: deps.Checkpoints,
		inventory:   deps.Inventory,
		cart:        deps.Cart,
		payments:    deps.Payments,
		events:      deps.Events,
		unitOfWork:  unit,
		currency:    currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder turns a checkout request into a committed order. Failures before
// the durable order write leave no side effects; the post-commit tail is
// checkpointed so the reconciler can finish it.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)

	// The ownership check precedes every external call.
	if !cmd.Requester.Elevated && cmd.Requester.ID != userID {
		return domain.Order{}, fmt.Errorf("%w: requester %q may not order for user %q", ErrOrderUnauthorized, cmd.Requester.ID, userID)
	}

	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one line item is required", ErrOrderInvalidInput)
	}
	lines := make([]inventory.RequestedLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.VariantID) == "" {
			return domain.Order{}, fmt.Errorf("%w: line variant id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: quantity must be positive for variant %s", ErrOrderInvalidInput, line.VariantID)
		}
		lines = append(lines, inventory.RequestedLine{VariantID: line.VariantID, Quantity: line.Quantity})
	}
	paymentMethodID := strings.TrimSpace(cmd.PaymentMethodID)
	deliveryMethodID := strings.TrimSpace(cmd.DeliveryMethodID)
	if paymentMethodID == "" || deliveryMethodID == "" {
		return domain.Order{}, fmt.Errorf("%w: payment and delivery method ids are required", ErrOrderInvalidInput)
	}

	// Reserve inventory. All-or-nothing: any unavailable line fails the call
	// before anything is written locally.
	reserved, err := s.inventory.Purchase(ctx, userID, lines)
	if err != nil {
		if errors.Is(err, inventory.ErrItemUnavailable) {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
		}
		return domain.Order{}, fmt.Errorf("order: inventory reservation failed: %w", err)
	}

	items := make([]domain.OrderLineItem, 0, len(reserved))
	var subtotal int64
	for _, item := range reserved {
		if !item.Available {
			return domain.Order{}, fmt.Errorf("%w: variant %s", ErrInventoryUnavailable, item.VariantID)
		}
		line := domain.OrderLineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Options:   item.Options,
		}
		items = append(items, line)
		subtotal += line.Subtotal()
	}

	paymentMethod, err := s.methods.FindPaymentMethod(ctx, paymentMethodID)
	if err != nil {
		return domain.Order{}, s.mapMethodError(err, paymentMethodID)
	}
	deliveryMethod, err := s.methods.FindDeliveryMethod(ctx, deliveryMethodID)
	if err != nil {
		return domain.Order{}, s.mapMethodError(err, deliveryMethodID)
	}
	if !paymentMethod.Active {
		return domain.Order{}, fmt.Errorf("%w: payment method %s", ErrMethodInactive, paymentMethodID)
	}
	if !deliveryMethod.Active {
		return domain.Order{}, fmt.Errorf("%w: delivery method %s", ErrMethodInactive, deliveryMethodID)
	}

	paymentFee, err := domain.EffectiveFee(paymentMethod.FlatFee, paymentMethod.WaiverEnabled, paymentMethod.WaiverThreshold, subtotal)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: payment method %s: %v", ErrConfiguration, paymentMethodID, err)
	}
	deliveryFee, err := domain.EffectiveFee(deliveryMethod.FlatFee, deliveryMethod.WaiverEnabled, deliveryMethod.WaiverThreshold, subtotal)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: delivery method %s: %v", ErrConfiguration, deliveryMethodID, err)
	}
	if paymentMethod.Name == deliveryMethod.Name {
		return domain.Order{}, fmt.Errorf("%w: payment and delivery methods share the name %q", ErrConfiguration, paymentMethod.Name)
	}

	// Cost keys are the resolved method names; event consumers rely on that.
	additionalCosts := map[string]int64{
		paymentMethod.Name:  paymentFee,
		deliveryMethod.Name: deliveryFee,
	}

	now := s.now()
	customer := cmd.Customer
	customer.ID = userID

	order := domain.Order{
		ID:               orderIDPrefix + s.newID(),
		UserID:           userID,
		Status:           domain.OrderStatusCreated,
		Items:            items,
		AdditionalCosts:  additionalCosts,
		Currency:         s.currency,
		Customer:         customer,
		PaymentMethodID:  paymentMethodID,
		DeliveryMethodID: deliveryMethodID,
		DeliveryCourier:  deliveryMethod.Courier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.Total = order.ComputeTotal()

	// Durability commit point. The checkpoint is written before the order so
	// a committed order always has a progress log; a checkpoint whose order
	// never committed is garbage-collected by the reconciler.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.checkpoints.Put(txCtx, domain.OrderCheckpoint{
			OrderID:   order.ID,
			Completed: map[string]bool{},
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"userId":  order.UserID,
		"total":   order.Total,
	})

	// Post-commit tail. Step failures no longer fail the caller; the
	// reconciler picks up whatever is left.
	s.runDeferredSteps(ctx, order, domain.OrderCheckpoint{OrderID: order.ID, Completed: map[string]bool{}}, cmd.IdempotencyKey)

	return order, nil
}

// GetOrder returns the order if the requester owns it or is elevated.
func (s *orderService) GetOrder(ctx context.Context, requester Requester, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !requester.Elevated && requester.ID != order.UserID {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderUnauthorized, orderID)
	}
	return order, nil
}

// ListOrders pages through a user's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		userID = query.Requester.ID
	}
	if !query.Requester.Elevated && query.Requester.ID != userID {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: listing orders of user %q", ErrOrderUnauthorized, userID)
	}

	page, err := s.orders.ListByUser(ctx, userID, repositories.OrderListFilter{
		Status: query.Status,
		Pager:  query.Pager,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus applies an explicit lifecycle transition. Elevated role
// enforcement happens at the transport layer; the service re-checks here.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (domain.Order, error) {
	if !cmd.Requester.Elevated {
		return domain.Order{}, fmt.Errorf("%w: status updates require an elevated role", ErrOrderUnauthorized)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if target == "" {
		return domain.Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if order.Status == target {
		// Replayed transition. The stored timestamps are the audit trail,
		// so the repeat must not re-stamp them.
		return order, nil
	}
	if !canTransition(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}

	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	if trackingNumber != "" && target != domain.OrderStatusShipped {
		return domain.Order{}, fmt.Errorf("%w: tracking number only applies to the SHIPPED transition", ErrOrderInvalidInput)
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, target, trackingNumber, s.now())
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": orderID,
		"from":    string(order.Status),
		"to":      string(target),
	})
	return updated, nil
}

// CompleteDeferredSteps re-runs the unfinished post-commit steps for an order.
func (s *orderService) CompleteDeferredSteps(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	checkpoint, err := s.checkpoints.Get(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			// No checkpoint means the tail already completed.
			return nil
		}
		return s.mapRepositoryError(err)
	}
	if checkpoint.Done() {
		return s.checkpoints.Delete(ctx, orderID)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			// The order insert never committed; the checkpoint is an orphan.
			return s.checkpoints.Delete(ctx, orderID)
		}
		return s.mapRepositoryError(err)
	}

	s.runDeferredSteps(ctx, order, checkpoint, orderID)
	return nil
}

// runDeferredSteps executes the post-commit steps that are not yet marked
// complete, in order. Each step is idempotent keyed by order ID.
func (s *orderService) runDeferredSteps(ctx context.Context, order domain.Order, checkpoint domain.OrderCheckpoint, idempotencyKey string) {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{domain.StepProfileUpsert, func(ctx context.Context) error {
			return s.users.UpsertProfile(ctx, order.Customer)
		}},
		{domain.StepItemSnapshots, func(ctx context.Context) error {
			return s.orders.InsertLineItemSnapshots(ctx, order.ID, order.Items)
		}},
		{domain.StepCartClear, func(ctx context.Context) error {
			if s.cart == nil {
				return nil
			}
			return s.cart.Clear(ctx, order.UserID)
		}},
		{domain.StepPaymentCreate, func(ctx context.Context) error {
			_, err := s.payments.CreatePayment(ctx, CreatePaymentCommand{
				Order:          order,
				IdempotencyKey: idempotencyKey,
			})
			return err
		}},
		{domain.StepConfirmationEvent, func(ctx context.Context) error {
			if s.events == nil {
				return nil
			}
			return s.events.PublishOrderConfirmed(ctx, buildOrderConfirmedEvent(order))
		}},
	}

	for _, step := range steps {
		if checkpoint.Completed[step.name] {
			continue
		}
		if err := step.run(ctx); err != nil {
			s.logger(ctx, "order.step.failed", map[string]any{
				"orderId": order.ID,
				"step":    step.name,
				"error":   err.Error(),
			})
			if recordErr := s.checkpoints.RecordFailure(ctx, order.ID, step.name+": "+err.Error(), s.now()); recordErr != nil {
				s.logger(ctx, "order.checkpoint.record_failed", map[string]any{
					"orderId": order.ID,
					"error":   recordErr.Error(),
				})
			}
			continue
		}
		updated, markErr := s.checkpoints.MarkStep(ctx, order.ID, step.name, s.now())
		if markErr != nil {
			s.logger(ctx, "order.checkpoint.mark_failed", map[string]any{
				"orderId": order.ID,
				"step":    step.name,
				"error":   markErr.Error(),
			})
			continue
		}
		checkpoint = updated
	}

	if checkpoint.Done() {
		if err := s.checkpoints.Delete(ctx, order.ID); err != nil {
			s.logger(ctx, "order.checkpoint.delete_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
}

func buildOrderConfirmedEvent(order domain.Order) domain.OrderConfirmedEvent {
	lineItems := make([]domain.EventLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, domain.EventLineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  int64(item.Quantity),
		})
	}
	costs := make(map[string]int64, len(order.AdditionalCosts))
	for name, amount := range order.AdditionalCosts {
		costs[name] = amount
	}
	return domain.OrderConfirmedEvent{
		OrderID:    order.ID,
		CreateTime: order.CreatedAt,
		TotalPrice: order.Total,
		Currency:   order.Currency,
		User: domain.EventUser{
			ID:        order.Customer.ID,
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Email:     order.Customer.Email,
		},
		LineItems:       lineItems,
		AdditionalCosts: costs,
	}
}

func (s *orderService) mapMethodError(err error, methodID string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrMethodNotFound, methodID)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func canTransition(current, target domain.OrderStatus) bool {
	for _, next := range orderStateTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
