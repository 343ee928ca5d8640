package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maplecart/api/internal/clients/inventory"
	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

// repoError implements repositories.RepositoryError for stub repositories.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return e.msg }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = repoError{}

type stubOrderRepo struct {
	mu           sync.Mutex
	orders       map[string]domain.Order
	snapshots    map[string][]domain.OrderLineItem
	insertErr    error
	statusWrites int
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{
		orders:    map[string]domain.Order{},
		snapshots: map[string][]domain.OrderLineItem{},
	}
}

func (r *stubOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.orders[order.ID]; exists {
		return repoError{msg: "order exists", conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{msg: "order " + orderID + " missing", notFound: true}
	}
	return order, nil
}

func (r *stubOrderRepo) ListByUser(_ context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if order.UserID != userID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (r *stubOrderRepo) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, trackingNumber string, at time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{msg: "order missing", notFound: true}
	}
	r.statusWrites++
	order.Status = status
	if trackingNumber != "" {
		order.TrackingNumber = trackingNumber
	}
	order.UpdatedAt = at
	r.orders[orderID] = order
	return order, nil
}

func (r *stubOrderRepo) InsertLineItemSnapshots(_ context.Context, orderID string, items []domain.OrderLineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[orderID] = items
	return nil
}

func (r *stubOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *stubOrderRepo) statusWriteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusWrites
}

func (r *stubOrderRepo) set(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
}

type stubUserRepo struct {
	mu       sync.Mutex
	profiles map[string]domain.Customer
	err      error
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{profiles: map[string]domain.Customer{}}
}

func (r *stubUserRepo) UpsertProfile(_ context.Context, customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.profiles[customer.ID] = customer
	return nil
}

func (r *stubUserRepo) FindByID(_ context.Context, userID string) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	customer, ok := r.profiles[userID]
	if !ok {
		return domain.Customer{}, repoError{msg: "user missing", notFound: true}
	}
	return customer, nil
}

type stubMethodRepo struct {
	payment  map[string]domain.PaymentMethod
	delivery map[string]domain.DeliveryMethod
}

func newStubMethodRepo() *stubMethodRepo {
	return &stubMethodRepo{
		payment:  map[string]domain.PaymentMethod{},
		delivery: map[string]domain.DeliveryMethod{},
	}
}

func (r *stubMethodRepo) FindPaymentMethod(_ context.Context, methodID string) (domain.PaymentMethod, error) {
	method, ok := r.payment[methodID]
	if !ok {
		return domain.PaymentMethod{}, repoError{msg: "payment method missing", notFound: true}
	}
	return method, nil
}

func (r *stubMethodRepo) FindDeliveryMethod(_ context.Context, methodID string) (domain.DeliveryMethod, error) {
	method, ok := r.delivery[methodID]
	if !ok {
		return domain.DeliveryMethod{}, repoError{msg: "delivery method missing", notFound: true}
	}
	return method, nil
}

type stubCheckpointRepo struct {
	mu          sync.Mutex
	checkpoints map[string]domain.OrderCheckpoint
	failures    []string
}

func newStubCheckpointRepo() *stubCheckpointRepo {
	return &stubCheckpointRepo{checkpoints: map[string]domain.OrderCheckpoint{}}
}

func (r *stubCheckpointRepo) Put(_ context.Context, checkpoint domain.OrderCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if checkpoint.Completed == nil {
		checkpoint.Completed = map[string]bool{}
	}
	r.checkpoints[checkpoint.OrderID] = checkpoint
	return nil
}

func (r *stubCheckpointRepo) Get(_ context.Context, orderID string) (domain.OrderCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	checkpoint, ok := r.checkpoints[orderID]
	if !ok {
		return domain.OrderCheckpoint{}, repoError{msg: "checkpoint missing", notFound: true}
	}
	return cloneCheckpoint(checkpoint), nil
}

func (r *stubCheckpointRepo) MarkStep(_ context.Context, orderID, step string, at time.Time) (domain.OrderCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	checkpoint, ok := r.checkpoints[orderID]
	if !ok {
		return domain.OrderCheckpoint{}, repoError{msg: "checkpoint missing", notFound: true}
	}
	if checkpoint.Completed == nil {
		checkpoint.Completed = map[string]bool{}
	}
	checkpoint.Completed[step] = true
	checkpoint.UpdatedAt = at
	r.checkpoints[orderID] = checkpoint
	return cloneCheckpoint(checkpoint), nil
}

func (r *stubCheckpointRepo) RecordFailure(_ context.Context, orderID, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	checkpoint, ok := r.checkpoints[orderID]
	if !ok {
		return repoError{msg: "checkpoint missing", notFound: true}
	}
	checkpoint.LastError = message
	checkpoint.Attempts++
	checkpoint.UpdatedAt = at
	r.checkpoints[orderID] = checkpoint
	r.failures = append(r.failures, orderID+": "+message)
	return nil
}

func (r *stubCheckpointRepo) ListIncomplete(_ context.Context, cutoff time.Time, limit int) ([]domain.OrderCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrderCheckpoint
	for _, checkpoint := range r.checkpoints {
		if checkpoint.Done() || checkpoint.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, cloneCheckpoint(checkpoint))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *stubCheckpointRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, orderID)
	return nil
}

func (r *stubCheckpointRepo) get(orderID string) (domain.OrderCheckpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	checkpoint, ok := r.checkpoints[orderID]
	return cloneCheckpoint(checkpoint), ok
}

func cloneCheckpoint(checkpoint domain.OrderCheckpoint) domain.OrderCheckpoint {
	completed := make(map[string]bool, len(checkpoint.Completed))
	for k, v := range checkpoint.Completed {
		completed[k] = v
	}
	checkpoint.Completed = completed
	return checkpoint
}

type stubInventoryClient struct {
	mu    sync.Mutex
	calls int
	fn    func(userID string, lines []inventory.RequestedLine) ([]domain.ReservedItem, error)
}

func (c *stubInventoryClient) Purchase(_ context.Context, userID string, lines []inventory.RequestedLine) ([]domain.ReservedItem, error) {
	c.mu.Lock()
	c.calls++
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no purchase function configured")
	}
	return fn(userID, lines)
}

func (c *stubInventoryClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubCartClient struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (c *stubCartClient) Clear(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.cleared = append(c.cleared, userID)
	return nil
}

type stubPaymentService struct {
	mu      sync.Mutex
	created []CreatePaymentCommand
	err     error
	payment domain.Payment
}

func (s *stubPaymentService) CreatePayment(_ context.Context, cmd CreatePaymentCommand) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Payment{}, s.err
	}
	s.created = append(s.created, cmd)
	payment := s.payment
	if payment.ID == "" {
		payment = domain.Payment{ID: "pay_test", OrderID: cmd.Order.ID, Total: cmd.Order.Total}
	}
	return payment, nil
}

func (s *stubPaymentService) GetPaymentByOrder(_ context.Context, _ Requester, orderID string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.created {
		if cmd.Order.ID == orderID {
			return domain.Payment{ID: "pay_test", OrderID: orderID, Total: cmd.Order.Total}, nil
		}
	}
	return domain.Payment{}, ErrPaymentNotFound
}

type stubEventPublisher struct {
	mu         sync.Mutex
	confirmed  []domain.OrderConfirmedEvent
	initiated  []domain.PaymentInitiatedEvent
	confirmErr error
}

func (p *stubEventPublisher) PublishOrderConfirmed(_ context.Context, event domain.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != nil {
		return p.confirmErr
	}
	p.confirmed = append(p.confirmed, event)
	return nil
}

func (p *stubEventPublisher) PublishPaymentInitiated(_ context.Context, event domain.PaymentInitiatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiated = append(p.initiated, event)
	return nil
}
