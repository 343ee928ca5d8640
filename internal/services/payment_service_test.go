package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/payments"
)

type stubPaymentRepo struct {
	mu        sync.Mutex
	byOrder   map[string]domain.Payment
	insertErr error
	// findMisses forces that many not-found results before reads see byOrder.
	findMisses int
}

func newStubPaymentRepo() *stubPaymentRepo {
	return &stubPaymentRepo{byOrder: map[string]domain.Payment{}}
}

func (r *stubPaymentRepo) Insert(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.byOrder[payment.OrderID]; exists {
		return repoError{msg: "payment exists for order", conflict: true}
	}
	r.byOrder[payment.OrderID] = payment
	return nil
}

func (r *stubPaymentRepo) FindByOrderID(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findMisses > 0 {
		r.findMisses--
		return domain.Payment{}, repoError{msg: "no payment for order " + orderID, notFound: true}
	}
	payment, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, repoError{msg: "no payment for order " + orderID, notFound: true}
	}
	return payment, nil
}

func (r *stubPaymentRepo) UpdateStatus(_ context.Context, paymentID string, status domain.PaymentStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for orderID, payment := range r.byOrder {
		if payment.ID == paymentID {
			payment.Status = status
			payment.UpdatedAt = at
			r.byOrder[orderID] = payment
			return nil
		}
	}
	return repoError{msg: "payment missing", notFound: true}
}

type fakeProvider struct {
	mu        sync.Mutex
	name      string
	redirect  bool
	result    payments.ProcessResult
	err       error
	processed []payments.ProcessRequest
}

func (p *fakeProvider) Name() string           { return p.name }
func (p *fakeProvider) RequiresRedirect() bool { return p.redirect }

func (p *fakeProvider) Process(_ context.Context, req payments.ProcessRequest) (payments.ProcessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return payments.ProcessResult{}, p.err
	}
	p.processed = append(p.processed, req)
	return p.result, nil
}

func (p *fakeProvider) processCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

type paymentFixture struct {
	repo     *stubPaymentRepo
	methods  *stubMethodRepo
	provider *fakeProvider
	events   *stubEventPublisher
	service  PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	f := &paymentFixture{
		repo:    newStubPaymentRepo(),
		methods: newStubMethodRepo(),
		provider: &fakeProvider{
			name:     "stripe",
			redirect: true,
			result: payments.ProcessResult{
				Status:      domain.PaymentStatusProcessing,
				RedirectURL: "https://checkout.example.com/s/cs_1",
				IntentID:    "pi_1",
			},
		},
		events: &stubEventPublisher{},
	}
	f.methods.payment["pm-card"] = domain.PaymentMethod{
		ID: "pm-card", Name: "Credit card", FlatFee: 0, Active: true, Gateway: "stripe",
	}

	manager, err := payments.NewManager(f.provider)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	service, err := NewPaymentService(PaymentServiceDeps{
		Payments:    f.repo,
		Methods:     f.methods,
		Providers:   manager,
		Events:      f.events,
		Clock:       func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "00000001" },
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	f.service = service
	return f
}

func paymentOrder() domain.Order {
	return domain.Order{
		ID:              "ord_1",
		UserID:          "user-1",
		Total:           549,
		Currency:        "JPY",
		PaymentMethodID: "pm-card",
		Customer: domain.Customer{
			ID: "user-1", FirstName: "Taro", LastName: "Yamada", Email: "taro@example.com",
		},
	}
}

func TestCreatePayment(t *testing.T) {
	f := newPaymentFixture(t)

	payment, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{
		Order:          paymentOrder(),
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if payment.OrderID != "ord_1" {
		t.Errorf("orderID = %s", payment.OrderID)
	}
	if payment.Status != domain.PaymentStatusProcessing {
		t.Errorf("status = %s, want PROCESSING", payment.Status)
	}
	if payment.RedirectURL == "" || payment.IntentID != "pi_1" {
		t.Errorf("gateway fields not carried: %+v", payment)
	}
	if payment.Gateway != "stripe" || payment.MethodName != "Credit card" {
		t.Errorf("method fields not carried: %+v", payment)
	}
	if f.provider.processCount() != 1 {
		t.Fatalf("provider called %d times, want 1", f.provider.processCount())
	}
	req := f.provider.processed[0]
	if req.Amount != 549 || req.Currency != "JPY" || req.IdempotencyKey != "idem-1" {
		t.Errorf("process request = %+v", req)
	}
}

func TestCreatePaymentIsIdempotentPerOrder(t *testing.T) {
	f := newPaymentFixture(t)
	cmd := CreatePaymentCommand{Order: paymentOrder(), IdempotencyKey: "idem-1"}

	first, err := f.service.CreatePayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first CreatePayment: %v", err)
	}
	second, err := f.service.CreatePayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second CreatePayment: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second call returned a different payment: %s vs %s", first.ID, second.ID)
	}
	if f.provider.processCount() != 1 {
		t.Errorf("provider called %d times, want 1", f.provider.processCount())
	}
	if len(f.events.initiated) != 1 {
		t.Errorf("published %d initiation events, want 1", len(f.events.initiated))
	}
}

func TestCreatePaymentRedirectGatewayPublishesEvent(t *testing.T) {
	f := newPaymentFixture(t)

	if _, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if len(f.events.initiated) != 1 {
		t.Fatalf("published %d events, want 1", len(f.events.initiated))
	}

	event := f.events.initiated[0]
	if event.OrderID != "ord_1" {
		t.Errorf("event orderID = %s", event.OrderID)
	}
	if event.RedirectURL == "" {
		t.Error("event must carry the redirect URL")
	}
	if event.PaymentMethodName != "Credit card" {
		t.Errorf("event method name = %s", event.PaymentMethodName)
	}
	if event.User.Email != "taro@example.com" {
		t.Errorf("event user = %+v", event.User)
	}
}

func TestCreatePaymentSynchronousGatewaySkipsEvent(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.redirect = false
	f.provider.result = payments.ProcessResult{Status: domain.PaymentStatusAwaitingFulfillment}

	payment, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if payment.Status != domain.PaymentStatusAwaitingFulfillment {
		t.Errorf("status = %s, want AWAITING_FULFILLMENT", payment.Status)
	}
	if len(f.events.initiated) != 0 {
		t.Errorf("published %d events, want 0", len(f.events.initiated))
	}
}

func TestCreatePaymentUnknownGateway(t *testing.T) {
	f := newPaymentFixture(t)
	f.methods.payment["pm-card"] = domain.PaymentMethod{
		ID: "pm-card", Name: "Credit card", Active: true, Gateway: "paypal",
	}

	_, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
	if len(f.repo.byOrder) != 0 {
		t.Error("no payment must be persisted")
	}
}

func TestCreatePaymentUnknownMethod(t *testing.T) {
	f := newPaymentFixture(t)

	order := paymentOrder()
	order.PaymentMethodID = "pm-missing"
	_, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: order})
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("error = %v, want ErrMethodNotFound", err)
	}
}

func TestCreatePaymentGatewayFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.err = errors.New("stripe: api down")

	_, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("error = %v, want ErrGateway", err)
	}
	if len(f.repo.byOrder) != 0 {
		t.Error("no payment must be persisted on gateway failure")
	}
}

// hangingProvider waits out its context, the way a stalled gateway would.
type hangingProvider struct {
	name        string
	hadDeadline bool
}

func (p *hangingProvider) Name() string           { return p.name }
func (p *hangingProvider) RequiresRedirect() bool { return false }

func (p *hangingProvider) Process(ctx context.Context, _ payments.ProcessRequest) (payments.ProcessResult, error) {
	_, p.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return payments.ProcessResult{}, ctx.Err()
}

func TestCreatePaymentBoundsGatewayCall(t *testing.T) {
	methods := newStubMethodRepo()
	methods.payment["pm-card"] = domain.PaymentMethod{
		ID: "pm-card", Name: "Credit card", Active: true, Gateway: "stripe",
	}
	provider := &hangingProvider{name: "stripe"}
	manager, err := payments.NewManager(provider)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	service, err := NewPaymentService(PaymentServiceDeps{
		Payments:       newStubPaymentRepo(),
		Methods:        methods,
		Providers:      manager,
		GatewayTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	// The caller context has no deadline; the service must impose one so a
	// stalled gateway cannot hang background callers.
	_, err = service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("error = %v, want ErrGateway", err)
	}
	if !provider.hadDeadline {
		t.Error("gateway call ran without a deadline")
	}
}

func TestCreatePaymentLostInsertRaceReturnsStored(t *testing.T) {
	f := newPaymentFixture(t)

	// Another writer slips a payment in between the not-found read and the
	// insert. The first read misses, the insert conflicts, the re-read finds
	// the concurrent winner.
	f.repo.byOrder["ord_1"] = domain.Payment{ID: "pay_winner", OrderID: "ord_1", Total: 549}
	f.repo.findMisses = 1
	f.repo.insertErr = repoError{msg: "already exists", conflict: true}

	payment, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if payment.ID != "pay_winner" {
		t.Errorf("payment = %s, want the stored pay_winner", payment.ID)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newPaymentFixture(t)

	order := paymentOrder()
	order.ID = ""
	if _, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: order}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Errorf("error = %v, want ErrOrderInvalidInput", err)
	}

	order = paymentOrder()
	order.Total = 0
	if _, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: order}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Errorf("error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestGetPaymentByOrder(t *testing.T) {
	f := newPaymentFixture(t)
	if _, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{Order: paymentOrder()}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	payment, err := f.service.GetPaymentByOrder(context.Background(), Requester{ID: "user-1"}, "ord_1")
	if err != nil {
		t.Fatalf("GetPaymentByOrder: %v", err)
	}
	if payment.OrderID != "ord_1" {
		t.Errorf("orderID = %s", payment.OrderID)
	}

	if _, err := f.service.GetPaymentByOrder(context.Background(), Requester{ID: "user-1"}, "ord_other"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("error = %v, want ErrPaymentNotFound", err)
	}
}
