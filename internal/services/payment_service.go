package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/repositories"
)

const paymentIDPrefix = "pay_"

// defaultGatewayTimeout bounds a single gateway call when no timeout is configured.
const defaultGatewayTimeout = 10 * time.Second

var (
	// ErrPaymentNotFound indicates no payment exists for the order yet.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrGateway wraps external payment processor failures.
	ErrGateway = errors.New("payment: gateway error")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments  repositories.PaymentRepository
	Methods   repositories.MethodRepository
	Providers *payments.Manager
	Events    EventPublisher
	// GatewayTimeout caps each external processor call. Callers outside the
	// request path carry no deadline of their own, so the bound must live
	// here. Defaults to defaultGatewayTimeout.
	GatewayTimeout time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments       repositories.PaymentRepository
	methods        repositories.MethodRepository
	providers      *payments.Manager
	events         EventPublisher
	gatewayTimeout time.Duration
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Methods == nil {
		return nil, errors.New("payment service: method repository is required")
	}
	if deps.Providers == nil {
		return nil, errors.New("payment service: provider manager is required")
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
	gatewayTimeout := deps.GatewayTimeout
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}

	return &paymentService{
		payments:       deps.Payments,
		methods:        deps.Methods,
		providers:      deps.Providers,
		events:         deps.Events,
		gatewayTimeout: gatewayTimeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreatePayment starts collecting payment for a committed order. The call is
// idempotent per order: an existing payment is returned untouched.
func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (domain.Payment, error) {
	order := cmd.Order
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if order.Total <= 0 {
		return domain.Payment{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	existing, err := s.payments.FindByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return domain.Payment{}, s.mapRepositoryError(err)
	}

	method, err := s.methods.FindPaymentMethod(ctx, order.PaymentMethodID)
	if err != nil {
		if isNotFound(err) {
			return domain.Payment{}, fmt.Errorf("%w: %s", ErrMethodNotFound, order.PaymentMethodID)
		}
		return domain.Payment{}, s.mapRepositoryError(err)
	}

	provider, err := s.providers.Resolve(method.Gateway)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, err := provider.Process(gatewayCtx, payments.ProcessRequest{
		OrderID:        orderID,
		Amount:         order.Total,
		Currency:       order.Currency,
		MethodID:       method.ID,
		MethodName:     method.Name,
		CustomerEmail:  order.Customer.Email,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	})
	cancel()
	if err != nil {
		return domain.Payment{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	now := s.clock()
	payment := domain.Payment{
		ID:          paymentIDPrefix + s.newID(),
		OrderID:     orderID,
		Total:       order.Total,
		Currency:    order.Currency,
		Status:      result.Status,
		Gateway:     provider.Name(),
		MethodID:    method.ID,
		MethodName:  method.Name,
		RedirectURL: result.RedirectURL,
		IntentID:    result.IntentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.payments.Insert(ctx, payment); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) {
			// Lost a race with a concurrent creation; the stored one wins.
			if stored, findErr := s.payments.FindByOrderID(ctx, orderID); findErr == nil {
				return stored, nil
			}
		}
		return domain.Payment{}, mapped
	}

	s.logger(ctx, "payment.created", map[string]any{
		"paymentId": payment.ID,
		"orderId":   orderID,
		"gateway":   payment.Gateway,
		"status":    string(payment.Status),
	})

	if provider.RequiresRedirect() && s.events != nil {
		event := domain.PaymentInitiatedEvent{
			OrderID:           orderID,
			PaymentMethodName: method.Name,
			RedirectURL:       payment.RedirectURL,
			TotalPrice:        payment.Total,
			Currency:          payment.Currency,
			User: domain.EventUser{
				ID:        order.Customer.ID,
				FirstName: order.Customer.FirstName,
				LastName:  order.Customer.LastName,
				Email:     order.Customer.Email,
			},
			CreateTime: now,
		}
		if err := s.events.PublishPaymentInitiated(ctx, event); err != nil {
			s.logger(ctx, "payment.event.publish.failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	return payment, nil
}

// GetPaymentByOrder returns the payment linked to the order.
func (s *paymentService) GetPaymentByOrder(ctx context.Context, requester Requester, orderID string) (domain.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return domain.Payment{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
		}
		return domain.Payment{}, s.mapRepositoryError(err)
	}
	return payment, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}
