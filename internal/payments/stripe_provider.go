package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/maplecart/api/internal/domain"
)

// GatewayStripe is the discriminator payment methods use to select Stripe.
const GatewayStripe = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger = Logger

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Backends   *stripe.Backends
	Logger     StripeLogger
	Clock      func() time.Time
	Sessions   stripeSessionAPI
}

// StripeProvider starts payments through Stripe Checkout. The customer
// completes the hosted flow, so payments begin in the processing state.
type StripeProvider struct {
	sessions   stripeSessionAPI
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, errors.New("stripe: success and cancel URLs are required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions:   sessions,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name implements the Provider interface.
func (p *StripeProvider) Name() string { return GatewayStripe }

// RequiresRedirect implements the Provider interface.
func (p *StripeProvider) RequiresRedirect() bool { return true }

// Process creates a Stripe Checkout session for the order total and returns
// the hosted payment page URL.
func (p *StripeProvider) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if p == nil {
		return ProcessResult{}, errors.New("stripe: provider is nil")
	}
	if req.OrderID == "" {
		return ProcessResult{}, errors.New("stripe: order id is required")
	}
	if req.Amount <= 0 {
		return ProcessResult{}, fmt.Errorf("stripe: invalid amount %d", req.Amount)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Order %s", req.OrderID)),
					},
				},
			},
		},
		Metadata: map[string]string{
			"orderId":  req.OrderID,
			"methodId": req.MethodID,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{"orderId": req.OrderID},
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":       req.OrderID,
		"sessionId":     session.ID,
		"paymentIntent": intentID,
	})

	return ProcessResult{
		Status:      domain.PaymentStatusProcessing,
		RedirectURL: session.URL,
		IntentID:    intentID,
	}, nil
}
