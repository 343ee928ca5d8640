package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/maplecart/api/internal/domain"
)

// GatewayCOD is the discriminator for cash-on-delivery payment methods.
const GatewayCOD = "cod"

// CODProvider settles payments at handover. There is no external gateway call,
// so Process completes synchronously.
type CODProvider struct {
	logger Logger
}

// NewCODProvider constructs a cash-on-delivery provider.
func NewCODProvider(logger Logger) *CODProvider {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CODProvider{logger: logger}
}

// Name implements the Provider interface.
func (p *CODProvider) Name() string { return GatewayCOD }

// RequiresRedirect implements the Provider interface.
func (p *CODProvider) RequiresRedirect() bool { return false }

// Process marks the payment as awaiting fulfilment; the courier collects the
// amount on delivery.
func (p *CODProvider) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if req.OrderID == "" {
		return ProcessResult{}, errors.New("cod: order id is required")
	}
	if req.Amount <= 0 {
		return ProcessResult{}, fmt.Errorf("cod: invalid amount %d", req.Amount)
	}

	p.logger(ctx, "payments.cod.accepted", map[string]any{
		"orderId": req.OrderID,
		"amount":  req.Amount,
	})

	return ProcessResult{Status: domain.PaymentStatusAwaitingFulfillment}, nil
}
