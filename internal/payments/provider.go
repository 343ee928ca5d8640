package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maplecart/api/internal/domain"
)

// Logger is the logging contract shared by payment providers.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrUnsupportedGateway is returned when a payment method references a gateway
// discriminator with no registered provider. Resolution never falls back to a
// default provider.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// ProcessRequest carries everything a gateway needs to start collecting a payment.
type ProcessRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	MethodID       string
	MethodName     string
	CustomerEmail  string
	IdempotencyKey string
}

// ProcessResult is the normalised outcome of starting a payment with a gateway.
type ProcessResult struct {
	Status PaymentStatusHint
	// RedirectURL is set for hosted checkout flows the customer must complete.
	RedirectURL string
	// IntentID is the gateway-side identifier for the payment attempt.
	IntentID string
}

// PaymentStatusHint is the gateway's view of the payment immediately after
// Process returns.
type PaymentStatusHint = domain.PaymentStatus

// Provider is implemented once per supported payment gateway.
type Provider interface {
	// Name returns the gateway discriminator this provider handles.
	Name() string
	// Process starts collecting the payment and reports the initial status.
	Process(ctx context.Context, req ProcessRequest) (ProcessResult, error)
	// RequiresRedirect reports whether the customer must visit a hosted page.
	RequiresRedirect() bool
}

// Manager resolves payment providers by gateway discriminator.
type Manager struct {
	providers map[string]Provider
}

// NewManager builds a registry from the given providers. Duplicate gateway
// names are rejected so misconfiguration fails at startup.
func NewManager(providers ...Provider) (*Manager, error) {
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return nil, errors.New("payments: provider with empty gateway name")
		}
		if _, exists := registry[name]; exists {
			return nil, fmt.Errorf("payments: duplicate provider for gateway %q", name)
		}
		registry[name] = p
	}
	return &Manager{providers: registry}, nil
}

// Resolve returns the provider registered for the gateway discriminator.
func (m *Manager) Resolve(gateway string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(gateway))
	provider, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, gateway)
	}
	return provider, nil
}
