package delivery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedCourier is returned when a delivery method references a
// courier discriminator with no registered implementation. Resolution never
// falls back to a default courier.
var ErrUnsupportedCourier = errors.New("delivery: unsupported courier")

// Estimate describes the expected handling window for a shipment.
type Estimate struct {
	// TransitTime is the courier's standard door-to-door duration.
	TransitTime time.Duration
	// CutoffHour is the latest local hour an order still ships same day.
	CutoffHour int
}

// Courier is implemented once per supported shipping carrier.
type Courier interface {
	// Name returns the courier discriminator this implementation handles.
	Name() string
	// TrackingURL builds the customer-facing tracking link for a shipment.
	TrackingURL(trackingNumber string) string
	// Estimate reports the courier's delivery window.
	Estimate() Estimate
}

// Registry resolves couriers by discriminator.
type Registry struct {
	couriers map[string]Courier
}

// NewRegistry builds a courier registry. Duplicate names are rejected so
// misconfiguration fails at startup.
func NewRegistry(couriers ...Courier) (*Registry, error) {
	registry := make(map[string]Courier, len(couriers))
	for _, c := range couriers {
		if c == nil {
			return nil, errors.New("delivery: nil courier")
		}
		name := strings.ToLower(strings.TrimSpace(c.Name()))
		if name == "" {
			return nil, errors.New("delivery: courier with empty name")
		}
		if _, exists := registry[name]; exists {
			return nil, fmt.Errorf("delivery: duplicate courier %q", name)
		}
		registry[name] = c
	}
	return &Registry{couriers: registry}, nil
}

// Resolve returns the courier registered for the discriminator.
func (r *Registry) Resolve(courier string) (Courier, error) {
	name := strings.ToLower(strings.TrimSpace(courier))
	impl, ok := r.couriers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCourier, courier)
	}
	return impl, nil
}
