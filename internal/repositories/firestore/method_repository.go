package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
)

const (
	paymentMethodsCollection  = "payment_methods"
	deliveryMethodsCollection = "delivery_methods"
)

// MethodRepository loads the configured payment and delivery options.
type MethodRepository struct {
	payment  *pfirestore.Collection[methodDocument]
	delivery *pfirestore.Collection[methodDocument]
}

// NewMethodRepository constructs a Firestore-backed method repository.
func NewMethodRepository(provider *pfirestore.Provider) (*MethodRepository, error) {
	if provider == nil {
		return nil, errors.New("method repository: firestore provider is required")
	}
	return &MethodRepository{
		payment:  pfirestore.NewCollection[methodDocument](provider, paymentMethodsCollection),
		delivery: pfirestore.NewCollection[methodDocument](provider, deliveryMethodsCollection),
	}, nil
}

// FindPaymentMethod loads a payment method by ID.
func (r *MethodRepository) FindPaymentMethod(ctx context.Context, methodID string) (domain.PaymentMethod, error) {
	if r == nil || r.payment == nil {
		return domain.PaymentMethod{}, errors.New("method repository not initialised")
	}
	methodID = strings.TrimSpace(methodID)
	if methodID == "" {
		return domain.PaymentMethod{}, errors.New("method repository: method id is required")
	}
	doc, err := r.payment.Get(ctx, methodID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	return domain.PaymentMethod{
		ID:              doc.ID,
		Name:            doc.Data.Name,
		FlatFee:         doc.Data.FlatFee,
		Active:          doc.Data.Active,
		WaiverEnabled:   doc.Data.WaiverEnabled,
		WaiverThreshold: doc.Data.WaiverThreshold,
		Gateway:         doc.Data.Handler,
	}, nil
}

// FindDeliveryMethod loads a delivery method by ID.
func (r *MethodRepository) FindDeliveryMethod(ctx context.Context, methodID string) (domain.DeliveryMethod, error) {
	if r == nil || r.delivery == nil {
		return domain.DeliveryMethod{}, errors.New("method repository not initialised")
	}
	methodID = strings.TrimSpace(methodID)
	if methodID == "" {
		return domain.DeliveryMethod{}, errors.New("method repository: method id is required")
	}
	doc, err := r.delivery.Get(ctx, methodID)
	if err != nil {
		return domain.DeliveryMethod{}, err
	}
	return domain.DeliveryMethod{
		ID:              doc.ID,
		Name:            doc.Data.Name,
		FlatFee:         doc.Data.FlatFee,
		Active:          doc.Data.Active,
		WaiverEnabled:   doc.Data.WaiverEnabled,
		WaiverThreshold: doc.Data.WaiverThreshold,
		Courier:         doc.Data.Handler,
	}, nil
}

// methodDocument is shared by both method collections; the handler field holds
// the gateway or courier discriminator.
type methodDocument struct {
	Name            string `firestore:"name"`
	FlatFee         int64  `firestore:"flatFee"`
	Active          bool   `firestore:"active"`
	WaiverEnabled   bool   `firestore:"waiverEnabled"`
	WaiverThreshold *int64 `firestore:"waiverThreshold,omitempty"`
	Handler         string `firestore:"handler"`
}
