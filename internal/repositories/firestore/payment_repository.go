package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
)

const paymentsCollection = "payments"

// PaymentRepository persists payment aggregates keyed by order.
type PaymentRepository struct {
	col *pfirestore.Collection[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository: firestore provider is required")
	}
	return &PaymentRepository{
		col: pfirestore.NewCollection[paymentDocument](provider, paymentsCollection),
	}, nil
}

// Insert stores a new payment document. The ID must be unique.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.col == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	return r.col.Create(ctx, paymentID, encodePaymentDocument(payment))
}

// FindByOrderID returns the payment attached to the given order.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	if r == nil || r.col == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, errors.New("payment repository: order id is required")
	}

	docs, err := r.col.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.NotFoundError("payments.find_by_order", fmt.Errorf("no payment for order %s", orderID))
	}
	return decodePaymentDocument(docs[0].ID, docs[0].Data), nil
}

// UpdateStatus transitions the payment status.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, at time.Time) error {
	if r == nil || r.col == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	_, err := r.col.Update(ctx, paymentID, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}

type paymentDocument struct {
	OrderID     string    `firestore:"orderId"`
	Total       int64     `firestore:"total"`
	Currency    string    `firestore:"currency"`
	Status      string    `firestore:"status"`
	Gateway     string    `firestore:"gateway"`
	MethodID    string    `firestore:"methodId"`
	MethodName  string    `firestore:"methodName"`
	RedirectURL string    `firestore:"redirectUrl,omitempty"`
	IntentID    string    `firestore:"intentId,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func encodePaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:     payment.OrderID,
		Total:       payment.Total,
		Currency:    payment.Currency,
		Status:      string(payment.Status),
		Gateway:     payment.Gateway,
		MethodID:    payment.MethodID,
		MethodName:  payment.MethodName,
		RedirectURL: payment.RedirectURL,
		IntentID:    payment.IntentID,
		CreatedAt:   payment.CreatedAt.UTC(),
		UpdatedAt:   payment.UpdatedAt.UTC(),
	}
}

func decodePaymentDocument(id string, doc paymentDocument) domain.Payment {
	return domain.Payment{
		ID:          id,
		OrderID:     doc.OrderID,
		Total:       doc.Total,
		Currency:    doc.Currency,
		Status:      domain.PaymentStatus(doc.Status),
		Gateway:     doc.Gateway,
		MethodID:    doc.MethodID,
		MethodName:  doc.MethodName,
		RedirectURL: doc.RedirectURL,
		IntentID:    doc.IntentID,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}
