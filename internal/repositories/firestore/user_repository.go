package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserRepository maintains customer profile snapshots captured at checkout.
type UserRepository struct {
	col   *pfirestore.Collection[userDocument]
	clock func() time.Time
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository: firestore provider is required")
	}
	return &UserRepository{
		col:   pfirestore.NewCollection[userDocument](provider, usersCollection),
		clock: time.Now,
	}, nil
}

// UpsertProfile writes the latest checkout contact details for the customer.
// The write is idempotent per customer.
func (r *UserRepository) UpsertProfile(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.col == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(customer.ID)
	if userID == "" {
		return errors.New("user repository: customer id is required")
	}
	return r.col.Set(ctx, userID, encodeUserDocument(customer, r.clock().UTC()))
}

// FindByID loads the customer profile by user ID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.Customer, error) {
	if r == nil || r.col == nil {
		return domain.Customer{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Customer{}, errors.New("user repository: user id is required")
	}
	doc, err := r.col.Get(ctx, userID)
	if err != nil {
		return domain.Customer{}, err
	}
	customer := decodeUserDocument(doc.Data)
	customer.ID = doc.ID
	return customer, nil
}

type userDocument struct {
	FirstName string           `firestore:"firstName,omitempty"`
	LastName  string           `firestore:"lastName,omitempty"`
	Email     string           `firestore:"email,omitempty"`
	Phone     string           `firestore:"phone,omitempty"`
	Address   *addressDocument `firestore:"address,omitempty"`
	UpdatedAt time.Time        `firestore:"updatedAt"`
}

func encodeUserDocument(customer domain.Customer, now time.Time) userDocument {
	doc := userDocument{
		FirstName: strings.TrimSpace(customer.FirstName),
		LastName:  strings.TrimSpace(customer.LastName),
		Email:     strings.TrimSpace(customer.Email),
		Phone:     strings.TrimSpace(customer.Phone),
		UpdatedAt: now,
	}
	if customer.Address != nil {
		doc.Address = &addressDocument{
			Line1:      customer.Address.Line1,
			Line2:      customer.Address.Line2,
			City:       customer.Address.City,
			Region:     customer.Address.Region,
			PostalCode: customer.Address.PostalCode,
			Country:    customer.Address.Country,
		}
	}
	return doc
}

func decodeUserDocument(doc userDocument) domain.Customer {
	customer := domain.Customer{
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
		Email:     doc.Email,
		Phone:     doc.Phone,
	}
	if doc.Address != nil {
		customer.Address = &domain.Address{
			Line1:      doc.Address.Line1,
			Line2:      doc.Address.Line2,
			City:       doc.Address.City,
			Region:     doc.Address.Region,
			PostalCode: doc.Address.PostalCode,
			Country:    doc.Address.Country,
		}
	}
	return customer
}
