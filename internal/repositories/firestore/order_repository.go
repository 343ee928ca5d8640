package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	ordersCollection    = "orders"
	orderItemsSubcol    = "items"
	defaultOrdersPage   = 20
	maxOrdersPageSize   = 100
	listTokenSeparator  = "|"
	listTokenTimeLayout = time.RFC3339Nano
)

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	col      *pfirestore.Collection[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		col:      pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		provider: provider,
	}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.col == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	return r.col.Create(ctx, orderID, encodeOrderDocument(order))
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.col == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.col.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// ListByUser returns the user's orders ordered by most recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.col == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := filter.Pager.PageSize
	if limit <= 0 {
		limit = defaultOrdersPage
	}
	if limit > maxOrdersPageSize {
		limit = maxOrdersPageSize
	}
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.col.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// UpdateStatus transitions the order status and stamps the matching timestamp field.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, trackingNumber string, at time.Time) (domain.Order, error) {
	if r == nil || r.col == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	at = at.UTC()
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: at},
	}
	if trackingNumber = strings.TrimSpace(trackingNumber); trackingNumber != "" {
		updates = append(updates, firestore.Update{Path: "trackingNumber", Value: trackingNumber})
	}
	switch status {
	case domain.OrderStatusPaid:
		updates = append(updates, firestore.Update{Path: "paidAt", Value: at})
	case domain.OrderStatusShipped:
		updates = append(updates, firestore.Update{Path: "shippedAt", Value: at})
	case domain.OrderStatusDelivered:
		updates = append(updates, firestore.Update{Path: "deliveredAt", Value: at})
	case domain.OrderStatusCancelled:
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: at})
	}

	if _, err := r.col.Update(ctx, orderID, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

// InsertLineItemSnapshots writes per-item documents under the order. Document
// IDs are positional so re-running the step overwrites rather than duplicates.
func (r *OrderRepository) InsertLineItemSnapshots(ctx context.Context, orderID string, items []domain.OrderLineItem) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	subcol := client.Collection(ordersCollection).Doc(orderID).Collection(orderItemsSubcol)
	writer := client.BulkWriter(ctx)
	for i, item := range items {
		docID := fmt.Sprintf("%04d", i)
		if _, err := writer.Set(subcol.Doc(docID), encodeLineItem(item)); err != nil {
			writer.End()
			return pfirestore.WrapError("orders.items.set", err)
		}
	}
	writer.End()
	return nil
}

type orderDocument struct {
	UserID          string             `firestore:"userId"`
	Status          string             `firestore:"status"`
	Items           []lineItemDocument `firestore:"items"`
	AdditionalCosts map[string]int64   `firestore:"additionalCosts,omitempty"`
	Total           int64              `firestore:"total"`
	Currency        string             `firestore:"currency"`
	Customer        customerDocument   `firestore:"customer"`
	PaymentMethod   string             `firestore:"paymentMethodId"`
	DeliveryMethod  string             `firestore:"deliveryMethodId"`
	DeliveryCourier string             `firestore:"deliveryCourier,omitempty"`
	TrackingNumber  string             `firestore:"trackingNumber,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
	PaidAt          *time.Time         `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time         `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time         `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time         `firestore:"cancelledAt,omitempty"`
}

type lineItemDocument struct {
	ProductID string            `firestore:"productId"`
	VariantID string            `firestore:"variantId,omitempty"`
	Name      string            `firestore:"name"`
	UnitPrice int64             `firestore:"unitPrice"`
	Quantity  int               `firestore:"quantity"`
	Options   map[string]string `firestore:"options,omitempty"`
}

type customerDocument struct {
	ID        string           `firestore:"id"`
	FirstName string           `firestore:"firstName,omitempty"`
	LastName  string           `firestore:"lastName,omitempty"`
	Email     string           `firestore:"email,omitempty"`
	Phone     string           `firestore:"phone,omitempty"`
	Address   *addressDocument `firestore:"address,omitempty"`
}

type addressDocument struct {
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	Region     string `firestore:"region,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, encodeLineItem(item))
	}
	return orderDocument{
		UserID:          order.UserID,
		Status:          string(order.Status),
		Items:           items,
		AdditionalCosts: order.AdditionalCosts,
		Total:           order.Total,
		Currency:        order.Currency,
		Customer:        encodeCustomer(order.Customer),
		PaymentMethod:   order.PaymentMethodID,
		DeliveryMethod:  order.DeliveryMethodID,
		DeliveryCourier: order.DeliveryCourier,
		TrackingNumber:  order.TrackingNumber,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		PaidAt:          order.PaidAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Options:   item.Options,
		})
	}
	return domain.Order{
		ID:               id,
		UserID:           doc.UserID,
		Status:           domain.OrderStatus(doc.Status),
		Items:            items,
		AdditionalCosts:  doc.AdditionalCosts,
		Total:            doc.Total,
		Currency:         doc.Currency,
		Customer:         decodeCustomer(doc.Customer),
		PaymentMethodID:  doc.PaymentMethod,
		DeliveryMethodID: doc.DeliveryMethod,
		DeliveryCourier:  doc.DeliveryCourier,
		TrackingNumber:   doc.TrackingNumber,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		PaidAt:           doc.PaidAt,
		ShippedAt:        doc.ShippedAt,
		DeliveredAt:      doc.DeliveredAt,
		CancelledAt:      doc.CancelledAt,
	}
}

func encodeLineItem(item domain.OrderLineItem) lineItemDocument {
	return lineItemDocument{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Quantity:  item.Quantity,
		Options:   item.Options,
	}
}

func encodeCustomer(customer domain.Customer) customerDocument {
	doc := customerDocument{
		ID:        customer.ID,
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
		Email:     customer.Email,
		Phone:     customer.Phone,
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

func decodeCustomer(doc customerDocument) domain.Customer {
	customer := domain.Customer{
		ID:        doc.ID,
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

func encodeListToken(at time.Time, id string) string {
	raw := at.UTC().Format(listTokenTimeLayout) + listTokenSeparator + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeListToken(token string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	at, id, ok := strings.Cut(string(raw), listTokenSeparator)
	if !ok {
		return time.Time{}, "", errors.New("malformed token")
	}
	parsed, err := time.Parse(listTokenTimeLayout, at)
	if err != nil {
		return time.Time{}, "", err
	}
	return parsed, id, nil
}
