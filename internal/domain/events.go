package domain

import "time"

// EventUser carries the customer fields embedded in outbound events.
type EventUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// EventLineItem is the order line shape published on confirmation events.
type EventLineItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
}

// OrderConfirmedEvent is published once an order has been committed.
type OrderConfirmedEvent struct {
	OrderID         string           `json:"orderId"`
	CreateTime      time.Time        `json:"createTime"`
	TotalPrice      int64            `json:"totalPrice"`
	Currency        string           `json:"currency"`
	User            EventUser        `json:"user"`
	LineItems       []EventLineItem  `json:"lineItems"`
	AdditionalCosts map[string]int64 `json:"additionalCosts,omitempty"`
}

// PaymentInitiatedEvent is published when a payment requires customer action,
// such as completing a hosted checkout flow.
type PaymentInitiatedEvent struct {
	OrderID           string    `json:"orderId"`
	PaymentMethodName string    `json:"paymentMethodName"`
	RedirectURL       string    `json:"redirectUrl,omitempty"`
	TotalPrice        int64     `json:"totalPrice"`
	Currency          string    `json:"currency"`
	User              EventUser `json:"user"`
	CreateTime        time.Time `json:"createTime"`
}
