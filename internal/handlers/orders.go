package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/delivery"
	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

type orderLineRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type customerRequest struct {
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone,omitempty"`
	Address   *addressRequest `json:"address,omitempty"`
}

type createOrderRequest struct {
	UserID           string             `json:"userId"`
	Items            []orderLineRequest `json:"items"`
	Customer         customerRequest    `json:"customer"`
	PaymentMethodID  string             `json:"paymentMethodId"`
	DeliveryMethodID string             `json:"deliveryMethodId"`
}

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
}

type orderLinePayload struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type orderPayload struct {
	OrderID          string             `json:"orderId"`
	UserID           string             `json:"userId"`
	Status           string             `json:"status"`
	Items            []orderLinePayload `json:"items"`
	AdditionalCosts  map[string]int64   `json:"additionalCosts"`
	Total            int64              `json:"total"`
	Currency         string             `json:"currency"`
	PaymentMethodID  string             `json:"paymentMethodId"`
	DeliveryMethodID string             `json:"deliveryMethodId"`
	TrackingNumber   string             `json:"trackingNumber,omitempty"`
	TrackingURL      string             `json:"trackingUrl,omitempty"`
	// EstimatedDelivery projects the arrival time from the courier estimate.
	// Absent for terminal orders and unknown couriers.
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type paymentPayload struct {
	PaymentID   string `json:"paymentId"`
	OrderID     string `json:"orderId"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	MethodName  string `json:"methodName"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	couriers    *delivery.Registry
	guardCreate func(http.Handler) http.Handler
}

// OrderHandlersDeps bundles the handler collaborators.
type OrderHandlersDeps struct {
	Authenticator *auth.Authenticator
	Orders        services.OrderService
	Payments      services.PaymentService
	Couriers      *delivery.Registry
	// CreateGuard wraps the create endpoint, typically with the idempotency
	// middleware.
	CreateGuard func(http.Handler) http.Handler
}

// NewOrderHandlers constructs the order endpoint handlers.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	return &OrderHandlers{
		authn:       deps.Authenticator,
		orders:      deps.Orders,
		payments:    deps.Payments,
		couriers:    deps.Couriers,
		guardCreate: deps.CreateGuard,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	if h.guardCreate != nil {
		r.With(h.guardCreate).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/payment", h.getOrderPayment)
	r.With(auth.RequireRole(auth.RoleStaff, auth.RoleAdmin)).Put("/{orderID}/status", h.updateOrderStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = identity.UID
	}

	lines := make([]services.RequestedLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.RequestedLine{
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		})
	}

	customer := domain.Customer{
		FirstName: strings.TrimSpace(req.Customer.FirstName),
		LastName:  strings.TrimSpace(req.Customer.LastName),
		Email:     strings.TrimSpace(req.Customer.Email),
		Phone:     strings.TrimSpace(req.Customer.Phone),
	}
	if customer.Email == "" {
		customer.Email = identity.Email
	}
	if addr := req.Customer.Address; addr != nil {
		customer.Address = &domain.Address{
			Line1:      strings.TrimSpace(addr.Line1),
			Line2:      strings.TrimSpace(addr.Line2),
			City:       strings.TrimSpace(addr.City),
			Region:     strings.TrimSpace(addr.Region),
			PostalCode: strings.TrimSpace(addr.PostalCode),
			Country:    strings.TrimSpace(addr.Country),
		}
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Requester:        requesterFrom(identity),
		UserID:           userID,
		Lines:            lines,
		Customer:         customer,
		PaymentMethodID:  strings.TrimSpace(req.PaymentMethodID),
		DeliveryMethodID: strings.TrimSpace(req.DeliveryMethodID),
		IdempotencyKey:   strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, h.buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		Requester: requesterFrom(identity),
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Status:    domain.OrderStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
		Pager: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, h.buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, requesterFrom(identity), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildOrderPayload(order))
}

func (h *OrderHandlers) getOrderPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	// Ownership is enforced by the order read.
	if _, err := h.orders.GetOrder(ctx, requesterFrom(identity), orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payment, err := h.payments.GetPaymentByOrder(ctx, requesterFrom(identity), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, paymentPayload{
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		Total:       payment.Total,
		Currency:    payment.Currency,
		Status:      string(payment.Status),
		MethodName:  payment.MethodName,
		RedirectURL: payment.RedirectURL,
	})
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	// Role enforcement happens in the route middleware; the service re-checks
	// the requester on top.
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusCommand{
		Requester:      requesterFrom(identity),
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.buildOrderPayload(order))
}

func (h *OrderHandlers) buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderLinePayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLinePayload{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal(),
		})
	}
	costs := make(map[string]int64, len(order.AdditionalCosts))
	for name, amount := range order.AdditionalCosts {
		costs[name] = amount
	}
	return orderPayload{
		OrderID:           order.ID,
		UserID:            order.UserID,
		Status:            string(order.Status),
		Items:             items,
		AdditionalCosts:   costs,
		Total:             order.Total,
		Currency:          order.Currency,
		PaymentMethodID:   order.PaymentMethodID,
		DeliveryMethodID:  order.DeliveryMethodID,
		TrackingNumber:    order.TrackingNumber,
		TrackingURL:       h.trackingURL(order),
		EstimatedDelivery: h.estimatedDelivery(order),
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// trackingURL builds the courier tracking link once a shipment exists. Lookup
// failures only drop the link, never the response.
func (h *OrderHandlers) trackingURL(order domain.Order) string {
	if h.couriers == nil || order.TrackingNumber == "" || order.DeliveryCourier == "" {
		return ""
	}
	courier, err := h.couriers.Resolve(order.DeliveryCourier)
	if err != nil {
		return ""
	}
	return courier.TrackingURL(order.TrackingNumber)
}

// estimatedDelivery projects the arrival time from the courier estimate.
// Shipped orders project from the shipment time. Earlier orders assume
// dispatch on the creation day, pushed a day when the order arrived after
// the courier cutoff. Lookup failures only drop the field.
func (h *OrderHandlers) estimatedDelivery(order domain.Order) *time.Time {
	if h.couriers == nil || order.DeliveryCourier == "" || order.CreatedAt.IsZero() {
		return nil
	}
	switch order.Status {
	case domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return nil
	}
	courier, err := h.couriers.Resolve(order.DeliveryCourier)
	if err != nil {
		return nil
	}
	estimate := courier.Estimate()

	dispatch := order.CreatedAt
	if order.ShippedAt != nil {
		dispatch = *order.ShippedAt
	} else if dispatch.Hour() >= estimate.CutoffHour {
		dispatch = dispatch.Add(24 * time.Hour)
	}
	eta := dispatch.Add(estimate.TransitTime)
	return &eta
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requesterFrom(identity *auth.Identity) services.Requester {
	return services.Requester{
		ID:       strings.TrimSpace(identity.UID),
		Elevated: identity.Elevated(),
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxOrderBodySize)
	defer body.Close()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
			return false
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "malformed request body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "no payment for this order", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "one or more items are unavailable", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "conflicting write, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrMethodNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("method_not_found", "unknown payment or delivery method", http.StatusBadRequest))
	case errors.Is(err, services.ErrMethodInactive):
		httpx.WriteError(ctx, w, httpx.NewError("method_inactive", "the selected method is not available", http.StatusBadRequest))
	case errors.Is(err, services.ErrConfiguration):
		httpx.WriteError(ctx, w, httpx.NewError("configuration_error", "the selected method is misconfigured", http.StatusInternalServerError))
	case errors.Is(err, services.ErrGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal server error", http.StatusInternalServerError))
	}
}
