package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

var (
	// ErrItemUnavailable is returned when the inventory service reports at
	// least one requested line as out of stock.
	ErrItemUnavailable = errors.New("inventory: item unavailable")
	// ErrServiceUnavailable wraps transport failures and 5xx responses.
	ErrServiceUnavailable = errors.New("inventory: service unavailable")
)

const defaultTimeout = 5 * time.Second

// RequestedLine identifies a variant and quantity to reserve.
type RequestedLine struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// Client calls the inventory service to price and reserve order lines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// ClientDeps lists the collaborators required by NewClient.
type ClientDeps struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each purchase call. Defaults to 5s.
	Timeout time.Duration
}

// NewClient constructs an inventory client.
func NewClient(deps ClientDeps) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("inventory: base url is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, timeout: timeout}, nil
}

type purchaseRequest struct {
	UserID string          `json:"userId"`
	Lines  []RequestedLine `json:"lines"`
}

type purchaseResponse struct {
	Items []purchasedItem `json:"items"`
}

type purchasedItem struct {
	ProductID string            `json:"productId"`
	VariantID string            `json:"variantId"`
	Name      string            `json:"name"`
	UnitPrice int64             `json:"unitPrice"`
	Quantity  int               `json:"quantity"`
	Available bool              `json:"available"`
	Total     int64             `json:"total"`
	Options   map[string]string `json:"options,omitempty"`
}

// Purchase prices and reserves the requested lines. The reservation is
// all-or-nothing: any unavailable line fails the whole call and the service
// releases the rest.
func (c *Client) Purchase(ctx context.Context, userID string, lines []RequestedLine) ([]domain.ReservedItem, error) {
	if len(lines) == 0 {
		return nil, errors.New("inventory: at least one line is required")
	}

	body, err := json.Marshal(purchaseRequest{UserID: userID, Lines: lines})
	if err != nil {
		return nil, fmt.Errorf("inventory: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/purchases", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inventory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrItemUnavailable, readErrorMessage(resp.Body))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("inventory: unexpected status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
	}

	var payload purchaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("inventory: decode response: %w", err)
	}

	items := make([]domain.ReservedItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		if !item.Available {
			return nil, fmt.Errorf("%w: variant %s", ErrItemUnavailable, item.VariantID)
		}
		items = append(items, domain.ReservedItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Available: item.Available,
			Total:     item.Total,
			Options:   item.Options,
		})
	}
	return items, nil
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return strings.TrimSpace(string(data))
}
