package domain

import (
	"context"
	"net/http"
)

type PriceRequest struct {
	ItemIdentifier string
	Name           string
	Amount         int64
	Currency       string
}

type PriceRef struct {
	ProductID string
	PriceID   string
}

type LineItem struct {
	PriceID  string
	Quantity int
}

type CheckoutSessionRequest struct {
	ClientReference string
	CustomerEmail   string
	Lines           []LineItem
	// Discount is a positive amount taken off the whole session.
	Discount   int64
	Currency   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type GatewaySession struct {
	ID  string
	URL string
}

type GatewayLineItem struct {
	PriceID  string
	Quantity int
	Amount   int64
}

// Gateway is the outbound side of the payment provider.
type Gateway interface {
	Provider() string
	EnsurePrice(ctx context.Context, req PriceRequest) (PriceRef, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*GatewaySession, error)
	ListLineItems(ctx context.Context, sessionID string) ([]GatewayLineItem, error)
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// PaymentAdapter is the inbound side: it verifies and parses webhooks.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
