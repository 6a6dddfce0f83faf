package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/pricing"
	"gorm.io/gorm"
)

type CheckoutRequest struct {
	PurchaseIdentifiers []string
	Items               []pricing.ItemQuantity
}

type CheckoutResult struct {
	Session *CheckoutSession
	URL     string
	Total   int64
}

type Service interface {
	StartCheckout(ctx context.Context, bowlerIdentifier string, req CheckoutRequest) (*CheckoutResult, error)
	HandleCheckoutCompleted(ctx context.Context, sessionID string, paymentIntentID string) error
	HandleCheckoutExpired(ctx context.Context, sessionID string) error
	HandleChargeRefunded(ctx context.Context, chargeID string, paymentIntentID string, amount int64) error
	// Dispatch applies a canonical event to the ledger.
	Dispatch(ctx context.Context, event *PaymentEvent) error
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	ReplayPending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type Repository interface {
	InsertSession(ctx context.Context, db *gorm.DB, session *CheckoutSession) error
	FindSession(ctx context.Context, db *gorm.DB, providerSessionID string, forUpdate bool) (*CheckoutSession, error)
	CompleteSession(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentIntentID string, at time.Time) error
	ExpireSession(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	FindPrice(ctx context.Context, db *gorm.DB, itemID snowflake.ID, amount int64) (*GatewayPrice, error)
	FindPricesByProviderIDs(ctx context.Context, db *gorm.DB, providerPriceIDs []string) ([]GatewayPrice, error)
	InsertPrice(ctx context.Context, db *gorm.DB, price *GatewayPrice) (bool, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
	ListPending(ctx context.Context, db *gorm.DB, receivedBefore time.Time, maxAttempts int, limit int) ([]EventRecord, error)
}

var (
	ErrGatewayUnavailable    = errors.New("payment_gateway_unavailable")
	ErrSessionNotFound       = errors.New("checkout_session_not_found")
	ErrUnknownPrice          = errors.New("unknown_gateway_price")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrBowlerNotFound        = errors.New("bowler_not_found")
)
