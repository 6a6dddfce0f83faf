package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CheckoutStatus string

const (
	CheckoutStatusOpen      CheckoutStatus = "open"
	CheckoutStatusCompleted CheckoutStatus = "completed"
	CheckoutStatusExpired   CheckoutStatus = "expired"
)

// CheckoutDetails is what the basket looked like when the session was opened.
type CheckoutDetails struct {
	BowlerIdentifier    string   `json:"bowler_identifier"`
	PurchaseIdentifiers []string `json:"purchase_identifiers,omitempty"`
	DiscountIdentifiers []string `json:"discount_identifiers,omitempty"`
	FeeIdentifiers      []string `json:"fee_identifiers,omitempty"`
	ExpectedTotal       int64    `json:"expected_total"`
}

type CheckoutSession struct {
	ID                snowflake.ID                        `json:"-" gorm:"primaryKey"`
	BowlerID          snowflake.ID                        `json:"-" gorm:"not null;index"`
	Identifier        string                              `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	ProviderSessionID string                              `json:"provider_session_id" gorm:"type:text;not null;uniqueIndex"`
	Status            CheckoutStatus                      `json:"status" gorm:"type:text;not null"`
	Details           datatypes.JSONType[CheckoutDetails] `json:"details"`
	PaymentIntentID   *string                             `json:"payment_intent_id,omitempty" gorm:"type:text"`
	URL               string                              `json:"url" gorm:"type:text"`
	CreatedAt         time.Time                           `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time                           `json:"updated_at" gorm:"not null"`
}

func (CheckoutSession) TableName() string { return "checkout_sessions" }

// GatewayPrice maps a catalog item to the price the gateway knows it by.
// One row per item and amount, created the first time the item is sold at
// that amount.
type GatewayPrice struct {
	ID                snowflake.ID `json:"-" gorm:"primaryKey"`
	PurchasableItemID snowflake.ID `json:"-" gorm:"not null;uniqueIndex:idx_gateway_prices_item_amount"`
	Provider          string       `json:"provider" gorm:"type:text;not null"`
	ProviderProductID string       `json:"provider_product_id" gorm:"type:text;not null"`
	ProviderPriceID   string       `json:"provider_price_id" gorm:"type:text;not null;uniqueIndex"`
	Amount            int64        `json:"amount" gorm:"not null;uniqueIndex:idx_gateway_prices_item_amount"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
}

func (GatewayPrice) TableName() string { return "gateway_prices" }

// MaxReplayAttempts caps how often a journaled event is processed before
// replay gives up on it and leaves it for an operator.
const MaxReplayAttempts = 8

// EventRecord journals every verified webhook delivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	Attempts        int            `json:"attempts" gorm:"not null;default:0"`
	LastError       *string        `json:"last_error,omitempty" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null;index"`
	ProcessedAt     *time.Time     `json:"processed_at" gorm:"index"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeCheckoutCompleted = "checkout_completed"
	EventTypeCheckoutExpired   = "checkout_expired"
	EventTypeChargeRefunded    = "charge_refunded"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Currency        string
	OccurredAt      time.Time
	RawPayload      []byte
}
