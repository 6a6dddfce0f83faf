package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PurchaseStatus string

const (
	PurchaseStatusUnpaid PurchaseStatus = "unpaid"
	PurchaseStatusPaid   PurchaseStatus = "paid"
	PurchaseStatusVoided PurchaseStatus = "voided"
)

// Source tags where a ledger entry came from.
type Source string

const (
	SourceRegistration Source = "registration"
	SourceFreeEntry    Source = "free_entry"
	SourceManual       Source = "manual"
	SourcePurchase     Source = "purchase"
	SourceStripe       Source = "stripe"
	SourceVoid         Source = "void"
	SourceAutomatic    Source = "automatic"
)

func (s Source) Valid() bool {
	switch s {
	case SourceRegistration, SourceFreeEntry, SourceManual, SourcePurchase,
		SourceStripe, SourceVoid, SourceAutomatic:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentTypeStripe    PaymentType = "stripe"
	PaymentTypeManual    PaymentType = "manual"
	PaymentTypeFreeEntry PaymentType = "free_entry"
)

// Purchase records one bowler obtaining one item. Amount is frozen at creation.
type Purchase struct {
	ID                snowflake.ID   `json:"-" gorm:"primaryKey"`
	BowlerID          snowflake.ID   `json:"-" gorm:"not null;index"`
	PurchasableItemID snowflake.ID   `json:"-" gorm:"not null;index"`
	Identifier        string         `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	Amount            int64          `json:"amount" gorm:"not null"`
	Status            PurchaseStatus `json:"status" gorm:"type:text;not null;index"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	VoidedAt          *time.Time     `json:"voided_at,omitempty"`
	VoidReason        *string        `json:"void_reason,omitempty" gorm:"type:text"`
	ExternalPaymentID *snowflake.ID  `json:"-" gorm:"index"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null"`
}

func (Purchase) TableName() string { return "purchases" }

func (p Purchase) Paid() bool   { return p.Status == PurchaseStatusPaid }
func (p Purchase) Voided() bool { return p.Status == PurchaseStatusVoided }

type LedgerEntry struct {
	ID             snowflake.ID  `json:"-" gorm:"primaryKey"`
	BowlerID       snowflake.ID  `json:"-" gorm:"not null;index"`
	Debit          int64         `json:"debit" gorm:"not null;default:0"`
	Credit         int64         `json:"credit" gorm:"not null;default:0"`
	Source         Source        `json:"source" gorm:"type:text;not null"`
	Identifier     string        `json:"identifier" gorm:"type:text;index"`
	PurchaseID     *snowflake.ID `json:"-" gorm:"index"`
	IdempotencyKey *string       `json:"-" gorm:"type:text;uniqueIndex"`
	Notes          string        `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

type ExternalPayment struct {
	ID                 snowflake.ID      `json:"-" gorm:"primaryKey"`
	Identifier         string            `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	PaymentType        PaymentType       `json:"payment_type" gorm:"type:text;not null"`
	ProviderIdentifier *string           `json:"provider_identifier,omitempty" gorm:"type:text;index"`
	Details            datatypes.JSONMap `json:"details,omitempty"`
	CreatedAt          time.Time         `json:"created_at" gorm:"not null"`
}

func (ExternalPayment) TableName() string { return "external_payments" }
