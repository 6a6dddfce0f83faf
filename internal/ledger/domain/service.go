package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	"gorm.io/gorm"
)

type RecordPurchaseRequest struct {
	BowlerID          snowflake.ID
	Item              catalogdomain.Item
	Source            Source
	ExternalPaymentID *snowflake.ID
	// PaidAt records the purchase as already settled.
	PaidAt *time.Time
}

type EntryRequest struct {
	BowlerID       snowflake.ID
	Debit          int64
	Credit         int64
	Source         Source
	Identifier     string
	PurchaseID     *snowflake.ID
	IdempotencyKey string
	Notes          string
}

type CreateExternalPaymentRequest struct {
	PaymentType        PaymentType
	ProviderIdentifier string
	Details            map[string]any
}

type PurchaseFilter struct {
	BowlerID       snowflake.ID
	Statuses       []PurchaseStatus
	Identifiers    []string
	Determinations []catalogdomain.Determination
	Categories     []catalogdomain.Category
	// IncludeVoided must be set to list voided rows when Statuses is empty.
	IncludeVoided bool
}

type Service interface {
	// WithTx binds the service to an outer transaction.
	WithTx(tx *gorm.DB) Service
	LockBowler(ctx context.Context, bowlerID snowflake.ID) error

	RecordPurchase(ctx context.Context, req RecordPurchaseRequest) (*Purchase, error)
	MarkPaid(ctx context.Context, purchaseIDs []snowflake.ID, externalPaymentID snowflake.ID, paidAt time.Time) error
	Void(ctx context.Context, purchaseID snowflake.ID, reason string) error
	AddEntry(ctx context.Context, req EntryRequest) (*LedgerEntry, bool, error)
	CreateExternalPayment(ctx context.Context, req CreateExternalPaymentRequest) (*ExternalPayment, error)

	AmountBilled(ctx context.Context, bowlerID snowflake.ID) (int64, error)
	AmountDue(ctx context.Context, bowlerID snowflake.ID) (int64, error)
	ListPurchases(ctx context.Context, filter PurchaseFilter) ([]Purchase, error)
	UnpaidByIdentifiers(ctx context.Context, bowlerID snowflake.ID, identifiers []string) ([]Purchase, error)
	ListEntries(ctx context.Context, bowlerID snowflake.ID) ([]LedgerEntry, error)
	FindEntryByIdentifier(ctx context.Context, identifier string, source Source) (*LedgerEntry, error)
	FindEntryByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)
	DeleteForBowler(ctx context.Context, bowlerID snowflake.ID) error
}

type Repository interface {
	LockBowler(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error
	InsertPurchase(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindPurchasesForUpdate(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Purchase, error)
	MarkPaid(ctx context.Context, db *gorm.DB, ids []snowflake.ID, externalPaymentID snowflake.ID, paidAt time.Time) error
	MarkVoided(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, voidedAt time.Time) error
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	InsertExternalPayment(ctx context.Context, db *gorm.DB, payment *ExternalPayment) error
	SumEntries(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) (debit int64, credit int64, err error)
	ListPurchases(ctx context.Context, db *gorm.DB, filter PurchaseFilter) ([]Purchase, error)
	ListEntries(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) ([]LedgerEntry, error)
	FindEntry(ctx context.Context, db *gorm.DB, where string, args ...any) (*LedgerEntry, error)
	DeleteForBowler(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error
}

var (
	ErrNotFound         = errors.New("purchase_not_found")
	ErrAlreadyVoided    = errors.New("purchase_already_voided")
	ErrAlreadyPaid      = errors.New("purchase_already_paid")
	ErrInvalidAmount    = errors.New("invalid_entry_amount")
	ErrInvalidSource    = errors.New("invalid_entry_source")
	ErrInvalidBowler    = errors.New("invalid_bowler")
	ErrInvalidItem      = errors.New("invalid_purchasable_item")
	ErrInvalidPayment   = errors.New("invalid_external_payment")
	ErrEmptyPurchaseSet = errors.New("empty_purchase_set")
)
