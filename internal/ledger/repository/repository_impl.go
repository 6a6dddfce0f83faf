package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// LockBowler takes a row lock on the bowler. sqlite ignores the locking clause.
func (r *repo) LockBowler(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error {
	var ids []int64
	return db.WithContext(ctx).
		Table("bowlers").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", bowlerID).
		Pluck("id", &ids).Error
}

func (r *repo) InsertPurchase(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) error {
	return db.WithContext(ctx).Create(purchase).Error
}

func (r *repo) FindPurchasesForUpdate(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var purchases []domain.Purchase
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&purchases).Error
	return purchases, err
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, ids []snowflake.ID, externalPaymentID snowflake.ID, paidAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET status = ?, paid_at = ?, external_payment_id = ?, updated_at = ?
		 WHERE id IN ? AND status = ?`,
		domain.PurchaseStatusPaid,
		paidAt,
		externalPaymentID,
		paidAt,
		ids,
		domain.PurchaseStatusUnpaid,
	).Error
}

func (r *repo) MarkVoided(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, voidedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET status = ?, voided_at = ?, void_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PurchaseStatusVoided,
		voidedAt,
		reason,
		voidedAt,
		id,
		domain.PurchaseStatusUnpaid,
	).Error
}

// InsertEntry reports false when the idempotency key already exists.
func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) (bool, error) {
	stmt := db.WithContext(ctx)
	if entry.IdempotencyKey != nil {
		stmt = stmt.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		})
	}
	res := stmt.Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertExternalPayment(ctx context.Context, db *gorm.DB, payment *domain.ExternalPayment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) SumEntries(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) (int64, int64, error) {
	var row struct {
		Debit  int64
		Credit int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(debit), 0) AS debit, COALESCE(SUM(credit), 0) AS credit
		 FROM ledger_entries
		 WHERE bowler_id = ?`,
		bowlerID,
	).Scan(&row).Error
	return row.Debit, row.Credit, err
}

func (r *repo) ListPurchases(ctx context.Context, db *gorm.DB, filter domain.PurchaseFilter) ([]domain.Purchase, error) {
	stmt := db.WithContext(ctx).Model(&domain.Purchase{}).
		Where("purchases.bowler_id = ?", filter.BowlerID)

	switch {
	case len(filter.Statuses) > 0:
		stmt = stmt.Where("purchases.status IN ?", filter.Statuses)
	case !filter.IncludeVoided:
		stmt = stmt.Where("purchases.status <> ?", domain.PurchaseStatusVoided)
	}
	if len(filter.Identifiers) > 0 {
		stmt = stmt.Where("purchases.identifier IN ?", filter.Identifiers)
	}
	if len(filter.Determinations) > 0 || len(filter.Categories) > 0 {
		stmt = stmt.Joins("JOIN purchasable_items ON purchasable_items.id = purchases.purchasable_item_id")
		if len(filter.Determinations) > 0 {
			stmt = stmt.Where("purchasable_items.determination IN ?", filter.Determinations)
		}
		if len(filter.Categories) > 0 {
			stmt = stmt.Where("purchasable_items.category IN ?", filter.Categories)
		}
	}

	var purchases []domain.Purchase
	err := stmt.Select("purchases.*").Order("purchases.id").Find(&purchases).Error
	return purchases, err
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("bowler_id = ?", bowlerID).
		Order("created_at, id").
		Find(&entries).Error
	return entries, err
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := db.WithContext(ctx).Where(where, args...).Order("id").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) DeleteForBowler(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM ledger_entries WHERE bowler_id = ?`, bowlerID).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM purchases WHERE bowler_id = ?`, bowlerID).Error
}
