package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// first loads one row matching where, returning nil when there is none.
func first[T any](query *gorm.DB, where string, args ...any) (*T, error) {
	var row T
	err := query.Where(where, args...).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &row, nil
}

// insertOnce creates row unless conflict columns already hold its values.
// It reports whether a row was written.
func insertOnce(ctx context.Context, db *gorm.DB, row any, conflict ...string) (bool, error) {
	cols := make([]clause.Column, len(conflict))
	for i, name := range conflict {
		cols[i] = clause.Column{Name: name}
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{Columns: cols, DoNothing: true}).Create(row)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *domain.CheckoutSession) error {
	return db.WithContext(ctx).Create(session).Error
}

// FindSession optionally row-locks the session so concurrent completion and
// expiry events for it apply one at a time.
func (r *repo) FindSession(ctx context.Context, db *gorm.DB, providerSessionID string, forUpdate bool) (*domain.CheckoutSession, error) {
	query := db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return first[domain.CheckoutSession](query, "provider_session_id = ?", providerSessionID)
}

func (r *repo) CompleteSession(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentIntentID string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.CheckoutSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            domain.CheckoutStatusCompleted,
			"payment_intent_id": paymentIntentID,
			"updated_at":        at,
		}).Error
}

// ExpireSession only moves open sessions; a completed session stays completed.
func (r *repo) ExpireSession(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CheckoutSession{}).
		Where("id = ? AND status = ?", id, domain.CheckoutStatusOpen).
		Updates(map[string]any{"status": domain.CheckoutStatusExpired, "updated_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *repo) FindPrice(ctx context.Context, db *gorm.DB, itemID snowflake.ID, amount int64) (*domain.GatewayPrice, error) {
	return first[domain.GatewayPrice](db.WithContext(ctx), "purchasable_item_id = ? AND amount = ?", itemID, amount)
}

func (r *repo) FindPricesByProviderIDs(ctx context.Context, db *gorm.DB, providerPriceIDs []string) ([]domain.GatewayPrice, error) {
	if len(providerPriceIDs) == 0 {
		return nil, nil
	}
	var prices []domain.GatewayPrice
	err := db.WithContext(ctx).Where("provider_price_id IN ?", providerPriceIDs).Find(&prices).Error
	return prices, err
}

// InsertPrice keeps the first price stored for an item at a given amount.
func (r *repo) InsertPrice(ctx context.Context, db *gorm.DB, price *domain.GatewayPrice) (bool, error) {
	return insertOnce(ctx, db, price, "purchasable_item_id", "amount")
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	return first[domain.EventRecord](db.WithContext(ctx), "provider = ? AND provider_event_id = ?", provider, providerEventID)
}

// InsertEvent journals a delivery. A false result means the provider
// already sent this event.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	return insertOnce(ctx, db, event, "provider", "provider_event_id")
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": processedAt,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   nil,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

// ListPending returns unprocessed events received before the cutoff that
// still have attempts left. Least-tried events come first so repeated
// failures cannot crowd out newer deliveries.
func (r *repo) ListPending(ctx context.Context, db *gorm.DB, receivedBefore time.Time, maxAttempts int, limit int) ([]domain.EventRecord, error) {
	var events []domain.EventRecord
	err := db.WithContext(ctx).
		Where("processed_at IS NULL").
		Where("received_at < ?", receivedBefore).
		Where("attempts < ?", maxAttempts).
		Order("attempts ASC").
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
