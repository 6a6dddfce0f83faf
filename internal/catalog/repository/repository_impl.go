package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.Item) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*domain.Item, error) {
	var item domain.Item
	err := db.WithContext(ctx).Where("identifier = ?", identifier).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByTournament(ctx context.Context, db *gorm.DB, tournamentID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("category, determination, id").
		Find(&items).Error
	return items, err
}

func (r *repo) FindByIdentifiers(ctx context.Context, db *gorm.DB, tournamentID snowflake.ID, identifiers []string) ([]domain.Item, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	var items []domain.Item
	err := db.WithContext(ctx).
		Where("tournament_id = ? AND identifier IN ?", tournamentID, identifiers).
		Find(&items).Error
	return items, err
}

func (r *repo) UpdateValue(ctx context.Context, db *gorm.DB, id snowflake.ID, value int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchasable_items SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		value,
		id,
	).Error
}
