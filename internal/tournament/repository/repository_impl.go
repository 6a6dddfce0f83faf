package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/tournament/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tournament *domain.Tournament) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(tournament).Error
}

func (r *repo) FindByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*domain.Tournament, error) {
	return r.find(ctx, db, "identifier = ?", identifier)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tournament, error) {
	return r.find(ctx, db, "id = ?", id)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Tournament, error) {
	var tournament domain.Tournament
	err := db.WithContext(ctx).
		Preload("ConfigItems").
		Where(where, arg).
		First(&tournament).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tournament, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM tournaments WHERE slug = ?`,
		slug,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateState is a compare-and-set on the current state.
func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.State, to domain.State) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tournaments
		 SET state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND state = ?`,
		to,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpsertConfig(ctx context.Context, db *gorm.DB, item *domain.ConfigItem) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_type", "value", "updated_at"}),
	}).Create(item).Error
}
