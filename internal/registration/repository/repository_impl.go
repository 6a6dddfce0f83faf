package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/registration/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPerson(ctx context.Context, db *gorm.DB, person *domain.Person) error {
	return db.WithContext(ctx).Create(person).Error
}

func (r *repo) InsertTeam(ctx context.Context, db *gorm.DB, team *domain.Team) error {
	return db.WithContext(ctx).Create(team).Error
}

func (r *repo) InsertBowler(ctx context.Context, db *gorm.DB, bowler *domain.Bowler) error {
	return db.WithContext(ctx).Create(bowler).Error
}

func lockable(db *gorm.DB, forUpdate bool) *gorm.DB {
	if forUpdate {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func first[T any](stmt *gorm.DB) (*T, error) {
	var out T
	err := stmt.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *repo) FindTeam(ctx context.Context, db *gorm.DB, identifier string, forUpdate bool) (*domain.Team, error) {
	return first[domain.Team](lockable(db.WithContext(ctx), forUpdate).Where("identifier = ?", identifier))
}

func (r *repo) FindBowler(ctx context.Context, db *gorm.DB, identifier string, forUpdate bool) (*domain.Bowler, error) {
	return first[domain.Bowler](lockable(db.WithContext(ctx), forUpdate).Where("identifier = ?", identifier))
}

func (r *repo) FindBowlerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Bowler, error) {
	return first[domain.Bowler](db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindPerson(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Person, error) {
	return first[domain.Person](db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) ListTeamBowlers(ctx context.Context, db *gorm.DB, teamID snowflake.ID) ([]domain.Bowler, error) {
	var bowlers []domain.Bowler
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("team_id = ?", teamID).
		Order("position, id").
		Find(&bowlers).Error
	return bowlers, err
}

func (r *repo) SetPartner(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID, partnerID *snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bowlers SET doubles_partner_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		partnerID,
		bowlerID,
	).Error
}

// ClearPartnerReferences drops every link pointing at or from the bowler.
func (r *repo) ClearPartnerReferences(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bowlers SET doubles_partner_id = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE doubles_partner_id = ? OR id = ?`,
		bowlerID,
		bowlerID,
	).Error
}

func (r *repo) MoveBowler(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID, teamID snowflake.ID, position int) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bowlers SET team_id = ?, position = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		teamID,
		position,
		bowlerID,
	).Error
}

func (r *repo) DeleteBowler(ctx context.Context, db *gorm.DB, bowler *domain.Bowler) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM bowlers WHERE id = ?`, bowler.ID).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM people WHERE id = ?`, bowler.PersonID).Error
}

func (r *repo) InsertFreeEntry(ctx context.Context, db *gorm.DB, entry *domain.FreeEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindFreeEntry(ctx context.Context, db *gorm.DB, code string, forUpdate bool) (*domain.FreeEntry, error) {
	return first[domain.FreeEntry](lockable(db.WithContext(ctx), forUpdate).Where("unique_code = ?", code))
}

func (r *repo) LinkFreeEntry(ctx context.Context, db *gorm.DB, id snowflake.ID, bowlerID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE free_entries SET bowler_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		bowlerID,
		id,
	).Error
}

func (r *repo) UnlinkFreeEntries(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE free_entries SET bowler_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE bowler_id = ?`,
		bowlerID,
	).Error
}

func (r *repo) MarkFreeEntryConfirmed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE free_entries SET confirmed_at = ?, updated_at = ? WHERE id = ? AND confirmed_at IS NULL`,
		at,
		at,
		id,
	).Error
}
