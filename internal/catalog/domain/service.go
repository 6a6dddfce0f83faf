package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name           string
	Category       Category
	Determination  Determination
	Refinement     Refinement
	Value          int64
	Configuration  map[string]any
	UserSelectable bool
	Enabled        *bool
}

type Service interface {
	Create(ctx context.Context, tournamentIdentifier string, req CreateRequest) (*Item, error)
	UpdateValue(ctx context.Context, itemIdentifier string, value int64) (*Item, error)
	List(ctx context.Context, tournamentIdentifier string) ([]Item, error)
	ListByTournamentID(ctx context.Context, tournamentID snowflake.ID) ([]Item, error)
	FindByIdentifiers(ctx context.Context, tournamentID snowflake.ID, identifiers []string) ([]Item, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Item) error
	FindByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*Item, error)
	ListByTournament(ctx context.Context, db *gorm.DB, tournamentID snowflake.ID) ([]Item, error)
	FindByIdentifiers(ctx context.Context, db *gorm.DB, tournamentID snowflake.ID, identifiers []string) ([]Item, error)
	UpdateValue(ctx context.Context, db *gorm.DB, id snowflake.ID, value int64) error
}

var (
	ErrNotFound         = errors.New("purchasable_item_not_found")
	ErrTournamentLocked = tournamentdomain.ErrLocked
)
