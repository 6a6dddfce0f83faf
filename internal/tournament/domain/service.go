package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateTournamentRequest struct {
	Name     string
	Timezone string
	TeamSize int
}

type Service interface {
	Create(ctx context.Context, req CreateTournamentRequest) (*Tournament, error)
	Get(ctx context.Context, identifier string) (*Tournament, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Tournament, error)
	Transition(ctx context.Context, identifier string, event Event) (*Tournament, error)
	SetConfig(ctx context.Context, identifier string, key string, value string) (*Tournament, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tournament *Tournament) error
	FindByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*Tournament, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tournament, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
	UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, from State, to State) (bool, error)
	UpsertConfig(ctx context.Context, db *gorm.DB, item *ConfigItem) error
}

var (
	ErrNotFound          = errors.New("tournament_not_found")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidTimezone   = errors.New("invalid_timezone")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrUnknownConfigKey  = errors.New("unknown_config_key")
	ErrInvalidConfigVal  = errors.New("invalid_config_value")
	ErrLocked            = errors.New("tournament_locked")
	ErrStaleState        = errors.New("tournament_state_changed")
)
