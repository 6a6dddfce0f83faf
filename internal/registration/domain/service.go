package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PersonInput struct {
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Nickname   string     `json:"nickname"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Address1   string     `json:"address1"`
	Address2   string     `json:"address2"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	Country    string     `json:"country"`
	PostalCode string     `json:"postal_code"`
	BirthDate  *time.Time `json:"birth_date"`
}

type RegisterBowlerRequest struct {
	Person                   PersonInput
	TeamIdentifier           string
	Position                 int
	DoublesPartnerIdentifier string
}

type TeamMemberInput struct {
	Person            PersonInput
	Position          int
	DoublesPartnerNum int
}

type RegisterTeamRequest struct {
	Name    string
	Members []TeamMemberInput
}

type TeamRegistration struct {
	Team    *Team
	Bowlers []*Bowler
}

type Service interface {
	RegisterBowler(ctx context.Context, tournamentIdentifier string, req RegisterBowlerRequest) (*Bowler, error)
	RegisterTeam(ctx context.Context, tournamentIdentifier string, req RegisterTeamRequest) (*TeamRegistration, error)
	RegisterPair(ctx context.Context, tournamentIdentifier string, pair [2]PersonInput) ([2]*Bowler, error)
	ReassignBowler(ctx context.Context, bowlerIdentifier string, teamIdentifier string) (bool, error)
	DestroyBowler(ctx context.Context, bowlerIdentifier string) error

	CreateFreeEntry(ctx context.Context, tournamentIdentifier string, code string) (*FreeEntry, error)
	LinkFreeEntry(ctx context.Context, code string, bowlerIdentifier string) (*FreeEntry, error)
	ConfirmFreeEntry(ctx context.Context, code string) (*FreeEntry, error)

	GetBowler(ctx context.Context, identifier string) (*Bowler, error)
	GetTeam(ctx context.Context, identifier string) (*Team, []Bowler, error)
}

type Repository interface {
	InsertPerson(ctx context.Context, db *gorm.DB, person *Person) error
	InsertTeam(ctx context.Context, db *gorm.DB, team *Team) error
	InsertBowler(ctx context.Context, db *gorm.DB, bowler *Bowler) error

	FindTeam(ctx context.Context, db *gorm.DB, identifier string, forUpdate bool) (*Team, error)
	FindBowler(ctx context.Context, db *gorm.DB, identifier string, forUpdate bool) (*Bowler, error)
	FindBowlerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Bowler, error)
	FindPerson(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Person, error)
	ListTeamBowlers(ctx context.Context, db *gorm.DB, teamID snowflake.ID) ([]Bowler, error)

	SetPartner(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID, partnerID *snowflake.ID) error
	ClearPartnerReferences(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error
	MoveBowler(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID, teamID snowflake.ID, position int) error
	DeleteBowler(ctx context.Context, db *gorm.DB, bowler *Bowler) error

	InsertFreeEntry(ctx context.Context, db *gorm.DB, entry *FreeEntry) error
	FindFreeEntry(ctx context.Context, db *gorm.DB, code string, forUpdate bool) (*FreeEntry, error)
	LinkFreeEntry(ctx context.Context, db *gorm.DB, id snowflake.ID, bowlerID snowflake.ID) error
	UnlinkFreeEntries(ctx context.Context, db *gorm.DB, bowlerID snowflake.ID) error
	MarkFreeEntryConfirmed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

var (
	ErrRegistrationClosed = errors.New("registration_closed")
	ErrInvalidPerson      = errors.New("invalid_person")
	ErrInvalidTeam        = errors.New("invalid_team")
	ErrTeamFull           = errors.New("team_full")
	ErrTeamNotFound       = errors.New("team_not_found")
	ErrPositionTaken      = errors.New("team_position_taken")
	ErrBowlerNotFound     = errors.New("bowler_not_found")
	ErrFreeEntryNotFound  = errors.New("free_entry_not_found")
	ErrFreeEntryLinked    = errors.New("free_entry_already_linked")
	ErrFreeEntryUnlinked  = errors.New("free_entry_not_linked")
	ErrAlreadyConfirmed   = errors.New("free_entry_already_confirmed")
	ErrInvalidCode        = errors.New("invalid_free_entry_code")
	ErrNoEntryFee         = errors.New("entry_fee_not_configured")
)
