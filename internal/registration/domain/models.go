package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Person struct {
	ID         snowflake.ID `json:"-" gorm:"primaryKey"`
	FirstName  string       `json:"first_name" gorm:"type:text;not null"`
	LastName   string       `json:"last_name" gorm:"type:text;not null"`
	Nickname   string       `json:"nickname,omitempty" gorm:"type:text"`
	Email      string       `json:"email" gorm:"type:text;not null;index"`
	Phone      string       `json:"phone,omitempty" gorm:"type:text"`
	Address1   string       `json:"address1,omitempty" gorm:"type:text"`
	Address2   string       `json:"address2,omitempty" gorm:"type:text"`
	City       string       `json:"city,omitempty" gorm:"type:text"`
	State      string       `json:"state,omitempty" gorm:"type:text"`
	Country    string       `json:"country,omitempty" gorm:"type:text"`
	PostalCode string       `json:"postal_code,omitempty" gorm:"type:text"`
	BirthDate  *time.Time   `json:"birth_date,omitempty"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null"`
}

func (Person) TableName() string { return "people" }

// DisplayName prefers the nickname over the first name.
func (p Person) DisplayName() string {
	first := p.FirstName
	if p.Nickname != "" {
		first = p.Nickname
	}
	return first + " " + p.LastName
}

type Team struct {
	ID           snowflake.ID `json:"-" gorm:"primaryKey"`
	TournamentID snowflake.ID `json:"-" gorm:"not null;index"`
	Identifier   string       `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (Team) TableName() string { return "teams" }

// Bowler belongs to at most one team. DoublesPartnerID is kept symmetric by
// the registration service; nothing else writes it.
type Bowler struct {
	ID               snowflake.ID  `json:"-" gorm:"primaryKey"`
	TournamentID     snowflake.ID  `json:"-" gorm:"not null;index"`
	TeamID           *snowflake.ID `json:"-" gorm:"index"`
	PersonID         snowflake.ID  `json:"-" gorm:"not null;index"`
	Identifier       string        `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	Position         int           `json:"position,omitempty" gorm:"not null;default:0"`
	DoublesPartnerID *snowflake.ID `json:"-" gorm:"index"`
	CreatedAt        time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time     `json:"updated_at" gorm:"not null"`

	Person *Person `json:"person,omitempty" gorm:"-"`
	// DoublesPartnerNum is the requested partner position during team registration.
	DoublesPartnerNum int `json:"-" gorm:"-"`
}

func (Bowler) TableName() string { return "bowlers" }

type FreeEntry struct {
	ID           snowflake.ID  `json:"-" gorm:"primaryKey"`
	TournamentID snowflake.ID  `json:"-" gorm:"not null;index"`
	UniqueCode   string        `json:"unique_code" gorm:"type:text;not null;uniqueIndex"`
	BowlerID     *snowflake.ID `json:"-" gorm:"index"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time     `json:"updated_at" gorm:"not null"`
}

func (FreeEntry) TableName() string { return "free_entries" }
