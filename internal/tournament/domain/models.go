package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// State is the tournament lifecycle state.
type State string

const (
	StateSetup   State = "setup"
	StateTesting State = "testing"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// Locked reports whether configuration and catalog changes are frozen.
func (s State) Locked() bool {
	return s == StateActive || s == StateClosed
}

// AcceptsRegistrations reports whether bowlers may register.
func (s State) AcceptsRegistrations() bool {
	return s == StateActive || s == StateTesting
}

type ValueType string

const (
	ValueString  ValueType = "string"
	ValueBoolean ValueType = "boolean"
	ValueInteger ValueType = "integer"
	ValueTime    ValueType = "time"
)

const (
	KeyTeamSize            = "team_size"
	KeyRegistrationOpensAt = "registration_opens_at"
	KeyRegistrationPeriod  = "registration_period"
	KeyDisplayCapacity     = "display_capacity"
	KeyPubliclyListed      = "publicly_listed"
	KeyAcceptPayments      = "accept_payments"
)

// Testing period values for KeyRegistrationPeriod.
const (
	PeriodEarly   = "early"
	PeriodRegular = "regular"
	PeriodLate    = "late"
)

const DefaultTeamSize = 4

// KnownKeys maps each supported config key to its value type.
var KnownKeys = map[string]ValueType{
	KeyTeamSize:            ValueInteger,
	KeyRegistrationOpensAt: ValueTime,
	KeyRegistrationPeriod:  ValueString,
	KeyDisplayCapacity:     ValueBoolean,
	KeyPubliclyListed:      ValueBoolean,
	KeyAcceptPayments:      ValueBoolean,
}

// MutableWhenLocked lists keys that may change after a tournament opens.
var MutableWhenLocked = map[string]bool{
	KeyDisplayCapacity: true,
	KeyPubliclyListed:  true,
	KeyAcceptPayments:  true,
}

type Tournament struct {
	ID          snowflake.ID `json:"-" gorm:"primaryKey"`
	Identifier  string       `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	Slug        string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	State       State        `json:"state" gorm:"type:text;not null"`
	Timezone    string       `json:"timezone" gorm:"type:text;not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
	ConfigItems []ConfigItem `json:"config_items,omitempty" gorm:"foreignKey:TournamentID"`
}

func (Tournament) TableName() string { return "tournaments" }

type ConfigItem struct {
	ID           snowflake.ID `json:"-" gorm:"primaryKey"`
	TournamentID snowflake.ID `json:"-" gorm:"not null;uniqueIndex:ux_tournament_config_key,priority:1"`
	Key          string       `json:"key" gorm:"type:text;not null;uniqueIndex:ux_tournament_config_key,priority:2"`
	ValueType    ValueType    `json:"value_type" gorm:"type:text;not null"`
	Value        string       `json:"value" gorm:"type:text;not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (ConfigItem) TableName() string { return "tournament_config_items" }

func (t *Tournament) configValue(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	for _, item := range t.ConfigItems {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// TeamSize is the team capacity, defaulting to DefaultTeamSize.
func (t *Tournament) TeamSize() int {
	raw, ok := t.configValue(KeyTeamSize)
	if !ok {
		return DefaultTeamSize
	}
	size, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || size <= 0 {
		return DefaultTeamSize
	}
	return size
}

func (t *Tournament) RegistrationOpensAt() *time.Time {
	raw, ok := t.configValue(KeyRegistrationOpensAt)
	if !ok {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &parsed
}

// TestingPeriod is only meaningful while the tournament is in testing.
func (t *Tournament) TestingPeriod() string {
	raw, ok := t.configValue(KeyRegistrationPeriod)
	if !ok {
		return PeriodRegular
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func (t *Tournament) Bool(key string) bool {
	raw, ok := t.configValue(key)
	if !ok {
		return false
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}
