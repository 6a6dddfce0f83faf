package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Category string

const (
	CategoryBowling Category = "bowling"
	CategoryLedger  Category = "ledger"
	CategoryBanquet Category = "banquet"
	CategoryProduct Category = "product"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBowling, CategoryLedger, CategoryBanquet, CategoryProduct:
		return true
	}
	return false
}

type Determination string

const (
	DeterminationEntryFee           Determination = "entry_fee"
	DeterminationLateFee            Determination = "late_fee"
	DeterminationEarlyDiscount      Determination = "early_discount"
	DeterminationSingleUse          Determination = "single_use"
	DeterminationMultiUse           Determination = "multi_use"
	DeterminationEvent              Determination = "event"
	DeterminationBundleDiscount     Determination = "bundle_discount"
	DeterminationDiscountExpiration Determination = "discount_expiration"
)

func (d Determination) Valid() bool {
	switch d {
	case DeterminationEntryFee, DeterminationLateFee, DeterminationEarlyDiscount,
		DeterminationSingleUse, DeterminationMultiUse, DeterminationEvent,
		DeterminationBundleDiscount, DeterminationDiscountExpiration:
		return true
	}
	return false
}

// OneTime reports whether a bowler may hold at most one of the item.
func (d Determination) OneTime() bool {
	switch d {
	case DeterminationSingleUse, DeterminationEvent, DeterminationEntryFee,
		DeterminationLateFee, DeterminationEarlyDiscount, DeterminationBundleDiscount,
		DeterminationDiscountExpiration:
		return true
	case DeterminationMultiUse:
		return false
	}
	return true
}

type Refinement string

const (
	RefinementNone         Refinement = "none"
	RefinementInput        Refinement = "input"
	RefinementDivision     Refinement = "division"
	RefinementDenomination Refinement = "denomination"
	RefinementEventLinked  Refinement = "event_linked"
	RefinementSingles      Refinement = "singles"
	RefinementDoubles      Refinement = "doubles"
	RefinementTeam         Refinement = "team"
	RefinementTrios        Refinement = "trios"
)

func (r Refinement) Valid() bool {
	switch r {
	case RefinementNone, RefinementInput, RefinementDivision, RefinementDenomination,
		RefinementEventLinked, RefinementSingles, RefinementDoubles, RefinementTeam, RefinementTrios:
		return true
	}
	return false
}

// Configuration keys stored on an item.
const (
	ConfAppliesAt    = "applies_at"
	ConfValidUntil   = "valid_until"
	ConfDivision     = "division"
	ConfDenomination = "denomination"
	ConfEvent        = "event"
	ConfEvents       = "events"
	ConfOrder        = "order"
)

type Item struct {
	ID             snowflake.ID      `json:"-" gorm:"primaryKey"`
	TournamentID   snowflake.ID      `json:"-" gorm:"not null;index"`
	Identifier     string            `json:"identifier" gorm:"type:text;not null;uniqueIndex"`
	Name           string            `json:"name" gorm:"type:text;not null"`
	Category       Category          `json:"category" gorm:"type:text;not null"`
	Determination  Determination     `json:"determination" gorm:"type:text;not null"`
	Refinement     Refinement        `json:"refinement" gorm:"type:text;not null"`
	Value          int64             `json:"value" gorm:"not null"`
	Configuration  datatypes.JSONMap `json:"configuration,omitempty"`
	UserSelectable bool              `json:"user_selectable" gorm:"not null"`
	Enabled        bool              `json:"enabled" gorm:"not null"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null"`
}

func (Item) TableName() string { return "purchasable_items" }

func (i Item) conf(key string) (any, bool) {
	if i.Configuration == nil {
		return nil, false
	}
	v, ok := i.Configuration[key]
	return v, ok && v != nil
}

func (i Item) ConfString(key string) string {
	v, ok := i.conf(key)
	if !ok {
		return ""
	}
	switch cast := v.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		return strconv.FormatFloat(cast, 'f', -1, 64)
	case int:
		return strconv.Itoa(cast)
	case int64:
		return strconv.FormatInt(cast, 10)
	}
	return ""
}

func (i Item) ConfTime(key string) *time.Time {
	raw := i.ConfString(key)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func (i Item) AppliesAt() *time.Time  { return i.ConfTime(ConfAppliesAt) }
func (i Item) ValidUntil() *time.Time { return i.ConfTime(ConfValidUntil) }

// LinkedEvent is the event item identifier an event-linked item refers to.
func (i Item) LinkedEvent() string { return i.ConfString(ConfEvent) }

// BundleEvents lists the event item identifiers a bundle discount requires.
func (i Item) BundleEvents() []string {
	v, ok := i.conf(ConfEvents)
	if !ok {
		return nil
	}
	var out []string
	switch cast := v.(type) {
	case []any:
		for _, raw := range cast {
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range cast {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func (i Item) IsEventLinked() bool { return i.Refinement == RefinementEventLinked }

func (i Item) IsDiscount() bool { return i.Value < 0 }
