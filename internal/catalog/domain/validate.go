package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrValidation = errors.New("invalid_purchasable_item")

// ValidationError names the offending field and the broken rule.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, rule string) error {
	return &ValidationError{Field: field, Rule: rule}
}

// Validate checks an item against the tournament's existing catalog.
func Validate(item Item, existing []Item) error {
	if strings.TrimSpace(item.Name) == "" {
		return invalid("name", "required")
	}
	if !item.Category.Valid() {
		return invalid("category", "unknown")
	}
	if !item.Determination.Valid() {
		return invalid("determination", "unknown")
	}
	if !item.Refinement.Valid() {
		return invalid("refinement", "unknown")
	}

	switch item.Determination {
	case DeterminationLateFee:
		if item.AppliesAt() == nil {
			return invalid(ConfAppliesAt, "required")
		}
	case DeterminationEarlyDiscount:
		if item.ValidUntil() == nil {
			return invalid(ConfValidUntil, "required")
		}
	case DeterminationBundleDiscount:
		if len(item.BundleEvents()) < 2 {
			return invalid(ConfEvents, "at_least_two")
		}
	}

	switch item.Refinement {
	case RefinementDivision:
		if item.ConfString(ConfDivision) == "" {
			return invalid(ConfDivision, "required")
		}
	case RefinementDenomination:
		if item.ConfString(ConfDenomination) == "" {
			return invalid(ConfDenomination, "required")
		}
	case RefinementEventLinked:
		if item.LinkedEvent() == "" {
			return invalid(ConfEvent, "required")
		}
	}

	if item.Category != CategoryLedger {
		return nil
	}
	for _, other := range existing {
		if other.ID == item.ID || other.Category != CategoryLedger || other.Determination != item.Determination {
			continue
		}
		if !item.IsEventLinked() {
			if !other.IsEventLinked() {
				return invalid("determination", "duplicate")
			}
			continue
		}
		if other.IsEventLinked() && other.LinkedEvent() == item.LinkedEvent() {
			return invalid(ConfEvent, "duplicate")
		}
	}
	return nil
}
