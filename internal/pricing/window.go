// Package pricing decides what a bowler owes right now. Everything here is a
// pure function of its inputs.
package pricing

import (
	"time"

	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
)

// Window is the slice of tournament state that eligibility depends on.
type Window struct {
	State               tournamentdomain.State
	TestingPeriod       string
	RegistrationOpensAt *time.Time
	Now                 time.Time
	Grace               time.Duration
}

// WindowFor builds a window from a tournament, resolving now in its timezone.
func WindowFor(t *tournamentdomain.Tournament, now time.Time, grace time.Duration) Window {
	return Window{
		State:               t.State,
		TestingPeriod:       t.TestingPeriod(),
		RegistrationOpensAt: t.RegistrationOpensAt(),
		Now:                 clock.InZone(now, t.Timezone, "UTC"),
		Grace:               grace,
	}
}

// EarlyDiscountApplies evaluates the early registration window for item.
func EarlyDiscountApplies(w Window, item catalogdomain.Item) bool {
	switch w.State {
	case tournamentdomain.StateTesting:
		return w.TestingPeriod == tournamentdomain.PeriodEarly
	case tournamentdomain.StateActive:
		validUntil := item.ValidUntil()
		if validUntil == nil {
			return false
		}
		if w.RegistrationOpensAt != nil && w.Now.Before(*w.RegistrationOpensAt) {
			return false
		}
		return !w.Now.After(validUntil.Add(w.Grace))
	case tournamentdomain.StateSetup, tournamentdomain.StateClosed:
		return false
	}
	return false
}

// LateFeeApplies evaluates the late registration window for item.
func LateFeeApplies(w Window, item catalogdomain.Item) bool {
	if w.State == tournamentdomain.StateTesting {
		return w.TestingPeriod == tournamentdomain.PeriodLate
	}
	appliesAt := item.AppliesAt()
	if appliesAt == nil {
		return false
	}
	return !w.Now.Before(*appliesAt)
}

// RequiredItemsAtRegistration returns the entry fee plus whichever of the
// early discount and late fee are in effect. The two windows are evaluated
// independently, so an overlapping configuration yields both.
func RequiredItemsAtRegistration(w Window, items []catalogdomain.Item) []catalogdomain.Item {
	var entryFee, earlyDiscount, lateFee *catalogdomain.Item
	for i := range items {
		item := items[i]
		if !item.Enabled || item.Category != catalogdomain.CategoryLedger || item.IsEventLinked() {
			continue
		}
		switch item.Determination {
		case catalogdomain.DeterminationEntryFee:
			if item.Value > 0 {
				entryFee = &items[i]
			}
		case catalogdomain.DeterminationEarlyDiscount:
			if EarlyDiscountApplies(w, item) {
				earlyDiscount = &items[i]
			}
		case catalogdomain.DeterminationLateFee:
			if LateFeeApplies(w, item) {
				lateFee = &items[i]
			}
		}
	}

	required := make([]catalogdomain.Item, 0, 3)
	for _, item := range []*catalogdomain.Item{entryFee, earlyDiscount, lateFee} {
		if item != nil {
			required = append(required, *item)
		}
	}
	return required
}
