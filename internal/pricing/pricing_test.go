package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	opens      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	validUntil = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	appliesAt  = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

func catalogItem(id int64, det catalogdomain.Determination, value int64, conf map[string]any) catalogdomain.Item {
	category := catalogdomain.CategoryLedger
	if det == catalogdomain.DeterminationEvent || det == catalogdomain.DeterminationSingleUse || det == catalogdomain.DeterminationMultiUse {
		category = catalogdomain.CategoryBowling
	}
	return catalogdomain.Item{
		ID:            snowflake.ID(id),
		Identifier:    "I" + snowflake.ID(id).String(),
		Name:          string(det),
		Category:      category,
		Determination: det,
		Refinement:    catalogdomain.RefinementNone,
		Value:         value,
		Configuration: conf,
		Enabled:       true,
	}
}

func standardCatalog() []catalogdomain.Item {
	return []catalogdomain.Item{
		catalogItem(1, catalogdomain.DeterminationEntryFee, 100, nil),
		catalogItem(2, catalogdomain.DeterminationEarlyDiscount, -10, map[string]any{catalogdomain.ConfValidUntil: validUntil.Format(time.RFC3339)}),
		catalogItem(3, catalogdomain.DeterminationLateFee, 20, map[string]any{catalogdomain.ConfAppliesAt: appliesAt.Format(time.RFC3339)}),
	}
}

func activeAt(now time.Time) Window {
	return Window{State: tournamentdomain.StateActive, RegistrationOpensAt: &opens, Now: now, Grace: 5 * time.Minute}
}

func determinations(items []catalogdomain.Item) []catalogdomain.Determination {
	out := make([]catalogdomain.Determination, 0, len(items))
	for _, item := range items {
		out = append(out, item.Determination)
	}
	return out
}

func TestRequiredItemsAtRegistration(t *testing.T) {
	cases := []struct {
		name   string
		window Window
		want   []catalogdomain.Determination
	}{
		{"early window", activeAt(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)), []catalogdomain.Determination{catalogdomain.DeterminationEntryFee, catalogdomain.DeterminationEarlyDiscount}},
		{"within grace", activeAt(validUntil.Add(4 * time.Minute)), []catalogdomain.Determination{catalogdomain.DeterminationEntryFee, catalogdomain.DeterminationEarlyDiscount}},
		{"after grace", activeAt(validUntil.Add(6 * time.Minute)), []catalogdomain.Determination{catalogdomain.DeterminationEntryFee}},
		{"before opening", activeAt(opens.Add(-time.Hour)), []catalogdomain.Determination{catalogdomain.DeterminationEntryFee}},
		{"late", activeAt(appliesAt), []catalogdomain.Determination{catalogdomain.DeterminationEntryFee, catalogdomain.DeterminationLateFee}},
		{"testing early", Window{State: tournamentdomain.StateTesting, TestingPeriod: tournamentdomain.PeriodEarly, Now: appliesAt.Add(time.Hour)}, []catalogdomain.Determination{catalogdomain.DeterminationEntryFee, catalogdomain.DeterminationEarlyDiscount}},
		{"testing late", Window{State: tournamentdomain.StateTesting, TestingPeriod: tournamentdomain.PeriodLate, Now: opens}, []catalogdomain.Determination{catalogdomain.DeterminationEntryFee, catalogdomain.DeterminationLateFee}},
		{"testing regular", Window{State: tournamentdomain.StateTesting, TestingPeriod: tournamentdomain.PeriodRegular, Now: appliesAt.Add(time.Hour)}, []catalogdomain.Determination{catalogdomain.DeterminationEntryFee}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RequiredItemsAtRegistration(tc.window, standardCatalog())
			assert.Equal(t, tc.want, determinations(got))
		})
	}
}

func TestOverlappingWindowsBothApply(t *testing.T) {
	items := standardCatalog()
	items[2].Configuration = map[string]any{catalogdomain.ConfAppliesAt: opens.Format(time.RFC3339)}

	got := RequiredItemsAtRegistration(activeAt(opens.Add(24*time.Hour)), items)
	assert.Equal(t, []catalogdomain.Determination{
		catalogdomain.DeterminationEntryFee,
		catalogdomain.DeterminationEarlyDiscount,
		catalogdomain.DeterminationLateFee,
	}, determinations(got))
}

func TestFreeEntryFeeIsNotRequired(t *testing.T) {
	items := standardCatalog()
	items[0].Value = 0
	got := RequiredItemsAtRegistration(activeAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), items)
	assert.Empty(t, got)
}

func purchase(id int64, itemID int64, amount int64, status ledgerdomain.PurchaseStatus) ledgerdomain.Purchase {
	return ledgerdomain.Purchase{
		ID:                snowflake.ID(id),
		PurchasableItemID: snowflake.ID(itemID),
		Identifier:        "P" + snowflake.ID(id).String(),
		Amount:            amount,
		Status:            status,
	}
}

func basketCode(t *testing.T, err error) error {
	t.Helper()
	var berr *BasketError
	require.True(t, errors.As(err, &berr), "expected BasketError, got %v", err)
	return berr.Code
}

func TestValidatePurchaseBasketErrors(t *testing.T) {
	shirt := catalogItem(10, catalogdomain.DeterminationSingleUse, 2500, nil)
	raffle := catalogItem(11, catalogdomain.DeterminationMultiUse, 500, nil)
	items := append(standardCatalog(), shirt, raffle)
	window := activeAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	_, err := ValidatePurchaseBasket(BasketInput{Window: window, Catalog: items, PurchaseIdentifiers: []string{"P99"}})
	assert.ErrorIs(t, basketCode(t, err), ErrMismatchedPurchaseCount)

	paidFee := purchase(1, 1, 100, ledgerdomain.PurchaseStatusPaid)
	_, err = ValidatePurchaseBasket(BasketInput{Window: window, Catalog: items, Purchases: []ledgerdomain.Purchase{paidFee}, PurchaseIdentifiers: []string{paidFee.Identifier}})
	assert.ErrorIs(t, err, ErrMismatchedPurchaseCount)

	_, err = ValidatePurchaseBasket(BasketInput{Window: window, Catalog: items, Items: []ItemQuantity{{Identifier: "nope"}}})
	var berr *BasketError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, ErrUnknownItem, berr.Code)
	assert.Equal(t, "nope", berr.Identifier)

	_, err = ValidatePurchaseBasket(BasketInput{Window: window, Catalog: items, Items: []ItemQuantity{{Identifier: shirt.Identifier, Quantity: 2}}})
	assert.ErrorIs(t, err, ErrMultipleOneTimeItem)

	_, err = ValidatePurchaseBasket(BasketInput{
		Window:    window,
		Catalog:   items,
		Purchases: []ledgerdomain.Purchase{purchase(2, 10, 2500, ledgerdomain.PurchaseStatusPaid)},
		Items:     []ItemQuantity{{Identifier: shirt.Identifier}},
	})
	assert.ErrorIs(t, err, ErrAlreadyPurchasedSingleUse)

	basket, err := ValidatePurchaseBasket(BasketInput{Window: window, Catalog: items, Items: []ItemQuantity{{Identifier: raffle.Identifier, Quantity: 3}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), basket.TotalToCharge)
}

func TestValidatePurchaseBasketRejectsZeroTotal(t *testing.T) {
	free := catalogItem(12, catalogdomain.DeterminationSingleUse, 0, nil)
	items := append(standardCatalog(), free)
	_, err := ValidatePurchaseBasket(BasketInput{
		Window:  activeAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Catalog: items,
		Items:   []ItemQuantity{{Identifier: free.Identifier}},
	})
	assert.ErrorIs(t, err, ErrZeroTotal)

	_, err = ValidatePurchaseBasket(BasketInput{Window: activeAt(opens), Catalog: items})
	assert.ErrorIs(t, err, ErrZeroTotal)
}

func TestEarlyDiscountAppliesWhenEntryFeeMatched(t *testing.T) {
	items := standardCatalog()
	fee := purchase(1, 1, 100, ledgerdomain.PurchaseStatusUnpaid)

	basket, err := ValidatePurchaseBasket(BasketInput{
		Window:              activeAt(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
		Catalog:             items,
		Purchases:           []ledgerdomain.Purchase{fee},
		PurchaseIdentifiers: []string{fee.Identifier},
	})
	require.NoError(t, err)
	require.Len(t, basket.ApplicableDiscounts, 1)
	assert.Equal(t, catalogdomain.DeterminationEarlyDiscount, basket.ApplicableDiscounts[0].Determination)
	assert.Equal(t, int64(90), basket.TotalToCharge)

	// Already holding the discount means it is not applied again.
	held := purchase(2, 2, -10, ledgerdomain.PurchaseStatusUnpaid)
	basket, err = ValidatePurchaseBasket(BasketInput{
		Window:              activeAt(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
		Catalog:             items,
		Purchases:           []ledgerdomain.Purchase{fee, held},
		PurchaseIdentifiers: []string{fee.Identifier, held.Identifier},
	})
	require.NoError(t, err)
	assert.Empty(t, basket.ApplicableDiscounts)
	assert.Equal(t, int64(90), basket.TotalToCharge)
}

func TestHeldEarlyDiscountJoinsEntryFee(t *testing.T) {
	items := standardCatalog()
	fee := purchase(1, 1, 100, ledgerdomain.PurchaseStatusUnpaid)
	held := purchase(2, 2, -10, ledgerdomain.PurchaseStatusUnpaid)

	for _, now := range []time.Time{
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	} {
		basket, err := ValidatePurchaseBasket(BasketInput{
			Window:              activeAt(now),
			Catalog:             items,
			Purchases:           []ledgerdomain.Purchase{fee, held},
			PurchaseIdentifiers: []string{fee.Identifier},
		})
		require.NoError(t, err)
		require.Len(t, basket.Purchases, 2, "at %s", now)
		assert.Equal(t, held.Identifier, basket.Purchases[1].Identifier)
		assert.Empty(t, basket.ApplicableDiscounts)
		assert.Equal(t, int64(90), basket.TotalToCharge)
	}

	// Without the entry fee the discount stays put.
	shirt := catalogItem(10, catalogdomain.DeterminationSingleUse, 2500, nil)
	basket, err := ValidatePurchaseBasket(BasketInput{
		Window:    activeAt(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
		Catalog:   append(items, shirt),
		Purchases: []ledgerdomain.Purchase{fee, held},
		Items:     []ItemQuantity{{Identifier: shirt.Identifier}},
	})
	require.NoError(t, err)
	assert.Empty(t, basket.Purchases)
	assert.Equal(t, int64(2500), basket.TotalToCharge)
}

func TestBundleDiscountAndEventLateFee(t *testing.T) {
	e1 := catalogItem(20, catalogdomain.DeterminationEvent, 3000, nil)
	e2 := catalogItem(21, catalogdomain.DeterminationEvent, 3000, nil)
	bundle := catalogItem(22, catalogdomain.DeterminationBundleDiscount, -20, map[string]any{
		catalogdomain.ConfEvents: []any{e1.Identifier, e2.Identifier},
	})
	lateE2 := catalogItem(23, catalogdomain.DeterminationLateFee, 500, map[string]any{
		catalogdomain.ConfAppliesAt: appliesAt.Format(time.RFC3339),
		catalogdomain.ConfEvent:     e2.Identifier,
	})
	lateE2.Refinement = catalogdomain.RefinementEventLinked
	items := []catalogdomain.Item{e1, e2, bundle, lateE2}

	basket, err := ValidatePurchaseBasket(BasketInput{
		Window:  activeAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Catalog: items,
		Items:   []ItemQuantity{{Identifier: e1.Identifier}, {Identifier: e2.Identifier}},
	})
	require.NoError(t, err)
	require.Len(t, basket.ApplicableDiscounts, 1)
	assert.Equal(t, bundle.ID, basket.ApplicableDiscounts[0].ID)
	assert.Empty(t, basket.ApplicableFees)
	assert.Equal(t, int64(5980), basket.TotalToCharge)

	// E1 already paid, E2 requested late: bundle unlocks and the E2 late fee applies.
	basket, err = ValidatePurchaseBasket(BasketInput{
		Window:    activeAt(appliesAt.Add(time.Hour)),
		Catalog:   items,
		Purchases: []ledgerdomain.Purchase{purchase(5, 20, 3000, ledgerdomain.PurchaseStatusPaid)},
		Items:     []ItemQuantity{{Identifier: e2.Identifier}},
	})
	require.NoError(t, err)
	require.Len(t, basket.ApplicableDiscounts, 1)
	require.Len(t, basket.ApplicableFees, 1)
	assert.Equal(t, lateE2.ID, basket.ApplicableFees[0].ID)
	assert.Equal(t, int64(3000-20+500), basket.TotalToCharge)

	// Only one of the bundled events requested: no discount.
	basket, err = ValidatePurchaseBasket(BasketInput{
		Window:  activeAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Catalog: items,
		Items:   []ItemQuantity{{Identifier: e1.Identifier}},
	})
	require.NoError(t, err)
	assert.Empty(t, basket.ApplicableDiscounts)
}

func TestWindowForUsesTournamentConfig(t *testing.T) {
	tournament := &tournamentdomain.Tournament{
		State:    tournamentdomain.StateTesting,
		Timezone: "America/Chicago",
		ConfigItems: []tournamentdomain.ConfigItem{
			{Key: tournamentdomain.KeyRegistrationPeriod, Value: "late"},
			{Key: tournamentdomain.KeyRegistrationOpensAt, Value: opens.Format(time.RFC3339)},
		},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := WindowFor(tournament, now, time.Minute)
	assert.Equal(t, tournamentdomain.PeriodLate, w.TestingPeriod)
	require.NotNil(t, w.RegistrationOpensAt)
	assert.True(t, w.Now.Equal(now))
	assert.Equal(t, "America/Chicago", w.Now.Location().String())
}
