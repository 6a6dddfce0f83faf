package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
)

var (
	ErrMismatchedPurchaseCount   = errors.New("mismatched_purchase_count")
	ErrUnknownItem               = errors.New("unknown_item")
	ErrAlreadyPurchasedSingleUse = errors.New("already_purchased_single_use")
	ErrMultipleOneTimeItem       = errors.New("multiple_one_time_item")
	ErrZeroTotal                 = errors.New("zero_total")
)

// BasketError carries the failing rule and the identifier that broke it.
type BasketError struct {
	Code       error
	Identifier string
}

func (e *BasketError) Error() string {
	if e.Identifier == "" {
		return e.Code.Error()
	}
	return fmt.Sprintf("%s: %s", e.Code.Error(), e.Identifier)
}

func (e *BasketError) Unwrap() error { return e.Code }

type ItemQuantity struct {
	Identifier string
	Quantity   int
}

type BasketInput struct {
	Window Window
	// Catalog is the tournament's full catalog.
	Catalog []catalogdomain.Item
	// Purchases are the bowler's non-voided purchases.
	Purchases           []ledgerdomain.Purchase
	PurchaseIdentifiers []string
	Items               []ItemQuantity
}

type ResolvedItem struct {
	Item     catalogdomain.Item
	Quantity int
}

type Basket struct {
	Items               []ResolvedItem
	Purchases           []ledgerdomain.Purchase
	ApplicableDiscounts []catalogdomain.Item
	ApplicableFees      []catalogdomain.Item
	TotalToCharge       int64
}

// ValidatePurchaseBasket resolves a checkout request against the catalog and
// what the bowler already holds, and prices it.
func ValidatePurchaseBasket(in BasketInput) (*Basket, error) {
	byID := make(map[snowflake.ID]catalogdomain.Item, len(in.Catalog))
	byIdentifier := make(map[string]catalogdomain.Item, len(in.Catalog))
	for _, item := range in.Catalog {
		byID[item.ID] = item
		byIdentifier[item.Identifier] = item
	}

	held := make(map[snowflake.ID]bool)
	paid := make(map[snowflake.ID]bool)
	unpaid := make(map[string]ledgerdomain.Purchase)
	for _, purchase := range in.Purchases {
		switch purchase.Status {
		case ledgerdomain.PurchaseStatusPaid:
			held[purchase.PurchasableItemID] = true
			paid[purchase.PurchasableItemID] = true
		case ledgerdomain.PurchaseStatusUnpaid:
			held[purchase.PurchasableItemID] = true
			unpaid[purchase.Identifier] = purchase
		case ledgerdomain.PurchaseStatusVoided:
		}
	}

	basket := &Basket{}

	seenPurchases := make(map[string]bool)
	for _, identifier := range in.PurchaseIdentifiers {
		identifier = strings.TrimSpace(identifier)
		if seenPurchases[identifier] {
			continue
		}
		seenPurchases[identifier] = true
		purchase, ok := unpaid[identifier]
		if !ok {
			return nil, &BasketError{Code: ErrMismatchedPurchaseCount, Identifier: identifier}
		}
		basket.Purchases = append(basket.Purchases, purchase)
	}

	quantities := make(map[string]int)
	var order []string
	for _, requested := range in.Items {
		identifier := strings.TrimSpace(requested.Identifier)
		item, ok := byIdentifier[identifier]
		if !ok || !item.Enabled {
			return nil, &BasketError{Code: ErrUnknownItem, Identifier: identifier}
		}
		qty := requested.Quantity
		if qty <= 0 {
			qty = 1
		}
		if _, seen := quantities[identifier]; !seen {
			order = append(order, identifier)
		}
		quantities[identifier] += qty
	}

	requestedEvents := make(map[string]bool)
	for _, identifier := range order {
		item := byIdentifier[identifier]
		qty := quantities[identifier]
		if item.Determination.OneTime() {
			if qty > 1 {
				return nil, &BasketError{Code: ErrMultipleOneTimeItem, Identifier: identifier}
			}
			if paid[item.ID] {
				return nil, &BasketError{Code: ErrAlreadyPurchasedSingleUse, Identifier: identifier}
			}
		}
		if item.Determination == catalogdomain.DeterminationEvent {
			requestedEvents[identifier] = true
		}
		basket.Items = append(basket.Items, ResolvedItem{Item: item, Quantity: qty})
	}

	paidEvents := make(map[string]bool)
	for id := range paid {
		if item, ok := byID[id]; ok && item.Determination == catalogdomain.DeterminationEvent {
			paidEvents[item.Identifier] = true
		}
	}

	entryFeeMatched := false
	for _, purchase := range basket.Purchases {
		if item, ok := byID[purchase.PurchasableItemID]; ok && item.Determination == catalogdomain.DeterminationEntryFee {
			entryFeeMatched = true
		}
	}

	// An early discount recorded at registration rides along with the entry
	// fee it reduces, whether or not the caller listed it.
	if entryFeeMatched {
		for _, purchase := range in.Purchases {
			if purchase.Status != ledgerdomain.PurchaseStatusUnpaid || seenPurchases[purchase.Identifier] {
				continue
			}
			item, ok := byID[purchase.PurchasableItemID]
			if !ok || item.Determination != catalogdomain.DeterminationEarlyDiscount || item.IsEventLinked() {
				continue
			}
			seenPurchases[purchase.Identifier] = true
			basket.Purchases = append(basket.Purchases, purchase)
		}
	}

	for _, item := range in.Catalog {
		if !item.Enabled || held[item.ID] {
			continue
		}
		switch item.Determination {
		case catalogdomain.DeterminationEarlyDiscount:
			if entryFeeMatched && !item.IsEventLinked() && EarlyDiscountApplies(in.Window, item) {
				basket.ApplicableDiscounts = append(basket.ApplicableDiscounts, item)
			}
		case catalogdomain.DeterminationBundleDiscount:
			if bundleUnlocked(item.BundleEvents(), requestedEvents, paidEvents) {
				basket.ApplicableDiscounts = append(basket.ApplicableDiscounts, item)
			}
		case catalogdomain.DeterminationLateFee:
			if item.IsEventLinked() && requestedEvents[item.LinkedEvent()] && LateFeeApplies(in.Window, item) {
				basket.ApplicableFees = append(basket.ApplicableFees, item)
			}
		}
	}

	var total int64
	for _, purchase := range basket.Purchases {
		total += purchase.Amount
	}
	for _, resolved := range basket.Items {
		total += resolved.Item.Value * int64(resolved.Quantity)
	}
	for _, item := range basket.ApplicableDiscounts {
		total += item.Value
	}
	for _, item := range basket.ApplicableFees {
		total += item.Value
	}
	if total <= 0 {
		return nil, &BasketError{Code: ErrZeroTotal}
	}
	basket.TotalToCharge = total
	return basket, nil
}

// bundleUnlocked requires every bundled event to be requested or already
// paid, with at least one of them newly requested.
func bundleUnlocked(events []string, requested, paid map[string]bool) bool {
	if len(events) < 2 {
		return false
	}
	newlyRequested := false
	for _, event := range events {
		switch {
		case requested[event]:
			newlyRequested = true
		case paid[event]:
		default:
			return false
		}
	}
	return newlyRequested
}
