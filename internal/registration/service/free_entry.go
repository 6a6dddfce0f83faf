package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	"github.com/smallbiznis/lanes/internal/registration/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) CreateFreeEntry(ctx context.Context, tournamentIdentifier string, code string) (*domain.FreeEntry, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	tournament, err := s.tournamentSvc.Get(ctx, tournamentIdentifier)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	entry := &domain.FreeEntry{
		ID:           s.genID.Generate(),
		TournamentID: tournament.ID,
		UniqueCode:   code,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.InsertFreeEntry(ctx, s.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) LinkFreeEntry(ctx context.Context, code string, bowlerIdentifier string) (*domain.FreeEntry, error) {
	var entry *domain.FreeEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.repo.FindFreeEntry(ctx, tx, normalizeCode(code), true)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrFreeEntryNotFound
		}
		bowler, err := s.repo.FindBowler(ctx, tx, strings.TrimSpace(bowlerIdentifier), false)
		if err != nil {
			return err
		}
		if bowler == nil || bowler.TournamentID != entry.TournamentID {
			return domain.ErrBowlerNotFound
		}
		if entry.BowlerID != nil {
			if *entry.BowlerID == bowler.ID {
				return nil
			}
			return domain.ErrFreeEntryLinked
		}
		if err := s.repo.LinkFreeEntry(ctx, tx, entry.ID, bowler.ID); err != nil {
			return err
		}
		bowlerID := bowler.ID
		entry.BowlerID = &bowlerID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ConfirmFreeEntry settles the linked bowler's entry fee without payment and
// withdraws any unpaid early discount.
func (s *Service) ConfirmFreeEntry(ctx context.Context, code string) (*domain.FreeEntry, error) {
	code = normalizeCode(code)
	now := s.clock.Now()

	found, err := s.repo.FindFreeEntry(ctx, s.db, code, false)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrFreeEntryNotFound
	}
	items, err := s.catalogSvc.ListByTournamentID(ctx, found.TournamentID)
	if err != nil {
		return nil, err
	}
	var entryFeeItem *catalogdomain.Item
	for i := range items {
		if items[i].Category == catalogdomain.CategoryLedger &&
			items[i].Determination == catalogdomain.DeterminationEntryFee &&
			!items[i].IsEventLinked() {
			entryFeeItem = &items[i]
			break
		}
	}

	var entry *domain.FreeEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.repo.FindFreeEntry(ctx, tx, code, true)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrFreeEntryNotFound
		}
		if entry.ConfirmedAt != nil {
			return domain.ErrAlreadyConfirmed
		}
		if entry.BowlerID == nil {
			return domain.ErrFreeEntryUnlinked
		}
		bowlerID := *entry.BowlerID

		ledger := s.ledgerSvc.WithTx(tx)
		if err := ledger.LockBowler(ctx, bowlerID); err != nil {
			return err
		}

		payment, err := ledger.CreateExternalPayment(ctx, ledgerdomain.CreateExternalPaymentRequest{
			PaymentType:        ledgerdomain.PaymentTypeFreeEntry,
			ProviderIdentifier: code,
		})
		if err != nil {
			return err
		}

		fee, err := s.settleEntryFee(ctx, ledger, entryFeeItem, bowlerID, payment.ID)
		if err != nil {
			return err
		}
		if _, _, err := ledger.AddEntry(ctx, ledgerdomain.EntryRequest{
			BowlerID:       bowlerID,
			Credit:         fee.Amount,
			Source:         ledgerdomain.SourceFreeEntry,
			Identifier:     code,
			PurchaseID:     &fee.ID,
			IdempotencyKey: "free_entry:" + code,
		}); err != nil {
			return err
		}

		discounts, err := ledger.ListPurchases(ctx, ledgerdomain.PurchaseFilter{
			BowlerID:       bowlerID,
			Statuses:       []ledgerdomain.PurchaseStatus{ledgerdomain.PurchaseStatusUnpaid},
			Determinations: []catalogdomain.Determination{catalogdomain.DeterminationEarlyDiscount},
		})
		if err != nil {
			return err
		}
		for _, discount := range discounts {
			if err := ledger.Void(ctx, discount.ID, "free entry"); err != nil {
				return err
			}
		}

		if err := s.repo.MarkFreeEntryConfirmed(ctx, tx, entry.ID, now); err != nil {
			return err
		}
		entry.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("free entry confirmed", zap.String("code", code))
	s.audit(ctx, entry.TournamentID, "registration.free_entry_confirmed", "free_entry", code, nil)
	return entry, nil
}

// settleEntryFee marks the bowler's unpaid entry fee paid, or records a paid
// one when none was charged at registration.
func (s *Service) settleEntryFee(ctx context.Context, ledger ledgerdomain.Service, item *catalogdomain.Item, bowlerID, paymentID snowflake.ID) (*ledgerdomain.Purchase, error) {
	fees, err := ledger.ListPurchases(ctx, ledgerdomain.PurchaseFilter{
		BowlerID:       bowlerID,
		Determinations: []catalogdomain.Determination{catalogdomain.DeterminationEntryFee},
	})
	if err != nil {
		return nil, err
	}
	for i := range fees {
		switch fees[i].Status {
		case ledgerdomain.PurchaseStatusPaid:
			return nil, ledgerdomain.ErrAlreadyPaid
		case ledgerdomain.PurchaseStatusUnpaid:
			if err := ledger.MarkPaid(ctx, []snowflake.ID{fees[i].ID}, paymentID, s.clock.Now()); err != nil {
				return nil, err
			}
			return &fees[i], nil
		}
	}

	if item == nil {
		return nil, domain.ErrNoEntryFee
	}
	paidAt := s.clock.Now()
	return ledger.RecordPurchase(ctx, ledgerdomain.RecordPurchaseRequest{
		BowlerID:          bowlerID,
		Item:              *item,
		Source:            ledgerdomain.SourceFreeEntry,
		ExternalPaymentID: &paymentID,
		PaidAt:            &paidAt,
	})
}
