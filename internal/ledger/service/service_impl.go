package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/lanes/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the only writer of purchases and ledger entries. When bound to
// an outer transaction through WithTx, audit logging is left to the caller.
type Service struct {
	db         *gorm.DB
	tx         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) WithTx(tx *gorm.DB) ledgerdomain.Service {
	bound := *s
	bound.tx = tx
	return &bound
}

// run executes fn in the bound transaction, or a fresh one.
func (s *Service) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Service) conn() *gorm.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Service) LockBowler(ctx context.Context, bowlerID snowflake.ID) error {
	return s.repo.LockBowler(ctx, s.conn(), bowlerID)
}

func (s *Service) RecordPurchase(ctx context.Context, req ledgerdomain.RecordPurchaseRequest) (*ledgerdomain.Purchase, error) {
	if req.BowlerID == 0 {
		return nil, ledgerdomain.ErrInvalidBowler
	}
	if req.Item.ID == 0 {
		return nil, ledgerdomain.ErrInvalidItem
	}
	source := req.Source
	if source == "" {
		source = ledgerdomain.SourcePurchase
	}
	if !source.Valid() {
		return nil, ledgerdomain.ErrInvalidSource
	}

	now := s.clock.Now()
	purchase := &ledgerdomain.Purchase{
		ID:                s.genID.Generate(),
		BowlerID:          req.BowlerID,
		PurchasableItemID: req.Item.ID,
		Identifier:        ulid.Make().String(),
		Amount:            req.Item.Value,
		Status:            ledgerdomain.PurchaseStatusUnpaid,
		ExternalPaymentID: req.ExternalPaymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.PaidAt != nil {
		paidAt := req.PaidAt.UTC()
		purchase.Status = ledgerdomain.PurchaseStatusPaid
		purchase.PaidAt = &paidAt
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:         s.genID.Generate(),
		BowlerID:   req.BowlerID,
		Source:     source,
		Identifier: req.Item.Identifier,
		PurchaseID: &purchase.ID,
		Notes:      req.Item.Name,
		CreatedAt:  now,
	}
	if req.Item.Value >= 0 {
		entry.Debit = req.Item.Value
	} else {
		entry.Credit = -req.Item.Value
	}

	err := s.run(ctx, func(tx *gorm.DB) error {
		if err := s.repo.InsertPurchase(ctx, tx, purchase); err != nil {
			return err
		}
		_, err := s.repo.InsertEntry(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(source))
	s.audit(ctx, "ledger.purchase_recorded", "purchase", purchase.Identifier, map[string]any{
		"item":   req.Item.Identifier,
		"amount": purchase.Amount,
		"source": string(source),
	})
	return purchase, nil
}

func (s *Service) MarkPaid(ctx context.Context, purchaseIDs []snowflake.ID, externalPaymentID snowflake.ID, paidAt time.Time) error {
	ids := dedupeIDs(purchaseIDs)
	if len(ids) == 0 {
		return ledgerdomain.ErrEmptyPurchaseSet
	}
	if externalPaymentID == 0 {
		return ledgerdomain.ErrInvalidPayment
	}
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	paidAt = paidAt.UTC()

	err := s.run(ctx, func(tx *gorm.DB) error {
		purchases, err := s.repo.FindPurchasesForUpdate(ctx, tx, ids)
		if err != nil {
			return err
		}
		if len(purchases) != len(ids) {
			return ledgerdomain.ErrNotFound
		}
		for _, purchase := range purchases {
			switch purchase.Status {
			case ledgerdomain.PurchaseStatusVoided:
				return ledgerdomain.ErrAlreadyVoided
			case ledgerdomain.PurchaseStatusPaid:
				return ledgerdomain.ErrAlreadyPaid
			}
		}
		return s.repo.MarkPaid(ctx, tx, ids, externalPaymentID, paidAt)
	})
	if err != nil {
		return err
	}

	s.audit(ctx, "ledger.purchases_paid", "external_payment", externalPaymentID.String(), map[string]any{
		"count": len(ids),
	})
	return nil
}

func (s *Service) Void(ctx context.Context, purchaseID snowflake.ID, reason string) error {
	reason = strings.TrimSpace(reason)
	now := s.clock.Now()

	var purchase ledgerdomain.Purchase
	err := s.run(ctx, func(tx *gorm.DB) error {
		purchases, err := s.repo.FindPurchasesForUpdate(ctx, tx, []snowflake.ID{purchaseID})
		if err != nil {
			return err
		}
		if len(purchases) == 0 {
			return ledgerdomain.ErrNotFound
		}
		purchase = purchases[0]
		switch purchase.Status {
		case ledgerdomain.PurchaseStatusPaid:
			return ledgerdomain.ErrAlreadyPaid
		case ledgerdomain.PurchaseStatusVoided:
			return ledgerdomain.ErrAlreadyVoided
		}

		if err := s.repo.MarkVoided(ctx, tx, purchase.ID, reason, now); err != nil {
			return err
		}

		key := "void:" + purchase.Identifier
		reversal := &ledgerdomain.LedgerEntry{
			ID:             s.genID.Generate(),
			BowlerID:       purchase.BowlerID,
			Source:         ledgerdomain.SourceVoid,
			Identifier:     purchase.Identifier,
			PurchaseID:     &purchase.ID,
			IdempotencyKey: &key,
			Notes:          reason,
			CreatedAt:      now,
		}
		if purchase.Amount >= 0 {
			reversal.Credit = purchase.Amount
		} else {
			reversal.Debit = -purchase.Amount
		}
		_, err = s.repo.InsertEntry(ctx, tx, reversal)
		return err
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.SourceVoid))
	s.audit(ctx, "ledger.purchase_voided", "purchase", purchase.Identifier, map[string]any{
		"amount": purchase.Amount,
		"reason": reason,
	})
	return nil
}

func (s *Service) AddEntry(ctx context.Context, req ledgerdomain.EntryRequest) (*ledgerdomain.LedgerEntry, bool, error) {
	if req.BowlerID == 0 {
		return nil, false, ledgerdomain.ErrInvalidBowler
	}
	if req.Debit < 0 || req.Credit < 0 || (req.Debit == 0 && req.Credit == 0) {
		return nil, false, ledgerdomain.ErrInvalidAmount
	}
	if !req.Source.Valid() {
		return nil, false, ledgerdomain.ErrInvalidSource
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:         s.genID.Generate(),
		BowlerID:   req.BowlerID,
		Debit:      req.Debit,
		Credit:     req.Credit,
		Source:     req.Source,
		Identifier: strings.TrimSpace(req.Identifier),
		PurchaseID: req.PurchaseID,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedAt:  s.clock.Now(),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		entry.IdempotencyKey = &key
	}

	inserted, err := s.repo.InsertEntry(ctx, s.conn(), entry)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindEntry(ctx, s.conn(), "idempotency_key = ?", *entry.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		s.log.Debug("ledger entry already recorded", zap.String("idempotency_key", *entry.IdempotencyKey))
		return existing, false, nil
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Source))
	s.audit(ctx, "ledger.entry_created", "ledger_entry", entry.ID.String(), map[string]any{
		"source": string(entry.Source),
		"debit":  entry.Debit,
		"credit": entry.Credit,
	})
	return entry, true, nil
}

func (s *Service) CreateExternalPayment(ctx context.Context, req ledgerdomain.CreateExternalPaymentRequest) (*ledgerdomain.ExternalPayment, error) {
	switch req.PaymentType {
	case ledgerdomain.PaymentTypeStripe, ledgerdomain.PaymentTypeManual, ledgerdomain.PaymentTypeFreeEntry:
	default:
		return nil, ledgerdomain.ErrInvalidPayment
	}

	payment := &ledgerdomain.ExternalPayment{
		ID:          s.genID.Generate(),
		Identifier:  ulid.Make().String(),
		PaymentType: req.PaymentType,
		Details:     datatypes.JSONMap(req.Details),
		CreatedAt:   s.clock.Now(),
	}
	if provider := strings.TrimSpace(req.ProviderIdentifier); provider != "" {
		payment.ProviderIdentifier = &provider
	}
	if err := s.repo.InsertExternalPayment(ctx, s.conn(), payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) AmountBilled(ctx context.Context, bowlerID snowflake.ID) (int64, error) {
	debit, _, err := s.repo.SumEntries(ctx, s.conn(), bowlerID)
	return debit, err
}

func (s *Service) AmountDue(ctx context.Context, bowlerID snowflake.ID) (int64, error) {
	debit, credit, err := s.repo.SumEntries(ctx, s.conn(), bowlerID)
	if err != nil {
		return 0, err
	}
	return debit - credit, nil
}

func (s *Service) ListPurchases(ctx context.Context, filter ledgerdomain.PurchaseFilter) ([]ledgerdomain.Purchase, error) {
	if filter.BowlerID == 0 {
		return nil, ledgerdomain.ErrInvalidBowler
	}
	return s.repo.ListPurchases(ctx, s.conn(), filter)
}

func (s *Service) UnpaidByIdentifiers(ctx context.Context, bowlerID snowflake.ID, identifiers []string) ([]ledgerdomain.Purchase, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	return s.ListPurchases(ctx, ledgerdomain.PurchaseFilter{
		BowlerID:    bowlerID,
		Statuses:    []ledgerdomain.PurchaseStatus{ledgerdomain.PurchaseStatusUnpaid},
		Identifiers: identifiers,
	})
}

func (s *Service) ListEntries(ctx context.Context, bowlerID snowflake.ID) ([]ledgerdomain.LedgerEntry, error) {
	return s.repo.ListEntries(ctx, s.conn(), bowlerID)
}

func (s *Service) FindEntryByIdentifier(ctx context.Context, identifier string, source ledgerdomain.Source) (*ledgerdomain.LedgerEntry, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}
	if source == "" {
		return s.repo.FindEntry(ctx, s.conn(), "identifier = ?", identifier)
	}
	return s.repo.FindEntry(ctx, s.conn(), "identifier = ? AND source = ?", identifier, source)
}

func (s *Service) FindEntryByIdempotencyKey(ctx context.Context, key string) (*ledgerdomain.LedgerEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return s.repo.FindEntry(ctx, s.conn(), "idempotency_key = ?", key)
}

func (s *Service) DeleteForBowler(ctx context.Context, bowlerID snowflake.ID) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		return s.repo.DeleteForBowler(ctx, tx, bowlerID)
	})
}

func (s *Service) audit(ctx context.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil || s.tx != nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, nil, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.String("action", action), zap.Error(err))
	}
}

func dedupeIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
