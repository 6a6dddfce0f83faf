package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	"github.com/smallbiznis/lanes/internal/notification"
	"github.com/smallbiznis/lanes/internal/observability/errtrack"
	obsmetrics "github.com/smallbiznis/lanes/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/smallbiznis/lanes/internal/pricing"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Cfg             config.Config
	Repo            paymentdomain.Repository
	Gateway         paymentdomain.Gateway
	TournamentSvc   tournamentdomain.Service
	CatalogSvc      catalogdomain.Service
	LedgerSvc       ledgerdomain.Service
	RegistrationSvc registrationdomain.Service
	Notifier        notification.Notifier
	RegConfig       *config.RegistrationConfigHolder `optional:"true"`
	ErrTracker      errtrack.Reporter                `optional:"true"`
	AuditSvc        auditdomain.Service              `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics              `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	cfg             config.StripeConfig
	repo            paymentdomain.Repository
	gateway         paymentdomain.Gateway
	tournamentSvc   tournamentdomain.Service
	catalogSvc      catalogdomain.Service
	ledgerSvc       ledgerdomain.Service
	registrationSvc registrationdomain.Service
	notifier        notification.Notifier
	regConfig       *config.RegistrationConfigHolder
	errTracker      errtrack.Reporter
	auditSvc        auditdomain.Service
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	tracker := p.ErrTracker
	if tracker == nil {
		tracker = errtrack.Nop{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		cfg:             p.Cfg.Stripe,
		repo:            p.Repo,
		gateway:         p.Gateway,
		tournamentSvc:   p.TournamentSvc,
		catalogSvc:      p.CatalogSvc,
		ledgerSvc:       p.LedgerSvc,
		registrationSvc: p.RegistrationSvc,
		notifier:        p.Notifier,
		regConfig:       p.RegConfig,
		errTracker:      tracker,
		auditSvc:        p.AuditSvc,
		obsMetrics:      p.ObsMetrics,
	}
}

// priceKey identifies a gateway price: an item sold at one amount. Frozen
// purchase amounts and later catalog edits each get their own price.
type priceKey struct {
	itemID snowflake.ID
	amount int64
}

type pricedItem struct {
	item   catalogdomain.Item
	amount int64
}

// checkoutContext is everything loaded about a bowler before touching the ledger.
type checkoutContext struct {
	bowler     *registrationdomain.Bowler
	tournament *tournamentdomain.Tournament
	catalog    []catalogdomain.Item
	byID       map[snowflake.ID]catalogdomain.Item
}

func (s *Service) loadBowler(ctx context.Context, bowlerIdentifier string) (*checkoutContext, error) {
	bowler, err := s.registrationSvc.GetBowler(ctx, bowlerIdentifier)
	if err != nil {
		if errors.Is(err, registrationdomain.ErrBowlerNotFound) {
			return nil, paymentdomain.ErrBowlerNotFound
		}
		return nil, err
	}
	tournament, err := s.tournamentSvc.GetByID(ctx, bowler.TournamentID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.catalogSvc.ListByTournamentID(ctx, tournament.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]catalogdomain.Item, len(catalog))
	for _, item := range catalog {
		byID[item.ID] = item
	}
	return &checkoutContext{bowler: bowler, tournament: tournament, catalog: catalog, byID: byID}, nil
}

func (s *Service) StartCheckout(ctx context.Context, bowlerIdentifier string, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutResult, error) {
	cc, err := s.loadBowler(ctx, strings.TrimSpace(bowlerIdentifier))
	if err != nil {
		return nil, err
	}
	purchases, err := s.ledgerSvc.ListPurchases(ctx, ledgerdomain.PurchaseFilter{BowlerID: cc.bowler.ID})
	if err != nil {
		return nil, err
	}

	window := pricing.WindowFor(cc.tournament, s.clock.Now(), s.regConfig.Get().EarlyDiscountGrace)
	basket, err := pricing.ValidatePurchaseBasket(pricing.BasketInput{
		Window:              window,
		Catalog:             cc.catalog,
		Purchases:           purchases,
		PurchaseIdentifiers: req.PurchaseIdentifiers,
		Items:               req.Items,
	})
	if err != nil {
		return nil, err
	}

	// Negative amounts become one session-wide discount; everything else is a
	// priced line.
	var discount int64
	quantities := make(map[priceKey]int)
	var order []pricedItem
	addLine := func(item catalogdomain.Item, amount int64, qty int) {
		if amount < 0 {
			discount += -amount * int64(qty)
			return
		}
		key := priceKey{itemID: item.ID, amount: amount}
		if _, ok := quantities[key]; !ok {
			order = append(order, pricedItem{item: item, amount: amount})
		}
		quantities[key] += qty
	}
	details := paymentdomain.CheckoutDetails{
		BowlerIdentifier: cc.bowler.Identifier,
		ExpectedTotal:    basket.TotalToCharge,
	}
	for _, purchase := range basket.Purchases {
		item, ok := cc.byID[purchase.PurchasableItemID]
		if !ok {
			return nil, ledgerdomain.ErrInvalidItem
		}
		addLine(item, purchase.Amount, 1)
		details.PurchaseIdentifiers = append(details.PurchaseIdentifiers, purchase.Identifier)
	}
	for _, resolved := range basket.Items {
		addLine(resolved.Item, resolved.Item.Value, resolved.Quantity)
	}
	for _, item := range basket.ApplicableDiscounts {
		addLine(item, item.Value, 1)
		details.DiscountIdentifiers = append(details.DiscountIdentifiers, item.Identifier)
	}
	for _, item := range basket.ApplicableFees {
		addLine(item, item.Value, 1)
		details.FeeIdentifiers = append(details.FeeIdentifiers, item.Identifier)
	}

	// Gateway calls happen before anything is written so a failure leaves no trace.
	var newPrices []*paymentdomain.GatewayPrice
	lines := make([]paymentdomain.LineItem, 0, len(order))
	for _, line := range order {
		item := line.item
		price, err := s.repo.FindPrice(ctx, s.db, item.ID, line.amount)
		if err != nil {
			return nil, err
		}
		if price == nil {
			ref, err := s.gateway.EnsurePrice(ctx, paymentdomain.PriceRequest{
				ItemIdentifier: item.Identifier,
				Name:           item.Name,
				Amount:         line.amount,
				Currency:       s.cfg.Currency,
			})
			if err != nil {
				return nil, s.gatewayFailure(ctx, "payment.ensure_price", err, zap.String("item", item.Identifier))
			}
			price = &paymentdomain.GatewayPrice{
				ID:                s.genID.Generate(),
				PurchasableItemID: item.ID,
				Provider:          s.gateway.Provider(),
				ProviderProductID: ref.ProductID,
				ProviderPriceID:   ref.PriceID,
				Amount:            line.amount,
				CreatedAt:         s.clock.Now(),
			}
			newPrices = append(newPrices, price)
		}
		lines = append(lines, paymentdomain.LineItem{PriceID: price.ProviderPriceID, Quantity: quantities[priceKey{itemID: item.ID, amount: line.amount}]})
	}

	identifier := ulid.Make().String()
	var email string
	if cc.bowler.Person != nil {
		email = cc.bowler.Person.Email
	}
	gatewaySession, err := s.gateway.CreateCheckoutSession(ctx, paymentdomain.CheckoutSessionRequest{
		ClientReference: identifier,
		CustomerEmail:   email,
		Lines:           lines,
		Discount:        discount,
		Currency:        s.cfg.Currency,
		SuccessURL:      s.cfg.SuccessURL,
		CancelURL:       s.cfg.CancelURL,
		Metadata: map[string]string{
			"bowler_identifier":     cc.bowler.Identifier,
			"tournament_identifier": cc.tournament.Identifier,
		},
	})
	if err != nil {
		return nil, s.gatewayFailure(ctx, "payment.create_checkout_session", err, zap.String("bowler", cc.bowler.Identifier))
	}

	now := s.clock.Now()
	session := &paymentdomain.CheckoutSession{
		ID:                s.genID.Generate(),
		BowlerID:          cc.bowler.ID,
		Identifier:        identifier,
		ProviderSessionID: gatewaySession.ID,
		Status:            paymentdomain.CheckoutStatusOpen,
		Details:           datatypes.NewJSONType(details),
		URL:               gatewaySession.URL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, price := range newPrices {
			if _, err := s.repo.InsertPrice(ctx, tx, price); err != nil {
				return err
			}
		}
		return s.repo.InsertSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	s.recordCheckout(ctx, paymentdomain.CheckoutStatusOpen)
	s.log.Info("checkout session opened",
		zap.String("bowler", cc.bowler.Identifier),
		zap.String("session", session.ProviderSessionID),
		zap.Int64("total", basket.TotalToCharge),
	)
	s.audit(ctx, cc.tournament.ID, "payment.checkout_started", session.Identifier, map[string]any{
		"provider_session_id": session.ProviderSessionID,
		"total":               basket.TotalToCharge,
	})
	return &paymentdomain.CheckoutResult{Session: session, URL: gatewaySession.URL, Total: basket.TotalToCharge}, nil
}

func (s *Service) HandleCheckoutCompleted(ctx context.Context, sessionID string, paymentIntentID string) error {
	sessionID = strings.TrimSpace(sessionID)
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if sessionID == "" || paymentIntentID == "" {
		return paymentdomain.ErrInvalidEvent
	}

	session, err := s.repo.FindSession(ctx, s.db, sessionID, false)
	if err != nil {
		return err
	}
	if session == nil {
		return paymentdomain.ErrSessionNotFound
	}
	if session.Status == paymentdomain.CheckoutStatusCompleted {
		return nil
	}
	details := session.Details.Data()

	cc, err := s.loadBowler(ctx, details.BowlerIdentifier)
	if err != nil {
		return err
	}

	lineItems, err := s.gateway.ListLineItems(ctx, sessionID)
	if err != nil {
		return s.gatewayFailure(ctx, "payment.list_line_items", err, zap.String("session", sessionID))
	}
	quantities, err := s.mapLineItems(ctx, lineItems, cc)
	if err != nil {
		return err
	}

	var (
		settled   bool
		netAmount int64
		paidAt    = s.clock.Now()
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindSession(ctx, tx, sessionID, true)
		if err != nil {
			return err
		}
		if locked == nil {
			return paymentdomain.ErrSessionNotFound
		}
		if locked.Status == paymentdomain.CheckoutStatusCompleted {
			return nil
		}

		ledger := s.ledgerSvc.WithTx(tx)
		if err := ledger.LockBowler(ctx, cc.bowler.ID); err != nil {
			return err
		}

		payment, err := ledger.CreateExternalPayment(ctx, ledgerdomain.CreateExternalPaymentRequest{
			PaymentType:        ledgerdomain.PaymentTypeStripe,
			ProviderIdentifier: paymentIntentID,
			Details: map[string]any{
				"provider":        s.gateway.Provider(),
				"session":         sessionID,
				"expected_total":  details.ExpectedTotal,
				"bowler":          cc.bowler.Identifier,
				"checkout_id":     locked.Identifier,
				"line_item_count": len(lineItems),
			},
		})
		if err != nil {
			return err
		}

		unpaid, err := ledger.UnpaidByIdentifiers(ctx, cc.bowler.ID, details.PurchaseIdentifiers)
		if err != nil {
			return err
		}
		var settleIDs []snowflake.ID
		for _, purchase := range unpaid {
			if purchase.Amount >= 0 {
				if quantities[purchase.PurchasableItemID] <= 0 {
					continue
				}
				quantities[purchase.PurchasableItemID]--
			}
			settleIDs = append(settleIDs, purchase.ID)
			netAmount += purchase.Amount
		}
		if len(settleIDs) > 0 {
			if err := ledger.MarkPaid(ctx, settleIDs, payment.ID, paidAt); err != nil {
				return err
			}
		}

		record := func(item catalogdomain.Item) error {
			purchase, err := ledger.RecordPurchase(ctx, ledgerdomain.RecordPurchaseRequest{
				BowlerID:          cc.bowler.ID,
				Item:              item,
				Source:            ledgerdomain.SourcePurchase,
				ExternalPaymentID: &payment.ID,
				PaidAt:            &paidAt,
			})
			if err != nil {
				return err
			}
			netAmount += purchase.Amount
			return nil
		}

		for _, identifier := range details.FeeIdentifiers {
			item, ok := findItem(cc.catalog, identifier)
			if !ok {
				continue
			}
			if quantities[item.ID] > 0 {
				quantities[item.ID]--
			}
			if err := record(item); err != nil {
				return err
			}
		}
		for _, identifier := range details.DiscountIdentifiers {
			item, ok := findItem(cc.catalog, identifier)
			if !ok {
				continue
			}
			if err := record(item); err != nil {
				return err
			}
		}
		for _, item := range cc.catalog {
			for i := 0; i < quantities[item.ID]; i++ {
				if err := record(item); err != nil {
					return err
				}
			}
		}

		if netAmount > 0 {
			if _, _, err := ledger.AddEntry(ctx, ledgerdomain.EntryRequest{
				BowlerID:       cc.bowler.ID,
				Credit:         netAmount,
				Source:         ledgerdomain.SourceStripe,
				Identifier:     paymentIntentID,
				IdempotencyKey: "checkout:" + sessionID,
				Notes:          "checkout " + locked.Identifier,
			}); err != nil {
				return err
			}
		}

		if err := s.repo.CompleteSession(ctx, tx, locked.ID, paymentIntentID, paidAt); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}

	if netAmount != details.ExpectedTotal {
		s.log.Warn("checkout settled for a different total than quoted",
			zap.String("session", sessionID),
			zap.Int64("expected", details.ExpectedTotal),
			zap.Int64("settled", netAmount),
		)
	}
	s.log.Info("checkout completed",
		zap.String("bowler", cc.bowler.Identifier),
		zap.String("session", sessionID),
		zap.String("payment_intent", paymentIntentID),
		zap.Int64("amount", netAmount),
	)
	s.recordCheckout(ctx, paymentdomain.CheckoutStatusCompleted)
	if err := s.notifier.SendReceipt(ctx, recipient(cc), paymentIntentID, netAmount); err != nil {
		s.log.Warn("failed to send receipt", zap.String("bowler", cc.bowler.Identifier), zap.Error(err))
	}
	s.audit(ctx, cc.tournament.ID, "payment.checkout_completed", session.Identifier, map[string]any{
		"payment_intent": paymentIntentID,
		"amount":         netAmount,
	})
	return nil
}

// mapLineItems resolves gateway line items to catalog item quantities using the
// stored price mapping. Gateway amounts are not trusted.
func (s *Service) mapLineItems(ctx context.Context, lineItems []paymentdomain.GatewayLineItem, cc *checkoutContext) (map[snowflake.ID]int, error) {
	priceIDs := make([]string, 0, len(lineItems))
	for _, line := range lineItems {
		priceIDs = append(priceIDs, line.PriceID)
	}
	prices, err := s.repo.FindPricesByProviderIDs(ctx, s.db, priceIDs)
	if err != nil {
		return nil, err
	}
	byPrice := make(map[string]snowflake.ID, len(prices))
	for _, price := range prices {
		byPrice[price.ProviderPriceID] = price.PurchasableItemID
	}

	quantities := make(map[snowflake.ID]int)
	for _, line := range lineItems {
		itemID, ok := byPrice[line.PriceID]
		if !ok {
			return nil, paymentdomain.ErrUnknownPrice
		}
		if _, ok := cc.byID[itemID]; !ok {
			return nil, paymentdomain.ErrUnknownPrice
		}
		qty := line.Quantity
		if qty <= 0 {
			qty = 1
		}
		quantities[itemID] += qty
	}
	return quantities, nil
}

func (s *Service) HandleCheckoutExpired(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	session, err := s.repo.FindSession(ctx, s.db, sessionID, false)
	if err != nil {
		return err
	}
	if session == nil {
		s.log.Warn("expired checkout session is unknown", zap.String("session", sessionID))
		return nil
	}
	expired, err := s.repo.ExpireSession(ctx, s.db, session.ID, s.clock.Now())
	if err != nil {
		return err
	}
	if expired {
		s.recordCheckout(ctx, paymentdomain.CheckoutStatusExpired)
		s.log.Info("checkout session expired", zap.String("session", sessionID))
	}
	return nil
}

func (s *Service) HandleChargeRefunded(ctx context.Context, chargeID string, paymentIntentID string, amount int64) error {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	settlement, err := s.ledgerSvc.FindEntryByIdentifier(ctx, paymentIntentID, ledgerdomain.SourceStripe)
	if err != nil {
		return err
	}
	if settlement == nil {
		s.log.Warn("refund for unknown payment",
			zap.String("charge", chargeID),
			zap.String("payment_intent", paymentIntentID),
		)
		return nil
	}
	if amount <= 0 {
		amount = settlement.Credit
	}

	key := "refund:" + chargeID
	var inserted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.ledgerSvc.WithTx(tx)
		if err := ledger.LockBowler(ctx, settlement.BowlerID); err != nil {
			return err
		}
		existing, err := ledger.FindEntryByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		_, inserted, err = ledger.AddEntry(ctx, ledgerdomain.EntryRequest{
			BowlerID:       settlement.BowlerID,
			Debit:          amount,
			Source:         ledgerdomain.SourceStripe,
			Identifier:     chargeID,
			IdempotencyKey: key,
			Notes:          "refund of " + paymentIntentID,
		})
		return err
	})
	if err != nil {
		return err
	}
	if inserted {
		s.log.Info("refund recorded",
			zap.String("charge", chargeID),
			zap.String("payment_intent", paymentIntentID),
			zap.Int64("amount", amount),
		)
		s.audit(ctx, 0, "payment.refunded", chargeID, map[string]any{
			"payment_intent": paymentIntentID,
			"amount":         amount,
		})
	}
	return nil
}

func (s *Service) Dispatch(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted:
		return s.HandleCheckoutCompleted(ctx, event.SessionID, event.PaymentIntentID)
	case paymentdomain.EventTypeCheckoutExpired:
		return s.HandleCheckoutExpired(ctx, event.SessionID)
	case paymentdomain.EventTypeChargeRefunded:
		return s.HandleChargeRefunded(ctx, event.ChargeID, event.PaymentIntentID, event.Amount)
	default:
		return paymentdomain.ErrEventIgnored
	}
}

func (s *Service) gatewayFailure(ctx context.Context, component string, err error, fields ...zap.Field) error {
	s.errTracker.Report(ctx, component, err, fields...)
	s.log.Error("payment gateway call failed", append(fields, zap.String("component", component), zap.Error(err))...)
	return paymentdomain.ErrGatewayUnavailable
}

func (s *Service) recordCheckout(ctx context.Context, status paymentdomain.CheckoutStatus) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckout(ctx, string(status))
	}
}

func (s *Service) audit(ctx context.Context, tournamentID snowflake.ID, action, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var scope *snowflake.ID
	if tournamentID != 0 {
		scope = &tournamentID
	}
	if err := s.auditSvc.AuditLog(ctx, scope, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func findItem(catalog []catalogdomain.Item, identifier string) (catalogdomain.Item, bool) {
	for _, item := range catalog {
		if item.Identifier == identifier {
			return item, true
		}
	}
	return catalogdomain.Item{}, false
}

func recipient(cc *checkoutContext) notification.Recipient {
	to := notification.Recipient{
		BowlerIdentifier: cc.bowler.Identifier,
		TournamentName:   cc.tournament.Name,
	}
	if cc.bowler.Person != nil {
		to.Name = cc.bowler.Person.DisplayName()
		to.Email = cc.bowler.Person.Email
	}
	return to
}
