package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	"github.com/smallbiznis/lanes/internal/config"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/lanes/internal/payment/repository"
	paymentservice "github.com/smallbiznis/lanes/internal/payment/service"
	"github.com/smallbiznis/lanes/internal/pricing"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
	"github.com/smallbiznis/lanes/internal/testutil"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const now = "2026-05-01T12:00:00Z"

// fakeGateway prices every item as "price_<identifier>_<amount>" and remembers sessions.
type fakeGateway struct {
	mu         sync.Mutex
	ensureErr  error
	createErr  error
	listErr    error
	sessions   map[string]paymentdomain.CheckoutSessionRequest
	lineItems  map[string][]paymentdomain.GatewayLineItem
	ensureCall int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions:  map[string]paymentdomain.CheckoutSessionRequest{},
		lineItems: map[string][]paymentdomain.GatewayLineItem{},
	}
}

func (g *fakeGateway) Provider() string { return "stripe" }

func (g *fakeGateway) EnsurePrice(_ context.Context, req paymentdomain.PriceRequest) (paymentdomain.PriceRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureCall++
	if g.ensureErr != nil {
		return paymentdomain.PriceRef{}, g.ensureErr
	}
	return paymentdomain.PriceRef{ProductID: "prod_" + req.ItemIdentifier, PriceID: fmt.Sprintf("price_%s_%d", req.ItemIdentifier, req.Amount)}, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.GatewaySession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := fmt.Sprintf("cs_%d", len(g.sessions)+1)
	g.sessions[id] = req
	var lines []paymentdomain.GatewayLineItem
	for _, line := range req.Lines {
		lines = append(lines, paymentdomain.GatewayLineItem{PriceID: line.PriceID, Quantity: line.Quantity, Amount: 1})
	}
	g.lineItems[id] = lines
	return &paymentdomain.GatewaySession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *fakeGateway) ListLineItems(_ context.Context, sessionID string) ([]paymentdomain.GatewayLineItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		err := g.listErr
		g.listErr = nil
		return nil, err
	}
	return g.lineItems[sessionID], nil
}

type reporterMock struct {
	mock.Mock
}

func (r *reporterMock) Report(ctx context.Context, component string, err error, fields ...zap.Field) {
	r.Called(component, err)
}

type fixture struct {
	*testutil.Stack
	gateway  *fakeGateway
	reporter *reporterMock
	payments paymentdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stack := testutil.NewStack(t, now)
	gateway := newFakeGateway()
	reporter := &reporterMock{}
	reporter.On("Report", mock.Anything, mock.Anything).Return()

	payments := paymentservice.NewService(paymentservice.Params{
		DB:    stack.DB,
		Log:   zap.NewNop(),
		GenID: stack.Node,
		Clock: stack.Clock,
		Cfg: config.Config{Stripe: config.StripeConfig{
			Currency: "usd", SuccessURL: "https://lanes.test/ok", CancelURL: "https://lanes.test/cancel",
		}},
		Repo:            paymentrepo.Provide(),
		Gateway:         gateway,
		TournamentSvc:   stack.Tournaments,
		CatalogSvc:      stack.Catalog,
		LedgerSvc:       stack.Ledger,
		RegistrationSvc: stack.Registration,
		Notifier:        stack.Notifier,
		RegConfig:       config.NewStaticRegistrationConfigHolder(config.DefaultRegistrationConfig()),
		ErrTracker:      reporter,
	})
	return &fixture{Stack: stack, gateway: gateway, reporter: reporter, payments: payments}
}

func (f *fixture) register(t *testing.T, tournament *tournamentdomain.Tournament, first string) *registrationdomain.Bowler {
	t.Helper()
	bowler, err := f.Registration.RegisterBowler(context.Background(), tournament.Identifier, registrationdomain.RegisterBowlerRequest{
		Person: testutil.Person(first),
	})
	require.NoError(t, err)
	return bowler
}

func (f *fixture) unpaidIdentifiers(t *testing.T, bowler *registrationdomain.Bowler) []string {
	t.Helper()
	purchases, err := f.Ledger.ListPurchases(context.Background(), ledgerdomain.PurchaseFilter{
		BowlerID: bowler.ID,
		Statuses: []ledgerdomain.PurchaseStatus{ledgerdomain.PurchaseStatusUnpaid},
	})
	require.NoError(t, err)
	out := make([]string, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, p.Identifier)
	}
	return out
}

func (f *fixture) due(t *testing.T, bowler *registrationdomain.Bowler) int64 {
	t.Helper()
	due, err := f.Ledger.AmountDue(context.Background(), bowler.ID)
	require.NoError(t, err)
	return due
}

func earlyBirdTournament(t *testing.T, f *fixture) *tournamentdomain.Tournament {
	t.Helper()
	tournament := f.Tournament(t, 4)
	f.Item(t, tournament.Identifier, testutil.EntryFee(100))
	f.Item(t, tournament.Identifier, testutil.EarlyDiscount(-10, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	return f.Advance(t, tournament, tournamentdomain.StateActive)
}

func TestStartCheckoutGatewayFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := earlyBirdTournament(t, f)
	bowler := f.register(t, tournament, "ann")
	f.gateway.ensureErr = errors.New("connection reset")

	_, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
	})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
	f.reporter.AssertCalled(t, "Report", "payment.ensure_price", mock.Anything)
	testutil.AssertCount(t, f.DB, "checkout_sessions", "", 0)
	testutil.AssertCount(t, f.DB, "gateway_prices", "", 0)

	f.gateway.ensureErr = nil
	f.gateway.createErr = errors.New("503")
	_, err = f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
	})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
	testutil.AssertCount(t, f.DB, "checkout_sessions", "", 0)
	testutil.AssertCount(t, f.DB, "gateway_prices", "", 0)
}

func TestCheckoutSettlesRegistrationPurchases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := earlyBirdTournament(t, f)
	bowler := f.register(t, tournament, "bea")
	require.Equal(t, int64(90), f.due(t, bowler))

	result, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), result.Total)
	assert.Equal(t, paymentdomain.CheckoutStatusOpen, result.Session.Status)
	sent := f.gateway.sessions[result.Session.ProviderSessionID]
	assert.Equal(t, int64(10), sent.Discount)
	require.Len(t, sent.Lines, 1)
	testutil.AssertCount(t, f.DB, "gateway_prices", "", 1)

	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_1"))

	assert.Equal(t, int64(0), f.due(t, bowler))
	testutil.AssertCount(t, f.DB, "purchases", "bowler_id = ? AND status = ?", 2, bowler.ID, ledgerdomain.PurchaseStatusPaid)
	testutil.AssertCount(t, f.DB, "external_payments", "provider_identifier = ?", 1, "pi_1")
	testutil.AssertCount(t, f.DB, "ledger_entries", "source = ? AND identifier = ?", 1, ledgerdomain.SourceStripe, "pi_1")
	testutil.AssertCount(t, f.DB, "checkout_sessions", "status = ?", 1, paymentdomain.CheckoutStatusCompleted)
	f.Notifier.AssertCalled(t, "SendReceipt", mock.Anything, mock.Anything, "pi_1", int64(90))

	// A second delivery changes nothing.
	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_1"))
	assert.Equal(t, int64(0), f.due(t, bowler))
	testutil.AssertCount(t, f.DB, "ledger_entries", "source = ?", 1, ledgerdomain.SourceStripe)
	f.Notifier.AssertNumberOfCalls(t, "SendReceipt", 1)

	// Expiry never downgrades a completed session.
	require.NoError(t, f.payments.HandleCheckoutExpired(ctx, result.Session.ProviderSessionID))
	testutil.AssertCount(t, f.DB, "checkout_sessions", "status = ?", 1, paymentdomain.CheckoutStatusCompleted)

	// Prices are created once per item.
	bowler2 := f.register(t, tournament, "cal")
	_, err = f.payments.StartCheckout(ctx, bowler2.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.ensureCall)
}

func TestCheckoutBundleDiscount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := f.Tournament(t, 4)
	f.Item(t, tournament.Identifier, testutil.EntryFee(100))
	singles := f.Item(t, tournament.Identifier, testutil.Event("Singles", 50))
	doubles := f.Item(t, tournament.Identifier, testutil.Event("Doubles", 50))
	f.Item(t, tournament.Identifier, catalogdomain.CreateRequest{
		Name:          "Singles + Doubles",
		Category:      catalogdomain.CategoryLedger,
		Determination: catalogdomain.DeterminationBundleDiscount,
		Value:         -20,
		Configuration: map[string]any{catalogdomain.ConfEvents: []string{singles.Identifier, doubles.Identifier}},
	})
	tournament = f.Advance(t, tournament, tournamentdomain.StateActive)
	bowler := f.register(t, tournament, "dee")

	result, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
		Items: []pricing.ItemQuantity{
			{Identifier: singles.Identifier, Quantity: 1},
			{Identifier: doubles.Identifier, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(180), result.Total)

	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_bundle"))
	assert.Equal(t, int64(0), f.due(t, bowler))

	paid, err := f.Ledger.ListPurchases(ctx, ledgerdomain.PurchaseFilter{
		BowlerID: bowler.ID,
		Statuses: []ledgerdomain.PurchaseStatus{ledgerdomain.PurchaseStatusPaid},
	})
	require.NoError(t, err)
	assert.Len(t, paid, 4)
	settlement, err := f.Ledger.FindEntryByIdempotencyKey(ctx, "checkout:"+result.Session.ProviderSessionID)
	require.NoError(t, err)
	require.NotNil(t, settlement)
	assert.Equal(t, int64(180), settlement.Credit)
}

func TestCheckoutExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := earlyBirdTournament(t, f)
	bowler := f.register(t, tournament, "eve")

	result, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
	})
	require.NoError(t, err)

	require.NoError(t, f.payments.HandleCheckoutExpired(ctx, result.Session.ProviderSessionID))
	testutil.AssertCount(t, f.DB, "checkout_sessions", "status = ?", 1, paymentdomain.CheckoutStatusExpired)
	testutil.AssertCount(t, f.DB, "ledger_entries", "source = ?", 0, ledgerdomain.SourceStripe)
	assert.Equal(t, int64(90), f.due(t, bowler))

	assert.NoError(t, f.payments.HandleCheckoutExpired(ctx, "cs_unknown"))
	assert.ErrorIs(t, f.payments.HandleCheckoutCompleted(ctx, "cs_unknown", "pi_x"), paymentdomain.ErrSessionNotFound)
}

func TestCompletionGatewayFailureLeavesSessionOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := earlyBirdTournament(t, f)
	bowler := f.register(t, tournament, "fay")

	result, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
	})
	require.NoError(t, err)

	f.gateway.listErr = errors.New("timeout")
	err = f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_2")
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
	testutil.AssertCount(t, f.DB, "checkout_sessions", "status = ?", 1, paymentdomain.CheckoutStatusOpen)
	testutil.AssertCount(t, f.DB, "external_payments", "", 0)

	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_2"))
	assert.Equal(t, int64(0), f.due(t, bowler))
}

func TestChargeRefunded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := earlyBirdTournament(t, f)
	bowler := f.register(t, tournament, "gus")

	result, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, bowler),
	})
	require.NoError(t, err)
	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_3"))

	require.NoError(t, f.payments.HandleChargeRefunded(ctx, "ch_1", "pi_3", 90))
	assert.Equal(t, int64(90), f.due(t, bowler))

	require.NoError(t, f.payments.HandleChargeRefunded(ctx, "ch_1", "pi_3", 90))
	assert.Equal(t, int64(90), f.due(t, bowler))
	testutil.AssertCount(t, f.DB, "ledger_entries", "identifier = ?", 1, "ch_1")

	require.NoError(t, f.payments.HandleChargeRefunded(ctx, "ch_2", "pi_unknown", 50))
	testutil.AssertCount(t, f.DB, "ledger_entries", "identifier = ?", 0, "ch_2")
}

func TestDispatchRoutesCanonicalEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.payments.Dispatch(ctx, &paymentdomain.PaymentEvent{Type: "payment_failed"})
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	assert.ErrorIs(t, f.payments.Dispatch(ctx, nil), paymentdomain.ErrInvalidEvent)
	assert.NoError(t, f.payments.Dispatch(ctx, &paymentdomain.PaymentEvent{
		Type: paymentdomain.EventTypeCheckoutExpired, SessionID: "cs_missing",
	}))
}

func TestCheckoutCarriesHeldEarlyDiscount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := earlyBirdTournament(t, f)
	bowler := f.register(t, tournament, "dee")
	require.Equal(t, int64(90), f.due(t, bowler))

	fees, err := f.Ledger.ListPurchases(ctx, ledgerdomain.PurchaseFilter{
		BowlerID:       bowler.ID,
		Determinations: []catalogdomain.Determination{catalogdomain.DeterminationEntryFee},
	})
	require.NoError(t, err)
	require.Len(t, fees, 1)

	result, err := f.payments.StartCheckout(ctx, bowler.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: []string{fees[0].Identifier},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), result.Total)
	assert.Equal(t, int64(10), f.gateway.sessions[result.Session.ProviderSessionID].Discount)

	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_fee_only"))
	assert.Equal(t, int64(0), f.due(t, bowler))
	testutil.AssertCount(t, f.DB, "purchases", "bowler_id = ? AND status = ?", 2, bowler.ID, ledgerdomain.PurchaseStatusPaid)
	testutil.AssertCount(t, f.DB, "purchases", "bowler_id = ? AND status = ?", 0, bowler.ID, ledgerdomain.PurchaseStatusUnpaid)
}

func TestCheckoutPricesFollowAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tournament := f.Tournament(t, 4)
	fee := f.Item(t, tournament.Identifier, testutil.EntryFee(100))
	tournament = f.Advance(t, tournament, tournamentdomain.StateTesting)

	first := f.register(t, tournament, "eve")
	result, err := f.payments.StartCheckout(ctx, first.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, first),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Total)
	assert.Equal(t, 1, f.gateway.ensureCall)

	// Values are still editable while testing.
	_, err = f.Catalog.UpdateValue(ctx, fee.Identifier, 120)
	require.NoError(t, err)

	second := f.register(t, tournament, "fin")
	result, err = f.payments.StartCheckout(ctx, second.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, second),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.Total)
	assert.Equal(t, 2, f.gateway.ensureCall)
	sent := f.gateway.sessions[result.Session.ProviderSessionID]
	require.Len(t, sent.Lines, 1)
	assert.Equal(t, fmt.Sprintf("price_%s_120", fee.Identifier), sent.Lines[0].PriceID)
	testutil.AssertCount(t, f.DB, "gateway_prices", "", 2)

	// The first bowler's frozen amount keeps using the original price.
	result, err = f.payments.StartCheckout(ctx, first.Identifier, paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: f.unpaidIdentifiers(t, first),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Total)
	assert.Equal(t, 2, f.gateway.ensureCall)
	assert.Equal(t, fmt.Sprintf("price_%s_100", fee.Identifier), f.gateway.sessions[result.Session.ProviderSessionID].Lines[0].PriceID)

	require.NoError(t, f.payments.HandleCheckoutCompleted(ctx, result.Session.ProviderSessionID, "pi_frozen"))
	assert.Equal(t, int64(0), f.due(t, first))
}
