package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/lanes/internal/config"
	"github.com/smallbiznis/lanes/internal/payment/adapters"
	"github.com/smallbiznis/lanes/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/lanes/internal/payment/repository"
	"github.com/smallbiznis/lanes/internal/payment/webhook"
	"github.com/smallbiznis/lanes/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "whsec_test"

type paymentServiceMock struct {
	mock.Mock
}

func (m *paymentServiceMock) StartCheckout(ctx context.Context, bowlerIdentifier string, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutResult, error) {
	args := m.Called(ctx, bowlerIdentifier, req)
	result, _ := args.Get(0).(*paymentdomain.CheckoutResult)
	return result, args.Error(1)
}

func (m *paymentServiceMock) HandleCheckoutCompleted(ctx context.Context, sessionID string, paymentIntentID string) error {
	return m.Called(ctx, sessionID, paymentIntentID).Error(0)
}

func (m *paymentServiceMock) HandleCheckoutExpired(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *paymentServiceMock) HandleChargeRefunded(ctx context.Context, chargeID string, paymentIntentID string, amount int64) error {
	return m.Called(ctx, chargeID, paymentIntentID, amount).Error(0)
}

func (m *paymentServiceMock) Dispatch(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	return m.Called(ctx, event).Error(0)
}

func newService(t *testing.T, payments paymentdomain.Service) (paymentdomain.WebhookService, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	svc := webhook.NewService(webhook.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      testutil.Node(t),
		Clock:      testutil.Clock(t, "2026-05-01T12:00:00Z"),
		Cfg:        config.Config{Stripe: config.StripeConfig{WebhookSecret: secret}},
		Repo:       paymentrepo.Provide(),
		PaymentSvc: payments,
		Adapters:   adapters.NewRegistry(stripe.NewFactory()),
	})
	return svc, db
}

func signed(payload []byte) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return header
}

func completedPayload(eventID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","created":1777636800,
		"data":{"object":{"id":"cs_1","payment_intent":"pi_1","amount_total":9000,"currency":"usd","payment_status":"paid"}}}`, eventID))
}

func isCompleted(event *paymentdomain.PaymentEvent) bool {
	return event.Type == paymentdomain.EventTypeCheckoutCompleted && event.SessionID == "cs_1" && event.PaymentIntentID == "pi_1"
}

func TestIngestWebhookDeduplicatesDeliveries(t *testing.T) {
	ctx := context.Background()
	payments := &paymentServiceMock{}
	payments.On("Dispatch", mock.Anything, mock.MatchedBy(isCompleted)).Return(nil)
	svc, db := newService(t, payments)

	payload := completedPayload("evt_1")
	require.NoError(t, svc.IngestWebhook(ctx, "stripe", payload, signed(payload)))
	require.NoError(t, svc.IngestWebhook(ctx, "Stripe", payload, signed(payload)))

	payments.AssertNumberOfCalls(t, "Dispatch", 1)
	testutil.AssertCount(t, db, "payment_events", "processed_at IS NOT NULL", 1)
}

func TestIngestWebhookRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	payments := &paymentServiceMock{}
	svc, db := newService(t, payments)
	payload := completedPayload("evt_2")

	header := signed(payload)
	header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	assert.ErrorIs(t, svc.IngestWebhook(ctx, "stripe", payload, header), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, svc.IngestWebhook(ctx, "paypal", payload, signed(payload)), paymentdomain.ErrProviderNotFound)
	assert.ErrorIs(t, svc.IngestWebhook(ctx, "stripe", []byte("{"), signed([]byte("{"))), paymentdomain.ErrInvalidPayload)

	ignored := []byte(`{"id":"evt_3","type":"customer.created","data":{"object":{}}}`)
	assert.NoError(t, svc.IngestWebhook(ctx, "stripe", ignored, signed(ignored)))

	payments.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	testutil.AssertCount(t, db, "payment_events", "", 0)
}

func TestReplayPendingRetriesFailedEvents(t *testing.T) {
	ctx := context.Background()
	payments := &paymentServiceMock{}
	payments.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("database is locked")).Once()
	payments.On("Dispatch", mock.Anything, mock.Anything).Return(nil)
	svc, db := newService(t, payments)

	payload := completedPayload("evt_4")
	assert.Error(t, svc.IngestWebhook(ctx, "stripe", payload, signed(payload)))
	testutil.AssertCount(t, db, "payment_events", "processed_at IS NULL AND attempts = 1 AND last_error IS NOT NULL", 1)

	processed, err := svc.ReplayPending(ctx, time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	testutil.AssertCount(t, db, "payment_events", "processed_at IS NOT NULL AND attempts = 2", 1)

	processed, err = svc.ReplayPending(ctx, time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	payments.AssertNumberOfCalls(t, "Dispatch", 2)
}

func sessionPayload(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"checkout.session.expired","created":1777636800,
		"data":{"object":{"id":%q}}}`, eventID, sessionID))
}

func TestReplayPendingDoesNotStarveBehindFailures(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC)
	payments := &paymentServiceMock{}
	unknownSession := func(event *paymentdomain.PaymentEvent) bool { return event.SessionID != "cs_1" }
	payments.On("Dispatch", mock.Anything, mock.MatchedBy(unknownSession)).Return(paymentdomain.ErrSessionNotFound)
	payments.On("Dispatch", mock.Anything, mock.MatchedBy(isCompleted)).Return(errors.New("database is locked")).Once()
	payments.On("Dispatch", mock.Anything, mock.MatchedBy(isCompleted)).Return(nil)
	svc, db := newService(t, payments)

	for i := 1; i <= 3; i++ {
		payload := sessionPayload(fmt.Sprintf("evt_gone_%d", i), fmt.Sprintf("cs_gone_%d", i))
		assert.Error(t, svc.IngestWebhook(ctx, "stripe", payload, signed(payload)))
	}
	good := completedPayload("evt_good")
	assert.Error(t, svc.IngestWebhook(ctx, "stripe", good, signed(good)))
	testutil.AssertCount(t, db, "payment_events", "processed_at IS NULL AND attempts = 1", 4)

	replayed := 0
	for round := 0; round < 2; round++ {
		n, err := svc.ReplayPending(ctx, cutoff, 3)
		require.NoError(t, err)
		replayed += n
	}
	assert.Equal(t, 1, replayed)
	testutil.AssertCount(t, db, "payment_events", "provider_event_id = ? AND processed_at IS NOT NULL", 1, "evt_good")

	// Events that keep failing stop being picked up once out of attempts.
	for round := 0; round < paymentdomain.MaxReplayAttempts; round++ {
		_, err := svc.ReplayPending(ctx, cutoff, 3)
		require.NoError(t, err)
	}
	testutil.AssertCount(t, db, "payment_events", "processed_at IS NULL AND attempts = ?", 3, paymentdomain.MaxReplayAttempts)

	calls := len(payments.Calls)
	n, err := svc.ReplayPending(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, payments.Calls, calls)
}
