package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
)

const providerName = "stripe"

// signatureTolerance bounds how old a signed timestamp may be.
const signatureTolerance = 5 * time.Minute

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

// NewAdapter expects the endpoint signing secret under "webhook_secret".
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, _ := cfg.Config["webhook_secret"].(string)
	if secret = strings.TrimSpace(secret); secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret, now: time.Now}, nil
}

type Adapter struct {
	webhookSecret string
	now           func() time.Time
}

// Verify checks the Stripe-Signature header: an HMAC-SHA256 over
// "<t>.<payload>" that must match one of the v1 values and be signed within
// signatureTolerance of now.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sig, ok := parseSignatureHeader(headers.Get("Stripe-Signature"))
	if !ok {
		return paymentdomain.ErrInvalidSignature
	}
	if a.now != nil && !sig.fresh(a.now()) {
		return paymentdomain.ErrInvalidSignature
	}
	if !sig.matches(a.webhookSecret, payload) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type signatureHeader struct {
	timestamp string
	v1        []string
}

func parseSignatureHeader(header string) (signatureHeader, bool) {
	var sig signatureHeader
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch value = strings.TrimSpace(value); strings.TrimSpace(key) {
		case "t":
			sig.timestamp = value
		case "v1":
			sig.v1 = append(sig.v1, value)
		}
	}
	return sig, sig.timestamp != "" && len(sig.v1) > 0
}

func (h signatureHeader) fresh(now time.Time) bool {
	signedAt, err := strconv.ParseInt(h.timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(signedAt, 0))
	return age <= signatureTolerance && age >= -signatureTolerance
}

func (h signatureHeader) matches(secret string, payload []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(h.timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	expected := []byte(hex.EncodeToString(mac.Sum(nil)))
	for _, candidate := range h.v1 {
		if hmac.Equal([]byte(candidate), expected) {
			return true
		}
	}
	return false
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return parseSession(event, payload, paymentdomain.EventTypeCheckoutCompleted)
	case "checkout.session.expired":
		return parseSession(event, payload, paymentdomain.EventTypeCheckoutExpired)
	case "charge.refunded":
		return parseRefund(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSession struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	PaymentStatus string `json:"payment_status"`
	Created       int64  `json:"created"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
}

func parseSession(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var session stripeSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if eventType == paymentdomain.EventTypeCheckoutCompleted {
		// Delayed payment methods complete the session before money moves.
		if session.PaymentStatus != "" && session.PaymentStatus != "paid" {
			return nil, paymentdomain.ErrEventIgnored
		}
		if strings.TrimSpace(session.PaymentIntent) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
	}

	return &paymentdomain.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: event.ID,
		Type:            eventType,
		SessionID:       session.ID,
		PaymentIntentID: strings.TrimSpace(session.PaymentIntent),
		Amount:          session.AmountTotal,
		Currency:        strings.ToUpper(strings.TrimSpace(session.Currency)),
		OccurredAt:      timestamp(session.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseRefund(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := charge.Amount
	if charge.AmountRefunded > 0 {
		amount = charge.AmountRefunded
	}
	return &paymentdomain.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeChargeRefunded,
		ChargeID:        charge.ID,
		PaymentIntentID: strings.TrimSpace(charge.PaymentIntent),
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

// timestamp prefers the object's own creation time over the event's.
func timestamp(object, event int64) time.Time {
	for _, sec := range []int64{object, event} {
		if sec != 0 {
			return time.Unix(sec, 0).UTC()
		}
	}
	return time.Now().UTC()
}
