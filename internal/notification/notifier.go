// Package notification delivers registration and payment messages to bowlers.
package notification

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/lanes/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Recipient struct {
	BowlerIdentifier string
	Name             string
	Email            string
	TournamentName   string
}

// Notifier is fire-and-forget; callers log failures and move on.
type Notifier interface {
	SendConfirmation(ctx context.Context, to Recipient) error
	SendRegistrationNotice(ctx context.Context, to Recipient) error
	SendReceipt(ctx context.Context, to Recipient, paymentIdentifier string, amount int64) error
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config `optional:"true"`
	Mailer Mailer        `optional:"true"`
}

// NewNotifier sends email when SMTP is configured and logs otherwise.
func NewNotifier(p Params) Notifier {
	mailer := p.Mailer
	if mailer == nil && p.Cfg.Email.Enabled() {
		mailer = NewSMTPMailer(p.Cfg.Email)
	}
	if mailer == nil {
		return NewLogNotifier(p)
	}
	return &emailNotifier{
		log:      p.Log.Named("notification"),
		mailer:   mailer,
		director: p.Cfg.Email.DirectorAddress,
		currency: currencyOf(p.Cfg),
	}
}

func currencyOf(cfg config.Config) string {
	if c := strings.TrimSpace(cfg.Stripe.Currency); c != "" {
		return c
	}
	return "USD"
}

type logNotifier struct {
	log      *zap.Logger
	currency string
}

func NewLogNotifier(p Params) Notifier {
	return &logNotifier{log: p.Log.Named("notification"), currency: currencyOf(p.Cfg)}
}

func (n *logNotifier) SendConfirmation(ctx context.Context, to Recipient) error {
	n.log.Info("registration confirmation queued",
		zap.String("bowler", to.BowlerIdentifier),
		zap.String("tournament", to.TournamentName),
	)
	return nil
}

func (n *logNotifier) SendRegistrationNotice(ctx context.Context, to Recipient) error {
	n.log.Info("director registration notice queued",
		zap.String("bowler", to.BowlerIdentifier),
		zap.String("name", to.Name),
		zap.String("tournament", to.TournamentName),
	)
	return nil
}

func (n *logNotifier) SendReceipt(ctx context.Context, to Recipient, paymentIdentifier string, amount int64) error {
	n.log.Info("payment receipt queued",
		zap.String("bowler", to.BowlerIdentifier),
		zap.String("payment", paymentIdentifier),
		zap.String("amount", FormatMoney(amount, n.currency)),
	)
	return nil
}

// FormatMoney renders minor units, e.g. 12050 USD -> "120.50 USD".
func FormatMoney(minor int64, currency string) string {
	value := decimal.New(minor, -2).StringFixed(2)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return value
	}
	return value + " " + currency
}

var Module = fx.Module("notification",
	fx.Provide(NewNotifier),
)
