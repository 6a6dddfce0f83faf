package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type emailNotifier struct {
	log      *zap.Logger
	mailer   Mailer
	director string
	currency string
}

type receiptData struct {
	Recipient
	PaymentIdentifier string
	Amount            string
}

func (n *emailNotifier) SendConfirmation(ctx context.Context, to Recipient) error {
	return n.send(ctx, []string{to.Email}, fmt.Sprintf("You're registered for %s", to.TournamentName), "confirmation", to)
}

func (n *emailNotifier) SendRegistrationNotice(ctx context.Context, to Recipient) error {
	if strings.TrimSpace(n.director) == "" {
		n.log.Debug("no director address, skipping registration notice", zap.String("bowler", to.BowlerIdentifier))
		return nil
	}
	return n.send(ctx, []string{n.director}, fmt.Sprintf("New registration: %s", to.Name), "registration_notice", to)
}

func (n *emailNotifier) SendReceipt(ctx context.Context, to Recipient, paymentIdentifier string, amount int64) error {
	data := receiptData{
		Recipient:         to,
		PaymentIdentifier: paymentIdentifier,
		Amount:            FormatMoney(amount, n.currency),
	}
	return n.send(ctx, []string{to.Email}, fmt.Sprintf("Payment received for %s", to.TournamentName), "receipt", data)
}

func (n *emailNotifier) send(ctx context.Context, to []string, subject, templateName string, data any) error {
	recipients := to[:0]
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return ErrNoRecipient
	}

	body, err := render(templateName, data)
	if err != nil {
		return err
	}
	if err := n.mailer.Send(ctx, recipients, subject, body); err != nil {
		n.log.Warn("email delivery failed", zap.String("template", templateName), zap.Error(err))
		return err
	}
	n.log.Info("email sent", zap.String("template", templateName))
	return nil
}
