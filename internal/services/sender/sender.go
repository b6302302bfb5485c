// Package sender отправляет оператору письма о событиях биллинга из RabbitMQ.
package sender

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/smtp"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// ErrMalformedMessage сообщение нельзя разобрать, повторная доставка не поможет.
var ErrMalformedMessage = errors.New("malformed notification")

type SenderService struct {
	transport smtp.TransportInterface
	operator  string
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(log *slog.Logger, transport smtp.TransportInterface, operatorEmail string) *SenderService {
	return &SenderService{
		transport: transport,
		operator:  operatorEmail,
		log:       log,
	}
}

// SendBillingNotification разбирает уведомление и отправляет письмо оператору.
func (s *SenderService) SendBillingNotification(body []byte) error {
	const op = "sender.SendBillingNotification"
	var n models.BillingNotification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Error("failed to unmarshal message body", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	subject, text, err := compose(n)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sendEmail([]string{s.operator}, subject, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func compose(n models.BillingNotification) (string, string, error) {
	at := n.OccurredAt.UTC().Format(time.RFC3339)
	switch n.Type {
	case models.NotificationPaymentFailed:
		subject := "Payment failed for user " + n.UserID
		text := fmt.Sprintf("Payment %s of user %s failed at %s.\nAmount: %s %s\nReason: %s",
			n.ExternalID, n.UserID, at, formatMinor(n.Amount), n.Currency, n.Reason)
		return subject, text, nil
	case models.NotificationSubscriptionCancelled:
		subject := "Subscription cancelled for user " + n.UserID
		text := fmt.Sprintf("Subscription %s (plan %s) of user %s was cancelled at %s.\nAccess stays until the end of the paid period.",
			n.ExternalID, n.PlanType, n.UserID, at)
		return subject, text, nil
	}
	return "", "", fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, n.Type)
}

func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.log.Debug("smtp client close", sl.Err(err))
		}
	}()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", s.transport.GetSMTPUser()), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to), slog.String("subject", subject))
	return nil
}
