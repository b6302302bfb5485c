// Package webhook обрабатывает уведомления платёжного шлюза: проверяет подпись,
// отбрасывает чужие и повторные события и применяет остальные к кошельку и подпискам.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/metrics"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Wallet начисления в журнал.
type Wallet interface {
	Credit(ctx context.Context, req models.CreditRequest) (models.Receipt, error)
}

// Subscriptions изменения подписок.
type Subscriptions interface {
	Activate(ctx context.Context, req models.ActivateRequest) (bool, error)
	ExtendPeriod(ctx context.Context, userID string, newPeriodEnd time.Time) (bool, error)
	Cancel(ctx context.Context, userID string, immediate bool) (bool, error)
}

// EventLog журнал обработанных событий шлюза.
type EventLog interface {
	RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) (bool, error)
	PaymentEventExists(ctx context.Context, eventKey string) (bool, error)
}

// Notifier публикует уведомления для оператора.
type Notifier interface {
	Publish(ctx context.Context, n models.BillingNotification) error
}

// Config параметры обработки.
type Config struct {
	Secret             string
	TenantID           string
	SubscriptionPeriod time.Duration
}

// Processor обработчик вебхуков шлюза.
type Processor struct {
	cfg      Config
	wallet   Wallet
	subs     Subscriptions
	events   EventLog
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт Processor. notifier может быть nil, тогда уведомления не отправляются.
func New(cfg Config, wallet Wallet, subs Subscriptions, events EventLog, notifier Notifier, m *metrics.Metrics, log *slog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		wallet:   wallet,
		subs:     subs,
		events:   events,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Sign возвращает подпись тела в том виде, в котором её присылает шлюз.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись за постоянное время.
func Verify(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Handle проверяет и применяет событие. models.ErrBadSignature означает, что тело
// не от шлюза. Любая другая ошибка инфраструктурная, шлюз должен повторить доставку.
func (p *Processor) Handle(ctx context.Context, raw []byte, signature string) (models.WebhookAck, error) {
	const op = "webhook.Handle"
	log := p.log.With(slog.String("op", op))

	if !Verify(p.cfg.Secret, raw, signature) {
		p.metrics.WebhookEvent("unknown", "bad_signature")
		log.Warn("invalid or missing webhook signature")
		return models.WebhookAck{}, fmt.Errorf("%s: %w", op, models.ErrBadSignature)
	}

	var event models.GatewayEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		log.Warn("malformed webhook payload", sl.Err(err))
		return p.ack(event, models.AckIgnored, "malformed payload"), nil
	}
	log = log.With(slog.String("event", event.Event), slog.String("event_id", event.ID))

	if !supported(event.Event) {
		log.Info("ignored webhook event")
		return p.ack(event, models.AckIgnored, "unsupported event"), nil
	}

	notes := event.Notes()
	if project := notes[models.NoteProject]; project == "" || project != p.cfg.TenantID {
		log.Info("event belongs to another deployment", slog.String("project", notes[models.NoteProject]))
		return p.ack(event, models.AckIgnored, "foreign tenant"), nil
	}

	key := event.Key()
	if key == "" {
		return p.ack(event, models.AckIgnored, "missing entity"), nil
	}
	seen, err := p.events.PaymentEventExists(ctx, key)
	if err != nil {
		return models.WebhookAck{}, fmt.Errorf("%s: %w", op, err)
	}
	if seen {
		log.Info("duplicate webhook event")
		return p.ack(event, models.AckDuplicate, ""), nil
	}

	userID := notes[models.NoteUserID]
	if userID == "" {
		return p.record(ctx, log, event, raw, "", models.AckIgnored, "missing user_id")
	}

	var status, reason string
	switch event.Event {
	case models.EventPaymentCaptured:
		status, reason, err = p.paymentCaptured(ctx, event, userID)
	case models.EventSubscriptionCharged:
		status, reason, err = p.subscriptionCharged(ctx, event, userID)
	case models.EventSubscriptionCancelled:
		status, reason, err = p.subscriptionCancelled(ctx, event, userID)
	case models.EventPaymentFailed:
		return p.paymentFailed(ctx, log, event, raw, userID)
	}
	if err != nil {
		log.Error("failed to apply webhook event", sl.Err(err))
		p.metrics.WebhookEvent(event.Event, "error")
		return models.WebhookAck{}, fmt.Errorf("%s: %w", op, err)
	}
	return p.record(ctx, log, event, raw, userID, status, reason)
}

func supported(event string) bool {
	switch event {
	case models.EventPaymentCaptured, models.EventPaymentFailed,
		models.EventSubscriptionCharged, models.EventSubscriptionCancelled:
		return true
	}
	return false
}

func (p *Processor) paymentCaptured(ctx context.Context, event models.GatewayEvent, userID string) (string, string, error) {
	payment := event.Payload.Payment
	if payment == nil {
		return models.AckIgnored, "missing payment entity", nil
	}
	notes := payment.Notes

	switch notes[models.NoteOrderType] {
	case models.OrderTypeCredits:
		amount, err := creditsOf(payment)
		if err != nil {
			return models.AckIgnored, err.Error(), nil
		}
		receipt, err := p.wallet.Credit(ctx, models.CreditRequest{
			UserID:      userID,
			Amount:      amount,
			Kind:        models.KindPurchase,
			ExternalRef: payment.ID,
			Description: "credit purchase " + payment.OrderID,
			Metadata:    map[string]string{"order_id": payment.OrderID, "currency": payment.Currency},
		})
		if err != nil {
			return "", "", err
		}
		if receipt.Duplicate {
			return models.AckDuplicate, "payment already credited", nil
		}
		return models.AckApplied, "", nil

	case models.OrderTypeSubscription:
		planType := notes[models.NotePlanType]
		if planType == "" {
			return models.AckIgnored, "missing plan_type", nil
		}
		start := time.Unix(payment.CreatedAt, 0).UTC()
		if payment.CreatedAt == 0 {
			start = p.now().UTC()
		}
		externalID := firstNonEmpty(notes[models.NoteSubscriptionID], payment.SubscriptionID, payment.OrderID)
		changed, err := p.subs.Activate(ctx, models.ActivateRequest{
			UserID:                 userID,
			PlanType:               planType,
			ExternalSubscriptionID: externalID,
			PeriodStart:            start,
			PeriodEnd:              start.Add(p.cfg.SubscriptionPeriod),
		})
		if err != nil {
			return "", "", err
		}
		if !changed {
			return models.AckDuplicate, "subscription already active", nil
		}
		return models.AckApplied, "", nil
	}
	return models.AckIgnored, "unknown order_type", nil
}

func (p *Processor) subscriptionCharged(ctx context.Context, event models.GatewayEvent, userID string) (string, string, error) {
	entity := event.Payload.Subscription
	if entity == nil || entity.CurrentEnd == 0 {
		return models.AckIgnored, "missing subscription period", nil
	}
	end := time.Unix(entity.CurrentEnd, 0).UTC()

	changed, err := p.subs.ExtendPeriod(ctx, userID, end)
	if errors.Is(err, models.ErrSubscriptionNotFound) {
		planType := firstNonEmpty(entity.Notes[models.NotePlanType], entity.PlanID)
		start := time.Unix(entity.CurrentStart, 0).UTC()
		if entity.CurrentStart == 0 {
			start = end.Add(-p.cfg.SubscriptionPeriod)
		}
		changed, err = p.subs.Activate(ctx, models.ActivateRequest{
			UserID:                 userID,
			PlanType:               planType,
			ExternalSubscriptionID: entity.ID,
			PeriodStart:            start,
			PeriodEnd:              end,
		})
	}
	if err != nil {
		return "", "", err
	}
	if !changed {
		return models.AckDuplicate, "period already covered", nil
	}
	return models.AckApplied, "", nil
}

func (p *Processor) subscriptionCancelled(ctx context.Context, event models.GatewayEvent, userID string) (string, string, error) {
	changed, err := p.subs.Cancel(ctx, userID, false)
	if errors.Is(err, models.ErrSubscriptionNotFound) {
		return models.AckIgnored, "no subscription", nil
	}
	if err != nil {
		return "", "", err
	}

	if !changed {
		return models.AckDuplicate, "already cancelled", nil
	}

	n := models.BillingNotification{
		Type:       models.NotificationSubscriptionCancelled,
		UserID:     userID,
		OccurredAt: p.now().UTC(),
	}
	if s := event.Payload.Subscription; s != nil {
		n.ExternalID = s.ID
		n.PlanType = firstNonEmpty(s.Notes[models.NotePlanType], s.PlanID)
	}
	p.notify(ctx, n)
	return models.AckApplied, "", nil
}

func (p *Processor) paymentFailed(ctx context.Context, log *slog.Logger, event models.GatewayEvent, raw []byte, userID string) (models.WebhookAck, error) {
	const op = "webhook.paymentFailed"
	n := models.BillingNotification{
		Type:       models.NotificationPaymentFailed,
		UserID:     userID,
		OccurredAt: p.now().UTC(),
	}
	if pay := event.Payload.Payment; pay != nil {
		n.ExternalID = pay.ID
		n.Amount = pay.Amount
		n.Currency = pay.Currency
		n.Reason = firstNonEmpty(pay.ErrorDescription, pay.ErrorCode)
	}

	inserted, err := p.events.RecordPaymentEvent(ctx, p.paymentEvent(event, raw, userID, models.AckApplied, n.Reason))
	if err != nil {
		p.metrics.WebhookEvent(event.Event, "error")
		return models.WebhookAck{}, fmt.Errorf("%s: %w", op, err)
	}
	if !inserted {
		return p.ack(event, models.AckDuplicate, ""), nil
	}
	p.notify(ctx, n)
	log.Info("payment failure recorded", slog.String("user_id", userID))
	return p.ack(event, models.AckApplied, n.Reason), nil
}

func (p *Processor) notify(ctx context.Context, n models.BillingNotification) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, n); err != nil {
		p.log.Warn("failed to publish billing notification",
			slog.String("type", n.Type),
			slog.String("user_id", n.UserID),
			sl.Err(err),
		)
	}
}

// record сохраняет событие после применения. Эффект уже идемпотентен,
// поэтому ошибка записи только логируется.
func (p *Processor) record(ctx context.Context, log *slog.Logger, event models.GatewayEvent, raw []byte, userID, status, reason string) (models.WebhookAck, error) {
	if _, err := p.events.RecordPaymentEvent(ctx, p.paymentEvent(event, raw, userID, status, reason)); err != nil {
		log.Error("failed to record payment event", sl.Err(err))
	}
	log.Info("webhook processed", slog.String("status", status), slog.String("user_id", userID))
	return p.ack(event, status, reason), nil
}

func (p *Processor) paymentEvent(event models.GatewayEvent, raw []byte, userID, status, reason string) models.PaymentEvent {
	e := models.PaymentEvent{
		EventKey:   event.Key(),
		EventType:  event.Event,
		UserID:     userID,
		Status:     status,
		Reason:     reason,
		Payload:    json.RawMessage(raw),
		ReceivedAt: p.now().UTC(),
	}
	switch {
	case event.Payload.Payment != nil:
		e.ExternalID = event.Payload.Payment.ID
	case event.Payload.Subscription != nil:
		e.ExternalID = event.Payload.Subscription.ID
	}
	return e
}

func (p *Processor) ack(event models.GatewayEvent, status, reason string) models.WebhookAck {
	p.metrics.WebhookEvent(eventLabel(event.Event), status)
	return models.WebhookAck{
		EventID: event.ID,
		Event:   event.Event,
		Status:  status,
		Reason:  reason,
	}
}

func eventLabel(event string) string {
	if supported(event) {
		return event
	}
	return "other"
}

// creditsOf количество кредитов из notes.credits, иначе сумма платежа в основных единицах.
func creditsOf(p *models.PaymentEntity) (decimal.Decimal, error) {
	amount := decimal.New(p.Amount, -2)
	if raw := strings.TrimSpace(p.Notes[models.NoteCredits]); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid credits %q", raw)
		}
		amount = d
	}
	if !models.ValidAmount(amount) {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount)
	}
	return amount, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
