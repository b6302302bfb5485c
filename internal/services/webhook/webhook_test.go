package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
	"github.com/magabrotheeeer/billing-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/billing-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/billing-ledger/internal/storage/memory"
)

const (
	secret = "whsec_test"
	tenant = "billing-eu"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []models.BillingNotification
}

func (c *captureNotifier) Publish(_ context.Context, n models.BillingNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

type fixture struct {
	store    *memory.Store
	wallet   *ledger.Service
	subs     *subscription.Service
	notifier *captureNotifier
	proc     *Processor
}

func newFixture() fixture {
	log := newNoopLogger()
	store := memory.New()
	wallet := ledger.New(store, decimal.NewFromInt(100), nil, log)
	subs := subscription.New(store, subscription.TrialConfig{}, log).WithClock(func() time.Time { return now })
	notifier := &captureNotifier{}
	proc := New(Config{Secret: secret, TenantID: tenant, SubscriptionPeriod: 30 * 24 * time.Hour},
		wallet, subs, store, notifier, nil, log)
	proc.now = func() time.Time { return now }
	return fixture{store: store, wallet: wallet, subs: subs, notifier: notifier, proc: proc}
}

func (f fixture) deliver(t *testing.T, event models.GatewayEvent) models.WebhookAck {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	ack, err := f.proc.Handle(context.Background(), body, Sign(secret, body))
	require.NoError(t, err)
	return ack
}

func (f fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.wallet.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.Balance
}

func creditPurchase(eventID, paymentID, userID, project, credits string, amount int64) models.GatewayEvent {
	notes := map[string]string{
		models.NoteUserID:    userID,
		models.NoteOrderType: models.OrderTypeCredits,
		models.NoteProject:   project,
	}
	if credits != "" {
		notes[models.NoteCredits] = credits
	}
	return models.GatewayEvent{
		ID:    eventID,
		Event: models.EventPaymentCaptured,
		Payload: models.EventPayload{Payment: &models.PaymentEntity{
			ID: paymentID, OrderID: "order_" + paymentID, Status: "captured",
			Currency: "USD", Amount: amount, Notes: notes, CreatedAt: now.Unix(),
		}},
	}
}

func TestProcessor_BadSignature(t *testing.T) {
	f := newFixture()
	body, err := json.Marshal(creditPurchase("evt_1", "pay_1", "u1", tenant, "25", 0))
	require.NoError(t, err)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "wrong secret", signature: Sign("other", body)},
		{name: "garbage", signature: "not-base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Handle(context.Background(), body, tt.signature)
			assert.ErrorIs(t, err, models.ErrBadSignature)
		})
	}

	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(100)))
	seen, err := f.store.PaymentEventExists(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestProcessor_CreditPurchaseIsIdempotent(t *testing.T) {
	f := newFixture()

	ack := f.deliver(t, creditPurchase("evt_1", "pay_1", "u1", tenant, "25", 2500))
	assert.Equal(t, models.AckApplied, ack.Status)
	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(125)))

	ack = f.deliver(t, creditPurchase("evt_1", "pay_1", "u1", tenant, "25", 2500))
	assert.Equal(t, models.AckDuplicate, ack.Status)

	// другой event id для того же платежа
	ack = f.deliver(t, creditPurchase("evt_2", "pay_1", "u1", tenant, "25", 2500))
	assert.Equal(t, models.AckDuplicate, ack.Status)

	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(125)))

	rec, err := f.wallet.Reconcile(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

func TestProcessor_CreditAmountFromMinorUnits(t *testing.T) {
	f := newFixture()
	ack := f.deliver(t, creditPurchase("evt_1", "pay_1", "u1", tenant, "", 4999))
	assert.Equal(t, models.AckApplied, ack.Status)
	assert.True(t, f.balance(t, "u1").Equal(decimal.RequireFromString("149.99")))
}

func TestProcessor_TenantIsolation(t *testing.T) {
	f := newFixture()

	events := []models.GatewayEvent{
		creditPurchase("evt_1", "pay_1", "u1", "billing-us", "25", 0),
		creditPurchase("evt_2", "pay_2", "u1", "", "25", 0),
		{
			ID: "evt_3", Event: models.EventSubscriptionCancelled,
			Payload: models.EventPayload{Subscription: &models.SubscriptionEntity{
				ID: "sub_1", Notes: map[string]string{models.NoteUserID: "u1", models.NoteProject: "billing-us"},
			}},
		},
	}
	f.store.PutSubscription(models.Subscription{
		UserID: "u1", PlanType: models.PlanTier2, Status: models.StatusActive,
		CurrentPeriodStart: now.Add(-time.Hour), CurrentPeriodEnd: now.Add(time.Hour),
	})

	for _, e := range events {
		ack := f.deliver(t, e)
		assert.Equal(t, models.AckIgnored, ack.Status, e.ID)
	}

	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(100)))
	sub, err := f.subs.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Empty(t, f.notifier.sent)
}

func TestProcessor_EmptyTenantMatchesNothing(t *testing.T) {
	f := newFixture()
	f.proc.cfg.TenantID = ""

	ack := f.deliver(t, creditPurchase("evt_1", "pay_1", "u1", "", "25", 0))
	assert.Equal(t, models.AckIgnored, ack.Status)
	assert.Equal(t, "foreign tenant", ack.Reason)
	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(100)))
}

func TestProcessor_CreditFinerThanLedgerScale(t *testing.T) {
	f := newFixture()

	ack := f.deliver(t, creditPurchase("evt_1", "pay_1", "u1", tenant, "0.00004", 0))
	assert.Equal(t, models.AckIgnored, ack.Status)
	assert.Contains(t, ack.Reason, models.ErrInvalidAmount.Error())
	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(100)))

	again := f.deliver(t, creditPurchase("evt_1", "pay_1", "u1", tenant, "0.00004", 0))
	assert.Equal(t, models.AckDuplicate, again.Status)
}

func TestProcessor_SubscriptionLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	notes := map[string]string{
		models.NoteUserID:         "u1",
		models.NoteProject:        tenant,
		models.NoteOrderType:      models.OrderTypeSubscription,
		models.NotePlanType:       models.PlanTier3,
		models.NoteSubscriptionID: "sub_1",
	}

	ack := f.deliver(t, models.GatewayEvent{
		ID: "evt_1", Event: models.EventPaymentCaptured,
		Payload: models.EventPayload{Payment: &models.PaymentEntity{ID: "pay_1", Amount: 1999, Notes: notes, CreatedAt: now.Unix()}},
	})
	require.Equal(t, models.AckApplied, ack.Status)

	sub, err := f.subs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, models.PlanTier3, sub.PlanType)
	assert.Equal(t, now.Add(30*24*time.Hour), sub.CurrentPeriodEnd)
	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(100)), "subscription payment is not a wallet credit")

	newEnd := now.Add(60 * 24 * time.Hour).Truncate(time.Second)
	charged := models.GatewayEvent{
		ID: "evt_2", Event: models.EventSubscriptionCharged,
		Payload: models.EventPayload{Subscription: &models.SubscriptionEntity{
			ID: "sub_1", Status: "active", CurrentStart: now.Add(30 * 24 * time.Hour).Unix(), CurrentEnd: newEnd.Unix(), Notes: notes,
		}},
	}
	assert.Equal(t, models.AckApplied, f.deliver(t, charged).Status)
	charged.ID = "evt_2b"
	assert.Equal(t, models.AckDuplicate, f.deliver(t, charged).Status)

	sub, err = f.subs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, newEnd.Equal(sub.CurrentPeriodEnd))

	ack = f.deliver(t, models.GatewayEvent{
		ID: "evt_3", Event: models.EventSubscriptionCancelled,
		Payload: models.EventPayload{Subscription: &models.SubscriptionEntity{ID: "sub_1", Notes: notes}},
	})
	assert.Equal(t, models.AckApplied, ack.Status)

	sub, err = f.subs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, models.StatusActive, sub.Status)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.NotificationSubscriptionCancelled, f.notifier.sent[0].Type)
	assert.Equal(t, models.PlanTier3, f.notifier.sent[0].PlanType)
}

func TestProcessor_ChargedWithoutRecordActivates(t *testing.T) {
	f := newFixture()
	ack := f.deliver(t, models.GatewayEvent{
		ID: "evt_1", Event: models.EventSubscriptionCharged,
		Payload: models.EventPayload{Subscription: &models.SubscriptionEntity{
			ID: "sub_9", PlanID: models.PlanTier2,
			CurrentStart: now.Unix(), CurrentEnd: now.Add(24 * time.Hour).Unix(),
			Notes: map[string]string{models.NoteUserID: "u2", models.NoteProject: tenant},
		}},
	})
	assert.Equal(t, models.AckApplied, ack.Status)

	entitled, err := f.subs.IsEntitled(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, entitled)
}

func TestProcessor_PaymentFailed(t *testing.T) {
	f := newFixture()
	event := models.GatewayEvent{
		ID: "evt_1", Event: models.EventPaymentFailed,
		Payload: models.EventPayload{Payment: &models.PaymentEntity{
			ID: "pay_1", Amount: 500, Currency: "USD", Status: "failed",
			ErrorCode: "BAD_REQUEST_ERROR", ErrorDescription: "card declined",
			Notes: map[string]string{models.NoteUserID: "u1", models.NoteProject: tenant, models.NoteOrderType: models.OrderTypeCredits},
		}},
	}

	ack := f.deliver(t, event)
	assert.Equal(t, models.AckApplied, ack.Status)
	ack = f.deliver(t, event)
	assert.Equal(t, models.AckDuplicate, ack.Status)

	events, err := f.store.ListPaymentEvents(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "card declined", events[0].Reason)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.NotificationPaymentFailed, f.notifier.sent[0].Type)
	assert.Equal(t, int64(500), f.notifier.sent[0].Amount)

	assert.True(t, f.balance(t, "u1").Equal(decimal.NewFromInt(100)))
}

func TestProcessor_Ignored(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name   string
		body   []byte
		reason string
	}{
		{name: "malformed", body: []byte(`{"event":`), reason: "malformed payload"},
		{name: "unsupported", body: []byte(`{"id":"evt_1","event":"refund.created"}`), reason: "unsupported event"},
		{
			name:   "missing user",
			body:   []byte(`{"id":"evt_2","event":"payment.captured","payload":{"payment":{"id":"pay_2","notes":{"project":"billing-eu","order_type":"credits"}}}}`),
			reason: "missing user_id",
		},
		{
			name:   "unknown order type",
			body:   []byte(`{"id":"evt_3","event":"payment.captured","payload":{"payment":{"id":"pay_3","amount":100,"notes":{"project":"billing-eu","user_id":"u1","order_type":"gift"}}}}`),
			reason: "unknown order_type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := f.proc.Handle(context.Background(), tt.body, Sign(secret, tt.body))
			require.NoError(t, err)
			assert.Equal(t, models.AckIgnored, ack.Status)
			assert.Equal(t, tt.reason, ack.Reason)
		})
	}
}

type failingEvents struct{}

func (failingEvents) RecordPaymentEvent(context.Context, models.PaymentEvent) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingEvents) PaymentEventExists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestProcessor_InfrastructureError(t *testing.T) {
	f := newFixture()
	proc := New(Config{Secret: secret, TenantID: tenant}, f.wallet, f.subs, failingEvents{}, nil, nil, newNoopLogger())

	body, err := json.Marshal(creditPurchase("evt_1", "pay_1", "u1", tenant, "25", 0))
	require.NoError(t, err)
	_, err = proc.Handle(context.Background(), body, Sign(secret, body))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrBadSignature)
}
