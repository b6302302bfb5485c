package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   LedgerEntry
		wantErr bool
	}{
		{
			name:  "debit",
			entry: LedgerEntry{UserID: "u1", Kind: KindDebit, Amount: d("0.20"), BalanceBefore: d("100"), BalanceAfter: d("99.80")},
		},
		{
			name:  "purchase",
			entry: LedgerEntry{UserID: "u1", Kind: KindPurchase, Amount: d("10"), BalanceBefore: d("0"), BalanceAfter: d("10")},
		},
		{
			name:    "credit arithmetic mismatch",
			entry:   LedgerEntry{UserID: "u1", Kind: KindRefund, Amount: d("5"), BalanceBefore: d("1"), BalanceAfter: d("5")},
			wantErr: true,
		},
		{
			name:    "debit below zero",
			entry:   LedgerEntry{UserID: "u1", Kind: KindDebit, Amount: d("5"), BalanceBefore: d("1"), BalanceAfter: d("-4")},
			wantErr: true,
		},
		{
			name:    "zero amount",
			entry:   LedgerEntry{UserID: "u1", Kind: KindBonus, Amount: d("0"), BalanceBefore: d("1"), BalanceAfter: d("1")},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			entry:   LedgerEntry{UserID: "u1", Kind: "gift", Amount: d("1"), BalanceBefore: d("1"), BalanceAfter: d("2")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvariantViolation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckBalance(t *testing.T) {
	assert.NoError(t, CheckBalance(Balance{Balance: d("99"), LifetimePurchased: d("100"), LifetimeSpent: d("1")}))
	assert.ErrorIs(t, CheckBalance(Balance{Balance: d("98"), LifetimePurchased: d("100"), LifetimeSpent: d("1")}), ErrInvariantViolation)
	assert.ErrorIs(t, CheckBalance(Balance{Balance: d("-1"), LifetimePurchased: d("0"), LifetimeSpent: d("1")}), ErrInvariantViolation)
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	var err error = &InsufficientBalanceError{Required: d("10"), Available: d("3")}
	wrapped := fmt.Errorf("ledger.Debit: %w", err)
	assert.ErrorIs(t, wrapped, ErrInsufficientBalance)
	assert.NotErrorIs(t, wrapped, ErrQuotaExceeded)

	var ib *InsufficientBalanceError
	assert.True(t, errors.As(wrapped, &ib))
	assert.True(t, ib.Available.Equal(d("3")))

	qe := fmt.Errorf("quota: %w", &QuotaExceededError{Limit: 5, Used: 5})
	assert.ErrorIs(t, qe, ErrQuotaExceeded)
}

func TestPlanLimit_LimitFor(t *testing.T) {
	five := 5
	plan := PlanLimit{
		PlanType:    PlanTier2,
		DailyLimits: map[string]*int{"scan": &five, "ai_query": nil},
	}

	limit, unlimited := plan.LimitFor("scan")
	assert.Equal(t, 5, limit)
	assert.False(t, unlimited)

	_, unlimited = plan.LimitFor("ai_query")
	assert.True(t, unlimited)

	limit, unlimited = plan.LimitFor("backtest")
	assert.Equal(t, 0, limit)
	assert.False(t, unlimited)
}

func TestSubscription_EntitledAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active in period", Subscription{Status: StatusActive, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"trial in period", Subscription{Status: StatusTrial, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"active period ended", Subscription{Status: StatusActive, CurrentPeriodEnd: now}, false},
		{"cancelled", Subscription{Status: StatusCancelled, CurrentPeriodEnd: now.Add(time.Hour)}, false},
		{"expired", Subscription{Status: StatusExpired, CurrentPeriodEnd: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.EntitledAt(now))
		})
	}
}

func TestInsufficientTokensMessage(t *testing.T) {
	tests := []struct {
		name      string
		required  string
		available string
		want      string
	}{
		{"cents", "0.2", "0.05", "Insufficient tokens. Required: 0.20, Available: 0.05"},
		{"empty wallet", "0.25", "0", "Insufficient tokens. Required: 0.25, Available: 0.00"},
		{"sub-cent", "0.0100", "0.0050", "Insufficient tokens. Required: 0.01, Available: 0.0050"},
		{"both sub-cent", "0.0075", "0.0074", "Insufficient tokens. Required: 0.0075, Available: 0.0074"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InsufficientTokensMessage(d(tt.required), d(tt.available)))
		})
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"0.25", true},
		{"0.0001", true},
		{"0.10000", true},
		{"100", true},
		{"0.00005", false},
		{"0.00004", false},
		{"0", false},
		{"-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAmount(d(tt.amount)))
		})
	}
}

func TestGatewayEvent_Key(t *testing.T) {
	e := GatewayEvent{Event: EventPaymentCaptured, Payload: EventPayload{Payment: &PaymentEntity{ID: "pay_1"}}}
	assert.Equal(t, "payment.captured:pay_1", e.Key())

	e.ID = "evt_1"
	assert.Equal(t, "evt_1", e.Key())
}
