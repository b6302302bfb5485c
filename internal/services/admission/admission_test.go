package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
	"github.com/magabrotheeeer/billing-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/billing-ledger/internal/services/quota"
	"github.com/magabrotheeeer/billing-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/billing-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type dayClock struct{}

func (dayClock) Today() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }

type storePlans struct{ store *memory.Store }

func (p storePlans) Get(ctx context.Context, planType string) (models.PlanLimit, error) {
	return p.store.GetPlan(ctx, planType)
}

type fixture struct {
	store  *memory.Store
	guard  *Guard
	wallet *ledger.Service
	subs   *subscription.Service
}

func newFixture(grant string) fixture {
	log := newNoopLogger()
	store := memory.New()
	wallet := ledger.New(store, dec(grant), nil, log)
	subs := subscription.New(store, subscription.TrialConfig{}, log).WithClock(func() time.Time { return now })
	q := quota.New(store, storePlans{store}, dayClock{}, log)
	return fixture{
		store:  store,
		guard:  New(subs, q, wallet, nil, log),
		wallet: wallet,
		subs:   subs,
	}
}

func (f fixture) subscribe(t *testing.T, userID, plan string) {
	t.Helper()
	_, err := f.subs.Activate(context.Background(), models.ActivateRequest{
		UserID: userID, PlanType: plan, PeriodStart: now.Add(-time.Hour), PeriodEnd: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
}

func TestGuard_Admit_DualMode(t *testing.T) {
	f := newFixture("1")
	ctx := context.Background()
	// tier2: ai_query = 20
	f.subscribe(t, "u1", models.PlanTier2)

	for i := 1; i <= 20; i++ {
		d, err := f.guard.Admit(ctx, models.AdmissionRequest{UserID: "u1", OperationType: "ai_query", Cost: dec("0.5")})
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, models.SourceSubscription, d.Source)
		assert.Equal(t, i, d.QuotaUsed)
		assert.Nil(t, d.Receipt)
	}

	b, err := f.wallet.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(dec("1")), "quota admissions must not touch the wallet")

	d, err := f.guard.Admit(ctx, models.AdmissionRequest{UserID: "u1", OperationType: "ai_query", Cost: dec("0.5")})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, models.SourceWallet, d.Source)
	require.NotNil(t, d.Receipt)
	assert.True(t, d.Receipt.BalanceAfter.Equal(dec("0.5")))

	_, err = f.guard.Admit(ctx, models.AdmissionRequest{UserID: "u1", OperationType: "ai_query", Cost: dec("0.5")})
	require.NoError(t, err)

	d, err = f.guard.Admit(ctx, models.AdmissionRequest{UserID: "u1", OperationType: "ai_query", Cost: dec("0.5")})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.DenyReasonInsufficientBalance, d.Reason)
	assert.True(t, d.Available.IsZero())
	assert.Equal(t, "Insufficient tokens. Required: 0.50, Available: 0.00", d.Message)
	assert.Equal(t, []string{"subscribe", "top_up", "pay_as_you_go"}, d.Remediation)
}

func TestGuard_Admit_NoSubscriptionUsesWallet(t *testing.T) {
	f := newFixture("100")
	d, err := f.guard.Admit(context.Background(), models.AdmissionRequest{
		UserID: "u1", OperationType: "scan", Cost: dec("0.20"), Metadata: map[string]string{"symbol": "SPY"},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, models.SourceWallet, d.Source)
	assert.True(t, d.Available.Equal(dec("99.80")))

	history, err := f.wallet.History(context.Background(), "u1", models.HistoryQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "scan", history[0].OperationType)
	assert.Equal(t, "SPY", history[0].Metadata["symbol"])
}

func TestGuard_Admit_ExpiredSubscriptionUsesWallet(t *testing.T) {
	f := newFixture("10")
	f.store.PutSubscription(models.Subscription{
		UserID: "u1", PlanType: models.PlanTier3, Status: models.StatusActive,
		CurrentPeriodStart: now.Add(-48 * time.Hour), CurrentPeriodEnd: now.Add(-time.Hour),
	})

	d, err := f.guard.Admit(context.Background(), models.AdmissionRequest{UserID: "u1", OperationType: "scan", Cost: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, models.SourceWallet, d.Source)
}

func TestGuard_Admit_UnknownPlanFallsBackToWallet(t *testing.T) {
	f := newFixture("10")
	f.subscribe(t, "u1", "legacy")

	d, err := f.guard.Admit(context.Background(), models.AdmissionRequest{UserID: "u1", OperationType: "scan", Cost: dec("1")})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, models.SourceWallet, d.Source)
	assert.Equal(t, "legacy", d.PlanType)
}

func TestGuard_Admit_InvalidCost(t *testing.T) {
	f := newFixture("10")
	_, err := f.guard.Admit(context.Background(), models.AdmissionRequest{UserID: "u1", OperationType: "scan", Cost: dec("0")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = f.guard.Admit(context.Background(), models.AdmissionRequest{UserID: "u1", OperationType: "scan", Cost: dec("0.00005")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

type SubsMock struct{ mock.Mock }

func (m *SubsMock) Entitlement(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

type QuotaMock struct{ mock.Mock }

func (m *QuotaMock) IncrementIfWithinLimit(ctx context.Context, userID, operationType, planType string, count int) (int, error) {
	args := m.Called(ctx, userID, operationType, planType, count)
	return args.Int(0), args.Error(1)
}

type WalletMock struct{ mock.Mock }

func (m *WalletMock) Debit(ctx context.Context, req models.DebitRequest) (models.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Receipt), args.Error(1)
}

func TestGuard_Admit_InfrastructureErrors(t *testing.T) {
	boom := errors.New("db unavailable")
	sub := &models.Subscription{UserID: "u1", PlanType: models.PlanTier2}

	tests := []struct {
		name       string
		setupMocks func(s *SubsMock, q *QuotaMock, w *WalletMock)
	}{
		{
			name: "subscription lookup fails",
			setupMocks: func(s *SubsMock, _ *QuotaMock, _ *WalletMock) {
				s.On("Entitlement", mock.Anything, "u1").Return(nil, boom).Once()
			},
		},
		{
			name: "quota store fails",
			setupMocks: func(s *SubsMock, q *QuotaMock, _ *WalletMock) {
				s.On("Entitlement", mock.Anything, "u1").Return(sub, nil).Once()
				q.On("IncrementIfWithinLimit", mock.Anything, "u1", "scan", models.PlanTier2, 1).Return(0, boom).Once()
			},
		},
		{
			name: "wallet fails",
			setupMocks: func(s *SubsMock, _ *QuotaMock, w *WalletMock) {
				s.On("Entitlement", mock.Anything, "u1").Return(nil, nil).Once()
				w.On("Debit", mock.Anything, mock.Anything).Return(models.Receipt{}, boom).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, q, w := new(SubsMock), new(QuotaMock), new(WalletMock)
			tt.setupMocks(s, q, w)
			g := New(s, q, w, nil, newNoopLogger())

			d, err := g.Admit(context.Background(), models.AdmissionRequest{UserID: "u1", OperationType: "scan", Cost: dec("1")})
			require.ErrorIs(t, err, boom)
			assert.False(t, d.Allowed)
			assert.Empty(t, d.Reason, "infrastructure failure is never a deny decision")
			s.AssertExpectations(t)
			q.AssertExpectations(t)
			w.AssertExpectations(t)
		})
	}
}
