// Package admission решает, можно ли выполнить платную операцию: сначала за счёт
// квоты действующей подписки, затем списанием с кошелька.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/metrics"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Entitlements источник действующих подписок.
type Entitlements interface {
	Entitlement(ctx context.Context, userID string) (*models.Subscription, error)
}

// Quota дневные квоты тарифа.
type Quota interface {
	IncrementIfWithinLimit(ctx context.Context, userID, operationType, planType string, count int) (int, error)
}

// Wallet кошелёк пользователя.
type Wallet interface {
	Debit(ctx context.Context, req models.DebitRequest) (models.Receipt, error)
}

// Guard проверяет допуск платных операций.
type Guard struct {
	subs    Entitlements
	quota   Quota
	wallet  Wallet
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New создаёт Guard.
func New(subs Entitlements, quota Quota, wallet Wallet, m *metrics.Metrics, log *slog.Logger) *Guard {
	return &Guard{
		subs:    subs,
		quota:   quota,
		wallet:  wallet,
		metrics: m,
		log:     log,
	}
}

// Admit допускает операцию за счёт квоты подписки или списанием Cost с кошелька.
// Нехватка средств возвращается как решение с Allowed=false, инфраструктурные
// ошибки возвращаются как error. Повторных попыток внутри нет.
func (g *Guard) Admit(ctx context.Context, req models.AdmissionRequest) (models.Decision, error) {
	const op = "admission.Admit"
	log := g.log.With(
		slog.String("op", op),
		slog.String("user_id", req.UserID),
		slog.String("operation", req.OperationType),
	)

	if !models.ValidAmount(req.Cost) {
		return models.Decision{}, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}

	decision := models.Decision{OperationType: req.OperationType, Required: req.Cost}

	sub, err := g.subs.Entitlement(ctx, req.UserID)
	if err != nil {
		return models.Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if sub != nil {
		decision.PlanType = sub.PlanType
		used, err := g.quota.IncrementIfWithinLimit(ctx, req.UserID, req.OperationType, sub.PlanType, 1)
		switch {
		case err == nil:
			decision.Allowed = true
			decision.Source = models.SourceSubscription
			decision.QuotaUsed = used
			g.metrics.Admission(req.OperationType, string(models.SourceSubscription), "allowed")
			log.Debug("admitted by subscription quota", slog.Int("used", used))
			return decision, nil
		case errors.Is(err, models.ErrQuotaExceeded):
			log.Debug("quota exhausted, falling back to wallet", sl.Err(err))
		case errors.Is(err, models.ErrPlanNotFound):
			log.Warn("subscription plan has no limits, falling back to wallet", sl.Err(err))
		default:
			return models.Decision{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	receipt, err := g.wallet.Debit(ctx, models.DebitRequest{
		UserID:        req.UserID,
		Amount:        req.Cost,
		OperationType: req.OperationType,
		Description:   req.Description,
		Metadata:      req.Metadata,
	})
	var ib *models.InsufficientBalanceError
	if errors.As(err, &ib) {
		decision.Reason = models.DenyReasonInsufficientBalance
		decision.Available = ib.Available
		decision.Remediation = []string{models.RemediationSubscribe, models.RemediationTopUp, models.RemediationPayAsYouGo}
		decision.Message = models.InsufficientTokensMessage(ib.Required, ib.Available)
		g.metrics.Admission(req.OperationType, string(models.SourceWallet), "denied")
		log.Info("operation denied", slog.String("reason", decision.Reason))
		return decision, nil
	}
	if err != nil {
		return models.Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	decision.Allowed = true
	decision.Source = models.SourceWallet
	decision.Receipt = &receipt
	decision.Available = receipt.BalanceAfter
	g.metrics.Admission(req.OperationType, string(models.SourceWallet), "allowed")
	return decision, nil
}
