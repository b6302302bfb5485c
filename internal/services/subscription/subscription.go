// Package subscription хранит подписку пользователя и отвечает на вопрос,
// даёт ли она сейчас право на квоту тарифа.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// ErrInvalidPeriod конец периода не позже начала.
var ErrInvalidPeriod = errors.New("period end must be after period start")

// Repository хранилище подписок.
type Repository interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	ActivateSubscription(ctx context.Context, req models.ActivateRequest) (bool, error)
	ExtendPeriod(ctx context.Context, userID string, newPeriodEnd time.Time) (bool, error)
	CancelSubscription(ctx context.Context, userID string, immediate bool, now time.Time) (bool, error)
	CreateTrial(ctx context.Context, userID, planType string, start, end time.Time) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// TrialConfig параметры пробного периода.
type TrialConfig struct {
	Plan   string
	Period time.Duration
}

// Service подписки пользователей.
type Service struct {
	repo  Repository
	trial TrialConfig
	now   func() time.Time
	log   *slog.Logger
}

// New создаёт сервис подписок.
func New(repo Repository, trial TrialConfig, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		trial: trial,
		now:   time.Now,
		log:   log,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get возвращает подписку или models.ErrSubscriptionNotFound.
func (s *Service) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.Get"
	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// Activate переводит подписку в active на указанный период.
// Возвращает false, если та же внешняя подписка уже покрывает период.
func (s *Service) Activate(ctx context.Context, req models.ActivateRequest) (bool, error) {
	const op = "subscription.Activate"
	if !req.PeriodEnd.After(req.PeriodStart) {
		return false, fmt.Errorf("%s: %w", op, ErrInvalidPeriod)
	}
	changed, err := s.repo.ActivateSubscription(ctx, req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("subscription activation processed",
		slog.String("op", op),
		slog.String("user_id", req.UserID),
		slog.String("plan_type", req.PlanType),
		slog.Bool("changed", changed),
	)
	return changed, nil
}

// ExtendPeriod сдвигает конец периода вперёд. Повторная доставка ничего не меняет.
func (s *Service) ExtendPeriod(ctx context.Context, userID string, newPeriodEnd time.Time) (bool, error) {
	const op = "subscription.ExtendPeriod"
	changed, err := s.repo.ExtendPeriod(ctx, userID, newPeriodEnd)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return changed, nil
}

// Cancel отменяет подписку сразу или в конце оплаченного периода.
func (s *Service) Cancel(ctx context.Context, userID string, immediate bool) (bool, error) {
	const op = "subscription.Cancel"
	changed, err := s.repo.CancelSubscription(ctx, userID, immediate, s.now())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("subscription cancel processed",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Bool("immediate", immediate),
		slog.Bool("changed", changed),
	)
	return changed, nil
}

// IsEntitled сообщает, даёт ли подписка право на квоту прямо сейчас.
func (s *Service) IsEntitled(ctx context.Context, userID string) (bool, error) {
	sub, err := s.Entitlement(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// Entitlement возвращает подписку, если она даёт право на квоту, иначе nil.
func (s *Service) Entitlement(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.Entitlement"
	sub, err := s.repo.GetSubscription(ctx, userID)
	if errors.Is(err, models.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !sub.EntitledAt(s.now()) {
		return nil, nil
	}
	return sub, nil
}

// StartTrial создаёт пробную подписку, если у пользователя ещё не было подписки.
func (s *Service) StartTrial(ctx context.Context, userID string) (*models.Subscription, bool, error) {
	const op = "subscription.StartTrial"
	start := s.now()
	created, err := s.repo.CreateTrial(ctx, userID, s.trial.Plan, start, start.Add(s.trial.Period))
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return sub, created, nil
}

// ExpireDue закрывает подписки с истёкшим периодом.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	const op = "subscription.ExpireDue"
	n, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
