// Package quota ведёт дневные счётчики использования операций в пределах лимитов тарифа.
// День считается по календарю операционного часового пояса.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Repository хранилище дневных счётчиков.
type Repository interface {
	IncrementUsage(ctx context.Context, userID, operationType string, day time.Time, n int, limit *int) (int, bool, error)
	GetUsage(ctx context.Context, userID, operationType string, day time.Time) (int, error)
}

// PlanSource источник лимитов тарифа.
type PlanSource interface {
	Get(ctx context.Context, planType string) (models.PlanLimit, error)
}

// Clock возвращает текущую операционную дату.
type Clock interface {
	Today() time.Time
}

// Service учёт дневных квот.
type Service struct {
	repo  Repository
	plans PlanSource
	clock Clock
	log   *slog.Logger
}

// New создаёт сервис квот.
func New(repo Repository, plans PlanSource, clock Clock, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		plans: plans,
		clock: clock,
		log:   log,
	}
}

// IncrementIfWithinLimit увеличивает счётчик на count, если не превышается лимит тарифа,
// и возвращает новое значение. При превышении возвращает *models.QuotaExceededError
// без изменения счётчика. Безлимитные операции проходят всегда.
func (s *Service) IncrementIfWithinLimit(ctx context.Context, userID, operationType, planType string, count int) (int, error) {
	const op = "quota.IncrementIfWithinLimit"
	if count <= 0 {
		return 0, fmt.Errorf("%s: %w", op, models.ErrInvalidCount)
	}

	p, err := s.plans.Get(ctx, planType)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	limit, unlimited := p.LimitFor(operationType)
	var limitArg *int
	if !unlimited {
		limitArg = &limit
	}

	used, ok, err := s.repo.IncrementUsage(ctx, userID, operationType, s.clock.Today(), count, limitArg)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return used, fmt.Errorf("%s: %w", op, &models.QuotaExceededError{Limit: limit, Used: used})
	}
	return used, nil
}

// Remaining возвращает остаток квоты на сегодня.
func (s *Service) Remaining(ctx context.Context, userID, operationType, planType string) (models.QuotaRemaining, error) {
	const op = "quota.Remaining"
	p, err := s.plans.Get(ctx, planType)
	if err != nil {
		return models.QuotaRemaining{}, fmt.Errorf("%s: %w", op, err)
	}
	used, err := s.repo.GetUsage(ctx, userID, operationType, s.clock.Today())
	if err != nil {
		return models.QuotaRemaining{}, fmt.Errorf("%s: %w", op, err)
	}

	limit, unlimited := p.LimitFor(operationType)
	res := models.QuotaRemaining{
		OperationType: operationType,
		PlanType:      planType,
		Unlimited:     unlimited,
		Limit:         limit,
		Used:          used,
	}
	if !unlimited {
		res.Remaining = max(limit-used, 0)
	}
	return res, nil
}
