package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

func keyFor(userID, operationType string, day time.Time) usageKey {
	return usageKey{userID: userID, operationType: operationType, day: day.Format(time.DateOnly)}
}

// IncrementUsage увеличивает счётчик, если лимит позволяет.
func (s *Store) IncrementUsage(ctx context.Context, userID, operationType string, day time.Time, n int, limit *int) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, fmt.Errorf("memory.IncrementUsage: %w", err)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyFor(userID, operationType, day)
	used := s.usage[key]
	if limit != nil && used+n > *limit {
		return used, false, nil
	}
	s.usage[key] = used + n
	return used + n, true, nil
}

// GetUsage возвращает значение счётчика.
func (s *Store) GetUsage(_ context.Context, userID, operationType string, day time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[keyFor(userID, operationType, day)], nil
}

// PurgeUsageBefore удаляет счётчики старше даты.
func (s *Store) PurgeUsageBefore(_ context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := day.Format(time.DateOnly)
	var n int64
	for k := range s.usage {
		if k.day < cutoff {
			delete(s.usage, k)
			n++
		}
	}
	return n, nil
}

// GetPlan возвращает тариф или models.ErrPlanNotFound.
func (s *Store) GetPlan(_ context.Context, planType string) (models.PlanLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planType]
	if !ok {
		return models.PlanLimit{}, fmt.Errorf("memory.GetPlan: %w", models.ErrPlanNotFound)
	}
	return p, nil
}
