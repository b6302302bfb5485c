package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// GetPlan возвращает лимиты тарифа или models.ErrPlanNotFound.
func (s *Storage) GetPlan(ctx context.Context, planType string) (models.PlanLimit, error) {
	const op = "storage.GetPlan"
	if err := checkCtx(ctx, op); err != nil {
		return models.PlanLimit{}, err
	}

	var limits, features []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT daily_limits, features FROM plan_limits WHERE plan_type = $1`, planType).Scan(&limits, &features)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PlanLimit{}, fmt.Errorf("%s: %w", op, models.ErrPlanNotFound)
	}
	if err != nil {
		return models.PlanLimit{}, fmt.Errorf("%s: %w", op, err)
	}

	plan := models.PlanLimit{PlanType: planType}
	if err := json.Unmarshal(limits, &plan.DailyLimits); err != nil {
		return models.PlanLimit{}, fmt.Errorf("%s: daily_limits: %w", op, err)
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &plan.Features); err != nil {
			return models.PlanLimit{}, fmt.Errorf("%s: features: %w", op, err)
		}
	}
	return plan, nil
}
