package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

const subscriptionColumns = `user_id, plan_type, status, external_subscription_id, current_period_start,
	current_period_end, cancel_at_period_end, cancelled_at, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub         models.Subscription
		status      string
		cancelledAt sql.NullTime
	)
	if err := row.Scan(&sub.UserID, &sub.PlanType, &status, &sub.ExternalSubscriptionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &cancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatus(status)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		sub.CancelledAt = &t
	}
	return &sub, nil
}

// GetSubscription возвращает подписку пользователя или models.ErrSubscriptionNotFound.
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSubscriptionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ActivateSubscription переводит подписку в active на указанный период.
// Ничего не делает, если та же внешняя подписка уже покрывает этот период.
func (s *Storage) ActivateSubscription(ctx context.Context, req models.ActivateRequest) (bool, error) {
	const op = "storage.ActivateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `INSERT INTO subscriptions (user_id, plan_type, status, external_subscription_id,
				current_period_start, current_period_end, cancel_at_period_end, cancelled_at)
			  VALUES ($1, $2, 'active', $3, $4, $5, FALSE, NULL)
			  ON CONFLICT (user_id) DO UPDATE
			  SET plan_type = EXCLUDED.plan_type,
			      status = 'active',
			      external_subscription_id = EXCLUDED.external_subscription_id,
			      current_period_start = EXCLUDED.current_period_start,
			      current_period_end = EXCLUDED.current_period_end,
			      cancel_at_period_end = FALSE,
			      cancelled_at = NULL,
			      updated_at = NOW()
			  WHERE NOT (subscriptions.external_subscription_id <> ''
			         AND subscriptions.external_subscription_id = EXCLUDED.external_subscription_id
			         AND subscriptions.current_period_end >= EXCLUDED.current_period_end)`
	res, err := s.DB.ExecContext(ctx, query,
		req.UserID, req.PlanType, req.ExternalSubscriptionID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// ExtendPeriod сдвигает окно подписки вперёд. Отменённые подписки не восстанавливаются,
// повторная доставка с тем же концом периода ничего не меняет.
func (s *Storage) ExtendPeriod(ctx context.Context, userID string, newPeriodEnd time.Time) (bool, error) {
	const op = "storage.ExtendPeriod"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE subscriptions
		 SET current_period_start = current_period_end,
		     current_period_end = $2,
		     status = 'active',
		     updated_at = NOW()
		 WHERE user_id = $1
		   AND current_period_end < $2
		   AND status IN ('active', 'trial', 'expired')`, userID, newPeriodEnd)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSubscription(ctx, userID); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// CancelSubscription отменяет подписку сразу или в конце периода.
func (s *Storage) CancelSubscription(ctx context.Context, userID string, immediate bool, now time.Time) (bool, error) {
	const op = "storage.CancelSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE subscriptions
			  SET cancel_at_period_end = TRUE, updated_at = NOW()
			  WHERE user_id = $1 AND status IN ('trial', 'active') AND NOT cancel_at_period_end`
	args := []any{userID}
	if immediate {
		query = `UPDATE subscriptions
				 SET status = 'cancelled', cancelled_at = $2, cancel_at_period_end = FALSE, updated_at = NOW()
				 WHERE user_id = $1 AND status IN ('trial', 'active')`
		args = append(args, now)
	}

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSubscription(ctx, userID); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// CreateTrial создаёт пробную подписку, если у пользователя ещё нет записи.
func (s *Storage) CreateTrial(ctx context.Context, userID, planType string, start, end time.Time) (bool, error) {
	const op = "storage.CreateTrial"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan_type, status, current_period_start, current_period_end)
		 VALUES ($1, $2, 'trial', $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`, userID, planType, start, end)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// ExpireDue закрывает подписки, период которых закончился к моменту now:
// с отложенной отменой они становятся cancelled, остальные expired.
func (s *Storage) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.ExpireDue"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = CASE WHEN cancel_at_period_end THEN 'cancelled' ELSE 'expired' END,
		     cancelled_at = CASE WHEN cancel_at_period_end THEN $1 ELSE cancelled_at END,
		     updated_at = NOW()
		 WHERE status IN ('active', 'trial') AND current_period_end <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
