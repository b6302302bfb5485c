package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementUsage увеличивает дневной счётчик на n одним условным upsert.
// limit = nil означает безлимит. Если лимит был бы превышен, счётчик не меняется,
// а возвращается текущее значение и ok = false.
func (s *Storage) IncrementUsage(ctx context.Context, userID, operationType string, day time.Time, n int, limit *int) (int, bool, error) {
	const op = "storage.IncrementUsage"
	if err := checkCtx(ctx, op); err != nil {
		return 0, false, err
	}
	if limit != nil && n > *limit {
		used, err := s.GetUsage(ctx, userID, operationType, day)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}
		return used, false, nil
	}

	var lim any
	if limit != nil {
		lim = *limit
	}

	query := `INSERT INTO usage_counters (user_id, operation_type, usage_date, count, updated_at)
			  VALUES ($1, $2, $3, $4, NOW())
			  ON CONFLICT (user_id, operation_type, usage_date) DO UPDATE
			  SET count = usage_counters.count + EXCLUDED.count, updated_at = NOW()
			  WHERE $5::integer IS NULL OR usage_counters.count + EXCLUDED.count <= $5::integer
			  RETURNING count`
	var count int
	err := s.DB.QueryRowContext(ctx, query, userID, operationType, day, n, lim).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		used, err := s.GetUsage(ctx, userID, operationType, day)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}
		return used, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return count, true, nil
}

// GetUsage возвращает значение счётчика за день, 0 если записи нет.
func (s *Storage) GetUsage(ctx context.Context, userID, operationType string, day time.Time) (int, error) {
	const op = "storage.GetUsage"
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT count FROM usage_counters WHERE user_id = $1 AND operation_type = $2 AND usage_date = $3`,
		userID, operationType, day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// PurgeUsageBefore удаляет счётчики старше указанной даты и возвращает число удалённых строк.
func (s *Storage) PurgeUsageBefore(ctx context.Context, day time.Time) (int64, error) {
	const op = "storage.PurgeUsageBefore"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM usage_counters WHERE usage_date < $1`, day)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
