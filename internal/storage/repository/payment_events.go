package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// RecordPaymentEvent сохраняет событие шлюза. Повторная запись с тем же ключом игнорируется,
// в этом случае возвращается false.
func (s *Storage) RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) (bool, error) {
	const op = "storage.RecordPaymentEvent"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO payment_events (event_key, event_type, user_id, external_id, status, reason, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		 ON CONFLICT (event_key) DO NOTHING`,
		event.EventKey, event.EventType, event.UserID, event.ExternalID, event.Status, event.Reason, payload, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// PaymentEventExists сообщает, было ли событие с таким ключом уже обработано.
func (s *Storage) PaymentEventExists(ctx context.Context, eventKey string) (bool, error) {
	const op = "storage.PaymentEventExists"
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_events WHERE event_key = $1)`, eventKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// ListPaymentEvents возвращает последние события шлюза по пользователю.
func (s *Storage) ListPaymentEvents(ctx context.Context, userID string, limit int) ([]models.PaymentEvent, error) {
	const op = "storage.ListPaymentEvents"
	rows, err := s.DB.QueryContext(ctx,
		`SELECT event_key, event_type, user_id, external_id, status, reason, payload, received_at
		 FROM payment_events WHERE user_id = $1
		 ORDER BY received_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	events := make([]models.PaymentEvent, 0)
	for rows.Next() {
		var (
			e       models.PaymentEvent
			payload []byte
		)
		if err := rows.Scan(&e.EventKey, &e.EventType, &e.UserID, &e.ExternalID, &e.Status, &e.Reason,
			&payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}
