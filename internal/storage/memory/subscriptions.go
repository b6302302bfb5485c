package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// GetSubscription возвращает копию подписки.
func (s *Store) GetSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, fmt.Errorf("memory.GetSubscription: %w", models.ErrSubscriptionNotFound)
	}
	return &sub, nil
}

// ActivateSubscription переводит подписку в active.
func (s *Store) ActivateSubscription(_ context.Context, req models.ActivateRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur, ok := s.subscriptions[req.UserID]
	if ok && cur.ExternalSubscriptionID != "" &&
		cur.ExternalSubscriptionID == req.ExternalSubscriptionID &&
		!cur.CurrentPeriodEnd.Before(req.PeriodEnd) {
		return false, nil
	}
	created := now
	if ok {
		created = cur.CreatedAt
	}
	s.subscriptions[req.UserID] = models.Subscription{
		UserID:                 req.UserID,
		PlanType:               req.PlanType,
		Status:                 models.StatusActive,
		ExternalSubscriptionID: req.ExternalSubscriptionID,
		CurrentPeriodStart:     req.PeriodStart,
		CurrentPeriodEnd:       req.PeriodEnd,
		CreatedAt:              created,
		UpdatedAt:              now,
	}
	return true, nil
}

// ExtendPeriod сдвигает окно вперёд.
func (s *Store) ExtendPeriod(_ context.Context, userID string, newPeriodEnd time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return false, fmt.Errorf("memory.ExtendPeriod: %w", models.ErrSubscriptionNotFound)
	}
	if sub.Status == models.StatusCancelled || !sub.CurrentPeriodEnd.Before(newPeriodEnd) {
		return false, nil
	}
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = newPeriodEnd
	sub.Status = models.StatusActive
	sub.UpdatedAt = s.now()
	s.subscriptions[userID] = sub
	return true, nil
}

// CancelSubscription отменяет подписку сразу или в конце периода.
func (s *Store) CancelSubscription(_ context.Context, userID string, immediate bool, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return false, fmt.Errorf("memory.CancelSubscription: %w", models.ErrSubscriptionNotFound)
	}
	if sub.Status != models.StatusActive && sub.Status != models.StatusTrial {
		return false, nil
	}
	if immediate {
		sub.Status = models.StatusCancelled
		sub.CancelledAt = &now
		sub.CancelAtPeriodEnd = false
	} else {
		if sub.CancelAtPeriodEnd {
			return false, nil
		}
		sub.CancelAtPeriodEnd = true
	}
	sub.UpdatedAt = s.now()
	s.subscriptions[userID] = sub
	return true, nil
}

// CreateTrial создаёт пробную подписку, если записи нет.
func (s *Store) CreateTrial(_ context.Context, userID, planType string, start, end time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[userID]; ok {
		return false, nil
	}
	now := s.now()
	s.subscriptions[userID] = models.Subscription{
		UserID:             userID,
		PlanType:           planType,
		Status:             models.StatusTrial,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return true, nil
}

// ExpireDue закрывает подписки с истёкшим периодом.
func (s *Store) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sub := range s.subscriptions {
		if sub.Status != models.StatusActive && sub.Status != models.StatusTrial {
			continue
		}
		if sub.CurrentPeriodEnd.After(now) {
			continue
		}
		if sub.CancelAtPeriodEnd {
			sub.Status = models.StatusCancelled
			t := now
			sub.CancelledAt = &t
		} else {
			sub.Status = models.StatusExpired
		}
		s.subscriptions[id] = sub
		n++
	}
	return n, nil
}

// RecordPaymentEvent сохраняет событие, повторный ключ игнорируется.
func (s *Store) RecordPaymentEvent(_ context.Context, event models.PaymentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.EventKey]; ok {
		return false, nil
	}
	s.events[event.EventKey] = event
	return true, nil
}

// PaymentEventExists сообщает, записано ли событие.
func (s *Store) PaymentEventExists(_ context.Context, eventKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventKey]
	return ok, nil
}

// ListPaymentEvents возвращает события пользователя, сначала новые.
func (s *Store) ListPaymentEvents(_ context.Context, userID string, limit int) ([]models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.PaymentEvent, 0)
	for _, e := range s.events {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReceivedAt.After(result[j].ReceivedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
