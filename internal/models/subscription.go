package models

import "time"

// SubscriptionStatus статус подписки.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// Subscription запись о подписке пользователя. У пользователя не больше одной записи.
type Subscription struct {
	UserID                 string             `json:"user_id"`
	PlanType               string             `json:"plan_type"`
	Status                 SubscriptionStatus `json:"status"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// EntitledAt сообщает, даёт ли подписка право на квоту в момент now.
func (s Subscription) EntitledAt(now time.Time) bool {
	if s.Status != StatusActive && s.Status != StatusTrial {
		return false
	}
	return now.Before(s.CurrentPeriodEnd)
}

// ActivateRequest параметры активации или продления подписки.
type ActivateRequest struct {
	UserID                 string
	PlanType               string
	ExternalSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
}
