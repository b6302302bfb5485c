package models

import (
	"encoding/json"
	"time"
)

// Типы событий платёжного шлюза, которые обрабатываются.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// Ключи notes, которые проставляются при создании заказа.
const (
	NoteUserID         = "user_id"
	NoteOrderType      = "order_type"
	NoteProject        = "project"
	NoteCredits        = "credits"
	NotePlanType       = "plan_type"
	NoteSubscriptionID = "subscription_id"
)

// Значения notes.order_type.
const (
	OrderTypeCredits      = "credits"
	OrderTypeSubscription = "subscription"
)

// Статусы подтверждения вебхука.
const (
	AckApplied   = "applied"
	AckDuplicate = "duplicate"
	AckIgnored   = "ignored"
)

// GatewayEvent тело вебхука платёжного шлюза.
type GatewayEvent struct {
	ID        string       `json:"id"`
	Event     string       `json:"event"`
	CreatedAt int64        `json:"created_at"`
	Payload   EventPayload `json:"payload"`
}

// EventPayload сущности, к которым относится событие.
type EventPayload struct {
	Payment      *PaymentEntity      `json:"payment,omitempty"`
	Subscription *SubscriptionEntity `json:"subscription,omitempty"`
}

// PaymentEntity платёж. Amount в минорных единицах валюты.
type PaymentEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	Amount           int64             `json:"amount"`
	Notes            map[string]string `json:"notes"`
	CreatedAt        int64             `json:"created_at"`
	SubscriptionID   string            `json:"subscription_id,omitempty"`
	ErrorCode        string            `json:"error_code,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
}

// SubscriptionEntity подписка на стороне шлюза. Границы периода в unix-секундах.
type SubscriptionEntity struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	Notes        map[string]string `json:"notes"`
}

// Notes возвращает notes сущности события: платежа, если он есть, иначе подписки.
func (e GatewayEvent) Notes() map[string]string {
	if e.Payload.Payment != nil && e.Payload.Payment.Notes != nil {
		return e.Payload.Payment.Notes
	}
	if e.Payload.Subscription != nil {
		return e.Payload.Subscription.Notes
	}
	return nil
}

// Key ключ идемпотентности события.
func (e GatewayEvent) Key() string {
	if e.ID != "" {
		return e.ID
	}
	switch {
	case e.Payload.Payment != nil:
		return e.Event + ":" + e.Payload.Payment.ID
	case e.Payload.Subscription != nil:
		return e.Event + ":" + e.Payload.Subscription.ID
	}
	return ""
}

// WebhookAck ответ на вебхук.
type WebhookAck struct {
	EventID string `json:"event_id,omitempty"`
	Event   string `json:"event,omitempty"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// PaymentEvent запись журнала событий шлюза для оператора.
type PaymentEvent struct {
	EventKey   string          `json:"event_key"`
	EventType  string          `json:"event_type"`
	UserID     string          `json:"user_id,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Типы уведомлений, которые публикуются в RabbitMQ.
const (
	NotificationPaymentFailed         = "payment_failed"
	NotificationSubscriptionCancelled = "subscription_cancelled"
)

// BillingNotification сообщение для оператора о событии биллинга.
type BillingNotification struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	ExternalID string    `json:"external_id"`
	PlanType   string    `json:"plan_type,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
