package rabbitmq

import "github.com/magabrotheeeer/billing-ledger/internal/models"

// ExchangeBilling direct exchange для уведомлений биллинга.
const ExchangeBilling = "billing"

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

func GetBillingQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "billing.payment_failed", RoutingKey: models.NotificationPaymentFailed},
		{QueueName: "billing.subscription_cancelled", RoutingKey: models.NotificationSubscriptionCancelled},
	}
}

// RoutingKeyFor возвращает очередь для типа уведомления.
func RoutingKeyFor(notificationType string) (QueueConfig, bool) {
	for _, q := range GetBillingQueues() {
		if q.RoutingKey == notificationType {
			return q, true
		}
	}
	return QueueConfig{}, false
}
