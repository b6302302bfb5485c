package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DecisionSource источник, за счёт которого допущена операция.
type DecisionSource string

const (
	SourceSubscription DecisionSource = "subscription"
	SourceWallet       DecisionSource = "wallet"
)

// DenyReasonInsufficientBalance единственная причина отказа в допуске.
const DenyReasonInsufficientBalance = "insufficient_balance"

// Подсказки клиенту, как получить доступ после отказа.
const (
	RemediationSubscribe  = "subscribe"
	RemediationTopUp      = "top_up"
	RemediationPayAsYouGo = "pay_as_you_go"
)

// AdmissionRequest запрос на допуск платной операции.
type AdmissionRequest struct {
	UserID        string
	OperationType string
	Cost          decimal.Decimal
	Description   string
	Metadata      map[string]string
}

// Decision итог проверки допуска.
type Decision struct {
	Allowed       bool            `json:"allowed"`
	Source        DecisionSource  `json:"source,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	OperationType string          `json:"operation_type"`
	PlanType      string          `json:"plan_type,omitempty"`
	QuotaUsed     int             `json:"quota_used,omitempty"`
	Receipt       *Receipt        `json:"receipt,omitempty"`
	Required      decimal.Decimal `json:"required"`
	Available     decimal.Decimal `json:"available"`
	Remediation   []string        `json:"remediation,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// InsufficientTokensMessage текст отказа, который видит клиент.
func InsufficientTokensMessage(required, available decimal.Decimal) string {
	return fmt.Sprintf("Insufficient tokens. Required: %s, Available: %s", tokenAmount(required), tokenAmount(available))
}

// tokenAmount печатает сумму с двумя знаками, а дробные доли цента с полной точностью журнала.
func tokenAmount(v decimal.Decimal) string {
	if v.Equal(v.Round(2)) {
		return v.StringFixed(2)
	}
	return v.StringFixed(AmountScale)
}
