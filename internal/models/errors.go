package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ожидаемые доменные исходы и ошибки биллинга. Всё, что не входит в этот список,
// считается инфраструктурной ошибкой и должно отдаваться наружу как 5xx.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrBadSignature         = errors.New("bad webhook signature")
	ErrInvariantViolation   = errors.New("ledger invariant violation")
	ErrAccountNotFound      = errors.New("account not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidAmount        = errors.New("amount must be positive with at most 4 decimal places")
	ErrInvalidKind          = errors.New("invalid ledger entry kind")
	ErrInvalidCount         = errors.New("count must be positive")
)

// InsufficientBalanceError возвращается при попытке списать больше, чем есть на балансе.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required, e.Available)
}

// Is позволяет сравнивать ошибку с ErrInsufficientBalance через errors.Is.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// QuotaExceededError возвращается, когда дневной лимит операции исчерпан.
type QuotaExceededError struct {
	Limit int
	Used  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: limit %d, used %d", e.Limit, e.Used)
}

// Is позволяет сравнивать ошибку с ErrQuotaExceeded через errors.Is.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// InvariantViolationError описывает расхождение арифметики баланса и записи журнала.
type InvariantViolationError struct {
	UserID string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violation for user %s: %s", e.UserID, e.Detail)
}

// Is позволяет сравнивать ошибку с ErrInvariantViolation через errors.Is.
func (e *InvariantViolationError) Is(target error) bool {
	return target == ErrInvariantViolation
}
