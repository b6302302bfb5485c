// Package models содержит доменные структуры биллинга: баланс, записи журнала,
// счётчики использования, тарифные лимиты, подписки и события платёжного шлюза.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind тип записи журнала.
type EntryKind string

const (
	// KindPurchase покупка кредитов через платёжный шлюз.
	KindPurchase EntryKind = "purchase"
	// KindDebit списание за платную операцию.
	KindDebit EntryKind = "debit"
	// KindRefund компенсационный возврат.
	KindRefund EntryKind = "refund"
	// KindBonus бонусное начисление (в том числе приветственный грант).
	KindBonus EntryKind = "bonus"
)

// AmountScale число знаков после запятой, которое хранит журнал (NUMERIC(20,4)).
const AmountScale = 4

// ValidAmount сообщает, что сумма положительна и представима без округления.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(AmountScale))
}

// IsCredit сообщает, увеличивает ли запись данного типа баланс.
func (k EntryKind) IsCredit() bool {
	return k == KindPurchase || k == KindRefund || k == KindBonus
}

// Valid проверяет, что тип записи известен.
func (k EntryKind) Valid() bool {
	return k == KindDebit || k.IsCredit()
}

// Balance баланс пользователя. Всегда balance = lifetime_purchased - lifetime_spent и balance >= 0.
type Balance struct {
	UserID            string          `json:"user_id"`
	Balance           decimal.Decimal `json:"balance"`
	LifetimePurchased decimal.Decimal `json:"lifetime_purchased"`
	LifetimeSpent     decimal.Decimal `json:"lifetime_spent"`
	LastToppedUp      *time.Time      `json:"last_topped_up,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LedgerEntry неизменяемая запись журнала операций по балансу.
type LedgerEntry struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	UserID        string            `json:"user_id"`
	Kind          EntryKind         `json:"kind"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Description   string            `json:"description"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	OperationType string            `json:"operation_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Validate проверяет арифметику записи: balance_after = balance_before ± amount.
func (e LedgerEntry) Validate() error {
	if !e.Kind.Valid() {
		return &InvariantViolationError{UserID: e.UserID, Detail: fmt.Sprintf("unknown kind %q", e.Kind)}
	}
	if !e.Amount.IsPositive() {
		return &InvariantViolationError{UserID: e.UserID, Detail: fmt.Sprintf("non-positive amount %s", e.Amount)}
	}
	want := e.BalanceBefore.Sub(e.Amount)
	if e.Kind.IsCredit() {
		want = e.BalanceBefore.Add(e.Amount)
	}
	if !want.Equal(e.BalanceAfter) {
		return &InvariantViolationError{
			UserID: e.UserID,
			Detail: fmt.Sprintf("%s entry: %s -> %s does not match amount %s", e.Kind, e.BalanceBefore, e.BalanceAfter, e.Amount),
		}
	}
	if e.BalanceAfter.IsNegative() {
		return &InvariantViolationError{UserID: e.UserID, Detail: fmt.Sprintf("negative balance %s", e.BalanceAfter)}
	}
	return nil
}

// CheckBalance проверяет, что итог записи совпадает с агрегатами счёта.
func CheckBalance(b Balance) error {
	if b.Balance.IsNegative() {
		return &InvariantViolationError{UserID: b.UserID, Detail: fmt.Sprintf("negative balance %s", b.Balance)}
	}
	if !b.LifetimePurchased.Sub(b.LifetimeSpent).Equal(b.Balance) {
		return &InvariantViolationError{
			UserID: b.UserID,
			Detail: fmt.Sprintf("balance %s != purchased %s - spent %s", b.Balance, b.LifetimePurchased, b.LifetimeSpent),
		}
	}
	return nil
}

// Receipt квитанция о выполненном изменении баланса.
type Receipt struct {
	EntryID       string          `json:"entry_id"`
	UserID        string          `json:"user_id"`
	Kind          EntryKind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	// Duplicate выставляется, если внешний идентификатор уже был применён и мутации не было.
	Duplicate bool      `json:"duplicate"`
	CreatedAt time.Time `json:"created_at"`
}

// ReceiptFromEntry строит квитанцию по записи журнала.
func ReceiptFromEntry(e LedgerEntry) Receipt {
	return Receipt{
		EntryID:       e.ID,
		UserID:        e.UserID,
		Kind:          e.Kind,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		ExternalRef:   e.ExternalRef,
		CreatedAt:     e.CreatedAt,
	}
}

// DebitRequest параметры списания.
type DebitRequest struct {
	UserID        string
	Amount        decimal.Decimal
	OperationType string
	Description   string
	Metadata      map[string]string
}

// CreditRequest параметры начисления.
type CreditRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Kind        EntryKind
	ExternalRef string
	Description string
	Metadata    map[string]string
}

// SortOrder порядок выдачи истории.
type SortOrder string

const (
	// OrderNewestFirst сначала новые записи.
	OrderNewestFirst SortOrder = "desc"
	// OrderOldestFirst сначала старые записи.
	OrderOldestFirst SortOrder = "asc"
)

// HistoryQuery параметры постраничной выдачи журнала. Limit = 0 означает без ограничения.
type HistoryQuery struct {
	Limit  int
	Offset int
	Order  SortOrder
}

// Reconciliation результат сверки журнала с балансом.
type Reconciliation struct {
	UserID            string          `json:"user_id"`
	Entries           int             `json:"entries"`
	ReplayedBalance   decimal.Decimal `json:"replayed_balance"`
	ReplayedPurchased decimal.Decimal `json:"replayed_purchased"`
	ReplayedSpent     decimal.Decimal `json:"replayed_spent"`
	Balance           Balance         `json:"balance"`
	Consistent        bool            `json:"consistent"`
	Problems          []string        `json:"problems,omitempty"`
}
