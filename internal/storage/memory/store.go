// Package memory реализует хранилище биллинга в памяти с тем же набором методов,
// что и PostgreSQL-репозиторий. Используется в тестах сервисов. Изменения по одному
// пользователю сериализуются через мьютекс, выделенный на пользователя.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
	"github.com/shopspring/decimal"
)

type usageKey struct {
	userID        string
	operationType string
	day           string
}

// Store хранилище в памяти.
type Store struct {
	locks keyedMutex

	mu            sync.RWMutex
	seq           int64
	accounts      map[string]models.Balance
	entries       []models.LedgerEntry
	refs          map[string]int
	usage         map[usageKey]int
	plans         map[string]models.PlanLimit
	subscriptions map[string]models.Subscription
	events        map[string]models.PaymentEvent

	now func() time.Time
}

// New создаёт пустое хранилище с тарифами по умолчанию.
func New() *Store {
	s := &Store{
		locks:         keyedMutex{locks: make(map[string]*lockEntry)},
		accounts:      make(map[string]models.Balance),
		refs:          make(map[string]int),
		usage:         make(map[usageKey]int),
		plans:         make(map[string]models.PlanLimit),
		subscriptions: make(map[string]models.Subscription),
		events:        make(map[string]models.PaymentEvent),
		now:           time.Now,
	}
	for _, p := range DefaultPlans() {
		s.plans[p.PlanType] = p
	}
	return s
}

// DefaultPlans тарифы, совпадающие с сидом миграции.
func DefaultPlans() []models.PlanLimit {
	n := func(v int) *int { return &v }
	return []models.PlanLimit{
		{PlanType: models.PlanFree, DailyLimits: map[string]*int{"scan": n(3), "ai_query": n(0)}},
		{PlanType: models.PlanTier2, DailyLimits: map[string]*int{"scan": n(50), "ai_query": n(20)}, Features: map[string]bool{"alerts": true}},
		{PlanType: models.PlanTier3, DailyLimits: map[string]*int{"scan": nil, "ai_query": n(200)}, Features: map[string]bool{"alerts": true, "export": true}},
	}
}

// PutPlan добавляет или заменяет тариф.
func (s *Store) PutPlan(p models.PlanLimit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.PlanType] = p
}

// PutSubscription записывает подписку как есть.
func (s *Store) PutSubscription(sub models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.UserID] = sub
}

// EnsureAccount создаёт счёт с грантом, если его нет.
func (s *Store) EnsureAccount(ctx context.Context, userID string, grant decimal.Decimal, entryID string) (models.Balance, error) {
	const op = "memory.EnsureAccount"
	if err := ctx.Err(); err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.accounts[userID]; ok {
		return b, nil
	}
	now := s.now()
	b := models.Balance{
		UserID:            userID,
		Balance:           grant,
		LifetimePurchased: grant,
		LifetimeSpent:     decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if grant.IsPositive() {
		entry := models.LedgerEntry{
			ID:            entryID,
			UserID:        userID,
			Kind:          models.KindBonus,
			Amount:        grant,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  grant,
			Description:   "welcome grant",
		}
		if err := s.appendEntryLocked(&entry); err != nil {
			return models.Balance{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	s.accounts[userID] = b
	return b, nil
}

// GetBalance возвращает баланс или models.ErrAccountNotFound.
func (s *Store) GetBalance(_ context.Context, userID string) (models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.accounts[userID]
	if !ok {
		return models.Balance{}, fmt.Errorf("memory.GetBalance: %w", models.ErrAccountNotFound)
	}
	return b, nil
}

// ApplyDebit списывает сумму, если её хватает.
func (s *Store) ApplyDebit(ctx context.Context, req models.DebitRequest, entryID string) (models.LedgerEntry, error) {
	const op = "memory.ApplyDebit"
	if err := ctx.Err(); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.accounts[req.UserID]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if b.Balance.LessThan(req.Amount) {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op,
			&models.InsufficientBalanceError{Required: req.Amount, Available: b.Balance})
	}

	next := b
	next.Balance = b.Balance.Sub(req.Amount)
	next.LifetimeSpent = b.LifetimeSpent.Add(req.Amount)
	next.UpdatedAt = s.now()
	if err := models.CheckBalance(next); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}

	entry := models.LedgerEntry{
		ID:            entryID,
		UserID:        req.UserID,
		Kind:          models.KindDebit,
		Amount:        req.Amount,
		BalanceBefore: b.Balance,
		BalanceAfter:  next.Balance,
		Description:   req.Description,
		OperationType: req.OperationType,
		Metadata:      req.Metadata,
	}
	if err := s.appendEntryLocked(&entry); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	s.accounts[req.UserID] = next
	return entry, nil
}

// ApplyCredit начисляет сумму. Повтор внешнего идентификатора возвращает прежнюю квитанцию.
func (s *Store) ApplyCredit(ctx context.Context, req models.CreditRequest, entryID string) (models.Receipt, error) {
	const op = "memory.ApplyCredit"
	if err := ctx.Err(); err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.accounts[req.UserID]
	if !ok {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if req.ExternalRef != "" {
		if idx, dup := s.refs[req.ExternalRef]; dup {
			r := models.ReceiptFromEntry(s.entries[idx])
			r.Duplicate = true
			return r, nil
		}
	}

	now := s.now()
	next := b
	next.Balance = b.Balance.Add(req.Amount)
	next.LifetimePurchased = b.LifetimePurchased.Add(req.Amount)
	next.UpdatedAt = now
	if req.Kind == models.KindPurchase {
		next.LastToppedUp = &now
	}
	if err := models.CheckBalance(next); err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	entry := models.LedgerEntry{
		ID:            entryID,
		UserID:        req.UserID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		BalanceBefore: b.Balance,
		BalanceAfter:  next.Balance,
		Description:   req.Description,
		ExternalRef:   req.ExternalRef,
		Metadata:      req.Metadata,
	}
	if err := s.appendEntryLocked(&entry); err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	s.accounts[req.UserID] = next
	return models.ReceiptFromEntry(entry), nil
}

func (s *Store) appendEntryLocked(e *models.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.seq++
	e.Seq = s.seq
	e.CreatedAt = s.now()
	s.entries = append(s.entries, *e)
	if e.ExternalRef != "" {
		s.refs[e.ExternalRef] = len(s.entries) - 1
	}
	return nil
}

// ListEntries возвращает записи пользователя в порядке seq.
func (s *Store) ListEntries(_ context.Context, userID string, q models.HistoryQuery) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	if q.Order != models.OrderOldestFirst {
		sort.Slice(result, func(i, j int) bool { return result[i].Seq > result[j].Seq })
	}

	start := q.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + q.Limit
	if q.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// CorruptBalance подменяет сохранённый баланс, не трогая журнал. Нужен для проверки сверки.
func (s *Store) CorruptBalance(userID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.accounts[userID]
	b.Balance = balance
	s.accounts[userID] = b
}
