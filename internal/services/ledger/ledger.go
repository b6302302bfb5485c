// Package ledger реализует кошелёк пользователя: баланс, списания, начисления
// и журнал операций, по которому баланс всегда можно восстановить.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/metrics"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Пределы постраничной выдачи истории.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Repository хранилище балансов и журнала.
type Repository interface {
	// EnsureAccount создаёт счёт с грантом, если его нет.
	EnsureAccount(ctx context.Context, userID string, grant decimal.Decimal, entryID string) (models.Balance, error)
	// GetBalance возвращает баланс или models.ErrAccountNotFound.
	GetBalance(ctx context.Context, userID string) (models.Balance, error)
	// ApplyDebit атомарно списывает сумму и пишет запись debit.
	ApplyDebit(ctx context.Context, req models.DebitRequest, entryID string) (models.LedgerEntry, error)
	// ApplyCredit начисляет сумму, повтор внешнего идентификатора возвращает прежнюю квитанцию.
	ApplyCredit(ctx context.Context, req models.CreditRequest, entryID string) (models.Receipt, error)
	// ListEntries возвращает записи пользователя.
	ListEntries(ctx context.Context, userID string, q models.HistoryQuery) ([]models.LedgerEntry, error)
}

// Service кошелёк пользователя.
type Service struct {
	repo         Repository
	welcomeGrant decimal.Decimal
	metrics      *metrics.Metrics
	log          *slog.Logger
}

// New создаёт сервис кошелька. welcomeGrant начисляется при первом обращении к счёту.
func New(repo Repository, welcomeGrant decimal.Decimal, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		welcomeGrant: welcomeGrant,
		metrics:      m,
		log:          log,
	}
}

func newEntryID() string {
	return uuid.New().String()
}

// GetBalance возвращает баланс, при необходимости создавая счёт с приветственным грантом.
func (s *Service) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	const op = "ledger.GetBalance"
	b, err := s.repo.GetBalance(ctx, userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	b, err = s.ensureAccount(ctx, userID)
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func (s *Service) ensureAccount(ctx context.Context, userID string) (models.Balance, error) {
	b, err := s.repo.EnsureAccount(ctx, userID, s.welcomeGrant, newEntryID())
	if err != nil {
		s.reportDefect(userID, "ensure_account", err)
		return models.Balance{}, err
	}
	return b, nil
}

// Debit списывает amount с баланса. При нехватке средств возвращает
// *models.InsufficientBalanceError и ничего не меняет.
func (s *Service) Debit(ctx context.Context, req models.DebitRequest) (models.Receipt, error) {
	const op = "ledger.Debit"
	if !models.ValidAmount(req.Amount) {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}

	entry, err := s.repo.ApplyDebit(ctx, req, newEntryID())
	if errors.Is(err, models.ErrAccountNotFound) {
		if _, err = s.ensureAccount(ctx, req.UserID); err != nil {
			return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
		}
		entry, err = s.repo.ApplyDebit(ctx, req, newEntryID())
	}
	if err != nil {
		s.reportDefect(req.UserID, op, err)
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.LedgerMutation(string(models.KindDebit))
	return models.ReceiptFromEntry(entry), nil
}

// Credit начисляет amount. Kind должен быть purchase, refund или bonus.
// Повтор ExternalRef возвращает прежнюю квитанцию с Duplicate=true.
func (s *Service) Credit(ctx context.Context, req models.CreditRequest) (models.Receipt, error) {
	const op = "ledger.Credit"
	if !models.ValidAmount(req.Amount) {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}
	if !req.Kind.IsCredit() {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, models.ErrInvalidKind)
	}

	r, err := s.repo.ApplyCredit(ctx, req, newEntryID())
	if errors.Is(err, models.ErrAccountNotFound) {
		if _, err = s.ensureAccount(ctx, req.UserID); err != nil {
			return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
		}
		r, err = s.repo.ApplyCredit(ctx, req, newEntryID())
	}
	if err != nil {
		s.reportDefect(req.UserID, op, err)
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	if r.Duplicate {
		s.log.Info("duplicate credit ignored",
			slog.String("op", op),
			slog.String("user_id", req.UserID),
			slog.String("external_ref", req.ExternalRef),
		)
		return r, nil
	}
	s.metrics.LedgerMutation(string(req.Kind))
	return r, nil
}

// History возвращает страницу журнала пользователя.
func (s *Service) History(ctx context.Context, userID string, q models.HistoryQuery) ([]models.LedgerEntry, error) {
	const op = "ledger.History"
	q = normalizeHistory(q)
	entries, err := s.repo.ListEntries(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

func normalizeHistory(q models.HistoryQuery) models.HistoryQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		q.Limit = MaxHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Order != models.OrderOldestFirst {
		q.Order = models.OrderNewestFirst
	}
	return q
}

// Reconcile проигрывает весь журнал пользователя по порядку и сверяет результат
// с сохранённым балансом и накопленными суммами.
func (s *Service) Reconcile(ctx context.Context, userID string) (models.Reconciliation, error) {
	const op = "ledger.Reconcile"
	b, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return models.Reconciliation{}, fmt.Errorf("%s: %w", op, err)
	}
	entries, err := s.repo.ListEntries(ctx, userID, models.HistoryQuery{Order: models.OrderOldestFirst})
	if err != nil {
		return models.Reconciliation{}, fmt.Errorf("%s: %w", op, err)
	}

	rec := Replay(userID, entries)
	rec.Balance = b
	if !rec.ReplayedBalance.Equal(b.Balance) {
		rec.Problems = append(rec.Problems, fmt.Sprintf("replayed balance %s != stored %s", rec.ReplayedBalance, b.Balance))
	}
	if !rec.ReplayedPurchased.Equal(b.LifetimePurchased) {
		rec.Problems = append(rec.Problems, fmt.Sprintf("replayed purchased %s != stored %s", rec.ReplayedPurchased, b.LifetimePurchased))
	}
	if !rec.ReplayedSpent.Equal(b.LifetimeSpent) {
		rec.Problems = append(rec.Problems, fmt.Sprintf("replayed spent %s != stored %s", rec.ReplayedSpent, b.LifetimeSpent))
	}
	rec.Consistent = len(rec.Problems) == 0

	if !rec.Consistent {
		s.log.Error("ledger reconciliation failed",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.Bool("defect", true),
			slog.Any("problems", rec.Problems),
		)
	}
	return rec, nil
}

// Replay восстанавливает баланс по записям журнала в порядке seq.
// Разрывы цепочки balance_before/balance_after попадают в Problems.
func Replay(userID string, entries []models.LedgerEntry) models.Reconciliation {
	rec := models.Reconciliation{
		UserID:            userID,
		Entries:           len(entries),
		ReplayedBalance:   decimal.Zero,
		ReplayedPurchased: decimal.Zero,
		ReplayedSpent:     decimal.Zero,
	}
	for _, e := range entries {
		if !e.BalanceBefore.Equal(rec.ReplayedBalance) {
			rec.Problems = append(rec.Problems,
				fmt.Sprintf("entry %d starts at %s, expected %s", e.Seq, e.BalanceBefore, rec.ReplayedBalance))
		}
		if err := e.Validate(); err != nil {
			rec.Problems = append(rec.Problems, fmt.Sprintf("entry %d: %s", e.Seq, err))
		}
		if e.Kind.IsCredit() {
			rec.ReplayedBalance = rec.ReplayedBalance.Add(e.Amount)
			rec.ReplayedPurchased = rec.ReplayedPurchased.Add(e.Amount)
		} else {
			rec.ReplayedBalance = rec.ReplayedBalance.Sub(e.Amount)
			rec.ReplayedSpent = rec.ReplayedSpent.Add(e.Amount)
		}
	}
	rec.Consistent = len(rec.Problems) == 0
	return rec
}

// reportDefect пишет нарушение инварианта журнала на уровне error.
func (s *Service) reportDefect(userID, op string, err error) {
	if !errors.Is(err, models.ErrInvariantViolation) {
		return
	}
	s.log.Error("ledger invariant violated, transaction rolled back",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Bool("defect", true),
		sl.Err(err),
	)
}
