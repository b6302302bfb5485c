package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const welcomeGrantDescription = "welcome grant"

const balanceColumns = `user_id, balance, lifetime_purchased, lifetime_spent, last_topped_up, created_at, updated_at`

const entryColumns = `id::text, seq, user_id, kind, amount, balance_before, balance_after,
	description, COALESCE(external_ref, ''), operation_type, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (models.Balance, error) {
	var (
		b        models.Balance
		toppedUp sql.NullTime
	)
	if err := row.Scan(&b.UserID, &b.Balance, &b.LifetimePurchased, &b.LifetimeSpent,
		&toppedUp, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return models.Balance{}, err
	}
	if toppedUp.Valid {
		t := toppedUp.Time
		b.LastToppedUp = &t
	}
	return b, nil
}

func scanEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		e    models.LedgerEntry
		kind string
		meta []byte
	)
	if err := row.Scan(&e.ID, &e.Seq, &e.UserID, &kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.Description, &e.ExternalRef, &e.OperationType, &meta, &e.CreatedAt); err != nil {
		return models.LedgerEntry{}, err
	}
	e.Kind = models.EntryKind(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return models.LedgerEntry{}, err
		}
	}
	return e, nil
}

func nullableRef(ref string) any {
	if ref == "" {
		return nil
	}
	return ref
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// insertEntry проверяет запись и добавляет её в журнал, заполняя seq и created_at.
func insertEntry(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO ledger_entries (id, user_id, kind, amount, balance_before, balance_after,
				description, external_ref, operation_type, metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
			  RETURNING seq, created_at`
	return tx.QueryRowContext(ctx, query,
		e.ID, e.UserID, string(e.Kind), e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Description, nullableRef(e.ExternalRef), e.OperationType, meta,
	).Scan(&e.Seq, &e.CreatedAt)
}

// EnsureAccount создаёт счёт с приветственным грантом, если его ещё нет, и возвращает баланс.
// Грант записывается в журнал как bonus.
func (s *Storage) EnsureAccount(ctx context.Context, userID string, grant decimal.Decimal, entryID string) (models.Balance, error) {
	const op = "storage.EnsureAccount"
	if err := checkCtx(ctx, op); err != nil {
		return models.Balance{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance, lifetime_purchased, lifetime_spent)
		 VALUES ($1, $2, $2, 0)
		 ON CONFLICT (user_id) DO NOTHING`, userID, grant)
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}

	if created == 1 && grant.IsPositive() {
		entry := models.LedgerEntry{
			ID:            entryID,
			UserID:        userID,
			Kind:          models.KindBonus,
			Amount:        grant,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  grant,
			Description:   welcomeGrantDescription,
		}
		if err := insertEntry(ctx, tx, &entry); err != nil {
			return models.Balance{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	b, err := scanBalance(tx.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// GetBalance возвращает баланс пользователя или models.ErrAccountNotFound.
func (s *Storage) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	const op = "storage.GetBalance"
	if err := checkCtx(ctx, op); err != nil {
		return models.Balance{}, err
	}
	b, err := scanBalance(s.DB.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM accounts WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Balance{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// ApplyDebit атомарно списывает сумму условным UPDATE и пишет запись debit.
// Если средств не хватает, возвращает *models.InsufficientBalanceError и ничего не меняет.
func (s *Storage) ApplyDebit(ctx context.Context, req models.DebitRequest, entryID string) (models.LedgerEntry, error) {
	const op = "storage.ApplyDebit"
	if err := checkCtx(ctx, op); err != nil {
		return models.LedgerEntry{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	b, err := scanBalance(tx.QueryRowContext(ctx,
		`UPDATE accounts
		 SET balance = balance - $2, lifetime_spent = lifetime_spent + $2, updated_at = NOW()
		 WHERE user_id = $1 AND balance >= $2
		 RETURNING `+balanceColumns, req.UserID, req.Amount))
	if errors.Is(err, sql.ErrNoRows) {
		var available decimal.Decimal
		err = tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE user_id = $1`, req.UserID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
		}
		if err != nil {
			return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
		}
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op,
			&models.InsufficientBalanceError{Required: req.Amount, Available: available})
	}
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := models.CheckBalance(b); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}

	entry := models.LedgerEntry{
		ID:            entryID,
		UserID:        req.UserID,
		Kind:          models.KindDebit,
		Amount:        req.Amount,
		BalanceBefore: b.Balance.Add(req.Amount),
		BalanceAfter:  b.Balance,
		Description:   req.Description,
		OperationType: req.OperationType,
		Metadata:      req.Metadata,
	}
	if err := insertEntry(ctx, tx, &entry); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

// ApplyCredit начисляет сумму под блокировкой строки счёта. Если внешний идентификатор
// уже применён, возвращает прежнюю квитанцию с Duplicate=true без изменений.
func (s *Storage) ApplyCredit(ctx context.Context, req models.CreditRequest, entryID string) (models.Receipt, error) {
	const op = "storage.ApplyCredit"
	if err := checkCtx(ctx, op); err != nil {
		return models.Receipt{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	b, err := scanBalance(tx.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, req.UserID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	if req.ExternalRef != "" {
		prior, err := scanEntry(tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM ledger_entries WHERE external_ref = $1`, req.ExternalRef))
		switch {
		case err == nil:
			r := models.ReceiptFromEntry(prior)
			r.Duplicate = true
			return r, nil
		case !errors.Is(err, sql.ErrNoRows):
			return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	after := models.Balance{
		UserID:            b.UserID,
		Balance:           b.Balance.Add(req.Amount),
		LifetimePurchased: b.LifetimePurchased.Add(req.Amount),
		LifetimeSpent:     b.LifetimeSpent,
	}
	if err := models.CheckBalance(after); err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance = $2, lifetime_purchased = $3,
		     last_topped_up = CASE WHEN $4::boolean THEN NOW() ELSE last_topped_up END,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		req.UserID, after.Balance, after.LifetimePurchased, req.Kind == models.KindPurchase)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	entry := models.LedgerEntry{
		ID:            entryID,
		UserID:        req.UserID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		BalanceBefore: b.Balance,
		BalanceAfter:  after.Balance,
		Description:   req.Description,
		ExternalRef:   req.ExternalRef,
		Metadata:      req.Metadata,
	}
	if err := insertEntry(ctx, tx, &entry); err != nil {
		if isUniqueViolation(err) {
			rollback(tx)
			return s.priorReceipt(ctx, req.ExternalRef)
		}
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.ReceiptFromEntry(entry), nil
}

// priorReceipt ищет запись, которая заняла внешний идентификатор в параллельной транзакции.
func (s *Storage) priorReceipt(ctx context.Context, externalRef string) (models.Receipt, error) {
	const op = "storage.priorReceipt"
	prior, err := scanEntry(s.DB.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE external_ref = $1`, externalRef))
	if err != nil {
		return models.Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	r := models.ReceiptFromEntry(prior)
	r.Duplicate = true
	return r, nil
}

// ListEntries возвращает записи журнала пользователя в порядке seq. Limit = 0 означает все записи.
func (s *Storage) ListEntries(ctx context.Context, userID string, q models.HistoryQuery) ([]models.LedgerEntry, error) {
	const op = "storage.ListEntries"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	order := "DESC"
	if q.Order == models.OrderOldestFirst {
		order = "ASC"
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}

	query := `SELECT ` + entryColumns + `
			  FROM ledger_entries
			  WHERE user_id = $1
			  ORDER BY seq ` + order + `
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userID, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}
