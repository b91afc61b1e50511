package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// Store is the pgx-backed ledger store. All balance mutations go through
// applyTx so the transaction row and the cached account counters commit in
// one atomic unit.
type Store struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

func New(ctx context.Context, connString string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool, log: log}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// mapPgError folds transient Postgres failures into ErrStorageConflict so the
// Transaction Engine can retry them.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
			return fmt.Errorf("%w: %v", domain.ErrStorageConflict, err)
		}
	}
	return err
}

// CreateAccount creates a new account with zero balance.
func (s *Store) CreateAccount(ctx context.Context) (*domain.Account, error) {
	acc := domain.Account{ID: uuid.New()}
	err := s.db.QueryRow(ctx,
		"INSERT INTO accounts (id) VALUES ($1) RETURNING created_at",
		acc.ID,
	).Scan(&acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", mapPgError(err))
	}
	return &acc, nil
}

// GetAccount retrieves a single account by ID. Archived accounts remain
// readable so their transaction history stays auditable.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRow(ctx, `
		SELECT id, credits_balance, total_credits_earned,
		       current_streak_days, longest_streak_days,
		       last_activity_date, archived_at, created_at
		FROM accounts WHERE id = $1`,
		id,
	).Scan(&acc.ID, &acc.CreditsBalance, &acc.TotalCreditsEarned,
		&acc.CurrentStreakDays, &acc.LongestStreakDays,
		&acc.LastActivityDate, &acc.ArchivedAt, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, mapPgError(err)
	}
	return &acc, nil
}

// ArchiveAccount soft-archives an account. The row and its transactions are
// kept; archived accounts reject further mutations.
func (s *Store) ArchiveAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE accounts SET archived_at = now() WHERE id = $1 AND archived_at IS NULL",
		id,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// TransactionFilter narrows a transaction history query.
type TransactionFilter struct {
	Type   domain.TransactionType
	Limit  int
	Offset int
}

// bounds clamps client-supplied paging values to what the query accepts.
func (f TransactionFilter) bounds() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetTransactions returns an account's transaction history, newest first.
func (s *Store) GetTransactions(ctx context.Context, accountID uuid.UUID, f TransactionFilter) ([]domain.Transaction, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	limit, offset := f.bounds()

	query := `
		SELECT id, account_id, amount, type, reason, session_id, balance_after, created_at
		FROM credit_transactions
		WHERE account_id = $1`
	args := []any{accountID}
	if f.Type != "" {
		query += " AND type = $2"
		args = append(args, f.Type)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.Reason,
			&t.SessionID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// Leaderboard returns the top lifetime earners.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, total_credits_earned
		FROM accounts
		WHERE archived_at IS NULL
		ORDER BY total_credits_earned DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.AccountID, &e.TotalCreditsEarned); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ApplyTransaction commits one ledger mutation atomically: exclusive lock on
// the account row, balance check, append transaction, update cached counters.
func (s *Store) ApplyTransaction(ctx context.Context, p domain.TransactionParams) (*domain.ApplyResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	res, err := s.applyTx(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", mapPgError(err))
	}
	return res, nil
}

// applyTx is the single write path for balances. Callers own the surrounding
// transaction; settlement and milestone awards compose it with their own
// bookkeeping rows so everything commits or rolls back together.
func (s *Store) applyTx(ctx context.Context, tx pgx.Tx, p domain.TransactionParams) (*domain.ApplyResult, error) {
	var balance, earned int64
	err := tx.QueryRow(ctx,
		"SELECT credits_balance, total_credits_earned FROM accounts WHERE id = $1 AND archived_at IS NULL FOR UPDATE",
		p.AccountID,
	).Scan(&balance, &earned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account lock failed: %w", mapPgError(err))
	}

	newBalance := balance + p.Amount
	if newBalance < 0 {
		return nil, &domain.InsufficientBalanceError{Required: -p.Amount, Current: balance}
	}

	newEarned := earned
	if p.Amount > 0 && p.Type.CountsAsEarned() {
		newEarned += p.Amount
	}

	txn := domain.Transaction{
		ID:           uuid.New(),
		AccountID:    p.AccountID,
		Amount:       p.Amount,
		Type:         p.Type,
		Reason:       p.Reason,
		SessionID:    p.SessionID,
		BalanceAfter: newBalance,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount, type, reason, session_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		txn.ID, txn.AccountID, txn.Amount, txn.Type, txn.Reason, txn.SessionID, txn.BalanceAfter,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", mapPgError(err))
	}

	_, err = tx.Exec(ctx,
		"UPDATE accounts SET credits_balance = $1, total_credits_earned = $2 WHERE id = $3",
		newBalance, newEarned, p.AccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("balance update failed: %w", mapPgError(err))
	}

	return &domain.ApplyResult{Transaction: txn, NewBalance: newBalance, NewTotalEarned: newEarned}, nil
}

// Tip moves credits between two accounts in one transaction: a spend on the
// sender and an earn on the recipient. Account rows are locked in ID order to
// prevent deadlocks between crossing tips.
func (s *Store) Tip(ctx context.Context, from, to uuid.UUID, amount int64, sessionID *uuid.UUID, reason string) (*domain.ApplyResult, *domain.ApplyResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	first, second := from, to
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}
	for _, id := range []uuid.UUID{first, second} {
		var dummy int
		err := tx.QueryRow(ctx,
			"SELECT 1 FROM accounts WHERE id = $1 AND archived_at IS NULL FOR UPDATE", id,
		).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, domain.ErrAccountNotFound
			}
			return nil, nil, fmt.Errorf("account lock failed: %w", mapPgError(err))
		}
	}

	spend, err := s.applyTx(ctx, tx, domain.TransactionParams{
		AccountID: from,
		Amount:    -amount,
		Type:      domain.TransactionSpend,
		Reason:    reason,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, nil, err
	}

	earn, err := s.applyTx(ctx, tx, domain.TransactionParams{
		AccountID: to,
		Amount:    amount,
		Type:      domain.TransactionEarn,
		Reason:    reason,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", mapPgError(err))
	}
	return spend, earn, nil
}
