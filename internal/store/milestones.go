package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// AwardMilestone grants a milestone bonus at most once per (account,
// milestone). The award row's primary key carries the guarantee: the insert
// and the bonus transaction commit together, and a conflict means the award
// already exists, so nothing is applied and awarded=false is returned.
func (s *Store) AwardMilestone(ctx context.Context, accountID uuid.UUID, m domain.Milestone) (*domain.ApplyResult, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO milestone_awards (account_id, milestone, credits)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, milestone) DO NOTHING`,
		accountID, m.Key, m.Bonus,
	)
	if err != nil {
		return nil, false, fmt.Errorf("award insert failed: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	txType := domain.TransactionMilestoneBonus
	if m.Kind == domain.MilestoneStreak {
		txType = domain.TransactionStreakBonus
	}
	res, err := s.applyTx(ctx, tx, domain.TransactionParams{
		AccountID: accountID,
		Amount:    m.Bonus,
		Type:      txType,
		Reason:    m.Label,
	})
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("tx commit failed: %w", mapPgError(err))
	}
	return res, true, nil
}

// ListAwards returns an account's milestone awards, newest first.
func (s *Store) ListAwards(ctx context.Context, accountID uuid.UUID) ([]domain.MilestoneAward, error) {
	rows, err := s.db.Query(ctx, `
		SELECT account_id, milestone, credits, awarded_at
		FROM milestone_awards WHERE account_id = $1
		ORDER BY awarded_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	awards := []domain.MilestoneAward{}
	for rows.Next() {
		var a domain.MilestoneAward
		if err := rows.Scan(&a.AccountID, &a.Milestone, &a.Credits, &a.AwardedAt); err != nil {
			return nil, err
		}
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

// GetStreak reads the streak counters for an account.
func (s *Store) GetStreak(ctx context.Context, accountID uuid.UUID) (current, longest int, last *time.Time, err error) {
	err = s.db.QueryRow(ctx,
		"SELECT current_streak_days, longest_streak_days, last_activity_date FROM accounts WHERE id = $1",
		accountID,
	).Scan(&current, &longest, &last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, nil, domain.ErrAccountNotFound
		}
		return 0, 0, nil, mapPgError(err)
	}
	return current, longest, last, nil
}

// UpdateStreak persists new streak counters and the activity date.
func (s *Store) UpdateStreak(ctx context.Context, accountID uuid.UUID, current, longest int, day time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET current_streak_days = $2, longest_streak_days = $3, last_activity_date = $4
		WHERE id = $1`,
		accountID, current, longest, day,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
