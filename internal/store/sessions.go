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

// CreateSession opens a live session and registers the host as its first
// participant.
func (s *Store) CreateSession(ctx context.Context, hostID uuid.UUID) (*domain.Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	sess := domain.Session{ID: uuid.New(), HostID: hostID, Status: domain.SessionLive}
	err = tx.QueryRow(ctx,
		"INSERT INTO sessions (id, host_id, status) VALUES ($1, $2, 'live') RETURNING started_at",
		sess.ID, sess.HostID,
	).Scan(&sess.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("session insert failed: %w", mapPgError(err))
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO session_participants (session_id, account_id, role) VALUES ($1, $2, 'host')",
		sess.ID, hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("host participant insert failed: %w", mapPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", mapPgError(err))
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRow(ctx, `
		SELECT id, host_id, status, credits_calculated, total_credits_distributed, started_at, ended_at
		FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.HostID, &sess.Status, &sess.CreditsCalculated,
		&sess.TotalCreditsDistributed, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, mapPgError(err)
	}
	return &sess, nil
}

// JoinSession records a participant joining a live session. Rejoining an
// existing record reopens it (left_at cleared) without resetting chat counts.
func (s *Store) JoinSession(ctx context.Context, sessionID, accountID uuid.UUID) (*domain.Participant, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionLive {
		return nil, domain.ErrSessionNotLive
	}

	var p domain.Participant
	err = s.db.QueryRow(ctx, `
		INSERT INTO session_participants (session_id, account_id, role)
		VALUES ($1, $2, 'viewer')
		ON CONFLICT (session_id, account_id) DO UPDATE SET left_at = NULL
		RETURNING session_id, account_id, role, joined_at, left_at, chat_messages`,
		sessionID, accountID,
	).Scan(&p.SessionID, &p.AccountID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.ChatMessages)
	if err != nil {
		return nil, fmt.Errorf("participant insert failed: %w", mapPgError(err))
	}
	return &p, nil
}

// LeaveSession closes an open participant record. Already-closed records are
// left untouched.
func (s *Store) LeaveSession(ctx context.Context, sessionID, accountID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE session_participants SET left_at = $3
		WHERE session_id = $1 AND account_id = $2 AND left_at IS NULL`,
		sessionID, accountID, at,
	)
	return mapPgError(err)
}

// RecordChatMessage bumps a participant's chat counter. Fed by the external
// presence/chat service; only weighs into the accrual plan.
func (s *Store) RecordChatMessage(ctx context.Context, sessionID, accountID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE session_participants SET chat_messages = chat_messages + 1
		WHERE session_id = $1 AND account_id = $2`,
		sessionID, accountID,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ListParticipants returns all participant records for a session.
func (s *Store) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, account_id, role, joined_at, left_at, chat_messages
		FROM session_participants WHERE session_id = $1
		ORDER BY joined_at`,
		sessionID,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	parts := []domain.Participant{}
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.SessionID, &p.AccountID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.ChatMessages); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// ClaimSettlement is the exactly-once gate: a single conditional update that
// moves the session to ended while credits_calculated is still false. The
// affected-row count decides the winner; there is no read-then-write window.
// A retry after a partial failure claims again because credits_calculated is
// still false, which is intended.
func (s *Store) ClaimSettlement(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = COALESCE(ended_at, $2)
		WHERE id = $1 AND credits_calculated = FALSE`,
		sessionID, endedAt,
	)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeParticipants closes any still-open participant records at the
// session end time and returns the finalized set.
func (s *Store) FinalizeParticipants(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) ([]domain.Participant, error) {
	_, err := s.db.Exec(ctx, `
		UPDATE session_participants SET left_at = $2
		WHERE session_id = $1 AND left_at IS NULL`,
		sessionID, endedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	return s.ListParticipants(ctx, sessionID)
}

// PayParticipant pays one plan entry atomically: the settlement_payouts row
// and the earn transaction commit together. A conflicting payout row means
// this participant was already paid in an earlier (possibly crashed) run, so
// the whole unit is skipped and paid=false is returned.
func (s *Store) PayParticipant(ctx context.Context, sessionID, accountID uuid.UUID, amount int64) (*domain.ApplyResult, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO settlement_payouts (session_id, account_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, account_id) DO NOTHING`,
		sessionID, accountID, amount,
	)
	if err != nil {
		return nil, false, fmt.Errorf("payout insert failed: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	res, err := s.applyTx(ctx, tx, domain.TransactionParams{
		AccountID: accountID,
		Amount:    amount,
		Type:      domain.TransactionEarn,
		Reason:    "session settlement",
		SessionID: &sessionID,
	})
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("tx commit failed: %w", mapPgError(err))
	}
	return res, true, nil
}

// ListPayouts returns the settlement ledger for a session. The payout table
// is authoritative for what was actually distributed.
func (s *Store) ListPayouts(ctx context.Context, sessionID uuid.UUID) ([]domain.Payout, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, account_id, amount, created_at
		FROM settlement_payouts WHERE session_id = $1
		ORDER BY created_at, account_id`,
		sessionID,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	payouts := []domain.Payout{}
	for rows.Next() {
		var p domain.Payout
		if err := rows.Scan(&p.SessionID, &p.AccountID, &p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// CompleteSettlement flips credits_calculated exactly once. Zero affected
// rows means a concurrent settler completed first; both computed the total
// from the same payout table, so that is not an error.
func (s *Store) CompleteSettlement(ctx context.Context, sessionID uuid.UUID, total int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET credits_calculated = TRUE, total_credits_distributed = $2
		WHERE id = $1 AND credits_calculated = FALSE`,
		sessionID, total,
	)
	return mapPgError(err)
}
