package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// TransactionStore is the atomic write surface the Transaction Engine drives.
type TransactionStore interface {
	ApplyTransaction(ctx context.Context, p domain.TransactionParams) (*domain.ApplyResult, error)
	Tip(ctx context.Context, from, to uuid.UUID, amount int64, sessionID *uuid.UUID, reason string) (*domain.ApplyResult, *domain.ApplyResult, error)
}

// Ledger is the Transaction Engine: it validates single credit mutations and
// retries transient storage conflicts with exponential backoff before
// surfacing ErrServiceUnavailable. Business-rule rejections (insufficient
// balance, unknown account) pass through untouched. Every committed earn-type
// transaction triggers milestone evaluation at the new lifetime total.
type Ledger struct {
	store       TransactionStore
	milestones  BonusEvaluator
	log         *zap.Logger
	maxAttempts int
	baseBackoff time.Duration
}

func NewLedger(store TransactionStore, milestones BonusEvaluator, log *zap.Logger) *Ledger {
	return &Ledger{
		store:       store,
		milestones:  milestones,
		log:         log,
		maxAttempts: 3,
		baseBackoff: 25 * time.Millisecond,
	}
}

// Apply commits one credit mutation against an account.
func (l *Ledger) Apply(ctx context.Context, p domain.TransactionParams) (*domain.ApplyResult, error) {
	if err := validateParams(p); err != nil {
		transactionsTotal.WithLabelValues(string(p.Type), "invalid").Inc()
		return nil, err
	}

	var res *domain.ApplyResult
	err := l.retry(ctx, func() error {
		var err error
		res, err = l.store.ApplyTransaction(ctx, p)
		return err
	})
	if err != nil {
		transactionsTotal.WithLabelValues(string(p.Type), "rejected").Inc()
		return nil, err
	}

	transactionsTotal.WithLabelValues(string(p.Type), "committed").Inc()
	if p.Type.CountsAsEarned() {
		l.evaluateMilestones(ctx, p.AccountID, res.NewTotalEarned)
	}
	return res, nil
}

// Tip moves credits from one account to another as a spend/earn pair in a
// single atomic unit.
func (l *Ledger) Tip(ctx context.Context, from, to uuid.UUID, amount int64, sessionID *uuid.UUID, reason string) (*domain.ApplyResult, *domain.ApplyResult, error) {
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: tip amount must be positive", domain.ErrInvalidTransaction)
	}
	if from == to {
		return nil, nil, fmt.Errorf("%w: cannot tip yourself", domain.ErrInvalidTransaction)
	}
	if reason == "" {
		reason = "tip"
	}

	var spend, earn *domain.ApplyResult
	err := l.retry(ctx, func() error {
		var err error
		spend, earn, err = l.store.Tip(ctx, from, to, amount, sessionID, reason)
		return err
	})
	if err != nil {
		transactionsTotal.WithLabelValues(string(domain.TransactionSpend), "rejected").Inc()
		return nil, nil, err
	}

	transactionsTotal.WithLabelValues(string(domain.TransactionSpend), "committed").Inc()
	transactionsTotal.WithLabelValues(string(domain.TransactionEarn), "committed").Inc()
	l.evaluateMilestones(ctx, to, earn.NewTotalEarned)
	return spend, earn, nil
}

// evaluateMilestones runs threshold checks after a committed earn. A failure
// is logged only; the transaction stands, and evaluation has no lower bound,
// so the next earn for the account retries the same thresholds.
func (l *Ledger) evaluateMilestones(ctx context.Context, accountID uuid.UUID, totalEarned int64) {
	if l.milestones == nil {
		return
	}
	if _, err := l.milestones.Evaluate(ctx, accountID, totalEarned); err != nil {
		l.log.Warn("milestone evaluation failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
	}
}

// retry runs op, repeating on ErrStorageConflict up to maxAttempts with
// doubling backoff. Any other error returns immediately.
func (l *Ledger) retry(ctx context.Context, op func() error) error {
	backoff := l.baseBackoff
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, domain.ErrStorageConflict) {
			return err
		}
		if attempt == l.maxAttempts {
			break
		}
		transactionRetries.Inc()
		l.log.Warn("storage conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", domain.ErrServiceUnavailable, l.maxAttempts, err)
}

func validateParams(p domain.TransactionParams) error {
	if p.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidTransaction)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: amount must be non-zero", domain.ErrInvalidTransaction)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidTransaction, p.Type)
	}
	if p.Type == domain.TransactionSpend && p.Amount > 0 {
		return fmt.Errorf("%w: spend amount must be negative", domain.ErrInvalidTransaction)
	}
	if p.Type.CountsAsEarned() && p.Amount < 0 {
		return fmt.Errorf("%w: %s amount must be positive", domain.ErrInvalidTransaction, p.Type)
	}
	return nil
}
