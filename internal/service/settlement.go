package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// SettlementStore is the storage surface the Settlement Engine drives. Every
// method maps to an atomic unit of work; the exactly-once properties live in
// the store's conditional updates and uniqueness constraints, not in
// application locks.
type SettlementStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ClaimSettlement(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (bool, error)
	FinalizeParticipants(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) ([]domain.Participant, error)
	PayParticipant(ctx context.Context, sessionID, accountID uuid.UUID, amount int64) (*domain.ApplyResult, bool, error)
	ListPayouts(ctx context.Context, sessionID uuid.UUID) ([]domain.Payout, error)
	CompleteSettlement(ctx context.Context, sessionID uuid.UUID, total int64) error
}

// Planner produces the distribution plan for a session's finalized
// participant records.
type Planner interface {
	BuildPlan(sess *domain.Session, parts []domain.Participant) domain.DistributionPlan
}

// BonusEvaluator checks milestone thresholds against a committed lifetime
// earned total.
type BonusEvaluator interface {
	Evaluate(ctx context.Context, accountID uuid.UUID, totalEarned int64) ([]domain.MilestoneAward, error)
}

// Settlement distributes a session's accrued credits exactly once.
type Settlement struct {
	store      SettlementStore
	planner    Planner
	milestones BonusEvaluator
	emitter    Emitter
	log        *zap.Logger
	now        func() time.Time
}

func NewSettlement(store SettlementStore, planner Planner, milestones BonusEvaluator, emitter Emitter, log *zap.Logger) *Settlement {
	return &Settlement{
		store:      store,
		planner:    planner,
		milestones: milestones,
		emitter:    emitter,
		log:        log,
		now:        time.Now,
	}
}

// Settle ends a session and pays out its distribution plan.
//
// The state machine: live -> ended (claimed) -> ended+settled. A session
// already settled returns its recorded result unchanged. A partial failure
// leaves the session ended with credits_calculated still false; re-invoking
// Settle claims again and pays only the participants the payout ledger has
// not seen. Once claimed, settlement is not cancellable: a timeout mid-
// distribution leaves that same retryable state, never a rolled-back claim.
func (s *Settlement) Settle(ctx context.Context, sessionID uuid.UUID) (*domain.SettlementResult, error) {
	timer := prometheus.NewTimer(settlementDuration)
	defer timer.ObserveDuration()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionEnded && sess.CreditsCalculated {
		settlementsTotal.WithLabelValues("replayed").Inc()
		return s.recordedResult(ctx, sess)
	}

	now := s.now().UTC()
	claimed, err := s.store.ClaimSettlement(ctx, sessionID, now)
	if err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !claimed {
		// Lost the claim race; the winner has completed. Return its result.
		sess, err = s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		settlementsTotal.WithLabelValues("replayed").Inc()
		return s.recordedResult(ctx, sess)
	}

	endedAt := now
	if sess.EndedAt != nil {
		endedAt = *sess.EndedAt
	}
	sess.Status = domain.SessionEnded
	sess.EndedAt = &endedAt

	parts, err := s.store.FinalizeParticipants(ctx, sessionID, endedAt)
	if err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	plan := s.planner.BuildPlan(sess, parts)

	var newTx, failed int
	var firstErr error
	for _, entry := range plan.Entries {
		if entry.Amount <= 0 {
			continue
		}
		res, paid, err := s.store.PayParticipant(ctx, sessionID, entry.AccountID, entry.Amount)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.log.Error("settlement payout failed",
				zap.String("session_id", sessionID.String()),
				zap.String("account_id", entry.AccountID.String()),
				zap.Error(err),
			)
			continue
		}
		if !paid {
			// Already paid by an earlier run of this settlement.
			continue
		}
		newTx++
		settlementPayouts.Inc()

		if s.milestones != nil {
			if _, err := s.milestones.Evaluate(ctx, entry.AccountID, res.NewTotalEarned); err != nil {
				// Milestones are a side effect; a failure here must not
				// poison an otherwise committed payout. Evaluation has no
				// lower bound, so the account's next earn catches anything
				// missed here.
				s.log.Warn("milestone evaluation failed",
					zap.String("account_id", entry.AccountID.String()),
					zap.Error(err),
				)
			}
		}
	}

	if failed > 0 {
		settlementsTotal.WithLabelValues("partial").Inc()
		return nil, &domain.PartialSettlementError{
			SessionID: sessionID,
			Paid:      newTx,
			Failed:    failed,
			Err:       firstErr,
		}
	}

	payouts, err := s.store.ListPayouts(ctx, sessionID)
	if err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	var total int64
	for _, p := range payouts {
		total += p.Amount
	}

	if err := s.store.CompleteSettlement(ctx, sessionID, total); err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &domain.SettlementResult{
		SessionID:               sessionID,
		TotalCreditsDistributed: total,
		Payouts:                 payouts,
		NewTransactions:         newTx,
	}
	settlementsTotal.WithLabelValues("settled").Inc()
	s.emitter.SettlementCompleted(ctx, *result)
	return result, nil
}

func (s *Settlement) recordedResult(ctx context.Context, sess *domain.Session) (*domain.SettlementResult, error) {
	payouts, err := s.store.ListPayouts(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return &domain.SettlementResult{
		SessionID:               sess.ID,
		TotalCreditsDistributed: sess.TotalCreditsDistributed,
		Payouts:                 payouts,
		AlreadySettled:          true,
	}, nil
}
