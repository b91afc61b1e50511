package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// Emitter publishes outbound events for the notification/UI layer.
// Delivery is fire-and-forget: the core never blocks on or checks whether a
// consumer received anything.
type Emitter interface {
	SettlementCompleted(ctx context.Context, result domain.SettlementResult)
	MilestoneAwarded(ctx context.Context, award domain.MilestoneAward)
	StreakAdvanced(ctx context.Context, accountID uuid.UUID, streak domain.StreakResult)
}

// LogEmitter surfaces events as structured log lines. Stands in for a real
// message bus; downstream consumers tail the stream.
type LogEmitter struct {
	log *zap.Logger
}

func NewLogEmitter(log *zap.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) SettlementCompleted(ctx context.Context, result domain.SettlementResult) {
	e.log.Info("settlement completed",
		zap.String("session_id", result.SessionID.String()),
		zap.Int64("total_credits_distributed", result.TotalCreditsDistributed),
		zap.Int("participants", len(result.Payouts)),
	)
}

func (e *LogEmitter) MilestoneAwarded(ctx context.Context, award domain.MilestoneAward) {
	e.log.Info("milestone awarded",
		zap.String("account_id", award.AccountID.String()),
		zap.String("milestone", award.Milestone),
		zap.Int64("credits", award.Credits),
	)
}

func (e *LogEmitter) StreakAdvanced(ctx context.Context, accountID uuid.UUID, streak domain.StreakResult) {
	e.log.Info("streak advanced",
		zap.String("account_id", accountID.String()),
		zap.Int("current_streak_days", streak.CurrentStreakDays),
		zap.Bool("reset", streak.Reset),
	)
}
