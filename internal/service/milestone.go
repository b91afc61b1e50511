package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// MilestoneStore is the storage surface for milestone awards and streak
// counters. AwardMilestone is idempotent per (account, milestone): the
// storage layer's uniqueness constraint decides, not an application check.
type MilestoneStore interface {
	AwardMilestone(ctx context.Context, accountID uuid.UUID, m domain.Milestone) (*domain.ApplyResult, bool, error)
	GetStreak(ctx context.Context, accountID uuid.UUID) (current, longest int, last *time.Time, err error)
	UpdateStreak(ctx context.Context, accountID uuid.UUID, current, longest int, day time.Time) error
}

// Milestones evaluates cumulative-earnings and streak thresholds against the
// static definition table and grants each bonus at most once per account.
type Milestones struct {
	store   MilestoneStore
	defs    []domain.Milestone
	emitter Emitter
	log     *zap.Logger
	now     func() time.Time
}

func NewMilestones(store MilestoneStore, defs []domain.Milestone, emitter Emitter, log *zap.Logger) *Milestones {
	return &Milestones{
		store:   store,
		defs:    defs,
		emitter: emitter,
		log:     log,
		now:     time.Now,
	}
}

// Evaluate awards every earned-credits milestone whose threshold the lifetime
// total has reached. The award table's primary key keeps this idempotent, so
// there is no lower bound: a tier missed by an earlier evaluation is caught by
// the next one. When a bonus pushes the total across a further tier, the loop
// re-evaluates at the raised total until nothing new is granted.
func (m *Milestones) Evaluate(ctx context.Context, accountID uuid.UUID, totalEarned int64) ([]domain.MilestoneAward, error) {
	awards := []domain.MilestoneAward{}
	for {
		granted, newTotal, err := m.award(ctx, accountID, crossed(m.defs, domain.MilestoneEarned, totalEarned))
		awards = append(awards, granted...)
		if err != nil {
			return awards, err
		}
		if len(granted) == 0 || newTotal <= totalEarned {
			return awards, nil
		}
		totalEarned = newTotal
	}
}

// RecordJoin updates the account's daily streak for a session join and
// awards any streak milestones the new length crosses. Same calendar day is
// a no-op, exactly one day later extends the streak, a larger gap resets it
// to one.
func (m *Milestones) RecordJoin(ctx context.Context, accountID uuid.UUID) (*domain.StreakResult, error) {
	current, longest, last, err := m.store.GetStreak(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	res, changed := NextStreak(current, longest, last, now)
	if !changed {
		return &res, nil
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := m.store.UpdateStreak(ctx, accountID, res.CurrentStreakDays, res.LongestStreakDays, day); err != nil {
		return nil, err
	}
	m.emitter.StreakAdvanced(ctx, accountID, res)

	if _, _, err := m.award(ctx, accountID, crossed(m.defs, domain.MilestoneStreak, int64(res.CurrentStreakDays))); err != nil {
		return &res, err
	}
	return &res, nil
}

// award grants each definition not yet held by the account and reports the
// lifetime earned total after the last bonus committed.
func (m *Milestones) award(ctx context.Context, accountID uuid.UUID, defs []domain.Milestone) ([]domain.MilestoneAward, int64, error) {
	awards := []domain.MilestoneAward{}
	var newTotal int64
	for _, def := range defs {
		res, awarded, err := m.store.AwardMilestone(ctx, accountID, def)
		if err != nil {
			return awards, newTotal, err
		}
		if !awarded {
			continue
		}
		newTotal = res.NewTotalEarned
		milestonesAwarded.WithLabelValues(string(def.Kind)).Inc()
		award := domain.MilestoneAward{
			AccountID: accountID,
			Milestone: def.Key,
			Credits:   def.Bonus,
			AwardedAt: res.Transaction.CreatedAt,
		}
		awards = append(awards, award)
		m.emitter.MilestoneAwarded(ctx, award)
	}
	return awards, newTotal, nil
}

// crossed selects definitions of the given kind with threshold <= cur.
func crossed(defs []domain.Milestone, kind domain.MilestoneKind, cur int64) []domain.Milestone {
	var out []domain.Milestone
	for _, d := range defs {
		if d.Kind == kind && d.Threshold <= cur {
			out = append(out, d)
		}
	}
	return out
}

// NextStreak computes the streak counters after a qualifying join at now.
// Calendar days are compared in UTC. changed is false when the counters need
// no persistence (another join on the same day). A missing activity date
// starts the streak at one even if a stale counter is still stored.
func NextStreak(current, longest int, last *time.Time, now time.Time) (domain.StreakResult, bool) {
	day := func(t time.Time) time.Time {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}

	if last == nil {
		return domain.StreakResult{
			CurrentStreakDays: 1,
			LongestStreakDays: maxInt(longest, 1),
		}, true
	}

	gap := int(day(now).Sub(day(*last)).Hours() / 24)
	switch {
	case gap <= 0:
		return domain.StreakResult{
			CurrentStreakDays: current,
			LongestStreakDays: longest,
		}, false
	case gap == 1:
		next := current + 1
		return domain.StreakResult{
			CurrentStreakDays: next,
			LongestStreakDays: maxInt(longest, next),
			Continued:         true,
		}, true
	default:
		return domain.StreakResult{
			CurrentStreakDays: 1,
			LongestStreakDays: maxInt(longest, 1),
			Reset:             true,
		}, true
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
