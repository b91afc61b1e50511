package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the kinds of ledger mutations.
type TransactionType string

const (
	TransactionEarn           TransactionType = "earn"
	TransactionSpend          TransactionType = "spend"
	TransactionAdjustment     TransactionType = "adjustment"
	TransactionMilestoneBonus TransactionType = "milestone_bonus"
	TransactionStreakBonus    TransactionType = "streak_bonus"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionSpend, TransactionAdjustment,
		TransactionMilestoneBonus, TransactionStreakBonus:
		return true
	}
	return false
}

// CountsAsEarned reports whether positive transactions of this type feed the
// lifetime total_credits_earned counter.
func (t TransactionType) CountsAsEarned() bool {
	switch t {
	case TransactionEarn, TransactionMilestoneBonus, TransactionStreakBonus:
		return true
	}
	return false
}

// Account represents a user's balance in the ledger.
// credits_balance is a cache of SUM(amount) over committed transactions;
// the Transaction Engine is its sole writer.
type Account struct {
	ID                 uuid.UUID  `json:"id"`
	CreditsBalance     int64      `json:"credits_balance"`
	TotalCreditsEarned int64      `json:"total_credits_earned"`
	CurrentStreakDays  int        `json:"current_streak_days"`
	LongestStreakDays  int        `json:"longest_streak_days"`
	LastActivityDate   *time.Time `json:"last_activity_date,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Transaction is one immutable ledger entry. Never updated or deleted;
// corrections are issued as new offsetting transactions.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	Amount       int64           `json:"amount"`
	Type         TransactionType `json:"type"`
	Reason       string          `json:"reason"`
	SessionID    *uuid.UUID      `json:"session_id,omitempty"`
	BalanceAfter int64           `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TransactionParams is the input to a single Apply call.
type TransactionParams struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    int64           `json:"amount"`
	Type      TransactionType `json:"type"`
	Reason    string          `json:"reason"`
	SessionID *uuid.UUID      `json:"session_id,omitempty"`
}

// ApplyResult carries the committed transaction together with the account
// counters as of that commit.
type ApplyResult struct {
	Transaction    Transaction `json:"transaction"`
	NewBalance     int64       `json:"new_balance"`
	NewTotalEarned int64       `json:"new_total_earned"`
}

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

// Session represents one live broadcast. credits_calculated transitions
// false->true exactly once, guarded by the settlement claim.
type Session struct {
	ID                      uuid.UUID     `json:"id"`
	HostID                  uuid.UUID     `json:"host_id"`
	Status                  SessionStatus `json:"status"`
	CreditsCalculated       bool          `json:"credits_calculated"`
	TotalCreditsDistributed int64         `json:"total_credits_distributed"`
	StartedAt               time.Time     `json:"started_at"`
	EndedAt                 *time.Time    `json:"ended_at,omitempty"`
}

type ParticipantRole string

const (
	RoleHost   ParticipantRole = "host"
	RoleViewer ParticipantRole = "viewer"
)

// Participant is the per (session, account) presence record. LeftAt is nil
// while the participant is still present; settlement finalizes open records.
type Participant struct {
	SessionID    uuid.UUID       `json:"session_id"`
	AccountID    uuid.UUID       `json:"account_id"`
	Role         ParticipantRole `json:"role"`
	JoinedAt     time.Time       `json:"joined_at"`
	LeftAt       *time.Time      `json:"left_at,omitempty"`
	ChatMessages int             `json:"chat_messages"`
}

// PlanEntry is one proposed payout in a distribution plan.
type PlanEntry struct {
	AccountID uuid.UUID       `json:"account_id"`
	Role      ParticipantRole `json:"role"`
	Amount    int64           `json:"amount"`
}

// DistributionPlan maps participants to proposed non-negative amounts.
// It is a pure function of the session's finalized participant records and
// commits nothing itself.
type DistributionPlan struct {
	SessionID uuid.UUID   `json:"session_id"`
	Entries   []PlanEntry `json:"entries"`
}

func (p DistributionPlan) Total() int64 {
	var sum int64
	for _, e := range p.Entries {
		sum += e.Amount
	}
	return sum
}

// Payout is one row of the per-participant settlement ledger.
type Payout struct {
	SessionID uuid.UUID `json:"session_id"`
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// SettlementResult is the outcome of settling a session. A replayed call
// returns the original distribution with AlreadySettled set and zero
// NewTransactions.
type SettlementResult struct {
	SessionID               uuid.UUID `json:"session_id"`
	TotalCreditsDistributed int64     `json:"total_credits_distributed"`
	Payouts                 []Payout  `json:"payouts"`
	AlreadySettled          bool      `json:"already_settled"`
	NewTransactions         int       `json:"new_transactions"`
}

type MilestoneKind string

const (
	MilestoneEarned MilestoneKind = "earned"
	MilestoneStreak MilestoneKind = "streak"
)

// Milestone is one row of the static threshold table: crossing Threshold
// (lifetime earned credits or streak days, per Kind) pays Bonus once.
type Milestone struct {
	Key       string        `json:"key" yaml:"key"`
	Kind      MilestoneKind `json:"kind" yaml:"kind"`
	Threshold int64         `json:"threshold" yaml:"threshold"`
	Bonus     int64         `json:"bonus" yaml:"bonus"`
	Label     string        `json:"label" yaml:"label"`
}

// MilestoneAward records a bonus actually granted to an account.
type MilestoneAward struct {
	AccountID uuid.UUID `json:"account_id"`
	Milestone string    `json:"milestone"`
	Credits   int64     `json:"credits"`
	AwardedAt time.Time `json:"awarded_at"`
}

// StreakResult reports the streak counters after a session join.
type StreakResult struct {
	CurrentStreakDays int  `json:"current_streak_days"`
	LongestStreakDays int  `json:"longest_streak_days"`
	Continued         bool `json:"continued"`
	Reset             bool `json:"reset"`
}

// LeaderboardEntry is one row of the lifetime-earnings leaderboard.
type LeaderboardEntry struct {
	AccountID          uuid.UUID `json:"account_id"`
	TotalCreditsEarned int64     `json:"total_credits_earned"`
}
