package service

import (
	"math"
	"time"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// AccrualPolicy holds the tunable weights that turn finalized participant
// records into a distribution plan. The weights are policy, not correctness:
// settlement only requires that BuildPlan is a finite, non-negative,
// deterministic function of its inputs.
type AccrualPolicy struct {
	ViewerCreditsPerMinute     int64
	HostCreditsPerMinute       int64
	HostCreditsPerViewerMinute int64

	// A viewer chatting at least this many messages earns the multiplier.
	ActiveChatThreshold  int
	ActiveChatMultiplier float64

	// Session-wide chat rate (messages per host minute) that doubles the
	// host's take.
	HighEngagementPerMinute  float64
	HighEngagementMultiplier float64

	// Hosting at least CompletionMinimum doubles the host's take.
	CompletionMinimum    time.Duration
	CompletionMultiplier float64

	// Presence beyond MaxWatchDuration stops accruing; per-participant
	// session earnings are capped at MaxCreditsPerParticipant.
	MaxWatchDuration         time.Duration
	MaxCreditsPerParticipant int64
}

// DefaultAccrualPolicy mirrors the platform's launch earning rates.
func DefaultAccrualPolicy() AccrualPolicy {
	return AccrualPolicy{
		ViewerCreditsPerMinute:     1,
		HostCreditsPerMinute:       5,
		HostCreditsPerViewerMinute: 2,
		ActiveChatThreshold:        5,
		ActiveChatMultiplier:       1.5,
		HighEngagementPerMinute:    2,
		HighEngagementMultiplier:   2,
		CompletionMinimum:          30 * time.Minute,
		CompletionMultiplier:       2,
		MaxWatchDuration:           4 * time.Hour,
		MaxCreditsPerParticipant:   10000,
	}
}

// BuildPlan computes the pending-credit distribution for a session from its
// finalized participant records. It reads nothing from the ledger and commits
// nothing; the Settlement Engine consumes the plan exactly once.
func (p AccrualPolicy) BuildPlan(sess *domain.Session, parts []domain.Participant) domain.DistributionPlan {
	plan := domain.DistributionPlan{SessionID: sess.ID}

	var viewerMinutes float64
	var totalChat int
	for _, part := range parts {
		totalChat += part.ChatMessages
		if part.Role != domain.RoleHost {
			viewerMinutes += p.presenceMinutes(part)
		}
	}

	for _, part := range parts {
		var credits float64
		if part.Role == domain.RoleHost {
			credits = p.hostCredits(part, viewerMinutes, totalChat)
		} else {
			credits = p.viewerCredits(part)
		}
		plan.Entries = append(plan.Entries, domain.PlanEntry{
			AccountID: part.AccountID,
			Role:      part.Role,
			Amount:    p.cap(credits),
		})
	}
	return plan
}

func (p AccrualPolicy) viewerCredits(part domain.Participant) float64 {
	minutes := p.presenceMinutes(part)
	credits := minutes * float64(p.ViewerCreditsPerMinute)
	if part.ChatMessages >= p.ActiveChatThreshold {
		credits *= p.ActiveChatMultiplier
	}
	return credits
}

func (p AccrualPolicy) hostCredits(part domain.Participant, viewerMinutes float64, totalChat int) float64 {
	minutes := p.presenceMinutes(part)
	credits := minutes * float64(p.HostCreditsPerMinute)
	credits += viewerMinutes * float64(p.HostCreditsPerViewerMinute)

	if minutes > 0 && float64(totalChat)/minutes >= p.HighEngagementPerMinute {
		credits *= p.HighEngagementMultiplier
	}
	if minutes >= p.CompletionMinimum.Minutes() {
		credits *= p.CompletionMultiplier
	}
	return credits
}

func (p AccrualPolicy) presenceMinutes(part domain.Participant) float64 {
	if part.LeftAt == nil {
		return 0
	}
	d := part.LeftAt.Sub(part.JoinedAt)
	if d <= 0 {
		return 0
	}
	if d > p.MaxWatchDuration {
		d = p.MaxWatchDuration
	}
	return d.Minutes()
}

func (p AccrualPolicy) cap(credits float64) int64 {
	if credits <= 0 || math.IsNaN(credits) {
		return 0
	}
	amount := int64(math.Floor(credits))
	if amount > p.MaxCreditsPerParticipant {
		return p.MaxCreditsPerParticipant
	}
	return amount
}
