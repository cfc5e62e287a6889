// Package policy decides whether a feeding request may go ahead and keeps
// the running daily safety totals.
package policy

import (
	"time"

	"cat_feeder/internal/models"
)

// Limits are the safety bounds applied to every trigger.
type Limits struct {
	MaxDailyGrams    float64
	MaxDailyFeedings int // 0 disables the count check
	MinInterval      time.Duration
	MaxPortion       float64
}

type Policy struct {
	limits Limits
}

func New(l Limits) *Policy {
	return &Policy{limits: l}
}

func (p *Policy) Limits() Limits { return p.limits }

// Check returns a *models.PolicyViolation for the first rule requested would
// break, or nil. Order: emergency stop, daily total, daily count, interval,
// portion.
func (p *Policy) Check(state models.SafetyState, requested float64, now time.Time) error {
	l := p.limits
	if state.EmergencyStopEngaged {
		return models.NewPolicyViolation(models.ReasonEmergencyStop, "emergency stop engaged")
	}
	if state.DailyDispensedTotal+requested > l.MaxDailyGrams {
		return models.NewPolicyViolation(models.ReasonDailyLimit,
			"%.1f g already dispensed today, %.1f g more exceeds %.1f g",
			state.DailyDispensedTotal, requested, l.MaxDailyGrams)
	}
	if l.MaxDailyFeedings > 0 && state.DailyFeedings >= l.MaxDailyFeedings {
		return models.NewPolicyViolation(models.ReasonFeedingCount,
			"%d feedings today, limit %d", state.DailyFeedings, l.MaxDailyFeedings)
	}
	if !state.LastFeedingAt.IsZero() {
		if since := now.Sub(state.LastFeedingAt); since < l.MinInterval {
			return models.NewPolicyViolation(models.ReasonInterval,
				"last feeding %s ago, minimum interval %s", since.Round(time.Second), l.MinInterval)
		}
	}
	if requested <= 0 || requested > l.MaxPortion {
		return models.NewPolicyViolation(models.ReasonOutOfRange,
			"%.1f g outside (0, %.1f]", requested, l.MaxPortion)
	}
	return nil
}
