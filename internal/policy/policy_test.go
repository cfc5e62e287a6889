package policy

import (
	"errors"
	"testing"
	"time"

	"cat_feeder/internal/models"
)

var limits = Limits{
	MaxDailyGrams:    150,
	MaxDailyFeedings: 4,
	MinInterval:      2 * time.Hour,
	MaxPortion:       200,
}

func TestCheck(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	p := New(limits)

	tests := []struct {
		name      string
		state     models.SafetyState
		requested float64
		want      models.PolicyReason
	}{
		{name: "ok", state: models.SafetyState{}, requested: 50},
		{name: "estop wins over everything", state: models.SafetyState{EmergencyStopEngaged: true, DailyDispensedTotal: 500}, requested: 500, want: models.ReasonEmergencyStop},
		{name: "daily limit exact fits", state: models.SafetyState{DailyDispensedTotal: 100}, requested: 50},
		{name: "daily limit exceeded", state: models.SafetyState{DailyDispensedTotal: 100}, requested: 51, want: models.ReasonDailyLimit},
		{name: "feeding count", state: models.SafetyState{DailyFeedings: 4}, requested: 10, want: models.ReasonFeedingCount},
		{name: "interval too short", state: models.SafetyState{LastFeedingAt: now.Add(-119 * time.Minute)}, requested: 10, want: models.ReasonInterval},
		{name: "interval exactly met", state: models.SafetyState{LastFeedingAt: now.Add(-2 * time.Hour)}, requested: 10},
		{name: "zero portion", state: models.SafetyState{}, requested: 0, want: models.ReasonOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(tt.state, tt.requested, now)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected violation: %v", err)
				}
				return
			}
			reason, ok := models.ReasonOf(err)
			if !ok || reason != tt.want {
				t.Fatalf("want reason %q, got %v", tt.want, err)
			}
			if !errors.Is(err, models.ErrPolicyViolation) {
				t.Fatalf("violation must match ErrPolicyViolation: %v", err)
			}
		})
	}
}

func TestCheck_PortionAboveMax(t *testing.T) {
	p := New(Limits{MaxDailyGrams: 1000, MaxPortion: 200})
	err := p.Check(models.SafetyState{}, 250, time.Now())
	if !errors.Is(err, models.ErrInvalidPortion) {
		t.Fatalf("want ErrInvalidPortion, got %v", err)
	}
}

func TestCheck_EmergencyStopMatchesSentinel(t *testing.T) {
	err := New(limits).Check(models.SafetyState{EmergencyStopEngaged: true}, 10, time.Now())
	if !errors.Is(err, models.ErrEmergencyStopActive) {
		t.Fatalf("want ErrEmergencyStopActive, got %v", err)
	}
}

func TestCheck_CumulativeDailyLimit(t *testing.T) {
	p := New(Limits{MaxDailyGrams: 100, MaxPortion: 100})
	tr := NewTracker(time.UTC, nil)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	var accepted []float64
	var rejected error
	for _, req := range []float64{30, 30, 30, 30, 5} {
		if err := p.Check(tr.Snapshot(now), req, now); err != nil {
			rejected = err
			break
		}
		tr.Record(req, now)
		accepted = append(accepted, req)
	}
	if len(accepted) != 3 {
		t.Fatalf("want 3 accepted, got %v", accepted)
	}
	if r, _ := models.ReasonOf(rejected); r != models.ReasonDailyLimit {
		t.Fatalf("want daily_limit on the fourth request, got %v", rejected)
	}
}
