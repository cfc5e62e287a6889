package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"cat_feeder/internal/models"
)

type staticRules []models.FeedingRule

func (r staticRules) ListRules(ctx context.Context) ([]models.FeedingRule, error) { return r, nil }

type call struct {
	ruleID int64
	due    time.Time
}

type recorder struct {
	calls []call
	err   func(rule models.FeedingRule) error
}

func (r *recorder) feed(ctx context.Context, rule models.FeedingRule, due time.Time) error {
	r.calls = append(r.calls, call{rule.ID, due})
	if r.err != nil {
		return r.err(rule)
	}
	return nil
}

func at(h, m int) time.Time { return time.Date(2026, 6, 1, h, m, 0, 0, time.UTC) }

var rules = staticRules{
	{ID: 1, TimeOfDay: "08:00", PortionMass: 50, Enabled: true},
	{ID: 2, TimeOfDay: "12:00", PortionMass: 50, Enabled: true},
	{ID: 3, TimeOfDay: "08:00", PortionMass: 20, Enabled: true},
	{ID: 4, TimeOfDay: "18:00", PortionMass: 50, Enabled: false},
}

func TestTick_FiresDueRulesInOrder(t *testing.T) {
	rec := &recorder{}
	s := New(rules, rec.feed, Config{Location: time.UTC}, nil, nil)
	s.Start(at(7, 59))

	rep, err := s.Tick(context.Background(), at(8, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Fired) != 2 || len(rec.calls) != 2 {
		t.Fatalf("want 2 fired, got %+v", rep)
	}
	if rec.calls[0].ruleID != 1 || rec.calls[1].ruleID != 3 {
		t.Fatalf("same-time rules must fire in ID order, got %+v", rec.calls)
	}

	// nothing new until noon
	if rep, _ := s.Tick(context.Background(), at(11, 59)); len(rep.Fired) != 0 {
		t.Fatalf("unexpected fire %+v", rep)
	}
	if rep, _ := s.Tick(context.Background(), at(12, 0)); len(rep.Fired) != 1 || rep.Fired[0].RuleID != 2 {
		t.Fatalf("want rule 2 at noon, got %+v", rep)
	}
	// disabled rule 4 never fires
	if rep, _ := s.Tick(context.Background(), at(23, 0)); len(rep.Fired) != 0 {
		t.Fatalf("disabled rule fired: %+v", rep)
	}
}

func TestTick_FirstTickOnlyStartsTheClock(t *testing.T) {
	rec := &recorder{}
	s := New(rules, rec.feed, Config{Location: time.UTC}, nil, nil)

	if _, err := s.Tick(context.Background(), at(13, 0)); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("past rules must not fire at startup: %+v", rec.calls)
	}
}

func TestTick_BusyIsDeferredNotLost(t *testing.T) {
	busy := true
	rec := &recorder{err: func(models.FeedingRule) error {
		if busy {
			return &models.BusyError{Resource: "scale", Owner: "calibration:x"}
		}
		return nil
	}}
	s := New(rules, rec.feed, Config{Location: time.UTC}, nil, nil)
	s.Start(at(7, 0))

	rep, _ := s.Tick(context.Background(), at(8, 0))
	if len(rep.Fired) != 0 || rep.Deferred != 2 || s.Deferred() != 2 {
		t.Fatalf("want both deferred, got %+v", rep)
	}

	busy = false
	rep, _ = s.Tick(context.Background(), at(8, 5))
	if len(rep.Fired) != 2 || rep.Deferred != 0 {
		t.Fatalf("deferred rules must fire once free, got %+v", rep)
	}
	if !rep.Fired[0].DueAt.Equal(at(8, 0)) {
		t.Fatalf("keeps original due time, got %v", rep.Fired[0].DueAt)
	}
}

func TestTick_PolicyViolationIsFinal(t *testing.T) {
	rec := &recorder{err: func(models.FeedingRule) error {
		return models.NewPolicyViolation(models.ReasonInterval, "too soon")
	}}
	s := New(rules, rec.feed, Config{Location: time.UTC}, nil, nil)
	s.Start(at(7, 0))

	rep, _ := s.Tick(context.Background(), at(8, 0))
	if len(rep.Fired) != 2 || rep.Deferred != 0 {
		t.Fatalf("got %+v", rep)
	}
	if !errors.Is(rep.Fired[0].Err, models.ErrPolicyViolation) {
		t.Fatalf("want violation reported, got %v", rep.Fired[0].Err)
	}
	s.Tick(context.Background(), at(9, 0))
	if len(rec.calls) != 2 {
		t.Fatalf("violations must not be retried, calls %+v", rec.calls)
	}
}

func TestTick_RecordsExpiredDeferrals(t *testing.T) {
	rec := &recorder{err: func(models.FeedingRule) error { return models.ErrResourceBusy }}
	s := New(staticRules{rules[0]}, rec.feed, Config{Location: time.UTC, MaxDeferral: time.Hour}, nil, nil)
	type drop struct {
		ruleID   int64
		due      time.Time
		attempts int
	}
	var drops []drop
	s.OnDrop(func(ctx context.Context, rule models.FeedingRule, due time.Time, attempts int) {
		drops = append(drops, drop{rule.ID, due, attempts})
	})
	s.Start(at(7, 0))

	s.Tick(context.Background(), at(8, 0))
	s.Tick(context.Background(), at(8, 30))
	report, err := s.Tick(context.Background(), at(9, 30))
	if err != nil {
		t.Fatal(err)
	}
	if s.Deferred() != 0 {
		t.Fatalf("expired occurrence kept")
	}
	if len(rec.calls) != 2 {
		t.Fatalf("want 2 attempts before giving up, got %d", len(rec.calls))
	}
	if len(report.Dropped) != 1 || report.Dropped[0].RuleID != 1 || !errors.Is(report.Dropped[0].Err, models.ErrResourceBusy) {
		t.Fatalf("unexpected dropped report %+v", report.Dropped)
	}
	if len(drops) != 1 || drops[0].ruleID != 1 || !drops[0].due.Equal(at(8, 0)) || drops[0].attempts != 2 {
		t.Fatalf("drop hook saw %+v", drops)
	}

	s.Tick(context.Background(), at(10, 0))
	if len(drops) != 1 {
		t.Fatalf("occurrence recorded twice: %+v", drops)
	}
}

func TestTick_AcrossMidnight(t *testing.T) {
	rec := &recorder{}
	s := New(staticRules{{ID: 9, TimeOfDay: "00:05", PortionMass: 10, Enabled: true}}, rec.feed, Config{Location: time.UTC}, nil, nil)
	s.Start(time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC))

	s.Tick(context.Background(), time.Date(2026, 6, 2, 0, 6, 0, 0, time.UTC))
	if len(rec.calls) != 1 || !rec.calls[0].due.Equal(time.Date(2026, 6, 2, 0, 5, 0, 0, time.UTC)) {
		t.Fatalf("got %+v", rec.calls)
	}
}

func TestNext(t *testing.T) {
	s := New(rules, nil, Config{Location: time.UTC}, nil, nil)

	next, err := s.Next(context.Background(), at(9, 0))
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.RuleID != 2 || !next.DueAt.Equal(at(12, 0)) {
		t.Fatalf("got %+v", next)
	}

	next, _ = s.Next(context.Background(), at(20, 0))
	if next == nil || next.RuleID != 1 || !next.DueAt.Equal(at(8, 0).AddDate(0, 0, 1)) {
		t.Fatalf("want tomorrow 08:00 rule 1, got %+v", next)
	}

	empty := New(staticRules{}, nil, Config{}, nil, nil)
	if next, _ := empty.Next(context.Background(), at(9, 0)); next != nil {
		t.Fatalf("want nil, got %+v", next)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "08:00", h: 8},
		{in: "7:30", h: 7, m: 30},
		{in: "23:59", h: 23, m: 59},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "12:5", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if !errors.Is(err, models.ErrInvalidRule) {
				t.Errorf("%q: want ErrInvalidRule, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || h != tt.h || m != tt.m {
			t.Errorf("%q: got %d:%d %v", tt.in, h, m, err)
		}
	}
}

func TestValidateRule(t *testing.T) {
	if err := ValidateRule(models.FeedingRule{TimeOfDay: "08:00", PortionMass: 50}, 200); err != nil {
		t.Fatal(err)
	}
	if err := ValidateRule(models.FeedingRule{TimeOfDay: "08:00", PortionMass: 250}, 200); !errors.Is(err, models.ErrInvalidRule) {
		t.Fatalf("want ErrInvalidRule, got %v", err)
	}
}
