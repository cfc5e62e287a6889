package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/models"
	"cat_feeder/internal/scheduler"
)

// fakeRuleRepo is an in-memory repository.RuleRepo.
type fakeRuleRepo struct {
	rules  []models.FeedingRule
	nextID int64
	err    error
}

func (r *fakeRuleRepo) ListRules(ctx context.Context) ([]models.FeedingRule, error) {
	return append([]models.FeedingRule(nil), r.rules...), r.err
}

func (r *fakeRuleRepo) GetRule(ctx context.Context, id int64) (models.FeedingRule, error) {
	for _, x := range r.rules {
		if x.ID == id {
			return x, nil
		}
	}
	return models.FeedingRule{}, models.ErrNotFound
}

func (r *fakeRuleRepo) CreateRule(ctx context.Context, x models.FeedingRule) (models.FeedingRule, error) {
	r.nextID++
	x.ID = r.nextID
	r.rules = append(r.rules, x)
	return x, nil
}

func (r *fakeRuleRepo) UpdateRule(ctx context.Context, x models.FeedingRule) error {
	for i := range r.rules {
		if r.rules[i].ID == x.ID {
			x.CreatedAt = r.rules[i].CreatedAt
			r.rules[i] = x
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *fakeRuleRepo) DeleteRule(ctx context.Context, id int64) error {
	for i := range r.rules {
		if r.rules[i].ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *fakeRuleRepo) ReplaceRules(ctx context.Context, rules []models.FeedingRule) error {
	r.rules = nil
	for i, x := range rules {
		if x.ID == 0 {
			x.ID = int64(i + 1)
		}
		r.rules = append(r.rules, x)
	}
	return nil
}

func newScheduleFixture(now time.Time) (*ScheduleService, *fakeRuleRepo) {
	repo := &fakeRuleRepo{}
	clk := clock.NewFake(now)
	sched := scheduler.New(repo, func(context.Context, models.FeedingRule, time.Time) error { return nil },
		scheduler.Config{Location: time.UTC, MaxDeferral: time.Hour}, clk, nil)
	return NewScheduleService(repo, sched, 100, clk, nil), repo
}

func TestScheduleService_CreateValidatesAndStores(t *testing.T) {
	svc, repo := newScheduleFixture(testStart)
	ctx := context.Background()

	r, err := svc.CreateRule(ctx, models.FeedingRule{TimeOfDay: " 07:30 ", PortionMass: 40, Enabled: true, Label: " breakfast "})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r.ID != 1 || r.TimeOfDay != "07:30" || r.Label != "breakfast" || !r.CreatedAt.Equal(testStart) {
		t.Fatalf("unexpected rule: %+v", r)
	}

	for _, bad := range []models.FeedingRule{
		{TimeOfDay: "25:00", PortionMass: 40},
		{TimeOfDay: "07:30", PortionMass: 0},
		{TimeOfDay: "07:30", PortionMass: 150},
	} {
		if _, err := svc.CreateRule(ctx, bad); !errors.Is(err, models.ErrInvalidRule) {
			t.Fatalf("rule %+v: expected ErrInvalidRule, got %v", bad, err)
		}
	}
	if len(repo.rules) != 1 {
		t.Fatalf("invalid rules must not be stored, got %d", len(repo.rules))
	}
}

func TestScheduleService_UpdateAndDelete(t *testing.T) {
	svc, _ := newScheduleFixture(testStart)
	ctx := context.Background()

	r, err := svc.CreateRule(ctx, models.FeedingRule{TimeOfDay: "07:30", PortionMass: 40, Enabled: true})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	r.Enabled = false
	got, err := svc.UpdateRule(ctx, r)
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if got.Enabled {
		t.Fatalf("expected disabled rule, got %+v", got)
	}

	if _, err := svc.UpdateRule(ctx, models.FeedingRule{ID: 42, TimeOfDay: "08:00", PortionMass: 10}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteRule(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if err := svc.DeleteRule(ctx, r.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestScheduleService_NextFeeding(t *testing.T) {
	svc, _ := newScheduleFixture(testStart) // 09:00 UTC
	ctx := context.Background()

	next, err := svc.NextFeeding(ctx)
	if err != nil || next != nil {
		t.Fatalf("expected no next feeding, got %+v, %v", next, err)
	}

	for _, tod := range []string{"08:00", "18:00", "12:00"} {
		if _, err := svc.CreateRule(ctx, models.FeedingRule{TimeOfDay: tod, PortionMass: 50, Enabled: true}); err != nil {
			t.Fatalf("CreateRule %s: %v", tod, err)
		}
	}
	next, err = svc.NextFeeding(ctx)
	if err != nil {
		t.Fatalf("NextFeeding: %v", err)
	}
	want := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	if next == nil || !next.DueAt.Equal(want) || next.PortionMass != 50 {
		t.Fatalf("next = %+v; want due %v", next, want)
	}
}

func TestScheduleService_SeedRulesOnlyWhenEmpty(t *testing.T) {
	svc, repo := newScheduleFixture(testStart)
	ctx := context.Background()
	seed := []models.FeedingRule{
		{TimeOfDay: "08:00", PortionMass: 50, Enabled: true},
		{TimeOfDay: "18:00", PortionMass: 50, Enabled: true},
	}

	n, err := svc.SeedRules(ctx, seed)
	if err != nil || n != 2 {
		t.Fatalf("SeedRules = %d, %v; want 2", n, err)
	}
	n, err = svc.SeedRules(ctx, seed)
	if err != nil || n != 0 {
		t.Fatalf("second SeedRules = %d, %v; want 0", n, err)
	}
	if len(repo.rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(repo.rules))
	}
}
