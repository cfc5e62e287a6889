package service

import (
	"context"
	"strings"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"
	"cat_feeder/internal/scheduler"
)

// ScheduleService manages feeding rules and answers "what's next".
type ScheduleService struct {
	rules      repository.RuleRepo
	sched      *scheduler.Scheduler
	maxPortion float64
	clock      clock.Clock
	log        *logger.Logger
}

func NewScheduleService(rules repository.RuleRepo, sched *scheduler.Scheduler, maxPortion float64, clk clock.Clock, log *logger.Logger) *ScheduleService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ScheduleService{rules: rules, sched: sched, maxPortion: maxPortion, clock: clk, log: logger.OrNop(log)}
}

func (s *ScheduleService) ListRules(ctx context.Context) ([]models.FeedingRule, error) {
	return s.rules.ListRules(ctx)
}

func (s *ScheduleService) CreateRule(ctx context.Context, r models.FeedingRule) (models.FeedingRule, error) {
	r = normalizeRule(r)
	if err := scheduler.ValidateRule(r, s.maxPortion); err != nil {
		return models.FeedingRule{}, err
	}
	r.CreatedAt = s.clock.Now().UTC()
	created, err := s.rules.CreateRule(ctx, r)
	if err != nil {
		return models.FeedingRule{}, err
	}
	s.log.Infow("feeding_rule_created", "rule_id", created.ID, "time", created.TimeOfDay, "portion_g", created.PortionMass)
	return created, nil
}

func (s *ScheduleService) UpdateRule(ctx context.Context, r models.FeedingRule) (models.FeedingRule, error) {
	r = normalizeRule(r)
	if err := scheduler.ValidateRule(r, s.maxPortion); err != nil {
		return models.FeedingRule{}, err
	}
	if err := s.rules.UpdateRule(ctx, r); err != nil {
		return models.FeedingRule{}, err
	}
	s.log.Infow("feeding_rule_updated", "rule_id", r.ID, "time", r.TimeOfDay, "enabled", r.Enabled)
	return s.rules.GetRule(ctx, r.ID)
}

func (s *ScheduleService) DeleteRule(ctx context.Context, id int64) error {
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.log.Infow("feeding_rule_deleted", "rule_id", id)
	return nil
}

// NextFeeding is the next enabled rule occurrence, nil when none is enabled.
func (s *ScheduleService) NextFeeding(ctx context.Context) (*models.ScheduledFeeding, error) {
	return s.sched.Next(ctx, s.clock.Now())
}

// SeedRules stores the configured rules when the table is empty. It
// returns how many were stored.
func (s *ScheduleService) SeedRules(ctx context.Context, seed []models.FeedingRule) (int, error) {
	existing, err := s.rules.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 || len(seed) == 0 {
		return 0, nil
	}
	now := s.clock.Now().UTC()
	rules := make([]models.FeedingRule, 0, len(seed))
	for _, r := range seed {
		r = normalizeRule(r)
		if err := scheduler.ValidateRule(r, s.maxPortion); err != nil {
			return 0, err
		}
		r.CreatedAt = now
		rules = append(rules, r)
	}
	if err := s.rules.ReplaceRules(ctx, rules); err != nil {
		return 0, err
	}
	s.log.Infow("feeding_rules_seeded", "count", len(rules))
	return len(rules), nil
}

func normalizeRule(r models.FeedingRule) models.FeedingRule {
	r.TimeOfDay = strings.TrimSpace(r.TimeOfDay)
	r.Label = strings.TrimSpace(r.Label)
	return r
}

