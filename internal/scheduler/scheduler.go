// Package scheduler fires feeding rules at their time of day on an explicit
// tick, so it can be driven by a ticker in production and by hand in tests.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
)

// RuleSource lists the current feeding rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]models.FeedingRule, error)
}

// FeedFunc runs one scheduled feeding through the feeding pipeline.
type FeedFunc func(ctx context.Context, rule models.FeedingRule, due time.Time) error

// DropFunc records an occurrence that was deferred past MaxDeferral.
type DropFunc func(ctx context.Context, rule models.FeedingRule, due time.Time, attempts int)

type Config struct {
	Location    *time.Location
	MaxDeferral time.Duration // busy occurrences older than this are given up
}

type occurrence struct {
	rule     models.FeedingRule
	due      time.Time
	attempts int
}

// TickReport summarizes one tick.
type TickReport struct {
	Fired    []FiredRule
	Dropped  []FiredRule
	Deferred int
}

type FiredRule struct {
	RuleID int64     `json:"rule_id"`
	DueAt  time.Time `json:"due_at"`
	Err    error     `json:"-"`
}

type Scheduler struct {
	rules RuleSource
	feed  FeedFunc
	cfg   Config
	clock clock.Clock
	log   *logger.Logger

	mu       sync.Mutex
	lastTick time.Time
	deferred []occurrence
	onTick   func(time.Time)
	onDrop   DropFunc
}

func New(rules RuleSource, feed FeedFunc, cfg Config, clk clock.Clock, log *logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxDeferral <= 0 {
		cfg.MaxDeferral = 6 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{rules: rules, feed: feed, cfg: cfg, clock: clk, log: logger.OrNop(log)}
}

// OnTick registers a heartbeat called after every tick.
func (s *Scheduler) OnTick(fn func(time.Time)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// OnDrop registers fn to record occurrences given up after MaxDeferral.
func (s *Scheduler) OnDrop(fn DropFunc) {
	s.mu.Lock()
	s.onDrop = fn
	s.mu.Unlock()
}

// Start sets the tick origin; occurrences at or before it never fire.
func (s *Scheduler) Start(now time.Time) {
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()
}

// Tick fires every enabled rule due in (lastTick, now] plus deferred ones,
// in due-time order then rule ID. A feeding refused with ErrResourceBusy is
// kept and retried on later ticks until MaxDeferral has passed, when it is
// handed to the OnDrop hook; any other outcome is final.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastTick.IsZero() {
		s.lastTick = now
	}
	from := s.lastTick
	var report TickReport

	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		s.log.Errorw("scheduler_rules_failed", "err", err)
		return report, err
	}

	queue := append([]occurrence(nil), s.deferred...)
	queue = append(queue, s.dueBetween(rules, from, now)...)
	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].due.Equal(queue[j].due) {
			return queue[i].due.Before(queue[j].due)
		}
		return queue[i].rule.ID < queue[j].rule.ID
	})

	s.deferred = s.deferred[:0]
	for _, occ := range queue {
		if ctx.Err() != nil {
			s.deferred = append(s.deferred, occ)
			continue
		}
		if now.Sub(occ.due) > s.cfg.MaxDeferral {
			s.log.Warnw("scheduled_feeding_dropped", "rule_id", occ.rule.ID, "due_at", occ.due, "attempts", occ.attempts)
			report.Dropped = append(report.Dropped, FiredRule{RuleID: occ.rule.ID, DueAt: occ.due, Err: models.ErrResourceBusy})
			if s.onDrop != nil {
				s.onDrop(ctx, occ.rule, occ.due, occ.attempts)
			}
			continue
		}
		occ.attempts++
		err := s.feed(ctx, occ.rule, occ.due)
		if errors.Is(err, models.ErrResourceBusy) {
			s.log.Infow("scheduled_feeding_deferred", "rule_id", occ.rule.ID, "due_at", occ.due, "err", err)
			s.deferred = append(s.deferred, occ)
			continue
		}
		report.Fired = append(report.Fired, FiredRule{RuleID: occ.rule.ID, DueAt: occ.due, Err: err})
	}
	report.Deferred = len(s.deferred)
	s.lastTick = now
	if s.onTick != nil {
		s.onTick(now)
	}
	return report, nil
}

// dueBetween lists enabled rule occurrences in (from, to].
func (s *Scheduler) dueBetween(rules []models.FeedingRule, from, to time.Time) []occurrence {
	if !to.After(from) {
		return nil
	}
	var out []occurrence
	start := from.In(s.cfg.Location)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.cfg.Location)
	for ; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, r := range rules {
			if !r.Enabled {
				continue
			}
			due, ok := dueOn(r, day, s.cfg.Location)
			if ok && due.After(from) && !due.After(to) {
				out = append(out, occurrence{rule: r, due: due})
			}
		}
	}
	return out
}

// Next returns the earliest enabled rule occurrence after now, or nil.
func (s *Scheduler) Next(ctx context.Context, now time.Time) (*models.ScheduledFeeding, error) {
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	occ := s.dueBetween(rules, now, now.AddDate(0, 0, 1))
	if len(occ) == 0 {
		return nil, nil
	}
	sort.SliceStable(occ, func(i, j int) bool {
		if !occ[i].due.Equal(occ[j].due) {
			return occ[i].due.Before(occ[j].due)
		}
		return occ[i].rule.ID < occ[j].rule.ID
	})
	first := occ[0]
	return &models.ScheduledFeeding{
		RuleID:      first.rule.ID,
		Label:       first.rule.Label,
		DueAt:       first.due,
		PortionMass: first.rule.PortionMass,
	}, nil
}

// Deferred is the number of occurrences waiting for a busy resource.
func (s *Scheduler) Deferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// Run ticks every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.lastTick.IsZero() {
		s.lastTick = s.clock.Now()
	}
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.log.Infow("scheduler_started", "interval", interval, "location", s.cfg.Location.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler_stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, s.clock.Now()); err != nil {
				s.log.Warnw("scheduler_tick_failed", "err", err)
			}
		}
	}
}
