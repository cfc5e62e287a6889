package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/clock"
	"cat_feeder/internal/estop"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/policy"
	"cat_feeder/internal/repository"
	"cat_feeder/internal/workqueue"

	"github.com/google/uuid"
)

// Dispenser runs one gate cycle.
type Dispenser interface {
	Dispense(ctx context.Context, target float64, interrupt <-chan struct{}) (actuator.Result, error)
}

const (
	feedingWriteTimeout = 3 * time.Second
	maxPendingFeedings  = 256
)

// FeedingService is the feeding pipeline: policy check, dispense, safety
// bookkeeping and the feeding event write, run one at a time on the queue.
type FeedingService struct {
	queue    *workqueue.Queue
	policy   *policy.Policy
	tracker  *policy.Tracker
	gate     Dispenser
	estop    *estop.Latch
	feedings repository.FeedingRepo
	events   *Recorder
	clock    clock.Clock
	log      *logger.Logger

	mu      sync.Mutex
	pending []models.FeedingEvent // written to the log but not yet stored
	onStop  []func(context.Context)
}

func NewFeedingService(q *workqueue.Queue, p *policy.Policy, t *policy.Tracker, gate Dispenser, latch *estop.Latch,
	feedings repository.FeedingRepo, events *Recorder, clk clock.Clock, log *logger.Logger) *FeedingService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &FeedingService{
		queue:    q,
		policy:   p,
		tracker:  t,
		gate:     gate,
		estop:    latch,
		feedings: feedings,
		events:   events,
		clock:    clk,
		log:      logger.OrNop(log),
	}
}

// Rebuild restores the safety totals from today's stored events and the
// last successful feeding, which may be from an earlier day.
func (s *FeedingService) Rebuild(ctx context.Context) error {
	now := s.clock.Now()
	today, err := s.feedings.ListFeedings(ctx, repository.FeedingFilter{From: s.tracker.StartOfDay(now)})
	if err != nil {
		return fmt.Errorf("load today's feedings: %w", err)
	}
	last, err := s.feedings.LastFeeding(ctx)
	if err != nil {
		return fmt.Errorf("load last feeding: %w", err)
	}
	events := today
	if last != nil && !containsEvent(today, last.ID) {
		events = append(events, *last)
	}
	s.tracker.Rebuild(events, now)
	st := s.tracker.Snapshot(now)
	s.log.Infow("safety_state_rebuilt",
		"day", st.Day,
		"daily_dispensed_g", st.DailyDispensedTotal,
		"daily_feedings", st.DailyFeedings,
		"last_feeding_at", st.LastFeedingAt,
	)
	return nil
}

func containsEvent(events []models.FeedingEvent, id string) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (s *FeedingService) ManualFeed(ctx context.Context, grams float64) (models.FeedingEvent, error) {
	return s.Feed(ctx, FeedRequest{Mass: grams, Source: models.TriggerManual})
}

// TestFeed is a manual dispense tagged as a test; the same safety limits apply.
func (s *FeedingService) TestFeed(ctx context.Context, grams float64) (models.FeedingEvent, error) {
	return s.Feed(ctx, FeedRequest{Mass: grams, Source: models.TriggerTest})
}

// Feed queues one feeding and waits for it. The returned event is what was
// (or will be, after a storage failure) written to the feeding log; it is
// zero when no attempt was made, e.g. for ErrResourceBusy.
func (s *FeedingService) Feed(ctx context.Context, req FeedRequest) (models.FeedingEvent, error) {
	return onQueue(ctx, s.queue, "feed:"+string(req.Source), func(ctx context.Context) (models.FeedingEvent, error) {
		return s.feed(ctx, req)
	})
}

// onQueue runs fn on q and waits for it. When ctx ends first the job keeps
// running and the zero value is returned with the context error.
func onQueue[T any](ctx context.Context, q *workqueue.Queue, name string, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	err := q.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		out <- result{v: v, err: err}
		return err
	})
	select {
	case r := <-out:
		return r.v, r.err
	default:
		var zero T
		return zero, err
	}
}

func (s *FeedingService) feed(ctx context.Context, req FeedRequest) (models.FeedingEvent, error) {
	s.FlushPending(ctx)

	now := s.clock.Now().UTC()
	ev := models.FeedingEvent{
		ID:            uuid.NewString(),
		Timestamp:     now,
		RequestedMass: req.Mass,
		TriggerSource: req.Source,
		RuleID:        req.RuleID,
	}

	state := s.tracker.Snapshot(now)
	if err := s.policy.Check(state, req.Mass, now); err != nil {
		reason, _ := models.ReasonOf(err)
		ev.Outcome = models.OutcomeAborted
		ev.Reason = string(reason)
		s.store(ctx, ev)
		s.events.Emit(ctx, models.EventPolicyViolation, err.Error(), map[string]any{
			"reason":      string(reason),
			"requested_g": req.Mass,
			"source":      string(req.Source),
			"rule_id":     req.RuleID,
		})
		return ev, err
	}

	res, err := s.gate.Dispense(ctx, req.Mass, s.estop.Done())
	if errors.Is(err, models.ErrResourceBusy) {
		s.log.Infow("feeding_refused_busy", "source", req.Source, "rule_id", req.RuleID, "err", err)
		return models.FeedingEvent{}, err
	}

	ev.DispensedEstimate = res.Estimate
	ev.Measured = res.Measured
	ev.DwellMillis = res.Dwell.Milliseconds()
	switch {
	case err == nil:
		ev.Outcome = models.OutcomeSuccess
	case errors.Is(err, models.ErrEmergencyStopActive):
		ev.Outcome = models.OutcomeAborted
		ev.Reason = string(models.ReasonEmergencyStop)
	case errors.Is(err, models.ErrInvalidPortion):
		ev.Outcome = models.OutcomeAborted
		ev.Reason = string(models.ReasonOutOfRange)
	default:
		ev.Outcome = models.OutcomeError
		ev.Reason = err.Error()
		s.events.Emit(ctx, models.EventActuatorFault, err.Error(), map[string]any{
			"requested_g": req.Mass,
			"estimate_g":  res.Estimate,
			"source":      string(req.Source),
		})
	}

	if ev.DispensedEstimate > 0 {
		s.tracker.Record(ev.DispensedEstimate, now)
	}
	s.store(ctx, ev)

	if ev.Outcome != models.OutcomeError {
		s.events.Emit(ctx, models.EventDispense, fmt.Sprintf("%s feeding %s", req.Source, ev.Outcome), map[string]any{
			"feeding_id":  ev.ID,
			"requested_g": ev.RequestedMass,
			"estimate_g":  ev.DispensedEstimate,
			"measured":    ev.Measured,
			"outcome":     string(ev.Outcome),
			"reason":      ev.Reason,
		})
	}
	return ev, err
}

// RecordExpired stores an aborted event for a scheduled feeding that was
// refused as busy until the scheduler gave up on it.
func (s *FeedingService) RecordExpired(ctx context.Context, rule models.FeedingRule, due time.Time, attempts int) models.FeedingEvent {
	ev := models.FeedingEvent{
		ID:            uuid.NewString(),
		Timestamp:     s.clock.Now().UTC(),
		RequestedMass: rule.PortionMass,
		TriggerSource: models.TriggerScheduled,
		Outcome:       models.OutcomeAborted,
		Reason:        models.ReasonDeferralExpired,
		RuleID:        rule.ID,
	}
	s.store(ctx, ev)
	s.events.Emit(ctx, models.EventDispense, "scheduled feeding aborted", map[string]any{
		"feeding_id":  ev.ID,
		"rule_id":     rule.ID,
		"due_at":      due.UTC(),
		"attempts":    attempts,
		"requested_g": rule.PortionMass,
		"outcome":     string(ev.Outcome),
		"reason":      ev.Reason,
	})
	return ev
}

// store writes ev; on failure ev is kept for FlushPending and a
// STORAGE_FAILURE event is emitted. The caller's result is unaffected.
func (s *FeedingService) store(ctx context.Context, ev models.FeedingEvent) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), feedingWriteTimeout)
	defer cancel()
	err := s.feedings.AppendFeeding(wctx, ev)
	if err == nil {
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, ev)
	if over := len(s.pending) - maxPendingFeedings; over > 0 {
		s.log.Errorw("pending_feedings_dropped", "count", over)
		s.pending = append([]models.FeedingEvent(nil), s.pending[over:]...)
	}
	n := len(s.pending)
	s.mu.Unlock()

	s.events.Emit(ctx, models.EventStorageFailure, "feeding event write failed", map[string]any{
		"feeding_id": ev.ID,
		"pending":    n,
		"err":        err.Error(),
	})
}

// FlushPending retries queued event writes in order and returns how many
// are still waiting. Retries use ImportFeeding so a write that landed
// despite an error is not duplicated.
func (s *FeedingService) FlushPending(ctx context.Context) int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return 0
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), feedingWriteTimeout)
	defer cancel()
	var left []models.FeedingEvent
	for i, ev := range batch {
		if _, err := s.feedings.ImportFeeding(wctx, ev); err != nil {
			left = append(left, batch[i:]...)
			s.log.Warnw("pending_feedings_retry_failed", "remaining", len(left), "err", err)
			break
		}
	}

	s.mu.Lock()
	s.pending = append(left, s.pending...)
	n := len(s.pending)
	s.mu.Unlock()
	if n == 0 {
		s.log.Infow("pending_feedings_flushed", "count", len(batch))
	}
	return n
}

// PendingWrites is the number of feeding events waiting to be stored.
func (s *FeedingService) PendingWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *FeedingService) SafetyState() models.SafetyState {
	return s.tracker.Snapshot(s.clock.Now())
}

// OnEmergencyStop registers fn to run on every engage request, after the
// latch is set.
func (s *FeedingService) OnEmergencyStop(fn func(context.Context)) {
	s.mu.Lock()
	s.onStop = append(s.onStop, fn)
	s.mu.Unlock()
}

// SetEmergencyStop engages or clears the latch. An engage reaches a
// dispense in progress at its next checkpoint and runs the registered stop
// hooks.
func (s *FeedingService) SetEmergencyStop(ctx context.Context, engaged bool, source string) models.SafetyState {
	changed := s.estop.Set(engaged)
	if engaged {
		s.mu.Lock()
		hooks := slices.Clone(s.onStop)
		s.mu.Unlock()
		for _, fn := range hooks {
			fn(ctx)
		}
	}
	if changed {
		desc := "emergency stop cleared"
		if engaged {
			desc = "emergency stop engaged"
		}
		s.events.Emit(ctx, models.EventEmergencyStop, desc, map[string]any{
			"engaged": engaged,
			"source":  source,
		})
	}
	return s.SafetyState()
}
