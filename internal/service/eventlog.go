package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"
)

const (
	defaultFeedingLimit = 500
	defaultWeightLimit  = 1000
)

// EventLogService reads the append-only logs: system events, feeding events
// and weight samples.
type EventLogService struct {
	eventRepo   repository.EventRepo
	feedingRepo repository.FeedingRepo
	weightRepo  repository.WeightRepo
}

func NewEventLogService(eventRepo repository.EventRepo, feedingRepo repository.FeedingRepo, weightRepo repository.WeightRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo, feedingRepo: feedingRepo, weightRepo: weightRepo}
}

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	errInvalidSource    = errors.New("invalid trigger source")
	errInvalidOutcome   = errors.New("invalid outcome")
)

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeRange converts both bounds to UTC and checks their order.
func normalizeRange(from, to time.Time) (time.Time, time.Time, error) {
	from = normalizeToUTC(from)
	to = normalizeToUTC(to)
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, errInvalidTimeRange
	}
	return from, to, nil
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from, to, err := normalizeRange(f.From, f.To)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	return from, to, normalizeEventType(f.Type), nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.SystemEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, from, to, typ)
}

func feedingFilter(q FeedingQuery) (repository.FeedingFilter, error) {
	from, to, err := normalizeRange(q.From, q.To)
	if err != nil {
		return repository.FeedingFilter{}, err
	}
	f := repository.FeedingFilter{From: from, To: to, Limit: q.Limit}
	if f.Limit <= 0 {
		f.Limit = defaultFeedingLimit
	}

	switch src := models.TriggerSource(strings.ToLower(strings.TrimSpace(q.Source))); src {
	case "", models.TriggerScheduled, models.TriggerManual, models.TriggerTest:
		f.Source = src
	default:
		return repository.FeedingFilter{}, fmt.Errorf("%w: %q", errInvalidSource, q.Source)
	}
	switch out := models.Outcome(strings.ToLower(strings.TrimSpace(q.Outcome))); out {
	case "", models.OutcomeSuccess, models.OutcomeAborted, models.OutcomeError:
		f.Outcome = out
	default:
		return repository.FeedingFilter{}, fmt.Errorf("%w: %q", errInvalidOutcome, q.Outcome)
	}
	return f, nil
}

func (s *EventLogService) ListFeedings(ctx context.Context, q FeedingQuery) ([]models.FeedingEvent, error) {
	f, err := feedingFilter(q)
	if err != nil {
		return nil, err
	}
	return s.feedingRepo.ListFeedings(ctx, f)
}

func (s *EventLogService) FeedingStats(ctx context.Context, from, to time.Time) (models.FeedingStats, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return models.FeedingStats{}, err
	}
	return s.feedingRepo.FeedingStats(ctx, from, to)
}

func (s *EventLogService) ListWeights(ctx context.Context, from, to time.Time, limit int) ([]models.WeightSample, error) {
	from, to, err := normalizeRange(from, to)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultWeightLimit
	}
	return s.weightRepo.ListSamples(ctx, from, to, limit)
}

// IsInvalidQuery reports whether err came from query validation.
func IsInvalidQuery(err error) bool {
	return errors.Is(err, errInvalidTimeRange) || errors.Is(err, errInvalidSource) || errors.Is(err, errInvalidOutcome)
}
