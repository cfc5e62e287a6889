package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/clock"
	"cat_feeder/internal/estop"
	"cat_feeder/internal/models"
	"cat_feeder/internal/notify"
	"cat_feeder/internal/policy"
	"cat_feeder/internal/repository"
	"cat_feeder/internal/workqueue"
)

// fakeFeedingRepo is an in-memory repository.FeedingRepo.
type fakeFeedingRepo struct {
	mu        sync.Mutex
	events    []models.FeedingEvent
	appendErr error
	gotFilter repository.FeedingFilter
	imported  []string
}

func newFakeFeedingRepo() *fakeFeedingRepo { return &fakeFeedingRepo{} }

func (f *fakeFeedingRepo) AppendFeeding(ctx context.Context, e models.FeedingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeFeedingRepo) ImportFeeding(ctx context.Context, e models.FeedingEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return false, f.appendErr
	}
	for _, x := range f.events {
		if x.ID == e.ID {
			return false, nil
		}
	}
	f.events = append(f.events, e)
	f.imported = append(f.imported, e.ID)
	return true, nil
}

func (f *fakeFeedingRepo) ListFeedings(ctx context.Context, flt repository.FeedingFilter) ([]models.FeedingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotFilter = flt
	var out []models.FeedingEvent
	for _, e := range f.events {
		if !flt.From.IsZero() && e.Timestamp.Before(flt.From) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeFeedingRepo) LastFeeding(ctx context.Context) (*models.FeedingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *models.FeedingEvent
	for i := range f.events {
		e := f.events[i]
		if e.DispensedEstimate > 0 && (last == nil || e.Timestamp.After(last.Timestamp)) {
			last = &e
		}
	}
	return last, nil
}

func (f *fakeFeedingRepo) FeedingStats(ctx context.Context, from, to time.Time) (models.FeedingStats, error) {
	return models.FeedingStats{}, nil
}

func (f *fakeFeedingRepo) stored() []models.FeedingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FeedingEvent(nil), f.events...)
}

// fakeDispenser returns a canned result and counts calls.
type fakeDispenser struct {
	mu    sync.Mutex
	res   actuator.Result
	err   error
	calls int
}

func (d *fakeDispenser) Dispense(ctx context.Context, target float64, interrupt <-chan struct{}) (actuator.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	r := d.res
	r.Requested = target
	return r, d.err
}

var errDBDown = errors.New("db down")

var testStart = time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

type feederFixture struct {
	svc      *FeedingService
	feedings *fakeFeedingRepo
	events   *fakeEventRepo
	gate     *fakeDispenser
	latch    *estop.Latch
	tracker  *policy.Tracker
	clock    *clock.Fake
}

func newFeederFixture(t *testing.T) *feederFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	q := workqueue.New(4, nil)
	go q.Run(ctx)
	t.Cleanup(cancel)

	clk := clock.NewFake(testStart)
	latch := estop.New(clk)
	f := &feederFixture{
		feedings: newFakeFeedingRepo(),
		events:   &fakeEventRepo{},
		gate:     &fakeDispenser{res: actuator.Result{Estimate: 50, Measured: true, Dwell: 5 * time.Second}},
		latch:    latch,
		tracker:  policy.NewTracker(time.UTC, latch),
		clock:    clk,
	}
	p := policy.New(policy.Limits{MaxDailyGrams: 200, MaxDailyFeedings: 6, MinInterval: time.Hour, MaxPortion: 100})
	rec := NewRecorder(f.events, notify.Nop{}, f.clock, nil)
	f.svc = NewFeedingService(q, p, f.tracker, f.gate, latch, f.feedings, rec, f.clock, nil)
	return f
}

func (f *feederFixture) eventTypes() []string {
	var out []string
	for _, e := range f.events.appended {
		out = append(out, e.Type)
	}
	return out
}

func containsType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
