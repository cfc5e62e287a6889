package policy

import (
	"sort"
	"sync"
	"time"

	"cat_feeder/internal/models"
)

// EmergencyStop reports the latch state.
type EmergencyStop interface {
	Engaged() bool
}

// Tracker owns the SafetyState. Totals reset at local midnight; the last
// feeding time carries over so the interval check spans midnight.
type Tracker struct {
	loc   *time.Location
	estop EmergencyStop

	mu    sync.Mutex
	state models.SafetyState
}

func NewTracker(loc *time.Location, estop EmergencyStop) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{loc: loc, estop: estop}
}

// Day is the local calendar day of t as YYYY-MM-DD.
func (t *Tracker) Day(at time.Time) string {
	return at.In(t.loc).Format(time.DateOnly)
}

// StartOfDay is local midnight of the day containing at.
func (t *Tracker) StartOfDay(at time.Time) time.Time {
	l := at.In(t.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, t.loc)
}

// Rollover resets the daily totals when now is on a later day. It reports
// whether a reset happened.
func (t *Tracker) Rollover(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollover(now)
}

func (t *Tracker) rollover(now time.Time) bool {
	day := t.Day(now)
	if t.state.Day == day {
		return false
	}
	t.state.Day = day
	t.state.DailyDispensedTotal = 0
	t.state.DailyFeedings = 0
	return true
}

// Record adds a completed dispense.
func (t *Tracker) Record(mass float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover(at)
	t.state.DailyDispensedTotal += mass
	t.state.DailyFeedings++
	if at.After(t.state.LastFeedingAt) {
		t.state.LastFeedingAt = at
	}
}

// Rebuild replays persisted events: those on the day of now with a positive
// estimate count toward the totals, the latest such event of any day sets
// the last feeding time.
func (t *Tracker) Rebuild(events []models.FeedingEvent, now time.Time) {
	sorted := append([]models.FeedingEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = models.SafetyState{Day: t.Day(now)}
	for _, e := range sorted {
		if e.DispensedEstimate <= 0 || e.Timestamp.After(now) {
			continue
		}
		if t.Day(e.Timestamp) == t.state.Day {
			t.state.DailyDispensedTotal += e.DispensedEstimate
			t.state.DailyFeedings++
		}
		t.state.LastFeedingAt = e.Timestamp
	}
}

// Snapshot returns the state as of now, rolling over first.
func (t *Tracker) Snapshot(now time.Time) models.SafetyState {
	t.mu.Lock()
	t.rollover(now)
	s := t.state
	t.mu.Unlock()
	if t.estop != nil {
		s.EmergencyStopEngaged = t.estop.Engaged()
	}
	return s
}
