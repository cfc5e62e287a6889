package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cat_feeder/internal/models"
)

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", models.ErrInvalidRule, s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", models.ErrInvalidRule, s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", models.ErrInvalidRule, s)
	}
	return hour, minute, nil
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r models.FeedingRule, maxPortion float64) error {
	if _, _, err := ParseTimeOfDay(r.TimeOfDay); err != nil {
		return err
	}
	if r.PortionMass <= 0 || (maxPortion > 0 && r.PortionMass > maxPortion) {
		return fmt.Errorf("%w: portion %.1f g outside (0, %.1f]", models.ErrInvalidRule, r.PortionMass, maxPortion)
	}
	return nil
}

// dueOn returns when rule fires on the local day containing day.
func dueOn(r models.FeedingRule, day time.Time, loc *time.Location) (time.Time, bool) {
	h, m, err := ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), true
}
