package models

import "time"

// SafetyState is rebuilt at startup from today's feeding events.
type SafetyState struct {
	Day                  string    `json:"day"` // YYYY-MM-DD in the schedule time zone
	DailyDispensedTotal  float64   `json:"daily_dispensed_g"`
	DailyFeedings        int       `json:"daily_feedings"`
	LastFeedingAt        time.Time `json:"last_feeding_at,omitempty"`
	EmergencyStopEngaged bool      `json:"emergency_stop_engaged"`
}
