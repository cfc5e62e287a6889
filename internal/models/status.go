package models

import "time"

// ScheduledFeeding is the next rule due to fire.
type ScheduledFeeding struct {
	RuleID      int64     `json:"rule_id"`
	Label       string    `json:"label,omitempty"`
	DueAt       time.Time `json:"due_at"`
	PortionMass float64   `json:"portion_g"`
}

// Status answers get_status for external layers.
type Status struct {
	Weight        *WeightReading    `json:"weight,omitempty"`
	Gate          GateState         `json:"gate"`
	Safety        SafetyState       `json:"safety"`
	LastFeeding   *FeedingEvent     `json:"last_feeding,omitempty"`
	NextScheduled *ScheduledFeeding `json:"next_scheduled,omitempty"`
	Health        HealthStatus      `json:"health"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
