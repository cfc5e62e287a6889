package models

import "time"

// TriggerSource says who asked for a feeding.
type TriggerSource string

const (
	TriggerScheduled TriggerSource = "scheduled"
	TriggerManual    TriggerSource = "manual"
	TriggerTest      TriggerSource = "test"
)

// Outcome of a dispense attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeAborted Outcome = "aborted"
	OutcomeError   Outcome = "error"
)

// ReasonDeferralExpired marks a scheduled feeding that stayed blocked by a
// busy scale or gate past the scheduler's deferral window.
const ReasonDeferralExpired = "deferral_expired"

// FeedingRule fires once per day at TimeOfDay ("HH:MM", local time).
// Several rules may share a time; ID order is insertion order.
type FeedingRule struct {
	ID          int64     `json:"id" yaml:"id"`
	TimeOfDay   string    `json:"time_of_day" yaml:"time_of_day"`
	PortionMass float64   `json:"portion_g" yaml:"portion_g"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	Label       string    `json:"label,omitempty" yaml:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// FeedingEvent is an immutable record of one dispense attempt.
type FeedingEvent struct {
	ID                string        `json:"id" yaml:"id"`
	Timestamp         time.Time     `json:"timestamp" yaml:"timestamp"`
	RequestedMass     float64       `json:"requested_g" yaml:"requested_g"`
	DispensedEstimate float64       `json:"dispensed_g" yaml:"dispensed_g"`
	Measured          bool          `json:"measured" yaml:"measured"`
	TriggerSource     TriggerSource `json:"trigger_source" yaml:"trigger_source"`
	Outcome           Outcome       `json:"outcome" yaml:"outcome"`
	Reason            string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	RuleID            int64         `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	DwellMillis       int64         `json:"dwell_ms,omitempty" yaml:"dwell_ms,omitempty"`
}

// FeedingStats summarizes feeding events over a period.
type FeedingStats struct {
	From          time.Time                 `json:"from"`
	To            time.Time                 `json:"to"`
	Attempts      int                       `json:"attempts"`
	Successes     int                       `json:"successes"`
	Aborted       int                       `json:"aborted"`
	Errors        int                       `json:"errors"`
	TotalGrams    float64                   `json:"total_g"`
	GramsBySource map[TriggerSource]float64 `json:"grams_by_source"`
}
