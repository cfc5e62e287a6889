package service

import (
	"time"

	"cat_feeder/internal/models"
)

// FeedRequest asks the pipeline for one feeding.
type FeedRequest struct {
	Mass   float64
	Source models.TriggerSource
	RuleID int64 // scheduled feedings only
}

// LogFilter supports system event filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "DISPENSE", "POLICY_VIOLATION", "SENSOR_FAULT", ...
}

// FeedingQuery filters the feeding history.
type FeedingQuery struct {
	From    time.Time
	To      time.Time
	Source  string // "", "scheduled", "manual", "test"
	Outcome string // "", "success", "aborted", "error"
	Limit   int
}
