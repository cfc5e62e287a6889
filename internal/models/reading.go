package models

import "time"

// RawSample is one ADC conversion from the load cell amplifier.
type RawSample struct {
	Timestamp time.Time `json:"timestamp"`
	Raw       int64     `json:"raw"`
}

// WeightReading is a calibrated mass in grams.
type WeightReading struct {
	Mass      float64   `json:"mass_g"`
	Stable    bool      `json:"stable"`
	Timestamp time.Time `json:"timestamp"`
}

// WeightSample is a logged WeightReading.
type WeightSample struct {
	ID         int64     `json:"id"`
	Mass       float64   `json:"mass_g"`
	Stable     bool      `json:"stable"`
	RecordedAt time.Time `json:"recorded_at"`
}
