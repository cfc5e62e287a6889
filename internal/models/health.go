package models

import "time"

// Metrics is one host sample.
type Metrics struct {
	CollectedAt time.Time `json:"collected_at"`
	CPUPercent  float64   `json:"cpu_pct"`
	MemPercent  float64   `json:"mem_pct"`
	DiskPercent float64   `json:"disk_pct"`
	TempC       *float64  `json:"temp_c,omitempty"`
	UptimeSec   uint64    `json:"uptime_s"`
	DBSizeMB    float64   `json:"db_size_mb"`
}

// Alert is a threshold or liveness breach.
type Alert struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Value    float64   `json:"value,omitempty"`
	Limit    float64   `json:"limit,omitempty"`
	RaisedAt time.Time `json:"raised_at"`
}

// HealthStatus is the latest health evaluation.
type HealthStatus struct {
	Healthy    bool            `json:"healthy"`
	Latest     *Metrics        `json:"latest,omitempty"`
	Subsystems map[string]bool `json:"subsystems,omitempty"`
	Alerts     []Alert         `json:"alerts,omitempty"`
	CheckedAt  time.Time       `json:"checked_at,omitempty"`
}
