package models

import "time"

// GateState is the feed gate state machine position.
type GateState string

const (
	GateClosed  GateState = "closed"
	GateOpening GateState = "opening"
	GateOpen    GateState = "open"
	GateClosing GateState = "closing"
)

// ActuatorProfile holds the calibrated gate angles and flow rate.
type ActuatorProfile struct {
	ClosedAngle    int       `json:"closed_angle" yaml:"closed_angle"`
	OpenAngle      int       `json:"open_angle" yaml:"open_angle"`
	DispenseRate   float64   `json:"dispense_rate_gps" yaml:"dispense_rate_gps"` // grams per second
	LastCalibrated time.Time `json:"last_calibrated,omitempty" yaml:"last_calibrated,omitempty"`
}
