package models

import "time"

// ReferencePoint is one known mass placed on the scale during calibration.
type ReferencePoint struct {
	KnownMass   float64 `json:"known_mass_g" yaml:"known_mass_g"`
	ObservedRaw float64 `json:"observed_raw" yaml:"observed_raw"`
}

// CalibrationProfile converts raw counts to grams: (raw - TareOffset) / ScaleFactor.
// ScaleFactor is never zero.
type CalibrationProfile struct {
	TareOffset   float64          `json:"tare_offset" yaml:"tare_offset"`
	ScaleFactor  float64          `json:"scale_factor" yaml:"scale_factor"` // raw counts per gram
	CalibratedAt time.Time        `json:"calibrated_at,omitempty" yaml:"calibrated_at,omitempty"`
	References   []ReferencePoint `json:"references,omitempty" yaml:"references,omitempty"`
}

// Calibrated reports whether a reference mass has ever been applied.
func (p CalibrationProfile) Calibrated() bool {
	return len(p.References) > 0
}
