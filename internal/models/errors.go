package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Callers classify with errors.Is/As;
// the HTTP layer maps each class to its own status and code.
var (
	ErrSensorTimeout       = errors.New("sensor timeout")
	ErrUnstableReading     = errors.New("unstable reading")
	ErrInvalidCalibration  = errors.New("invalid calibration")
	ErrInvalidPortion      = errors.New("invalid portion")
	ErrActuatorFault       = errors.New("actuator fault")
	ErrPolicyViolation     = errors.New("policy violation")
	ErrEmergencyStopActive = errors.New("emergency stop active")
	ErrResourceBusy        = errors.New("resource busy")
	ErrStorageFailure      = errors.New("storage failure")

	ErrNotFound     = errors.New("not found")
	ErrInvalidRule  = errors.New("invalid feeding rule")
	ErrSessionState = errors.New("calibration step not allowed in current state")
)

// PolicyReason names the safety rule that rejected a feeding request.
type PolicyReason string

const (
	ReasonEmergencyStop PolicyReason = "emergency_stop"
	ReasonDailyLimit    PolicyReason = "daily_limit"
	ReasonFeedingCount  PolicyReason = "feeding_count"
	ReasonInterval      PolicyReason = "interval"
	ReasonOutOfRange    PolicyReason = "out_of_range"
)

// PolicyViolation is returned when a feeding request is refused before any
// mechanical action.
type PolicyViolation struct {
	Reason PolicyReason
	Detail string
}

func (e *PolicyViolation) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("policy violation: %s", e.Reason)
	}
	return fmt.Sprintf("policy violation: %s: %s", e.Reason, e.Detail)
}

func (e *PolicyViolation) Unwrap() error { return ErrPolicyViolation }

// Is lets an emergency-stop violation match ErrEmergencyStopActive and an
// out-of-range violation match ErrInvalidPortion.
func (e *PolicyViolation) Is(target error) bool {
	switch target {
	case ErrEmergencyStopActive:
		return e.Reason == ReasonEmergencyStop
	case ErrInvalidPortion:
		return e.Reason == ReasonOutOfRange
	}
	return false
}

// NewPolicyViolation builds a violation with a formatted detail message.
func NewPolicyViolation(reason PolicyReason, format string, args ...any) *PolicyViolation {
	return &PolicyViolation{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the policy reason from err, if any.
func ReasonOf(err error) (PolicyReason, bool) {
	var pv *PolicyViolation
	if errors.As(err, &pv) {
		return pv.Reason, true
	}
	return "", false
}

// BusyError reports which owner currently holds a physical resource.
type BusyError struct {
	Resource string
	Owner    string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("resource busy: %s held by %s", e.Resource, e.Owner)
}

func (e *BusyError) Unwrap() error { return ErrResourceBusy }
