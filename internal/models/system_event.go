package models

import "time"

// System event types.
const (
	EventStartup         = "STARTUP"
	EventShutdown        = "SHUTDOWN"
	EventDispense        = "DISPENSE"
	EventPolicyViolation = "POLICY_VIOLATION"
	EventSensorFault     = "SENSOR_FAULT"
	EventActuatorFault   = "ACTUATOR_FAULT"
	EventEmergencyStop   = "EMERGENCY_STOP"
	EventCalibration     = "CALIBRATION"
	EventHealthAlert     = "HEALTH_ALERT"
	EventCatDetected     = "CAT_DETECTED"
	EventStorageFailure  = "STORAGE_FAILURE"
)

// SystemEvent is a single log entry.
type SystemEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
