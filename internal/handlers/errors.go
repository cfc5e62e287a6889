package handlers

import (
	"errors"
	"net/http"

	"cat_feeder/internal/backup"
	"cat_feeder/internal/models"
	"cat_feeder/internal/service"

	"github.com/gin-gonic/gin"
)

// Machine-readable error codes returned in the "code" field.
const (
	codePolicyViolation    = "policy_violation"
	codeInvalidPortion     = "invalid_portion"
	codeInvalidCalibration = "invalid_calibration"
	codeInvalidRule        = "invalid_rule"
	codeInvalidQuery       = "invalid_query"
	codeInvalidBody        = "invalid_body"
	codeUnsupportedBackup  = "unsupported_backup"
	codeInvalidBackup      = "invalid_backup"
	codeEmergencyStop      = "emergency_stop"
	codeResourceBusy       = "resource_busy"
	codeSensorTimeout      = "sensor_timeout"
	codeUnstableReading    = "unstable_reading"
	codeActuatorFault      = "actuator_fault"
	codeNotFound           = "not_found"
	codeSessionState       = "session_state"
	codeStorageFailure     = "storage_failure"
	codeUsernameTaken      = "username_taken"
	codeInternal           = "internal"
)

type errorClass struct {
	target error
	status int
	code   string
}

// Checked in order: the first match wins.
var errorClasses = []errorClass{
	{models.ErrInvalidPortion, http.StatusBadRequest, codeInvalidPortion},
	{models.ErrInvalidCalibration, http.StatusBadRequest, codeInvalidCalibration},
	{models.ErrInvalidRule, http.StatusBadRequest, codeInvalidRule},
	{backup.ErrUnsupportedVersion, http.StatusBadRequest, codeUnsupportedBackup},
	{backup.ErrInvalidDocument, http.StatusBadRequest, codeInvalidBackup},
	{models.ErrEmergencyStopActive, http.StatusConflict, codeEmergencyStop},
	{models.ErrResourceBusy, http.StatusConflict, codeResourceBusy},
	{models.ErrSessionState, http.StatusConflict, codeSessionState},
	{models.ErrUsernameTaken, http.StatusConflict, codeUsernameTaken},
	{models.ErrSensorTimeout, http.StatusServiceUnavailable, codeSensorTimeout},
	{models.ErrUnstableReading, http.StatusUnprocessableEntity, codeUnstableReading},
	{models.ErrActuatorFault, http.StatusInternalServerError, codeActuatorFault},
	{models.ErrNotFound, http.StatusNotFound, codeNotFound},
	{models.ErrStorageFailure, http.StatusInternalServerError, codeStorageFailure},
}

// classify maps a service error to an HTTP status, a code and, for policy
// violations, the reason.
func classify(err error) (status int, code, reason string) {
	var pv *models.PolicyViolation
	if errors.As(err, &pv) {
		return http.StatusConflict, codePolicyViolation, string(pv.Reason)
	}
	if service.IsInvalidQuery(err) {
		return http.StatusBadRequest, codeInvalidQuery, ""
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, c.code, ""
		}
	}
	return http.StatusInternalServerError, codeInternal, ""
}

// respondError logs err under logKey and writes {"error","code","reason"}
// plus any extra fields. Server-side failures are logged at error level,
// refusals at info.
func (h *Handler) respondError(c *gin.Context, err error, logKey string, extra gin.H) {
	status, code, reason := classify(err)
	if h.log != nil {
		if status >= http.StatusInternalServerError {
			h.log.Errorw(logKey, "err", err, "code", code)
		} else {
			h.log.Infow(logKey, "err", err, "code", code, "reason", reason)
		}
	}
	body := gin.H{"error": err.Error(), "code": code}
	if reason != "" {
		body["reason"] = reason
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("bad_request_body", "path", c.FullPath(), "err", err)
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": codeInvalidBody})
		return false
	}
	return true
}
