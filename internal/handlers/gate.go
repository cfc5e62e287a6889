package handlers

import (
	"net/http"

	"cat_feeder/internal/actuator"

	"github.com/gin-gonic/gin"
)

// RateRequest reports the mass released by one timed opening.
type RateRequest struct {
	Mass       float64 `json:"mass_g" binding:"required" example:"24"`
	DurationMs int64   `json:"duration_ms" binding:"required" example:"3000"`
}

// JogRequest nudges one gate angle during calibration.
type JogRequest struct {
	Position string `json:"position" binding:"required,oneof=open closed" example:"open"`
	Delta    int    `json:"delta" example:"5"`
}

// RunRequest times one opening during calibration.
type RunRequest struct {
	DurationMs int64 `json:"duration_ms" binding:"required" example:"2000"`
}

// MassRequest attaches a weighed mass to the last run.
type MassRequest struct {
	Mass float64 `json:"mass_g" binding:"required" example:"18.5"`
}

// @Summary      Actuator profile
// @Tags         gate
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "profile, state"
// @Router       /api/v1/gate/profile [get]
// @Security     BearerAuth
func (h *Handler) getActuatorProfile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"profile": h.services.ActuatorProfile(),
		"state":   h.services.GateState(),
	})
}

// @Summary      Servo test
// @Description  Sweeps the diagnostic angles and closes the gate.
// @Tags         gate
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "angles"
// @Failure      409  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/gate/test [post]
// @Security     BearerAuth
func (h *Handler) testServo(c *gin.Context) {
	angles, err := h.services.TestServo(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "servo_test_failed", gin.H{"angles": angles})
		return
	}
	c.JSON(http.StatusOK, gin.H{"angles": angles})
}

// @Summary      Calibrate dispense rate
// @Tags         gate
// @Accept       json
// @Produce      json
// @Param        body  body      RateRequest  true  "Measured opening"
// @Success      200   {object}  models.ActuatorProfile
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/gate/rate [post]
// @Security     BearerAuth
func (h *Handler) calibrateRate(c *gin.Context) {
	var req RateRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	p, err := h.services.CalibrateRate(c.Request.Context(), req.Mass, millis(req.DurationMs))
	if err != nil {
		h.respondError(c, err, "rate_calibration_failed", nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Start gate calibration
// @Tags         gate
// @Produce      json
// @Success      201  {object}  actuator.SessionStatus
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/gate/sessions [post]
// @Security     BearerAuth
func (h *Handler) beginGateSession(c *gin.Context) {
	st, err := h.services.BeginGateSession()
	if err != nil {
		h.respondError(c, err, "gate_session_begin_failed", nil)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// @Summary      Gate calibration status
// @Tags         gate
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  actuator.SessionStatus
// @Router       /api/v1/gate/sessions/{id} [get]
// @Security     BearerAuth
func (h *Handler) gateSessionStatus(c *gin.Context) {
	st, err := h.services.GateSessionStatus(c.Param("id"))
	if err != nil {
		h.respondError(c, err, "gate_session_status_failed", nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Gate calibration: jog
// @Tags         gate
// @Accept       json
// @Produce      json
// @Param        id    path      string      true  "Session ID"
// @Param        body  body      JogRequest  true  "Angle change"
// @Success      200   {object}  actuator.SessionStatus
// @Router       /api/v1/gate/sessions/{id}/jog [post]
// @Security     BearerAuth
func (h *Handler) gateSessionJog(c *gin.Context) {
	var req JogRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	st, err := h.services.GateSessionJog(c.Request.Context(), c.Param("id"), actuator.Position(req.Position), req.Delta)
	if err != nil {
		h.respondError(c, err, "gate_session_jog_failed", gin.H{"session": st})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Gate calibration: timed run
// @Tags         gate
// @Accept       json
// @Produce      json
// @Param        id    path      string      true  "Session ID"
// @Param        body  body      RunRequest  true  "Opening time"
// @Success      200   {object}  actuator.Run
// @Router       /api/v1/gate/sessions/{id}/run [post]
// @Security     BearerAuth
func (h *Handler) gateSessionRun(c *gin.Context) {
	var req RunRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	run, err := h.services.GateSessionRun(c.Request.Context(), c.Param("id"), millis(req.DurationMs))
	if err != nil {
		h.respondError(c, err, "gate_session_run_failed", nil)
		return
	}
	c.JSON(http.StatusOK, run)
}

// @Summary      Gate calibration: record mass
// @Tags         gate
// @Accept       json
// @Produce      json
// @Param        id    path      string       true  "Session ID"
// @Param        body  body      MassRequest  true  "Weighed mass"
// @Success      200   {object}  actuator.SessionStatus
// @Router       /api/v1/gate/sessions/{id}/mass [post]
// @Security     BearerAuth
func (h *Handler) gateSessionRecord(c *gin.Context) {
	var req MassRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	st, err := h.services.GateSessionRecord(c.Param("id"), req.Mass)
	if err != nil {
		h.respondError(c, err, "gate_session_record_failed", nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Gate calibration: commit
// @Tags         gate
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  models.ActuatorProfile
// @Router       /api/v1/gate/sessions/{id}/commit [post]
// @Security     BearerAuth
func (h *Handler) commitGateSession(c *gin.Context) {
	p, err := h.services.CommitGateSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "gate_session_commit_failed", nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Gate calibration: abort
// @Tags         gate
// @Param        id   path  string  true  "Session ID"
// @Success      204
// @Router       /api/v1/gate/sessions/{id} [delete]
// @Security     BearerAuth
func (h *Handler) abortGateSession(c *gin.Context) {
	if err := h.services.AbortGateSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "gate_session_abort_failed", nil)
		return
	}
	c.Status(http.StatusNoContent)
}
