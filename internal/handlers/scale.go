package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TareRequest optionally overrides the number of samples averaged.
type TareRequest struct {
	Samples int `json:"samples,omitempty" example:"10"`
}

// KnownMassRequest carries a reference mass placed on the plate.
type KnownMassRequest struct {
	KnownMass float64 `json:"known_mass_g" binding:"required" example:"500"`
}

// VerifyRequest checks the calibration against a known mass.
type VerifyRequest struct {
	KnownMass    float64 `json:"known_mass_g" binding:"required" example:"500"`
	TolerancePct float64 `json:"tolerance_pct,omitempty" example:"5"`
}

// ScaleSessionRequest starts a guided calibration.
type ScaleSessionRequest struct {
	References int `json:"references,omitempty" example:"3"`
}

// @Summary      Current weight
// @Tags         scale
// @Produce      json
// @Success      200  {object}  models.WeightReading
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/scale/weight [get]
// @Security     BearerAuth
func (h *Handler) getWeight(c *gin.Context) {
	r, err := h.services.CurrentWeight(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "weight_read_failed", nil)
		return
	}
	c.JSON(http.StatusOK, r)
}

// @Summary      Calibration profile
// @Tags         scale
// @Produce      json
// @Success      200  {object}  models.CalibrationProfile
// @Router       /api/v1/scale/calibration [get]
// @Security     BearerAuth
func (h *Handler) getCalibration(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.CalibrationProfile())
}

// @Summary      Tare
// @Description  Zeroes the empty plate.
// @Tags         scale
// @Accept       json
// @Produce      json
// @Param        body  body      TareRequest  false  "Samples"
// @Success      200   {object}  models.CalibrationProfile
// @Failure      409   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /api/v1/scale/tare [post]
// @Security     BearerAuth
func (h *Handler) tare(c *gin.Context) {
	var req TareRequest
	if c.Request.ContentLength > 0 && !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	p, err := h.services.Tare(c.Request.Context(), req.Samples)
	if err != nil {
		h.respondError(c, err, "tare_failed", nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Calibrate
// @Description  Derives the scale factor from a known mass on the plate.
// @Tags         scale
// @Accept       json
// @Produce      json
// @Param        body  body      KnownMassRequest  true  "Reference mass"
// @Success      200   {object}  models.CalibrationProfile
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/scale/calibrate [post]
// @Security     BearerAuth
func (h *Handler) calibrate(c *gin.Context) {
	var req KnownMassRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	p, err := h.services.Calibrate(c.Request.Context(), req.KnownMass)
	if err != nil {
		h.respondError(c, err, "calibrate_failed", nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Verify calibration
// @Tags         scale
// @Accept       json
// @Produce      json
// @Param        body  body      VerifyRequest  true  "Known mass"
// @Success      200   {object}  calibration.VerifyResult
// @Failure      400   {object}  map[string]interface{}
// @Router       /api/v1/scale/verify [post]
// @Security     BearerAuth
func (h *Handler) verifyCalibration(c *gin.Context) {
	var req VerifyRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	res, err := h.services.VerifyCalibration(c.Request.Context(), req.KnownMass, req.TolerancePct)
	if err != nil {
		h.respondError(c, err, "verify_failed", gin.H{"result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Start guided calibration
// @Tags         scale
// @Accept       json
// @Produce      json
// @Param        body  body      ScaleSessionRequest  false  "Number of references"
// @Success      201   {object}  calibration.SessionStatus
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/scale/sessions [post]
// @Security     BearerAuth
func (h *Handler) beginScaleSession(c *gin.Context) {
	var req ScaleSessionRequest
	if c.Request.ContentLength > 0 && !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	st, err := h.services.BeginScaleSession(req.References)
	if err != nil {
		h.respondError(c, err, "scale_session_begin_failed", nil)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// @Summary      Guided calibration status
// @Tags         scale
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  calibration.SessionStatus
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/scale/sessions/{id} [get]
// @Security     BearerAuth
func (h *Handler) scaleSessionStatus(c *gin.Context) {
	st, err := h.services.ScaleSessionStatus(c.Param("id"))
	if err != nil {
		h.respondError(c, err, "scale_session_status_failed", nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Guided calibration: tare
// @Tags         scale
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  calibration.SessionStatus
// @Failure      409  {object}  map[string]interface{}
// @Router       /api/v1/scale/sessions/{id}/tare [post]
// @Security     BearerAuth
func (h *Handler) scaleSessionTare(c *gin.Context) {
	st, err := h.services.ScaleSessionTare(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "scale_session_tare_failed", gin.H{"session": st})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Guided calibration: record reference
// @Tags         scale
// @Accept       json
// @Produce      json
// @Param        id    path      string            true  "Session ID"
// @Param        body  body      KnownMassRequest  true  "Reference mass"
// @Success      200   {object}  calibration.SessionStatus
// @Failure      400   {object}  map[string]interface{}
// @Router       /api/v1/scale/sessions/{id}/reference [post]
// @Security     BearerAuth
func (h *Handler) scaleSessionRecord(c *gin.Context) {
	var req KnownMassRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	st, err := h.services.ScaleSessionRecord(c.Request.Context(), c.Param("id"), req.KnownMass)
	if err != nil {
		h.respondError(c, err, "scale_session_record_failed", gin.H{"session": st})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Guided calibration: commit
// @Tags         scale
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  models.CalibrationProfile
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/scale/sessions/{id}/commit [post]
// @Security     BearerAuth
func (h *Handler) commitScaleSession(c *gin.Context) {
	p, err := h.services.CommitScaleSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "scale_session_commit_failed", nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Guided calibration: abort
// @Tags         scale
// @Param        id   path  string  true  "Session ID"
// @Success      204
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/scale/sessions/{id} [delete]
// @Security     BearerAuth
func (h *Handler) abortScaleSession(c *gin.Context) {
	if err := h.services.AbortScaleSession(c.Param("id")); err != nil {
		h.respondError(c, err, "scale_session_abort_failed", nil)
		return
	}
	c.Status(http.StatusNoContent)
}
