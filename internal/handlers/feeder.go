package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// FeedRequest is the body of manual and test feedings.
type FeedRequest struct {
	// Portion in grams
	Grams float64 `json:"grams" binding:"required" example:"50"`
}

// EmergencyStopRequest engages or clears the emergency stop.
type EmergencyStopRequest struct {
	Engaged *bool `json:"engaged" binding:"required" example:"true"`
}

// @Summary      Health check
// @Description  Liveness of the HTTP process plus the latest health snapshot.
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	if h.services.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": statusOK})
		return
	}
	hs := h.services.HealthStatus()
	status := statusOK
	if !hs.CheckedAt.IsZero() && !hs.Healthy {
		status = statusDegraded
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "health": hs})
}

// @Summary      Manual feeding
// @Description  Dispenses a portion now, subject to the safety policy.
// @Tags         feeder
// @Accept       json
// @Produce      json
// @Param        body  body      FeedRequest  true  "Portion"
// @Success      200   {object}  models.FeedingEvent
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]interface{}  "policy violation, emergency stop or busy"
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/feeder/feed [post]
// @Security     BearerAuth
func (h *Handler) manualFeed(c *gin.Context) {
	var req FeedRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	ev, err := h.services.ManualFeed(c.Request.Context(), req.Grams)
	if err != nil {
		h.respondFeedError(c, err, ev.ID != "", ev)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// @Summary      Test feeding
// @Description  Dispenses a small test portion; the safety policy applies.
// @Tags         feeder
// @Accept       json
// @Produce      json
// @Param        body  body      FeedRequest  true  "Portion"
// @Success      200   {object}  models.FeedingEvent
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]interface{}
// @Router       /api/v1/feeder/test [post]
// @Security     BearerAuth
func (h *Handler) testFeed(c *gin.Context) {
	var req FeedRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	ev, err := h.services.TestFeed(c.Request.Context(), req.Grams)
	if err != nil {
		h.respondFeedError(c, err, ev.ID != "", ev)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h *Handler) respondFeedError(c *gin.Context, err error, recorded bool, ev any) {
	var extra gin.H
	if recorded {
		extra = gin.H{"event": ev}
	}
	h.respondError(c, err, "feed_failed", extra)
}

// @Summary      Emergency stop
// @Tags         feeder
// @Accept       json
// @Produce      json
// @Param        body  body      EmergencyStopRequest  true  "Latch state"
// @Success      200   {object}  models.SafetyState
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/feeder/emergency-stop [post]
// @Security     BearerAuth
func (h *Handler) emergencyStop(c *gin.Context) {
	var req EmergencyStopRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	source := "api"
	if uid, ok := c.Get(ctxUserID); ok {
		if id, ok := uid.(int); ok {
			source = "api:user:" + itoa(id)
		}
	}
	st := h.services.SetEmergencyStop(c.Request.Context(), *req.Engaged, source)
	c.JSON(http.StatusOK, st)
}

// @Summary      Feeder status
// @Tags         feeder
// @Produce      json
// @Success      200  {object}  models.Status
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/feeder/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	st, err := h.services.GetStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "status_failed", nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Safety totals
// @Tags         feeder
// @Produce      json
// @Success      200  {object}  models.SafetyState
// @Router       /api/v1/feeder/safety [get]
// @Security     BearerAuth
func (h *Handler) getSafety(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"safety":         h.services.SafetyState(),
		"pending_writes": h.services.PendingWrites(),
	})
}
