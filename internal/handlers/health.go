package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultAlertCount = 20

// @Summary      Health details
// @Tags         health
// @Produce      json
// @Success      200  {object}  models.HealthStatus
// @Router       /api/v1/health [get]
// @Security     BearerAuth
func (h *Handler) healthDetails(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.HealthStatus())
}

// @Summary      Run health check
// @Description  Collects host metrics and evaluates thresholds now.
// @Tags         health
// @Produce      json
// @Success      200  {object}  models.HealthStatus
// @Router       /api/v1/health/check [post]
// @Security     BearerAuth
func (h *Handler) checkHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.CheckHealth(c.Request.Context()))
}

// @Summary      Metrics history
// @Tags         health
// @Produce      json
// @Param        since  query     string  false  "Only samples at or after this time"
// @Success      200    {object}  map[string]interface{}  "count, metrics"
// @Failure      400    {object}  map[string]string
// @Router       /api/v1/health/metrics [get]
// @Security     BearerAuth
func (h *Handler) metricsHistory(c *gin.Context) {
	var since time.Time
	if qs := c.Query("since"); qs != "" {
		t, err := parseQueryTime(qs)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid 'since' time", "code": codeInvalidQuery})
			return
		}
		since = t
	}
	m := h.services.MetricsHistory(since)
	c.JSON(http.StatusOK, gin.H{"count": len(m), "metrics": m})
}

// @Summary      Recent alerts
// @Tags         health
// @Produce      json
// @Param        n    query     int  false  "Number of alerts"
// @Success      200  {object}  map[string]interface{}  "count, alerts"
// @Router       /api/v1/health/alerts [get]
// @Security     BearerAuth
func (h *Handler) recentAlerts(c *gin.Context) {
	n, ok := h.intQuery(c, "n", defaultAlertCount)
	if !ok {
		return
	}
	alerts := h.services.RecentAlerts(n)
	c.JSON(http.StatusOK, gin.H{"count": len(alerts), "alerts": alerts})
}

// @Summary      Retention cleanup
// @Description  Deletes system events and weight samples past the retention window. Feeding history is kept.
// @Tags         health
// @Produce      json
// @Success      200  {object}  service.CleanupReport
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/health/cleanup [post]
// @Security     BearerAuth
func (h *Handler) cleanup(c *gin.Context) {
	rep, err := h.services.Cleanup(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "cleanup_failed", gin.H{"report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}
