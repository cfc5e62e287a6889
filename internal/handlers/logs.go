package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cat_feeder/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid   = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errRangeOrder  = "'from' must be <= 'to'"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// isDateOnly reports whether the query string represents a date without time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

// parseRange reads the optional from/to query pair. A date-only 'to' covers
// the whole day. Writes a 400 and returns false on bad input.
func (h *Handler) parseRange(c *gin.Context) (from, to time.Time, ok bool) {
	var err error
	if qs := c.Query("from"); qs != "" {
		from, err = parseQueryTime(qs)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errFromInvalid, "code": codeInvalidQuery})
			return time.Time{}, time.Time{}, false
		}
	}
	if qs := c.Query("to"); qs != "" {
		to, err = parseQueryTime(qs)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errToInvalid, "code": codeInvalidQuery})
			return time.Time{}, time.Time{}, false
		}
		if isDateOnly(qs) {
			to = to.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errRangeOrder, "code": codeInvalidQuery})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// @Summary      List system events
// @Description  Filter logs by date (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). If 'to' is date-only, it is treated as end-of-day inclusive (23:59:59.999999999Z).
// @Tags         logs
// @Produce      json
// @Param        from  query   string  false  "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"  example(2025-08-01)
// @Param        to    query   string  false  "End of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). Date-only treated as end of day."  example(2025-08-31)
// @Param        type  query   string  false  "Event type"  Enums(STARTUP,SHUTDOWN,DISPENSE,POLICY_VIOLATION,SENSOR_FAULT,ACTUATOR_FAULT,EMERGENCY_STOP,CALIBRATION,HEALTH_ALERT,CAT_DETECTED,STORAGE_FAILURE)
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs [get]
// @Security     BearerAuth
func (h *Handler) getLogs(c *gin.Context) {
	from, to, ok := h.parseRange(c)
	if !ok {
		return
	}
	// Normalize event type: trim spaces and uppercase to match expected values.
	eventType := strings.ToUpper(strings.TrimSpace(c.Query("type")))

	events, err := h.services.EventLog.List(c.Request.Context(), service.LogFilter{
		From: from,
		To:   to,
		Type: eventType,
	})
	if err != nil {
		h.respondError(c, err, "logs_list_failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// @Summary      Feeding history
// @Tags         logs
// @Produce      json
// @Param        from     query   string  false  "Start of range"
// @Param        to       query   string  false  "End of range"
// @Param        source   query   string  false  "Trigger source"  Enums(scheduled,manual,test)
// @Param        outcome  query   string  false  "Outcome"  Enums(success,aborted,error)
// @Param        limit    query   int     false  "Maximum number of events"
// @Success      200      {object}  map[string]interface{}  "count, feedings"
// @Failure      400      {object}  map[string]string
// @Router       /api/v1/feedings [get]
// @Security     BearerAuth
func (h *Handler) listFeedings(c *gin.Context) {
	from, to, ok := h.parseRange(c)
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit", 0)
	if !ok {
		return
	}
	feedings, err := h.services.ListFeedings(c.Request.Context(), service.FeedingQuery{
		From:    from,
		To:      to,
		Source:  c.Query("source"),
		Outcome: c.Query("outcome"),
		Limit:   limit,
	})
	if err != nil {
		h.respondError(c, err, "feedings_list_failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(feedings), "feedings": feedings})
}

// @Summary      Feeding statistics
// @Tags         logs
// @Produce      json
// @Param        from  query     string  false  "Start of range"
// @Param        to    query     string  false  "End of range"
// @Success      200   {object}  models.FeedingStats
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/feedings/stats [get]
// @Security     BearerAuth
func (h *Handler) feedingStats(c *gin.Context) {
	from, to, ok := h.parseRange(c)
	if !ok {
		return
	}
	st, err := h.services.FeedingStats(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err, "feeding_stats_failed", nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Weight samples
// @Tags         logs
// @Produce      json
// @Param        from   query   string  false  "Start of range"
// @Param        to     query   string  false  "End of range"
// @Param        limit  query   int     false  "Maximum number of samples"
// @Success      200    {object}  map[string]interface{}  "count, samples"
// @Failure      400    {object}  map[string]string
// @Router       /api/v1/weights [get]
// @Security     BearerAuth
func (h *Handler) listWeights(c *gin.Context) {
	from, to, ok := h.parseRange(c)
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit", 0)
	if !ok {
		return
	}
	samples, err := h.services.ListWeights(c.Request.Context(), from, to, limit)
	if err != nil {
		h.respondError(c, err, "weights_list_failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(samples), "samples": samples})
}

func parseQueryTime(s string) (time.Time, error) {
	// Try multiple accepted formats, normalizing to UTC.
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid time format %q, expected one of: "+
			"RFC3339 (e.g. 2025-08-27T15:04:05Z), "+
			"'YYYY-MM-DD HH:MM:SS', "+
			"'YYYY-MM-DD'",
		s,
	)
}
