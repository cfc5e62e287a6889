package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func itoa(n int) string { return strconv.Itoa(n) }

// int64Param parses a positive path parameter or writes a 400.
func (h *Handler) int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": codeInvalidQuery})
		return 0, false
	}
	return v, true
}

// intQuery reads an optional integer query value; absent means def.
func (h *Handler) intQuery(c *gin.Context, name string, def int) (int, bool) {
	s := c.Query(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": codeInvalidQuery})
		return 0, false
	}
	return v, true
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
