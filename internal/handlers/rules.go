package handlers

import (
	"net/http"

	"cat_feeder/internal/models"

	"github.com/gin-gonic/gin"
)

// RuleRequest creates or replaces a feeding rule.
type RuleRequest struct {
	TimeOfDay   string  `json:"time_of_day" binding:"required" example:"07:30"`
	PortionMass float64 `json:"portion_g" binding:"required" example:"40"`
	Enabled     *bool   `json:"enabled,omitempty" example:"true"`
	Label       string  `json:"label,omitempty" example:"breakfast"`
}

func (r RuleRequest) toRule() models.FeedingRule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return models.FeedingRule{
		TimeOfDay:   r.TimeOfDay,
		PortionMass: r.PortionMass,
		Enabled:     enabled,
		Label:       r.Label,
	}
}

// @Summary      List feeding rules
// @Tags         rules
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, rules"
// @Router       /api/v1/rules [get]
// @Security     BearerAuth
func (h *Handler) listRules(c *gin.Context) {
	rules, err := h.services.ListRules(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "rules_list_failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rules), "rules": rules})
}

// @Summary      Create feeding rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        body  body      RuleRequest  true  "Rule"
// @Success      201   {object}  models.FeedingRule
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/rules [post]
// @Security     BearerAuth
func (h *Handler) createRule(c *gin.Context) {
	var req RuleRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	rule, err := h.services.CreateRule(c.Request.Context(), req.toRule())
	if err != nil {
		h.respondError(c, err, "rule_create_failed", nil)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// @Summary      Replace feeding rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      int          true  "Rule ID"
// @Param        body  body      RuleRequest  true  "Rule"
// @Success      200   {object}  models.FeedingRule
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/rules/{id} [put]
// @Security     BearerAuth
func (h *Handler) updateRule(c *gin.Context) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	var req RuleRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	rule := req.toRule()
	rule.ID = id
	rule, err := h.services.UpdateRule(c.Request.Context(), rule)
	if err != nil {
		h.respondError(c, err, "rule_update_failed", gin.H{"id": id})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// @Summary      Delete feeding rule
// @Tags         rules
// @Param        id   path  int  true  "Rule ID"
// @Success      204
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/rules/{id} [delete]
// @Security     BearerAuth
func (h *Handler) deleteRule(c *gin.Context) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.services.DeleteRule(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "rule_delete_failed", gin.H{"id": id})
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Next scheduled feeding
// @Description  Returns null when no enabled rule exists.
// @Tags         rules
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "next"
// @Router       /api/v1/rules/next [get]
// @Security     BearerAuth
func (h *Handler) nextFeeding(c *gin.Context) {
	next, err := h.services.NextFeeding(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "next_feeding_failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next": next})
}
