package handlers

import (
	"bytes"
	"net/http"

	"cat_feeder/internal/backup"

	"github.com/gin-gonic/gin"
)

const (
	contentTypeYAML = "application/x-yaml"
	maxBackupBytes  = 32 << 20
)

// @Summary      Export backup
// @Description  Profiles, rules and recent feeding history as YAML.
// @Tags         backup
// @Produce      application/x-yaml
// @Param        days  query     int  false  "Days of feeding history; 0 exports everything"
// @Success      200   {string}  string
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/backup [get]
// @Security     BearerAuth
func (h *Handler) exportBackup(c *gin.Context) {
	days, ok := h.intQuery(c, "days", 0)
	if !ok {
		return
	}
	doc, err := h.services.ExportBackup(c.Request.Context(), days)
	if err != nil {
		h.respondError(c, err, "backup_export_failed", nil)
		return
	}
	var buf bytes.Buffer
	if err := backup.Encode(&buf, doc); err != nil {
		h.respondError(c, err, "backup_encode_failed", nil)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="cat_feeder_backup.yaml"`)
	c.Data(http.StatusOK, contentTypeYAML, buf.Bytes())
}

// @Summary      Restore backup
// @Description  Replaces profiles and rules and merges feeding history.
// @Tags         backup
// @Accept       application/x-yaml
// @Produce      json
// @Param        body  body      string  true  "YAML backup"
// @Success      200   {object}  backup.Report
// @Failure      400   {object}  map[string]string
// @Router       /api/v1/backup [post]
// @Security     BearerAuth
func (h *Handler) restoreBackup(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBackupBytes)
	doc, err := backup.Decode(c.Request.Body)
	if err != nil {
		h.respondError(c, err, "backup_decode_failed", nil)
		return
	}
	rep, err := h.services.RestoreBackup(c.Request.Context(), doc)
	if err != nil {
		h.respondError(c, err, "backup_restore_failed", gin.H{"report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}
