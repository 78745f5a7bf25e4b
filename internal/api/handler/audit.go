package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/deckbase/cardsync/internal/service"
)

// AuditHandler handles set-audit endpoints.
type AuditHandler struct {
	imports *service.ImportService
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(imports *service.ImportService) *AuditHandler {
	return &AuditHandler{imports: imports}
}

// ListAudits handles GET /api/v1/audits.
func (h *AuditHandler) ListAudits(c *gin.Context) {
	audits, err := h.imports.ListSetAudits(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audits: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"count":  len(audits),
	})
}

// RebuildAudits handles POST /api/v1/audits/rebuild. The audit table is a
// derived cache, so a rebuild is always safe.
func (h *AuditHandler) RebuildAudits(c *gin.Context) {
	rebuilt, err := h.imports.RebuildSetAudits(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rebuild audits: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rebuilt": rebuilt})
}
