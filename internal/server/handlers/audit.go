package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vonssyb/nacionmx-ems/internal/application/auditledger"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/server/metrics"
)

type AuditHandler struct {
	auditLedger auditledger.IAuditLedger
}

func NewAuditHandler(auditLedger auditledger.IAuditLedger) *AuditHandler {
	return &AuditHandler{auditLedger: auditLedger}
}

func (h *AuditHandler) History(c *gin.Context) {
	entityID := c.Param("entity_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.auditLedger.History(c.Request.Context(), entityID, limit)
	if err != nil {
		log.Error().Err(err).Str("entity_id", entityID).Msg("Failed to list audit history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to list audit history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *AuditHandler) Flagged(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := h.auditLedger.Flagged(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list flagged audit entries")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to list flagged audit entries",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

type rollbackRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *AuditHandler) Rollback(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "audit entry id must be numeric",
		})
		return
	}

	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}

	err = h.auditLedger.Rollback(c.Request.Context(), id, c.GetString("actor_id"), req.Reason)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrAuditEntryNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrNotRollbackable),
			errors.Is(err, domain.ErrAlreadyRolledBack):
			status = http.StatusConflict
		}
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Int64("entry_id", id).Msg("Audit rollback failed")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	metrics.AuditRollbacks.Inc()
	c.JSON(http.StatusOK, gin.H{"status": "rolled_back"})
}
