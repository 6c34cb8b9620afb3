package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vonssyb/nacionmx-ems/internal/application/resetengine"
	"github.com/vonssyb/nacionmx-ems/internal/application/snapshotsvc"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
)

type SnapshotHandler struct {
	snapshotSvc snapshotsvc.ISnapshotService
	resetEngine resetengine.IResetEngine
}

func NewSnapshotHandler(snapshotSvc snapshotsvc.ISnapshotService, resetEngine resetengine.IResetEngine) *SnapshotHandler {
	return &SnapshotHandler{
		snapshotSvc: snapshotSvc,
		resetEngine: resetEngine,
	}
}

func (h *SnapshotHandler) Latest(c *gin.Context) {
	entityID := c.Param("entity_id")

	snap, err := h.snapshotSvc.Latest(c.Request.Context(), entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNoSnapshotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("entity_id", entityID).Msg("Failed to load snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to load snapshot",
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Capture takes an on-demand snapshot outside of any operation, for manual
// backups before risky interventions.
func (h *SnapshotHandler) Capture(c *gin.Context) {
	entityID := c.Param("entity_id")

	snap, err := h.snapshotSvc.Capture(c.Request.Context(), entityID, 0)
	if err != nil {
		log.Error().Err(err).Str("entity_id", entityID).Msg("Snapshot capture failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Bad Gateway",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"snapshot_id": snap.ID,
		"created_at":  snap.CreatedAt,
	})
}

type revertRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *SnapshotHandler) Revert(c *gin.Context) {
	entityID := c.Param("entity_id")

	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}

	report, err := h.resetEngine.RevertReset(c.Request.Context(), entityID, c.GetString("actor_id"), req.Reason)
	if err != nil {
		if errors.Is(err, domain.ErrNoSnapshotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("entity_id", entityID).Msg("Revert failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to revert entity",
		})
		return
	}

	status := http.StatusOK
	if len(report.Failed()) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, report)
}
