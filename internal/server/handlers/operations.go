package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vonssyb/nacionmx-ems/internal/application/confirmsvc"
	"github.com/vonssyb/nacionmx-ems/internal/application/resetengine"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/server/metrics"
)

type OperationHandler struct {
	confirmationSvc confirmsvc.IConfirmationService
	resetEngine     resetengine.IResetEngine
}

func NewOperationHandler(confirmationSvc confirmsvc.IConfirmationService, resetEngine resetengine.IResetEngine) *OperationHandler {
	return &OperationHandler{
		confirmationSvc: confirmationSvc,
		resetEngine:     resetEngine,
	}
}

type proposeResetRequest struct {
	Target          string   `json:"target" binding:"required"`
	Reason          string   `json:"reason" binding:"required"`
	Evidence        string   `json:"evidence"`
	ProtectedGrants []string `json:"protected_grants"`
	StripGrants     []string `json:"strip_grants"`
}

func (h *OperationHandler) ProposeReset(c *gin.Context) {
	var req proposeResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}

	summary, err := h.confirmationSvc.ProposeReset(c.Request.Context(),
		c.GetString("actor_id"), req.Target, req.Reason, req.Evidence,
		req.ProtectedGrants, req.StripGrants)
	if err != nil {
		respondOperationError(c, err)
		return
	}

	metrics.OperationsProposed.WithLabelValues("reset").Inc()
	c.JSON(http.StatusCreated, summary)
}

type proposeTransferRequest struct {
	Source        string   `json:"source" binding:"required"`
	Destination   string   `json:"destination" binding:"required"`
	Reason        string   `json:"reason" binding:"required"`
	ExcludeGrants []string `json:"exclude_grants"`
}

func (h *OperationHandler) ProposeTransfer(c *gin.Context) {
	var req proposeTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}

	summary, err := h.confirmationSvc.ProposeTransfer(c.Request.Context(),
		c.GetString("actor_id"), req.Source, req.Destination, req.Reason, req.ExcludeGrants)
	if err != nil {
		respondOperationError(c, err)
		return
	}

	metrics.OperationsProposed.WithLabelValues("transfer").Inc()
	c.JSON(http.StatusCreated, summary)
}

func (h *OperationHandler) Confirm(c *gin.Context) {
	id, ok := operationID(c)
	if !ok {
		return
	}

	rec, err := h.confirmationSvc.Confirm(c.Request.Context(), id, c.GetString("actor_id"))
	if err != nil {
		respondOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *OperationHandler) Cancel(c *gin.Context) {
	id, ok := operationID(c)
	if !ok {
		return
	}

	if err := h.confirmationSvc.Cancel(c.Request.Context(), id, c.GetString("actor_id")); err != nil {
		respondOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type challengeRequest struct {
	Answer string `json:"answer" binding:"required"`
}

func (h *OperationHandler) AnswerChallenge(c *gin.Context) {
	id, ok := operationID(c)
	if !ok {
		return
	}

	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}

	rec, err := h.confirmationSvc.AnswerChallenge(c.Request.Context(), id, c.GetString("actor_id"), req.Answer)
	if err != nil {
		respondOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *OperationHandler) Approve(c *gin.Context) {
	id, ok := operationID(c)
	if !ok {
		return
	}
	if !c.GetBool("approver") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Forbidden",
			"message": "approver credential required",
		})
		return
	}

	if err := h.confirmationSvc.Approve(c.Request.Context(), id, c.GetString("actor_id")); err != nil {
		respondOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (h *OperationHandler) Reject(c *gin.Context) {
	id, ok := operationID(c)
	if !ok {
		return
	}
	if !c.GetBool("approver") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Forbidden",
			"message": "approver credential required",
		})
		return
	}

	if err := h.confirmationSvc.Reject(c.Request.Context(), id, c.GetString("actor_id")); err != nil {
		respondOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *OperationHandler) Get(c *gin.Context) {
	id, ok := operationID(c)
	if !ok {
		return
	}

	rec, err := h.confirmationSvc.Get(c.Request.Context(), id)
	if err != nil {
		respondOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *OperationHandler) ResetHistory(c *gin.Context) {
	entityID := c.Param("entity_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, err := h.resetEngine.History(c.Request.Context(), entityID, limit)
	if err != nil {
		log.Error().Err(err).Str("entity_id", entityID).Msg("Failed to list reset history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to list reset history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
	})
}

func operationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "operation id must be numeric",
		})
		return 0, false
	}
	return id, true
}

func respondOperationError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrOperationNotFound),
		errors.Is(err, domain.ErrNoSnapshotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSameEntity),
		errors.Is(err, domain.ErrNonPlayerActor),
		errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProtectedTarget),
		errors.Is(err, domain.ErrNotInitiator),
		errors.Is(err, domain.ErrSelfApproval),
		errors.Is(err, domain.ErrNotEligibleApprover),
		errors.Is(err, domain.ErrChallengeFailed),
		errors.Is(err, domain.ErrSelfTargetRequiresApproval):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrOperationInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Operation request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
