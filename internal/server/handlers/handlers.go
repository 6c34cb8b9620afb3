package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/application/auditledger"
	"github.com/vonssyb/nacionmx-ems/internal/application/confirmsvc"
	"github.com/vonssyb/nacionmx-ems/internal/application/resetengine"
	"github.com/vonssyb/nacionmx-ems/internal/application/snapshotsvc"
	"github.com/vonssyb/nacionmx-ems/internal/server/metrics"
	"github.com/vonssyb/nacionmx-ems/internal/server/middleware"
	"github.com/vonssyb/nacionmx-ems/internal/server/websocket"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
)

type Handlers struct {
	ConfirmationSvc confirmsvc.IConfirmationService
	ResetEngine     resetengine.IResetEngine
	SnapshotSvc     snapshotsvc.ISnapshotService
	AuditLedger     auditledger.IAuditLedger
	Logger          zerolog.Logger
	Config          *config.Config
	WsHub           *websocket.WsHub
}

func New(
	confirmationSvc confirmsvc.IConfirmationService,
	resetEngine resetengine.IResetEngine,
	snapshotSvc snapshotsvc.ISnapshotService,
	auditLedger auditledger.IAuditLedger,
	logger zerolog.Logger,
	config *config.Config,
	wsHub *websocket.WsHub,
) *Handlers {
	return &Handlers{
		ConfirmationSvc: confirmationSvc,
		ResetEngine:     resetEngine,
		SnapshotSvc:     snapshotSvc,
		AuditLedger:     auditLedger,
		Logger:          logger,
		Config:          config,
		WsHub:           wsHub,
	}
}

func (h *Handlers) SetupHandlers(router *gin.Engine) {
	mw := middleware.NewMiddleware(h.Config.JWT.Secret, h.Logger)
	mw.SetupMiddleware(router)
	router.Use(metrics.RequestMetrics())

	operationHandler := NewOperationHandler(h.ConfirmationSvc, h.ResetEngine)
	auditHandler := NewAuditHandler(h.AuditLedger)
	snapshotHandler := NewSnapshotHandler(h.SnapshotSvc, h.ResetEngine)
	wsHandler := NewWebSocketHandler(h.WsHub, h.Config.WebSocket)
	healthHandler := NewHealthHandler()

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", metrics.Handler())

	// WebSocket endpoint for operation progress and alerts
	router.GET("/ws", wsHandler.HandleConnection)

	v1 := router.Group("/v1")
	if h.Config.Server.APIKey != "" {
		v1.Use(middleware.APIKeyAuth(h.Config.Server.APIKey))
	}
	v1.Use(mw.AuthMiddleware())
	{
		operations := v1.Group("/operations")
		{
			operations.POST("/reset", operationHandler.ProposeReset)
			operations.POST("/transfer", operationHandler.ProposeTransfer)
			operations.GET("/:id", operationHandler.Get)
			operations.POST("/:id/confirm", operationHandler.Confirm)
			operations.POST("/:id/cancel", operationHandler.Cancel)
			operations.POST("/:id/challenge", operationHandler.AnswerChallenge)
			operations.POST("/:id/approve", operationHandler.Approve)
			operations.POST("/:id/reject", operationHandler.Reject)
		}

		entities := v1.Group("/entities/:entity_id")
		{
			entities.GET("/resets", operationHandler.ResetHistory)
			entities.POST("/revert", snapshotHandler.Revert)
			entities.GET("/snapshot", snapshotHandler.Latest)
			entities.POST("/snapshot", snapshotHandler.Capture)
			entities.GET("/audit", auditHandler.History)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/flagged", auditHandler.Flagged)
			audit.POST("/:id/rollback", auditHandler.Rollback)
		}
	}
}
