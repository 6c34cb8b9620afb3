package main

import (
	"github.com/vonssyb/nacionmx-ems/internal/application/auditledger"
	"github.com/vonssyb/nacionmx-ems/internal/application/confirmsvc"
	"github.com/vonssyb/nacionmx-ems/internal/application/resetengine"
	"github.com/vonssyb/nacionmx-ems/internal/application/snapshotsvc"
	"github.com/vonssyb/nacionmx-ems/internal/application/transferengine"
	"github.com/vonssyb/nacionmx-ems/internal/infrastructure/approvers"
	"github.com/vonssyb/nacionmx-ems/internal/infrastructure/database"
	"github.com/vonssyb/nacionmx-ems/internal/infrastructure/grants"
	"github.com/vonssyb/nacionmx-ems/internal/infrastructure/ledger"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/assetrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/auditrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/entitlementrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/identityrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/infractionrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/instrumentrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/opsrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/orgrepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/portfoliorepo"
	"github.com/vonssyb/nacionmx-ems/internal/repositories/snapshotrepo"
	"github.com/vonssyb/nacionmx-ems/internal/server"
	"github.com/vonssyb/nacionmx-ems/internal/server/websocket"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
	"github.com/vonssyb/nacionmx-ems/pkg/logger"
)

func main() {
	logger := logger.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.ShutDown()

	identityRepo := identityrepo.New(db.Db)
	instrumentRepo := instrumentrepo.New(db.Db)
	orgRepo := orgrepo.New(db.Db)
	assetRepo := assetrepo.New(db.Db)
	entitlementRepo := entitlementrepo.New(db.Db)
	portfolioRepo := portfoliorepo.New(db.Db)
	infractionRepo := infractionrepo.New(db.Db)
	auditRepo := auditrepo.New(db.Db)
	opsRepo := opsrepo.New(db.Db)
	snapshotRepo := snapshotrepo.New(db.Db)

	ledgerClient := ledger.New(&cfg.Ledger, logger)
	grantsClient := grants.New(&cfg.Grants, logger)

	wsHub := websocket.NewWsHub(logger)
	go wsHub.Run()

	auditLedger := auditledger.New(auditRepo, ledgerClient, wsHub, cfg.Audit, logger)
	ledgerClient.AttachRecorder(auditLedger)

	snapshotSvc := snapshotsvc.New(
		ledgerClient,
		grantsClient,
		identityRepo,
		instrumentRepo,
		orgRepo,
		assetRepo,
		entitlementRepo,
		portfolioRepo,
		snapshotRepo,
		logger,
	)

	resetEngine := resetengine.New(
		snapshotSvc,
		ledgerClient,
		grantsClient,
		identityRepo,
		instrumentRepo,
		orgRepo,
		assetRepo,
		entitlementRepo,
		portfolioRepo,
		opsRepo,
		wsHub,
		logger,
	)

	transferEngine := transferengine.New(
		ledgerClient,
		grantsClient,
		identityRepo,
		instrumentRepo,
		orgRepo,
		assetRepo,
		entitlementRepo,
		portfolioRepo,
		infractionRepo,
		opsRepo,
		wsHub,
		logger,
	)

	confirmationSvc := confirmsvc.New(
		opsRepo,
		ledgerClient,
		grantsClient,
		orgRepo,
		approvers.NewStatic(cfg.Confirmation.Approvers),
		wsHub,
		resetEngine,
		transferEngine,
		cfg.Confirmation,
		logger,
	)

	srv := server.New(cfg, confirmationSvc, resetEngine, snapshotSvc, auditLedger, logger, wsHub)
	srv.Start()
}
