package snapshotsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type ISnapshotService interface {
	// Capture materializes the full cross-store state of one entity into a
	// durable snapshot. All reads, no mutation: if any read fails the whole
	// capture fails and nothing destructive may proceed.
	Capture(ctx context.Context, entityID string, operationID int64) (*domain.Snapshot, error)

	// Restore upserts every captured collection back onto the entity.
	// Idempotent per collection, not atomic across collections; the report
	// carries one outcome per collection.
	Restore(ctx context.Context, snap *domain.Snapshot, entityID, reason string) (*domain.RestoreReport, error)

	Latest(ctx context.Context, entityID string) (*domain.Snapshot, error)
}

type snapshotService struct {
	ledger       interfaces.LedgerClient
	grants       interfaces.GrantsClient
	identityRepo interfaces.IdentityRepository
	instruments  interfaces.InstrumentRepository
	orgs         interfaces.OrganizationRepository
	assets       interfaces.AssetRepository
	entitlements interfaces.EntitlementRepository
	portfolio    interfaces.PortfolioRepository
	snapshots    interfaces.SnapshotRepository
	logger       zerolog.Logger
}

func New(
	ledger interfaces.LedgerClient,
	grants interfaces.GrantsClient,
	identityRepo interfaces.IdentityRepository,
	instruments interfaces.InstrumentRepository,
	orgs interfaces.OrganizationRepository,
	assets interfaces.AssetRepository,
	entitlements interfaces.EntitlementRepository,
	portfolio interfaces.PortfolioRepository,
	snapshots interfaces.SnapshotRepository,
	logger zerolog.Logger,
) ISnapshotService {
	return &snapshotService{
		ledger:       ledger,
		grants:       grants,
		identityRepo: identityRepo,
		instruments:  instruments,
		orgs:         orgs,
		assets:       assets,
		entitlements: entitlements,
		portfolio:    portfolio,
		snapshots:    snapshots,
		logger:       logger.With().Str("component", "snapshot_service").Logger(),
	}
}

func (s *snapshotService) Capture(ctx context.Context, entityID string, operationID int64) (*domain.Snapshot, error) {
	balance, err := s.ledger.GetBalance(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, balance read failed: %w", err)
	}

	grants, err := s.grants.ListGrants(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, grant read failed: %w", err)
	}

	document, err := s.identityRepo.Get(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, identity read failed: %w", err)
	}

	instruments, err := s.instruments.ListActive(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, instrument read failed: %w", err)
	}

	orgs, err := s.orgs.ListOwned(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, organization read failed: %w", err)
	}

	assets, err := s.assets.List(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, asset read failed: %w", err)
	}

	entitlements, err := s.entitlements.List(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, entitlement read failed: %w", err)
	}

	savings, err := s.portfolio.ListSavings(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, savings read failed: %w", err)
	}

	loans, err := s.portfolio.ListLoans(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, loan read failed: %w", err)
	}

	chips, err := s.portfolio.ListChips(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("capture aborted, chip read failed: %w", err)
	}

	snap := &domain.Snapshot{
		ID:            uuid.New().String(),
		EntityID:      entityID,
		OperationID:   operationID,
		Version:       domain.SnapshotVersion,
		CreatedAt:     time.Now().UTC(),
		Balance:       balance,
		Document:      document,
		Instruments:   instruments,
		Organizations: orgs,
		Assets:        assets,
		Entitlements:  entitlements,
		Savings:       savings,
		Loans:         loans,
		Chips:         chips,
		Grants:        grants,
	}

	if err := s.snapshots.Insert(ctx, snap); err != nil {
		return nil, fmt.Errorf("capture aborted, snapshot persist failed: %w", err)
	}

	s.logger.Info().
		Str("snapshot_id", snap.ID).
		Str("entity_id", entityID).
		Int("instruments", len(instruments)).
		Int("organizations", len(orgs)).
		Int("grants", len(grants)).
		Msg("Snapshot captured")

	return snap, nil
}

func (s *snapshotService) Restore(ctx context.Context, snap *domain.Snapshot, entityID, reason string) (*domain.RestoreReport, error) {
	if snap == nil {
		return nil, domain.ErrNoSnapshotFound
	}

	// One named restorer per captured collection; the loop attempts every
	// collection regardless of earlier failures.
	restorers := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"balance", func(ctx context.Context) (int, error) {
			_, err := s.ledger.SetBalance(ctx, entityID, snap.Balance, reason)
			return 1, err
		}},
		{"document", func(ctx context.Context) (int, error) {
			if snap.Document == nil {
				return 0, nil
			}
			doc := *snap.Document
			doc.EntityID = entityID
			return 1, s.identityRepo.Upsert(ctx, &doc)
		}},
		{"instruments", func(ctx context.Context) (int, error) {
			// A wipe only deactivates instruments in place, so the bulk
			// reactivation covers them; rows deleted since capture are
			// re-created one by one.
			ids := make([]string, 0, len(snap.Instruments))
			for _, in := range snap.Instruments {
				ids = append(ids, in.ID)
			}
			revived, err := s.instruments.Reactivate(ctx, ids)
			if err != nil {
				return 0, err
			}
			if int(revived) == len(snap.Instruments) {
				return int(revived), nil
			}
			restored := 0
			for _, in := range snap.Instruments {
				in.EntityID = entityID
				in.Active = true
				if err := s.instruments.Upsert(ctx, &in); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"organizations", func(ctx context.Context) (int, error) {
			restored := 0
			for _, org := range snap.Organizations {
				if err := s.orgs.AddOwner(ctx, org.ID, entityID); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"assets", func(ctx context.Context) (int, error) {
			restored := 0
			for _, a := range snap.Assets {
				a.EntityID = entityID
				if err := s.assets.Upsert(ctx, &a); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"entitlements", func(ctx context.Context) (int, error) {
			restored := 0
			for _, e := range snap.Entitlements {
				e.EntityID = entityID
				if err := s.entitlements.Upsert(ctx, &e); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"savings", func(ctx context.Context) (int, error) {
			restored := 0
			for _, a := range snap.Savings {
				a.EntityID = entityID
				if err := s.portfolio.UpsertSavings(ctx, &a); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"loans", func(ctx context.Context) (int, error) {
			restored := 0
			for _, l := range snap.Loans {
				l.EntityID = entityID
				if err := s.portfolio.UpsertLoan(ctx, &l); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"chips", func(ctx context.Context) (int, error) {
			restored := 0
			for _, c := range snap.Chips {
				c.EntityID = entityID
				if err := s.portfolio.UpsertChips(ctx, &c); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
		{"grants", func(ctx context.Context) (int, error) {
			restored := 0
			for _, grant := range snap.Grants {
				if err := s.grants.Grant(ctx, entityID, grant); err != nil {
					return restored, err
				}
				restored++
			}
			return restored, nil
		}},
	}

	report := &domain.RestoreReport{SnapshotID: snap.ID, EntityID: entityID}
	for _, restorer := range restorers {
		restored, err := restorer.fn(ctx)
		outcome := domain.CollectionOutcome{Collection: restorer.name, Restored: restored}
		if err != nil {
			outcome.Err = err.Error()
			s.logger.Error().Err(err).
				Str("snapshot_id", snap.ID).
				Str("collection", restorer.name).
				Msg("Collection restore failed")
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	s.logger.Info().
		Str("snapshot_id", snap.ID).
		Str("entity_id", entityID).
		Int("failed_collections", len(report.Failed())).
		Msg("Snapshot restore finished")

	return report, nil
}

func (s *snapshotService) Latest(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	return s.snapshots.LatestByEntity(ctx, entityID)
}
