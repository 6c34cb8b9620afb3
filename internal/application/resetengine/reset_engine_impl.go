package resetengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/application/snapshotsvc"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

// IResetEngine executes the full wipe of one entity and can later revert it
// from the snapshot captured up front. The snapshot is the only undo handle:
// no snapshot, no wipe.
type IResetEngine interface {
	interfaces.ResetEngine

	// RevertReset restores the entity from its latest snapshot and marks the
	// owning operation reverted.
	RevertReset(ctx context.Context, entityID, actor, reason string) (*domain.RestoreReport, error)

	History(ctx context.Context, entityID string, limit int) ([]domain.OperationRecord, error)
}

type resetEngine struct {
	snapshots   snapshotsvc.ISnapshotService
	ledger      interfaces.LedgerClient
	grants      interfaces.GrantsClient
	identity    interfaces.IdentityRepository
	instruments interfaces.InstrumentRepository
	orgs        interfaces.OrganizationRepository
	assets      interfaces.AssetRepository
	entitles    interfaces.EntitlementRepository
	portfolio   interfaces.PortfolioRepository
	ops         interfaces.OperationRepository
	notifier    interfaces.Notifier
	logger      zerolog.Logger
}

func New(
	snapshots snapshotsvc.ISnapshotService,
	ledger interfaces.LedgerClient,
	grants interfaces.GrantsClient,
	identity interfaces.IdentityRepository,
	instruments interfaces.InstrumentRepository,
	orgs interfaces.OrganizationRepository,
	assets interfaces.AssetRepository,
	entitles interfaces.EntitlementRepository,
	portfolio interfaces.PortfolioRepository,
	ops interfaces.OperationRepository,
	notifier interfaces.Notifier,
	logger zerolog.Logger,
) IResetEngine {
	return &resetEngine{
		snapshots:   snapshots,
		ledger:      ledger,
		grants:      grants,
		identity:    identity,
		instruments: instruments,
		orgs:        orgs,
		assets:      assets,
		entitles:    entitles,
		portfolio:   portfolio,
		ops:         ops,
		notifier:    notifier,
		logger:      logger.With().Str("component", "reset_engine").Logger(),
	}
}

const resetSteps = 9

// ExecuteReset runs the wipe saga. The snapshot and the balance zeroing are
// fatal steps; every other step counts failures and continues, so one flaky
// store cannot leave the entity half-rich and half-wiped.
func (e *resetEngine) ExecuteReset(ctx context.Context, rec *domain.OperationRecord) (*domain.ResetResult, error) {
	target := rec.Target
	rec.StepCounts = make(map[string]domain.StepOutcome)
	logger := e.logger.With().Int64("operation_id", rec.ID).Str("target", target).Logger()

	step := 0
	progress := func(label string, err error) {
		step++
		msg := fmt.Sprintf("step %d/%d %s", step, resetSteps, label)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		if nerr := e.notifier.Notify(ctx, domain.Notification{
			Type:        domain.NotifyOperationState,
			EntityID:    target,
			OperationID: rec.ID,
			Message:     msg,
		}); nerr != nil {
			logger.Debug().Err(nerr).Str("step", label).Msg("Progress notification dropped")
		}
	}

	snap, err := e.snapshots.Capture(ctx, target, rec.ID)
	if err != nil {
		return nil, e.abort(ctx, rec, "snapshot", err)
	}
	rec.SnapshotID = snap.ID
	rec.PreviousBalance = snap.Balance
	progress("snapshot", nil)

	if _, err := e.ledger.SetBalance(ctx, target, domain.Balance{}, rec.Reason); err != nil {
		return nil, e.abort(ctx, rec, "zero_balance", err)
	}
	progress("zero_balance", nil)

	deactivated, err := e.instruments.DeactivateAll(ctx, target)
	e.count(rec, "instruments", deactivated, err, logger)
	progress("instruments", err)

	removed, err := e.assets.DeleteAll(ctx, target)
	e.count(rec, "assets", removed, err, logger)
	progress("assets", err)

	removed, err = e.entitles.DeleteAll(ctx, target)
	e.count(rec, "entitlements", removed, err, logger)
	progress("entitlements", err)

	removed, err = e.portfolio.DeleteAll(ctx, target)
	e.count(rec, "portfolio", removed, err, logger)
	progress("portfolio", err)

	removed, err = e.orgs.RemoveOwner(ctx, target)
	e.count(rec, "organizations", removed, err, logger)
	progress("organizations", err)

	e.revokeGrants(ctx, rec, snap.Grants, logger)
	progress("grants", nil)

	if err := e.identity.Delete(ctx, target); err != nil {
		e.count(rec, "document", 0, err, logger)
	} else {
		e.count(rec, "document", 1, nil, logger)
	}
	progress("document", nil)

	// Only a fatal abort leaves the record partially failed; counted skips are
	// itemized in StepCounts and the run still completes.
	rec.Status = domain.StatusCompleted
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if err := e.ops.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist reset outcome: %w", err)
	}

	logger.Info().
		Str("snapshot_id", snap.ID).
		Str("status", string(rec.Status)).
		Int("removed_grants", rec.RemovedGrants).
		Msg("Reset finished")

	return &domain.ResetResult{
		OperationID:   rec.ID,
		SnapshotID:    snap.ID,
		Evidence:      rec.Evidence,
		RemovedGrants: rec.RemovedGrants,
		StepCounts:    rec.StepCounts,
	}, nil
}

// revokeGrants strips everything the target holds except protected grants,
// then strips the listed license-like grants even when protected.
func (e *resetEngine) revokeGrants(ctx context.Context, rec *domain.OperationRecord, held []string, logger zerolog.Logger) {
	protected := make(map[string]bool, len(rec.ProtectedGrants))
	for _, g := range rec.ProtectedGrants {
		protected[g] = true
	}
	strip := make(map[string]bool, len(rec.StripGrants))
	for _, g := range rec.StripGrants {
		strip[g] = true
	}

	outcome := domain.StepOutcome{}
	for _, grant := range held {
		if protected[grant] && !strip[grant] {
			continue
		}
		if err := e.grants.Revoke(ctx, rec.Target, grant); err != nil {
			outcome.Failed++
			logger.Error().Err(err).Str("grant", grant).Msg("Grant revocation failed")
			continue
		}
		outcome.Succeeded++
	}
	rec.RemovedGrants = outcome.Succeeded
	rec.StepCounts["grants"] = outcome
}

func (e *resetEngine) count(rec *domain.OperationRecord, step string, affected int64, err error, logger zerolog.Logger) {
	outcome := domain.StepOutcome{Succeeded: int(affected)}
	if err != nil {
		outcome.Failed++
		logger.Error().Err(err).Str("step", step).Msg("Reset step failed")
	}
	rec.StepCounts[step] = outcome
}

func (e *resetEngine) abort(ctx context.Context, rec *domain.OperationRecord, step string, cause error) error {
	rec.Status = domain.StatusPartiallyFailed
	rec.FailedStep = step
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if err := e.ops.Update(ctx, rec); err != nil {
		e.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Failed to persist aborted reset")
	}
	return fmt.Errorf("reset aborted at %s: %w", step, cause)
}

func (e *resetEngine) RevertReset(ctx context.Context, entityID, actor, reason string) (*domain.RestoreReport, error) {
	snap, err := e.snapshots.Latest(ctx, entityID)
	if err != nil {
		return nil, err
	}

	report, err := e.snapshots.Restore(ctx, snap, entityID, fmt.Sprintf("REVERT by %s: %s", actor, reason))
	if err != nil {
		return nil, err
	}

	if snap.OperationID != 0 {
		rec, err := e.ops.Get(ctx, snap.OperationID)
		if err == nil && (rec.Status == domain.StatusCompleted || rec.Status == domain.StatusPartiallyFailed) {
			if err := e.ops.UpdateStatus(ctx, rec.ID, domain.StatusReverted); err != nil {
				e.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Failed to mark operation reverted")
			}
		}
	}

	e.logger.Info().
		Str("entity_id", entityID).
		Str("snapshot_id", snap.ID).
		Str("actor", actor).
		Int("failed_collections", len(report.Failed())).
		Msg("Reset reverted")

	return report, nil
}

func (e *resetEngine) History(ctx context.Context, entityID string, limit int) ([]domain.OperationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.ops.ListByEntity(ctx, entityID, domain.OperationReset, limit)
}
