package transferengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

// ITransferEngine moves the full economic identity of one entity onto
// another. Monetary movement runs first and is fatal on failure; ownership
// repoints count failures and continue; membership removal runs last so a
// platform hiccup can never strand a half-moved entity.
type ITransferEngine interface {
	interfaces.TransferEngine
}

type transferEngine struct {
	ledger      interfaces.LedgerClient
	grants      interfaces.GrantsClient
	identity    interfaces.IdentityRepository
	instruments interfaces.InstrumentRepository
	orgs        interfaces.OrganizationRepository
	assets      interfaces.AssetRepository
	entitles    interfaces.EntitlementRepository
	portfolio   interfaces.PortfolioRepository
	infractions interfaces.InfractionRepository
	ops         interfaces.OperationRepository
	notifier    interfaces.Notifier
	logger      zerolog.Logger
}

func New(
	ledger interfaces.LedgerClient,
	grants interfaces.GrantsClient,
	identity interfaces.IdentityRepository,
	instruments interfaces.InstrumentRepository,
	orgs interfaces.OrganizationRepository,
	assets interfaces.AssetRepository,
	entitles interfaces.EntitlementRepository,
	portfolio interfaces.PortfolioRepository,
	infractions interfaces.InfractionRepository,
	ops interfaces.OperationRepository,
	notifier interfaces.Notifier,
	logger zerolog.Logger,
) ITransferEngine {
	return &transferEngine{
		ledger:      ledger,
		grants:      grants,
		identity:    identity,
		instruments: instruments,
		orgs:        orgs,
		assets:      assets,
		entitles:    entitles,
		portfolio:   portfolio,
		infractions: infractions,
		ops:         ops,
		notifier:    notifier,
		logger:      logger.With().Str("component", "transfer_engine").Logger(),
	}
}

const transferSteps = 10

func (e *transferEngine) ExecuteTransfer(ctx context.Context, rec *domain.OperationRecord) (*domain.TransferSummary, error) {
	source, dest := rec.Source, rec.Destination
	rec.StepCounts = make(map[string]domain.StepOutcome)
	logger := e.logger.With().
		Int64("operation_id", rec.ID).
		Str("source", source).
		Str("destination", dest).
		Logger()

	step := 0
	progress := func(label string, err error) {
		step++
		msg := fmt.Sprintf("step %d/%d %s", step, transferSteps, label)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		if nerr := e.notifier.Notify(ctx, domain.Notification{
			Type:        domain.NotifyOperationState,
			EntityID:    source,
			OperationID: rec.ID,
			Message:     msg,
		}); nerr != nil {
			logger.Debug().Err(nerr).Str("step", label).Msg("Progress notification dropped")
		}
	}

	// Step 1: money. Credit the destination first, then zero the source. If
	// zeroing fails after the credit landed, money exists twice; the record
	// pins that intermediate state for manual compensation.
	srcBalance, err := e.ledger.GetBalance(ctx, source)
	if err != nil {
		return nil, e.abort(ctx, rec, "read_source_balance", err)
	}
	rec.PreviousBalance = srcBalance
	moneyMoved := srcBalance.Total()

	if !srcBalance.IsZero() {
		destBalance, err := e.ledger.GetBalance(ctx, dest)
		if err != nil {
			return nil, e.abort(ctx, rec, "read_destination_balance", err)
		}

		merged := domain.Balance{
			Cash: destBalance.Cash + srcBalance.Cash,
			Bank: destBalance.Bank + srcBalance.Bank,
		}
		if _, err := e.ledger.SetBalance(ctx, dest, merged, rec.Reason); err != nil {
			return nil, e.abort(ctx, rec, "credit_destination", err)
		}
		if _, err := e.ledger.SetBalance(ctx, source, domain.Balance{}, rec.Reason); err != nil {
			return nil, e.abort(ctx, rec, "zero_source", err)
		}
	}
	progress("money", nil)

	// Steps 2-8: ownership repoints. Counted, never fatal.
	repointed, err := e.identity.RepointOwner(ctx, source, dest)
	e.count(rec, "document", repointed, err, logger)
	progress("document", err)

	repointed, err = e.instruments.RepointOwner(ctx, source, dest)
	e.count(rec, "instruments", repointed, err, logger)
	progress("instruments", err)

	repointed, err = e.orgs.ReplaceOwner(ctx, source, dest)
	e.count(rec, "organizations", repointed, err, logger)
	progress("organizations", err)

	repointed, err = e.assets.RepointOwner(ctx, source, dest)
	e.count(rec, "assets", repointed, err, logger)
	progress("assets", err)

	repointed, err = e.entitles.RepointOwner(ctx, source, dest)
	e.count(rec, "entitlements", repointed, err, logger)
	progress("entitlements", err)

	repointed, err = e.infractions.RepointOwner(ctx, source, dest)
	e.count(rec, "infractions", repointed, err, logger)
	progress("infractions", err)

	repointed, err = e.portfolio.RepointOwner(ctx, source, dest)
	e.count(rec, "portfolio", repointed, err, logger)
	progress("portfolio", err)

	// Step 9: migrate grants one by one, granting before revoking so a grant
	// can never be lost to a mid-pair failure.
	e.migrateGrants(ctx, rec, logger)
	progress("grants", nil)

	// Step 10: membership removal, last and best-effort. The transfer is
	// already complete when this runs.
	if err := e.grants.RemoveMembership(ctx, source, rec.Reason); err != nil {
		rec.MembershipRemovalFailed = true
		logger.Warn().Err(err).Msg("Membership removal failed, transfer otherwise complete")
	}
	progress("membership", nil)

	// Only the fatal monetary steps can leave the record partially failed;
	// counted repoint skips are itemized in StepCounts and the run completes.
	rec.Status = domain.StatusCompleted
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if err := e.ops.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist transfer outcome: %w", err)
	}

	logger.Info().
		Str("status", string(rec.Status)).
		Int64("money_moved", moneyMoved).
		Bool("membership_removal_failed", rec.MembershipRemovalFailed).
		Msg("Transfer finished")

	return &domain.TransferSummary{
		OperationID:             rec.ID,
		MoneyMoved:              moneyMoved,
		StepCounts:              rec.StepCounts,
		MembershipRemovalFailed: rec.MembershipRemovalFailed,
	}, nil
}

func (e *transferEngine) migrateGrants(ctx context.Context, rec *domain.OperationRecord, logger zerolog.Logger) {
	excluded := make(map[string]bool, len(rec.ExcludeGrants))
	for _, g := range rec.ExcludeGrants {
		excluded[g] = true
	}

	outcome := domain.StepOutcome{}
	held, err := e.grants.ListGrants(ctx, rec.Source)
	if err != nil {
		outcome.Failed++
		rec.StepCounts["grants"] = outcome
		logger.Error().Err(err).Msg("Grant listing failed, grants not migrated")
		return
	}

	for _, grant := range held {
		if excluded[grant] {
			continue
		}
		if err := e.grants.Grant(ctx, rec.Destination, grant); err != nil {
			outcome.Failed++
			logger.Error().Err(err).Str("grant", grant).Msg("Grant migration failed")
			continue
		}
		if err := e.grants.Revoke(ctx, rec.Source, grant); err != nil {
			// The destination already holds the grant; only the source-side
			// cleanup is missing.
			outcome.Failed++
			logger.Error().Err(err).Str("grant", grant).Msg("Source-side grant revocation failed")
			continue
		}
		outcome.Succeeded++
	}
	rec.RemovedGrants = outcome.Succeeded
	rec.StepCounts["grants"] = outcome
}

func (e *transferEngine) count(rec *domain.OperationRecord, step string, affected int64, err error, logger zerolog.Logger) {
	outcome := domain.StepOutcome{Succeeded: int(affected)}
	if err != nil {
		outcome.Failed++
		logger.Error().Err(err).Str("step", step).Msg("Transfer step failed")
	}
	rec.StepCounts[step] = outcome
}

func (e *transferEngine) abort(ctx context.Context, rec *domain.OperationRecord, step string, cause error) error {
	rec.Status = domain.StatusPartiallyFailed
	rec.FailedStep = step
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if err := e.ops.Update(ctx, rec); err != nil {
		e.logger.Error().Err(err).Int64("operation_id", rec.ID).Msg("Failed to persist aborted transfer")
	}
	return fmt.Errorf("transfer aborted at %s: %w", step, cause)
}
