package auditledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
)

type IAuditLedger interface {
	// Record persists one balance-affecting change and, above the alert
	// threshold, pushes a fire-and-forget notification.
	Record(ctx context.Context, entry domain.AuditEntry) (int64, error)

	// Rollback applies the exact negation of an eligible entry and appends a
	// rollback_<kind> entry referencing it. Rollbacks of rollbacks are not
	// supported.
	Rollback(ctx context.Context, entryID int64, actor, reason string) error

	History(ctx context.Context, entityID string, limit int) ([]domain.AuditEntry, error)
	Flagged(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type auditLedger struct {
	repo     interfaces.AuditRepository
	adjuster interfaces.BalanceAdjuster
	notifier interfaces.Notifier
	cfg      config.AuditConfig
	logger   zerolog.Logger
}

func New(
	repo interfaces.AuditRepository,
	adjuster interfaces.BalanceAdjuster,
	notifier interfaces.Notifier,
	cfg config.AuditConfig,
	logger zerolog.Logger,
) IAuditLedger {
	return &auditLedger{
		repo:     repo,
		adjuster: adjuster,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "audit_ledger").Logger(),
	}
}

func (s *auditLedger) Record(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	id, err := s.repo.Insert(ctx, &entry)
	if err != nil {
		return 0, fmt.Errorf("failed to record audit entry: %w", err)
	}

	if abs(entry.Amount) > s.cfg.AlertThreshold {
		// Alerting failure must not fail the recording call.
		go func(entry domain.AuditEntry, id int64) {
			err := s.notifier.Notify(context.Background(), domain.Notification{
				Type:     domain.NotifyHighValueAudit,
				EntityID: entry.EntityID,
				AuditID:  id,
				Message: fmt.Sprintf("high-value %s of %d for %s: %s",
					entry.Kind, entry.Amount, entry.EntityID, entry.Reason),
			})
			if err != nil {
				s.logger.Error().Err(err).Int64("audit_id", id).Msg("Failed to send high-value alert")
			}
		}(entry, id)
	}

	return id, nil
}

func (s *auditLedger) Rollback(ctx context.Context, entryID int64, actor, reason string) error {
	original, err := s.repo.Get(ctx, entryID)
	if err != nil {
		return err
	}

	if !original.CanRollback {
		return domain.ErrNotRollbackable
	}
	if original.RolledBack {
		return domain.ErrAlreadyRolledBack
	}

	account := domain.AccountCash
	if original.Currency == string(domain.AccountBank) {
		account = domain.AccountBank
	}

	// Claim the entry before touching money. The guarded UPDATE is the only
	// arbiter between racing rollbacks; whoever loses it never adjusts.
	if err := s.repo.MarkRolledBack(ctx, entryID); err != nil {
		return err
	}

	// Exact negation of the original amount, applied through the unmirrored
	// write path so this method's own entry is the only one recorded.
	after, err := s.adjuster.AdjustBalance(ctx, original.EntityID, account, -original.Amount,
		fmt.Sprintf("ROLLBACK: %s", reason))
	if err != nil {
		if uerr := s.repo.UnmarkRolledBack(ctx, entryID); uerr != nil {
			s.logger.Error().Err(uerr).Int64("entry_id", entryID).
				Msg("Failed to release rollback claim after balance reversal error")
		}
		return fmt.Errorf("failed to reverse balance for entry %d: %w", entryID, err)
	}

	_, err = s.repo.Insert(ctx, &domain.AuditEntry{
		EntityID:      original.EntityID,
		Kind:          "rollback_" + original.Kind,
		Amount:        -original.Amount,
		Currency:      original.Currency,
		Reason:        fmt.Sprintf("ROLLBACK: %s", reason),
		Metadata:      map[string]string{"rollback_reason": reason},
		Actor:         actor,
		BalanceAfter:  after,
		CanRollback:   false,
		OriginalEntry: original.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to record rollback entry: %w", err)
	}

	s.logger.Info().
		Int64("entry_id", entryID).
		Str("actor", actor).
		Int64("amount", -original.Amount).
		Msg("Audit entry rolled back")

	return nil
}

func (s *auditLedger) History(ctx context.Context, entityID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListByEntity(ctx, entityID, limit)
}

func (s *auditLedger) Flagged(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListFlagged(ctx, s.cfg.AlertThreshold, limit)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
