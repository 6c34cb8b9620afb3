package auditrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type AuditRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, entity_id, kind, amount, currency, reason, metadata, actor,
	balance_after_cash, balance_after_bank, can_rollback, rolled_back, original_entry, created_at`

func (r *AuditRepository) Insert(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audit metadata: %v", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO audit_entries
		   (entity_id, kind, amount, currency, reason, metadata, actor,
		    balance_after_cash, balance_after_bank, can_rollback, rolled_back, original_entry, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, now())
		 RETURNING id`,
		entry.EntityID, entry.Kind, entry.Amount, entry.Currency, entry.Reason, metadata,
		entry.Actor, entry.BalanceAfter.Cash, entry.BalanceAfter.Bank, entry.CanRollback,
		nullableID(entry.OriginalEntry)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit entry: %v", err)
	}
	return id, nil
}

func (r *AuditRepository) Get(ctx context.Context, id int64) (*domain.AuditEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE id = $1`, id)
	return scanEntry(row)
}

// MarkRolledBack is monotonic: the guard refuses a second rollback at the
// store level even if two admins race.
func (r *AuditRepository) MarkRolledBack(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE audit_entries SET rolled_back = true WHERE id = $1 AND rolled_back = false`, id)
	if err != nil {
		return fmt.Errorf("failed to mark audit entry rolled back: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAlreadyRolledBack
	}
	return nil
}

// UnmarkRolledBack releases a claim taken by MarkRolledBack when the
// compensating balance write could not be applied.
func (r *AuditRepository) UnmarkRolledBack(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_entries SET rolled_back = false WHERE id = $1 AND rolled_back = true`, id)
	if err != nil {
		return fmt.Errorf("failed to unmark audit entry rolled back: %v", err)
	}
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries
		 WHERE entity_id = $1 ORDER BY created_at DESC LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %v", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *AuditRepository) ListFlagged(ctx context.Context, threshold int64, limit int) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries
		 WHERE abs(amount) > $1 ORDER BY created_at DESC LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged audit entries: %v", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var metadata []byte
	var original sql.NullInt64

	err := row.Scan(&entry.ID, &entry.EntityID, &entry.Kind, &entry.Amount, &entry.Currency,
		&entry.Reason, &metadata, &entry.Actor, &entry.BalanceAfter.Cash, &entry.BalanceAfter.Bank,
		&entry.CanRollback, &entry.RolledBack, &original, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAuditEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %v", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit metadata: %v", err)
		}
	}
	if original.Valid {
		entry.OriginalEntry = original.Int64
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func nullableID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
