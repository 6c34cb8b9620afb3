package opsrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type OperationRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.OperationRepository {
	return &OperationRepository{db: db}
}

const opColumns = `id, kind, initiator, target, source, destination, reason, evidence,
	protected_grants, strip_grants, exclude_grants, status, approved_by, snapshot_id,
	prev_cash, prev_bank, removed_grants, failed_step, step_counts,
	membership_removal_failed, created_at, updated_at, completed_at`

func (r *OperationRepository) Insert(ctx context.Context, rec *domain.OperationRecord) (int64, error) {
	stepCounts, err := json.Marshal(rec.StepCounts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal step counts: %v", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO operation_records
		   (kind, initiator, target, source, destination, reason, evidence,
		    protected_grants, strip_grants, exclude_grants, status, approved_by, snapshot_id,
		    prev_cash, prev_bank, removed_grants, failed_step, step_counts,
		    membership_removal_failed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now(), now())
		 RETURNING id`,
		rec.Kind, rec.Initiator, rec.Target, rec.Source, rec.Destination, rec.Reason, rec.Evidence,
		pq.Array(rec.ProtectedGrants), pq.Array(rec.StripGrants), pq.Array(rec.ExcludeGrants),
		rec.Status, rec.ApprovedBy, rec.SnapshotID,
		rec.PreviousBalance.Cash, rec.PreviousBalance.Bank, rec.RemovedGrants, rec.FailedStep,
		stepCounts, rec.MembershipRemovalFailed).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation record: %v", err)
	}

	rec.ID = id
	return id, nil
}

func (r *OperationRepository) Get(ctx context.Context, id int64) (*domain.OperationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM operation_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (r *OperationRepository) Update(ctx context.Context, rec *domain.OperationRecord) error {
	stepCounts, err := json.Marshal(rec.StepCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal step counts: %v", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE operation_records SET
		   status = $2, approved_by = $3, snapshot_id = $4, prev_cash = $5, prev_bank = $6,
		   removed_grants = $7, failed_step = $8, step_counts = $9,
		   membership_removal_failed = $10, completed_at = $11, updated_at = now()
		 WHERE id = $1`,
		rec.ID, rec.Status, rec.ApprovedBy, rec.SnapshotID,
		rec.PreviousBalance.Cash, rec.PreviousBalance.Bank,
		rec.RemovedGrants, rec.FailedStep, stepCounts,
		rec.MembershipRemovalFailed, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update operation record: %v", err)
	}
	return nil
}

func (r *OperationRepository) UpdateStatus(ctx context.Context, id int64, status domain.OperationStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE operation_records SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update operation status: %v", err)
	}
	return nil
}

func (r *OperationRepository) ListByEntity(ctx context.Context, entityID string, kind domain.OperationKind, limit int) ([]domain.OperationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM operation_records
		 WHERE kind = $2 AND (target = $1 OR source = $1 OR destination = $1)
		 ORDER BY created_at DESC LIMIT $3`, entityID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation records: %v", err)
	}
	defer rows.Close()

	var records []domain.OperationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.OperationRecord, error) {
	var rec domain.OperationRecord
	var stepCounts []byte
	var completedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.Kind, &rec.Initiator, &rec.Target, &rec.Source, &rec.Destination,
		&rec.Reason, &rec.Evidence,
		pq.Array(&rec.ProtectedGrants), pq.Array(&rec.StripGrants), pq.Array(&rec.ExcludeGrants),
		&rec.Status, &rec.ApprovedBy, &rec.SnapshotID,
		&rec.PreviousBalance.Cash, &rec.PreviousBalance.Bank, &rec.RemovedGrants,
		&rec.FailedStep, &stepCounts, &rec.MembershipRemovalFailed,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation record: %v", err)
	}

	if len(stepCounts) > 0 {
		if err := json.Unmarshal(stepCounts, &rec.StepCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step counts: %v", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
