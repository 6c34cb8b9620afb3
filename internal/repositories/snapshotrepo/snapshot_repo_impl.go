package snapshotrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

// SnapshotRepository persists whole snapshots as one JSONB payload per row.
// Snapshots are immutable: insert-only, read-only thereafter.
type SnapshotRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Insert(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %v", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, entity_id, operation_id, version, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.EntityID, snap.OperationID, snap.Version, payload, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %v", err)
	}
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE id = $1`, id)
	return scanSnapshot(row)
}

func (r *SnapshotRepository) LatestByEntity(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE entity_id = $1
		 ORDER BY created_at DESC LIMIT 1`, entityID)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*domain.Snapshot, error) {
	var payload []byte
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoSnapshotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %v", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %v", err)
	}
	if snap.Version != domain.SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}
