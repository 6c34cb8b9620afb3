package entitlementrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type EntitlementRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.EntitlementRepository {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) List(ctx context.Context, entityID string) ([]domain.Entitlement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, item_id, item_name, purchased_at
		 FROM entitlements WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlements: %v", err)
	}
	defer rows.Close()

	var entitlements []domain.Entitlement
	for rows.Next() {
		var e domain.Entitlement
		if err := rows.Scan(&e.ID, &e.EntityID, &e.ItemID, &e.ItemName, &e.PurchasedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %v", err)
		}
		entitlements = append(entitlements, e)
	}
	return entitlements, rows.Err()
}

func (r *EntitlementRepository) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entitlements WHERE entity_id = $1`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entitlements: %v", err)
	}
	return res.RowsAffected()
}

func (r *EntitlementRepository) Upsert(ctx context.Context, entitlement *domain.Entitlement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entitlements (id, entity_id, item_id, item_name, purchased_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   entity_id = EXCLUDED.entity_id,
		   item_id = EXCLUDED.item_id,
		   item_name = EXCLUDED.item_name`,
		entitlement.ID, entitlement.EntityID, entitlement.ItemID, entitlement.ItemName, entitlement.PurchasedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert entitlement: %v", err)
	}
	return nil
}

func (r *EntitlementRepository) RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entitlements SET entity_id = $2 WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint entitlements: %v", err)
	}
	return res.RowsAffected()
}
