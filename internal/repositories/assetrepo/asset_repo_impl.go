package assetrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type AssetRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) List(ctx context.Context, entityID string) ([]domain.RegisteredAsset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, model, plate, registered_at
		 FROM registered_assets WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query registered assets: %v", err)
	}
	defer rows.Close()

	var assets []domain.RegisteredAsset
	for rows.Next() {
		var a domain.RegisteredAsset
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Model, &a.Plate, &a.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan registered asset: %v", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *AssetRepository) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM registered_assets WHERE entity_id = $1`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registered assets: %v", err)
	}
	return res.RowsAffected()
}

func (r *AssetRepository) Upsert(ctx context.Context, asset *domain.RegisteredAsset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO registered_assets (id, entity_id, model, plate, registered_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   entity_id = EXCLUDED.entity_id,
		   model = EXCLUDED.model,
		   plate = EXCLUDED.plate`,
		asset.ID, asset.EntityID, asset.Model, asset.Plate, asset.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert registered asset: %v", err)
	}
	return nil
}

func (r *AssetRepository) RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE registered_assets SET entity_id = $2 WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint registered assets: %v", err)
	}
	return res.RowsAffected()
}
