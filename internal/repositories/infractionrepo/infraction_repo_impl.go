package infractionrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type InfractionRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.InfractionRepository {
	return &InfractionRepository{db: db}
}

func (r *InfractionRepository) List(ctx context.Context, entityID string) ([]domain.Infraction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, kind, reason, issued_by, issued_at
		 FROM infractions WHERE entity_id = $1 ORDER BY issued_at DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query infractions: %v", err)
	}
	defer rows.Close()

	var infractions []domain.Infraction
	for rows.Next() {
		var in domain.Infraction
		if err := rows.Scan(&in.ID, &in.EntityID, &in.Kind, &in.Reason, &in.IssuedBy, &in.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan infraction: %v", err)
		}
		infractions = append(infractions, in)
	}
	return infractions, rows.Err()
}

func (r *InfractionRepository) RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE infractions SET entity_id = $2 WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint infractions: %v", err)
	}
	return res.RowsAffected()
}
