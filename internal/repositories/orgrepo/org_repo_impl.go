package orgrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type OrganizationRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) ListOwned(ctx context.Context, entityID string) ([]domain.Organization, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, owner_ids, status FROM organizations WHERE $1 = ANY(owner_ids)`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %v", err)
	}
	defer rows.Close()

	var orgs []domain.Organization
	for rows.Next() {
		var org domain.Organization
		if err := rows.Scan(&org.ID, &org.Name, pq.Array(&org.OwnerIDs), &org.Status); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %v", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (r *OrganizationRepository) RemoveOwner(ctx context.Context, entityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET owner_ids = array_remove(owner_ids, $1) WHERE $1 = ANY(owner_ids)`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove organization owner: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	// Organizations left ownerless are expropriated, matching the manual
	// staff process this replaced.
	if _, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET status = 'expropriated' WHERE owner_ids = '{}'`); err != nil {
		return affected, fmt.Errorf("failed to expropriate ownerless organizations: %v", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM organization_employees WHERE entity_id = $1`, entityID); err != nil {
		return affected, fmt.Errorf("failed to remove organization employments: %v", err)
	}

	return affected, nil
}

func (r *OrganizationRepository) ReplaceOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	// Merge, not duplicate: when the destination already co-owns, the source
	// is simply dropped from the set.
	res, err := r.db.ExecContext(ctx,
		`UPDATE organizations
		 SET owner_ids = CASE
		   WHEN $2 = ANY(owner_ids) THEN array_remove(owner_ids, $1)
		   ELSE array_replace(owner_ids, $1, $2)
		 END
		 WHERE $1 = ANY(owner_ids)`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to replace organization owner: %v", err)
	}
	return res.RowsAffected()
}

func (r *OrganizationRepository) AddOwner(ctx context.Context, orgID, entityID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE organizations
		 SET owner_ids = array_append(owner_ids, $2),
		     status = CASE WHEN status = 'expropriated' THEN 'active' ELSE status END
		 WHERE id = $1 AND NOT $2 = ANY(owner_ids)`, orgID, entityID)
	if err != nil {
		return fmt.Errorf("failed to add organization owner: %v", err)
	}
	return nil
}
