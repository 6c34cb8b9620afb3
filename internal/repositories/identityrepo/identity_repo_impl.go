package identityrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type IdentityRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Get(ctx context.Context, entityID string) (*domain.IdentityDocument, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, entity_id, document_number, full_name, nationality, issued_at
		 FROM identity_documents WHERE entity_id = $1`, entityID)

	var doc domain.IdentityDocument
	err := row.Scan(&doc.ID, &doc.EntityID, &doc.DocumentNumber, &doc.FullName, &doc.Nationality, &doc.IssuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity document: %v", err)
	}
	return &doc, nil
}

func (r *IdentityRepository) Upsert(ctx context.Context, doc *domain.IdentityDocument) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identity_documents (id, entity_id, document_number, full_name, nationality, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (entity_id) DO UPDATE SET
		   document_number = EXCLUDED.document_number,
		   full_name = EXCLUDED.full_name,
		   nationality = EXCLUDED.nationality,
		   issued_at = EXCLUDED.issued_at`,
		doc.ID, doc.EntityID, doc.DocumentNumber, doc.FullName, doc.Nationality, doc.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert identity document: %v", err)
	}
	return nil
}

func (r *IdentityRepository) Delete(ctx context.Context, entityID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM identity_documents WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete identity document: %v", err)
	}
	return nil
}

func (r *IdentityRepository) RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identity_documents SET entity_id = $2 WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint identity document: %v", err)
	}
	return res.RowsAffected()
}
