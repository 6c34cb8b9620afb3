package instrumentrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

type InstrumentRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.InstrumentRepository {
	return &InstrumentRepository{db: db}
}

func (r *InstrumentRepository) ListActive(ctx context.Context, entityID string) ([]domain.PaymentInstrument, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, kind, tier, active, issued_at
		 FROM payment_instruments WHERE entity_id = $1 AND active = true`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment instruments: %v", err)
	}
	defer rows.Close()

	var instruments []domain.PaymentInstrument
	for rows.Next() {
		var in domain.PaymentInstrument
		if err := rows.Scan(&in.ID, &in.EntityID, &in.Kind, &in.Tier, &in.Active, &in.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment instrument: %v", err)
		}
		instruments = append(instruments, in)
	}
	return instruments, rows.Err()
}

func (r *InstrumentRepository) DeactivateAll(ctx context.Context, entityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_instruments SET active = false WHERE entity_id = $1 AND active = true`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate payment instruments: %v", err)
	}
	return res.RowsAffected()
}

func (r *InstrumentRepository) Reactivate(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_instruments SET active = true WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to reactivate payment instruments: %v", err)
	}
	return res.RowsAffected()
}

func (r *InstrumentRepository) Upsert(ctx context.Context, instrument *domain.PaymentInstrument) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_instruments (id, entity_id, kind, tier, active, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   entity_id = EXCLUDED.entity_id,
		   kind = EXCLUDED.kind,
		   tier = EXCLUDED.tier,
		   active = EXCLUDED.active`,
		instrument.ID, instrument.EntityID, instrument.Kind, instrument.Tier, instrument.Active, instrument.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert payment instrument: %v", err)
	}
	return nil
}

func (r *InstrumentRepository) RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_instruments SET entity_id = $2 WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint payment instruments: %v", err)
	}
	return res.RowsAffected()
}
