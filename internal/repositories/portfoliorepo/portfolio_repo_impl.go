package portfoliorepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
)

// PortfolioRepository spans the per-product ownership tables: savings
// accounts, loans and casino chips. They always move together during a
// migration, so they share one repository.
type PortfolioRepository struct {
	db *sql.DB
}

func New(db *sql.DB) interfaces.PortfolioRepository {
	return &PortfolioRepository{db: db}
}

func (r *PortfolioRepository) ListSavings(ctx context.Context, entityID string) ([]domain.SavingsAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, balance, opened_at FROM savings_accounts WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query savings accounts: %v", err)
	}
	defer rows.Close()

	var accounts []domain.SavingsAccount
	for rows.Next() {
		var a domain.SavingsAccount
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Balance, &a.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan savings account: %v", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *PortfolioRepository) ListLoans(ctx context.Context, entityID string) ([]domain.Loan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, principal, outstanding, issued_at FROM loans WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %v", err)
	}
	defer rows.Close()

	var loans []domain.Loan
	for rows.Next() {
		var l domain.Loan
		if err := rows.Scan(&l.ID, &l.EntityID, &l.Principal, &l.Outstanding, &l.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %v", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (r *PortfolioRepository) ListChips(ctx context.Context, entityID string) ([]domain.ChipBalance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, chips, updated_at FROM casino_chips WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query casino chips: %v", err)
	}
	defer rows.Close()

	var chips []domain.ChipBalance
	for rows.Next() {
		var c domain.ChipBalance
		if err := rows.Scan(&c.ID, &c.EntityID, &c.Chips, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan casino chips: %v", err)
		}
		chips = append(chips, c)
	}
	return chips, rows.Err()
}

func (r *PortfolioRepository) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	var total int64
	for _, table := range []string{"savings_accounts", "loans", "casino_chips"} {
		res, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE entity_id = $1`, table), entityID)
		if err != nil {
			return total, fmt.Errorf("failed to delete from %s: %v", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *PortfolioRepository) UpsertSavings(ctx context.Context, account *domain.SavingsAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO savings_accounts (id, entity_id, balance, opened_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET entity_id = EXCLUDED.entity_id, balance = EXCLUDED.balance`,
		account.ID, account.EntityID, account.Balance, account.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert savings account: %v", err)
	}
	return nil
}

func (r *PortfolioRepository) UpsertLoan(ctx context.Context, loan *domain.Loan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loans (id, entity_id, principal, outstanding, issued_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET entity_id = EXCLUDED.entity_id, outstanding = EXCLUDED.outstanding`,
		loan.ID, loan.EntityID, loan.Principal, loan.Outstanding, loan.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert loan: %v", err)
	}
	return nil
}

func (r *PortfolioRepository) UpsertChips(ctx context.Context, chips *domain.ChipBalance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO casino_chips (id, entity_id, chips, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET entity_id = EXCLUDED.entity_id, chips = EXCLUDED.chips`,
		chips.ID, chips.EntityID, chips.Chips, chips.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert casino chips: %v", err)
	}
	return nil
}

func (r *PortfolioRepository) RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error) {
	var total int64
	for _, table := range []string{"savings_accounts", "loans", "casino_chips"} {
		res, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET entity_id = $2 WHERE entity_id = $1`, table), fromEntityID, toEntityID)
		if err != nil {
			return total, fmt.Errorf("failed to repoint %s: %v", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
