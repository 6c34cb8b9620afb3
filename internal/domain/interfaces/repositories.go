package interfaces

import (
	"context"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
)

type IdentityRepository interface {
	Get(ctx context.Context, entityID string) (*domain.IdentityDocument, error)
	Upsert(ctx context.Context, doc *domain.IdentityDocument) error
	Delete(ctx context.Context, entityID string) error
	RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)
}

type InstrumentRepository interface {
	ListActive(ctx context.Context, entityID string) ([]domain.PaymentInstrument, error)
	DeactivateAll(ctx context.Context, entityID string) (int64, error)
	Reactivate(ctx context.Context, ids []string) (int64, error)
	Upsert(ctx context.Context, instrument *domain.PaymentInstrument) error
	RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)
}

type OrganizationRepository interface {
	ListOwned(ctx context.Context, entityID string) ([]domain.Organization, error)

	// RemoveOwner drops the entity from every owner set it belongs to,
	// expropriating organizations left with no owner, and removes the
	// entity's employments.
	RemoveOwner(ctx context.Context, entityID string) (int64, error)

	// ReplaceOwner swaps fromEntityID for toEntityID in each owner set,
	// merging rather than duplicating when both are already members.
	ReplaceOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)

	AddOwner(ctx context.Context, orgID, entityID string) error
}

type AssetRepository interface {
	List(ctx context.Context, entityID string) ([]domain.RegisteredAsset, error)
	DeleteAll(ctx context.Context, entityID string) (int64, error)
	Upsert(ctx context.Context, asset *domain.RegisteredAsset) error
	RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)
}

type EntitlementRepository interface {
	List(ctx context.Context, entityID string) ([]domain.Entitlement, error)
	DeleteAll(ctx context.Context, entityID string) (int64, error)
	Upsert(ctx context.Context, entitlement *domain.Entitlement) error
	RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)
}

// PortfolioRepository covers the per-product ownership tables: savings
// accounts, loans and casino chips.
type PortfolioRepository interface {
	ListSavings(ctx context.Context, entityID string) ([]domain.SavingsAccount, error)
	ListLoans(ctx context.Context, entityID string) ([]domain.Loan, error)
	ListChips(ctx context.Context, entityID string) ([]domain.ChipBalance, error)
	DeleteAll(ctx context.Context, entityID string) (int64, error)
	UpsertSavings(ctx context.Context, account *domain.SavingsAccount) error
	UpsertLoan(ctx context.Context, loan *domain.Loan) error
	UpsertChips(ctx context.Context, chips *domain.ChipBalance) error
	RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)
}

type InfractionRepository interface {
	List(ctx context.Context, entityID string) ([]domain.Infraction, error)
	RepointOwner(ctx context.Context, fromEntityID, toEntityID string) (int64, error)
}

type AuditRepository interface {
	Insert(ctx context.Context, entry *domain.AuditEntry) (int64, error)
	Get(ctx context.Context, id int64) (*domain.AuditEntry, error)
	MarkRolledBack(ctx context.Context, id int64) error
	UnmarkRolledBack(ctx context.Context, id int64) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.AuditEntry, error)
	ListFlagged(ctx context.Context, threshold int64, limit int) ([]domain.AuditEntry, error)
}

type OperationRepository interface {
	Insert(ctx context.Context, rec *domain.OperationRecord) (int64, error)
	Get(ctx context.Context, id int64) (*domain.OperationRecord, error)
	Update(ctx context.Context, rec *domain.OperationRecord) error
	UpdateStatus(ctx context.Context, id int64, status domain.OperationStatus) error
	ListByEntity(ctx context.Context, entityID string, kind domain.OperationKind, limit int) ([]domain.OperationRecord, error)
}

type SnapshotRepository interface {
	Insert(ctx context.Context, snap *domain.Snapshot) error
	Get(ctx context.Context, id string) (*domain.Snapshot, error)

	// LatestByEntity returns the most recent, non-superseded snapshot or
	// ErrNoSnapshotFound.
	LatestByEntity(ctx context.Context, entityID string) (*domain.Snapshot, error)
}
