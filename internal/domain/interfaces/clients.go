package interfaces

import (
	"context"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
)

// LedgerClient wraps the external wallet HTTP API. All writes carry a
// human-readable reason that the wallet persists and that this service
// mirrors into the audit ledger.
type LedgerClient interface {
	GetBalance(ctx context.Context, entityID string) (domain.Balance, error)

	// Credit adds amount to the targeted sub-account.
	Credit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error)

	// Debit removes amount from the targeted sub-account. Fails with
	// ErrInsufficientFunds when a fresh read shows less than amount.
	Debit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error)

	SetBalance(ctx context.Context, entityID string, balance domain.Balance, reason string) (domain.Balance, error)
}

// BalanceAdjuster is the unmirrored write path used by compensating
// rollbacks, which record their own audit entries.
type BalanceAdjuster interface {
	AdjustBalance(ctx context.Context, entityID string, account domain.Account, delta int64, reason string) (domain.Balance, error)
}

// GrantsClient manages the capability-grant set the hosting platform holds
// for each entity.
type GrantsClient interface {
	ListGrants(ctx context.Context, entityID string) ([]string, error)
	Grant(ctx context.Context, entityID, grantID string) error
	Revoke(ctx context.Context, entityID, grantID string) error

	// RemoveMembership removes the entity from the platform entirely.
	// Irreversible at the platform level.
	RemoveMembership(ctx context.Context, entityID, reason string) error
}

// Notifier is the asynchronous notification sink. Implementations must not
// block operation flow; callers ignore delivery errors beyond logging.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// AuditRecorder is the narrow slice of the audit ledger the ledger client
// needs to mirror its writes.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) (int64, error)
}

// ApproverDirectory resolves the pool of superior actors eligible to approve
// a self-targeted sensitive action. Supplied by the host; the protocol never
// enumerates staff itself.
type ApproverDirectory interface {
	ApproversFor(ctx context.Context, initiator string) ([]string, error)
}

// ResetEngine and TransferEngine are the executing halves the confirmation
// protocol hands over to once an operation is cleared to run.
type ResetEngine interface {
	ExecuteReset(ctx context.Context, rec *domain.OperationRecord) (*domain.ResetResult, error)
}

type TransferEngine interface {
	ExecuteTransfer(ctx context.Context, rec *domain.OperationRecord) (*domain.TransferSummary, error)
}
