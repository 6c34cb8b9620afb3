package domain

import "errors"

var (
	// ErrInsufficientFunds is returned when a debit would push the targeted
	// sub-account below zero. Never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRateLimited is surfaced after the ledger client has exhausted its
	// backoff attempts against the wallet API.
	ErrRateLimited = errors.New("ledger rate limited")

	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotRollbackable    = errors.New("audit entry is not eligible for rollback")
	ErrAlreadyRolledBack  = errors.New("audit entry already rolled back")
	ErrAuditEntryNotFound = errors.New("audit entry not found")

	ErrNoSnapshotFound = errors.New("no snapshot found")

	// ErrSelfTargetRequiresApproval is a redirection, not a failure: the
	// operation is parked until a distinct approver acts on it.
	ErrSelfTargetRequiresApproval = errors.New("self-targeted action requires approval from a superior")

	ErrChallengeFailed  = errors.New("challenge answer incorrect")
	ErrChallengeTimeout = errors.New("challenge timed out")

	ErrOperationInProgress = errors.New("entity already has an executing operation")
	ErrInvalidTransition   = errors.New("invalid operation state transition")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrNotInitiator        = errors.New("actor is not the operation initiator")
	ErrSelfApproval        = errors.New("initiator cannot approve their own operation")
	ErrNotEligibleApprover = errors.New("actor is not an eligible approver")
	ErrProtectedTarget     = errors.New("target entity is protected")
	ErrNonPlayerActor      = errors.New("non-player actors cannot be migrated")
	ErrSameEntity          = errors.New("source and destination must differ")
)
