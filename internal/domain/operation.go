package domain

import "time"

type OperationKind string

const (
	OperationReset    OperationKind = "reset"
	OperationTransfer OperationKind = "transfer"
)

type OperationStatus string

const (
	StatusProposed         OperationStatus = "proposed"
	StatusConfirmed        OperationStatus = "confirmed"
	StatusChallengePending OperationStatus = "challenge_pending"
	StatusExecuting        OperationStatus = "executing"
	StatusCompleted        OperationStatus = "completed"
	StatusPartiallyFailed  OperationStatus = "partially_failed"
	StatusCancelled        OperationStatus = "cancelled"
	StatusReverted         OperationStatus = "reverted"
)

// StepOutcome aggregates per-row results of one non-fatal saga step.
type StepOutcome struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// OperationRecord tracks one reset or transfer attempt end to end. It is the
// durable saga log: created at proposal, advanced by the confirmation
// protocol, finished by the executing engine. A completed reset can
// transition once more, to reverted.
type OperationRecord struct {
	ID        int64         `json:"id" db:"id"`
	Kind      OperationKind `json:"kind" db:"kind"`
	Initiator string        `json:"initiator" db:"initiator"`

	// Target is set for resets; Source/Destination for transfers.
	Target      string `json:"target,omitempty" db:"target"`
	Source      string `json:"source,omitempty" db:"source"`
	Destination string `json:"destination,omitempty" db:"destination"`

	Reason   string `json:"reason" db:"reason"`
	Evidence string `json:"evidence,omitempty" db:"evidence"`

	// Reset policy: grants that must survive, and grants stripped even if
	// protected (license-like grants).
	ProtectedGrants []string `json:"protected_grants,omitempty"`
	StripGrants     []string `json:"strip_grants,omitempty"`

	// Transfer policy: grants excluded from migration. Empty by default,
	// which migrates everything the source holds, staff grants included.
	ExcludeGrants []string `json:"exclude_grants,omitempty"`

	Status     OperationStatus `json:"status" db:"status"`
	ApprovedBy string          `json:"approved_by,omitempty" db:"approved_by"`

	SnapshotID      string  `json:"snapshot_id,omitempty" db:"snapshot_id"`
	PreviousBalance Balance `json:"previous_balance"`
	RemovedGrants   int     `json:"removed_grants" db:"removed_grants"`

	// FailedStep names the fatal step that aborted execution, if any.
	FailedStep              string                 `json:"failed_step,omitempty" db:"failed_step"`
	StepCounts              map[string]StepOutcome `json:"step_counts,omitempty"`
	MembershipRemovalFailed bool                   `json:"membership_removal_failed" db:"membership_removal_failed"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

func (r *OperationRecord) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusPartiallyFailed, StatusCancelled, StatusReverted:
		return true
	}
	return false
}

// Subject is the entity whose state the operation consumes: the reset target
// or the transfer source.
func (r *OperationRecord) Subject() string {
	if r.Kind == OperationReset {
		return r.Target
	}
	return r.Source
}

// ProposalSummary is what the initiator sees before confirming.
type ProposalSummary struct {
	OperationID   int64   `json:"operation_id"`
	Kind          string  `json:"kind"`
	Balance       Balance `json:"balance"`
	GrantCount    int     `json:"grant_count"`
	OrgCount      int     `json:"org_count"`
	RequiresDual  bool    `json:"requires_dual_control"`
	TimeoutSecond int     `json:"timeout_seconds"`
}

// ResetResult is the success payload of a reset; the snapshot id is the sole
// future handle for revert.
type ResetResult struct {
	OperationID   int64                  `json:"operation_id"`
	SnapshotID    string                 `json:"snapshot_id"`
	Evidence      string                 `json:"evidence,omitempty"`
	RemovedGrants int                    `json:"removed_grants"`
	StepCounts    map[string]StepOutcome `json:"step_counts"`
}

type TransferSummary struct {
	OperationID             int64                  `json:"operation_id"`
	MoneyMoved              int64                  `json:"money_moved"`
	StepCounts              map[string]StepOutcome `json:"step_counts"`
	MembershipRemovalFailed bool                   `json:"membership_removal_failed"`
}
