package domain

import "time"

// AuditEntry is one immutable row per balance-affecting change. RolledBack is
// monotonic: once true it never resets, and an entry with CanRollback=false
// can never be rolled back.
type AuditEntry struct {
	ID            int64             `json:"id" db:"id"`
	EntityID      string            `json:"entity_id" db:"entity_id"`
	Kind          string            `json:"kind" db:"kind"`
	Amount        int64             `json:"amount" db:"amount"`
	Currency      string            `json:"currency" db:"currency"`
	Reason        string            `json:"reason" db:"reason"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Actor         string            `json:"actor" db:"actor"`
	BalanceAfter  Balance           `json:"balance_after"`
	CanRollback   bool              `json:"can_rollback" db:"can_rollback"`
	RolledBack    bool              `json:"rolled_back" db:"rolled_back"`
	OriginalEntry int64             `json:"original_entry,omitempty" db:"original_entry"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// Notification is the fire-and-forget payload pushed to the notification
// sink. Delivery failure never affects operation state.
type Notification struct {
	Type        string `json:"type"`
	EntityID    string `json:"entity_id,omitempty"`
	OperationID int64  `json:"operation_id,omitempty"`
	AuditID     int64  `json:"audit_id,omitempty"`
	Message     string `json:"message"`
}

const (
	NotifyHighValueAudit   = "high_value_audit"
	NotifyApprovalRequest  = "approval_request"
	NotifyOperationState   = "operation_state"
	NotifyOperationOutcome = "operation_outcome"
)
