package domain

import "time"

// SnapshotVersion is bumped whenever the snapshot layout changes so restore
// can refuse payloads it does not understand.
const SnapshotVersion = 1

// Snapshot is the full materialized state of one entity at one instant.
// It is created as the first step of a reset, never mutated afterwards, and
// consumed read-only by revert. A newer snapshot supersedes an older one for
// the same entity; older ones are kept for history.
type Snapshot struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	OperationID int64     `json:"operation_id"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`

	Balance       Balance             `json:"balance"`
	Document      *IdentityDocument   `json:"document,omitempty"`
	Instruments   []PaymentInstrument `json:"instruments"`
	Organizations []Organization      `json:"organizations"`
	Assets        []RegisteredAsset   `json:"assets"`
	Entitlements  []Entitlement       `json:"entitlements"`
	Savings       []SavingsAccount    `json:"savings"`
	Loans         []Loan              `json:"loans"`
	Chips         []ChipBalance       `json:"chips"`
	Grants        []string            `json:"grants"`
}

// CollectionOutcome reports one collection's restore result. Restore is
// idempotent per collection but not atomic across collections, so the caller
// gets one outcome per collection and decides whether to retry the failures.
type CollectionOutcome struct {
	Collection string `json:"collection"`
	Restored   int    `json:"restored"`
	Err        string `json:"error,omitempty"`
}

type RestoreReport struct {
	SnapshotID string              `json:"snapshot_id"`
	EntityID   string              `json:"entity_id"`
	Outcomes   []CollectionOutcome `json:"outcomes"`
}

func (r RestoreReport) Failed() []CollectionOutcome {
	var failed []CollectionOutcome
	for _, o := range r.Outcomes {
		if o.Err != "" {
			failed = append(failed, o)
		}
	}
	return failed
}
