package domain

import "time"

// Account selects one of the two ledger sub-accounts.
type Account string

const (
	AccountCash Account = "cash"
	AccountBank Account = "bank"
)

// Balance mirrors the wallet API's view of one entity. The wallet service
// enforces the non-negative invariant; this engine only pre-checks debits.
type Balance struct {
	Cash int64 `json:"cash"`
	Bank int64 `json:"bank"`
}

func (b Balance) Total() int64 {
	return b.Cash + b.Bank
}

func (b Balance) IsZero() bool {
	return b.Cash == 0 && b.Bank == 0
}

// IdentityDocument is the citizen DNI record. Zero or one per entity.
type IdentityDocument struct {
	ID             string    `json:"id" db:"id"`
	EntityID       string    `json:"entity_id" db:"entity_id"`
	DocumentNumber string    `json:"document_number" db:"document_number"`
	FullName       string    `json:"full_name" db:"full_name"`
	Nationality    string    `json:"nationality" db:"nationality"`
	IssuedAt       time.Time `json:"issued_at" db:"issued_at"`
}

type InstrumentKind string

const (
	InstrumentCredit InstrumentKind = "credit"
	InstrumentDebit  InstrumentKind = "debit"
)

type PaymentInstrument struct {
	ID       string         `json:"id" db:"id"`
	EntityID string         `json:"entity_id" db:"entity_id"`
	Kind     InstrumentKind `json:"kind" db:"kind"`
	Tier     string         `json:"tier" db:"tier"`
	Active   bool           `json:"active" db:"active"`
	IssuedAt time.Time      `json:"issued_at" db:"issued_at"`
}

// Organization ownership is set membership: an entity can co-own several
// organizations and an organization can have several owners.
type Organization struct {
	ID       string   `json:"id" db:"id"`
	Name     string   `json:"name" db:"name"`
	OwnerIDs []string `json:"owner_ids" db:"owner_ids"`
	Status   string   `json:"status" db:"status"`
}

type RegisteredAsset struct {
	ID           string    `json:"id" db:"id"`
	EntityID     string    `json:"entity_id" db:"entity_id"`
	Model        string    `json:"model" db:"model"`
	Plate        string    `json:"plate" db:"plate"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

type Entitlement struct {
	ID          string    `json:"id" db:"id"`
	EntityID    string    `json:"entity_id" db:"entity_id"`
	ItemID      string    `json:"item_id" db:"item_id"`
	ItemName    string    `json:"item_name" db:"item_name"`
	PurchasedAt time.Time `json:"purchased_at" db:"purchased_at"`
}

type SavingsAccount struct {
	ID       string    `json:"id" db:"id"`
	EntityID string    `json:"entity_id" db:"entity_id"`
	Balance  int64     `json:"balance" db:"balance"`
	OpenedAt time.Time `json:"opened_at" db:"opened_at"`
}

type Loan struct {
	ID          string    `json:"id" db:"id"`
	EntityID    string    `json:"entity_id" db:"entity_id"`
	Principal   int64     `json:"principal" db:"principal"`
	Outstanding int64     `json:"outstanding" db:"outstanding"`
	IssuedAt    time.Time `json:"issued_at" db:"issued_at"`
}

type ChipBalance struct {
	ID        string    `json:"id" db:"id"`
	EntityID  string    `json:"entity_id" db:"entity_id"`
	Chips     int64     `json:"chips" db:"chips"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type InfractionKind string

const (
	InfractionSanction InfractionKind = "sanction"
	InfractionWarning  InfractionKind = "warning"
)

type Infraction struct {
	ID       string         `json:"id" db:"id"`
	EntityID string         `json:"entity_id" db:"entity_id"`
	Kind     InfractionKind `json:"kind" db:"kind"`
	Reason   string         `json:"reason" db:"reason"`
	IssuedBy string         `json:"issued_by" db:"issued_by"`
	IssuedAt time.Time      `json:"issued_at" db:"issued_at"`
}
