package snapshotsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/pkg/logger"
)

type ledgerStub struct {
	balance    domain.Balance
	getErr     error
	setCalls   []domain.Balance
	setEntity  string
	setReasons []string
}

func (l *ledgerStub) GetBalance(ctx context.Context, entityID string) (domain.Balance, error) {
	if l.getErr != nil {
		return domain.Balance{}, l.getErr
	}
	return l.balance, nil
}

func (l *ledgerStub) Credit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error) {
	return l.balance, nil
}

func (l *ledgerStub) Debit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error) {
	return l.balance, nil
}

func (l *ledgerStub) SetBalance(ctx context.Context, entityID string, balance domain.Balance, reason string) (domain.Balance, error) {
	l.setCalls = append(l.setCalls, balance)
	l.setEntity = entityID
	l.setReasons = append(l.setReasons, reason)
	l.balance = balance
	return balance, nil
}

type grantsStub struct {
	grants  []string
	listErr error
	granted []string
}

func (g *grantsStub) ListGrants(ctx context.Context, entityID string) ([]string, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.grants, nil
}

func (g *grantsStub) Grant(ctx context.Context, entityID, grantID string) error {
	g.granted = append(g.granted, grantID)
	return nil
}

func (g *grantsStub) Revoke(ctx context.Context, entityID, grantID string) error { return nil }

func (g *grantsStub) RemoveMembership(ctx context.Context, entityID, reason string) error {
	return nil
}

type identityStub struct {
	doc      *domain.IdentityDocument
	upserted []domain.IdentityDocument
}

func (r *identityStub) Get(ctx context.Context, entityID string) (*domain.IdentityDocument, error) {
	return r.doc, nil
}

func (r *identityStub) Upsert(ctx context.Context, doc *domain.IdentityDocument) error {
	r.upserted = append(r.upserted, *doc)
	return nil
}

func (r *identityStub) Delete(ctx context.Context, entityID string) error { return nil }

func (r *identityStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type instrumentStub struct {
	active        []domain.PaymentInstrument
	upsertErr     error
	upserted      []domain.PaymentInstrument
	reactivateErr error
	reactivated   []string
	missingRows   int
}

func (r *instrumentStub) ListActive(ctx context.Context, entityID string) ([]domain.PaymentInstrument, error) {
	return r.active, nil
}

func (r *instrumentStub) DeactivateAll(ctx context.Context, entityID string) (int64, error) {
	return int64(len(r.active)), nil
}

func (r *instrumentStub) Reactivate(ctx context.Context, ids []string) (int64, error) {
	if r.reactivateErr != nil {
		return 0, r.reactivateErr
	}
	r.reactivated = append(r.reactivated, ids...)
	return int64(len(ids) - r.missingRows), nil
}

func (r *instrumentStub) Upsert(ctx context.Context, instrument *domain.PaymentInstrument) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserted = append(r.upserted, *instrument)
	return nil
}

func (r *instrumentStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type orgStub struct {
	owned    []domain.Organization
	addCalls []string
}

func (r *orgStub) ListOwned(ctx context.Context, entityID string) ([]domain.Organization, error) {
	return r.owned, nil
}

func (r *orgStub) RemoveOwner(ctx context.Context, entityID string) (int64, error) { return 0, nil }

func (r *orgStub) ReplaceOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

func (r *orgStub) AddOwner(ctx context.Context, orgID, entityID string) error {
	r.addCalls = append(r.addCalls, orgID)
	return nil
}

type assetStub struct {
	assets   []domain.RegisteredAsset
	upserted []domain.RegisteredAsset
}

func (r *assetStub) List(ctx context.Context, entityID string) ([]domain.RegisteredAsset, error) {
	return r.assets, nil
}

func (r *assetStub) DeleteAll(ctx context.Context, entityID string) (int64, error) { return 0, nil }

func (r *assetStub) Upsert(ctx context.Context, asset *domain.RegisteredAsset) error {
	r.upserted = append(r.upserted, *asset)
	return nil
}

func (r *assetStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type entitlementStub struct {
	items    []domain.Entitlement
	upserted []domain.Entitlement
}

func (r *entitlementStub) List(ctx context.Context, entityID string) ([]domain.Entitlement, error) {
	return r.items, nil
}

func (r *entitlementStub) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	return 0, nil
}

func (r *entitlementStub) Upsert(ctx context.Context, entitlement *domain.Entitlement) error {
	r.upserted = append(r.upserted, *entitlement)
	return nil
}

func (r *entitlementStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type portfolioStub struct {
	savings []domain.SavingsAccount
	loans   []domain.Loan
	chips   []domain.ChipBalance

	upsertedSavings []domain.SavingsAccount
	upsertedLoans   []domain.Loan
	upsertedChips   []domain.ChipBalance
}

func (r *portfolioStub) ListSavings(ctx context.Context, entityID string) ([]domain.SavingsAccount, error) {
	return r.savings, nil
}

func (r *portfolioStub) ListLoans(ctx context.Context, entityID string) ([]domain.Loan, error) {
	return r.loans, nil
}

func (r *portfolioStub) ListChips(ctx context.Context, entityID string) ([]domain.ChipBalance, error) {
	return r.chips, nil
}

func (r *portfolioStub) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	return 0, nil
}

func (r *portfolioStub) UpsertSavings(ctx context.Context, account *domain.SavingsAccount) error {
	r.upsertedSavings = append(r.upsertedSavings, *account)
	return nil
}

func (r *portfolioStub) UpsertLoan(ctx context.Context, loan *domain.Loan) error {
	r.upsertedLoans = append(r.upsertedLoans, *loan)
	return nil
}

func (r *portfolioStub) UpsertChips(ctx context.Context, chips *domain.ChipBalance) error {
	r.upsertedChips = append(r.upsertedChips, *chips)
	return nil
}

func (r *portfolioStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type snapshotRepoStub struct {
	inserted []*domain.Snapshot
}

func (r *snapshotRepoStub) Insert(ctx context.Context, snap *domain.Snapshot) error {
	r.inserted = append(r.inserted, snap)
	return nil
}

func (r *snapshotRepoStub) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	for _, snap := range r.inserted {
		if snap.ID == id {
			return snap, nil
		}
	}
	return nil, domain.ErrNoSnapshotFound
}

func (r *snapshotRepoStub) LatestByEntity(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	for i := len(r.inserted) - 1; i >= 0; i-- {
		if r.inserted[i].EntityID == entityID {
			return r.inserted[i], nil
		}
	}
	return nil, domain.ErrNoSnapshotFound
}

type fixture struct {
	ledger       *ledgerStub
	grants       *grantsStub
	identity     *identityStub
	instruments  *instrumentStub
	orgs         *orgStub
	assets       *assetStub
	entitlements *entitlementStub
	portfolio    *portfolioStub
	snapshots    *snapshotRepoStub
	svc          ISnapshotService
}

func newFixture() *fixture {
	f := &fixture{
		ledger:       &ledgerStub{balance: domain.Balance{Cash: 12000, Bank: 3000}},
		grants:       &grantsStub{grants: []string{"citizen", "taxi_license"}},
		identity:     &identityStub{doc: &domain.IdentityDocument{ID: "doc1", EntityID: "user1", DocumentNumber: "MX-001", FullName: "Ada"}},
		instruments:  &instrumentStub{active: []domain.PaymentInstrument{{ID: "card1", EntityID: "user1", Kind: domain.InstrumentCredit, Active: true}}},
		orgs:         &orgStub{owned: []domain.Organization{{ID: "org1", Name: "Taller", OwnerIDs: []string{"user1"}}}},
		assets:       &assetStub{assets: []domain.RegisteredAsset{{ID: "car1", EntityID: "user1", Model: "Sultan", Plate: "NMX001"}}},
		entitlements: &entitlementStub{items: []domain.Entitlement{{ID: "e1", EntityID: "user1", ItemID: "vip"}}},
		portfolio: &portfolioStub{
			savings: []domain.SavingsAccount{{ID: "s1", EntityID: "user1", Balance: 700, OpenedAt: time.Now()}},
			loans:   []domain.Loan{{ID: "l1", EntityID: "user1", Principal: 1000, Outstanding: 400}},
			chips:   []domain.ChipBalance{{ID: "c1", EntityID: "user1", Chips: 50}},
		},
		snapshots: &snapshotRepoStub{},
	}
	f.svc = New(f.ledger, f.grants, f.identity, f.instruments, f.orgs, f.assets,
		f.entitlements, f.portfolio, f.snapshots, logger.New())
	return f
}

func TestCaptureCollectsEverything(t *testing.T) {
	f := newFixture()

	snap, err := f.svc.Capture(context.Background(), "user1", 7)
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "user1", snap.EntityID)
	assert.Equal(t, int64(7), snap.OperationID)
	assert.Equal(t, domain.SnapshotVersion, snap.Version)
	assert.Equal(t, domain.Balance{Cash: 12000, Bank: 3000}, snap.Balance)
	require.NotNil(t, snap.Document)
	assert.Equal(t, "MX-001", snap.Document.DocumentNumber)
	assert.Len(t, snap.Instruments, 1)
	assert.Len(t, snap.Organizations, 1)
	assert.Len(t, snap.Assets, 1)
	assert.Len(t, snap.Entitlements, 1)
	assert.Len(t, snap.Savings, 1)
	assert.Len(t, snap.Loans, 1)
	assert.Len(t, snap.Chips, 1)
	assert.Equal(t, []string{"citizen", "taxi_license"}, snap.Grants)

	require.Len(t, f.snapshots.inserted, 1)
}

func TestCaptureAbortsOnAnyReadFailure(t *testing.T) {
	f := newFixture()
	f.grants.listErr = errors.New("platform down")

	_, err := f.svc.Capture(context.Background(), "user1", 7)
	require.Error(t, err)
	assert.Empty(t, f.snapshots.inserted, "a partial snapshot must never be persisted")
}

func TestRestoreRoundTrip(t *testing.T) {
	f := newFixture()
	snap, err := f.svc.Capture(context.Background(), "user1", 7)
	require.NoError(t, err)

	report, err := f.svc.Restore(context.Background(), snap, "user1", "revert")
	require.NoError(t, err)

	assert.Empty(t, report.Failed())
	require.Len(t, f.ledger.setCalls, 1)
	assert.Equal(t, domain.Balance{Cash: 12000, Bank: 3000}, f.ledger.setCalls[0])
	assert.Len(t, f.identity.upserted, 1)
	assert.Equal(t, []string{"card1"}, f.instruments.reactivated)
	assert.Empty(t, f.instruments.upserted, "in-place rows are revived, not rewritten")
	assert.Equal(t, []string{"org1"}, f.orgs.addCalls)
	assert.Len(t, f.assets.upserted, 1)
	assert.Len(t, f.entitlements.upserted, 1)
	assert.Len(t, f.portfolio.upsertedSavings, 1)
	assert.Len(t, f.portfolio.upsertedLoans, 1)
	assert.Len(t, f.portfolio.upsertedChips, 1)
	assert.Equal(t, []string{"citizen", "taxi_license"}, f.grants.granted)
}

func TestRestoreContinuesPastCollectionFailure(t *testing.T) {
	f := newFixture()
	snap, err := f.svc.Capture(context.Background(), "user1", 7)
	require.NoError(t, err)

	f.instruments.reactivateErr = errors.New("db hiccup")

	report, err := f.svc.Restore(context.Background(), snap, "user1", "revert")
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "instruments", failed[0].Collection)

	// Later collections still ran.
	assert.Equal(t, []string{"org1"}, f.orgs.addCalls)
	assert.Equal(t, []string{"citizen", "taxi_license"}, f.grants.granted)
}

func TestRestoreRecreatesMissingInstruments(t *testing.T) {
	f := newFixture()
	snap, err := f.svc.Capture(context.Background(), "user1", 7)
	require.NoError(t, err)

	// One captured row no longer exists, so reactivation alone cannot cover
	// the snapshot and the upsert path takes over.
	f.instruments.missingRows = 1

	report, err := f.svc.Restore(context.Background(), snap, "user1", "revert")
	require.NoError(t, err)
	assert.Empty(t, report.Failed())

	require.Len(t, f.instruments.upserted, 1)
	assert.Equal(t, "card1", f.instruments.upserted[0].ID)
	assert.True(t, f.instruments.upserted[0].Active)
}

func TestRestoreNilSnapshot(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Restore(context.Background(), nil, "user1", "revert")
	require.ErrorIs(t, err, domain.ErrNoSnapshotFound)
}
