package resetengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/pkg/logger"
)

type snapshotSvcStub struct {
	snap       *domain.Snapshot
	captureErr error
	latest     *domain.Snapshot
	restored   []*domain.Snapshot
	report     *domain.RestoreReport
}

func (s *snapshotSvcStub) Capture(ctx context.Context, entityID string, operationID int64) (*domain.Snapshot, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	snap := *s.snap
	snap.EntityID = entityID
	snap.OperationID = operationID
	return &snap, nil
}

func (s *snapshotSvcStub) Restore(ctx context.Context, snap *domain.Snapshot, entityID, reason string) (*domain.RestoreReport, error) {
	s.restored = append(s.restored, snap)
	if s.report != nil {
		return s.report, nil
	}
	return &domain.RestoreReport{SnapshotID: snap.ID, EntityID: entityID}, nil
}

func (s *snapshotSvcStub) Latest(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	if s.latest == nil {
		return nil, domain.ErrNoSnapshotFound
	}
	return s.latest, nil
}

type ledgerStub struct {
	setErr   error
	setCalls []domain.Balance
}

func (l *ledgerStub) GetBalance(ctx context.Context, entityID string) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (l *ledgerStub) Credit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (l *ledgerStub) Debit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (l *ledgerStub) SetBalance(ctx context.Context, entityID string, balance domain.Balance, reason string) (domain.Balance, error) {
	if l.setErr != nil {
		return domain.Balance{}, l.setErr
	}
	l.setCalls = append(l.setCalls, balance)
	return balance, nil
}

type grantsStub struct {
	revoked   []string
	revokeErr map[string]error
}

func (g *grantsStub) ListGrants(ctx context.Context, entityID string) ([]string, error) {
	return nil, nil
}

func (g *grantsStub) Grant(ctx context.Context, entityID, grantID string) error { return nil }

func (g *grantsStub) Revoke(ctx context.Context, entityID, grantID string) error {
	if err, ok := g.revokeErr[grantID]; ok {
		return err
	}
	g.revoked = append(g.revoked, grantID)
	return nil
}

func (g *grantsStub) RemoveMembership(ctx context.Context, entityID, reason string) error {
	return nil
}

type identityStub struct {
	deleted int
}

func (r *identityStub) Get(ctx context.Context, entityID string) (*domain.IdentityDocument, error) {
	return nil, nil
}

func (r *identityStub) Upsert(ctx context.Context, doc *domain.IdentityDocument) error { return nil }

func (r *identityStub) Delete(ctx context.Context, entityID string) error {
	r.deleted++
	return nil
}

func (r *identityStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type instrumentStub struct {
	deactivated int64
}

func (r *instrumentStub) ListActive(ctx context.Context, entityID string) ([]domain.PaymentInstrument, error) {
	return nil, nil
}

func (r *instrumentStub) DeactivateAll(ctx context.Context, entityID string) (int64, error) {
	return r.deactivated, nil
}

func (r *instrumentStub) Reactivate(ctx context.Context, ids []string) (int64, error) {
	return 0, nil
}

func (r *instrumentStub) Upsert(ctx context.Context, instrument *domain.PaymentInstrument) error {
	return nil
}

func (r *instrumentStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type orgStub struct {
	removed int64
}

func (r *orgStub) ListOwned(ctx context.Context, entityID string) ([]domain.Organization, error) {
	return nil, nil
}

func (r *orgStub) RemoveOwner(ctx context.Context, entityID string) (int64, error) {
	return r.removed, nil
}

func (r *orgStub) ReplaceOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

func (r *orgStub) AddOwner(ctx context.Context, orgID, entityID string) error { return nil }

type assetStub struct {
	deleteErr error
}

func (r *assetStub) List(ctx context.Context, entityID string) ([]domain.RegisteredAsset, error) {
	return nil, nil
}

func (r *assetStub) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	return 1, nil
}

func (r *assetStub) Upsert(ctx context.Context, asset *domain.RegisteredAsset) error { return nil }

func (r *assetStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type entitlementStub struct{}

func (r *entitlementStub) List(ctx context.Context, entityID string) ([]domain.Entitlement, error) {
	return nil, nil
}

func (r *entitlementStub) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	return 2, nil
}

func (r *entitlementStub) Upsert(ctx context.Context, entitlement *domain.Entitlement) error {
	return nil
}

func (r *entitlementStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type portfolioStub struct{}

func (r *portfolioStub) ListSavings(ctx context.Context, entityID string) ([]domain.SavingsAccount, error) {
	return nil, nil
}

func (r *portfolioStub) ListLoans(ctx context.Context, entityID string) ([]domain.Loan, error) {
	return nil, nil
}

func (r *portfolioStub) ListChips(ctx context.Context, entityID string) ([]domain.ChipBalance, error) {
	return nil, nil
}

func (r *portfolioStub) DeleteAll(ctx context.Context, entityID string) (int64, error) {
	return 3, nil
}

func (r *portfolioStub) UpsertSavings(ctx context.Context, account *domain.SavingsAccount) error {
	return nil
}

func (r *portfolioStub) UpsertLoan(ctx context.Context, loan *domain.Loan) error { return nil }

func (r *portfolioStub) UpsertChips(ctx context.Context, chips *domain.ChipBalance) error {
	return nil
}

func (r *portfolioStub) RepointOwner(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type opsRepoStub struct {
	records map[int64]*domain.OperationRecord
}

func newOpsRepoStub() *opsRepoStub {
	return &opsRepoStub{records: make(map[int64]*domain.OperationRecord)}
}

func (r *opsRepoStub) Insert(ctx context.Context, rec *domain.OperationRecord) (int64, error) {
	rec.ID = int64(len(r.records) + 1)
	r.records[rec.ID] = rec
	return rec.ID, nil
}

func (r *opsRepoStub) Get(ctx context.Context, id int64) (*domain.OperationRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrOperationNotFound
	}
	return rec, nil
}

func (r *opsRepoStub) Update(ctx context.Context, rec *domain.OperationRecord) error {
	r.records[rec.ID] = rec
	return nil
}

func (r *opsRepoStub) UpdateStatus(ctx context.Context, id int64, status domain.OperationStatus) error {
	if rec, ok := r.records[id]; ok {
		rec.Status = status
	}
	return nil
}

func (r *opsRepoStub) ListByEntity(ctx context.Context, entityID string, kind domain.OperationKind, limit int) ([]domain.OperationRecord, error) {
	var out []domain.OperationRecord
	for _, rec := range r.records {
		if rec.Kind == kind && (rec.Target == entityID || rec.Source == entityID || rec.Destination == entityID) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type notifierStub struct{}

func (n *notifierStub) Notify(ctx context.Context, notification domain.Notification) error {
	return nil
}

type engineFixture struct {
	snapshots   *snapshotSvcStub
	ledger      *ledgerStub
	grants      *grantsStub
	identity    *identityStub
	instruments *instrumentStub
	orgs        *orgStub
	assets      *assetStub
	ops         *opsRepoStub
	engine      IResetEngine
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		snapshots: &snapshotSvcStub{
			snap: &domain.Snapshot{
				ID:      "snap-1",
				Version: domain.SnapshotVersion,
				Balance: domain.Balance{Cash: 12000, Bank: 3000},
				Grants:  []string{"citizen", "vip", "taxi_license"},
			},
		},
		ledger:      &ledgerStub{},
		grants:      &grantsStub{},
		identity:    &identityStub{},
		instruments: &instrumentStub{deactivated: 2},
		orgs:        &orgStub{removed: 1},
		assets:      &assetStub{},
		ops:         newOpsRepoStub(),
	}
	f.engine = New(f.snapshots, f.ledger, f.grants, f.identity, f.instruments, f.orgs,
		f.assets, &entitlementStub{}, &portfolioStub{}, f.ops, &notifierStub{}, logger.New())
	return f
}

func newResetRecord(f *engineFixture, protected, strip []string) *domain.OperationRecord {
	rec := &domain.OperationRecord{
		Kind:            domain.OperationReset,
		Initiator:       "admin1",
		Target:          "user1",
		Reason:          "rule breach",
		ProtectedGrants: protected,
		StripGrants:     strip,
		Status:          domain.StatusExecuting,
	}
	f.ops.Insert(context.Background(), rec)
	return rec
}

func TestExecuteResetFullWipe(t *testing.T) {
	f := newEngineFixture()
	rec := newResetRecord(f, []string{"citizen"}, nil)

	result, err := f.engine.ExecuteReset(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, "snap-1", result.SnapshotID)
	assert.Equal(t, "snap-1", rec.SnapshotID)
	assert.Equal(t, domain.Balance{Cash: 12000, Bank: 3000}, rec.PreviousBalance)

	require.Len(t, f.ledger.setCalls, 1)
	assert.True(t, f.ledger.setCalls[0].IsZero())

	// Protected grant survives, the other two are revoked.
	assert.ElementsMatch(t, []string{"vip", "taxi_license"}, f.grants.revoked)
	assert.Equal(t, 2, result.RemovedGrants)

	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.StepCounts["instruments"].Succeeded)
	assert.Equal(t, 1, rec.StepCounts["organizations"].Succeeded)
	assert.Equal(t, 1, f.identity.deleted)
	require.NotNil(t, rec.CompletedAt)
}

func TestExecuteResetStripOverridesProtection(t *testing.T) {
	f := newEngineFixture()
	f.snapshots.snap.Grants = []string{"citizen", "weapons_license"}
	rec := newResetRecord(f, []string{"citizen", "weapons_license"}, []string{"weapons_license"})

	result, err := f.engine.ExecuteReset(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"weapons_license"}, f.grants.revoked)
	assert.Equal(t, 1, result.RemovedGrants)
}

func TestExecuteResetAbortsWithoutSnapshot(t *testing.T) {
	f := newEngineFixture()
	f.snapshots.captureErr = errors.New("ledger unreachable")
	rec := newResetRecord(f, nil, nil)

	_, err := f.engine.ExecuteReset(context.Background(), rec)
	require.Error(t, err)

	assert.Equal(t, domain.StatusPartiallyFailed, rec.Status)
	assert.Equal(t, "snapshot", rec.FailedStep)
	assert.Empty(t, f.ledger.setCalls, "nothing destructive may run without a snapshot")
}

func TestExecuteResetAbortsOnBalanceFailure(t *testing.T) {
	f := newEngineFixture()
	f.ledger.setErr = errors.New("wallet down")
	rec := newResetRecord(f, nil, nil)

	_, err := f.engine.ExecuteReset(context.Background(), rec)
	require.Error(t, err)

	assert.Equal(t, "zero_balance", rec.FailedStep)
	assert.Empty(t, f.grants.revoked, "grant removal must not run after a fatal monetary failure")
}

func TestExecuteResetCountsNonFatalFailures(t *testing.T) {
	f := newEngineFixture()
	f.assets.deleteErr = errors.New("table locked")
	rec := newResetRecord(f, nil, nil)

	_, err := f.engine.ExecuteReset(context.Background(), rec)
	require.NoError(t, err, "non-monetary step failures do not abort the saga")

	// Counted skips are itemized, not escalated: only fatal aborts downgrade
	// the record.
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Empty(t, rec.FailedStep)
	assert.Equal(t, 1, rec.StepCounts["assets"].Failed)
	require.Len(t, f.ledger.setCalls, 1, "balance was still zeroed")
	assert.Equal(t, 1, f.identity.deleted, "later steps still ran")
}

func TestRevertResetRestoresAndMarksRecord(t *testing.T) {
	f := newEngineFixture()
	rec := newResetRecord(f, nil, nil)
	_, err := f.engine.ExecuteReset(context.Background(), rec)
	require.NoError(t, err)

	f.snapshots.latest = &domain.Snapshot{
		ID:          "snap-1",
		EntityID:    "user1",
		OperationID: rec.ID,
		Version:     domain.SnapshotVersion,
		Balance:     domain.Balance{Cash: 12000, Bank: 3000},
	}

	report, err := f.engine.RevertReset(context.Background(), "user1", "admin2", "appeal accepted")
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	require.Len(t, f.snapshots.restored, 1)
	assert.Equal(t, domain.StatusReverted, rec.Status)
}

func TestRevertResetWithoutSnapshot(t *testing.T) {
	f := newEngineFixture()
	_, err := f.engine.RevertReset(context.Background(), "user1", "admin2", "appeal")
	require.ErrorIs(t, err, domain.ErrNoSnapshotFound)
}
