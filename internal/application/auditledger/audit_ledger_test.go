package auditledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
	"github.com/vonssyb/nacionmx-ems/pkg/logger"
)

type auditRepoStub struct {
	mu      sync.Mutex
	entries map[int64]*domain.AuditEntry
	nextID  int64
}

func newAuditRepoStub() *auditRepoStub {
	return &auditRepoStub{entries: make(map[int64]*domain.AuditEntry), nextID: 1}
}

func (r *auditRepoStub) Insert(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *entry
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	r.entries[stored.ID] = &stored
	r.nextID++
	return stored.ID, nil
}

func (r *auditRepoStub) Get(ctx context.Context, id int64) (*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, domain.ErrAuditEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

func (r *auditRepoStub) MarkRolledBack(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.RolledBack {
		return domain.ErrAlreadyRolledBack
	}
	entry.RolledBack = true
	return nil
}

func (r *auditRepoStub) UnmarkRolledBack(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.RolledBack = false
	}
	return nil
}

func (r *auditRepoStub) ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for _, entry := range r.entries {
		if entry.EntityID == entityID && len(out) < limit {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (r *auditRepoStub) ListFlagged(ctx context.Context, threshold int64, limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for _, entry := range r.entries {
		amount := entry.Amount
		if amount < 0 {
			amount = -amount
		}
		if amount > threshold && len(out) < limit {
			out = append(out, *entry)
		}
	}
	return out, nil
}

type adjusterStub struct {
	mu    sync.Mutex
	calls []struct {
		entityID string
		account  domain.Account
		delta    int64
	}
	balance  domain.Balance
	failures int
}

func (a *adjusterStub) AdjustBalance(ctx context.Context, entityID string, account domain.Account, delta int64, reason string) (domain.Balance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return domain.Balance{}, domain.ErrStoreUnavailable
	}
	a.calls = append(a.calls, struct {
		entityID string
		account  domain.Account
		delta    int64
	}{entityID, account, delta})
	if account == domain.AccountBank {
		a.balance.Bank += delta
	} else {
		a.balance.Cash += delta
	}
	return a.balance, nil
}

type notifierStub struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (n *notifierStub) Notify(ctx context.Context, notification domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *notifierStub) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notifications)
}

func newTestLedger(repo *auditRepoStub, adjuster *adjusterStub, notifier *notifierStub) IAuditLedger {
	return New(repo, adjuster, notifier, config.AuditConfig{AlertThreshold: 100000}, logger.New())
}

func TestRollbackAppliesExactNegation(t *testing.T) {
	repo := newAuditRepoStub()
	adjuster := &adjusterStub{balance: domain.Balance{Cash: 5000}}
	ledger := newTestLedger(repo, adjuster, &notifierStub{})

	id, err := ledger.Record(context.Background(), domain.AuditEntry{
		EntityID:    "user1",
		Kind:        "credit",
		Amount:      5000,
		Currency:    "cash",
		Reason:      "payday",
		Actor:       "ledger_client",
		CanRollback: true,
	})
	require.NoError(t, err)

	require.NoError(t, ledger.Rollback(context.Background(), id, "admin1", "mistaken payout"))

	require.Len(t, adjuster.calls, 1)
	assert.Equal(t, int64(-5000), adjuster.calls[0].delta)
	assert.Equal(t, domain.AccountCash, adjuster.calls[0].account)

	// A rollback_<kind> entry references the original and is itself final.
	entries, err := ledger.History(context.Background(), "user1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var rollbackEntry *domain.AuditEntry
	for i := range entries {
		if entries[i].Kind == "rollback_credit" {
			rollbackEntry = &entries[i]
		}
	}
	require.NotNil(t, rollbackEntry)
	assert.Equal(t, id, rollbackEntry.OriginalEntry)
	assert.False(t, rollbackEntry.CanRollback)
	assert.Equal(t, int64(-5000), rollbackEntry.Amount)
}

func TestRollbackIsOnce(t *testing.T) {
	repo := newAuditRepoStub()
	adjuster := &adjusterStub{}
	ledger := newTestLedger(repo, adjuster, &notifierStub{})

	id, err := ledger.Record(context.Background(), domain.AuditEntry{
		EntityID: "user1", Kind: "credit", Amount: 100, Currency: "cash", CanRollback: true,
	})
	require.NoError(t, err)

	require.NoError(t, ledger.Rollback(context.Background(), id, "admin1", "dup"))
	err = ledger.Rollback(context.Background(), id, "admin2", "dup again")
	require.ErrorIs(t, err, domain.ErrAlreadyRolledBack)
	assert.Len(t, adjuster.calls, 1, "balance must only be reversed once")
}

func TestConcurrentRollbacksNegateOnce(t *testing.T) {
	repo := newAuditRepoStub()
	adjuster := &adjusterStub{balance: domain.Balance{Cash: 5000}}
	ledger := newTestLedger(repo, adjuster, &notifierStub{})

	id, err := ledger.Record(context.Background(), domain.AuditEntry{
		EntityID: "user1", Kind: "credit", Amount: 5000, Currency: "cash", CanRollback: true,
	})
	require.NoError(t, err)

	const racers = 8
	errs := make(chan error, racers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		go func(actor int) {
			start.Wait()
			errs <- ledger.Rollback(context.Background(), id, "admin", "race")
		}(i)
	}
	start.Done()

	succeeded := 0
	for i := 0; i < racers; i++ {
		if err := <-errs; err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrAlreadyRolledBack)
		}
	}

	assert.Equal(t, 1, succeeded)
	require.Len(t, adjuster.calls, 1, "only the claimant may move money")
	assert.Equal(t, domain.Balance{Cash: 0}, adjuster.balance)
}

func TestRollbackReleasesClaimWhenAdjustFails(t *testing.T) {
	repo := newAuditRepoStub()
	adjuster := &adjusterStub{balance: domain.Balance{Cash: 300}, failures: 1}
	ledger := newTestLedger(repo, adjuster, &notifierStub{})

	id, err := ledger.Record(context.Background(), domain.AuditEntry{
		EntityID: "user1", Kind: "credit", Amount: 300, Currency: "cash", CanRollback: true,
	})
	require.NoError(t, err)

	err = ledger.Rollback(context.Background(), id, "admin1", "flaky store")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	// The failed attempt must not leave the entry claimed.
	require.NoError(t, ledger.Rollback(context.Background(), id, "admin1", "retry"))
	require.Len(t, adjuster.calls, 1)
	assert.Equal(t, int64(-300), adjuster.calls[0].delta)
}

func TestRollbackRefusesIneligibleEntries(t *testing.T) {
	repo := newAuditRepoStub()
	ledger := newTestLedger(repo, &adjusterStub{}, &notifierStub{})

	id, err := ledger.Record(context.Background(), domain.AuditEntry{
		EntityID: "user1", Kind: "reset_wipe", Amount: 9000, Currency: "cash", CanRollback: false,
	})
	require.NoError(t, err)

	err = ledger.Rollback(context.Background(), id, "admin1", "nope")
	require.ErrorIs(t, err, domain.ErrNotRollbackable)
}

func TestRollbackUnknownEntry(t *testing.T) {
	ledger := newTestLedger(newAuditRepoStub(), &adjusterStub{}, &notifierStub{})
	err := ledger.Rollback(context.Background(), 42, "admin1", "missing")
	require.ErrorIs(t, err, domain.ErrAuditEntryNotFound)
}

func TestHighValueEntriesTriggerAlert(t *testing.T) {
	notifier := &notifierStub{}
	ledger := newTestLedger(newAuditRepoStub(), &adjusterStub{}, notifier)

	_, err := ledger.Record(context.Background(), domain.AuditEntry{
		EntityID: "user1", Kind: "credit", Amount: 250000, Currency: "cash",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return notifier.count() == 1 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.NotifyHighValueAudit, notifier.notifications[0].Type)

	_, err = ledger.Record(context.Background(), domain.AuditEntry{
		EntityID: "user1", Kind: "credit", Amount: 500, Currency: "cash",
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, notifier.count(), "below-threshold entries must not alert")
}
