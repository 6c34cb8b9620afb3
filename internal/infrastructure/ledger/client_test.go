package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
	"github.com/vonssyb/nacionmx-ems/pkg/logger"
)

type walletStub struct {
	mu       sync.Mutex
	cash     int64
	bank     int64
	gets     int
	patches  int
	puts     int
	failures int // leading 5xx responses before success
}

func (w *walletStub) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()

		if w.failures > 0 {
			w.failures--
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}

		switch r.Method {
		case http.MethodGet:
			w.gets++
		case http.MethodPatch:
			w.patches++
			var body struct {
				Cash *int64 `json:"cash"`
				Bank *int64 `json:"bank"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Cash != nil {
				w.cash += *body.Cash
			}
			if body.Bank != nil {
				w.bank += *body.Bank
			}
		case http.MethodPut:
			w.puts++
			var body struct {
				Cash *int64 `json:"cash"`
				Bank *int64 `json:"bank"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Cash != nil {
				w.cash = *body.Cash
			}
			if body.Bank != nil {
				w.bank = *body.Bank
			}
		}

		json.NewEncoder(rw).Encode(map[string]int64{
			"cash": w.cash, "bank": w.bank, "total": w.cash + w.bank,
		})
	}
}

type recorderStub struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (r *recorderStub) Record(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return int64(len(r.entries)), nil
}

func newTestClient(t *testing.T, wallet *walletStub) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(wallet.handler())
	t.Cleanup(srv.Close)

	client := New(&config.LedgerConfig{
		BaseURL:     srv.URL,
		Token:       "test-token",
		GuildID:     "guild",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		CacheTTL:    time.Minute,
	}, logger.New())
	return client, srv
}

func TestDebitInsufficientFundsLeavesStoreUntouched(t *testing.T) {
	wallet := &walletStub{cash: 50, bank: 0}
	client, _ := newTestClient(t, wallet)
	recorder := &recorderStub{}
	client.AttachRecorder(recorder)

	_, err := client.Debit(context.Background(), "user1", domain.AccountCash, 100, "test debit")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, 0, wallet.patches, "no write should reach the wallet")
	assert.Empty(t, recorder.entries, "no audit entry for a refused debit")
	assert.Equal(t, int64(50), wallet.cash)
}

func TestDebitMirrorsNegativeAmount(t *testing.T) {
	wallet := &walletStub{cash: 500}
	client, _ := newTestClient(t, wallet)
	recorder := &recorderStub{}
	client.AttachRecorder(recorder)

	balance, err := client.Debit(context.Background(), "user1", domain.AccountCash, 200, "fine")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance.Cash)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, "debit", entry.Kind)
	assert.Equal(t, int64(-200), entry.Amount)
	assert.True(t, entry.CanRollback)
	assert.Equal(t, int64(300), entry.BalanceAfter.Cash)
}

func TestSetBalanceMirrorsTotalDelta(t *testing.T) {
	wallet := &walletStub{cash: 12000, bank: 3000}
	client, _ := newTestClient(t, wallet)
	recorder := &recorderStub{}
	client.AttachRecorder(recorder)

	after, err := client.SetBalance(context.Background(), "user1", domain.Balance{}, "wipe")
	require.NoError(t, err)
	assert.True(t, after.IsZero())

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, "set_balance", recorder.entries[0].Kind)
	assert.Equal(t, int64(-15000), recorder.entries[0].Amount)
}

func TestGetBalanceUsesCacheUntilWrite(t *testing.T) {
	wallet := &walletStub{cash: 100}
	client, _ := newTestClient(t, wallet)

	ctx := context.Background()
	_, err := client.GetBalance(ctx, "user1")
	require.NoError(t, err)
	_, err = client.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, wallet.gets, "second read must come from cache")

	_, err = client.AdjustBalance(ctx, "user1", domain.AccountCash, 50, "adjust")
	require.NoError(t, err)

	balance, err := client.GetBalance(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance.Cash, "write must invalidate the cache")
	assert.Equal(t, 2, wallet.gets)
}

func TestServerErrorsAreRetried(t *testing.T) {
	wallet := &walletStub{cash: 75, failures: 2}
	client, _ := newTestClient(t, wallet)

	balance, err := client.GetBalance(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance.Cash)
}

func TestRateLimitExhaustionSurfacesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Retry-After", "1")
		rw.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(&config.LedgerConfig{
		BaseURL:     srv.URL,
		GuildID:     "guild",
		Timeout:     time.Second,
		MaxAttempts: 1,
		CacheTTL:    time.Minute,
	}, logger.New())

	_, err := client.GetBalance(context.Background(), "user1")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Second, backoffFor("", 0))
	assert.Equal(t, 2*time.Second, backoffFor("", 1))
	assert.Equal(t, 5*time.Second, backoffFor("5", 0))
	assert.Equal(t, 10*time.Second, backoffFor("5", 1))
	assert.Equal(t, maxBackoff, backoffFor("40", 3))
}
