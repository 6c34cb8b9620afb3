package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/internal/domain/interfaces"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
)

const maxBackoff = 60 * time.Second

type cacheEntry struct {
	balance domain.Balance
	expires time.Time
}

// Client talks to the external wallet API that owns cash/bank balances.
// Reads are cached per entity with a short TTL; every write invalidates the
// entity's cache entry before returning, so a reader never observes a value
// the writer already knows is stale.
type Client struct {
	baseURL     string
	token       string
	guildID     string
	httpClient  *http.Client
	maxAttempts int
	cacheTTL    time.Duration
	logger      zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	recorder interfaces.AuditRecorder
}

type balanceResponse struct {
	UserID string `json:"user_id"`
	Cash   int64  `json:"cash"`
	Bank   int64  `json:"bank"`
	Total  int64  `json:"total"`
}

type balancePatch struct {
	Cash   *int64 `json:"cash,omitempty"`
	Bank   *int64 `json:"bank,omitempty"`
	Reason string `json:"reason"`
}

func New(cfg *config.LedgerConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		guildID: cfg.GuildID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		maxAttempts: cfg.MaxAttempts,
		cacheTTL:    cfg.CacheTTL,
		logger:      logger.With().Str("component", "ledger_client").Logger(),
		cache:       make(map[string]cacheEntry),
	}
}

// AttachRecorder wires the audit ledger in after construction; the audit
// ledger itself needs this client for compensating rollbacks.
func (c *Client) AttachRecorder(recorder interfaces.AuditRecorder) {
	c.recorder = recorder
}

func (c *Client) GetBalance(ctx context.Context, entityID string) (domain.Balance, error) {
	c.mu.RLock()
	entry, ok := c.cache[entityID]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.balance, nil
	}
	return c.freshBalance(ctx, entityID)
}

func (c *Client) freshBalance(ctx context.Context, entityID string) (domain.Balance, error) {
	var resp balanceResponse
	if err := c.doRequest(ctx, http.MethodGet, c.userURL(entityID), nil, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("failed to get balance for %s: %w", entityID, err)
	}

	balance := domain.Balance{Cash: resp.Cash, Bank: resp.Bank}
	c.mu.Lock()
	c.cache[entityID] = cacheEntry{balance: balance, expires: time.Now().Add(c.cacheTTL)}
	c.mu.Unlock()

	return balance, nil
}

func (c *Client) Credit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error) {
	balance, err := c.AdjustBalance(ctx, entityID, account, amount, reason)
	if err != nil {
		return domain.Balance{}, err
	}
	c.mirror(ctx, entityID, "credit", amount, reason, balance)
	return balance, nil
}

func (c *Client) Debit(ctx context.Context, entityID string, account domain.Account, amount int64, reason string) (domain.Balance, error) {
	// Funds check against a fresh read, never the cache.
	current, err := c.freshBalance(ctx, entityID)
	if err != nil {
		return domain.Balance{}, err
	}
	held := current.Cash
	if account == domain.AccountBank {
		held = current.Bank
	}
	if held < amount {
		return domain.Balance{}, fmt.Errorf("debit of %d from %s %s (held %d): %w",
			amount, entityID, account, held, domain.ErrInsufficientFunds)
	}

	balance, err := c.AdjustBalance(ctx, entityID, account, -amount, reason)
	if err != nil {
		return domain.Balance{}, err
	}
	c.mirror(ctx, entityID, "debit", -amount, reason, balance)
	return balance, nil
}

func (c *Client) SetBalance(ctx context.Context, entityID string, balance domain.Balance, reason string) (domain.Balance, error) {
	before, err := c.freshBalance(ctx, entityID)
	if err != nil {
		return domain.Balance{}, err
	}

	body := balancePatch{Cash: &balance.Cash, Bank: &balance.Bank, Reason: reason}
	var resp balanceResponse
	if err := c.doRequest(ctx, http.MethodPut, c.userURL(entityID), body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("failed to set balance for %s: %w", entityID, err)
	}
	c.invalidate(entityID)

	after := domain.Balance{Cash: resp.Cash, Bank: resp.Bank}
	c.mirror(ctx, entityID, "set_balance", after.Total()-before.Total(), reason, after)
	return after, nil
}

// AdjustBalance is the raw delta write without audit mirroring. The audit
// ledger uses it for compensating rollbacks, which record their own entries.
func (c *Client) AdjustBalance(ctx context.Context, entityID string, account domain.Account, delta int64, reason string) (domain.Balance, error) {
	body := balancePatch{Reason: reason}
	if account == domain.AccountBank {
		body.Bank = &delta
	} else {
		body.Cash = &delta
	}

	var resp balanceResponse
	if err := c.doRequest(ctx, http.MethodPatch, c.userURL(entityID), body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("failed to adjust balance for %s: %w", entityID, err)
	}
	c.invalidate(entityID)

	return domain.Balance{Cash: resp.Cash, Bank: resp.Bank}, nil
}

func (c *Client) mirror(ctx context.Context, entityID, kind string, amount int64, reason string, after domain.Balance) {
	if c.recorder == nil {
		return
	}
	_, err := c.recorder.Record(ctx, domain.AuditEntry{
		EntityID:     entityID,
		Kind:         kind,
		Amount:       amount,
		Currency:     "cash",
		Reason:       reason,
		Actor:        "ledger_client",
		BalanceAfter: after,
		CanRollback:  true,
	})
	if err != nil {
		c.logger.Error().Err(err).
			Str("entity_id", entityID).
			Str("kind", kind).
			Int64("amount", amount).
			Msg("Failed to mirror ledger write into audit ledger")
	}
}

func (c *Client) invalidate(entityID string) {
	c.mu.Lock()
	delete(c.cache, entityID)
	c.mu.Unlock()
}

func (c *Client) userURL(entityID string) string {
	return fmt.Sprintf("%s/guilds/%s/users/%s", c.baseURL, c.guildID, entityID)
}

func (c *Client) doRequest(ctx context.Context, method, url string, body interface{}, response interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("url", url).Msg("Ledger request failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second << attempt):
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if response != nil {
				if err := json.Unmarshal(respBody, response); err != nil {
					return fmt.Errorf("failed to unmarshal response: %w", err)
				}
			}
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			backoff := backoffFor(resp.Header.Get("Retry-After"), attempt)
			lastErr = fmt.Errorf("rate limited (status 429): %w", domain.ErrRateLimited)
			c.logger.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Str("url", url).
				Msg("Ledger rate limit hit, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (status %d): %s: %w", resp.StatusCode, string(respBody), domain.ErrStoreUnavailable)
			c.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("url", url).Msg("Ledger server error, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second << attempt):
			}
			continue
		}

		// Client errors are final.
		return fmt.Errorf("client error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// backoffFor doubles the server-provided retry-after per attempt, capped at
// 60s. A missing or bad header falls back to one second.
func backoffFor(retryAfter string, attempt int) time.Duration {
	base := time.Second
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		base = time.Duration(secs) * time.Second
	}
	backoff := base << attempt
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
