package grants

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
)

// Client manages capability grants (role tags) through the hosting
// platform's member API.
type Client struct {
	baseURL    string
	token      string
	guildID    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

type memberResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

func New(cfg *config.GrantsConfig, logger zerolog.Logger) *Client {
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		guildID: cfg.GuildID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.With().Str("component", "grants_client").Logger(),
	}
}

func (c *Client) ListGrants(ctx context.Context, entityID string) ([]string, error) {
	endpoint := fmt.Sprintf("/guilds/%s/members/%s", c.guildID, url.PathEscape(entityID))

	var member memberResponse
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, "", &member); err != nil {
		return nil, fmt.Errorf("failed to list grants for %s: %w", entityID, err)
	}

	return member.Roles, nil
}

func (c *Client) Grant(ctx context.Context, entityID, grantID string) error {
	endpoint := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.guildID, url.PathEscape(entityID), url.PathEscape(grantID))

	if err := c.makeRequest(ctx, http.MethodPut, endpoint, "", nil); err != nil {
		return fmt.Errorf("failed to grant %s to %s: %w", grantID, entityID, err)
	}
	return nil
}

func (c *Client) Revoke(ctx context.Context, entityID, grantID string) error {
	endpoint := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.guildID, url.PathEscape(entityID), url.PathEscape(grantID))

	if err := c.makeRequest(ctx, http.MethodDelete, endpoint, "", nil); err != nil {
		return fmt.Errorf("failed to revoke %s from %s: %w", grantID, entityID, err)
	}
	return nil
}

func (c *Client) RemoveMembership(ctx context.Context, entityID, reason string) error {
	endpoint := fmt.Sprintf("/guilds/%s/members/%s", c.guildID, url.PathEscape(entityID))

	if err := c.makeRequest(ctx, http.MethodDelete, endpoint, reason, nil); err != nil {
		return fmt.Errorf("failed to remove membership of %s: %w", entityID, err)
	}
	return nil
}

// makeRequest makes an HTTP request with retries. 5xx and transport errors
// are retried with exponential backoff; 4xx is final.
func (c *Client) makeRequest(ctx context.Context, method, endpoint, auditReason string, response interface{}) error {
	fullURL := c.baseURL + endpoint

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}

		req.Header.Set("Authorization", c.token)
		req.Header.Set("Accept", "application/json")
		if auditReason != "" {
			req.Header.Set("X-Audit-Log-Reason", auditReason)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("url", fullURL).Msg("Grants request failed, retrying")
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if response != nil {
				if err := json.Unmarshal(body, response); err != nil {
					lastErr = fmt.Errorf("failed to unmarshal response: %w", err)
					continue
				}
			}
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (status %d): %s: %w", resp.StatusCode, string(body), domain.ErrStoreUnavailable)
			c.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("url", fullURL).Msg("Grants server error, retrying")
			continue
		}

		return fmt.Errorf("client error (status %d): %s", resp.StatusCode, string(body))
	}

	c.logger.Error().Err(lastErr).Str("url", fullURL).Int("max_retries", c.maxRetries).Msg("Grants request failed after all retries")
	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}
