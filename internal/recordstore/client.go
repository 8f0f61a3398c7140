package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"curator/internal/config"
	"curator/internal/services"
)

// ErrUnauthorized marks a rejected or expired session token.
var ErrUnauthorized = errors.New("record store: unauthorized")

// Client talks to the record store over HTTP. Safe for concurrent use; the
// session token is shared across goroutines and refreshed under lock.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	retryAttempts uint
	retryBase     time.Duration
	pageSize      int

	mu    sync.Mutex
	token string
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetry overrides the retry attempt count and base backoff delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = uint(attempts)
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

// NewClient constructs a record store client from configuration.
func NewClient(cfg config.Store, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: uint(cfg.RetryAttempts),
		retryBase:     time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		pageSize:      cfg.PageSize,
	}
	if c.retryAttempts == 0 {
		c.retryAttempts = 4
	}
	if c.retryBase <= 0 {
		c.retryBase = 500 * time.Millisecond
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionToken returns the current session token, acquiring one on first use.
func (c *Client) SessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"api_key": c.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	var session sessionResponse
	err = c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: session: %w", services.ErrTransient, err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read session response: %w", services.ErrTransient, err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: api key rejected", ErrUnauthorized)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: session: http %d", services.ErrTransient, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("session: http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		if err := json.Unmarshal(payload, &session); err != nil {
			return fmt.Errorf("parse session response: %w", err)
		}
		if strings.TrimSpace(session.Token) == "" {
			return errors.New("session: empty token")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = session.Token
	c.mu.Unlock()
	return session.Token, nil
}

// Health verifies the store endpoint is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health: %w", services.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("record store unhealthy: http %d", resp.StatusCode)
	}
	return nil
}

// do executes an authenticated request. On a 401 the session token is
// refreshed and the request replayed once; transient failures inside each
// attempt are retried with backoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	err := c.doAuthed(ctx, method, path, query, body, out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if _, refreshErr := c.refreshToken(ctx); refreshErr != nil {
		return fmt.Errorf("%w: refresh after 401: %w", services.ErrAuthExpired, refreshErr)
	}
	return c.doAuthed(ctx, method, path, query, body, out)
}

func (c *Client) doAuthed(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.SessionToken(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return c.withRetry(ctx, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %w", services.ErrTransient, method, path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %w", services.ErrTransient, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s %s", services.ErrNotFound, method, path)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: %s %s: http %d", services.ErrTransient, method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response for %s %s: %w", method, path, err)
		}
		return nil
	})
}

// withRetry applies the transient-failure retry policy around a single call.
// Unauthorized and 4xx results are never retried here; 401 handling lives in
// do so the token refresh happens exactly once per logical call.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryBase),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	if errors.Is(err, services.ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
