package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"chatterm/internal/apperrors"
	"chatterm/internal/credstore"
	"chatterm/internal/logger"
	"chatterm/internal/models"
)

const defaultTimeout = 60 * time.Second

type Config struct {
	// Base URL of the chat service, e.g. http://localhost:8000/api/v1
	// Required to be set
	BaseURL string

	// Durable token storage
	// Required to be set
	Store credstore.Store

	// Slot fired when credentials can't be refreshed
	// If not set a fresh one is created
	Notifier *ExpiryNotifier

	Logger logger.Logger

	// Timeout for a single HTTP exchange
	// If not set than default is used
	Timeout time.Duration
}

// Client talks to the chat service. Every authenticated request goes
// through the refresh pipeline: attach the stored access token, and on
// 401 perform at most one refresh-and-retry cycle. When refresh is not
// possible the stored pair is cleared and the expiry slot fires.
type Client struct {
	baseURL  string
	http     *http.Client
	store    credstore.Store
	notifier *ExpiryNotifier
	logger   logger.Logger

	// Serializes refresh so concurrent 401s share one refresh outcome
	refreshMu sync.Mutex
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL must not be empty")
	}
	if cfg.Store == nil {
		return nil, errors.New("token store must not be nil")
	}

	if cfg.Notifier == nil {
		cfg.Notifier = NewExpiryNotifier()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: cfg.Timeout},
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Notifier returns the expiry slot so the app shell can register its callback.
func (c *Client) Notifier() *ExpiryNotifier {
	return c.notifier
}

// Do issues an authenticated request and returns the response verbatim,
// success or error status alike. It errors only on transport failure;
// interpreting non-auth statuses is the caller's business.
func (c *Client) Do(ctx context.Context, method string, path string, payload any) (*http.Response, error) {
	resp, _, err := c.send(ctx, method, path, payload)
	return resp, err
}

// send is the request pipeline. The returned bool reports that the
// session expired during this call: the refresh credential was absent or
// refused, the stored pair was cleared and the expiry slot fired. The
// response returned alongside is the original 401 in that case.
func (c *Client) send(ctx context.Context, method string, path string, payload any) (*http.Response, bool, error) {
	body, err := marshalBody(payload)
	if err != nil {
		return nil, false, err
	}

	tokens, err := c.loadTokens(ctx)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.issue(ctx, method, path, body, tokens.Access)
	if err != nil {
		return nil, false, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, false, nil
	}

	return c.refreshAndRetry(ctx, method, path, body, tokens, resp)
}

// refreshAndRetry handles the 401 leg: at most one refresh attempt and
// one retry of the original request per call.
func (c *Client) refreshAndRetry(ctx context.Context, method string, path string, body []byte, used models.TokenPair, original *http.Response) (*http.Response, bool, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have finished a refresh while we waited for the
	// lock. If the stored access token moved on, retry with it instead of
	// burning the refresh credential again.
	current, err := c.loadTokens(ctx)
	if err != nil {
		return nil, false, err
	}
	if current.Access != "" && current.Access != used.Access {
		return c.retry(ctx, method, path, body, current.Access, original)
	}

	if current.Refresh == "" {
		c.expire(ctx)
		return original, true, nil
	}

	fresh, err := c.refresh(ctx, current.Refresh)
	if err != nil {
		c.logger.Warn("Token refresh failed", "error", err)
		c.expire(ctx)
		return original, true, nil
	}

	if err := c.store.SaveTokens(ctx, fresh); err != nil {
		drain(original)
		return nil, false, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	c.logger.Debug("Tokens refreshed")

	// Re-issue exactly once. The retried response is returned regardless
	// of its status, a second 401 is not retried again.
	return c.retry(ctx, method, path, body, fresh.Access, original)
}

func (c *Client) retry(ctx context.Context, method string, path string, body []byte, access string, original *http.Response) (*http.Response, bool, error) {
	drain(original)

	resp, err := c.issue(ctx, method, path, body, access)
	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// refresh exchanges the refresh credential for a new pair
func (c *Client) refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	var pair models.TokenPair

	type refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}
	type refreshResponse struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}

	body, err := marshalBody(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return pair, err
	}

	resp, err := c.issue(ctx, http.MethodPost, "/auth/refresh", body, "")
	if err != nil {
		return pair, err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pair, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var decoded refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return pair, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	pair.Access = decoded.AccessToken
	pair.Refresh = decoded.RefreshToken
	return pair, nil
}

// expire clears the stored pair and fires the expiry slot. Fired at most
// once per pipeline call.
func (c *Client) expire(ctx context.Context) {
	if err := c.store.ClearTokens(ctx); err != nil {
		c.logger.Error("Failed to clear tokens", "error", err)
	}
	c.logger.Info("Session expired, credentials cleared")
	c.notifier.fire()
}

// issue performs one HTTP exchange. An empty access token sends the
// request unauthenticated.
func (c *Client) issue(ctx context.Context, method string, path string, body []byte, access string) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// loadTokens treats an empty store as "send unauthenticated"
func (c *Client) loadTokens(ctx context.Context) (models.TokenPair, error) {
	tokens, err := c.store.LoadTokens(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrTokensNotFound) {
		return models.TokenPair{}, fmt.Errorf("failed to read stored tokens: %w", err)
	}
	return tokens, nil
}

func marshalBody(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return body, nil
}

// drain discards the rest of a response so the connection can be reused
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
