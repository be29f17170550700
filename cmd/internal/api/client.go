package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shule/cmd/internal/account"
)

const (
	loginPath     = "/api/auth/login"
	principalPath = "/api/users/me"

	// beaconTimeout bounds the advisory offline write. The process is
	// going away; anything slower than this would not land anyway.
	beaconTimeout = 3 * time.Second

	maxErrorBody = 8 << 10
)

// Client talks to the Shule REST backend.
type Client struct {
	base *url.URL
	hc   *http.Client
	log  *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient builds a client for baseURL. The timeout applies to every
// call except the offline beacon, which carries its own shorter bound.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme: %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: u,
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// SetToken installs the bearer token for all subsequent calls. The swap
// is a single synchronized update: no request observes a half-applied
// credential transition.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the bearer token entirely.
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// HasToken reports whether an Authorization default is currently set.
func (c *Client) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login exchanges credentials for a bearer token. Any 4xx rejection
// becomes an *AuthError carrying the server's reason; transport and 5xx
// failures become an *AuthError with a generic message so sign-in
// callers have exactly one failure shape to render.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, loginPath, loginRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", &AuthError{Message: "sign-in is unavailable right now"}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", &AuthError{Status: resp.StatusCode, Message: serverMessage(resp.Body)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Status: resp.StatusCode, Message: "sign-in is unavailable right now"}
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", fmt.Errorf("login response carried no access token")
	}
	return out.AccessToken, nil
}

// CurrentPrincipal resolves the identity behind the installed token.
// 401/403 map to *AuthError; everything else is a plain error so the
// caller can distinguish "rejected" from "could not complete".
func (c *Client) CurrentPrincipal(ctx context.Context) (account.Principal, error) {
	req, err := c.newRequest(ctx, http.MethodGet, principalPath, nil)
	if err != nil {
		return account.Principal{}, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return account.Principal{}, fmt.Errorf("fetch current principal: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return account.Principal{}, &AuthError{Status: resp.StatusCode, Message: serverMessage(resp.Body)}
	case resp.StatusCode != http.StatusOK:
		return account.Principal{}, fmt.Errorf("fetch current principal: unexpected status %d", resp.StatusCode)
	}

	var p account.Principal
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return account.Principal{}, fmt.Errorf("decode principal: %w", err)
	}
	return p, nil
}

type presencePatch struct {
	IsOnline       bool      `json:"isOnline"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// UpdatePresence writes the presence pair in one partial update. The
// pair travels together so the stored flag is never fresher than its
// timestamp.
func (c *Client) UpdatePresence(ctx context.Context, online bool, at time.Time) error {
	req, err := c.newRequest(ctx, http.MethodPatch, principalPath, presencePatch{IsOnline: online, LastActivityAt: at})
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPresenceWrite, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrPresenceWrite, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// OfflineBeacon issues the advisory mark-offline write for process
// teardown. It is fire-and-forget: the caller gets no result, delivery
// is not guaranteed, and failures surface only at debug level. The
// token is captured now because teardown clears it immediately after.
func (c *Client) OfflineBeacon(userID int64) {
	token := c.currentToken()
	if token == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()

		body, err := json.Marshal(presencePatch{IsOnline: false, LastActivityAt: time.Now().UTC()})
		if err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.base.String()+principalPath, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.hc.Do(req)
		if err != nil {
			c.log.Debug("api.beacon.drop", "user_id", userID, "err", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// serverMessage pulls a human-readable reason out of an error response.
// Backends in the wild use either "error" or "message"; an unreadable
// body falls back to a generic reason.
func serverMessage(r io.Reader) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err == nil {
		_ = json.Unmarshal(b, &body)
	}
	if body.Error != "" {
		return body.Error
	}
	if body.Message != "" {
		return body.Message
	}
	return "credentials were rejected"
}
