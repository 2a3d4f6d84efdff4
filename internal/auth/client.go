package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AdrenalinApprizal/chatlink/internal/bus"
	"go.uber.org/zap"
)

// Client talks to the auth provider's refresh and userinfo endpoints and
// caches the bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.RWMutex
	token  string
	userID string
}

// NewClient creates an auth client seeded with an initial token and user id
// (typically from the session config).
func NewClient(baseURL, token, userID string, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		bus:     b,
		logger:  logger,
		token:   token,
		userID:  userID,
	}
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// UserID returns the authenticated user id.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsAuthenticated reports whether a token is held.
func (c *Client) IsAuthenticated() bool {
	return c.Token() != ""
}

type refreshResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Refresh exchanges the current token for a fresh one. On a 401/403 the
// held token is already invalid and the error is returned to the caller,
// which decides whether to log out.
func (c *Client) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/refresh", nil)
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh token: HTTP %d", resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if body.Token == "" {
		return fmt.Errorf("refresh response missing token")
	}

	c.mu.Lock()
	c.token = body.Token
	if body.UserID != "" {
		c.userID = body.UserID
	}
	c.mu.Unlock()

	c.logger.Info("bearer token refreshed")
	return nil
}

// HandleAuthError drops local credentials and announces the logout so
// consumers can redirect to sign-in.
func (c *Client) HandleAuthError(_ context.Context) {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	c.logger.Warn("authentication unrecoverable, logging out")
	c.bus.Emit(bus.KindLoggedOut, nil)
}
