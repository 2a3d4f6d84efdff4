// Package auth is the boundary to the external authentication provider.
// The realtime core only depends on the Authenticator interface; the HTTP
// client below is the production implementation.
package auth

import "context"

// Authenticator exposes the current identity and the single-refresh
// recovery path the connection manager uses on auth-classified closes.
type Authenticator interface {
	// Token returns the current bearer token, or "" when unauthenticated.
	Token() string
	// UserID returns the authenticated local user id, or "".
	UserID() string
	// IsAuthenticated reports whether a usable token is held.
	IsAuthenticated() bool
	// Refresh attempts to obtain a fresh token from the provider.
	Refresh(ctx context.Context) error
	// HandleAuthError clears local credentials after a failed refresh and
	// triggers the logout side effect.
	HandleAuthError(ctx context.Context)
}
