package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AdrenalinApprizal/chatlink/internal/bus"
)

func TestRefreshUpdatesToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/refresh" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"new-token","user_id":"u-42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "old-token", "u-42", bus.New(), zap.NewNop())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if gotAuth != "Bearer old-token" {
		t.Errorf("Authorization = %q, want bearer with the old token", gotAuth)
	}
	if c.Token() != "new-token" {
		t.Errorf("Token() = %q, want new-token", c.Token())
	}
	if !c.IsAuthenticated() {
		t.Error("expected authenticated after refresh")
	}
}

func TestRefreshRejectedKeepsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "stale", "u-42", bus.New(), zap.NewNop())
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error on 401")
	}
	// The caller decides about logout; the token is untouched here.
	if c.Token() != "stale" {
		t.Errorf("Token() = %q, want unchanged", c.Token())
	}
}

func TestRefreshMissingTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"u-42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "old", "u-42", bus.New(), zap.NewNop())
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error for empty token in response")
	}
}

func TestHandleAuthErrorLogsOut(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("session.", 2)
	defer cancel()

	c := NewClient("http://backend", "tok", "u-42", b, zap.NewNop())
	c.HandleAuthError(context.Background())

	if c.IsAuthenticated() {
		t.Error("expected token cleared")
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.KindLoggedOut {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindLoggedOut)
		}
	case <-time.After(time.Second):
		t.Fatal("no logged_out event")
	}
}
