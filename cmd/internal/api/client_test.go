package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shule/cmd/internal/account"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogin_SuccessAndServerReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode login body: %v", err)
		}
		if body.Username == "amina" && body.Password == "pw" {
			_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-1"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "wrong username or password"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tok, err := c.Login(context.Background(), "amina", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("token=%q, want tok-1", tok)
	}

	_, err = c.Login(context.Background(), "amina", "nope")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.Message != "wrong username or password" {
		t.Fatalf("message=%q, want server reason", authErr.Message)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("AuthError must unwrap to ErrUnauthorized")
	}
}

func TestCurrentPrincipal_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(account.Principal{ID: 1, Username: "amina", Role: account.RoleTeacher})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetToken("tok-9")

	p, err := c.CurrentPrincipal(context.Background())
	if err != nil {
		t.Fatalf("CurrentPrincipal: %v", err)
	}
	if gotAuth != "Bearer tok-9" {
		t.Fatalf("authorization=%q, want Bearer tok-9", gotAuth)
	}
	if p.ID != 1 || p.Role != account.RoleTeacher {
		t.Fatalf("unexpected principal: %+v", p)
	}

	// After ClearToken no Authorization header goes out at all.
	c.ClearToken()
	if _, err := c.CurrentPrincipal(context.Background()); err != nil {
		t.Fatalf("CurrentPrincipal: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("authorization=%q after ClearToken, want absent", gotAuth)
	}
}

func TestCurrentPrincipal_RejectionIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "token expired"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetToken("stale")

	_, err = c.CurrentPrincipal(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.Status != http.StatusUnauthorized || authErr.Message != "token expired" {
		t.Fatalf("unexpected auth error: %+v", authErr)
	}
}

func TestUpdatePresence_PatchesPresencePair(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var got struct {
		IsOnline       bool      `json:"isOnline"`
		LastActivityAt time.Time `json:"lastActivityAt"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/users/me" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode patch: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetToken("tok")

	if err := c.UpdatePresence(context.Background(), true, at); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	if !got.IsOnline || !got.LastActivityAt.Equal(at) {
		t.Fatalf("patch=%+v, want online at %s", got, at)
	}
}

func TestUpdatePresence_FailureWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = c.UpdatePresence(context.Background(), true, time.Now())
	if !errors.Is(err, ErrPresenceWrite) {
		t.Fatalf("expected ErrPresenceWrite, got %v", err)
	}
}

func TestOfflineBeacon_FiresWithCapturedToken(t *testing.T) {
	hit := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IsOnline bool `json:"isOnline"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.IsOnline {
			t.Errorf("beacon must mark offline")
		}
		hit <- r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetToken("tok-bye")
	c.OfflineBeacon(5)
	// The teardown sequence clears the token right after dispatch; the
	// in-flight beacon must still carry the captured one.
	c.ClearToken()

	select {
	case auth := <-hit:
		if auth != "Bearer tok-bye" {
			t.Fatalf("beacon authorization=%q, want Bearer tok-bye", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("beacon never reached the backend")
	}
}

func TestOfflineBeacon_NoTokenIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Errorf("anonymous beacon must not be dispatched")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.OfflineBeacon(5)
	time.Sleep(50 * time.Millisecond)
}
