package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type tokenEndpoint struct {
	server *httptest.Server
	calls  int32
	status int
	body   string
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	endpoint := &tokenEndpoint{
		status: http.StatusOK,
		body:   `{"access_token": "refreshed-token", "token_type": "Bearer", "refresh_token": "next-refresh", "expires_in": 3600}`,
	}
	endpoint.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&endpoint.calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(endpoint.status)
		_, _ = w.Write([]byte(endpoint.body))
	}))
	t.Cleanup(endpoint.server.Close)
	return endpoint
}

func (e *tokenEndpoint) callCount() int {
	return int(atomic.LoadInt32(&e.calls))
}

func newTestManager(t *testing.T, store Store, endpoint *tokenEndpoint, now time.Time) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerOptions{
		Store: store,
		OAuth: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Endpoint: oauth2.Endpoint{
				TokenURL:  endpoint.server.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return manager
}

func seedCredential(t *testing.T, store Store, age time.Duration, now time.Time, refreshToken string) {
	t.Helper()
	err := store.Put(context.Background(), &Credential{
		OwnerID:      "owner_1",
		AccessToken:  "stored-token",
		RefreshToken: refreshToken,
		ObtainedAt:   now.Add(-age),
	})
	if err != nil {
		t.Fatalf("seed credential failed: %v", err)
	}
}

func TestValidTokenWithoutCredentialMeansNotConnected(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	store := NewMemoryStore()
	manager := newTestManager(t, store, endpoint, time.Now())

	token, err := manager.ValidToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("expected missing credential to be a normal outcome, got %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
	if endpoint.callCount() != 0 {
		t.Fatalf("expected no refresh calls, got %d", endpoint.callCount())
	}
}

func TestValidTokenReusesFreshCredential(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	store := NewMemoryStore()
	now := time.Now()
	seedCredential(t, store, 30*time.Minute, now, "refresh-1")
	manager := newTestManager(t, store, endpoint, now)

	token, err := manager.ValidToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("valid token failed: %v", err)
	}
	if token != "stored-token" {
		t.Fatalf("expected stored token to be reused, got %q", token)
	}
	if endpoint.callCount() != 0 {
		t.Fatalf("expected a 30-minute-old credential to skip refresh, got %d calls", endpoint.callCount())
	}
}

func TestValidTokenRefreshesStaleCredential(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	store := NewMemoryStore()
	now := time.Now()
	seedCredential(t, store, 90*time.Minute, now, "refresh-1")
	manager := newTestManager(t, store, endpoint, now)

	token, err := manager.ValidToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("valid token failed: %v", err)
	}
	if token != "refreshed-token" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if endpoint.callCount() != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", endpoint.callCount())
	}

	stored, err := store.Get(context.Background(), "owner_1")
	if err != nil || stored == nil {
		t.Fatalf("expected refreshed credential to be stored, got %v (%v)", stored, err)
	}
	if stored.AccessToken != "refreshed-token" || stored.RefreshToken != "next-refresh" {
		t.Fatalf("expected new token pair to be persisted, got %+v", stored)
	}
	if !stored.ObtainedAt.Equal(now) {
		t.Fatalf("expected freshness clock reset to now, got %v", stored.ObtainedAt)
	}
}

func TestValidTokenKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	endpoint.body = `{"access_token": "refreshed-token", "token_type": "Bearer", "expires_in": 3600}`
	store := NewMemoryStore()
	now := time.Now()
	seedCredential(t, store, 2*time.Hour, now, "refresh-1")
	manager := newTestManager(t, store, endpoint, now)

	if _, err := manager.ValidToken(context.Background(), "owner_1"); err != nil {
		t.Fatalf("valid token failed: %v", err)
	}
	stored, _ := store.Get(context.Background(), "owner_1")
	if stored == nil || stored.RefreshToken != "refresh-1" {
		t.Fatalf("expected previous refresh token to be kept, got %+v", stored)
	}
}

func TestValidTokenDeletesCredentialOnRevocation(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	endpoint.status = http.StatusBadRequest
	endpoint.body = `{"error": "invalid_grant", "error_description": "refresh token revoked"}`
	store := NewMemoryStore()
	now := time.Now()
	seedCredential(t, store, 90*time.Minute, now, "refresh-1")
	manager := newTestManager(t, store, endpoint, now)

	token, err := manager.ValidToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("expected revocation to be a normal outcome, got %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token after revocation, got %q", token)
	}
	stored, _ := store.Get(context.Background(), "owner_1")
	if stored != nil {
		t.Fatalf("expected revoked credential to be deleted, got %+v", stored)
	}
}

func TestValidTokenKeepsCredentialOnServerError(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	endpoint.status = http.StatusInternalServerError
	endpoint.body = `temporary failure`
	store := NewMemoryStore()
	now := time.Now()
	seedCredential(t, store, 90*time.Minute, now, "refresh-1")
	manager := newTestManager(t, store, endpoint, now)

	token, err := manager.ValidToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("expected transient failure to be swallowed, got %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token on transient failure, got %q", token)
	}
	stored, _ := store.Get(context.Background(), "owner_1")
	if stored == nil || stored.AccessToken != "stored-token" {
		t.Fatalf("expected credential to survive a transient failure, got %+v", stored)
	}
}

func TestValidTokenWithoutRefreshTokenReturnsStaleToken(t *testing.T) {
	endpoint := newTokenEndpoint(t)
	store := NewMemoryStore()
	now := time.Now()
	seedCredential(t, store, 3*time.Hour, now, "")
	manager := newTestManager(t, store, endpoint, now)

	token, err := manager.ValidToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("valid token failed: %v", err)
	}
	if token != "stored-token" {
		t.Fatalf("expected stale token without refresh token to be returned as-is, got %q", token)
	}
	if endpoint.callCount() != 0 {
		t.Fatalf("expected no refresh attempt without a refresh token, got %d", endpoint.callCount())
	}
}
