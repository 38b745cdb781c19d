package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultFreshnessWindow is how long an access token is trusted before a
// refresh is attempted. The tracker does not expose the real expiry on the
// stored record, so a fixed window stands in for it.
const DefaultFreshnessWindow = time.Hour

type Logger interface {
	Printf(format string, args ...any)
}

type ManagerOptions struct {
	Store           Store
	OAuth           *oauth2.Config
	FreshnessWindow time.Duration
	Logger          Logger
	Now             func() time.Time
}

// Manager hands out usable access tokens, refreshing stale ones through the
// tracker's token endpoint.
type Manager struct {
	store  Store
	oauth  *oauth2.Config
	window time.Duration
	logger Logger
	now    func() time.Time
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	window := opts.FreshnessWindow
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:  opts.Store,
		oauth:  opts.OAuth,
		window: window,
		logger: opts.Logger,
		now:    now,
	}, nil
}

// ValidToken returns a usable access token for the owner, or "" when the
// owner has no usable credential. "" with a nil error means the owner must
// connect (or reconnect) the tracker; it is not a failure.
//
// A stale credential with a refresh token triggers exactly one refresh
// exchange. When the exchange is rejected as unauthorized the stored
// credential is deleted so the owner is routed back through authorization;
// any other refresh failure leaves it in place for a later retry.
func (m *Manager) ValidToken(ctx context.Context, ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", ErrInvalidInput
	}
	cred, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}

	age := m.now().Sub(cred.ObtainedAt)
	if age <= m.window {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		// Nothing to exchange; the stale token may still be honored.
		return cred.AccessToken, nil
	}

	token, err := m.refresh(ctx, cred.RefreshToken)
	if err != nil {
		if isAuthorizationError(err) {
			m.logf("credential for %s rejected on refresh, removing: %v", ownerID, err)
			if delErr := m.store.Delete(ctx, ownerID); delErr != nil {
				return "", delErr
			}
			return "", nil
		}
		m.logf("credential refresh for %s failed, keeping stored credential: %v", ownerID, err)
		return "", nil
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	next := &Credential{
		OwnerID:      ownerID,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ObtainedAt:   m.now(),
	}
	if err := m.store.Put(ctx, next); err != nil {
		return "", err
	}
	return next.AccessToken, nil
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if m.oauth == nil {
		return nil, fmt.Errorf("oauth config is not set")
	}
	source := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return source.Token()
}

func isAuthorizationError(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	switch retrieveErr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	if retrieveErr.Response == nil {
		return false
	}
	switch retrieveErr.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
