// Package auth owns the in-memory OAuth session of the bridge. The Manager
// is the only component allowed to mutate the current token set; everything
// else reads through it.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/mirrormods/volvobridge/internal/auth/volvo"
)

// ExpirySkew is subtracted from the token expiry claim when deciding whether
// a proactive refresh is due. Local and provider clocks drift, so the poller
// also handles 401s reactively.
const ExpirySkew = 60 * time.Second

// refreshKey coalesces all concurrent refresh attempts into one flight.
const refreshKey = "refresh"

// Manager owns the current token set, performs code and refresh exchanges
// through the Volvo auth service, and persists every successful exchange.
// All methods are safe for concurrent use.
type Manager struct {
	authSvc   *volvo.VolvoAuth
	tokenFile string

	mu     sync.RWMutex
	tokens *volvo.TokenStorage

	refreshGroup singleflight.Group

	// now is stubbed in tests.
	now func() time.Time
}

// NewManager constructs a manager around the given auth service, persisting
// token sets to tokenFile.
func NewManager(authSvc *volvo.VolvoAuth, tokenFile string) *Manager {
	return &Manager{
		authSvc:   authSvc,
		tokenFile: tokenFile,
		now:       time.Now,
	}
}

// LoadPersisted reads a previously persisted token set into memory. A
// missing file is not an error; the manager simply starts unauthenticated.
func (m *Manager) LoadPersisted() error {
	tokens, err := volvo.LoadTokenFromFile(m.tokenFile)
	if err != nil {
		return err
	}
	if tokens == nil {
		return nil
	}

	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()

	log.Infof("loaded persisted token set from %s", m.tokenFile)
	return nil
}

// HasValidTokens reports whether an access token is present. Liveness is not
// checked here; expiry is checked lazily before use via IsNearExpiry and the
// reactive 401 path.
func (m *Manager) HasValidTokens() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens != nil && m.tokens.AccessToken != ""
}

// AccessToken returns the current access token, or the empty string when
// unauthenticated.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.AccessToken
}

// ExchangeCode performs the authorization-code exchange and, on success,
// replaces the in-memory and persisted token set. On failure the prior set
// is retained.
func (m *Manager) ExchangeCode(ctx context.Context, code string, pkceCodes *volvo.PKCECodes) error {
	tokens, err := m.authSvc.ExchangeCodeForTokens(ctx, code, pkceCodes)
	if err != nil {
		return err
	}
	m.replaceTokens(tokens)
	log.Info("authorization code exchanged, token set replaced")
	return nil
}

// Refresh exchanges the stored refresh token for a new token set. Concurrent
// callers are coalesced into a single in-flight refresh; followers wait for
// the leader and share its result rather than rotating the refresh token a
// second time.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, shared := m.refreshGroup.Do(refreshKey, func() (interface{}, error) {
		m.mu.RLock()
		var refreshToken string
		if m.tokens != nil {
			refreshToken = m.tokens.RefreshToken
		}
		m.mu.RUnlock()

		tokens, errRefresh := m.authSvc.RefreshTokens(ctx, refreshToken)
		if errRefresh != nil {
			return nil, errRefresh
		}
		m.replaceTokens(tokens)
		log.Info("access token refreshed")
		return tokens, nil
	})
	if shared {
		log.Debug("refresh coalesced with an in-flight refresh")
	}
	return err
}

// IsNearExpiry decodes the expiry claim embedded in the access token (the
// base64 payload of a three-part dot-delimited token) and reports whether
// now >= exp - skew. Any decode failure means "unknown" and returns false so
// the poll proceeds without a pre-emptive refresh; the 401 path covers it.
func (m *Manager) IsNearExpiry(skew time.Duration) bool {
	m.mu.RLock()
	raw := ""
	if m.tokens != nil {
		raw = m.tokens.AccessToken
	}
	m.mu.RUnlock()

	exp, err := tokenExpiry(raw)
	if err != nil {
		log.Debugf("token expiry precheck skipped: %v", err)
		return false
	}
	return !m.now().Before(exp.Add(-skew))
}

// replaceTokens swaps the in-memory set and persists it. Persistence failure
// is logged but does not discard the in-memory set; the process keeps
// running on the fresh tokens.
func (m *Manager) replaceTokens(tokens *volvo.TokenStorage) {
	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()

	if err := tokens.SaveTokenToFile(m.tokenFile); err != nil {
		log.Errorf("failed to persist token set: %v", err)
	}
}

// tokenExpiry extracts the exp claim from a JWT-shaped access token.
func tokenExpiry(raw string) (time.Time, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("access token is not a three-part token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token payload: %w", err)
	}
	exp := gjson.GetBytes(payload, "exp")
	if !exp.Exists() || exp.Int() == 0 {
		return time.Time{}, fmt.Errorf("token payload carries no exp claim")
	}
	return time.Unix(exp.Int(), 0), nil
}
