// Package api mounts the externally reachable HTTP surface of the bridge:
// the OAuth login and callback routes, the liveness probe, the last-snapshot
// endpoint and the websocket used by the display front end.
package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/mirrormods/volvobridge/internal/auth"
	"github.com/mirrormods/volvobridge/internal/auth/volvo"
	"github.com/mirrormods/volvobridge/internal/config"
	"github.com/mirrormods/volvobridge/internal/logging"
	"github.com/mirrormods/volvobridge/internal/notify"
	"github.com/mirrormods/volvobridge/internal/poller"
)

// fallbackLoginPort is assumed when the redirect URI carries no usable port.
const fallbackLoginPort = 8765

// Server wires the HTTP routes to the auth manager and poller. It also owns
// the pending login attempt: exactly one state/PKCE pair may be in flight,
// and a callback consumes it exactly once.
type Server struct {
	cfg      *config.Config
	tokens   *auth.Manager
	authSvc  *volvo.VolvoAuth
	poll     *poller.Poller
	hub      *notify.Hub
	notifier notify.Notifier

	// onAuthenticated is invoked after a successful callback exchange so the
	// startup sequence (VIN discovery, poll schedule) can run.
	onAuthenticated func()

	mu           sync.Mutex
	pendingState string
	pendingPKCE  *volvo.PKCECodes

	mountOnce sync.Once
}

// NewServer constructs the HTTP server wiring.
func NewServer(cfg *config.Config, tokens *auth.Manager, authSvc *volvo.VolvoAuth, poll *poller.Poller, hub *notify.Hub, onAuthenticated func()) *Server {
	return &Server{
		cfg:             cfg,
		tokens:          tokens,
		authSvc:         authSvc,
		poll:            poll,
		hub:             hub,
		notifier:        hub,
		onAuthenticated: onAuthenticated,
	}
}

// Register mounts all routes on the engine. Multiple calls are idempotent;
// only the first mounts.
func (s *Server) Register(engine *gin.Engine) {
	s.mountOnce.Do(func() {
		engine.GET("/login", s.handleLogin)
		engine.GET("/callback", s.handleCallback)
		engine.GET("/ping", s.handlePing)
		engine.GET("/snapshot", s.handleSnapshot)
		engine.GET("/ws", s.hub.HandleWS)
		log.Info("auth endpoints mounted: GET /login, GET /callback")
	})
}

// NewEngine builds a gin engine with the bridge's logging middleware.
func NewEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinRecovery(), logging.GinLogrusLogger())
	return engine
}

// LoginURL derives the local login URL a browser should be pointed at,
// using the port embedded in the configured redirect URI.
func (s *Server) LoginURL() string {
	return fmt.Sprintf("http://localhost:%d/login", portFromRedirect(s.cfg.RedirectURI))
}

// portFromRedirect extracts the port of the redirect URI, defaulting to 80
// for portless URIs and to fallbackLoginPort for unparseable ones.
func portFromRedirect(redirectURI string) int {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Host == "" {
		return fallbackLoginPort
	}
	if p := u.Port(); p != "" {
		var port int
		if _, err = fmt.Sscanf(p, "%d", &port); err == nil && port > 0 {
			return port
		}
		return fallbackLoginPort
	}
	return 80
}

// handleLogin starts a fresh login attempt and redirects the user agent to
// the Volvo ID authorize URL. Any prior pending attempt is discarded: only
// one login may be in flight.
func (s *Server) handleLogin(c *gin.Context) {
	if !s.cfg.HasLoginConfig() {
		c.String(http.StatusInternalServerError, "Config missing: clientId / redirectUri / scopes.")
		return
	}

	state, err := volvo.GenerateRandomState(16)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate login state.")
		return
	}
	pkceCodes, err := volvo.GeneratePKCECodes()
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate PKCE codes.")
		return
	}

	authURL, err := s.authSvc.GenerateAuthURL(state, pkceCodes)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to build authorize URL: %v", err)
		return
	}

	s.mu.Lock()
	s.pendingState = state
	s.pendingPKCE = pkceCodes
	s.mu.Unlock()

	c.Redirect(http.StatusFound, authURL)
}

// handleCallback completes the login attempt. The pending PKCE pair is
// consumed exactly once and discarded regardless of outcome; a state
// mismatch is rejected before any token exchange is attempted.
func (s *Server) handleCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	oauthErr := c.Query("error")
	oauthErrDesc := c.Query("error_description")

	s.mu.Lock()
	pendingState := s.pendingState
	pendingPKCE := s.pendingPKCE
	s.pendingState = ""
	s.pendingPKCE = nil
	s.mu.Unlock()

	fail := func(reason string, err error) {
		log.WithField("request_id", logging.GetRequestID(c.Request.Context())).
			Errorf("oauth callback error: %s: %v", reason, err)
		c.String(http.StatusInternalServerError, "Auth failed. Check the bridge logs.")
		s.notifier.Status("Auth failed")
	}

	if oauthErr != "" {
		fail("provider reported error", volvo.NewOAuthError(oauthErr, oauthErrDesc, http.StatusBadRequest))
		return
	}
	if code == "" {
		fail("authorization code missing", nil)
		return
	}
	if pendingPKCE == nil || state == "" || state != pendingState {
		fail("state mismatch", volvo.NewAuthenticationError(volvo.ErrInvalidState,
			fmt.Errorf("expected pending state, got %q", state)))
		return
	}

	if err := s.tokens.ExchangeCode(c.Request.Context(), code, pendingPKCE); err != nil {
		fail("code exchange failed", err)
		return
	}

	c.String(http.StatusOK, "VolvoConnect: Login successful. You can close this tab.")
	s.notifier.Status("Authenticated")

	if s.onAuthenticated != nil {
		go s.onAuthenticated()
	}
}

// handlePing is the liveness probe.
func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// handleSnapshot serves the last emitted snapshot for late-joining front
// ends polling over plain HTTP.
func (s *Server) handleSnapshot(c *gin.Context) {
	snapshot := s.poll.LastSnapshot()
	if snapshot == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
