package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mirrormods/volvobridge/internal/auth"
	"github.com/mirrormods/volvobridge/internal/auth/volvo"
	"github.com/mirrormods/volvobridge/internal/config"
	"github.com/mirrormods/volvobridge/internal/notify"
	"github.com/mirrormods/volvobridge/internal/poller"
)

// recordingNotifier captures status emissions without a websocket.
type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recordingNotifier) Status(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, message)
}

func (r *recordingNotifier) Data(any) {}

func (r *recordingNotifier) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		ClientID:     "c",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8080/cb",
		Scopes:       "s",
	}
}

type serverFixture struct {
	server   *Server
	engine   *gin.Engine
	notifier *recordingNotifier
	authSvc  *volvo.VolvoAuth
}

func newFixture(t *testing.T, cfg *config.Config, onAuthenticated func()) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authSvc := volvo.NewVolvoAuth(cfg)
	tokens := auth.NewManager(authSvc, filepath.Join(t.TempDir(), "tokens.json"))
	hub := notify.NewHub()
	poll := poller.New(nil, tokens, hub)

	s := NewServer(cfg, tokens, authSvc, poll, hub, onAuthenticated)
	notifier := &recordingNotifier{}
	s.notifier = notifier

	engine := gin.New()
	s.Register(engine)

	return &serverFixture{server: s, engine: engine, notifier: notifier, authSvc: authSvc}
}

func (f *serverFixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.engine.ServeHTTP(w, req)
	return w
}

func TestLoginRedirectsToAuthorizeURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), nil)
	w := f.get("/login")

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	location := w.Header().Get("Location")
	for _, want := range []string{
		"response_type=code",
		"client_id=c",
		"redirect_uri=http%3A%2F%2Flocalhost%3A8080%2Fcb",
		"code_challenge_method=S256",
	} {
		if !strings.Contains(location, want) {
			t.Errorf("authorize redirect missing %q:\n%s", want, location)
		}
	}

	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if f.server.pendingState == "" || f.server.pendingPKCE == nil {
		t.Error("login did not record a pending state/PKCE pair")
	}
	if !strings.Contains(location, "state="+f.server.pendingState) {
		t.Error("redirect state differs from the recorded pending state")
	}
}

func TestLoginRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ClientID = ""
	f := newFixture(t, cfg, nil)

	w := f.get("/login")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Config missing") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestLoginDiscardsPriorAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), nil)

	f.get("/login")
	f.server.mu.Lock()
	firstState := f.server.pendingState
	f.server.mu.Unlock()

	f.get("/login")
	f.server.mu.Lock()
	secondState := f.server.pendingState
	f.server.mu.Unlock()

	if firstState == secondState {
		t.Error("second login reused the first attempt's state")
	}
}

func TestCallbackStateMismatchNeverExchanges(t *testing.T) {
	t.Parallel()

	var exchanges atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		exchanges.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer tokenServer.Close()

	f := newFixture(t, testConfig(), nil)
	f.authSvc.TokenEndpoint = tokenServer.URL

	pkce, _ := volvo.GeneratePKCECodes()
	f.server.mu.Lock()
	f.server.pendingState = "expected"
	f.server.pendingPKCE = pkce
	f.server.mu.Unlock()

	w := f.get("/callback?code=abc&state=forged")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Auth failed") {
		t.Errorf("body = %q", w.Body.String())
	}
	if got := exchanges.Load(); got != 0 {
		t.Errorf("token endpoint hit %d times, want 0 — mismatch must reject before any exchange", got)
	}
	if f.notifier.last() != "Auth failed" {
		t.Errorf("last status = %q, want Auth failed", f.notifier.last())
	}
}

func TestCallbackWithoutPendingAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), nil)
	w := f.get("/callback?code=abc&state=anything")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 when no login attempt is pending", w.Code)
	}
}

func TestCallbackProviderError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), nil)
	w := f.get("/callback?error=access_denied&error_description=user+cancelled")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if f.notifier.last() != "Auth failed" {
		t.Errorf("last status = %q, want Auth failed", f.notifier.last())
	}
}

func TestCallbackSuccess(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":1800}`))
	}))
	defer tokenServer.Close()

	authenticated := make(chan struct{})
	f := newFixture(t, testConfig(), func() { close(authenticated) })
	f.authSvc.TokenEndpoint = tokenServer.URL

	pkce, _ := volvo.GeneratePKCECodes()
	f.server.mu.Lock()
	f.server.pendingState = "expected"
	f.server.pendingPKCE = pkce
	f.server.mu.Unlock()

	w := f.get("/callback?code=abc&state=expected")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Login successful") {
		t.Errorf("body = %q", w.Body.String())
	}
	if f.notifier.last() != "Authenticated" {
		t.Errorf("last status = %q, want Authenticated", f.notifier.last())
	}
	if !f.server.tokens.HasValidTokens() {
		t.Error("manager has no tokens after a successful callback")
	}
	<-authenticated

	// The pair is consumed; replaying the same callback must fail.
	f.server.mu.Lock()
	if f.server.pendingPKCE != nil || f.server.pendingState != "" {
		t.Error("pending attempt not consumed by the callback")
	}
	f.server.mu.Unlock()
	if w = f.get("/callback?code=abc&state=expected"); w.Code != http.StatusInternalServerError {
		t.Errorf("replayed callback status = %d, want 500", w.Code)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), nil)
	w := f.get("/ping")
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("ping = %d %q", w.Code, w.Body.String())
	}
}

func TestSnapshotEmptyIs204(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), nil)
	w := f.get("/snapshot")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 before any poll cycle", w.Code)
	}
}

func TestPortFromRedirect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri  string
		want int
	}{
		{"http://localhost:8765/callback", 8765},
		{"http://localhost:8080/cb", 8080},
		{"http://localhost/callback", 80},
		{"", 8765},
		{"://bad", 8765},
	}
	for _, tt := range tests {
		if got := portFromRedirect(tt.uri); got != tt.want {
			t.Errorf("portFromRedirect(%q) = %d, want %d", tt.uri, got, tt.want)
		}
	}
}
