package volvo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mirrormods/volvobridge/internal/config"
)

// OAuth endpoint constants for Volvo ID.
const (
	AuthURL  = "https://volvoid.eu.volvocars.com/as/authorization.oauth2"
	TokenURL = "https://volvoid.eu.volvocars.com/as/token.oauth2"
)

// requestTimeout bounds every call to the token endpoint.
const requestTimeout = 20 * time.Second

// tokenResponse represents the response structure from the Volvo ID token
// endpoint for both the authorization-code and refresh-token grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// VolvoAuth handles the Volvo ID OAuth2 authentication flow. It provides
// methods for generating authorization URLs, exchanging codes for tokens,
// and refreshing expired tokens using PKCE for enhanced security.
type VolvoAuth struct {
	httpClient *http.Client
	cfg        *config.Config

	// AuthorizeURL and TokenEndpoint default to the production Volvo ID
	// endpoints; they are settable for other regions and for tests.
	AuthorizeURL  string
	TokenEndpoint string
}

// NewVolvoAuth creates a new Volvo ID authentication service.
//
// Parameters:
//   - cfg: The application configuration carrying the OAuth client settings
//
// Returns:
//   - *VolvoAuth: A new Volvo authentication service instance
func NewVolvoAuth(cfg *config.Config) *VolvoAuth {
	return &VolvoAuth{
		httpClient:    &http.Client{Timeout: requestTimeout},
		cfg:           cfg,
		AuthorizeURL:  AuthURL,
		TokenEndpoint: TokenURL,
	}
}

// GenerateAuthURL creates the OAuth authorization URL with PKCE.
//
// Parameters:
//   - state: A random state parameter for CSRF protection
//   - pkceCodes: The PKCE codes for secure code exchange
//
// Returns:
//   - string: The complete authorization URL
//   - error: An error if PKCE codes are missing or configuration is incomplete
func (o *VolvoAuth) GenerateAuthURL(state string, pkceCodes *PKCECodes) (string, error) {
	if pkceCodes == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}
	if !o.cfg.HasLoginConfig() {
		return "", fmt.Errorf("config missing: client-id / redirect-uri / scopes")
	}

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {o.cfg.ClientID},
		"redirect_uri":          {o.cfg.RedirectURI},
		"scope":                 {o.cfg.Scopes},
		"state":                 {state},
		"code_challenge":        {pkceCodes.CodeChallenge},
		"code_challenge_method": {"S256"},
	}

	return fmt.Sprintf("%s?%s", o.AuthorizeURL, params.Encode()), nil
}

// ExchangeCodeForTokens exchanges an authorization code for access tokens.
// Volvo ID expects a form-encoded body with the PKCE verifier and HTTP Basic
// client authentication built from clientId:clientSecret.
//
// Parameters:
//   - ctx: The context for the request
//   - code: The authorization code received from the OAuth callback
//   - pkceCodes: The PKCE codes matching the initiating authorize request
//
// Returns:
//   - *TokenStorage: The fully replaced token set
//   - error: An error if token exchange fails; the prior set is untouched
func (o *VolvoAuth) ExchangeCodeForTokens(ctx context.Context, code string, pkceCodes *PKCECodes) (*TokenStorage, error) {
	if pkceCodes == nil {
		return nil, fmt.Errorf("PKCE codes are required for token exchange")
	}
	if o.cfg.ClientID == "" || o.cfg.ClientSecret == "" || o.cfg.RedirectURI == "" {
		return nil, fmt.Errorf("config missing: client-id / client-secret / redirect-uri")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {o.cfg.RedirectURI},
		"code_verifier": {pkceCodes.CodeVerifier},
	}

	tokenResp, err := o.postTokenRequest(ctx, form)
	if err != nil {
		return nil, NewAuthenticationError(ErrCodeExchangeFailed, err)
	}
	return storageFromResponse(tokenResp), nil
}

// RefreshTokens exchanges a refresh token for a new access token. Volvo ID
// may rotate the refresh token; whatever is returned fully replaces the
// stored set.
//
// Parameters:
//   - ctx: The context for the request
//   - refreshToken: The refresh token to use
//
// Returns:
//   - *TokenStorage: The new token set
//   - error: An error if token refresh fails
func (o *VolvoAuth) RefreshTokens(ctx context.Context, refreshToken string) (*TokenStorage, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	tokenResp, err := o.postTokenRequest(ctx, form)
	if err != nil {
		return nil, NewAuthenticationError(ErrRefreshFailed, err)
	}
	return storageFromResponse(tokenResp), nil
}

// postTokenRequest performs a single call against the token endpoint and
// decodes the response. Non-2xx responses surface the status and body for
// diagnostics.
func (o *VolvoAuth) postTokenRequest(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(o.cfg.ClientID, o.cfg.ClientSecret)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		oauthErr := &OAuthError{StatusCode: resp.StatusCode, Body: string(body)}
		if err = json.Unmarshal(body, oauthErr); err != nil || oauthErr.Code == "" {
			oauthErr.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return nil, fmt.Errorf("token endpoint returned status %d: %w", resp.StatusCode, oauthErr)
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response contains no access token")
	}
	return &tokenResp, nil
}

// storageFromResponse converts a token endpoint response into the persisted
// token set shape.
func storageFromResponse(resp *tokenResponse) *TokenStorage {
	return &TokenStorage{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		LastRefresh:  time.Now().Format(time.RFC3339),
	}
}
