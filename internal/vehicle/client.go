// Package vehicle implements the client for the Volvo Connected Vehicle and
// Location APIs: VIN discovery and the telemetry endpoint calls the poller
// fans out.
package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mirrormods/volvobridge/internal/config"
)

// API base URLs.
const (
	ConnectedVehicleBase = "https://api.volvocars.com/connected-vehicle/v2"
	LocationBase         = "https://api.volvocars.com/location/v1"
)

// requestTimeout bounds each individual telemetry request so a hung endpoint
// cannot stall a whole poll cycle.
const requestTimeout = 20 * time.Second

// TokenSource provides the current access token for API authentication.
// It is implemented by the auth manager.
type TokenSource interface {
	AccessToken() string
}

// APIError describes a failed API call. It is recorded inline in snapshots
// rather than propagated, so partial data survives per-endpoint failures.
type APIError struct {
	// Status is the HTTP status code, 0 for transport-level failures.
	Status int `json:"status"`
	// Body is the raw response body when one was received.
	Body json.RawMessage `json:"body,omitempty"`
	// Message carries transport errors that produced no response.
	Message string `json:"message,omitempty"`
}

// Error returns a string representation of the API error.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: %s", e.Message)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, string(e.Body))
}

// IsUnauthorized reports whether the error is an HTTP 401.
func (e *APIError) IsUnauthorized() bool {
	return e != nil && e.Status == http.StatusUnauthorized
}

// Client calls the Volvo vehicle APIs. It resolves the bearer token per
// request through the TokenSource so a mid-cycle refresh is picked up by the
// retry pass without rebuilding the client.
type Client struct {
	httpClient *http.Client
	apiKey     string
	tokens     TokenSource

	cvBase  string
	locBase string
}

// NewClient constructs a vehicle API client.
//
// Parameters:
//   - cfg: The application configuration carrying the vcc-api-key
//   - tokens: The source of the current access token
//
// Returns:
//   - *Client: A new vehicle API client
func NewClient(cfg *config.Config, tokens TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		apiKey:     cfg.VCCAPIKey,
		tokens:     tokens,
		cvBase:     ConnectedVehicleBase,
		locBase:    LocationBase,
	}
}

// get performs an authenticated GET and returns the raw JSON body. Non-2xx
// responses and transport failures are returned as *APIError.
func (c *Client) get(ctx context.Context, url string) (json.RawMessage, *APIError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())
	req.Header.Set("vcc-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: normalizeErrorBody(body)}
	}
	return body, nil
}

// normalizeErrorBody keeps error bodies embeddable in a JSON snapshot. The
// vendor usually returns JSON, but gateways can answer with HTML or plain
// text; those are wrapped as a JSON string.
func normalizeErrorBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return body
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
