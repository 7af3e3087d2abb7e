package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
)

// Endpoint names a single telemetry resource fetched each poll cycle.
type Endpoint struct {
	// Name keys the endpoint's entry in a snapshot.
	Name string
	// path is the request path relative to the vehicle, empty for the
	// vehicle details resource itself.
	path string
	// location selects the Location API base instead of Connected Vehicle.
	location bool
}

// TelemetryEndpoints lists every resource fetched per cycle. The set is
// fixed; per-cycle failures are isolated per endpoint, never fatal.
var TelemetryEndpoints = []Endpoint{
	{Name: "details"},
	{Name: "odometer", path: "odometer"},
	{Name: "statistics", path: "statistics"},
	{Name: "doors", path: "doors"},
	{Name: "fuel", path: "fuel"},
	{Name: "engineStatus", path: "engine-status"},
	{Name: "windows", path: "windows"},
	{Name: "tyres", path: "tyres"},
	{Name: "warnings", path: "warnings"},
	{Name: "location", path: "location", location: true},
	{Name: "diagnostics", path: "diagnostics"},
}

// EndpointResult is the outcome of one telemetry endpoint call: either a raw
// success payload or the error descriptor recorded for the snapshot.
type EndpointResult struct {
	Payload json.RawMessage
	Err     *APIError
}

// Unauthorized reports whether the result is a 401 error.
func (r EndpointResult) Unauthorized() bool {
	return r.Err.IsUnauthorized()
}

// MarshalJSON renders the success payload as-is, or wraps the error
// descriptor so the front end can render per-endpoint failures.
func (r EndpointResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]*APIError{"error": r.Err})
	}
	if r.Payload == nil {
		return []byte("null"), nil
	}
	return r.Payload, nil
}

// FetchTelemetry calls a single telemetry endpoint for the given VIN.
// Failures are returned inside the result, never as an error, so one bad
// endpoint cannot abort a poll cycle.
//
// Parameters:
//   - ctx: The context for the request
//   - ep: The endpoint to fetch
//   - vin: The resolved vehicle identifier
//
// Returns:
//   - EndpointResult: The payload or error descriptor for the snapshot
func (c *Client) FetchTelemetry(ctx context.Context, ep Endpoint, vin string) EndpointResult {
	base := c.cvBase
	if ep.location {
		base = c.locBase
	}

	url := fmt.Sprintf("%s/vehicles/%s", base, vin)
	if ep.path != "" {
		url = fmt.Sprintf("%s/%s", url, ep.path)
	}

	payload, apiErr := c.get(ctx, url)
	if apiErr != nil {
		return EndpointResult{Err: apiErr}
	}
	return EndpointResult{Payload: payload}
}
