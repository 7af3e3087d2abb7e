package vehicle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mirrormods/volvobridge/internal/config"
)

type staticTokens string

func (s staticTokens) AccessToken() string { return string(s) }

func newTestClient(serverURL string) *Client {
	c := NewClient(&config.Config{VCCAPIKey: "api-key"}, staticTokens("token-abc"))
	c.cvBase = serverURL
	c.locBase = serverURL + "/loc"
	return c
}

func TestResolveVehicle(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vehicles" {
			t.Errorf("path = %q, want /vehicles", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("vcc-api-key"); got != "api-key" {
			t.Errorf("vcc-api-key = %q", got)
		}
		_, _ = w.Write([]byte(`{"data":[{"vin":"YV1XZ1234","vehicleModel":"XC60"},{"vin":"YV1XZ9999"}]}`))
	}))
	defer server.Close()

	info, err := newTestClient(server.URL).ResolveVehicle(context.Background())
	if err != nil {
		t.Fatalf("ResolveVehicle() error = %v", err)
	}
	if info.VIN != "YV1XZ1234" {
		t.Errorf("VIN = %q, want first entry deterministically", info.VIN)
	}
	if info.DisplayName != "XC60" {
		t.Errorf("DisplayName = %q", info.DisplayName)
	}
}

func TestResolveVehicleNoneLinked(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ResolveVehicle(context.Background())
	if !errors.Is(err, ErrNoVehicleLinked) {
		t.Errorf("error = %v, want ErrNoVehicleLinked", err)
	}
}

func TestResolveVehicleUnauthorized(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"expired"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ResolveVehicle(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		t.Errorf("error = %v, want unauthorized APIError", err)
	}
}

func TestFetchTelemetry(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vehicles/VIN1/odometer":
			_, _ = w.Write([]byte(`{"data":{"odometer":{"value":12345,"unit":"km"}}}`))
		case "/loc/vehicles/VIN1/location":
			_, _ = w.Write([]byte(`{"data":{"geometry":{"coordinates":[12.9,57.7]}}}`))
		case "/vehicles/VIN1":
			_, _ = w.Write([]byte(`{"data":{"vin":"VIN1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown resource"}`))
		}
	}))
	t.Cleanup(server.Close)

	client := newTestClient(server.URL)

	tests := []struct {
		name    string
		ep      Endpoint
		wantErr bool
		want    string
	}{
		{"relative path endpoint", Endpoint{Name: "odometer", path: "odometer"}, false, `"value":12345`},
		{"details uses bare vehicle resource", Endpoint{Name: "details"}, false, `"vin":"VIN1"`},
		{"location uses location base", Endpoint{Name: "location", path: "location", location: true}, false, `coordinates`},
		{"missing resource records descriptor", Endpoint{Name: "tyres", path: "tyres"}, true, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := client.FetchTelemetry(context.Background(), tt.ep, "VIN1")
			if tt.wantErr {
				if result.Err == nil {
					t.Fatal("expected error descriptor, got success")
				}
				if result.Err.Status != http.StatusNotFound {
					t.Errorf("status = %d", result.Err.Status)
				}
				return
			}
			if result.Err != nil {
				t.Fatalf("unexpected error: %v", result.Err)
			}
			if !strings.Contains(string(result.Payload), tt.want) {
				t.Errorf("payload %s missing %q", result.Payload, tt.want)
			}
		})
	}
}

func TestEndpointResultMarshalJSON(t *testing.T) {
	t.Parallel()

	success := EndpointResult{Payload: json.RawMessage(`{"ok":true}`)}
	got, err := json.Marshal(success)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("success marshals to %s, want raw payload", got)
	}

	failure := EndpointResult{Err: &APIError{Status: 401, Body: json.RawMessage(`{"message":"expired"}`)}}
	got, err = json.Marshal(failure)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"error":{"status":401,"body":{"message":"expired"}}}`
	if string(got) != want {
		t.Errorf("failure marshals to %s, want %s", got, want)
	}
}

func TestNormalizeErrorBody(t *testing.T) {
	t.Parallel()

	if got := normalizeErrorBody([]byte(`{"a":1}`)); string(got) != `{"a":1}` {
		t.Errorf("JSON body altered: %s", got)
	}
	if got := normalizeErrorBody([]byte("gateway timeout @")); string(got) != `"gateway timeout @"` {
		t.Errorf("non-JSON body not quoted: %s", got)
	}
	if got := normalizeErrorBody(nil); got != nil {
		t.Errorf("empty body should stay nil, got %s", got)
	}
}
