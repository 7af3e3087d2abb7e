package vehicle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ErrNoVehicleLinked indicates the account has no vehicles attached; the
// caller retries on the next schedule tick.
var ErrNoVehicleLinked = errors.New("no vehicles linked to this account")

// Info identifies the vehicle all telemetry calls are made for.
type Info struct {
	// VIN is the vehicle identification number used in every telemetry path.
	VIN string `json:"vin"`
	// DisplayName is the model or description reported by the listing, used
	// for status messages only.
	DisplayName string `json:"displayName"`
}

// ResolveVehicle discovers the account's vehicle by calling the
// authenticated vehicles listing and taking the first entry
// deterministically. It does not retry; on a 401 the caller refreshes the
// token set and retries exactly once.
//
// Parameters:
//   - ctx: The context for the request
//
// Returns:
//   - *Info: The resolved vehicle
//   - error: ErrNoVehicleLinked for an empty list, *APIError otherwise
func (c *Client) ResolveVehicle(ctx context.Context) (*Info, error) {
	body, apiErr := c.get(ctx, c.cvBase+"/vehicles")
	if apiErr != nil {
		return nil, apiErr
	}

	// The listing shape is loose across API versions; gjson tolerates the
	// variants without a struct per version.
	list := gjson.GetBytes(body, "data")
	if !list.IsArray() || len(list.Array()) == 0 {
		return nil, ErrNoVehicleLinked
	}

	first := list.Array()[0]
	vin := first.Get("vin").String()
	if vin == "" {
		return nil, fmt.Errorf("vehicles listing entry carries no vin")
	}

	name := first.Get("vehicleModel").String()
	if name == "" {
		name = first.Get("description").String()
	}
	if name == "" {
		name = "Unknown"
	}

	log.Infof("VIN detected: %s (%s)", vin, name)
	return &Info{VIN: vin, DisplayName: name}, nil
}
