// Package notify carries poller snapshots and status changes to the
// presentation layer. The display front end connects over a websocket and
// receives a stream of typed message envelopes.
package notify

// Message represents the JSON payload pushed to websocket clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	// MessageTypeStatus carries a human-readable state change.
	MessageTypeStatus = "STATUS"
	// MessageTypeData carries a telemetry snapshot.
	MessageTypeData = "DATA"
)

// StatusPayload is the payload of a STATUS message.
type StatusPayload struct {
	Message string `json:"message"`
}

// Notifier is the channel by which snapshots and status changes reach the
// presentation layer.
type Notifier interface {
	// Status emits a human-readable state change.
	Status(message string)
	// Data emits a telemetry snapshot. Ownership of the snapshot transfers
	// to the notifier; callers must not mutate it afterwards.
	Data(snapshot any)
}
