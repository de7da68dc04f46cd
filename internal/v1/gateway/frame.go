package gateway

import (
	"encoding/json"

	"github.com/collabgateway/gateway/internal/v1/events"
)

// frame is the wire envelope for every message in both directions: a string
// event name and an opaque JSON payload.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// marshalFrameJSON serializes name/payload into a complete wire frame.
func marshalFrameJSON(name events.Name, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: string(name), Payload: data})
}
