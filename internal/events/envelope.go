// Package events is the Event Bus Producer and Consumer: a ChatEvent is
// published as UTF-8 JSON keyed by chat_id on a partitioned, ordered
// topic, and consumed by a single fixed-group-id consumer that inserts
// into the Message Store before broadcasting and acknowledging.
package events

import (
	"encoding/json"

	"github.com/chatcore/chatcore/internal/model"
)

// EncodeEvent serialises a ChatEvent to the wire payload used both as the
// bus value and as the WebSocket outbound frame payload.
func EncodeEvent(e model.ChatEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a bus payload back into a ChatEvent. A decode
// failure is the poison-pill case the consumer drops and acknowledges.
func DecodeEvent(data []byte) (model.ChatEvent, error) {
	var e model.ChatEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
