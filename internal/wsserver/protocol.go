// Package wsserver streams engine events to a local UI over a WebSocket.
//
// # Frame protocol
//
// Server to client: one JSON text frame per event,
//
//	{"type": "<event type>", "payload": {...}}
//
// Client to server: subscription requests,
//
//	{"action": "subscribe" | "unsubscribe", "types": ["completion", ...]}
//
// A connection that never subscribed receives every event type.
package wsserver

import (
	"encoding/json"
	"fmt"

	"keyflow/internal/events"
)

// Frame is the server-to-client envelope.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent builds the text frame for ev.
func EncodeEvent(ev events.Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("wsserver: encode event: nil event")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(Frame{Type: ev.Type(), Payload: payload})
}

// DecodeFrame parses a frame produced by EncodeEvent.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("wsserver: decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("wsserver: decode frame: missing type")
	}
	return f, nil
}
