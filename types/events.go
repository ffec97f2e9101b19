package types

import (
	"encoding/json"
	"fmt"
)

// MessageEventType mirrors the protocol message tag, plus the connection
// lifecycle events that have no device message behind them.
type MessageEventType int

const (
	EventUnknown MessageEventType = iota
	EventFeatures
	EventPublicKey
	EventPinMatrixRequest
	EventButtonRequest
	EventEntropyRequest
	EventCipheredKeyValue
	EventSuccess
	EventFailure

	EventDeviceAttached
	EventDeviceConnected
	EventDeviceDisconnected
	EventDeviceFailed
)

var eventTypeNames = [...]string{
	EventUnknown:            "UNKNOWN",
	EventFeatures:           "FEATURES",
	EventPublicKey:          "PUBLIC_KEY",
	EventPinMatrixRequest:   "PIN_MATRIX_REQUEST",
	EventButtonRequest:      "BUTTON_REQUEST",
	EventEntropyRequest:     "ENTROPY_REQUEST",
	EventCipheredKeyValue:   "CIPHERED_KEY_VALUE",
	EventSuccess:            "SUCCESS",
	EventFailure:            "FAILURE",
	EventDeviceAttached:     "DEVICE_ATTACHED",
	EventDeviceConnected:    "DEVICE_CONNECTED",
	EventDeviceDisconnected: "DEVICE_DISCONNECTED",
	EventDeviceFailed:       "DEVICE_FAILED",
}

func (t MessageEventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("MessageEventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

func (t MessageEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *MessageEventType) UnmarshalText(b []byte) error {
	for i, name := range eventTypeNames {
		if name == string(b) {
			*t = MessageEventType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown message event type %q", string(b))
}

// EventTypeFor maps a device reply to the event type it is published as.
func EventTypeFor(m Message) MessageEventType {
	switch m.(type) {
	case *Features:
		return EventFeatures
	case *PublicKey:
		return EventPublicKey
	case *PinMatrixRequest:
		return EventPinMatrixRequest
	case *ButtonRequest:
		return EventButtonRequest
	case *EntropyRequest:
		return EventEntropyRequest
	case *CipheredKeyValue:
		return EventCipheredKeyValue
	case *Success:
		return EventSuccess
	case *Failure:
		return EventFailure
	default:
		return EventUnknown
	}
}

// MessageEvent pairs an event type with its optional payload.
// Message is nil for events without one.
type MessageEvent struct {
	Type    MessageEventType
	Message Message
}

// NewMessageEvent wraps a device reply.
func NewMessageEvent(m Message) MessageEvent {
	return MessageEvent{
		Type:    EventTypeFor(m),
		Message: m,
	}
}

func (e MessageEvent) String() string {
	if e.Message == nil {
		return e.Type.String()
	}
	return fmt.Sprintf("%s %+v", e.Type, e.Message)
}

func (e MessageEvent) MarshalJSON() ([]byte, error) {
	type jsonEvent struct {
		Type    MessageEventType `json:"type"`
		Payload Message          `json:"payload,omitempty"`
	}
	return json.Marshal(jsonEvent{
		Type:    e.Type,
		Payload: e.Message,
	})
}
