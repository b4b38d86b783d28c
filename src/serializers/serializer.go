package serializers

import (
	"errors"

	"github.com/square-key-labs/strawgo-bridge/src/frames"
)

// EventType is the kind of a carrier media-stream event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventMark      EventType = "mark"
	EventDTMF      EventType = "dtmf"
	EventUnknown   EventType = "unknown"
)

// ErrMalformedEvent wraps payloads that are not valid carrier JSON.
var ErrMalformedEvent = errors.New("malformed carrier event")

// Event is one inbound carrier event. Only the fields relevant to Type are set.
type Event struct {
	Type EventType
	// Name is the raw event name, kept for Unknown events.
	Name string

	StreamSid        string
	CallSid          string
	PhoneNumber      string
	CustomParameters map[string]string

	// Payload is the base64 µ-law media payload.
	Payload        string
	Track          string
	SequenceNumber string

	MarkName string
	Digit    string
}

// FrameSerializer converts between a carrier's wire protocol and typed values.
// Implementations are stateless and safe for concurrent use.
type FrameSerializer interface {
	// Deserialize parses one inbound text message.
	Deserialize(data []byte) (*Event, error)

	// SerializeMedia renders one outbound frame envelope.
	SerializeMedia(streamSid string, frame frames.Frame) ([]byte, error)

	// SerializeMark renders a playback marker.
	SerializeMark(streamSid, name string) ([]byte, error)

	// SerializeClear renders a request to drop audio buffered at the carrier.
	SerializeClear(streamSid string) ([]byte, error)
}
