package serializers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/square-key-labs/strawgo-bridge/src/frames"
)

// PhoneNumberParameter is the custom parameter carrying the caller's number.
const PhoneNumberParameter = "phone_number"

// TwilioFrameSerializer handles Twilio Media Streams WebSocket protocol
type TwilioFrameSerializer struct{}

// Twilio message structures
type twilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Media          *twilioMedia `json:"media,omitempty"`
	Start          *twilioStart `json:"start,omitempty"`
	Mark           *twilioMark  `json:"mark,omitempty"`
	DTMF           *twilioDTMF  `json:"dtmf,omitempty"`
}

type twilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64-encoded mulaw audio
}

type twilioStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type twilioMark struct {
	Name string `json:"name"`
}

type twilioDTMF struct {
	Digit string `json:"digit"`
}

// NewTwilioFrameSerializer creates a new Twilio serializer
func NewTwilioFrameSerializer() *TwilioFrameSerializer {
	return &TwilioFrameSerializer{}
}

// Deserialize converts one Twilio WebSocket JSON message to an Event.
// Unrecognised event names yield EventUnknown without error.
func (s *TwilioFrameSerializer) Deserialize(data []byte) (*Event, error) {
	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := &Event{
		Name:           msg.Event,
		StreamSid:      msg.StreamSid,
		SequenceNumber: msg.SequenceNumber,
	}

	switch EventType(msg.Event) {
	case EventConnected:
		ev.Type = EventConnected

	case EventStart:
		if msg.Start == nil || msg.Start.StreamSid == "" {
			return nil, fmt.Errorf("%w: start event missing streamSid", ErrMalformedEvent)
		}
		ev.Type = EventStart
		ev.StreamSid = msg.Start.StreamSid
		ev.CallSid = msg.Start.CallSid
		ev.CustomParameters = msg.Start.CustomParameters
		ev.PhoneNumber = msg.Start.CustomParameters[PhoneNumberParameter]

	case EventMedia:
		if msg.Media == nil {
			return nil, fmt.Errorf("%w: media event missing media data", ErrMalformedEvent)
		}
		ev.Type = EventMedia
		ev.Payload = msg.Media.Payload
		ev.Track = msg.Media.Track

	case EventStop:
		ev.Type = EventStop

	case EventMark:
		ev.Type = EventMark
		if msg.Mark != nil {
			ev.MarkName = msg.Mark.Name
		}

	case EventDTMF:
		ev.Type = EventDTMF
		if msg.DTMF != nil {
			ev.Digit = msg.DTMF.Digit
		}

	default:
		ev.Type = EventUnknown
	}
	return ev, nil
}

// SerializeMedia renders {"event":"media","streamSid":..,"media":{"payload":..}}.
func (s *TwilioFrameSerializer) SerializeMedia(streamSid string, frame frames.Frame) ([]byte, error) {
	msg := twilioMessage{
		Event:     string(EventMedia),
		StreamSid: streamSid,
		Media: &twilioMedia{
			Payload: base64.StdEncoding.EncodeToString(frame[:]),
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Twilio media message: %w", err)
	}
	return data, nil
}

// SerializeMark renders a mark event that Twilio echoes back once playback reaches it.
func (s *TwilioFrameSerializer) SerializeMark(streamSid, name string) ([]byte, error) {
	data, err := json.Marshal(twilioMessage{
		Event:     string(EventMark),
		StreamSid: streamSid,
		Mark:      &twilioMark{Name: name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Twilio mark message: %w", err)
	}
	return data, nil
}

// SerializeClear renders a clear event to stop audio playback
func (s *TwilioFrameSerializer) SerializeClear(streamSid string) ([]byte, error) {
	data, err := json.Marshal(twilioMessage{
		Event:     "clear",
		StreamSid: streamSid,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Twilio clear message: %w", err)
	}
	return data, nil
}
