package transports

import (
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/square-key-labs/strawgo-bridge/src/serializers"
)

// StreamURL builds the media-stream WebSocket URL for host and path.
func StreamURL(host, path string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://"), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "wss://" + host + path
}

// VoiceWebhook returns the TwiML answering an inbound call: connect the
// call to a bidirectional media stream and pass the caller number along.
func VoiceWebhook(streamURL, from string) (string, error) {
	param := &twiml.VoiceParameter{Name: serializers.PhoneNumberParameter, Value: from}
	stream := &twiml.VoiceStream{Url: streamURL, InnerElements: []twiml.Element{param}}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}
