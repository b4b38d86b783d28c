package services

import (
	"context"
	"io"
)

// AudioFormat describes PCM or container audio handed to a provider.
type AudioFormat struct {
	Container  string // "wav" or "raw"
	Encoding   string // "linear16"
	SampleRate int
	Channels   int
}

// WAV16kMono is the format every ASR service must accept.
var WAV16kMono = AudioFormat{Container: "wav", Encoding: "linear16", SampleRate: 16000, Channels: 1}

// AIService is the base interface for all provider clients
type AIService interface {
	// Name identifies the provider in logs
	Name() string

	// Close releases connections held by the client
	Close() error
}

// ASRService converts a complete utterance to text. An empty transcript
// with a nil error means nothing intelligible was said.
type ASRService interface {
	AIService
	Transcribe(ctx context.Context, audio []byte, format AudioFormat) (string, error)
}

// DialogResponse is the outcome of one dialog turn.
type DialogResponse struct {
	Text    string
	Context *LLMContext
}

// DialogService produces the assistant's reply to one user utterance.
// Implementations must not mutate dialog; they return the updated context.
type DialogService interface {
	AIService
	Respond(ctx context.Context, userText string, dialog *LLMContext) (*DialogResponse, error)
}

// Capability is a set of TTS shapes a provider supports.
type Capability uint8

const (
	// CapStreamTextToPCM: text in, a finite PCM chunk stream out.
	CapStreamTextToPCM Capability = 1 << iota
	// CapDuplexAudio: a long-lived stream taking caller PCM and returning reply PCM.
	CapDuplexAudio
)

// Has reports whether c includes all of other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	switch {
	case c.Has(CapStreamTextToPCM | CapDuplexAudio):
		return "stream_text_to_pcm,duplex_audio"
	case c.Has(CapStreamTextToPCM):
		return "stream_text_to_pcm"
	case c.Has(CapDuplexAudio):
		return "duplex_audio"
	default:
		return "none"
	}
}

// TTSService is any speech-output provider.
type TTSService interface {
	AIService
	Capabilities() Capability
}

// AudioStream is the lazy, finite PCM output of one utterance.
type AudioStream interface {
	// Next returns the next PCM16 chunk, or io.EOF after the provider's
	// end-of-utterance event. It honours ctx for per-chunk timeouts.
	Next(ctx context.Context) ([]byte, error)

	// Ping checks that the provider connection is still alive.
	Ping(ctx context.Context) error

	// Close ends the utterance and releases its connection.
	Close() error
}

// StreamingTTS synthesizes text into a PCM chunk stream.
type StreamingTTS interface {
	TTSService

	// SampleRate is the fixed rate of the PCM the provider emits.
	SampleRate() int

	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// DuplexEvent is one message from a realtime duplex provider.
type DuplexEvent struct {
	Audio        []byte // PCM16 at the provider's output rate
	Transcript   string
	TurnComplete bool
	Interrupted  bool
}

// DuplexSession is a live bidirectional audio conversation.
type DuplexSession interface {
	// SendAudio forwards caller PCM16 at the provider's input rate.
	SendAudio(pcm []byte) error

	// SendText injects a text prompt, e.g. to speak a greeting.
	SendText(text string) error

	// Receive blocks for the next event; io.EOF when the provider ends the session.
	Receive(ctx context.Context) (*DuplexEvent, error)

	io.Closer
}

// DuplexTTS is a realtime speech-to-speech provider with server-side turn detection.
type DuplexTTS interface {
	TTSService
	InputSampleRate() int
	OutputSampleRate() int
	Connect(ctx context.Context, systemPrompt string) (DuplexSession, error)
}
