package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

const (
	defaultBaseURL = "wss://api.elevenlabs.io"
	outputFormat   = "pcm_16000"
	sampleRate     = 16000
)

// TTSService streams speech from the ElevenLabs multi-stream-input WebSocket.
// Each utterance gets its own socket and context id.
type TTSService struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
	dialer  *websocket.Dialer
	log     *logger.Logger
}

// TTSConfig holds configuration for ElevenLabs
type TTSConfig struct {
	APIKey  string
	VoiceID string // e.g., "21m00Tcm4TlvDq8ikWAM" (Rachel)
	Model   string // e.g., "eleven_flash_v2_5"
	BaseURL string // defaults to wss://api.elevenlabs.io
}

// NewTTSService creates a new ElevenLabs TTS service
func NewTTSService(config TTSConfig) (*TTSService, error) {
	if config.APIKey == "" {
		return nil, services.MissingCredential("elevenlabs", "ELEVENLABS_API_KEY")
	}
	base := config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &TTSService{
		apiKey:  config.APIKey,
		voiceID: config.VoiceID,
		model:   config.Model,
		baseURL: base,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     logger.WithPrefix("ElevenLabsTTS"),
	}, nil
}

func (s *TTSService) Name() string { return "elevenlabs" }

func (s *TTSService) Close() error { return nil }

func (s *TTSService) Capabilities() services.Capability { return services.CapStreamTextToPCM }

func (s *TTSService) SampleRate() int { return sampleRate }

type textMessage struct {
	Text          string         `json:"text,omitempty"`
	ContextID     string         `json:"context_id"`
	VoiceSettings map[string]any `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
	CloseContext  bool           `json:"close_context,omitempty"`
}

type audioMessage struct {
	Audio     string `json:"audio"`
	IsFinal   bool   `json:"isFinal"`
	ContextID string `json:"contextId"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// Synthesize opens a socket, sends text with a flush and returns its audio.
func (s *TTSService) Synthesize(ctx context.Context, text string) (services.AudioStream, error) {
	params := url.Values{}
	params.Set("model_id", s.model)
	params.Set("output_format", outputFormat)
	wsURL := fmt.Sprintf("%s/v1/text-to-speech/%s/multi-stream-input?%s", s.baseURL, s.voiceID, params.Encode())

	header := http.Header{}
	header.Set("xi-api-key", s.apiKey)

	conn, resp, err := s.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, services.StatusError(s.Name(), "connect", resp.StatusCode, nil)
		}
		return nil, services.Classify(s.Name(), "connect", err)
	}

	contextID := uuid.New().String()
	stream := services.NewWSStream(s.Name(), conn, s.parser(contextID))

	// An initial space opens the context; the flush forces generation of the
	// whole text and closing the context makes the provider send isFinal.
	msgs := []textMessage{
		{Text: " ", ContextID: contextID, VoiceSettings: map[string]any{"stability": 0.5, "similarity_boost": 0.75}},
		{Text: text + " ", ContextID: contextID},
		{ContextID: contextID, Flush: true},
		{ContextID: contextID, CloseContext: true},
	}
	for _, m := range msgs {
		if err := stream.WriteJSON(m); err != nil {
			stream.Close()
			return nil, err
		}
	}
	s.log.Debug("Synthesizing %d chars (context: %s)", len(text), contextID)
	return stream, nil
}

func (s *TTSService) parser(contextID string) services.ChunkParser {
	return func(message []byte) ([]byte, bool, error) {
		var msg audioMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return nil, false, services.NewError(services.KindProtocol, s.Name(), "receive", err)
		}
		if msg.Error != "" {
			return nil, false, services.NewError(services.KindProtocol, s.Name(), "receive", fmt.Errorf("%s: %s", msg.Error, msg.Message))
		}
		if msg.ContextID != "" && msg.ContextID != contextID {
			s.log.Debug("Ignoring message from context %s", msg.ContextID)
			return nil, false, nil
		}
		var pcm []byte
		if msg.Audio != "" {
			var err error
			if pcm, err = base64.StdEncoding.DecodeString(msg.Audio); err != nil {
				return nil, false, services.NewError(services.KindProtocol, s.Name(), "receive", err)
			}
		}
		return pcm, msg.IsFinal, nil
	}
}
