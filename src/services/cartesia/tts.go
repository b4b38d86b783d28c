package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

const (
	defaultBaseURL  = "wss://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
	sampleRate      = 16000
)

// TTSService streams speech from the Cartesia WebSocket API.
type TTSService struct {
	apiKey   string
	voiceID  string
	model    string
	language string
	baseURL  string
	dialer   *websocket.Dialer
	log      *logger.Logger
}

// TTSConfig holds configuration for Cartesia TTS
type TTSConfig struct {
	APIKey   string
	VoiceID  string
	Model    string // e.g., "sonic-2"
	Language string // e.g., "en"
	BaseURL  string // defaults to wss://api.cartesia.ai
}

// NewTTSService creates a new Cartesia TTS service
func NewTTSService(config TTSConfig) (*TTSService, error) {
	if config.APIKey == "" {
		return nil, services.MissingCredential("cartesia", "CARTESIA_API_KEY")
	}
	model := config.Model
	if model == "" {
		model = "sonic-2"
	}
	language := config.Language
	if language == "" {
		language = "en"
	}
	base := config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &TTSService{
		apiKey:   config.APIKey,
		voiceID:  config.VoiceID,
		model:    model,
		language: language,
		baseURL:  base,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      logger.WithPrefix("CartesiaTTS"),
	}, nil
}

func (s *TTSService) Name() string { return "cartesia" }

func (s *TTSService) Close() error { return nil }

func (s *TTSService) Capabilities() services.Capability { return services.CapStreamTextToPCM }

func (s *TTSService) SampleRate() int { return sampleRate }

type voice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type generationRequest struct {
	Transcript   string       `json:"transcript"`
	Continue     bool         `json:"continue"`
	ContextID    string       `json:"context_id"`
	ModelID      string       `json:"model_id"`
	Voice        voice        `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language"`
}

type response struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
	Data      string `json:"data"`
	Done      bool   `json:"done"`
	Error     string `json:"error"`
}

// Synthesize sends the whole text as one finished transcript.
func (s *TTSService) Synthesize(ctx context.Context, text string) (services.AudioStream, error) {
	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("cartesia_version", cartesiaVersion)

	conn, resp, err := s.dialer.DialContext(ctx, s.baseURL+"/tts/websocket?"+params.Encode(), nil)
	if err != nil {
		if resp != nil {
			return nil, services.StatusError(s.Name(), "connect", resp.StatusCode, nil)
		}
		return nil, services.Classify(s.Name(), "connect", err)
	}

	contextID := uuid.New().String()
	stream := services.NewWSStream(s.Name(), conn, s.parser(contextID))

	req := generationRequest{
		Transcript:   text,
		Continue:     false,
		ContextID:    contextID,
		ModelID:      s.model,
		Voice:        voice{Mode: "id", ID: s.voiceID},
		OutputFormat: outputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: sampleRate},
		Language:     s.language,
	}
	if err := stream.WriteJSON(req); err != nil {
		stream.Close()
		return nil, err
	}
	s.log.Debug("Synthesizing %d chars (context: %s)", len(text), contextID)
	return stream, nil
}

func (s *TTSService) parser(contextID string) services.ChunkParser {
	return func(message []byte) ([]byte, bool, error) {
		var msg response
		if err := json.Unmarshal(message, &msg); err != nil {
			return nil, false, services.NewError(services.KindProtocol, s.Name(), "receive", err)
		}
		if msg.ContextID != "" && msg.ContextID != contextID {
			s.log.Debug("Ignoring message from old context %s", msg.ContextID)
			return nil, false, nil
		}

		switch msg.Type {
		case "chunk":
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return nil, false, services.NewError(services.KindProtocol, s.Name(), "receive", err)
			}
			return pcm, msg.Done, nil
		case "done":
			return nil, true, nil
		case "error":
			return nil, false, services.NewError(services.KindProtocol, s.Name(), "receive", fmt.Errorf("%s", msg.Error))
		default:
			// timestamps and other metadata
			return nil, false, nil
		}
	}
}
