package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

// WhisperService transcribes utterances with the OpenAI transcription endpoint.
type WhisperService struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// WhisperConfig holds configuration for OpenAI transcription
type WhisperConfig struct {
	APIKey     string
	Model      string // e.g., "whisper-1"
	BaseURL    string
	HTTPClient *http.Client
}

// NewWhisperService creates a new transcription service
func NewWhisperService(config WhisperConfig) (*WhisperService, error) {
	if config.APIKey == "" {
		return nil, services.MissingCredential("openai-whisper", "OPENAI_API_KEY")
	}
	model := config.Model
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperService{
		apiKey:  config.APIKey,
		model:   model,
		baseURL: baseURL(config.BaseURL),
		client:  httpClient(config.HTTPClient),
		log:     logger.WithPrefix("Whisper"),
	}, nil
}

func (s *WhisperService) Name() string { return "openai-whisper" }

func (s *WhisperService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Transcribe uploads one WAV utterance as multipart form data.
func (s *WhisperService) Transcribe(ctx context.Context, audio []byte, format services.AudioFormat) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model", s.model)
	_ = mw.WriteField("response_format", "json")
	part, err := mw.CreateFormFile("file", "utterance."+format.Container)
	if err != nil {
		return "", services.NewError(services.KindInternal, s.Name(), "transcribe", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", services.NewError(services.KindInternal, s.Name(), "transcribe", err)
	}
	if err := mw.Close(); err != nil {
		return "", services.NewError(services.KindInternal, s.Name(), "transcribe", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", services.NewError(services.KindInternal, s.Name(), "transcribe", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", services.Classify(s.Name(), "transcribe", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Classify(s.Name(), "transcribe", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", services.StatusError(s.Name(), "transcribe", resp.StatusCode, b)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &parsed); err != nil {
		return "", services.NewError(services.KindProtocol, s.Name(), "transcribe", err)
	}
	s.log.Debug("Transcript: %q", parsed.Text)
	return strings.TrimSpace(parsed.Text), nil
}
