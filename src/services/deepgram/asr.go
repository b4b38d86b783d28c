package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/square-key-labs/strawgo-bridge/src/logger"
	"github.com/square-key-labs/strawgo-bridge/src/services"
)

const defaultBaseURL = "https://api.deepgram.com"

// ASRService transcribes complete utterances with Deepgram's prerecorded API.
type ASRService struct {
	apiKey   string
	model    string
	language string
	baseURL  string
	client   *http.Client
	log      *logger.Logger
}

// ASRConfig holds configuration for Deepgram
type ASRConfig struct {
	APIKey     string
	Model      string // e.g., "nova-2"
	Language   string // e.g., "en"
	BaseURL    string // defaults to https://api.deepgram.com
	HTTPClient *http.Client
}

// NewASRService creates a new Deepgram ASR service
func NewASRService(config ASRConfig) (*ASRService, error) {
	if config.APIKey == "" {
		return nil, services.MissingCredential("deepgram", "DEEPGRAM_API_KEY")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &ASRService{
		apiKey:   config.APIKey,
		model:    config.Model,
		language: config.Language,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		log:      logger.WithPrefix("DeepgramASR"),
	}, nil
}

func (s *ASRService) Name() string { return "deepgram" }

func (s *ASRService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe posts one utterance and returns the top alternative.
func (s *ASRService) Transcribe(ctx context.Context, audio []byte, format services.AudioFormat) (string, error) {
	params := url.Values{}
	if s.model != "" {
		params.Set("model", s.model)
	}
	if s.language != "" {
		params.Set("language", s.language)
	}
	params.Set("smart_format", "true")
	if format.Container == "raw" {
		params.Set("encoding", format.Encoding)
		params.Set("sample_rate", fmt.Sprint(format.SampleRate))
		params.Set("channels", fmt.Sprint(format.Channels))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/listen?"+params.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", services.NewError(services.KindInternal, s.Name(), "transcribe", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	if format.Container == "wav" {
		req.Header.Set("Content-Type", "audio/wav")
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", services.Classify(s.Name(), "transcribe", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Classify(s.Name(), "transcribe", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", services.StatusError(s.Name(), "transcribe", resp.StatusCode, body)
	}

	var parsed listenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.NewError(services.KindProtocol, s.Name(), "transcribe", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		s.log.Debug("No alternatives in response")
		return "", nil
	}
	transcript := strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript)
	s.log.Debug("Transcript (%d bytes audio): %q", len(audio), transcript)
	return transcript, nil
}
